package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"teleview/internal/invite"
	"teleview/internal/wire"
)

// Backend is the request/response client for the external service of
// record: the degraded chat path plus invitation and collaborator plumbing.
type Backend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewBackend creates a REST client for the service at baseURL.
func NewBackend(baseURL, token string) *Backend {
	return &Backend{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Messages lists the recent chat log for an image.
func (b *Backend) Messages(ctx context.Context, imageRef string) ([]wire.Message, error) {
	var out []wire.Message
	err := b.do(ctx, http.MethodGet, "/images/"+url.PathEscape(imageRef)+"/messages", nil, &out)
	return out, err
}

// SendMessage posts a chat message over the degraded path and returns the
// stored message for immediate local append.
func (b *Backend) SendMessage(ctx context.Context, imageRef, content string) (wire.Message, error) {
	var out wire.Message
	err := b.do(ctx, http.MethodPost, "/images/"+url.PathEscape(imageRef)+"/messages",
		map[string]string{"content": content}, &out)
	return out, err
}

// Collaborators lists the collaborator ids for an image.
func (b *Backend) Collaborators(ctx context.Context, imageRef string) ([]string, error) {
	var out []string
	err := b.do(ctx, http.MethodGet, "/images/"+url.PathEscape(imageRef)+"/collaborators", nil, &out)
	return out, err
}

// Invitations lists the invitations visible to the caller.
func (b *Backend) Invitations(ctx context.Context) ([]invite.Invitation, error) {
	var out []invite.Invitation
	err := b.do(ctx, http.MethodGet, "/invitations", nil, &out)
	return out, err
}

// CreateInvitation invites a specialist to an image.
func (b *Backend) CreateInvitation(ctx context.Context, imageRef, inviteeID string) (invite.Invitation, error) {
	var out invite.Invitation
	err := b.do(ctx, http.MethodPost, "/invitations",
		map[string]string{"imageRef": imageRef, "inviteeId": inviteeID}, &out)
	return out, err
}

// AcceptInvitation resolves a pending invitation to ACCEPTED.
func (b *Backend) AcceptInvitation(ctx context.Context, id string) (invite.Invitation, error) {
	var out invite.Invitation
	err := b.do(ctx, http.MethodPost, "/invitations/"+url.PathEscape(id)+"/accept", nil, &out)
	return out, err
}

// RejectInvitation resolves a pending invitation to REJECTED.
func (b *Backend) RejectInvitation(ctx context.Context, id string) (invite.Invitation, error) {
	var out invite.Invitation
	err := b.do(ctx, http.MethodPost, "/invitations/"+url.PathEscape(id)+"/reject", nil, &out)
	return out, err
}

func (b *Backend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
