package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"teleview/internal/invite"
	"teleview/internal/wire"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleInvitations serves /invitations: POST creates, GET lists the
// caller's invitations in either direction.
func (s *Server) handleInvitations(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req struct {
			ImageRef  string `json:"imageRef"`
			InviteeID string `json:"inviteeId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		invitee, ok := s.directory.UserByID(req.InviteeID)
		if !ok {
			s.writeError(w, http.StatusNotFound, "unknown invitee")
			return
		}

		inv, err := invite.New(user, invitee, req.ImageRef)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		s.mu.Lock()
		s.invitations[inv.ID] = inv
		if _, claimed := s.owners[inv.ImageRef]; !claimed {
			s.owners[inv.ImageRef] = user.ID
		}
		out := *inv
		s.mu.Unlock()

		s.logger.Info("invitation created", slog.String("id", inv.ID), slog.String("image", inv.ImageRef), slog.String("invitee", inv.InviteeID))
		s.writeJSON(w, http.StatusCreated, out)

	case http.MethodGet:
		s.mu.Lock()
		var out []invite.Invitation
		for _, inv := range s.invitations {
			if inv.InviterID == user.ID || inv.InviteeID == user.ID {
				out = append(out, *inv)
			}
		}
		s.mu.Unlock()
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		if out == nil {
			out = []invite.Invitation{}
		}
		s.writeJSON(w, http.StatusOK, out)

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleInvitationAction serves POST /invitations/{id}/accept and
// /invitations/{id}/reject.
func (s *Server) handleInvitationAction(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/invitations/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]

	var next invite.Status
	switch parts[1] {
	case "accept":
		next = invite.StatusAccepted
	case "reject":
		next = invite.StatusRejected
	default:
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	s.mu.Lock()
	inv, found := s.invitations[id]
	if !found {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "unknown invitation")
		return
	}
	err := inv.Resolve(user.ID, next)
	out := *inv
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, invite.ErrInvalidTransition) {
			s.writeError(w, http.StatusConflict, err.Error())
		} else {
			s.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	s.logger.Info("invitation resolved", slog.String("id", id), slog.String("status", string(next)))
	s.writeJSON(w, http.StatusOK, out)
}

// handleImages serves /images/{ref}/messages and /images/{ref}/collaborators.
// The messages POST is the degraded path used when a client has no working
// socket; the stored message is still broadcast to any connected peers.
func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/images/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	imageRef := parts[0]

	switch parts[1] {
	case "messages":
		switch r.Method {
		case http.MethodGet:
			s.mu.Lock()
			out := make([]wire.Message, len(s.messages[imageRef]))
			copy(out, s.messages[imageRef])
			s.mu.Unlock()
			s.writeJSON(w, http.StatusOK, out)

		case http.MethodPost:
			var req struct {
				Content string `json:"content"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if strings.TrimSpace(req.Content) == "" {
				s.writeError(w, http.StatusBadRequest, "empty message")
				return
			}
			msg := s.storeMessage(imageRef, user.ID, req.Content)
			s.broadcast(imageRef, wire.EventNewMessage, msg, nil)
			s.writeJSON(w, http.StatusCreated, msg)

		default:
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	case "collaborators":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.mu.Lock()
		ownerID := s.owners[imageRef]
		invs := make([]*invite.Invitation, 0, len(s.invitations))
		for _, inv := range s.invitations {
			invs = append(invs, inv)
		}
		s.mu.Unlock()
		out := invite.Collaborators(imageRef, ownerID, invs)
		if out == nil {
			out = []string{}
		}
		s.writeJSON(w, http.StatusOK, out)

	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}
