// Package invite implements the collaboration invitation lifecycle and the
// room gate that decides whether the realtime transport is worth
// establishing for an image.
package invite

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is a clinician's professional role.
type Role string

const (
	RoleSpecialist Role = "specialist"
	RoleReferrer   Role = "referrer"
)

// User identifies a participant.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Status is the invitation state. PENDING is the only non-terminal state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// Validity is the window after which a pending invitation expires. Expiry is
// applied by the service's time policy, never by a viewing client.
const Validity = 24 * time.Hour

var (
	// ErrRoleMismatch reports an invitee who does not hold the required
	// specialist role.
	ErrRoleMismatch = errors.New("invitee does not hold the specialist role")
	// ErrInvalidTransition reports a status change that the state machine
	// forbids.
	ErrInvalidTransition = errors.New("invalid invitation transition")
)

// Invitation asks one specialist to join the viewing of one image.
type Invitation struct {
	ID        string    `json:"id"`
	ImageRef  string    `json:"imageRef"`
	InviterID string    `json:"inviterId"`
	InviteeID string    `json:"inviteeId"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// New creates a pending invitation from inviter to invitee for imageRef.
func New(inviter, invitee User, imageRef string) (*Invitation, error) {
	if imageRef == "" {
		return nil, errors.New("image reference is empty")
	}
	if invitee.Role != RoleSpecialist {
		return nil, fmt.Errorf("%w: %q has role %q", ErrRoleMismatch, invitee.ID, invitee.Role)
	}
	return &Invitation{
		ID:        uuid.NewString(),
		ImageRef:  imageRef,
		InviterID: inviter.ID,
		InviteeID: invitee.ID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Terminal reports whether the invitation can no longer change state.
func (inv *Invitation) Terminal() bool {
	return inv.Status != StatusPending
}

// Resolve applies ACCEPTED or REJECTED on behalf of actorID. Only the
// invitee may resolve, only from PENDING, and only to one of the two
// resolution states.
func (inv *Invitation) Resolve(actorID string, next Status) error {
	if inv.Terminal() {
		return fmt.Errorf("%w: invitation is %s", ErrInvalidTransition, inv.Status)
	}
	if next != StatusAccepted && next != StatusRejected {
		return fmt.Errorf("%w: cannot move PENDING to %s", ErrInvalidTransition, next)
	}
	if actorID != inv.InviteeID {
		return fmt.Errorf("%w: only the invitee may resolve", ErrInvalidTransition)
	}
	inv.Status = next
	return nil
}

// ExpiredBy reports whether the validity window has elapsed at the given
// time. This is display-only on the client; the service applies EXPIRED.
func (inv *Invitation) ExpiredBy(now time.Time) bool {
	return inv.Status == StatusPending && now.Sub(inv.CreatedAt) > Validity
}

// Collaborators derives the collaborator set for an image: the original
// owner plus every invitee whose invitation was accepted.
func Collaborators(imageRef, ownerID string, invitations []*Invitation) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(ownerID)
	for _, inv := range invitations {
		if inv.ImageRef == imageRef && inv.Status == StatusAccepted {
			add(inv.InviteeID)
		}
	}
	return out
}

// HasMultipleCollaborators is the room gate: realtime transport is only
// established when someone other than self can see the image. A solo viewer
// gets no socket churn.
func HasMultipleCollaborators(collaborators []string, selfID string) bool {
	if len(collaborators) > 1 {
		return true
	}
	return len(collaborators) == 1 && collaborators[0] != selfID
}
