// Package sharing owns the per-note set of share grants.
package sharing

import (
	"errors"
	"time"

	"noteflow/api/internal/access"
	"noteflow/api/internal/store"
)

var (
	ErrSelfShare   = errors.New("cannot share a note with its creator")
	ErrInvalidRole = errors.New("invalid share role")
	ErrNotShared   = errors.New("note is not shared with that user")
)

// Outcome distinguishes what an Upsert actually did. The caller uses it to
// pick the notification variant: a new grant and a role change must never
// both fire for one mutation.
type Outcome int

const (
	OutcomeNewGrant Outcome = iota
	OutcomeRoleChanged
	OutcomeUnchanged
)

// Upsert grants target the given role on note, replacing any existing grant
// for the same user. The note's share list is mutated in place; persistence
// is the caller's job. Invariant preserved: at most one share per user, and
// the creator never appears in the list.
func Upsert(note *store.Note, target store.User, role access.Role) (Outcome, error) {
	if !access.ValidRole(string(role)) {
		return OutcomeUnchanged, ErrInvalidRole
	}
	if target.ID == note.CreatorID {
		return OutcomeUnchanged, ErrSelfShare
	}

	for i, share := range note.Shares {
		if share.UserID != target.ID {
			continue
		}
		if share.Role == string(role) {
			return OutcomeUnchanged, nil
		}
		note.Shares[i].Role = string(role)
		note.Shares[i].Email = target.Email
		return OutcomeRoleChanged, nil
	}

	note.Shares = append(note.Shares, store.Share{
		UserID:    target.ID,
		Email:     target.Email,
		Role:      string(role),
		CreatedAt: time.Now(),
	})
	return OutcomeNewGrant, nil
}

// Remove deletes target's grant from note. Fails with ErrNotShared when no
// grant exists.
func Remove(note *store.Note, targetUserID string) error {
	for i, share := range note.Shares {
		if share.UserID == targetUserID {
			note.Shares = append(note.Shares[:i], note.Shares[i+1:]...)
			return nil
		}
	}
	return ErrNotShared
}
