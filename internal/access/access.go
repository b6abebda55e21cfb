// Package access decides what a user may do with a note.
package access

import (
	"errors"

	"noteflow/api/internal/store"
)

// Level is an effective permission on a note, ordered
// None < Read < Write < Owner.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
	LevelOwner
)

func (l Level) String() string {
	switch l {
	case LevelRead:
		return "read"
	case LevelWrite:
		return "write"
	case LevelOwner:
		return "owner"
	default:
		return "none"
	}
}

// Role is the role recorded on a share entry. A share role named "owner" is
// a historical alias: it grants the same rights as "write", never true
// ownership. Only the note's creator resolves to LevelOwner, which is what
// gates delete, unshare and share-role management.
type Role string

const (
	RoleRead  Role = "read"
	RoleWrite Role = "write"
	RoleOwner Role = "owner"
)

func ValidRole(role string) bool {
	switch Role(role) {
	case RoleRead, RoleWrite, RoleOwner:
		return true
	default:
		return false
	}
}

// ErrMissingCreator is surfaced when a note carries no creator reference.
// Everyone resolves to LevelNone on such a note; the condition is a data
// consistency fault, not a silent grant.
var ErrMissingCreator = errors.New("note has no creator reference")

// Resolve returns the effective level of userID on note.
func Resolve(note store.Note, userID string) (Level, error) {
	if note.CreatorID == "" {
		return LevelNone, ErrMissingCreator
	}
	if userID == note.CreatorID {
		return LevelOwner, nil
	}
	share, ok := note.ShareFor(userID)
	if !ok {
		return LevelNone, nil
	}
	switch Role(share.Role) {
	case RoleRead:
		return LevelRead, nil
	case RoleWrite, RoleOwner:
		return LevelWrite, nil
	default:
		return LevelNone, nil
	}
}

// HasAtLeast reports whether userID holds at least the required level.
// Because shared "owner" roles resolve to LevelWrite, a required level of
// LevelOwner is satisfied by the creator alone.
func HasAtLeast(note store.Note, userID string, required Level) bool {
	level, err := Resolve(note, userID)
	if err != nil {
		return false
	}
	return level >= required
}
