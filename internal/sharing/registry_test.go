package sharing

import (
	"errors"
	"testing"

	"noteflow/api/internal/access"
	"noteflow/api/internal/store"
)

func testNote() store.Note {
	return store.Note{ID: "note_1", CreatorID: "usr_creator"}
}

func TestUpsertNewGrant(t *testing.T) {
	note := testNote()
	target := store.User{ID: "usr_b", Email: "b@example.com"}

	outcome, err := Upsert(&note, target, access.RoleRead)
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if outcome != OutcomeNewGrant {
		t.Fatalf("outcome = %v, want OutcomeNewGrant", outcome)
	}
	if len(note.Shares) != 1 {
		t.Fatalf("expected 1 share, got %d", len(note.Shares))
	}
	if note.Shares[0].Role != "read" || note.Shares[0].Email != "b@example.com" {
		t.Fatalf("unexpected share: %+v", note.Shares[0])
	}
}

func TestUpsertRoleChange(t *testing.T) {
	note := testNote()
	target := store.User{ID: "usr_b", Email: "b@example.com"}

	if _, err := Upsert(&note, target, access.RoleRead); err != nil {
		t.Fatalf("first Upsert error: %v", err)
	}
	outcome, err := Upsert(&note, target, access.RoleWrite)
	if err != nil {
		t.Fatalf("second Upsert error: %v", err)
	}
	if outcome != OutcomeRoleChanged {
		t.Fatalf("outcome = %v, want OutcomeRoleChanged", outcome)
	}
	if len(note.Shares) != 1 {
		t.Fatalf("upsert must not duplicate shares, got %d entries", len(note.Shares))
	}
	if note.Shares[0].Role != "write" {
		t.Fatalf("role = %q, want write", note.Shares[0].Role)
	}
}

func TestUpsertSameRoleIsIdempotent(t *testing.T) {
	note := testNote()
	target := store.User{ID: "usr_b", Email: "b@example.com"}

	if _, err := Upsert(&note, target, access.RoleWrite); err != nil {
		t.Fatalf("first Upsert error: %v", err)
	}
	outcome, err := Upsert(&note, target, access.RoleWrite)
	if err != nil {
		t.Fatalf("second Upsert error: %v", err)
	}
	if outcome != OutcomeUnchanged {
		t.Fatalf("outcome = %v, want OutcomeUnchanged", outcome)
	}
	if len(note.Shares) != 1 {
		t.Fatalf("expected 1 share, got %d", len(note.Shares))
	}
}

func TestUpsertRejectsCreator(t *testing.T) {
	note := testNote()
	creator := store.User{ID: "usr_creator", Email: "creator@example.com"}

	for _, role := range []access.Role{access.RoleRead, access.RoleWrite, access.RoleOwner} {
		if _, err := Upsert(&note, creator, role); !errors.Is(err, ErrSelfShare) {
			t.Fatalf("Upsert(creator, %s): expected ErrSelfShare, got %v", role, err)
		}
	}
	if len(note.Shares) != 0 {
		t.Fatalf("creator must never appear in shares, got %d entries", len(note.Shares))
	}
}

func TestUpsertRejectsUnknownRole(t *testing.T) {
	note := testNote()
	target := store.User{ID: "usr_b"}

	if _, err := Upsert(&note, target, access.Role("admin")); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	note := testNote()
	target := store.User{ID: "usr_b", Email: "b@example.com"}
	if _, err := Upsert(&note, target, access.RoleRead); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	if err := Remove(&note, "usr_b"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if len(note.Shares) != 0 {
		t.Fatalf("expected 0 shares after remove, got %d", len(note.Shares))
	}

	if err := Remove(&note, "usr_b"); !errors.Is(err, ErrNotShared) {
		t.Fatalf("expected ErrNotShared on second remove, got %v", err)
	}
}
