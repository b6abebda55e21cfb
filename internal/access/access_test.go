package access

import (
	"errors"
	"testing"

	"noteflow/api/internal/store"
)

func testNote() store.Note {
	return store.Note{
		ID:        "note_1",
		CreatorID: "usr_creator",
		Shares: []store.Share{
			{UserID: "usr_reader", Role: "read"},
			{UserID: "usr_writer", Role: "write"},
			{UserID: "usr_coowner", Role: "owner"},
		},
	}
}

func TestResolve(t *testing.T) {
	note := testNote()

	cases := []struct {
		name   string
		userID string
		want   Level
	}{
		{name: "creator is owner", userID: "usr_creator", want: LevelOwner},
		{name: "read share", userID: "usr_reader", want: LevelRead},
		{name: "write share", userID: "usr_writer", want: LevelWrite},
		{name: "owner share caps at write", userID: "usr_coowner", want: LevelWrite},
		{name: "stranger", userID: "usr_nobody", want: LevelNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(note, tc.userID)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tc.userID, err)
			}
			if got != tc.want {
				t.Fatalf("Resolve(%q) = %v, want %v", tc.userID, got, tc.want)
			}
		})
	}
}

func TestResolveCreatorIgnoresShares(t *testing.T) {
	// Even a bogus share row for the creator must not demote them.
	note := testNote()
	note.Shares = append(note.Shares, store.Share{UserID: "usr_creator", Role: "read"})

	level, err := Resolve(note, "usr_creator")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if level != LevelOwner {
		t.Fatalf("creator resolved to %v, want owner", level)
	}
}

func TestResolveMissingCreator(t *testing.T) {
	note := testNote()
	note.CreatorID = ""

	level, err := Resolve(note, "usr_reader")
	if !errors.Is(err, ErrMissingCreator) {
		t.Fatalf("expected ErrMissingCreator, got %v", err)
	}
	if level != LevelNone {
		t.Fatalf("missing creator resolved to %v, want none", level)
	}
	if HasAtLeast(note, "usr_reader", LevelRead) {
		t.Fatal("HasAtLeast must not grant on a note without a creator")
	}
}

func TestHasAtLeast(t *testing.T) {
	note := testNote()

	cases := []struct {
		name     string
		userID   string
		required Level
		want     bool
	}{
		{name: "reader can read", userID: "usr_reader", required: LevelRead, want: true},
		{name: "reader cannot write", userID: "usr_reader", required: LevelWrite, want: false},
		{name: "writer can write", userID: "usr_writer", required: LevelWrite, want: true},
		{name: "writer is not owner", userID: "usr_writer", required: LevelOwner, want: false},
		{name: "shared owner role is not true ownership", userID: "usr_coowner", required: LevelOwner, want: false},
		{name: "shared owner role can write", userID: "usr_coowner", required: LevelWrite, want: true},
		{name: "creator is owner", userID: "usr_creator", required: LevelOwner, want: true},
		{name: "stranger has nothing", userID: "usr_nobody", required: LevelRead, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasAtLeast(note, tc.userID, tc.required); got != tc.want {
				t.Fatalf("HasAtLeast(%q, %v) = %v, want %v", tc.userID, tc.required, got, tc.want)
			}
		})
	}
}

func TestValidRole(t *testing.T) {
	for _, role := range []string{"read", "write", "owner"} {
		if !ValidRole(role) {
			t.Fatalf("ValidRole(%q) = false, want true", role)
		}
	}
	for _, role := range []string{"", "admin", "READ", "viewer"} {
		if ValidRole(role) {
			t.Fatalf("ValidRole(%q) = true, want false", role)
		}
	}
}
