package notify

import (
	"time"

	"noteflow/api/internal/store"
)

// Snapshot builds the display-ready projection of a note. The domain model
// carries bare ids; expansion into username/email records happens here, on
// the read side, never inside mutation logic. Users absent from the lookup
// map are projected as a bare id.
func Snapshot(note store.Note, users map[string]store.User) map[string]any {
	sharedWith := make([]map[string]any, 0, len(note.Shares))
	for _, share := range note.Shares {
		entry := map[string]any{
			"userId": share.UserID,
			"email":  share.Email,
			"role":   share.Role,
		}
		if user, ok := users[share.UserID]; ok {
			entry["username"] = user.Username
			entry["email"] = user.Email
		}
		sharedWith = append(sharedWith, entry)
	}

	var creator any = note.CreatorID
	if user, ok := users[note.CreatorID]; ok {
		creator = map[string]any{
			"_id":      user.ID,
			"username": user.Username,
			"email":    user.Email,
		}
	}

	snapshot := map[string]any{
		"_id":        note.ID,
		"title":      note.Title,
		"content":    note.Content,
		"creator":    creator,
		"sharedWith": sharedWith,
		"isArchived": note.IsArchived,
		"createdAt":  note.CreatedAt.Format(time.RFC3339),
		"updatedAt":  note.UpdatedAt.Format(time.RFC3339),
	}
	if note.ArchivedAt != nil {
		snapshot["archivedAt"] = note.ArchivedAt.Format(time.RFC3339)
	} else {
		snapshot["archivedAt"] = nil
	}
	return snapshot
}

// listEntry is the compact note reference carried by notesListUpdated.
func listEntry(note store.Note) map[string]any {
	return map[string]any{
		"_id":        note.ID,
		"title":      note.Title,
		"updatedAt":  note.UpdatedAt.Format(time.RFC3339),
		"creator":    note.CreatorID,
		"sharedWith": note.SharedUserIDs(),
	}
}
