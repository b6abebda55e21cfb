package notify

import (
	"fmt"
	"time"

	"noteflow/api/internal/change"
	"noteflow/api/internal/sharing"
	"noteflow/api/internal/store"
)

// ActorSystem is the actor id recorded on events emitted by the archive
// sweep rather than a user.
const ActorSystem = "system"

// collaborators is the recipient set used by every mutation kind: creator
// plus all shared users, deduplicated, with the acting user removed. The
// actor only ever hears about their own action as a first-person
// confirmation on their private channel.
func collaborators(note store.Note, actorID string) []string {
	seen := make(map[string]bool, len(note.Shares)+1)
	recipients := make([]string, 0, len(note.Shares)+1)
	add := func(userID string) {
		if userID == "" || userID == actorID || seen[userID] {
			return
		}
		seen[userID] = true
		recipients = append(recipients, userID)
	}
	add(note.CreatorID)
	for _, share := range note.Shares {
		add(share.UserID)
	}
	return recipients
}

func listUpdated(action string, note store.Note, actorID string) Event {
	return Event{
		Channel: ChannelBroadcast,
		Name:    EventNotesListUpdated,
		Payload: map[string]any{
			"action":  action,
			"note":    listEntry(note),
			"actorId": actorID,
		},
	}
}

func detailsUpdated(note store.Note, users map[string]store.User) Event {
	return Event{
		Channel: NoteChannel(note.ID),
		Name:    EventNoteDetailsUpdated,
		Payload: map[string]any{"note": Snapshot(note, users)},
	}
}

// RouteCreate announces a new note for list views. The note has no
// collaborators yet, so there are no per-user recipients.
func RouteCreate(note store.Note, actor store.User) []Event {
	return []Event{listUpdated("create", note, actor.ID)}
}

// RouteUpdate fans out a persisted content/title mutation. Auto-saves only
// acknowledge the actor; explicit saves additionally notify every
// collaborator exactly once and refresh the note room.
func RouteUpdate(note store.Note, actor store.User, diff change.Change, isAutoSave bool, users map[string]store.User) []Event {
	if !diff.Significant() {
		return nil
	}

	updatedAt := note.UpdatedAt.Format(time.RFC3339)
	events := []Event{{
		Channel: UserChannel(actor.ID),
		Name:    EventNoteUpdateSuccess,
		Payload: map[string]any{
			"noteId":     note.ID,
			"title":      note.Title,
			"message":    fmt.Sprintf("Note %q saved", note.Title),
			"isAutoSave": isAutoSave,
		},
	}}
	if isAutoSave {
		return events
	}

	editFinished := map[string]any{
		"noteId":         note.ID,
		"noteTitle":      note.Title,
		"editorUsername": actor.Username,
		"editorId":       actor.ID,
		"titleChanged":   diff.TitleChanged,
		"contentChanged": diff.ContentChanged,
		"updatedAt":      updatedAt,
	}
	if diff.ContentChanged {
		editFinished["content"] = note.Content
	}
	events = append(events, Event{
		Channel: NoteChannel(note.ID),
		Name:    EventNoteEditFinishedByOther,
		Payload: editFinished,
	})

	for _, recipient := range collaborators(note, actor.ID) {
		events = append(events, Event{
			Channel: UserChannel(recipient),
			Name:    EventNotifyNoteUpdatedByOther,
			Payload: map[string]any{
				"noteId":         note.ID,
				"noteTitle":      note.Title,
				"editorUsername": actor.Username,
				"message":        fmt.Sprintf("%s updated note %q", actor.Username, note.Title),
				"updatedAt":      updatedAt,
			},
		})
	}

	events = append(events, detailsUpdated(note, users))
	events = append(events, listUpdated("update", note, actor.ID))
	return events
}

// RouteDelete emits the removal notices. The note passed in is the
// pre-deletion snapshot, since post-delete lookups return nothing.
func RouteDelete(note store.Note, actor store.User) []Event {
	return []Event{
		{
			Channel: NoteChannel(note.ID),
			Name:    EventNoteDeleted,
			Payload: map[string]any{"noteId": note.ID},
		},
		listUpdated("delete", note, actor.ID),
	}
}

// RouteShare picks exactly one recipient-facing variant per grant fact: a
// new grant fires newSharedNote, a role change fires yourShareRoleUpdated,
// never both. The actor receives a distinct confirmation either way.
func RouteShare(note store.Note, actor, target store.User, role string, outcome sharing.Outcome, users map[string]store.User) []Event {
	var events []Event
	actionType := "new_share"

	switch outcome {
	case sharing.OutcomeNewGrant:
		events = append(events, Event{
			Channel: UserChannel(target.ID),
			Name:    EventNewSharedNote,
			Payload: map[string]any{
				"note":             Snapshot(note, users),
				"roleYouWereGiven": role,
				"sharerUsername":   actor.Username,
			},
		})
	case sharing.OutcomeRoleChanged:
		actionType = "role_update"
		events = append(events, Event{
			Channel: UserChannel(target.ID),
			Name:    EventYourShareRoleUpdated,
			Payload: map[string]any{
				"note":            Snapshot(note, users),
				"yourNewRole":     role,
				"updaterUsername": actor.Username,
			},
		})
	case sharing.OutcomeUnchanged:
		// Same role re-granted: nothing new to tell the grantee.
	}

	events = append(events, Event{
		Channel: UserChannel(actor.ID),
		Name:    EventNoteSharingConfirmation,
		Payload: map[string]any{
			"note":       Snapshot(note, users),
			"message":    fmt.Sprintf("Note %q shared with %s as %s", note.Title, target.Username, role),
			"actionType": actionType,
		},
	})

	if outcome != sharing.OutcomeUnchanged {
		events = append(events, detailsUpdated(note, users))
		events = append(events, listUpdated("share_update", note, actor.ID))
	}
	return events
}

// RouteUnshare notifies the removed user and confirms to the actor. The
// note passed in already has the grant removed.
func RouteUnshare(note store.Note, actor, removed store.User, users map[string]store.User) []Event {
	return []Event{
		{
			Channel: UserChannel(removed.ID),
			Name:    EventNoteUnshared,
			Payload: map[string]any{
				"noteId":           note.ID,
				"title":            note.Title,
				"unsharerUsername": actor.Username,
				"message":          fmt.Sprintf("You lost access to note %q", note.Title),
			},
		},
		{
			Channel: UserChannel(actor.ID),
			Name:    EventNoteSharingConfirmation,
			Payload: map[string]any{
				"note":       Snapshot(note, users),
				"message":    fmt.Sprintf("%s no longer has access to %q", removed.Username, note.Title),
				"actionType": "unshare",
			},
		},
		detailsUpdated(note, users),
		listUpdated("unshare_update", note, actor.ID),
	}
}

// RouteArchive covers both manual transitions and the background sweep
// (actorID == ActorSystem). Collaborators learn of the state change through
// the note room and the list channel; payloads carry the actor id so
// clients can suppress self-echo.
func RouteArchive(note store.Note, actorID string, archived bool, users map[string]store.User) []Event {
	action := "archive"
	if !archived {
		action = "unarchive"
	}
	return []Event{
		detailsUpdated(note, users),
		listUpdated(action, note, actorID),
	}
}
