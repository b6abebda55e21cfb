package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"noteflow/api/internal/notify"
	"noteflow/api/internal/store"
)

type fakeStore struct {
	listStaleNotes   func(ctx context.Context, cutoff time.Time) ([]store.Note, error)
	archiveStaleNote func(ctx context.Context, noteID string, cutoff, now time.Time) (bool, error)
	getUsersByIDs    func(ctx context.Context, userIDs []string) (map[string]store.User, error)
}

func (f *fakeStore) ListStaleNotes(ctx context.Context, cutoff time.Time) ([]store.Note, error) {
	return f.listStaleNotes(ctx, cutoff)
}

func (f *fakeStore) ArchiveStaleNote(ctx context.Context, noteID string, cutoff, now time.Time) (bool, error) {
	return f.archiveStaleNote(ctx, noteID, cutoff, now)
}

func (f *fakeStore) GetUsersByIDs(ctx context.Context, userIDs []string) (map[string]store.User, error) {
	if f.getUsersByIDs != nil {
		return f.getUsersByIDs(ctx, userIDs)
	}
	return map[string]store.User{}, nil
}

type recorderBus struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorderBus) Publish(_ context.Context, channel, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, _ := payload.(map[string]any)
	r.events = append(r.events, notify.Event{Channel: channel, Name: event, Payload: p})
	return nil
}

func staleNote(id string, updatedAt time.Time) store.Note {
	return store.Note{ID: id, Title: "old " + id, CreatorID: "usr_a", UpdatedAt: updatedAt}
}

func TestRunOnceArchivesStaleNotes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-91 * 24 * time.Hour)

	var archivedIDs []string
	bus := &recorderBus{}
	fs := &fakeStore{
		listStaleNotes: func(_ context.Context, cutoff time.Time) ([]store.Note, error) {
			wantCutoff := now.Add(-90 * 24 * time.Hour)
			if !cutoff.Equal(wantCutoff) {
				t.Fatalf("cutoff = %v, want %v", cutoff, wantCutoff)
			}
			return []store.Note{staleNote("note_1", old), staleNote("note_2", old)}, nil
		},
		archiveStaleNote: func(_ context.Context, noteID string, _, _ time.Time) (bool, error) {
			archivedIDs = append(archivedIDs, noteID)
			return true, nil
		},
	}

	s := NewScheduler(fs, notify.NewPublisher(bus), 90*24*time.Hour, time.Hour)
	s.now = func() time.Time { return now }

	count, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if count != 2 || len(archivedIDs) != 2 {
		t.Fatalf("archived %d notes (%v), want 2", count, archivedIDs)
	}

	// Each transition announces itself with the system actor.
	listEvents := 0
	for _, e := range bus.events {
		if e.Name == notify.EventNotesListUpdated {
			listEvents++
			if e.Payload["actorId"] != notify.ActorSystem {
				t.Fatalf("sweep event actorId = %v, want system", e.Payload["actorId"])
			}
			if e.Payload["action"] != "archive" {
				t.Fatalf("sweep event action = %v, want archive", e.Payload["action"])
			}
		}
	}
	if listEvents != 2 {
		t.Fatalf("got %d list events, want 2", listEvents)
	}
}

func TestRunOnceSecondSweepIsNoOp(t *testing.T) {
	now := time.Now().UTC()
	bus := &recorderBus{}
	fs := &fakeStore{
		listStaleNotes: func(context.Context, time.Time) ([]store.Note, error) {
			return []store.Note{staleNote("note_1", now.Add(-100*24*time.Hour))}, nil
		},
		// Already archived by a previous sweep: the conditional update
		// matches no rows.
		archiveStaleNote: func(context.Context, string, time.Time, time.Time) (bool, error) {
			return false, nil
		},
	}

	s := NewScheduler(fs, notify.NewPublisher(bus), 90*24*time.Hour, time.Hour)
	count, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("second sweep archived %d notes, want 0", count)
	}
	if len(bus.events) != 0 {
		t.Fatalf("no-op sweep emitted %d events", len(bus.events))
	}
}

func TestRunOnceContinuesPastRecordErrors(t *testing.T) {
	now := time.Now().UTC()
	old := now.Add(-100 * 24 * time.Hour)
	fs := &fakeStore{
		listStaleNotes: func(context.Context, time.Time) ([]store.Note, error) {
			return []store.Note{staleNote("note_bad", old), staleNote("note_ok", old)}, nil
		},
		archiveStaleNote: func(_ context.Context, noteID string, _, _ time.Time) (bool, error) {
			if noteID == "note_bad" {
				return false, errors.New("deadlock detected")
			}
			return true, nil
		},
	}

	s := NewScheduler(fs, notify.NewPublisher(&recorderBus{}), 90*24*time.Hour, time.Hour)
	count, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("archived %d notes, want the healthy one only", count)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	var mu sync.Mutex
	sweeps := 0
	fs := &fakeStore{
		listStaleNotes: func(context.Context, time.Time) ([]store.Note, error) {
			mu.Lock()
			sweeps++
			mu.Unlock()
			return nil, nil
		},
	}

	s := NewScheduler(fs, notify.NewPublisher(&recorderBus{}), 90*24*time.Hour, 10*time.Millisecond)
	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	mu.Lock()
	got := sweeps
	mu.Unlock()
	if got < 2 {
		t.Fatalf("expected the boot sweep plus ticks, got %d sweeps", got)
	}

	// Stop is idempotent.
	s.Stop()
}
