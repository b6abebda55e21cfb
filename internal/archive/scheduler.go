// Package archive runs the retention sweep that moves stale notes into the
// archived state.
package archive

import (
	"context"
	"log"
	"sync"
	"time"

	"noteflow/api/internal/notify"
	"noteflow/api/internal/store"
)

// dataStore is the slice of the persistence layer the sweep needs.
type dataStore interface {
	ListStaleNotes(ctx context.Context, cutoff time.Time) ([]store.Note, error)
	ArchiveStaleNote(ctx context.Context, noteID string, cutoff, now time.Time) (bool, error)
	GetUsersByIDs(ctx context.Context, userIDs []string) (map[string]store.User, error)
}

// Scheduler archives notes whose last update is older than the retention
// window. RunOnce is safe to call repeatedly: the transition is a conditional
// update, so a note already archived, or touched since it was listed, is
// skipped without error.
type Scheduler struct {
	store     dataStore
	publisher *notify.Publisher
	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewScheduler(st dataStore, publisher *notify.Publisher, retention, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:     st,
		publisher: publisher,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start launches the periodic sweep. The first sweep runs immediately so a
// long-stopped deployment catches up on boot.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunOnce(ctx); err != nil {
			log.Printf("archive: initial sweep: %v", err)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					log.Printf("archive: sweep: %v", err)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

// RunOnce performs a single sweep and returns how many notes it archived.
// A failure on one note is logged and does not stop the rest of the batch;
// the skipped note is retried on the next sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.retention)

	stale, err := s.store.ListStaleNotes(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, note := range stale {
		transitioned, err := s.store.ArchiveStaleNote(ctx, note.ID, cutoff, now)
		if err != nil {
			log.Printf("archive: note %s: %v", note.ID, err)
			continue
		}
		if !transitioned {
			continue
		}
		archived++

		note.IsArchived = true
		archivedAt := now
		note.ArchivedAt = &archivedAt
		note.UpdatedAt = now

		users, err := s.store.GetUsersByIDs(ctx, append(note.SharedUserIDs(), note.CreatorID))
		if err != nil {
			log.Printf("archive: load users for note %s: %v", note.ID, err)
			users = nil
		}
		s.publisher.PublishAll(ctx, notify.RouteArchive(note, notify.ActorSystem, true, users))
	}

	if archived > 0 {
		log.Printf("archive: swept %d stale note(s)", archived)
	}
	return archived, nil
}
