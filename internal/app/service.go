package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"noteflow/api/internal/access"
	"noteflow/api/internal/auth"
	"noteflow/api/internal/authpw"
	"noteflow/api/internal/change"
	"noteflow/api/internal/config"
	"noteflow/api/internal/email"
	"noteflow/api/internal/history"
	"noteflow/api/internal/notify"
	"noteflow/api/internal/search"
	"noteflow/api/internal/sharing"
	"noteflow/api/internal/store"
	"noteflow/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

// UpdateNoteInput carries a partial mutation. Nil fields keep the stored
// value; IsAutoSave suppresses collaborator notifications.
type UpdateNoteInput struct {
	Title      *string `json:"title"`
	Content    *string `json:"content"`
	IsAutoSave bool    `json:"isAutoSave"`
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUsersByIDs(context.Context, []string) (map[string]store.User, error)
	InsertNote(context.Context, store.Note) error
	GetNote(context.Context, string) (store.Note, error)
	UpdateNoteContent(ctx context.Context, noteID, title, content string) error
	DeleteNote(context.Context, string) error
	TitleExistsForCreator(ctx context.Context, creatorID, title, excludeNoteID string) (bool, error)
	ListNotesByCreator(ctx context.Context, creatorID string, includeArchived bool) ([]store.Note, error)
	ListNotesSharedWith(ctx context.Context, userID string, includeArchived bool) ([]store.Note, error)
	ListNotesVisibleTo(ctx context.Context, userID string, includeArchived bool) ([]store.Note, error)
	UpsertShare(ctx context.Context, noteID string, share store.Share) error
	DeleteShare(ctx context.Context, noteID, userID string) error
	SetNoteArchived(ctx context.Context, noteID string, archived bool) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// SessionStore holds refresh sessions. Redis when available, PostgreSQL
// otherwise; both backends satisfy it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type historyService interface {
	EnsureNoteRepo(noteID string, initial history.Snapshot, author string) error
	CommitRevision(noteID string, snapshot history.Snapshot, author, message string) (history.Revision, error)
	History(noteID string, limit int) ([]history.Revision, error)
	GetRevision(noteID, hash string) (history.Snapshot, history.Revision, error)
	RemoveNoteRepo(noteID string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexNote(record search.NoteRecord)
	DeleteNote(id string)
}

type emailService interface {
	IsConfigured() bool
	SendShareInviteEmail(to, recipientName, sharerName, noteTitle, role, noteURL string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  SessionStore
	authpw    *authpw.Service
	history   historyService
	search    searchService
	email     emailService
	publisher *notify.Publisher
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	sessions SessionStore,
	authSvc *authpw.Service,
	historySvc *history.Service,
	searchSvc *search.Service,
	emailSvc *email.Service,
	publisher *notify.Publisher,
) *Service {
	s := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		authpw:    authSvc,
		publisher: publisher,
	}
	if historySvc != nil {
		s.history = historySvc
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if emailSvc != nil {
		s.email = emailSvc
	}
	return s
}

// ---- sessions ----

func (s *Service) SignUp(ctx context.Context, username, emailAddr, password string) (Session, error) {
	user, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Username: username,
		Email:    emailAddr,
		Password: password,
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Username,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- notes ----

func (s *Service) CreateNote(ctx context.Context, actor store.User, title, content string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title is required")
	}

	exists, err := s.store.TitleExistsForCreator(ctx, actor.ID, title, "")
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, conflictError("you already have an active note with this title")
	}

	note := store.Note{
		ID:        util.NewID("note"),
		Title:     title,
		Content:   content,
		CreatorID: actor.ID,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return nil, err
	}
	note, err = s.store.GetNote(ctx, note.ID)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		if err := s.history.EnsureNoteRepo(note.ID, history.Snapshot{Title: note.Title, Content: note.Content}, actor.Username); err != nil {
			log.Printf("app: init history for note %s: %v", note.ID, err)
		}
	}
	s.indexNote(note)
	s.publisher.PublishAll(ctx, notify.RouteCreate(note, actor))

	return s.noteSnapshot(ctx, note), nil
}

func (s *Service) GetNoteByID(ctx context.Context, actor store.User, noteID string) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := requireAccess(note, actor.ID, access.LevelRead, "you do not have access to this note"); err != nil {
		return nil, err
	}
	return s.noteSnapshot(ctx, note), nil
}

func (s *Service) ListMyNotes(ctx context.Context, actor store.User, includeArchived bool) ([]map[string]any, error) {
	notes, err := s.store.ListNotesByCreator(ctx, actor.ID, includeArchived)
	if err != nil {
		return nil, err
	}
	return s.noteSnapshots(ctx, notes), nil
}

func (s *Service) ListSharedWithMe(ctx context.Context, actor store.User, includeArchived bool) ([]map[string]any, error) {
	notes, err := s.store.ListNotesSharedWith(ctx, actor.ID, includeArchived)
	if err != nil {
		return nil, err
	}
	return s.noteSnapshots(ctx, notes), nil
}

func (s *Service) ListAllNotes(ctx context.Context, actor store.User, includeArchived bool) ([]map[string]any, error) {
	notes, err := s.store.ListNotesVisibleTo(ctx, actor.ID, includeArchived)
	if err != nil {
		return nil, err
	}
	return s.noteSnapshots(ctx, notes), nil
}

// UpdateNote persists a title/content mutation if anything actually changed.
// Permission is resolved once, here; a concurrent role downgrade does not
// abort an in-flight write. Concurrent writers race under last-write-wins
// with no merge.
func (s *Service) UpdateNote(ctx context.Context, actor store.User, noteID string, input UpdateNoteInput) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := requireAccess(note, actor.ID, access.LevelWrite, "you do not have write access to this note"); err != nil {
		return nil, err
	}
	if note.IsArchived {
		return nil, invalidStateError("archived notes cannot be edited")
	}

	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		if trimmed == "" {
			return nil, validationError("title cannot be empty")
		}
		input.Title = &trimmed
	}

	diff := change.Classify(note, input.Title, input.Content)
	if !diff.Significant() {
		// No-op mutation: no write, no events, current state back to the caller.
		return s.noteSnapshot(ctx, note), nil
	}

	nextTitle := note.Title
	if diff.TitleChanged {
		nextTitle = *input.Title
		// The note's own row is excluded so a case-only rename is not a
		// conflict with itself.
		exists, err := s.store.TitleExistsForCreator(ctx, note.CreatorID, nextTitle, note.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, conflictError("an active note with this title already exists")
		}
	}
	nextContent := note.Content
	if diff.ContentChanged {
		nextContent = *input.Content
	}

	if err := s.store.UpdateNoteContent(ctx, noteID, nextTitle, nextContent); err != nil {
		return nil, err
	}
	note, err = s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}

	if s.history != nil && !input.IsAutoSave {
		if _, err := s.history.CommitRevision(note.ID, history.Snapshot{Title: note.Title, Content: note.Content}, actor.Username, "Update note"); err != nil {
			log.Printf("app: commit history for note %s: %v", note.ID, err)
		}
	}
	s.indexNote(note)
	s.publisher.PublishAll(ctx, notify.RouteUpdate(note, actor, diff, input.IsAutoSave, s.usersFor(ctx, note)))

	return s.noteSnapshot(ctx, note), nil
}

func (s *Service) DeleteNote(ctx context.Context, actor store.User, noteID string) error {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	// Only true ownership may destroy; a shared "owner" role caps at write.
	if err := requireAccess(note, actor.ID, access.LevelOwner, "only the creator can delete a note"); err != nil {
		return err
	}

	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return err
	}

	if s.history != nil {
		if err := s.history.RemoveNoteRepo(noteID); err != nil {
			log.Printf("app: remove history for note %s: %v", noteID, err)
		}
	}
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	s.publisher.PublishAll(ctx, notify.RouteDelete(note, actor))
	return nil
}

func (s *Service) ShareNote(ctx context.Context, actor store.User, noteID, targetEmail, role string) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := requireAccess(note, actor.ID, access.LevelWrite, "you do not have write access to this note"); err != nil {
		return nil, err
	}

	target, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(targetEmail))
	if err != nil {
		return nil, notFoundError("no user with this email")
	}
	if target.ID == actor.ID {
		return nil, invalidStateError("you cannot share a note with yourself")
	}

	outcome, err := sharing.Upsert(&note, target, access.Role(role))
	if err != nil {
		return nil, err
	}

	if outcome != sharing.OutcomeUnchanged {
		grant, _ := note.ShareFor(target.ID)
		if err := s.store.UpsertShare(ctx, noteID, grant); err != nil {
			return nil, err
		}
		note, err = s.store.GetNote(ctx, noteID)
		if err != nil {
			return nil, err
		}
		s.indexNote(note)
	}

	s.publisher.PublishAll(ctx, notify.RouteShare(note, actor, target, role, outcome, s.usersFor(ctx, note)))

	if outcome == sharing.OutcomeNewGrant && s.email != nil && s.email.IsConfigured() {
		noteURL := fmt.Sprintf("%s/notes/%s", strings.TrimRight(s.cfg.PublicBaseURL, "/"), note.ID)
		go func(title string) {
			if err := s.email.SendShareInviteEmail(target.Email, target.Username, actor.Username, title, role, noteURL); err != nil {
				log.Printf("app: share invite email to %s: %v", target.Email, err)
			}
		}(note.Title)
	}

	return s.noteSnapshot(ctx, note), nil
}

func (s *Service) UnshareNote(ctx context.Context, actor store.User, noteID, targetUserID string) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := requireAccess(note, actor.ID, access.LevelOwner, "only the creator can manage the share list"); err != nil {
		return nil, err
	}

	if err := sharing.Remove(&note, targetUserID); err != nil {
		return nil, err
	}
	if err := s.store.DeleteShare(ctx, noteID, targetUserID); err != nil {
		return nil, err
	}
	note, err = s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	s.indexNote(note)

	removed, err := s.store.GetUserByID(ctx, targetUserID)
	if err != nil {
		removed = store.User{ID: targetUserID}
	}
	s.publisher.PublishAll(ctx, notify.RouteUnshare(note, actor, removed, s.usersFor(ctx, note)))

	return s.noteSnapshot(ctx, note), nil
}

// SetArchived handles the manual archive/unarchive transitions. The share
// list stays intact across both, so unarchiving restores collaborator
// access as it was.
func (s *Service) SetArchived(ctx context.Context, actor store.User, noteID string, archived bool) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := requireAccess(note, actor.ID, access.LevelWrite, "you do not have write access to this note"); err != nil {
		return nil, err
	}
	if note.IsArchived == archived {
		if archived {
			return nil, invalidStateError("note is already archived")
		}
		return nil, invalidStateError("note is not archived")
	}

	if err := s.store.SetNoteArchived(ctx, noteID, archived); err != nil {
		return nil, err
	}
	note, err = s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}

	s.indexNote(note)
	s.publisher.PublishAll(ctx, notify.RouteArchive(note, actor.ID, archived, s.usersFor(ctx, note)))

	return s.noteSnapshot(ctx, note), nil
}

func (s *Service) NoteHistory(ctx context.Context, actor store.User, noteID string, limit int) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := requireAccess(note, actor.ID, access.LevelRead, "you do not have access to this note"); err != nil {
		return nil, err
	}
	if s.history == nil {
		return map[string]any{"noteId": note.ID, "revisions": []history.Revision{}}, nil
	}
	revisions, err := s.history.History(noteID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"noteId": note.ID, "revisions": revisions}, nil
}

// NoteRevision returns the note state captured by a single revision.
func (s *Service) NoteRevision(ctx context.Context, actor store.User, noteID, hash string) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := requireAccess(note, actor.ID, access.LevelRead, "you do not have access to this note"); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, notFoundError("revision not found")
	}
	snapshot, revision, err := s.history.GetRevision(noteID, hash)
	if err != nil {
		return nil, notFoundError("revision not found")
	}
	return map[string]any{
		"noteId":   note.ID,
		"revision": revision,
		"title":    snapshot.Title,
		"content":  snapshot.Content,
	}, nil
}

func (s *Service) SearchNotes(ctx context.Context, actor store.User, query string, includeArchived bool, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}, nil
	}
	return s.search.Search(search.Query{
		Text:            query,
		UserID:          actor.ID,
		IncludeArchived: includeArchived,
		Limit:           limit,
		Offset:          offset,
	}), nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// requireAccess gates an operation on the actor's resolved level. A note
// with no creator reference is a data fault and surfaces as an internal
// error rather than a permission denial.
func requireAccess(note store.Note, userID string, required access.Level, denied string) error {
	level, err := access.Resolve(note, userID)
	if err != nil {
		return fmt.Errorf("resolve access on note %s: %w", note.ID, err)
	}
	if level < required {
		return permissionError(denied)
	}
	return nil
}

// ---- projections ----

func (s *Service) indexNote(note store.Note) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:         note.ID,
		Title:      note.Title,
		Content:    note.Content,
		CreatorID:  note.CreatorID,
		SharedWith: note.SharedUserIDs(),
		IsArchived: note.IsArchived,
	})
}

// usersFor loads the display records for everyone involved with a note.
// A lookup failure degrades projections to bare ids instead of failing the
// mutation that already persisted.
func (s *Service) usersFor(ctx context.Context, notes ...store.Note) map[string]store.User {
	ids := make([]string, 0, len(notes)*2)
	seen := make(map[string]bool)
	for _, note := range notes {
		for _, id := range append(note.SharedUserIDs(), note.CreatorID) {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	users, err := s.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		log.Printf("app: load users for projection: %v", err)
		return map[string]store.User{}
	}
	return users
}

func (s *Service) noteSnapshot(ctx context.Context, note store.Note) map[string]any {
	return notify.Snapshot(note, s.usersFor(ctx, note))
}

func (s *Service) noteSnapshots(ctx context.Context, notes []store.Note) []map[string]any {
	users := s.usersFor(ctx, notes...)
	items := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		items = append(items, notify.Snapshot(note, users))
	}
	return items
}
