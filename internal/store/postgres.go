package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUsersByIDs(ctx context.Context, userIDs []string) (map[string]User, error) {
	users := make(map[string]User, len(userIDs))
	if len(userIDs) == 0 {
		return users, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users WHERE id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// ---- notes ----

const noteColumns = `id, title, content, creator_id, is_archived, archived_at, created_at, updated_at`

func (s *PostgresStore) InsertNote(ctx context.Context, note Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, creator_id)
		VALUES ($1, $2, $3, $4)
	`, note.ID, note.Title, note.Content, note.CreatorID)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	var note Note
	err := s.db.QueryRowContext(ctx, `
		SELECT `+noteColumns+` FROM notes WHERE id=$1
	`, noteID).Scan(&note.ID, &note.Title, &note.Content, &note.CreatorID,
		&note.IsArchived, &note.ArchivedAt, &note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		return Note{}, err
	}
	shares, err := s.loadShares(ctx, noteID)
	if err != nil {
		return Note{}, err
	}
	note.Shares = shares
	return note, nil
}

func (s *PostgresStore) UpdateNoteContent(ctx context.Context, noteID, title, content string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes SET title=$2, content=$3, updated_at=NOW() WHERE id=$1
	`, noteID, title, content)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update note affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete note affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TitleExistsForCreator reports whether another active note by the same
// creator already uses the title. excludeNoteID skips that note's own row so
// a rename (including a case-only one) never conflicts with itself; pass ""
// on create.
func (s *PostgresStore) TitleExistsForCreator(ctx context.Context, creatorID, title, excludeNoteID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM notes
			WHERE creator_id=$1 AND LOWER(title)=LOWER($2) AND is_archived=FALSE AND id <> $3
		)
	`, creatorID, title, excludeNoteID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check title: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListNotesByCreator(ctx context.Context, creatorID string, includeArchived bool) ([]Note, error) {
	return s.listNotes(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE creator_id=$1 AND (is_archived=FALSE OR $2)
		ORDER BY updated_at DESC
	`, creatorID, includeArchived)
}

func (s *PostgresStore) ListNotesSharedWith(ctx context.Context, userID string, includeArchived bool) ([]Note, error) {
	return s.listNotes(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE id IN (SELECT note_id FROM note_shares WHERE user_id=$1)
			AND (is_archived=FALSE OR $2)
		ORDER BY updated_at DESC
	`, userID, includeArchived)
}

func (s *PostgresStore) ListNotesVisibleTo(ctx context.Context, userID string, includeArchived bool) ([]Note, error) {
	return s.listNotes(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE (creator_id=$1 OR id IN (SELECT note_id FROM note_shares WHERE user_id=$1))
			AND (is_archived=FALSE OR $2)
		ORDER BY updated_at DESC
	`, userID, includeArchived)
}

func (s *PostgresStore) listNotes(ctx context.Context, query string, args ...any) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		var note Note
		if err := rows.Scan(&note.ID, &note.Title, &note.Content, &note.CreatorID,
			&note.IsArchived, &note.ArchivedAt, &note.CreatedAt, &note.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	for i := range items {
		shares, err := s.loadShares(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Shares = shares
	}
	return items, nil
}

// ---- shares ----

func (s *PostgresStore) loadShares(ctx context.Context, noteID string) ([]Share, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, email, role, created_at
		FROM note_shares WHERE note_id=$1
		ORDER BY created_at, user_id
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("load shares: %w", err)
	}
	defer rows.Close()

	shares := make([]Share, 0)
	for rows.Next() {
		var share Share
		if err := rows.Scan(&share.UserID, &share.Email, &share.Role, &share.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		shares = append(shares, share)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return shares, nil
}

func (s *PostgresStore) UpsertShare(ctx context.Context, noteID string, share Share) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO note_shares (note_id, user_id, email, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (note_id, user_id) DO UPDATE SET role=EXCLUDED.role, email=EXCLUDED.email
	`, noteID, share.UserID, share.Email, share.Role)
	if err != nil {
		return fmt.Errorf("upsert share: %w", err)
	}
	return s.touchNote(ctx, noteID)
}

func (s *PostgresStore) DeleteShare(ctx context.Context, noteID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM note_shares WHERE note_id=$1 AND user_id=$2
	`, noteID, userID)
	if err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete share affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return s.touchNote(ctx, noteID)
}

func (s *PostgresStore) touchNote(ctx context.Context, noteID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE notes SET updated_at=NOW() WHERE id=$1`, noteID); err != nil {
		return fmt.Errorf("touch note: %w", err)
	}
	return nil
}

// ---- archive ----

func (s *PostgresStore) ListStaleNotes(ctx context.Context, cutoff time.Time) ([]Note, error) {
	return s.listNotes(ctx, `
		SELECT `+noteColumns+` FROM notes
		WHERE is_archived=FALSE AND updated_at < $1
		ORDER BY updated_at
	`, cutoff)
}

// ArchiveStaleNote archives a note only if it is still unarchived and still
// older than cutoff, so a concurrent edit or a second sweep is a no-op.
// Returns whether this call performed the transition.
func (s *PostgresStore) ArchiveStaleNote(ctx context.Context, noteID string, cutoff, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes SET is_archived=TRUE, archived_at=$2, updated_at=$2
		WHERE id=$1 AND is_archived=FALSE AND updated_at < $3
	`, noteID, now, cutoff)
	if err != nil {
		return false, fmt.Errorf("archive stale note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("archive stale note affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetNoteArchived(ctx context.Context, noteID string, archived bool) error {
	var result sql.Result
	var err error
	if archived {
		result, err = s.db.ExecContext(ctx, `
			UPDATE notes SET is_archived=TRUE, archived_at=NOW(), updated_at=NOW() WHERE id=$1
		`, noteID)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE notes SET is_archived=FALSE, archived_at=NULL, updated_at=NOW() WHERE id=$1
		`, noteID)
	}
	if err != nil {
		return fmt.Errorf("set note archived: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set note archived affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.username, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Username, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint error.
func IsUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var pgErr coder
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
