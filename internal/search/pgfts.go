package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the notes table, restricted to notes the
// user created or has a share on, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `n.fts @@ plainto_tsquery('english', $1)
		AND (n.creator_id = $2 OR EXISTS (
			SELECT 1 FROM note_shares ns WHERE ns.note_id = n.id AND ns.user_id = $2
		))`
	if !q.IncludeArchived {
		where += " AND n.is_archived = FALSE"
	}

	args := []any{q.Text, q.UserID}
	ctx := context.Background()

	var total int
	countSQL := fmt.Sprintf(`SELECT count(*) FROM notes n WHERE %s`, where)
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT n.id, n.title,
			ts_headline('english', coalesce(n.content, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			n.creator_id, n.is_archived
		FROM notes n
		WHERE %s
		ORDER BY ts_rank(n.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.CreatorID, &r.IsArchived); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable notes for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]NoteRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT n.id, n.title, n.content, n.creator_id, n.is_archived,
			coalesce(array_agg(ns.user_id) FILTER (WHERE ns.user_id IS NOT NULL), '{}')
		FROM notes n
		LEFT JOIN note_shares ns ON ns.note_id = n.id
		GROUP BY n.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	defer rows.Close()

	records := make([]NoteRecord, 0)
	for rows.Next() {
		var record NoteRecord
		var sharedWith []byte
		if err := rows.Scan(&record.ID, &record.Title, &record.Content, &record.CreatorID, &record.IsArchived, &sharedWith); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		record.SharedWith = parsePgArray(string(sharedWith))
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return records, nil
}

// parsePgArray decodes a simple text[] literal of user ids. Ids are hex
// strings with a prefix, so no quoting or escaping appears in practice.
func parsePgArray(raw string) []string {
	trimmed := strings.Trim(raw, "{}")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.Trim(part, `"`))
	}
	return out
}
