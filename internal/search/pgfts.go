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

// Search queries annotations.note_tsv with plainto_tsquery and ts_rank,
// using ts_headline for snippets.
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

	where := "a.note_tsv @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	if q.FilterDocumentID != "" {
		where += fmt.Sprintf(" AND a.document_id = $%d", argN)
		args = append(args, q.FilterDocumentID)
		argN++
	}
	if q.FilterColor != "" {
		where += fmt.Sprintf(" AND a.color = $%d", argN)
		args = append(args, q.FilterColor)
		argN++
	}

	countSQL := "SELECT count(*) FROM annotations a WHERE " + where

	dataSQL := fmt.Sprintf(`
		SELECT a.id, a.document_id, a.page_number, a.color,
			ts_headline('english', coalesce(a.note, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM annotations a
		WHERE %s
		ORDER BY ts_rank(a.note_tsv, plainto_tsquery('english', $1)) DESC, a.created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.AnnotationID, &r.DocumentID, &r.PageNumber, &r.Color, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all annotations with notes for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]AnnotationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, coalesce(note, ''), document_id, page_number, color
		FROM annotations
		WHERE coalesce(note, '') <> ''
	`)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	defer rows.Close()

	records := make([]AnnotationRecord, 0)
	for rows.Next() {
		var a AnnotationRecord
		if err := rows.Scan(&a.ID, &a.Note, &a.DocumentID, &a.PageNumber, &a.Color); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		records = append(records, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}

	return records, nil
}
