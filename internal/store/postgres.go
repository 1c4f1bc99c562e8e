package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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

func (s *PostgresStore) InsertDocument(ctx context.Context, d Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, source, page_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, d.ID, d.Title, d.Source, d.PageCount)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, source, page_count, created_at, updated_at
		FROM documents WHERE id = $1
	`, id).Scan(&d.ID, &d.Title, &d.Source, &d.PageCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, source, page_count, created_at, updated_at
		FROM documents ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.PageCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) InsertAnnotation(ctx context.Context, a Annotation) (Annotation, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO annotations (id, document_id, page_number, start_offset, end_offset, color, note, rects)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, a.ID, a.DocumentID, a.PageNumber, a.StartOffset, a.EndOffset, a.Color, a.Note, a.Rects).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Annotation{}, fmt.Errorf("insert annotation: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, documentID, id string) (Annotation, error) {
	var a Annotation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, page_number, start_offset, end_offset, color, note, created_at, updated_at
		FROM annotations WHERE document_id = $1 AND id = $2
	`, documentID, id).Scan(&a.ID, &a.DocumentID, &a.PageNumber, &a.StartOffset, &a.EndOffset,
		&a.Color, &a.Note, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Annotation{}, err
	}
	return a, nil
}

// UpdateAnnotation applies a partial color/note change. Nil fields keep
// their stored value. Returns the updated row and false when no row
// matched.
func (s *PostgresStore) UpdateAnnotation(ctx context.Context, documentID, id string, color, note *string) (Annotation, bool, error) {
	var a Annotation
	err := s.db.QueryRowContext(ctx, `
		UPDATE annotations
		SET color = COALESCE($3, color),
		    note = COALESCE($4, note),
		    updated_at = NOW()
		WHERE document_id = $1 AND id = $2
		RETURNING id, document_id, page_number, start_offset, end_offset, color, note, created_at, updated_at
	`, documentID, id, color, note).Scan(&a.ID, &a.DocumentID, &a.PageNumber, &a.StartOffset,
		&a.EndOffset, &a.Color, &a.Note, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Annotation{}, false, nil
	}
	if err != nil {
		return Annotation{}, false, fmt.Errorf("update annotation: %w", err)
	}
	return a, true, nil
}

// DeleteAnnotation removes the row, returning it so callers can de-index
// it. False when no row matched.
func (s *PostgresStore) DeleteAnnotation(ctx context.Context, documentID, id string) (Annotation, bool, error) {
	var a Annotation
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM annotations
		WHERE document_id = $1 AND id = $2
		RETURNING id, document_id, page_number, start_offset, end_offset, color, note, created_at, updated_at
	`, documentID, id).Scan(&a.ID, &a.DocumentID, &a.PageNumber, &a.StartOffset,
		&a.EndOffset, &a.Color, &a.Note, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Annotation{}, false, nil
	}
	if err != nil {
		return Annotation{}, false, fmt.Errorf("delete annotation: %w", err)
	}
	return a, true, nil
}

// ListAnnotations returns annotations in creation order. Rects are never
// selected; geometry is recomputed client-side.
func (s *PostgresStore) ListAnnotations(ctx context.Context, documentID string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, page_number, start_offset, end_offset, color, note, created_at, updated_at
		FROM annotations WHERE document_id = $1
		ORDER BY created_at, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var list []Annotation
	for rows.Next() {
		var a Annotation
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.PageNumber, &a.StartOffset, &a.EndOffset,
			&a.Color, &a.Note, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (s *PostgresStore) AnnotationCount(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM annotations WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count annotations: %w", err)
	}
	return count, nil
}
