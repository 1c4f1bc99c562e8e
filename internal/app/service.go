package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"marginalia/internal/cache"
	"marginalia/internal/docstore"
	"marginalia/internal/search"
	"marginalia/internal/store"
	"marginalia/internal/util"
)

// AnnotationPayload is the wire shape of an annotation. Rects are a
// client-only rendering concern and are never part of a response.
type AnnotationPayload struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"documentId"`
	PageNumber  int       `json:"pageNumber"`
	StartOffset int       `json:"startOffset"`
	EndOffset   int       `json:"endOffset"`
	Color       string    `json:"color"`
	Note        string    `json:"note"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type DocumentPayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	PageCount int       `json:"pageCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateAnnotationInput struct {
	PageNumber  int             `json:"pageNumber"`
	StartOffset int             `json:"startOffset"`
	EndOffset   int             `json:"endOffset"`
	Color       string          `json:"color"`
	Note        string          `json:"note"`
	Rects       json.RawMessage `json:"rects"`
}

type UpdateAnnotationInput struct {
	Color *string `json:"color"`
	Note  *string `json:"note"`
}

var allowedColors = map[string]struct{}{
	"yellow": {},
	"green":  {},
	"blue":   {},
	"pink":   {},
}

type dataStore interface {
	Ping(ctx context.Context) error
	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocuments(context.Context) ([]store.Document, error)
	InsertAnnotation(context.Context, store.Annotation) (store.Annotation, error)
	GetAnnotation(ctx context.Context, documentID, id string) (store.Annotation, error)
	UpdateAnnotation(ctx context.Context, documentID, id string, color, note *string) (store.Annotation, bool, error)
	DeleteAnnotation(ctx context.Context, documentID, id string) (store.Annotation, bool, error)
	ListAnnotations(ctx context.Context, documentID string) ([]store.Annotation, error)
}

type listCache interface {
	GetList(ctx context.Context, documentID string) ([]store.Annotation, error)
	SetList(ctx context.Context, documentID string, annotations []store.Annotation) error
	Invalidate(ctx context.Context, documentID string) error
	Ping(ctx context.Context) error
}

type noteSearch interface {
	Search(q search.Query) search.Response
	IndexAnnotation(a search.AnnotationRecord)
	DeleteAnnotation(id string)
}

type textStore interface {
	GetText(ctx context.Context, documentID string) (string, bool, error)
	PutText(ctx context.Context, documentID, text string) error
}

// Service implements the annotation API. cache, search, and texts may be
// nil; the service degrades to store-only behavior without them.
type Service struct {
	store  dataStore
	cache  listCache
	search noteSearch
	texts  textStore
}

func New(dataStore *store.PostgresStore, listCache *cache.AnnotationCache, noteSearch *search.Service, texts *docstore.Store) *Service {
	s := &Service{store: dataStore}
	if listCache != nil {
		s.cache = listCache
	}
	if noteSearch != nil {
		s.search = noteSearch
	}
	if texts != nil {
		s.texts = texts
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache reports cache reachability for the readiness probe.
func (s *Service) PingCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Ping(ctx)
}

// Bootstrap seeds a demo document when the database is empty.
func (s *Service) Bootstrap(ctx context.Context) error {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(documents) > 0 {
		return nil
	}

	doc := store.Document{
		ID:        "getting-started",
		Title:     "Getting Started with Marginalia",
		Source:    "getting-started.txt",
		PageCount: 1,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return err
	}

	if s.texts != nil {
		text := "Select any passage to highlight it. Highlights sync in the background; " +
			"if the server is unreachable they roll back and you can retry."
		if err := s.texts.PutText(ctx, doc.ID, text); err != nil {
			log.Printf("bootstrap: store document text: %v", err)
		}
	}
	return nil
}

func (s *Service) ListDocuments(ctx context.Context) ([]DocumentPayload, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	payloads := make([]DocumentPayload, 0, len(documents))
	for _, d := range documents {
		payloads = append(payloads, toDocumentPayload(d))
	}
	return payloads, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (DocumentPayload, error) {
	d, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentPayload{}, notFoundError("document not found")
	}
	if err != nil {
		return DocumentPayload{}, err
	}
	return toDocumentPayload(d), nil
}

// DocumentText returns the flattened text for a document.
func (s *Service) DocumentText(ctx context.Context, documentID string) (string, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return "", err
	}
	if s.texts == nil {
		return "", notFoundError("document text not available")
	}
	text, ok, err := s.texts.GetText(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("document text %s: %w", documentID, err)
	}
	if !ok {
		return "", notFoundError("document text not available")
	}
	return text, nil
}

// CreateAnnotation validates and persists a new annotation. The server
// assigns the ID; client-side pending IDs never reach storage.
func (s *Service) CreateAnnotation(ctx context.Context, documentID string, input CreateAnnotationInput) (AnnotationPayload, error) {
	if err := validateAnnotationInput(input); err != nil {
		return AnnotationPayload{}, err
	}
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return AnnotationPayload{}, err
	}

	rects := "[]"
	if len(input.Rects) > 0 {
		if !json.Valid(input.Rects) {
			return AnnotationPayload{}, validationError("rects must be valid JSON")
		}
		rects = string(input.Rects)
	}

	record := store.Annotation{
		ID:          util.NewID("ann"),
		DocumentID:  documentID,
		PageNumber:  input.PageNumber,
		StartOffset: input.StartOffset,
		EndOffset:   input.EndOffset,
		Color:       input.Color,
		Note:        strings.TrimSpace(input.Note),
		Rects:       rects,
	}

	created, err := s.store.InsertAnnotation(ctx, record)
	if err != nil {
		return AnnotationPayload{}, fmt.Errorf("insert annotation: %w", err)
	}

	s.invalidateList(ctx, documentID)
	s.indexNote(created)
	return toAnnotationPayload(created), nil
}

// UpdateAnnotation applies a partial update to color and/or note.
func (s *Service) UpdateAnnotation(ctx context.Context, documentID, id string, input UpdateAnnotationInput) (AnnotationPayload, error) {
	if input.Color == nil && input.Note == nil {
		return AnnotationPayload{}, validationError("at least one of color or note is required")
	}
	if input.Color != nil {
		if _, ok := allowedColors[*input.Color]; !ok {
			return AnnotationPayload{}, validationError("color must be one of yellow, green, blue, pink")
		}
	}
	if input.Note != nil {
		trimmed := strings.TrimSpace(*input.Note)
		input.Note = &trimmed
	}

	updated, found, err := s.store.UpdateAnnotation(ctx, documentID, id, input.Color, input.Note)
	if err != nil {
		return AnnotationPayload{}, fmt.Errorf("update annotation: %w", err)
	}
	if !found {
		return AnnotationPayload{}, notFoundError("annotation not found")
	}

	s.invalidateList(ctx, documentID)
	s.indexNote(updated)
	return toAnnotationPayload(updated), nil
}

// DeleteAnnotation removes an annotation.
func (s *Service) DeleteAnnotation(ctx context.Context, documentID, id string) error {
	deleted, found, err := s.store.DeleteAnnotation(ctx, documentID, id)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	if !found {
		return notFoundError("annotation not found")
	}

	s.invalidateList(ctx, documentID)
	if s.search != nil {
		s.search.DeleteAnnotation(deleted.ID)
	}
	return nil
}

// ListAnnotations returns the annotations for a document in creation order,
// served from the cache when possible.
func (s *Service) ListAnnotations(ctx context.Context, documentID string) ([]AnnotationPayload, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cached, err := s.cache.GetList(ctx, documentID); err == nil {
			return toAnnotationPayloads(cached), nil
		} else if !errors.Is(err, cache.ErrMiss) {
			log.Printf("cache: get list %s: %v", documentID, err)
		}
	}

	annotations, err := s.store.ListAnnotations(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetList(ctx, documentID, annotations); err != nil {
			log.Printf("cache: set list %s: %v", documentID, err)
		}
	}
	return toAnnotationPayloads(annotations), nil
}

// SearchAnnotations searches annotation notes.
func (s *Service) SearchAnnotations(q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

func (s *Service) invalidateList(ctx context.Context, documentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, documentID); err != nil {
		log.Printf("cache: invalidate %s: %v", documentID, err)
	}
}

func (s *Service) indexNote(a store.Annotation) {
	if s.search == nil {
		return
	}
	s.search.IndexAnnotation(search.AnnotationRecord{
		ID:         a.ID,
		Note:       a.Note,
		DocumentID: a.DocumentID,
		PageNumber: a.PageNumber,
		Color:      a.Color,
	})
}

func validateAnnotationInput(input CreateAnnotationInput) error {
	if input.PageNumber < 1 {
		return validationError("pageNumber must be >= 1")
	}
	if input.StartOffset < 0 {
		return validationError("startOffset must be >= 0")
	}
	if input.EndOffset <= input.StartOffset {
		return validationError("endOffset must be greater than startOffset")
	}
	if _, ok := allowedColors[input.Color]; !ok {
		return validationError("color must be one of yellow, green, blue, pink")
	}
	return nil
}

func toDocumentPayload(d store.Document) DocumentPayload {
	return DocumentPayload{
		ID:        d.ID,
		Title:     d.Title,
		PageCount: d.PageCount,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func toAnnotationPayload(a store.Annotation) AnnotationPayload {
	return AnnotationPayload{
		ID:          a.ID,
		DocumentID:  a.DocumentID,
		PageNumber:  a.PageNumber,
		StartOffset: a.StartOffset,
		EndOffset:   a.EndOffset,
		Color:       a.Color,
		Note:        a.Note,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func toAnnotationPayloads(annotations []store.Annotation) []AnnotationPayload {
	payloads := make([]AnnotationPayload, 0, len(annotations))
	for _, a := range annotations {
		payloads = append(payloads, toAnnotationPayload(a))
	}
	return payloads
}
