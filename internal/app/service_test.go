package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"marginalia/internal/cache"
	"marginalia/internal/search"
	"marginalia/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	documents   map[string]store.Document
	annotations []store.Annotation
	insertErr   error
	pingErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{documents: map[string]store.Document{}}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) InsertDocument(_ context.Context, d store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.documents[d.ID]; !ok {
		f.documents[d.ID] = d
	}
	return nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return d, nil
}

func (f *fakeStore) ListDocuments(context.Context) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := make([]store.Document, 0, len(f.documents))
	for _, d := range f.documents {
		docs = append(docs, d)
	}
	return docs, nil
}

func (f *fakeStore) InsertAnnotation(_ context.Context, a store.Annotation) (store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return store.Annotation{}, f.insertErr
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	f.annotations = append(f.annotations, a)
	return a, nil
}

func (f *fakeStore) GetAnnotation(_ context.Context, documentID, id string) (store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.annotations {
		if a.DocumentID == documentID && a.ID == id {
			return a, nil
		}
	}
	return store.Annotation{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateAnnotation(_ context.Context, documentID, id string, color, note *string) (store.Annotation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.annotations {
		if a.DocumentID == documentID && a.ID == id {
			if color != nil {
				a.Color = *color
			}
			if note != nil {
				a.Note = *note
			}
			a.UpdatedAt = time.Now()
			f.annotations[i] = a
			return a, true, nil
		}
	}
	return store.Annotation{}, false, nil
}

func (f *fakeStore) DeleteAnnotation(_ context.Context, documentID, id string) (store.Annotation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.annotations {
		if a.DocumentID == documentID && a.ID == id {
			f.annotations = append(f.annotations[:i], f.annotations[i+1:]...)
			return a, true, nil
		}
	}
	return store.Annotation{}, false, nil
}

func (f *fakeStore) ListAnnotations(_ context.Context, documentID string) ([]store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Annotation
	for _, a := range f.annotations {
		if a.DocumentID == documentID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeCache struct {
	mu    sync.Mutex
	lists map[string][]store.Annotation
	gets  int
	hits  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{lists: map[string][]store.Annotation{}}
}

func (f *fakeCache) GetList(_ context.Context, documentID string) ([]store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	list, ok := f.lists[documentID]
	if !ok {
		return nil, fmt.Errorf("doc %s: %w", documentID, cache.ErrMiss)
	}
	f.hits++
	return list, nil
}

func (f *fakeCache) SetList(_ context.Context, documentID string, annotations []store.Annotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[documentID] = annotations
	return nil
}

func (f *fakeCache) Invalidate(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lists, documentID)
	return nil
}

func (f *fakeCache) Ping(context.Context) error { return nil }

type fakeSearch struct {
	mu       sync.Mutex
	indexed  []search.AnnotationRecord
	deleted  []string
	response search.Response
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	resp := f.response
	resp.Query = q.Text
	return resp
}

func (f *fakeSearch) IndexAnnotation(a search.AnnotationRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, a)
}

func (f *fakeSearch) DeleteAnnotation(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type fakeTexts struct {
	texts map[string]string
}

func (f *fakeTexts) GetText(_ context.Context, documentID string) (string, bool, error) {
	text, ok := f.texts[documentID]
	return text, ok, nil
}

func (f *fakeTexts) PutText(_ context.Context, documentID, text string) error {
	if f.texts == nil {
		f.texts = map[string]string{}
	}
	f.texts[documentID] = text
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{store: fs}
}

func seedDocument(fs *fakeStore, id string) {
	fs.documents[id] = store.Document{ID: id, Title: "Doc " + id, PageCount: 3}
}

func validInput() CreateAnnotationInput {
	return CreateAnnotationInput{
		PageNumber:  1,
		StartOffset: 4,
		EndOffset:   15,
		Color:       "yellow",
		Rects:       []byte(`[{"x":10,"y":20,"width":80,"height":14}]`),
	}
}

func TestCreateAnnotationAssignsServerID(t *testing.T) {
	fs := newFakeStore()
	seedDocument(fs, "doc-1")
	svc := newTestService(fs)

	created, err := svc.CreateAnnotation(context.Background(), "doc-1", validInput())
	if err != nil {
		t.Fatalf("CreateAnnotation failed: %v", err)
	}
	if created.ID == "" || strings.HasPrefix(created.ID, "pending") {
		t.Errorf("expected server-assigned id, got %q", created.ID)
	}
	if created.DocumentID != "doc-1" {
		t.Errorf("expected documentId doc-1, got %s", created.DocumentID)
	}
	if len(fs.annotations) != 1 {
		t.Fatalf("expected 1 stored annotation, got %d", len(fs.annotations))
	}
	if fs.annotations[0].Rects == "[]" || fs.annotations[0].Rects == "" {
		t.Errorf("expected submitted rects to be stored, got %q", fs.annotations[0].Rects)
	}
}

func TestCreateAnnotationValidation(t *testing.T) {
	fs := newFakeStore()
	seedDocument(fs, "doc-1")
	svc := newTestService(fs)

	cases := []struct {
		name   string
		mutate func(*CreateAnnotationInput)
	}{
		{"zero page", func(in *CreateAnnotationInput) { in.PageNumber = 0 }},
		{"negative start", func(in *CreateAnnotationInput) { in.StartOffset = -1 }},
		{"end equals start", func(in *CreateAnnotationInput) { in.EndOffset = in.StartOffset }},
		{"end before start", func(in *CreateAnnotationInput) { in.EndOffset = in.StartOffset - 1 }},
		{"unknown color", func(in *CreateAnnotationInput) { in.Color = "chartreuse" }},
		{"malformed rects", func(in *CreateAnnotationInput) { in.Rects = []byte(`{not json`) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)
			_, err := svc.CreateAnnotation(context.Background(), "doc-1", input)
			var domainErr *DomainError
			if !errors.As(err, &domainErr) {
				t.Fatalf("expected DomainError, got %v", err)
			}
			if domainErr.Code != "VALIDATION" {
				t.Errorf("expected VALIDATION code, got %s", domainErr.Code)
			}
			if domainErr.Status != 400 {
				t.Errorf("expected status 400, got %d", domainErr.Status)
			}
		})
	}
}

func TestCreateAnnotationUnknownDocument(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)

	_, err := svc.CreateAnnotation(context.Background(), "doc-missing", validInput())
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestUpdateAnnotationPartial(t *testing.T) {
	fs := newFakeStore()
	seedDocument(fs, "doc-1")
	svc := newTestService(fs)

	created, err := svc.CreateAnnotation(context.Background(), "doc-1", validInput())
	if err != nil {
		t.Fatalf("CreateAnnotation failed: %v", err)
	}

	color := "green"
	updated, err := svc.UpdateAnnotation(context.Background(), "doc-1", created.ID, UpdateAnnotationInput{Color: &color})
	if err != nil {
		t.Fatalf("UpdateAnnotation failed: %v", err)
	}
	if updated.Color != "green" {
		t.Errorf("expected color green, got %s", updated.Color)
	}
	if updated.Note != created.Note {
		t.Errorf("note changed by color-only update: %q", updated.Note)
	}

	note := "  follow up  "
	updated, err = svc.UpdateAnnotation(context.Background(), "doc-1", created.ID, UpdateAnnotationInput{Note: &note})
	if err != nil {
		t.Fatalf("UpdateAnnotation note failed: %v", err)
	}
	if updated.Note != "follow up" {
		t.Errorf("expected trimmed note, got %q", updated.Note)
	}
	if updated.Color != "green" {
		t.Errorf("color changed by note-only update: %s", updated.Color)
	}
}

func TestUpdateAnnotationRequiresField(t *testing.T) {
	fs := newFakeStore()
	seedDocument(fs, "doc-1")
	svc := newTestService(fs)

	_, err := svc.UpdateAnnotation(context.Background(), "doc-1", "ann-1", UpdateAnnotationInput{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION" {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestUpdateAnnotationNotFound(t *testing.T) {
	fs := newFakeStore()
	seedDocument(fs, "doc-1")
	svc := newTestService(fs)

	color := "blue"
	_, err := svc.UpdateAnnotation(context.Background(), "doc-1", "ann-missing", UpdateAnnotationInput{Color: &color})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestDeleteAnnotation(t *testing.T) {
	fs := newFakeStore()
	seedDocument(fs, "doc-1")
	svc := newTestService(fs)

	created, err := svc.CreateAnnotation(context.Background(), "doc-1", validInput())
	if err != nil {
		t.Fatalf("CreateAnnotation failed: %v", err)
	}

	if err := svc.DeleteAnnotation(context.Background(), "doc-1", created.ID); err != nil {
		t.Fatalf("DeleteAnnotation failed: %v", err)
	}
	if len(fs.annotations) != 0 {
		t.Errorf("expected annotation removed, %d remain", len(fs.annotations))
	}

	err = svc.DeleteAnnotation(context.Background(), "doc-1", created.ID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND on second delete, got %v", err)
	}
}

func TestListAnnotationsUsesCache(t *testing.T) {
	fs := newFakeStore()
	seedDocument(fs, "doc-1")
	fc := newFakeCache()
	svc := newTestService(fs)
	svc.cache = fc

	if _, err := svc.CreateAnnotation(context.Background(), "doc-1", validInput()); err != nil {
		t.Fatalf("CreateAnnotation failed: %v", err)
	}

	first, err := svc.ListAnnotations(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ListAnnotations failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 annotation, got %d", len(first))
	}
	if fc.hits != 0 {
		t.Errorf("expected cold cache on first list, got %d hits", fc.hits)
	}

	if _, err := svc.ListAnnotations(context.Background(), "doc-1"); err != nil {
		t.Fatalf("second ListAnnotations failed: %v", err)
	}
	if fc.hits != 1 {
		t.Errorf("expected cache hit on second list, got %d hits", fc.hits)
	}
}

func TestMutationsInvalidateCache(t *testing.T) {
	fs := newFakeStore()
	seedDocument(fs, "doc-1")
	fc := newFakeCache()
	svc := newTestService(fs)
	svc.cache = fc

	created, err := svc.CreateAnnotation(context.Background(), "doc-1", validInput())
	if err != nil {
		t.Fatalf("CreateAnnotation failed: %v", err)
	}
	if _, err := svc.ListAnnotations(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ListAnnotations failed: %v", err)
	}
	if _, ok := fc.lists["doc-1"]; !ok {
		t.Fatal("expected populated cache after list")
	}

	color := "pink"
	if _, err := svc.UpdateAnnotation(context.Background(), "doc-1", created.ID, UpdateAnnotationInput{Color: &color}); err != nil {
		t.Fatalf("UpdateAnnotation failed: %v", err)
	}
	if _, ok := fc.lists["doc-1"]; ok {
		t.Error("expected cache invalidated after update")
	}
}

func TestMutationsTouchSearchIndex(t *testing.T) {
	fs := newFakeStore()
	seedDocument(fs, "doc-1")
	fsearch := &fakeSearch{}
	svc := newTestService(fs)
	svc.search = fsearch

	input := validInput()
	input.Note = "load-testing evidence needed"
	created, err := svc.CreateAnnotation(context.Background(), "doc-1", input)
	if err != nil {
		t.Fatalf("CreateAnnotation failed: %v", err)
	}
	if len(fsearch.indexed) != 1 || fsearch.indexed[0].Note != "load-testing evidence needed" {
		t.Fatalf("expected note indexed on create, got %+v", fsearch.indexed)
	}

	if err := svc.DeleteAnnotation(context.Background(), "doc-1", created.ID); err != nil {
		t.Fatalf("DeleteAnnotation failed: %v", err)
	}
	if len(fsearch.deleted) != 1 || fsearch.deleted[0] != created.ID {
		t.Fatalf("expected delete from index, got %+v", fsearch.deleted)
	}
}

func TestDocumentText(t *testing.T) {
	fs := newFakeStore()
	seedDocument(fs, "doc-1")
	svc := newTestService(fs)
	svc.texts = &fakeTexts{texts: map[string]string{"doc-1": "The quick brown fox."}}

	text, err := svc.DocumentText(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("DocumentText failed: %v", err)
	}
	if text != "The quick brown fox." {
		t.Errorf("unexpected text: %q", text)
	}

	_, err = svc.DocumentText(context.Background(), "doc-missing")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND for unknown document, got %v", err)
	}
}

func TestBootstrapSeedsOnce(t *testing.T) {
	fs := newFakeStore()
	texts := &fakeTexts{}
	svc := newTestService(fs)
	svc.texts = texts

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if len(fs.documents) != 1 {
		t.Fatalf("expected 1 seeded document, got %d", len(fs.documents))
	}
	if len(texts.texts) != 1 {
		t.Fatalf("expected seeded document text, got %d", len(texts.texts))
	}

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second Bootstrap failed: %v", err)
	}
	if len(fs.documents) != 1 {
		t.Errorf("expected Bootstrap to be idempotent, got %d documents", len(fs.documents))
	}
}
