package viewer

import (
	"testing"

	"marginalia/internal/annotation"
	"marginalia/internal/geometry"
)

func testAnnotation(id string) annotation.Annotation {
	return annotation.Annotation{
		ID:         id,
		DocumentID: "doc-1",
		Position: annotation.Position{
			PageNumber:  1,
			StartOffset: 0,
			EndOffset:   5,
			Rects:       []geometry.Rect{{X: 0, Y: 0, Width: 10, Height: 10}},
		},
		Color: annotation.ColorYellow,
	}
}

func TestStoreListPreservesInsertionOrder(t *testing.T) {
	s := NewStore()
	s.Add(testAnnotation("a"))
	s.Add(testAnnotation("b"))
	s.Add(testAnnotation("c"))

	list := s.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 annotations, got %d", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID != want {
			t.Errorf("list[%d].ID = %s, want %s", i, list[i].ID, want)
		}
	}
}

func TestStoreReplaceKeepsOrderSlotAcrossIDChange(t *testing.T) {
	s := NewStore()
	s.Add(testAnnotation("pending_1"))
	s.Add(testAnnotation("b"))

	promoted := testAnnotation("server-9")
	if !s.Replace("pending_1", promoted) {
		t.Fatalf("Replace returned false")
	}

	list := s.List()
	if list[0].ID != "server-9" || list[1].ID != "b" {
		t.Errorf("order after promotion = [%s %s], want [server-9 b]", list[0].ID, list[1].ID)
	}
	if _, ok := s.Get("pending_1"); ok {
		t.Errorf("old id still resolvable after promotion")
	}
}

func TestStoreReplaceIsIdempotent(t *testing.T) {
	s := NewStore()
	s.Add(testAnnotation("pending_1"))

	promoted := testAnnotation("server-9")
	s.Replace("pending_1", promoted)
	before := s.List()

	// Applying the same confirmation twice leaves the store unchanged.
	s.Replace("pending_1", promoted)
	after := s.List()

	if len(before) != 1 || len(after) != 1 {
		t.Fatalf("expected 1 annotation, got %d then %d", len(before), len(after))
	}
	if before[0].ID != after[0].ID {
		t.Errorf("replay changed the record: %s vs %s", before[0].ID, after[0].ID)
	}
}

func TestStoreReplaceAbsentIDIsNoOp(t *testing.T) {
	s := NewStore()
	if s.Replace("missing", testAnnotation("missing")) {
		t.Errorf("Replace of absent id reported success")
	}
	if s.Len() != 0 {
		t.Errorf("store mutated by no-op replace")
	}
}

func TestStoreRemoveReturnsRecordForRollback(t *testing.T) {
	s := NewStore()
	a := testAnnotation("a")
	a.Note = "important"
	s.Add(a)

	removed, ok := s.Remove("a")
	if !ok {
		t.Fatalf("Remove failed")
	}
	if removed.Note != "important" {
		t.Errorf("removed record lost fields: %+v", removed)
	}
	if s.Len() != 0 {
		t.Errorf("record still present after remove")
	}

	if _, ok := s.Remove("a"); ok {
		t.Errorf("second remove reported success")
	}
}
