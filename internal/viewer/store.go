package viewer

import "marginalia/internal/annotation"

// Store is the ordered, in-memory annotation collection for one document.
// It is a pure container: invariants on positions and colors are enforced
// by callers. List order is insertion order, which keeps rendering
// deterministic.
//
// The store is not safe for concurrent use on its own; the sync coordinator
// owns all command-originated mutations and serializes access.
type Store struct {
	order []string
	items map[string]annotation.Annotation
}

func NewStore() *Store {
	return &Store{items: make(map[string]annotation.Annotation)}
}

// Add appends the annotation. Adding an id that already exists overwrites
// the record in place without changing its order slot.
func (s *Store) Add(a annotation.Annotation) {
	if _, exists := s.items[a.ID]; !exists {
		s.order = append(s.order, a.ID)
	}
	s.items[a.ID] = a
}

// Replace swaps the record stored under id for a, which may carry a
// different id (pending id promoted to a server id). The order slot is
// preserved. Replacing an absent id is a no-op returning false; replaying
// the same replacement is idempotent.
func (s *Store) Replace(id string, a annotation.Annotation) bool {
	if _, exists := s.items[id]; !exists {
		if id == a.ID {
			return false
		}
		// Already promoted: re-applying the same confirmation must leave
		// the store unchanged.
		if _, promoted := s.items[a.ID]; promoted {
			s.items[a.ID] = a
			return true
		}
		return false
	}
	if id != a.ID {
		delete(s.items, id)
		for i, existing := range s.order {
			if existing == id {
				s.order[i] = a.ID
				break
			}
		}
	}
	s.items[a.ID] = a
	return true
}

// Remove deletes the annotation and returns it for rollback capture.
func (s *Store) Remove(id string) (annotation.Annotation, bool) {
	a, exists := s.items[id]
	if !exists {
		return annotation.Annotation{}, false
	}
	delete(s.items, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return a, true
}

func (s *Store) Get(id string) (annotation.Annotation, bool) {
	a, exists := s.items[id]
	return a, exists
}

// List returns annotations in insertion order. The slice is a copy; callers
// may not mutate store entries through it.
func (s *Store) List() []annotation.Annotation {
	list := make([]annotation.Annotation, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.items[id])
	}
	return list
}

func (s *Store) Len() int {
	return len(s.order)
}
