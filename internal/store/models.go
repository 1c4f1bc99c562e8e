package store

import "time"

type Document struct {
	ID        string
	Title     string
	Source    string // object key of the flattened text in the docstore
	PageCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Annotation is the persisted server-side record. Rects are stored as
// submitted by the client but remain a client-only rendering concern:
// list and read responses never include them.
type Annotation struct {
	ID          string
	DocumentID  string
	PageNumber  int
	StartOffset int
	EndOffset   int
	Color       string
	Note        string
	Rects       string // raw JSON, opaque to the server
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
