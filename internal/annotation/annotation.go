// Package annotation defines the client-side annotation model shared by the
// anchor calculator, the sync coordinator, the overlay renderer and the
// remote client.
package annotation

import (
	"fmt"
	"strings"
	"time"

	"marginalia/internal/geometry"
	"marginalia/internal/util"
)

// PendingIDPrefix marks locally generated ids for annotations that have not
// yet been confirmed by the remote store.
const PendingIDPrefix = "pending"

// Color is the highlight color. The set is closed; anything else is a
// caller bug surfaced through Valid.
type Color string

const (
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorPink   Color = "pink"
)

func (c Color) Valid() bool {
	switch c {
	case ColorYellow, ColorGreen, ColorBlue, ColorPink:
		return true
	}
	return false
}

// Position is the geometry-independent location of a selection inside one
// document, plus the content-coordinate rectangles used for rendering.
type Position struct {
	PageNumber  int             `json:"pageNumber"`
	StartOffset int             `json:"startOffset"`
	EndOffset   int             `json:"endOffset"`
	Rects       []geometry.Rect `json:"rects"`
}

func (p Position) Validate() error {
	if p.PageNumber < 1 {
		return fmt.Errorf("page number must be >= 1, got %d", p.PageNumber)
	}
	if p.StartOffset < 0 || p.StartOffset >= p.EndOffset {
		return fmt.Errorf("invalid offsets: start=%d end=%d", p.StartOffset, p.EndOffset)
	}
	if len(p.Rects) == 0 {
		return fmt.Errorf("position has no rects")
	}
	for i, r := range p.Rects {
		if !r.Valid() {
			return fmt.Errorf("rect %d has non-positive area: %v", i, r)
		}
	}
	return nil
}

// Annotation is a persisted or pending user markup.
type Annotation struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Position   Position  `json:"position"`
	Color      Color     `json:"color"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Changes is a partial update to a mutable annotation field. Nil fields are
// left untouched.
type Changes struct {
	Color *Color  `json:"color,omitempty"`
	Note  *string `json:"note,omitempty"`
}

// IsPending reports whether the annotation still carries a locally
// generated id.
func (a Annotation) IsPending() bool {
	return strings.HasPrefix(a.ID, PendingIDPrefix+"_")
}

// NewPendingID generates a local id for an unsynced annotation.
func NewPendingID() string {
	return util.NewID(PendingIDPrefix)
}
