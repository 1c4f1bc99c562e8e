// Package anchor converts ephemeral, pixel-based text selections into
// durable positions: character offsets into the document's flattened text
// plus rectangles in content coordinates that stay put while the user
// scrolls.
package anchor

import (
	"strings"

	"marginalia/internal/annotation"
	"marginalia/internal/geometry"
)

// Calculator computes stable positions from live selections. It is pure:
// no side effects, no retained state beyond its two collaborators.
type Calculator struct {
	selection SelectionProvider
	container ContentContainer
}

func NewCalculator(selection SelectionProvider, container ContentContainer) *Calculator {
	return &Calculator{selection: selection, container: container}
}

// Anchor turns the current selection into a Position. The second return is
// false when there is no usable anchor: empty selection, selection outside
// the container, no rects with positive area, or selected text not present
// in the flattened content. Callers treat false as a no-op, never as an
// error to surface.
func (c *Calculator) Anchor() (annotation.Position, bool) {
	sel, ok := c.selection.CurrentSelection()
	if !ok || sel.IsEmpty() || !sel.InsideContainer {
		return annotation.Position{}, false
	}

	origin := c.container.BoundingBox()
	scroll := c.container.ScrollOffset()

	rects := make([]geometry.Rect, 0, len(sel.ClientRects))
	for _, r := range sel.ClientRects {
		if !r.Valid() {
			continue
		}
		// client -> content: subtract the container's viewport position,
		// add the current scroll offset. The result is stable under any
		// future scrolling.
		rects = append(rects, r.Translate(scroll.X-origin.X, scroll.Y-origin.Y))
	}
	if len(rects) == 0 {
		return annotation.Position{}, false
	}

	start, end, ok := OffsetsOf(c.container.Text(), sel.Text)
	if !ok {
		return annotation.Position{}, false
	}

	page := c.container.PageAt(geometry.Point{X: rects[0].X, Y: rects[0].Y})
	if page < 1 {
		page = 1
	}

	return annotation.Position{
		PageNumber:  page,
		StartOffset: start,
		EndOffset:   end,
		Rects:       rects,
	}, true
}

// OffsetsOf locates selected within text and returns [start, end) rune
// offsets. First-occurrence semantics: when the same phrase repeats in the
// document the earliest match wins, which can anchor to the wrong
// occurrence. Known-fragile; changing it changes the serialized anchor
// format.
func OffsetsOf(text, selected string) (start, end int, ok bool) {
	if selected == "" {
		return 0, 0, false
	}
	byteIdx := strings.Index(text, selected)
	if byteIdx < 0 {
		return 0, 0, false
	}
	start = len([]rune(text[:byteIdx]))
	end = start + len([]rune(selected))
	return start, end, true
}
