// Package overlay projects stored annotation geometry onto the live
// scroll/zoom state of the content container and resolves pointer hits back
// to annotation ids.
package overlay

import (
	"marginalia/internal/annotation"
	"marginalia/internal/geometry"
)

// View is the current render transform of the content container.
type View struct {
	Scroll geometry.Point
	Zoom   float64
}

func (v View) zoom() float64 {
	if v.Zoom <= 0 {
		return 1
	}
	return v.Zoom
}

// ToScreen maps a content-coordinate rect to screen coordinates:
// screen = (content - scroll) * zoom. The inverse of the translation the
// anchor calculator applied, so shapes track the document while it scrolls
// without recomputing offsets.
func (v View) ToScreen(r geometry.Rect) geometry.Rect {
	return r.Translate(-v.Scroll.X, -v.Scroll.Y).Scale(v.zoom())
}

// ToContent maps a screen-coordinate point back into content coordinates.
func (v View) ToContent(p geometry.Point) geometry.Point {
	z := v.zoom()
	return geometry.Point{X: p.X/z + v.Scroll.X, Y: p.Y/z + v.Scroll.Y}
}

// Shape is one drawable highlight fragment.
type Shape struct {
	AnnotationID string
	Color        annotation.Color
	Rect         geometry.Rect // screen coordinates
}

// Renderer is stateless; every call projects from the latest store
// snapshot.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Project produces one shape per valid rect of every annotation that has
// geometry. Rects are normalized before use: geometry may have crossed a
// serialization boundary, so malformed or zero-area entries are dropped
// rather than drawn.
func (r *Renderer) Project(annotations []annotation.Annotation, view View) []Shape {
	var shapes []Shape
	for _, a := range annotations {
		for _, raw := range a.Position.Rects {
			rect, ok := geometry.NormalizeRect(raw)
			if !ok {
				continue
			}
			shapes = append(shapes, Shape{
				AnnotationID: a.ID,
				Color:        a.Color,
				Rect:         view.ToScreen(rect),
			})
		}
	}
	return shapes
}

// HitTest resolves a screen-coordinate pointer position to the top-most
// annotation containing it. Overlapping annotations resolve to the most
// recently created one; equal creation times fall back to store order, the
// later entry winning.
func (r *Renderer) HitTest(annotations []annotation.Annotation, p geometry.Point, view View) (string, bool) {
	content := view.ToContent(p)
	hitID := ""
	hit := false
	var hitIdx int
	for i, a := range annotations {
		if !contains(a, content) {
			continue
		}
		if !hit {
			hitID, hitIdx, hit = a.ID, i, true
			continue
		}
		cur := annotations[hitIdx]
		if a.CreatedAt.After(cur.CreatedAt) || (a.CreatedAt.Equal(cur.CreatedAt) && i > hitIdx) {
			hitID, hitIdx = a.ID, i
		}
	}
	return hitID, hit
}

func contains(a annotation.Annotation, p geometry.Point) bool {
	for _, raw := range a.Position.Rects {
		rect, ok := geometry.NormalizeRect(raw)
		if !ok {
			continue
		}
		if rect.Contains(p) {
			return true
		}
	}
	return false
}
