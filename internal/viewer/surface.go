package viewer

import (
	"context"

	"marginalia/internal/anchor"
	"marginalia/internal/annotation"
	"marginalia/internal/geometry"
	"marginalia/internal/overlay"
)

// RangeMeasurer is an optional content-container capability: compute
// content-coordinate rects for a character range. Containers that can
// measure ranges get automatic geometry recovery after a reload; the rest
// leave re-anchoring to the next user selection.
type RangeMeasurer interface {
	RectsForRange(start, end int) []geometry.Rect
}

// Surface is the thin glue between pointer/selection events and the
// engine: selections flow through the anchor calculator into coordinator
// commands, pointer hits resolve through the overlay renderer back to
// annotation ids.
type Surface struct {
	calculator  *anchor.Calculator
	coordinator *Coordinator
	renderer    *overlay.Renderer
	container   anchor.ContentContainer
}

func NewSurface(calc *anchor.Calculator, coord *Coordinator, renderer *overlay.Renderer, container anchor.ContentContainer) *Surface {
	return &Surface{
		calculator:  calc,
		coordinator: coord,
		renderer:    renderer,
		container:   container,
	}
}

// Highlight anchors the current selection and creates an annotation from
// it. A selection that yields no anchor is a silent no-op, never a
// user-facing error. Returns the local id and whether anything happened.
func (s *Surface) Highlight(color annotation.Color, note string) (string, bool) {
	pos, ok := s.calculator.Anchor()
	if !ok {
		return "", false
	}
	return s.coordinator.Create(pos, color, note), true
}

// HitAnnotation resolves a pointer position to the annotation under it.
func (s *Surface) HitAnnotation(p geometry.Point) (annotation.Annotation, bool) {
	view := s.currentView()
	id, ok := s.renderer.HitTest(s.coordinator.Annotations(), p, view)
	if !ok {
		return annotation.Annotation{}, false
	}
	return s.coordinator.Annotation(id)
}

// Recolor routes an edit command for a hit annotation.
func (s *Surface) Recolor(id string, color annotation.Color) {
	s.coordinator.UpdateColor(id, color)
}

// SetNote routes a note edit for a hit annotation.
func (s *Surface) SetNote(id, note string) {
	s.coordinator.UpdateNote(id, note)
}

// Remove routes a delete command for a hit annotation.
func (s *Surface) Remove(id string) {
	s.coordinator.Delete(id)
}

// Shapes projects the current store snapshot for drawing.
func (s *Surface) Shapes() []overlay.Shape {
	return s.renderer.Project(s.coordinator.Annotations(), s.currentView())
}

// Load pulls the annotation list from the remote store and, when the
// container can measure character ranges, recomputes the geometry the list
// endpoint never returns. Annotations whose offsets cannot be measured
// stay geometry-less until the user re-selects.
func (s *Surface) Load(ctx context.Context) error {
	if err := s.coordinator.Load(ctx); err != nil {
		return err
	}
	measurer, ok := s.container.(RangeMeasurer)
	if !ok {
		return nil
	}
	for _, a := range s.coordinator.Annotations() {
		if len(a.Position.Rects) > 0 {
			continue
		}
		rects := measurer.RectsForRange(a.Position.StartOffset, a.Position.EndOffset)
		if len(rects) > 0 {
			s.coordinator.SetGeometry(a.ID, rects)
		}
	}
	return nil
}

// Zoomer is an optional content-container capability; containers without it
// render at 1:1.
type Zoomer interface {
	Zoom() float64
}

func (s *Surface) currentView() overlay.View {
	view := overlay.View{Scroll: s.container.ScrollOffset(), Zoom: 1}
	if z, ok := s.container.(Zoomer); ok {
		view.Zoom = z.Zoom()
	}
	return view
}
