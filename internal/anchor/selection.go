package anchor

import "marginalia/internal/geometry"

// Selection is a snapshot of an active text selection, expressed in client
// (viewport) coordinates. It replaces ambient selection state: whoever owns
// the text surface implements SelectionProvider and hands snapshots in.
type Selection struct {
	// Text is the selected text as the user sees it.
	Text string
	// ClientRects holds one viewport-coordinate rectangle per visual line
	// fragment the selection spans.
	ClientRects []geometry.Rect
	// InsideContainer reports whether the selection lies within the content
	// container the calculator is bound to.
	InsideContainer bool
}

// IsEmpty reports whether there is nothing usable selected.
func (s Selection) IsEmpty() bool {
	return s.Text == "" || len(s.ClientRects) == 0
}

// SelectionProvider yields the current selection, if any.
type SelectionProvider interface {
	// CurrentSelection returns the active selection and true, or false when
	// nothing is selected.
	CurrentSelection() (Selection, bool)
}

// ContentContainer is the scrollable surface the document is rendered
// into. Implementations wrap whatever text-layout engine displays the
// document; the calculator and the overlay renderer only need this view of
// it.
type ContentContainer interface {
	// ScrollOffset returns the current scroll position of the content.
	ScrollOffset() geometry.Point
	// BoundingBox returns the container's bounding box in viewport
	// coordinates.
	BoundingBox() geometry.Rect
	// Text returns the flattened text content of the document.
	Text() string
	// PageAt maps a content-coordinate point to a page number. Single-page
	// containers return 1 for every point.
	PageAt(p geometry.Point) int
}
