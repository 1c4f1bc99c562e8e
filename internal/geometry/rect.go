// Package geometry provides the rectangle and point types shared by the
// anchor calculator and the overlay renderer. All stored rectangles are in
// content coordinates: relative to the scrollable content origin, invariant
// under scrolling.
package geometry

import (
	"encoding/json"
	"fmt"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the rect has positive area.
func (r Rect) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Contains reports whether p lies inside the rect (edges inclusive).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Translate returns the rect shifted by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Scale returns the rect with all coordinates multiplied by factor.
func (r Rect) Scale(factor float64) Rect {
	return Rect{X: r.X * factor, Y: r.Y * factor, Width: r.Width * factor, Height: r.Height * factor}
}

// NormalizeRect coerces a value that crossed a serialization boundary into a
// Rect. JSON decoding into `any` yields map[string]any with float64 values;
// numbers may also arrive as int when built in-process. Returns false when
// the value cannot be interpreted as a rectangle with positive area.
func NormalizeRect(v any) (Rect, bool) {
	switch val := v.(type) {
	case Rect:
		return val, val.Valid()
	case *Rect:
		if val == nil {
			return Rect{}, false
		}
		return *val, val.Valid()
	case map[string]any:
		r := Rect{}
		var ok bool
		if r.X, ok = toFloat(val["x"]); !ok {
			return Rect{}, false
		}
		if r.Y, ok = toFloat(val["y"]); !ok {
			return Rect{}, false
		}
		if r.Width, ok = toFloat(val["width"]); !ok {
			return Rect{}, false
		}
		if r.Height, ok = toFloat(val["height"]); !ok {
			return Rect{}, false
		}
		return r, r.Valid()
	default:
		return Rect{}, false
	}
}

// NormalizeRects filters arbitrary values down to valid rects, preserving
// order. Invalid entries are dropped rather than propagated.
func NormalizeRects(values []any) []Rect {
	rects := make([]Rect, 0, len(values))
	for _, v := range values {
		if r, ok := NormalizeRect(v); ok {
			rects = append(rects, r)
		}
	}
	return rects
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%g,%g %gx%g)", r.X, r.Y, r.Width, r.Height)
}
