package geom

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// Box is an axis-aligned rectangle given by its corners (X1,Y1) and (X2,Y2).
// Whether it is in frame or crop space depends on where it came from.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func NewBox(x1, y1, x2, y2 int) Box {
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func (b Box) Width() int {
	return b.X2 - b.X1
}

func (b Box) Height() int {
	return b.Y2 - b.Y1
}

// Empty is true when the box covers no pixels.
// Inverted boxes are empty too.
func (b Box) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Clamp limits the box to a width x height frame.
// The result always has X1 <= X2 and Y1 <= Y2. A box that lies completely
// outside the frame, or was inverted to begin with, collapses to an empty box.
func (b Box) Clamp(width, height int) Box {
	c := Box{
		X1: max(0, b.X1),
		Y1: max(0, b.Y1),
		X2: min(width, b.X2),
		Y2: min(height, b.Y2),
	}
	// Keep the collapsed edge inside the frame as well
	c.X1 = min(c.X1, width)
	c.Y1 = min(c.Y1, height)
	if c.X2 < c.X1 {
		c.X2 = c.X1
	}
	if c.Y2 < c.Y1 {
		c.Y2 = c.Y1
	}
	return c
}

// Translate moves the box by (dx, dy). It never scales.
func (b Box) Translate(dx, dy int) Box {
	return Box{
		X1: b.X1 + dx,
		Y1: b.Y1 + dy,
		X2: b.X2 + dx,
		Y2: b.Y2 + dy,
	}
}

// Origin is the top-left corner
func (b Box) Origin() image.Point {
	return image.Pt(b.X1, b.Y1)
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

func FromRect(r image.Rectangle) Box {
	return Box{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", b.X1, b.Y1, b.X2, b.Y2)
}

// Size is a frame resolution. The zero value means "keep the native size".
type Size struct {
	Width  int
	Height int
}

func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

func (s Size) Point() image.Point {
	return image.Pt(s.Width, s.Height)
}

func (s Size) String() string {
	if s.IsZero() {
		return "native"
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses "1280x720". An empty string or "native" yields the zero Size.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "native" {
		return Size{}, nil
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return Size{}, fmt.Errorf("invalid resolution %q, expected WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("invalid resolution width %q: %w", w, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("invalid resolution height %q: %w", h, err)
	}
	if width <= 0 || height <= 0 {
		return Size{}, fmt.Errorf("resolution %q must be positive", s)
	}
	return Size{Width: width, Height: height}, nil
}
