package annotate

import (
	"image/color"
	"strings"

	"gocv.io/x/gocv"
)

// Colors are RGB; gocv converts them to the BGR order of the frame.
var (
	GroupColor   = color.RGBA{R: 0, G: 255, B: 255, A: 0} // cyan
	RedColor     = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	GreenColor   = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	YellowColor  = color.RGBA{R: 255, G: 255, B: 0, A: 0}
	DefaultColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Style controls how boxes and labels are drawn
type Style struct {
	Font            gocv.HersheyFont
	FontScale       float64
	BoxThickness    int
	GroupText       int // Thickness of the group label
	LightText       int // Thickness of the light labels
	GroupTextOffset int // Distance of the group label above the box
	LightTextOffset int // Distance of the light labels above the box
}

func DefaultStyle() Style {
	return Style{
		Font:            gocv.FontHersheySimplex,
		FontScale:       0.5,
		BoxThickness:    2,
		GroupText:       2,
		LightText:       1,
		GroupTextOffset: 10,
		LightTextOffset: 5,
	}
}

var lightClasses = []struct {
	name  string
	color color.RGBA
}{
	{"red", RedColor},
	{"green", GreenColor},
	{"yellow", YellowColor},
}

// Classify maps a detector class name onto a canonical light state and its
// display color. Matching is a case-insensitive substring test, checked in the
// order red, green, yellow, so "Red_Signal" and "red-arrow" are both red.
// Unrecognized names keep their text and are drawn in white.
func Classify(label string) (string, color.RGBA) {
	lower := strings.ToLower(label)
	for _, c := range lightClasses {
		if strings.Contains(lower, c.name) {
			return c.name, c.color
		}
	}
	return label, DefaultColor
}
