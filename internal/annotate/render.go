package annotate

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Render draws result onto dst: each group box and label, then the lights of
// that group, in detector order. Skipped and failed groups still get their box.
func Render(dst *gocv.Mat, result *FrameResult, style Style) error {
	if result == nil {
		return nil
	}
	for _, g := range result.Groups {
		if err := gocv.Rectangle(dst, g.Box.Rect(), GroupColor, style.BoxThickness); err != nil {
			return fmt.Errorf("failed to draw group box: %w", err)
		}
		text := fmt.Sprintf("group %.2f", g.Confidence)
		pt := image.Pt(g.Box.X1, g.Box.Y1-style.GroupTextOffset)
		if err := gocv.PutText(dst, text, pt, style.Font, style.FontScale, GroupColor, style.GroupText); err != nil {
			return fmt.Errorf("failed to draw group label: %w", err)
		}

		for _, l := range g.Lights {
			if err := gocv.Rectangle(dst, l.Box.Rect(), l.Color, style.BoxThickness); err != nil {
				return fmt.Errorf("failed to draw light box: %w", err)
			}
			text := fmt.Sprintf("%s %.2f", l.Label, l.Confidence)
			pt := image.Pt(l.Box.X1, l.Box.Y1-style.LightTextOffset)
			if err := gocv.PutText(dst, text, pt, style.Font, style.FontScale, l.Color, style.LightText); err != nil {
				return fmt.Errorf("failed to draw light label: %w", err)
			}
		}
	}
	return nil
}
