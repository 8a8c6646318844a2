package video

import (
	"gocv.io/x/gocv"
)

// screen is the part of *gocv.Window that Show needs
type screen interface {
	IMShow(img gocv.Mat) error
	WaitKey(delay int) int
}

// WindowPreview shows frames in a desktop window.
type WindowPreview struct {
	window  *gocv.Window
	screen  screen
	quitKey int
}

// NewWindowPreview opens a window named title. Pressing quitKey while the
// window has focus makes Show return ErrQuit.
func NewWindowPreview(title, quitKey string) *WindowPreview {
	key := int('q')
	if quitKey != "" {
		key = int(quitKey[0])
	}
	window := gocv.NewWindow(title)
	return &WindowPreview{
		window:  window,
		screen:  window,
		quitKey: key,
	}
}

// Show draws frame and polls the keyboard once. Drawing errors are returned
// so the caller can stop using the window.
func (w *WindowPreview) Show(frame gocv.Mat) error {
	if err := w.screen.IMShow(frame); err != nil {
		return err
	}
	if isQuitKey(w.screen.WaitKey(1), w.quitKey) {
		return ErrQuit
	}
	return nil
}

func isQuitKey(pressed, quit int) bool {
	return pressed >= 0 && pressed&0xFF == quit
}

func (w *WindowPreview) Close() error {
	if w.window == nil {
		return nil
	}
	return w.window.Close()
}
