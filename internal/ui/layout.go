package ui

import (
	"sync"

	"delayed-mirror/internal/render"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
)

// mirrorLayout fills its area with the first object (background) and
// centers the second (the frame) at the frame's own pixel size, shrunk to
// fit if needed. Each time the measured size changes it is reported in
// pixels so the renderer can scale to it. measure defaults to the area.
type mirrorLayout struct {
	canvas   fyne.Canvas
	measure  func(area fyne.Size) fyne.Size
	onResize func(render.Size)

	mu   sync.Mutex
	last render.Size
}

func (m *mirrorLayout) MinSize(objects []fyne.CanvasObject) fyne.Size {
	return fyne.NewSize(160, 120)
}

func (m *mirrorLayout) Layout(objects []fyne.CanvasObject, size fyne.Size) {
	if len(objects) == 0 {
		return
	}

	scale := m.scale()
	measured := size
	if m.measure != nil {
		measured = m.measure(size)
	}
	m.report(render.Size{W: int(measured.Width * scale), H: int(measured.Height * scale)})

	objects[0].Move(fyne.NewPos(0, 0))
	objects[0].Resize(size)
	if len(objects) < 2 {
		return
	}

	frame := frameSize(objects[1], scale, size)
	objects[1].Resize(frame)
	objects[1].Move(fyne.NewPos((size.Width-frame.Width)/2, (size.Height-frame.Height)/2))
}

func (m *mirrorLayout) scale() float32 {
	if m.canvas == nil {
		return 1
	}
	if s := m.canvas.Scale(); s > 0 {
		return s
	}
	return 1
}

func (m *mirrorLayout) report(s render.Size) {
	if s.Empty() || m.onResize == nil {
		return
	}
	m.mu.Lock()
	changed := s != m.last
	m.last = s
	m.mu.Unlock()
	if changed {
		m.onResize(s)
	}
}

// frameSize is the on-canvas size of a frame object: its image's pixel
// size in canvas units, aspect-fitted into area when larger.
func frameSize(obj fyne.CanvasObject, scale float32, area fyne.Size) fyne.Size {
	img, ok := obj.(*canvas.Image)
	if !ok || img.Image == nil {
		return area
	}
	b := img.Image.Bounds()
	w, h := float32(b.Dx())/scale, float32(b.Dy())/scale
	if w <= 0 || h <= 0 {
		return area
	}
	if w <= area.Width && h <= area.Height {
		return fyne.NewSize(w, h)
	}
	fit := render.Fit(b.Dx(), b.Dy(), int(area.Width), int(area.Height))
	return fyne.NewSize(float32(fit.W), float32(fit.H))
}

// newRecordingPanel is the recording row. Recording is not implemented, so
// the control is shown disabled.
func newRecordingPanel() fyne.CanvasObject {
	record := widget.NewButton("Record", nil)
	record.Disable()
	return widget.NewCard("", "Recording", record)
}
