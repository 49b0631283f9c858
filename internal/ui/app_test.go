package ui

import (
	"image"
	"testing"

	"delayed-mirror/internal/camera"
	"delayed-mirror/internal/config"
	"delayed-mirror/internal/control"
	"delayed-mirror/internal/render"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevices() []camera.Device {
	return []camera.Device{
		{Index: 0, Name: "Front", Path: "/dev/video0"},
		{Index: 2, Name: "Side", Path: "/dev/video2"},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	fyneApp := test.NewApp()
	t.Cleanup(fyneApp.Quit)
	return NewApp(fyneApp, config.DefaultConfig(), testDevices(), 0)
}

// drain returns queued events, ignoring resizes.
func drain(a *App) []control.Event {
	var out []control.Event
	for {
		select {
		case ev := <-a.events:
			if _, ok := ev.(control.Resized); !ok {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func TestMapKey(t *testing.T) {
	assert.Equal(t, control.KeyF11, mapKey(fyne.KeyF11))
	assert.Equal(t, control.KeyEscape, mapKey(fyne.KeyEscape))
	assert.Equal(t, control.KeyQ, mapKey(fyne.KeyQ))
	assert.Equal(t, control.KeyOther, mapKey(fyne.KeySpace))
}

func TestApp_KeysBecomeEvents(t *testing.T) {
	a := newTestApp(t)
	drain(a)

	a.window.Canvas().OnTypedKey()(&fyne.KeyEvent{Name: fyne.KeyF11})
	a.fsWindow.Canvas().OnTypedKey()(&fyne.KeyEvent{Name: fyne.KeyEscape})
	a.window.Canvas().OnTypedKey()(&fyne.KeyEvent{Name: fyne.KeyA})

	assert.Equal(t, []control.Event{
		control.KeyPressed{Key: control.KeyF11},
		control.KeyPressed{Key: control.KeyEscape},
	}, drain(a))
}

func TestApp_ControlsEmitEvents(t *testing.T) {
	a := newTestApp(t)
	drain(a)

	a.delaySlider.SetValue(5)
	a.flipCheck.SetChecked(true)
	a.cameraSelect.SetSelected("2: Side")

	assert.Equal(t, []control.Event{
		control.DelayChanged{Seconds: 5},
		control.FlipToggled{On: true},
		control.CameraSelected{Index: 2},
	}, drain(a))
	assert.Equal(t, "Delay  5.0 s", a.delayLabel.Text)
}

func TestApp_SelectDeviceIsSilent(t *testing.T) {
	a := newTestApp(t)
	drain(a)

	a.SelectDevice(2)
	assert.Equal(t, "2: Side", a.cameraSelect.Selected)
	a.SelectDevice(7)
	assert.Empty(t, a.cameraSelect.Selected)
	assert.Empty(t, drain(a))
}

func TestApp_SetDevices(t *testing.T) {
	a := newTestApp(t)
	a.SetDevices([]camera.Device{{Index: 4, Name: "USB", Path: "/dev/video4"}})
	assert.Equal(t, []string{"4: USB"}, a.cameraSelect.Options)
	assert.Empty(t, drain(a))
}

func TestApp_PresentAndFullscreen(t *testing.T) {
	a := newTestApp(t)
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))

	a.Present(render.Preview, render.Frame{Image: img})
	assert.Same(t, img, a.previewImg.Image)

	// Hidden fullscreen target ignores frames.
	a.Present(render.Fullscreen, render.Frame{Image: img})
	assert.NotSame(t, img, a.fsImg.Image)

	a.SetFullscreen(true)
	a.Present(render.Fullscreen, render.Frame{Image: img})
	assert.Same(t, img, a.fsImg.Image)
	a.SetFullscreen(false)
}

func TestApp_CloseIsIdempotent(t *testing.T) {
	a := newTestApp(t)
	a.Close()
	a.Close()
}

func TestMirrorLayout_ReportsSizeChanges(t *testing.T) {
	var got []render.Size
	l := &mirrorLayout{onResize: func(s render.Size) { got = append(got, s) }}

	bg := canvas.NewRectangle(nil)
	img := canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 40, 30)))
	objects := []fyne.CanvasObject{bg, img}

	l.Layout(objects, fyne.NewSize(200, 100))
	l.Layout(objects, fyne.NewSize(200, 100))
	l.Layout(objects, fyne.NewSize(300, 100))
	require.Equal(t, []render.Size{{W: 200, H: 100}, {W: 300, H: 100}}, got)

	assert.Equal(t, fyne.NewSize(300, 100), bg.Size())
	assert.Equal(t, fyne.NewSize(40, 30), img.Size())
	assert.Equal(t, fyne.NewPos(130, 35), img.Position())
}

func TestFrameSize_ShrinksToArea(t *testing.T) {
	img := canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 400, 300)))
	assert.Equal(t, fyne.NewSize(200, 150), frameSize(img, 1, fyne.NewSize(200, 200)))
	assert.Equal(t, fyne.NewSize(200, 150), frameSize(img, 2, fyne.NewSize(300, 300)))
}
