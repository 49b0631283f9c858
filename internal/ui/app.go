package ui

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"sync"
	"sync/atomic"

	"delayed-mirror/internal/camera"
	"delayed-mirror/internal/config"
	"delayed-mirror/internal/control"
	"delayed-mirror/internal/render"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
)

// App is the mirror's window pair. It paints frames for the pipeline and
// turns widget and key activity into control events.
type App struct {
	fyneApp fyne.App
	window  fyne.Window
	cfg     *config.Config
	events  chan control.Event

	// Preview (main window)
	previewImg  *canvas.Image
	previewArea *fyne.Container

	// Fullscreen mirror (second window)
	fsWindow fyne.Window
	fsImg    *canvas.Image
	fsArea   *fyne.Container
	fsShown  atomic.Bool

	// Controls
	cameraSelect *widget.Select
	delaySlider  *widget.Slider
	delayLabel   *widget.Label
	flipCheck    *widget.Check
	statusLabel  *widget.Label

	devicesMu sync.Mutex
	devices   []camera.Device

	suppressSelect atomic.Bool // set while SelectDevice updates the widget
	closeOnce      sync.Once
}

// NewApp builds both windows on fyneApp. devices fills the camera
// selector and selected is the device the pipeline runs on.
func NewApp(fyneApp fyne.App, cfg *config.Config, devices []camera.Device, selected int) *App {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	a := &App{
		fyneApp: fyneApp,
		window:  fyneApp.NewWindow("Delayed Mirror"),
		cfg:     cfg,
		events:  make(chan control.Event, 64),
		devices: devices,
	}
	a.window.Resize(fyne.NewSize(float32(cfg.WindowWidth), float32(cfg.WindowHeight)))

	a.setupPreview()
	a.setupControls(selected)
	a.setupFullscreen()
	a.setupKeys(a.window)
	a.setupKeys(a.fsWindow)

	a.window.SetCloseIntercept(func() {
		log.Println("[UI] Main window closed")
		a.emit(control.WindowClosed{Target: render.Preview})
	})
	a.window.SetMaster()
	return a
}

// Events is the stream consumed by the controller.
func (a *App) Events() <-chan control.Event { return a.events }

// Run shows the main window and blocks until the app quits.
func (a *App) Run() {
	a.window.ShowAndRun()
}

// Notify queues an event from outside the UI, such as a hot-plug change.
func (a *App) Notify(ev control.Event) { a.emit(ev) }

func (a *App) emit(ev control.Event) {
	select {
	case a.events <- ev:
	default:
		log.Printf("[UI] WARNING: event queue full, dropping %T", ev)
	}
}

func blankImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func (a *App) setupPreview() {
	a.previewImg = canvas.NewImageFromImage(blankImage(64, 48))
	a.previewImg.FillMode = canvas.ImageFillContain
	a.previewImg.ScaleMode = canvas.ImageScaleFastest

	bg := canvas.NewRectangle(color.RGBA{20, 20, 20, 255})
	// The preview is sized from the whole window; the controller applies
	// the preview scale.
	a.previewArea = container.New(&mirrorLayout{
		canvas:   a.window.Canvas(),
		measure:  func(fyne.Size) fyne.Size { return a.window.Canvas().Size() },
		onResize: func(s render.Size) { a.emit(control.Resized{Target: render.Preview, Size: s}) },
	}, bg, a.previewImg)
}

func (a *App) setupControls(selected int) {
	a.cameraSelect = widget.NewSelect(deviceOptions(a.devices), a.onCameraChosen)
	a.selectIndex(selected)

	a.delayLabel = widget.NewLabel(delayText(a.cfg.DelaySec))
	a.delaySlider = widget.NewSlider(0, a.cfg.MaxDelaySec)
	a.delaySlider.Step = 0.5
	a.delaySlider.Value = a.cfg.DelaySec
	a.delaySlider.OnChanged = func(v float64) {
		a.delayLabel.SetText(delayText(v))
		a.emit(control.DelayChanged{Seconds: v})
	}

	a.flipCheck = widget.NewCheck("Mirror image", func(on bool) {
		a.emit(control.FlipToggled{On: on})
	})
	a.flipCheck.Checked = a.cfg.Flip

	a.statusLabel = widget.NewLabel("F11 fullscreen · Esc exit · Q quit")

	cameraRow := container.NewBorder(nil, nil, widget.NewLabel("Camera"), nil, a.cameraSelect)
	delayRow := container.NewBorder(nil, nil, a.delayLabel, nil, a.delaySlider)

	controls := container.NewVBox(
		cameraRow,
		delayRow,
		container.NewHBox(a.flipCheck),
		newRecordingPanel(),
		a.statusLabel,
	)

	a.window.SetContent(container.NewBorder(nil, controls, nil, nil, a.previewArea))
}

func (a *App) setupFullscreen() {
	a.fsWindow = a.fyneApp.NewWindow("Delayed Mirror - Fullscreen")
	a.fsImg = canvas.NewImageFromImage(blankImage(64, 48))
	a.fsImg.FillMode = canvas.ImageFillContain
	a.fsImg.ScaleMode = canvas.ImageScaleFastest

	bg := canvas.NewRectangle(color.Black)
	a.fsArea = container.New(&mirrorLayout{
		canvas:   a.fsWindow.Canvas(),
		onResize: func(s render.Size) { a.emit(control.Resized{Target: render.Fullscreen, Size: s}) },
	}, bg, a.fsImg)
	a.fsWindow.SetContent(a.fsArea)
	a.fsWindow.SetPadded(false)
	a.fsWindow.SetFullScreen(true)
	a.fsWindow.SetCloseIntercept(func() {
		a.emit(control.WindowClosed{Target: render.Fullscreen})
	})
}

func (a *App) setupKeys(w fyne.Window) {
	w.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		if k := mapKey(ev.Name); k != control.KeyOther {
			a.emit(control.KeyPressed{Key: k})
		}
	})
}

func mapKey(name fyne.KeyName) control.Key {
	switch name {
	case fyne.KeyF11:
		return control.KeyF11
	case fyne.KeyEscape:
		return control.KeyEscape
	case fyne.KeyQ:
		return control.KeyQ
	default:
		return control.KeyOther
	}
}

func delayText(seconds float64) string {
	return fmt.Sprintf("Delay %4.1f s", seconds)
}

func deviceOptions(devices []camera.Device) []string {
	opts := make([]string, len(devices))
	for i, d := range devices {
		opts[i] = d.String()
	}
	return opts
}

func (a *App) onCameraChosen(option string) {
	if a.suppressSelect.Load() {
		return
	}
	a.devicesMu.Lock()
	defer a.devicesMu.Unlock()
	for _, d := range a.devices {
		if d.String() == option {
			a.emit(control.CameraSelected{Index: d.Index})
			return
		}
	}
}

// selectIndex moves the selector without emitting an event.
func (a *App) selectIndex(index int) {
	a.devicesMu.Lock()
	option := ""
	for _, d := range a.devices {
		if d.Index == index {
			option = d.String()
			break
		}
	}
	a.devicesMu.Unlock()

	a.suppressSelect.Store(true)
	defer a.suppressSelect.Store(false)
	if option == "" {
		a.cameraSelect.ClearSelected()
		return
	}
	a.cameraSelect.SetSelected(option)
}

// =============================================================================
// pipeline.Sink
// =============================================================================

// Present shows a rendered frame on the preview or fullscreen target.
func (a *App) Present(target render.Target, f render.Frame) {
	if f.Image == nil {
		return
	}
	switch target {
	case render.Preview:
		a.previewImg.Image = f.Image
		a.previewArea.Refresh()
	case render.Fullscreen:
		if !a.fsShown.Load() {
			return
		}
		a.fsImg.Image = f.Image
		a.fsArea.Refresh()
	}
}

// =============================================================================
// control.Display
// =============================================================================

// SetFullscreen shows or hides the fullscreen mirror window.
func (a *App) SetFullscreen(on bool) {
	if a.fsShown.Swap(on) == on {
		return
	}
	if on {
		log.Println("[UI] Entering fullscreen")
		a.fsWindow.Show()
		return
	}
	log.Println("[UI] Exiting fullscreen")
	a.fsWindow.Hide()
}

func (a *App) SelectDevice(index int) {
	a.selectIndex(index)
}

// SetDevices replaces the selector's options after a hot-plug.
func (a *App) SetDevices(devices []camera.Device) {
	a.devicesMu.Lock()
	a.devices = devices
	a.devicesMu.Unlock()

	a.suppressSelect.Store(true)
	a.cameraSelect.Options = deviceOptions(devices)
	a.cameraSelect.Refresh()
	a.suppressSelect.Store(false)
	log.Printf("[UI] Camera list updated (%d devices)", len(devices))
}

func (a *App) ShowError(err error) {
	log.Printf("[UI] Error: %v", err)
	a.statusLabel.SetText(err.Error())
	dialog.ShowError(err, a.window)
}

// Close quits the application. Safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		log.Println("[UI] Closing")
		a.fyneApp.Quit()
	})
}
