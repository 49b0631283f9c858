// Package control turns display events into pipeline changes.
//
// A Controller is an actor: Run consumes events on one goroutine, so the
// display mode, the selected device and the device list are only touched
// there and need no locking.
package control

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"delayed-mirror/internal/camera"
	"delayed-mirror/internal/render"
)

// Errors
var (
	ErrUnknownDevice = fmt.Errorf("%w: device not in the current list", camera.ErrDeviceOpen)
)

// Pipeline is the part of the delay pipeline the controller drives.
type Pipeline interface {
	SetDelay(d time.Duration) error
	SwitchDevice(ctx context.Context, index int) error
	SetFlip(on bool)
	SetPreviewSize(size render.Size)
	SetFullscreenSize(size render.Size)
	SetFullscreen(on bool)
	Stop() error
	Done() <-chan struct{}
	Err() error
}

// Display is the UI the controller reflects state back into.
type Display interface {
	SetFullscreen(on bool)
	SelectDevice(index int)
	SetDevices(devices []camera.Device)
	ShowError(err error)
	Close()
}

// Config holds the controller's limits and starting state.
type Config struct {
	MaxDelay     time.Duration // delay slider upper bound
	PreviewScale float64       // fraction of the window the preview fills
	Device       int           // device the pipeline started on
	Devices      []camera.Device
}

// Controller reacts to events for one pipeline.
type Controller struct {
	pipe    Pipeline
	display Display
	cfg     Config

	device  int
	devices []camera.Device
	stopped bool

	// A device switch runs off the event loop so quit and close stay
	// responsive; its outcome comes back on results.
	pending      int // device being switched to, -1 if none
	cancelSwitch context.CancelFunc
	results      chan Event

	mu   sync.Mutex
	mode Mode
}

func New(pipe Pipeline, display Display, cfg Config) *Controller {
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.PreviewScale <= 0 || cfg.PreviewScale > 1 {
		cfg.PreviewScale = 1
	}
	return &Controller{
		pipe:    pipe,
		display: display,
		cfg:     cfg,
		device:  cfg.Device,
		devices: cfg.Devices,
		pending: -1,
		results: make(chan Event, 1),
		mode:    Windowed,
	}
}

// Mode returns the current display mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) setMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

// Run handles events until the user quits, the events channel closes or
// ctx is done. On the way out the pipeline is stopped before the display
// is closed.
func (c *Controller) Run(ctx context.Context, events <-chan Event) error {
	defer c.terminate()

	pipeDone := c.pipe.Done()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-pipeDone:
			pipeDone = nil
			c.stopped = true
			if err := c.pipe.Err(); err != nil {
				log.Printf("[Control] Pipeline stopped: %v", err)
				c.display.ShowError(fmt.Errorf("camera stopped: %w", err))
			}

		case ev := <-c.results:
			c.Handle(ctx, ev)

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Handle(ctx, ev)
			if c.Mode() == Terminated {
				return nil
			}
		}
	}
}

// Handle applies one event. Run calls it; tests may call it directly.
func (c *Controller) Handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case DelayChanged:
		c.onDelay(e.Seconds)
	case CameraSelected:
		c.onCamera(ctx, e.Index)
	case switchDone:
		c.onSwitchDone(e)
	case FlipToggled:
		c.pipe.SetFlip(e.On)
	case Resized:
		c.onResize(e)
	case KeyPressed:
		c.onKey(e.Key)
	case WindowClosed:
		if e.Target == render.Fullscreen {
			if c.Mode() == Fullscreen {
				c.enterMode(Windowed)
			}
			return
		}
		c.enterMode(Terminated)
	case DevicesChanged:
		c.devices = e.Devices
		c.display.SetDevices(e.Devices)
		c.display.SelectDevice(c.selected())
	default:
		log.Printf("[Control] Ignoring unknown event %T", ev)
	}
}

// onDelay clamps to [0, MaxDelay].
func (c *Controller) onDelay(seconds float64) {
	d := time.Duration(seconds * float64(time.Second))
	if d < 0 {
		d = 0
	}
	if d > c.cfg.MaxDelay {
		d = c.cfg.MaxDelay
	}
	if err := c.pipe.SetDelay(d); err != nil {
		c.display.ShowError(err)
	}
}

// switchDone reports the outcome of a background device switch.
type switchDone struct {
	Index int
	Err   error
}

func (switchDone) event() {}

// selected is the device the selector should show.
func (c *Controller) selected() int {
	if c.pending >= 0 {
		return c.pending
	}
	return c.device
}

// onCamera validates the choice and starts the switch in the background.
// On any failure the selector goes back to the device that is still
// running.
func (c *Controller) onCamera(ctx context.Context, index int) {
	if index == c.selected() {
		return
	}
	if c.pending >= 0 {
		log.Printf("[Control] Camera %d ignored: switch to %d in progress", index, c.pending)
		c.display.SelectDevice(c.pending)
		return
	}

	switch {
	case c.stopped:
		c.reject(index, fmt.Errorf("cannot switch to device %d: pipeline has stopped", index))
		return
	case len(c.devices) > 0 && !camera.Contains(c.devices, index):
		c.reject(index, fmt.Errorf("%w: %d", ErrUnknownDevice, index))
		return
	}

	switchCtx, cancel := context.WithCancel(ctx)
	c.pending = index
	c.cancelSwitch = cancel
	go func() {
		c.results <- switchDone{Index: index, Err: c.pipe.SwitchDevice(switchCtx, index)}
	}()
}

func (c *Controller) onSwitchDone(e switchDone) {
	c.pending = -1
	if c.cancelSwitch != nil {
		c.cancelSwitch()
		c.cancelSwitch = nil
	}
	if e.Err != nil {
		c.reject(e.Index, e.Err)
		return
	}
	log.Printf("[Control] Now on camera %d", e.Index)
	c.device = e.Index
}

func (c *Controller) reject(index int, err error) {
	log.Printf("[Control] Camera %d rejected: %v (staying on %d)", index, err, c.device)
	c.display.SelectDevice(c.device)
	c.display.ShowError(err)
}

func (c *Controller) onResize(e Resized) {
	switch e.Target {
	case render.Preview:
		c.pipe.SetPreviewSize(render.Scaled(e.Size, c.cfg.PreviewScale))
	case render.Fullscreen:
		c.pipe.SetFullscreenSize(e.Size)
	}
}

func (c *Controller) onKey(k Key) {
	c.enterMode(Next(c.Mode(), k))
}

func (c *Controller) enterMode(next Mode) {
	prev := c.Mode()
	if next == prev {
		return
	}
	log.Printf("[Control] Mode %s -> %s", prev, next)

	switch next {
	case Fullscreen:
		c.pipe.SetFullscreen(true)
		c.display.SetFullscreen(true)
	case Windowed:
		c.pipe.SetFullscreen(false)
		c.display.SetFullscreen(false)
	}
	c.setMode(next)
}

// terminate abandons any switch in flight, stops the pipeline (closing
// the session and discarding the queue) and then closes the display.
func (c *Controller) terminate() {
	c.setMode(Terminated)
	if c.cancelSwitch != nil {
		c.cancelSwitch()
		c.cancelSwitch = nil
	}
	if err := c.pipe.Stop(); err != nil {
		log.Printf("[Control] Pipeline stop: %v", err)
	}
	c.display.Close()
}
