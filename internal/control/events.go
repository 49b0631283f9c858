package control

import (
	"fmt"

	"delayed-mirror/internal/camera"
	"delayed-mirror/internal/render"
)

// Event is something the display or the system reports to the controller.
type Event interface {
	event()
}

// DelayChanged carries the new delay in seconds from the slider or flag.
type DelayChanged struct{ Seconds float64 }

// CameraSelected is a selector change to the device with this index.
type CameraSelected struct{ Index int }

// FlipToggled reports the mirror checkbox.
type FlipToggled struct{ On bool }

// Resized reports a target's new content size in pixels.
type Resized struct {
	Target render.Target
	Size   render.Size
}

// KeyPressed is a key the controller cares about.
type KeyPressed struct{ Key Key }

// WindowClosed reports that a window was closed by the user.
type WindowClosed struct{ Target render.Target }

// DevicesChanged carries a fresh device list after hot-plug.
type DevicesChanged struct{ Devices []camera.Device }

func (DelayChanged) event()   {}
func (CameraSelected) event() {}
func (FlipToggled) event()    {}
func (Resized) event()        {}
func (KeyPressed) event()     {}
func (WindowClosed) event()   {}
func (DevicesChanged) event() {}

// Key identifies a key press.
type Key int

const (
	KeyOther Key = iota
	KeyF11
	KeyEscape
	KeyQ
)

func (k Key) String() string {
	switch k {
	case KeyF11:
		return "F11"
	case KeyEscape:
		return "Escape"
	case KeyQ:
		return "Q"
	default:
		return "other"
	}
}

// Mode is the display mode.
type Mode int

const (
	Windowed Mode = iota
	Fullscreen
	Terminated
)

func (m Mode) String() string {
	switch m {
	case Windowed:
		return "windowed"
	case Fullscreen:
		return "fullscreen"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Next is the display-mode transition for a key press.
//
//	Windowed   --F11-->    Fullscreen
//	Fullscreen --F11/Esc-> Windowed
//	Windowed   --Esc-->    Terminated
//	any        --Q-->      Terminated
func Next(m Mode, k Key) Mode {
	if m == Terminated {
		return Terminated
	}
	switch k {
	case KeyQ:
		return Terminated
	case KeyF11:
		if m == Fullscreen {
			return Windowed
		}
		return Fullscreen
	case KeyEscape:
		if m == Fullscreen {
			return Windowed
		}
		return Terminated
	}
	return m
}
