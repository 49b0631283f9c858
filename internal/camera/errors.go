package camera

import "fmt"

// Errors
//
// Callers match these with errors.Is; concrete failures wrap them with the
// device index or path that caused them.
var (
	// ErrEnumeration means the platform capture subsystem could not be
	// queried. Non-fatal: treat as an empty device list.
	ErrEnumeration = fmt.Errorf("camera: device enumeration failed")

	// ErrDeviceOpen means the index is invalid or the device is busy.
	ErrDeviceOpen = fmt.Errorf("camera: cannot open device")

	// ErrEndOfStream means the device disconnected or the stream ran out.
	ErrEndOfStream = fmt.Errorf("camera: end of stream")

	// ErrReadTimeout means no frame arrived within the bounded read wait.
	ErrReadTimeout = fmt.Errorf("camera: read timed out")

	// ErrSessionClosed is returned by reads on a closed session.
	ErrSessionClosed = fmt.Errorf("camera: session closed")
)
