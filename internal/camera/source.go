package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Format is a capture resolution and frame rate.
type Format struct {
	Width  int
	Height int
	FPS    float64
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d @ %.1f FPS", f.Width, f.Height, f.FPS)
}

// Source opens capture sessions on devices identified by index.
type Source interface {
	// Open fails with an error wrapping ErrDeviceOpen when the index is
	// invalid or the device is busy.
	Open(ctx context.Context, index int) (Session, error)
}

// Session is one open device handle.
//
// Read and Configure must not be called concurrently with each other;
// Close may be called from any goroutine and any number of times.
type Session interface {
	// ID identifies the session in logs.
	ID() string

	// DeviceIndex is the index the session was opened with.
	DeviceIndex() int

	// Read blocks for at most the source's read timeout. It returns
	// ErrReadTimeout when nothing arrived in time, ErrEndOfStream when the
	// device is gone and ErrSessionClosed after Close.
	Read(ctx context.Context) (Frame, error)

	// Configure requests a format. It is best-effort: the returned Format
	// is what the device actually delivers.
	Configure(ctx context.Context, want Format) (Format, error)

	// Format returns the currently negotiated format.
	Format() Format

	// Close releases the device. Idempotent.
	Close() error
}

// NoFallback disables the fallback device in OpenWithFallback.
const NoFallback = -1

// OpenWithFallback opens preferred and, if that fails, the fallback index.
//
// The fallback is only tried when it is a different, non-negative index.
// usedFallback tells the caller which one it got so the UI can show it.
// When both fail the returned error wraps ErrDeviceOpen and mentions both.
func OpenWithFallback(ctx context.Context, src Source, preferred, fallback int) (s Session, usedFallback bool, err error) {
	s, err = src.Open(ctx, preferred)
	if err == nil {
		return s, false, nil
	}
	if fallback < 0 || fallback == preferred {
		return nil, false, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, false, ctxErr
	}

	log.Printf("[Capture] Device %d failed to open (%v), falling back to device %d", preferred, err, fallback)
	s, fbErr := src.Open(ctx, fallback)
	if fbErr != nil {
		return nil, false, fmt.Errorf("%w (fallback %d: %v)", err, fallback, fbErr)
	}
	return s, true, nil
}

// IsFatal reports whether a Read error ends the capture activity.
// Timeouts are transient; everything else stops the session.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrReadTimeout)
}
