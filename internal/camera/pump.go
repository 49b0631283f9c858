package camera

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// framePump runs a blocking frame producer on its own goroutine so that
// session reads can give up after a bounded wait. It is shared by the
// backends whose underlying read call cannot be interrupted directly.
type framePump struct {
	frames chan Frame
	stop   chan struct{}
	done   chan struct{} // closed when the goroutine exits
	ready  chan struct{} // closed after the first decoded frame

	seq       atomic.Uint64
	frameSize atomic.Value // image.Point of the last frame
	stopOnce  sync.Once
	readyOnce sync.Once

	errMu sync.Mutex
	err   error
}

// startPump calls next until it fails or halt is called. A nil image with
// a nil error is skipped (a corrupt frame).
func startPump(next func() (image.Image, error), now func() time.Time) *framePump {
	p := &framePump{
		frames: make(chan Frame, 2),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
	go p.run(next, now)
	return p
}

func (p *framePump) run(next func() (image.Image, error), now func() time.Time) {
	defer close(p.done)
	defer close(p.frames)

	for {
		img, err := next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrEndOfStream
			}
			p.setErr(err)
			return
		}
		if img == nil {
			continue
		}

		frame := NewFrame(p.seq.Add(1), img, now())
		p.frameSize.Store(image.Pt(frame.Width, frame.Height))
		p.readyOnce.Do(func() { close(p.ready) })

		select {
		case p.frames <- frame:
		case <-p.stop:
			return
		}
	}
}

func (p *framePump) setErr(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()
}

// Err is the reason the pump stopped, if it has.
func (p *framePump) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// size returns the dimensions of the most recent frame.
func (p *framePump) size() (int, int, bool) {
	v, ok := p.frameSize.Load().(image.Point)
	if !ok {
		return 0, 0, false
	}
	return v.X, v.Y, true
}

// read waits up to timeout for the next frame.
func (p *framePump) read(ctx context.Context, timeout time.Duration, closed <-chan struct{}) (Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f, ok := <-p.frames:
		if !ok {
			if err := p.Err(); err != nil && !errors.Is(err, ErrSessionClosed) {
				return Frame{}, err
			}
			return Frame{}, ErrEndOfStream
		}
		return f, nil
	case <-closed:
		return Frame{}, ErrSessionClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-timer.C:
		return Frame{}, ErrReadTimeout
	}
}

// waitReady blocks until the first frame decoded, the pump died, or timeout.
func (p *framePump) waitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.ready:
		return nil
	case <-p.done:
		if err := p.Err(); err != nil {
			return err
		}
		return ErrEndOfStream
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrReadTimeout
	}
}

// halt asks the goroutine to stop; the caller must also unblock next()
// (kill the process, close the device) and then wait on done.
func (p *framePump) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
}
