package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PatternSource produces synthetic moving test patterns. It stands in for
// real hardware in demos and tests and behaves like a device: indices
// outside [0, Devices) or marked Busy fail to open.
type PatternSource struct {
	Devices    int          // number of simulated devices
	Busy       map[int]bool // devices that refuse to open
	Request    Format       // format on open
	MaxSize    image.Point  // largest size Configure will grant
	FrameLimit int          // frames per session before end of stream; 0 = unlimited
	Now        func() time.Time

	open atomic.Int32
}

// NewPatternSource simulates n devices at the requested format.
func NewPatternSource(n int, request Format) *PatternSource {
	return &PatternSource{
		Devices: n,
		Request: request,
		MaxSize: image.Pt(1920, 1080),
	}
}

// OpenSessions reports how many sessions are currently open.
func (s *PatternSource) OpenSessions() int {
	return int(s.open.Load())
}

// ListDevices lets the pattern backend double as its own Enumerator.
func (s *PatternSource) ListDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}
	devices := make([]Device, 0, s.Devices)
	for i := 0; i < s.Devices; i++ {
		devices = append(devices, Device{Index: i, Name: fmt.Sprintf("Test Pattern %d", i), Path: fmt.Sprintf("pattern:%d", i)})
	}
	return devices, nil
}

func (s *PatternSource) Open(ctx context.Context, index int) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 || index >= s.Devices {
		return nil, fmt.Errorf("%w: no pattern device %d", ErrDeviceOpen, index)
	}
	if s.Busy[index] {
		return nil, fmt.Errorf("%w: pattern device %d is busy", ErrDeviceOpen, index)
	}

	now := s.Now
	if now == nil {
		now = time.Now
	}
	sess := &patternSession{
		id:     uuid.NewString(),
		index:  index,
		src:    s,
		now:    now,
		closed: make(chan struct{}),
	}
	sess.format = sess.grant(s.Request)
	s.open.Add(1)
	log.Printf("[Capture] Session %s: pattern device %d at %s", sess.id, index, sess.format)
	return sess, nil
}

type patternSession struct {
	id    string
	index int
	src   *PatternSource
	now   func() time.Time

	mu       sync.Mutex
	format   Format
	seq      uint64
	lastRead time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *patternSession) ID() string       { return s.id }
func (s *patternSession) DeviceIndex() int { return s.index }

func (s *patternSession) Format() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// grant clamps a request to what the simulated sensor supports.
func (s *patternSession) grant(want Format) Format {
	got := want
	if got.Width <= 0 || got.Height <= 0 {
		got.Width, got.Height = 640, 480
	}
	if limit := s.src.MaxSize; limit.X > 0 && limit.Y > 0 {
		if got.Width > limit.X {
			got.Width = limit.X
		}
		if got.Height > limit.Y {
			got.Height = limit.Y
		}
	}
	if got.FPS <= 0 || got.FPS > 120 {
		got.FPS = 30
	}
	return got
}

func (s *patternSession) Configure(ctx context.Context, want Format) (Format, error) {
	select {
	case <-s.closed:
		return Format{}, ErrSessionClosed
	default:
	}
	s.mu.Lock()
	s.format = s.grant(want)
	f := s.format
	s.mu.Unlock()
	return f, nil
}

// Read paces frames at the session's frame rate.
func (s *patternSession) Read(ctx context.Context) (Frame, error) {
	select {
	case <-s.closed:
		return Frame{}, ErrSessionClosed
	default:
	}

	s.mu.Lock()
	format := s.format
	seq := s.seq
	wait := time.Duration(float64(time.Second)/format.FPS) - time.Since(s.lastRead)
	s.mu.Unlock()

	if limit := s.src.FrameLimit; limit > 0 && seq >= uint64(limit) {
		return Frame{}, ErrEndOfStream
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.closed:
			return Frame{}, ErrSessionClosed
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	} else {
		select {
		case <-s.closed:
			return Frame{}, ErrSessionClosed
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	s.seq++
	seq = s.seq
	s.lastRead = time.Now()
	s.mu.Unlock()

	img := renderPattern(s.index, int(seq), format.Width, format.Height)
	return NewFrame(seq, img, s.now()), nil
}

func (s *patternSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.src.open.Add(-1)
	})
	return nil
}

// renderPattern draws a per-device scene with a bar that sweeps across the
// frame so playback delay is visible.
func renderPattern(device, frameNum, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barX := (frameNum * 4) % width
	barW := width / 20
	if barW < 2 {
		barW = 2
	}

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			var c color.RGBA
			switch device % 3 {
			case 0: // sky
				g := float64(y) / float64(height)
				c = color.RGBA{uint8(135 * (1 - g)), uint8(206 * (1 - g)), uint8(250 * (1 - g)), 255}
			case 1: // field
				c = color.RGBA{50, uint8(120 + (y*60)/height), 50, 255}
			default:
				c = color.RGBA{uint8((x + frameNum) % 256), uint8((y + frameNum/2) % 256), uint8((x + y + frameNum/3) % 256), 255}
			}
			if x >= barX && x < barX+barW {
				c = color.RGBA{255, 255, 255, 255}
			}
			off := x * 4
			row[off+0] = c.R
			row[off+1] = c.G
			row[off+2] = c.B
			row[off+3] = c.A
		}
	}
	return img
}
