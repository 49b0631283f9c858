//go:build gocv

package camera

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// GocvSource captures through OpenCV's VideoCapture. Build with -tags gocv
// on machines that have OpenCV installed.
type GocvSource struct {
	Request     Format
	ReadTimeout time.Duration
}

// NewGocvSource returns an OpenCV-backed source.
func NewGocvSource(request Format) *GocvSource {
	return &GocvSource{Request: request, ReadTimeout: 500 * time.Millisecond}
}

func gocvAvailable() bool { return true }

func newGocvBackend(request Format, readTimeout time.Duration) Source {
	s := NewGocvSource(request)
	if readTimeout > 0 {
		s.ReadTimeout = readTimeout
	}
	return s
}

func (s *GocvSource) Open(ctx context.Context, index int) (Session, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: invalid index %d", ErrDeviceOpen, index)
	}
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", ErrDeviceOpen, index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %d not opened", ErrDeviceOpen, index)
	}

	mat := gocv.NewMat()
	sess := &gocvSession{
		id:     uuid.NewString(),
		index:  index,
		vc:     vc,
		mat:    mat,
		src:    s,
		closed: make(chan struct{}),
	}
	sess.apply(s.Request)

	// A device that opens but never delivers is as good as busy. The pump
	// is not running yet, so vc needs no lock here.
	if ok := vc.Read(&sess.mat); !ok || sess.mat.Empty() {
		sess.release()
		return nil, fmt.Errorf("%w: device %d delivered no frame", ErrDeviceOpen, index)
	}
	sess.pump = startPump(sess.next, time.Now)
	log.Printf("[Capture] Session %s: opencv device %d at %s", sess.id, index, sess.Format())
	return sess, nil
}

type gocvSession struct {
	id    string
	index int
	src   *GocvSource

	// vcMu serializes every call into the VideoCapture; the pump reads
	// while Configure and Format set and get properties.
	vcMu sync.Mutex
	vc   *gocv.VideoCapture
	mat  gocv.Mat
	pump *framePump

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *gocvSession) ID() string       { return s.id }
func (s *gocvSession) DeviceIndex() int { return s.index }

func (s *gocvSession) next() (image.Image, error) {
	select {
	case <-s.closed:
		return nil, ErrSessionClosed
	default:
	}
	s.vcMu.Lock()
	defer s.vcMu.Unlock()
	if ok := s.vc.Read(&s.mat); !ok {
		return nil, ErrEndOfStream
	}
	if s.mat.Empty() {
		return nil, nil
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, nil
	}
	return img, nil
}

func (s *gocvSession) apply(want Format) {
	s.vcMu.Lock()
	defer s.vcMu.Unlock()
	if want.Width > 0 && want.Height > 0 {
		s.vc.Set(gocv.VideoCaptureFrameWidth, float64(want.Width))
		s.vc.Set(gocv.VideoCaptureFrameHeight, float64(want.Height))
	}
	if want.FPS > 0 {
		s.vc.Set(gocv.VideoCaptureFPS, want.FPS)
	}
}

func (s *gocvSession) Format() Format {
	s.vcMu.Lock()
	defer s.vcMu.Unlock()
	return Format{
		Width:  int(s.vc.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(s.vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    s.vc.Get(gocv.VideoCaptureFPS),
	}
}

func (s *gocvSession) Read(ctx context.Context) (Frame, error) {
	return s.pump.read(ctx, s.src.ReadTimeout, s.closed)
}

// Configure sets capture properties and reads back what the driver kept.
func (s *gocvSession) Configure(ctx context.Context, want Format) (Format, error) {
	select {
	case <-s.closed:
		return Format{}, ErrSessionClosed
	default:
	}
	s.apply(want)
	return s.Format(), nil
}

func (s *gocvSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.pump.halt()
		<-s.pump.done
		s.release()
		log.Printf("[Capture] Session %s closed (opencv device %d)", s.id, s.index)
	})
	return nil
}

func (s *gocvSession) release() {
	s.vcMu.Lock()
	defer s.vcMu.Unlock()
	s.mat.Close()
	s.vc.Close()
}
