package pipeline

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"delayed-mirror/internal/camera"
	"delayed-mirror/internal/delay"
	"delayed-mirror/internal/render"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type presented struct {
	target render.Target
	frame  render.Frame
	at     time.Time
}

type fakeSink struct {
	mu     sync.Mutex
	frames []presented
}

func (s *fakeSink) Present(target render.Target, f render.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, presented{target: target, frame: f, at: time.Now()})
	s.mu.Unlock()
}

func (s *fakeSink) all() []presented {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]presented(nil), s.frames...)
}

func (s *fakeSink) count(target render.Target) int {
	n := 0
	for _, p := range s.all() {
		if p.target == target {
			n++
		}
	}
	return n
}

func newTestPipeline(t *testing.T, src camera.Source, initial Settings) (*Pipeline, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	p := New(src, sink, initial, Options{DisplayFPS: 100, Fallback: camera.NoFallback, ConvertColor: true})
	return p, sink
}

func fastPattern(devices int) *camera.PatternSource {
	return camera.NewPatternSource(devices, camera.Format{Width: 32, Height: 24, FPS: 120})
}

func TestPipeline_StartPresentStop(t *testing.T) {
	src := fastPattern(1)
	p, sink := newTestPipeline(t, src, Settings{PreviewSize: render.Size{W: 64, H: 64}})

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return sink.count(render.Preview) > 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, sink.count(render.Fullscreen), "fullscreen is off")
	assert.Equal(t, render.Size{W: 64, H: 48}, sink.all()[0].frame.Size)

	require.NoError(t, p.Stop())
	assert.Equal(t, 0, src.OpenSessions())
	assert.Equal(t, 0, p.queue.Len())
	assert.NoError(t, p.Err())

	select {
	case <-p.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}

func TestPipeline_HoldsFramesForDelay(t *testing.T) {
	const d = 300 * time.Millisecond
	src := fastPattern(1)
	p, sink := newTestPipeline(t, src, Settings{Delay: d})

	start := time.Now()
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, func() bool { return sink.count(render.Preview) > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), d)

	for _, got := range sink.all() {
		assert.GreaterOrEqual(t, got.at.Sub(got.frame.Source.Captured), d, "frame %d shown too early", got.frame.Source.Seq)
	}
}

func TestPipeline_FramesShownInCaptureOrder(t *testing.T) {
	src := fastPattern(1)
	p, sink := newTestPipeline(t, src, Settings{Delay: 50 * time.Millisecond})
	require.NoError(t, p.Start(context.Background()))

	require.Eventually(t, func() bool { return sink.count(render.Preview) > 10 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Stop())

	var last uint64
	for _, got := range sink.all() {
		assert.Greater(t, got.frame.Source.Seq, last)
		last = got.frame.Source.Seq
	}
}

func TestPipeline_InvalidSwitchKeepsCurrentDevice(t *testing.T) {
	src := fastPattern(2)
	p, sink := newTestPipeline(t, src, Settings{})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	err := p.SwitchDevice(context.Background(), 7)
	assert.ErrorIs(t, err, camera.ErrDeviceOpen)
	assert.Equal(t, 0, p.Settings().DeviceIndex)
	assert.Equal(t, 1, src.OpenSessions())

	before := sink.count(render.Preview)
	require.Eventually(t, func() bool { return sink.count(render.Preview) > before+2 }, 2*time.Second, 10*time.Millisecond,
		"old session should keep delivering")
}

func TestPipeline_SwitchDevice(t *testing.T) {
	src := fastPattern(2)
	p, _ := newTestPipeline(t, src, Settings{})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.NoError(t, p.SwitchDevice(context.Background(), 1))
	assert.Equal(t, 1, p.Settings().DeviceIndex)
	assert.Equal(t, 1, src.OpenSessions(), "old session must be closed")

	captured := p.Health().Captured
	require.Eventually(t, func() bool { return p.Health().Captured > captured+2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.SwitchDevice(context.Background(), 1), "switching to the current device is a no-op")
}

func TestPipeline_EndOfStreamShutsDown(t *testing.T) {
	src := fastPattern(1)
	src.FrameLimit = 5
	p, _ := newTestPipeline(t, src, Settings{})
	require.NoError(t, p.Start(context.Background()))

	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not stop at end of stream")
	}
	assert.ErrorIs(t, p.Err(), camera.ErrEndOfStream)
	assert.Equal(t, 0, src.OpenSessions())
	assert.Equal(t, 0, p.queue.Len())

	assert.ErrorIs(t, p.SwitchDevice(context.Background(), 0), ErrNotRunning)
	assert.ErrorIs(t, p.Stop(), camera.ErrEndOfStream)
}

func TestPipeline_ContextCancelStops(t *testing.T) {
	src := fastPattern(1)
	p, _ := newTestPipeline(t, src, Settings{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))

	cancel()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop on cancel")
	}
	assert.NoError(t, p.Err())
	assert.Equal(t, 0, src.OpenSessions())
}

func TestPipeline_Fallback(t *testing.T) {
	src := fastPattern(2)
	sink := &fakeSink{}
	p := New(src, sink, Settings{DeviceIndex: 9}, Options{DisplayFPS: 50, Fallback: 1})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	assert.Equal(t, 1, p.Settings().DeviceIndex)
}

func TestPipeline_StartFails(t *testing.T) {
	src := fastPattern(1)
	p, _ := newTestPipeline(t, src, Settings{DeviceIndex: 4})

	assert.ErrorIs(t, p.Start(context.Background()), camera.ErrDeviceOpen)
	assert.ErrorIs(t, p.Stop(), ErrNotRunning)
	assert.ErrorIs(t, p.SwitchDevice(context.Background(), 0), ErrNotRunning)
}

func TestPipeline_Fullscreen(t *testing.T) {
	src := fastPattern(1)
	p, sink := newTestPipeline(t, src, Settings{PreviewSize: render.Size{W: 100, H: 100}})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	p.SetFullscreenSize(render.Size{W: 1920, H: 1080})
	p.SetFullscreen(true)

	require.Eventually(t, func() bool { return sink.count(render.Fullscreen) > 0 }, 2*time.Second, 10*time.Millisecond)
	for _, got := range sink.all() {
		if got.target == render.Fullscreen {
			assert.Equal(t, render.Size{W: 1440, H: 1080}, got.frame.Size)
		}
	}
	assert.Greater(t, sink.count(render.Preview), 0, "preview keeps rendering in fullscreen")
}

func TestPipeline_SetDelay(t *testing.T) {
	p, _ := newTestPipeline(t, fastPattern(1), Settings{Delay: time.Second})

	assert.ErrorIs(t, p.SetDelay(-time.Second), delay.ErrNegativeDelay)
	require.NoError(t, p.SetDelay(5*time.Second))
	assert.Equal(t, 5*time.Second, p.Settings().Delay)
	assert.Equal(t, 5*time.Second, p.queue.Delay())
}

func TestPipeline_TickRerendersOnSettingsChange(t *testing.T) {
	p, sink := newTestPipeline(t, fastPattern(1), Settings{PreviewSize: render.Size{W: 40, H: 40}})

	now := time.Now()
	for i := 1; i <= 3; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 20, 10))
		require.NoError(t, p.queue.Push(camera.NewFrame(uint64(i), img, now)))
	}

	p.tick(now)
	got := sink.all()
	require.Len(t, got, 1, "only the newest released frame is shown")
	assert.Equal(t, uint64(3), got[0].frame.Source.Seq)
	assert.Equal(t, uint64(2), p.skipped.Load())
	assert.Equal(t, render.Size{W: 40, H: 20}, got[0].frame.Size)

	// Stalled capture: nothing new, nothing changed.
	p.tick(now.Add(time.Second))
	assert.Len(t, sink.all(), 1)

	// A resize re-renders the last frame at the new size.
	p.SetPreviewSize(render.Size{W: 10, H: 10})
	p.tick(now.Add(2 * time.Second))
	got = sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[1].frame.Source.Seq)
	assert.Equal(t, render.Size{W: 10, H: 5}, got[1].frame.Size)
}

func TestPipeline_HealthBeforeFirstFrame(t *testing.T) {
	p, _ := newTestPipeline(t, fastPattern(1), Settings{Delay: 2 * time.Second, DeviceIndex: 0})
	h := p.Health()
	assert.Equal(t, 2*time.Second, h.Delay)
	assert.Less(t, h.LastFrameAge, time.Duration(0))
}
