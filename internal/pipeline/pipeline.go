// Package pipeline wires a capture session, the delay queue and a display
// sink together.
//
// Two activities run while the pipeline is up: a capture goroutine that
// reads as fast as the device delivers and pushes into the queue, and a
// display ticker that releases aged frames, renders them and hands them to
// the sink. A stalled camera never blocks the ticker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"delayed-mirror/internal/camera"
	"delayed-mirror/internal/delay"
	"delayed-mirror/internal/perf"
	"delayed-mirror/internal/render"
)

// Errors
var (
	ErrNotRunning     = fmt.Errorf("pipeline: not running")
	ErrAlreadyRunning = fmt.Errorf("pipeline: already running")
)

// Sink paints rendered frames. Present is called from the display
// goroutine and must not block for long.
type Sink interface {
	Present(target render.Target, f render.Frame)
}

// Settings is the runtime-mutable configuration. Each display tick works
// from one snapshot, so a change lands on the next processed frame.
type Settings struct {
	Delay          time.Duration
	DeviceIndex    int
	Flip           bool
	PreviewSize    render.Size
	FullscreenSize render.Size
	FullscreenOn   bool
}

// Options are fixed for the lifetime of a pipeline.
type Options struct {
	DisplayFPS     int
	Capture        camera.Format // requested on every session; zero skips Configure
	Fallback       int           // camera.NoFallback disables
	QueueCapacity  int           // 0 = unbounded
	ConvertColor   bool
	Quality        render.Quality
	ShowOverlay    bool
	Governor       *perf.Governor // optional; adjusts the display rate
	Monitor        *perf.Monitor  // optional; host metrics in health logs
	HealthInterval time.Duration
	StaleAge       time.Duration
}

// Pipeline is a single delayed-mirror instance.
type Pipeline struct {
	src   camera.Source
	sink  Sink
	opts  Options
	queue *delay.Queue

	mu       sync.Mutex
	settings Settings
	dirty    bool
	last     camera.Frame // newest released frame, re-rendered on changes
	session  camera.Session
	started  bool

	// switchMu serializes Start, device switches and shutdown.
	switchMu   sync.Mutex
	runCtx     context.Context
	cancel     context.CancelFunc
	capCancel  context.CancelFunc
	capDone    chan struct{}
	tickDone   chan struct{}
	fatal      chan error
	done       chan struct{}
	err        error
	lastCapNs  atomic.Int64
	captured   atomic.Uint64
	displayed  atomic.Uint64
	skipped    atomic.Uint64
	statsMu    sync.Mutex
	captureFPS perf.RateMeter
	displayFPS perf.RateMeter
}

// New builds a stopped pipeline. initial.Delay must not be negative.
func New(src camera.Source, sink Sink, initial Settings, opts Options) *Pipeline {
	if opts.DisplayFPS <= 0 {
		opts.DisplayFPS = 30
	}
	if initial.Delay < 0 {
		initial.Delay = 0
	}
	return &Pipeline{
		src:      src,
		sink:     sink,
		opts:     opts,
		queue:    delay.New(initial.Delay, delay.WithCapacity(opts.QueueCapacity)),
		settings: initial,
		done:     make(chan struct{}),
		fatal:    make(chan error, 1),
	}
}

// Start opens the configured device (or the fallback) and starts the
// capture and display activities. The pipeline stops when ctx is
// cancelled, Stop is called, or the device reports end of stream.
func (p *Pipeline) Start(ctx context.Context) error {
	p.switchMu.Lock()
	defer p.switchMu.Unlock()

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	preferred := p.settings.DeviceIndex
	p.mu.Unlock()

	sess, usedFallback, err := camera.OpenWithFallback(ctx, p.src, preferred, p.opts.Fallback)
	if err != nil {
		return err
	}
	p.configure(ctx, sess)

	runCtx, cancel := context.WithCancel(ctx)
	capCtx, capCancel := context.WithCancel(runCtx)

	p.mu.Lock()
	p.runCtx, p.cancel = runCtx, cancel
	p.capCancel, p.capDone = capCancel, make(chan struct{})
	p.tickDone = make(chan struct{})
	p.session = sess
	p.settings.DeviceIndex = sess.DeviceIndex()
	p.started = true
	p.mu.Unlock()

	if usedFallback {
		log.Printf("[Pipeline] Using fallback device %d instead of %d", sess.DeviceIndex(), preferred)
	}
	log.Printf("[Pipeline] Started on device %d (session %s), delay %s", sess.DeviceIndex(), sess.ID(), p.queue.Delay())

	go p.capture(capCtx, sess, p.capDone)
	go p.display(runCtx, p.tickDone)
	go p.supervise()

	if p.opts.Governor != nil {
		go p.opts.Governor.Run(runCtx)
	}
	if p.opts.HealthInterval > 0 {
		hl := &perf.HealthLogger{Source: p, Monitor: p.opts.Monitor, Interval: p.opts.HealthInterval, StaleAge: p.opts.StaleAge}
		go hl.Run(runCtx)
	}
	return nil
}

// Stop runs the shutdown sequence and waits for it to finish. It returns
// the fatal error that ended the pipeline, if any.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return ErrNotRunning
	}
	p.cancel()
	<-p.done
	return p.err
}

// Done is closed once the pipeline has fully shut down.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Err is the reason the pipeline stopped: nil for a requested stop,
// otherwise the fatal capture error (wrapping camera.ErrEndOfStream).
func (p *Pipeline) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// supervise waits for a stop request or a fatal error and then shuts
// down in order: capture, ticker, queue, session.
func (p *Pipeline) supervise() {
	var cause error
	select {
	case <-p.runCtx.Done():
	case cause = <-p.fatal:
		log.Printf("[Pipeline] Fatal: %v, shutting down", cause)
	}
	p.cancel()

	p.switchMu.Lock()
	<-p.capDone
	<-p.tickDone
	dropped := p.queue.Drain()

	p.mu.Lock()
	sess := p.session
	p.session = nil
	p.last = camera.Frame{}
	p.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	p.switchMu.Unlock()

	p.err = cause
	log.Printf("[Pipeline] Stopped (discarded %d queued frames)", dropped)
	close(p.done)
}

func (p *Pipeline) fail(err error) {
	select {
	case p.fatal <- err:
	default:
	}
}

func (p *Pipeline) configure(ctx context.Context, sess camera.Session) {
	want := p.opts.Capture
	if want == (camera.Format{}) {
		return
	}
	got, err := sess.Configure(ctx, want)
	if err != nil {
		log.Printf("[Capture] Device %d: could not apply %s: %v", sess.DeviceIndex(), want, err)
		return
	}
	if got != want {
		log.Printf("[Capture] Device %d: requested %s, negotiated %s", sess.DeviceIndex(), want, got)
	}
}

// capture reads until ctx is cancelled or the session fails. Timeouts
// are retried; anything else is fatal to the pipeline.
func (p *Pipeline) capture(ctx context.Context, sess camera.Session, done chan struct{}) {
	defer close(done)

	overflowLogged := false
	for {
		f, err := sess.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !camera.IsFatal(err) {
				continue
			}
			p.fail(fmt.Errorf("device %d: %w", sess.DeviceIndex(), err))
			return
		}

		p.captured.Add(1)
		p.lastCapNs.Store(f.Captured.UnixNano())
		if err := p.queue.Push(f); errors.Is(err, delay.ErrQueueOverflow) && !overflowLogged {
			log.Printf("[Pipeline] WARNING: delay queue full, dropping oldest frames")
			overflowLogged = true
		}
	}
}

func (p *Pipeline) display(ctx context.Context, done chan struct{}) {
	defer close(done)

	fps := p.currentFPS()
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(time.Now())
			if next := p.currentFPS(); next != fps {
				fps = next
				ticker.Reset(time.Second / time.Duration(fps))
			}
		}
	}
}

func (p *Pipeline) currentFPS() int {
	if g := p.opts.Governor; g != nil {
		if fps := g.FPS(); fps > 0 {
			return fps
		}
	}
	return p.opts.DisplayFPS
}

// tick releases every frame that has aged past the delay and shows the
// newest of them. With nothing released it re-renders the last frame only
// if the settings changed, so resizes and flips apply during a stall.
func (p *Pipeline) tick(now time.Time) {
	var newest camera.Frame
	released := 0
	for {
		f, ok := p.queue.PopReady(now)
		if !ok {
			break
		}
		newest = f
		released++
	}
	if released > 1 {
		p.skipped.Add(uint64(released - 1))
	}

	p.mu.Lock()
	snap := p.settings
	dirty := p.dirty
	p.dirty = false
	if released > 0 {
		p.last = newest
	}
	frame := p.last
	p.mu.Unlock()

	if frame.IsZero() || (released == 0 && !dirty) {
		return
	}
	p.present(snap, frame)
}

func (p *Pipeline) present(s Settings, f camera.Frame) {
	opts := render.Options{
		ConvertColor: p.opts.ConvertColor,
		Flip:         s.Flip,
		Quality:      p.opts.Quality,
	}
	if p.opts.ShowOverlay {
		opts.Overlay = fmt.Sprintf("-%.1fs", s.Delay.Seconds())
	}

	opts.Target = s.PreviewSize
	p.sink.Present(render.Preview, render.Render(f, opts))

	if s.FullscreenOn {
		opts.Target = s.FullscreenSize
		p.sink.Present(render.Fullscreen, render.Render(f, opts))
	}
	p.displayed.Add(1)
}

// SwitchDevice replaces the capture session. The new device is opened
// first; if that fails the old session keeps running and the error
// (wrapping camera.ErrDeviceOpen) is returned.
func (p *Pipeline) SwitchDevice(ctx context.Context, index int) error {
	p.switchMu.Lock()
	defer p.switchMu.Unlock()

	if err := p.checkRunning(); err != nil {
		return err
	}
	p.mu.Lock()
	current := p.session
	p.mu.Unlock()
	if current != nil && current.DeviceIndex() == index {
		return nil
	}

	next, err := p.src.Open(ctx, index)
	if err != nil {
		log.Printf("[Pipeline] Switch to device %d failed: %v", index, err)
		return err
	}
	if err := p.checkRunning(); err != nil {
		next.Close()
		return err
	}
	p.configure(ctx, next)

	p.capCancel()
	<-p.capDone

	capCtx, capCancel := context.WithCancel(p.runCtx)
	p.capCancel, p.capDone = capCancel, make(chan struct{})

	p.mu.Lock()
	p.session = next
	p.settings.DeviceIndex = index
	p.mu.Unlock()

	go p.capture(capCtx, next, p.capDone)

	if current != nil {
		current.Close()
	}
	log.Printf("[Pipeline] Switched to device %d (session %s)", index, next.ID())
	return nil
}

func (p *Pipeline) checkRunning() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started || p.runCtx.Err() != nil {
		return ErrNotRunning
	}
	return nil
}

// SetDelay changes the delay for queued and future frames.
func (p *Pipeline) SetDelay(d time.Duration) error {
	if err := p.queue.SetDelay(d); err != nil {
		return err
	}
	p.update(func(s *Settings) { s.Delay = d })
	log.Printf("[Pipeline] Delay set to %s", d)
	return nil
}

func (p *Pipeline) SetFlip(on bool) {
	p.update(func(s *Settings) { s.Flip = on })
}

func (p *Pipeline) SetPreviewSize(size render.Size) {
	p.update(func(s *Settings) { s.PreviewSize = size })
}

func (p *Pipeline) SetFullscreenSize(size render.Size) {
	p.update(func(s *Settings) { s.FullscreenSize = size })
}

// SetFullscreen turns the fullscreen target on or off. The preview keeps
// rendering either way.
func (p *Pipeline) SetFullscreen(on bool) {
	p.update(func(s *Settings) { s.FullscreenOn = on })
}

func (p *Pipeline) update(fn func(*Settings)) {
	p.mu.Lock()
	fn(&p.settings)
	p.dirty = true
	p.mu.Unlock()
}

// Settings returns a copy of the current settings.
func (p *Pipeline) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Health reports queue and throughput figures for logging.
func (p *Pipeline) Health() perf.Health {
	now := time.Now()
	stats := p.queue.Stats(now)
	s := p.Settings()

	h := perf.Health{
		Device:       s.DeviceIndex,
		Delay:        s.Delay,
		QueueDepth:   stats.Depth,
		QueueBytes:   stats.Bytes,
		Dropped:      stats.Dropped,
		Captured:     p.captured.Load(),
		Displayed:    p.displayed.Load(),
		LastFrameAge: -1,
	}
	if ns := p.lastCapNs.Load(); ns != 0 {
		h.LastFrameAge = now.Sub(time.Unix(0, ns))
	}

	p.statsMu.Lock()
	h.CaptureFPS = p.captureFPS.Update(h.Captured, now)
	h.DisplayFPS = p.displayFPS.Update(h.Displayed, now)
	p.statsMu.Unlock()
	return h
}
