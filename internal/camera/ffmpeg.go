package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"delayed-mirror/internal/helpers"

	"github.com/google/uuid"
)

// FFmpegSource captures V4L2 devices through an ffmpeg subprocess that
// re-encodes to MJPEG on stdout.
type FFmpegSource struct {
	Binary      string        // ffmpeg executable
	DevDir      string        // where videoN nodes live
	InputFormat string        // "mjpeg" or "yuyv"; tried first, then the other, then auto
	Request     Format        // format asked for on open
	ReadTimeout time.Duration // bounded wait per Read
	OpenTimeout time.Duration // how long to wait for the first frame
	KillHolders bool          // kill processes holding the device before opening
}

// NewFFmpegSource returns a source with sensible defaults.
func NewFFmpegSource(request Format) *FFmpegSource {
	return &FFmpegSource{
		Binary:      "ffmpeg",
		DevDir:      "/dev",
		InputFormat: "mjpeg",
		Request:     request,
		ReadTimeout: 500 * time.Millisecond,
		OpenTimeout: 5 * time.Second,
	}
}

// Open starts ffmpeg on /dev/video<index> and waits for the first frame.
func (s *FFmpegSource) Open(ctx context.Context, index int) (Session, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: invalid index %d", ErrDeviceOpen, index)
	}
	path := filepath.Join(s.DevDir, fmt.Sprintf("video%d", index))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceOpen, path, err)
	}

	if s.KillHolders {
		helpers.KillDeviceHolders(path, true)
	}

	sess := &ffmpegSession{
		id:     uuid.NewString(),
		index:  index,
		path:   path,
		src:    s,
		closed: make(chan struct{}),
	}
	if _, err := sess.start(ctx, s.Request); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceOpen, path, err)
	}
	return sess, nil
}

type ffmpegSession struct {
	id    string
	index int
	path  string
	src   *FFmpegSource

	mu      sync.Mutex
	cmd     *exec.Cmd
	pump    *framePump
	format  Format
	request Format // what the running ffmpeg was started with

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *ffmpegSession) ID() string       { return s.id }
func (s *ffmpegSession) DeviceIndex() int { return s.index }

func (s *ffmpegSession) Format() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.format
	if s.pump == nil {
		return f
	}
	if w, h, ok := s.pump.size(); ok {
		f.Width, f.Height = w, h
	}
	return f
}

func (s *ffmpegSession) Read(ctx context.Context) (Frame, error) {
	select {
	case <-s.closed:
		return Frame{}, ErrSessionClosed
	default:
	}
	s.mu.Lock()
	pump := s.pump
	s.mu.Unlock()
	return pump.read(ctx, s.src.ReadTimeout, s.closed)
}

// Configure restarts ffmpeg with the new request. If the device rejects
// it, the previous format is restored. Asking for the format ffmpeg is
// already running with is a no-op.
func (s *ffmpegSession) Configure(ctx context.Context, want Format) (Format, error) {
	select {
	case <-s.closed:
		return Format{}, ErrSessionClosed
	default:
	}

	s.mu.Lock()
	running := s.cmd != nil && s.request == want
	s.mu.Unlock()
	if running {
		return s.Format(), nil
	}

	previous := s.Format()
	s.stopProcess()

	got, err := s.start(ctx, want)
	if err == nil {
		return got, nil
	}
	log.Printf("[Capture] %s: format %s rejected (%v), restoring %s", s.path, want, err, previous)
	if _, restoreErr := s.start(ctx, previous); restoreErr != nil {
		return Format{}, fmt.Errorf("%w: restore %s: %v", ErrEndOfStream, previous, restoreErr)
	}
	return s.Format(), err
}

func (s *ffmpegSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.stopProcess()
		log.Printf("[Capture] Session %s closed (%s)", s.id, s.path)
	})
	return nil
}

// start tries each input format until one produces a frame.
func (s *ffmpegSession) start(ctx context.Context, want Format) (Format, error) {
	var lastErr error
	for _, args := range s.argSets(want) {
		err := s.launch(ctx, args, want)
		if err == nil {
			f := s.Format()
			log.Printf("[Capture] Session %s: %s negotiated %s", s.id, s.path, f)
			return f, nil
		}
		lastErr = err
		log.Printf("[Capture] %s: ffmpeg attempt failed: %v", s.path, err)
		s.stopProcess()
		if ctx.Err() != nil {
			return Format{}, ctx.Err()
		}
	}
	return Format{}, lastErr
}

func (s *ffmpegSession) argSets(want Format) [][]string {
	common := []string{"-hide_banner", "-thread_queue_size", "512", "-probesize", "32", "-analyzeduration", "0"}
	output := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}

	input := func(pixFmt string) []string {
		args := append([]string{}, common...)
		args = append(args, "-f", "v4l2")
		if pixFmt != "" {
			args = append(args, "-input_format", pixFmt)
		}
		if want.Width > 0 && want.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", want.Width, want.Height))
		}
		if want.FPS > 0 {
			args = append(args, "-framerate", strconv.FormatFloat(want.FPS, 'f', -1, 64))
		}
		args = append(args, "-i", s.path)
		return append(args, output...)
	}

	order := []string{"mjpeg", "yuyv422"}
	if s.src.InputFormat == "yuyv" {
		order = []string{"yuyv422", "mjpeg"}
	}
	return [][]string{input(order[0]), input(order[1]), input("")}
}

func (s *ffmpegSession) launch(ctx context.Context, args []string, want Format) error {
	cmd := exec.Command(s.src.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	reader := newMJPEGReader(stdout)
	pump := startPump(reader.NextImage, time.Now)

	s.mu.Lock()
	s.cmd = cmd
	s.pump = pump
	s.format = want
	s.request = want
	s.mu.Unlock()

	go s.scanStderr(stderr, pump)

	if err := pump.waitReady(ctx, s.src.OpenTimeout); err != nil {
		if errors.Is(err, ErrReadTimeout) {
			return fmt.Errorf("no frame within %s", s.src.OpenTimeout)
		}
		return err
	}
	return nil
}

var streamInfoRegexp = regexp.MustCompile(`Stream #\d+:\d+.*Video:.*?(\d{2,5})x(\d{2,5}).*?(\d+(?:\.\d+)?) fps`)

// scanStderr reads ffmpeg's banner for the negotiated input stream so the
// actual frame rate is known; the first Video stream line is the input.
func (s *ffmpegSession) scanStderr(r io.Reader, owner *framePump) {
	scanner := bufio.NewScanner(r)
	seen := false
	for scanner.Scan() {
		if seen {
			continue
		}
		m := streamInfoRegexp.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		seen = true
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		fps, _ := strconv.ParseFloat(m[3], 64)
		s.mu.Lock()
		if s.pump == owner {
			s.format = Format{Width: w, Height: h, FPS: fps}
		}
		s.mu.Unlock()
	}
}

// stopProcess kills ffmpeg, reaps it and waits for the pump to exit.
func (s *ffmpegSession) stopProcess() {
	s.mu.Lock()
	cmd, pump := s.cmd, s.pump
	s.cmd = nil
	s.mu.Unlock()

	if pump != nil {
		pump.halt()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	if pump != nil {
		<-pump.done
	}
	if cmd != nil {
		cmd.Wait() // reap, no zombies
	}
}
