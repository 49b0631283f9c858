package camera

import (
	"fmt"
	"strings"
	"time"
)

// Backend names accepted by NewSource.
const (
	BackendFFmpeg  = "ffmpeg"
	BackendPattern = "pattern"
	BackendGocv    = "gocv"
)

// BackendOptions carries the per-backend knobs from configuration.
type BackendOptions struct {
	Request        Format
	ReadTimeout    time.Duration
	InputFormat    string // ffmpeg only
	FFmpegBinary   string // ffmpeg only
	KillHolders    bool   // ffmpeg only
	PatternDevices int    // pattern only
}

// NewSource builds the capture backend named by backend.
func NewSource(backend string, opts BackendOptions) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFFmpeg:
		s := NewFFmpegSource(opts.Request)
		if opts.ReadTimeout > 0 {
			s.ReadTimeout = opts.ReadTimeout
		}
		if opts.InputFormat != "" {
			s.InputFormat = opts.InputFormat
		}
		if opts.FFmpegBinary != "" {
			s.Binary = opts.FFmpegBinary
		}
		s.KillHolders = opts.KillHolders
		return s, nil
	case BackendPattern:
		n := opts.PatternDevices
		if n <= 0 {
			n = 2
		}
		return NewPatternSource(n, opts.Request), nil
	case BackendGocv:
		if !gocvAvailable() {
			return nil, fmt.Errorf("camera: backend %q not compiled in (build with -tags gocv)", backend)
		}
		return newGocvBackend(opts.Request, opts.ReadTimeout), nil
	default:
		return nil, fmt.Errorf("camera: unknown backend %q", backend)
	}
}
