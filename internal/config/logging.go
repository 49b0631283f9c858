package config

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// =============================================================================
// Rotating File Writer
// =============================================================================

// RotatingFileWriter is an io.Writer that rotates by size: when a write
// would push the file past maxBytes, path becomes path.1, path.1 becomes
// path.2 and so on up to backupCount.
type RotatingFileWriter struct {
	mu          sync.Mutex
	path        string
	maxBytes    int64
	backupCount int
	file        *os.File
	size        int64
}

// NewRotatingFileWriter opens (or creates) path for appending.
// maxBytes <= 0 disables rotation.
func NewRotatingFileWriter(path string, maxBytes, backupCount int) (*RotatingFileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("config: create log dir: %w", err)
	}

	rw := &RotatingFileWriter{
		path:        path,
		maxBytes:    int64(maxBytes),
		backupCount: backupCount,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingFileWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("config: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("config: stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

func (rw *RotatingFileWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.maxBytes > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.maxBytes {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "config: log rotation failed: %v\n", err)
		}
	}
	if rw.file == nil {
		return 0, fmt.Errorf("config: log file %s is not open", rw.path)
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

func (rw *RotatingFileWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

// rotate shifts backups up by one and reopens an empty file. With no
// backups the file is simply truncated.
func (rw *RotatingFileWriter) rotate() error {
	rw.file.Close()
	rw.file = nil

	if rw.backupCount <= 0 {
		if err := os.Truncate(rw.path, 0); err != nil && !os.IsNotExist(err) {
			return err
		}
		return rw.open()
	}

	for i := rw.backupCount; i > 0; i-- {
		src := rw.path
		if i > 1 {
			src = fmt.Sprintf("%s.%d", rw.path, i-1)
		}
		dst := fmt.Sprintf("%s.%d", rw.path, i)
		os.Remove(dst)
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return rw.open()
}

// =============================================================================
// Level filter
// =============================================================================

// Log lines carry their level as a word after the component tag, e.g.
// "[Capture] WARNING: ...". Lines without one are INFO.
var levelRank = map[string]int{
	"DEBUG":   0,
	"INFO":    1,
	"WARNING": 2,
	"ERROR":   3,
}

// levelWriter drops lines below min.
type levelWriter struct {
	w   io.Writer
	min int
}

func lineLevel(p []byte) int {
	for name, rank := range levelRank {
		if rank != levelRank["INFO"] && bytes.Contains(p, []byte(name+":")) {
			return rank
		}
	}
	return levelRank["INFO"]
}

func (lw levelWriter) Write(p []byte) (int, error) {
	if lineLevel(p) < lw.min {
		return len(p), nil
	}
	return lw.w.Write(p)
}

// =============================================================================
// ConfigureLogging
// =============================================================================

// ConfigureLogging points the standard log package at a rotating log file
// and, optionally, stdout, dropping lines below cfg.LogLevel.
//
// Returns a cleanup function that should be called on shutdown.
func ConfigureLogging(cfg *Config) (cleanup func(), err error) {
	var writers []io.Writer
	var closers []io.Closer

	if cfg.LogFile != "" {
		rw, err := NewRotatingFileWriter(cfg.LogFile, cfg.LogMaxBytes, cfg.LogBackupCount)
		if err != nil {
			log.Printf("[Config] WARNING: Failed to configure file logging (%s): %v", cfg.LogFile, err)
		} else {
			writers = append(writers, rw)
			closers = append(closers, rw)
		}
	}
	if cfg.LogToStdout || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer = io.MultiWriter(writers...)
	if len(writers) == 1 {
		w = writers[0]
	}

	threshold, known := levelRank[strings.ToUpper(cfg.LogLevel)]
	if !known {
		threshold = levelRank["INFO"]
	}
	if threshold > levelRank["DEBUG"] {
		w = levelWriter{w: w, min: threshold}
	}

	log.SetOutput(w)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if !known && cfg.LogLevel != "" {
		log.Printf("[Config] WARNING: Unknown log level %q, using INFO", cfg.LogLevel)
	}

	cleanup = func() {
		log.SetOutput(os.Stderr)
		for _, c := range closers {
			c.Close()
		}
	}
	return cleanup, nil
}
