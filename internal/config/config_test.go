package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_INI(t *testing.T) {
	path := writeFile(t, "config.ini", `
# delayed mirror
[capture]
backend = pattern
source = 2
fallback = -1
width = 1280
height = 720
fps = 500
format = YUYV

[Delay]
delay_sec = 4.5
queue_capacity = 200

[display]
flip = yes
preview_scale = 0.5
scale_quality = ultra
; comment
overlay = on

[unknown]
foo = bar
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pattern", cfg.Backend)
	assert.Equal(t, 2, cfg.Source)
	assert.Equal(t, -1, cfg.Fallback)
	assert.Equal(t, 1280, cfg.CaptureWidth)
	assert.Equal(t, 720, cfg.CaptureHeight)
	assert.Equal(t, 120, cfg.CaptureFPS, "clamped")
	assert.Equal(t, "yuyv", cfg.CaptureFormat)
	assert.Equal(t, 4.5, cfg.DelaySec)
	assert.Equal(t, 200, cfg.QueueCapacity)
	assert.True(t, cfg.Flip)
	assert.Equal(t, 0.5, cfg.PreviewScale)
	assert.Equal(t, "balanced", cfg.ScaleQuality, "unknown choice keeps default")
	assert.True(t, cfg.ShowOverlay)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "mirror.yaml", `
logging:
  level: warning
  stdout: false
capture:
  backend: gocv
  read_timeout_ms: 250
delay:
  max_delay_sec: 30
  delay_sec: 45
display:
  fps: 24
  flip: true
health:
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "WARNING", cfg.LogLevel)
	assert.False(t, cfg.LogToStdout)
	assert.Equal(t, "gocv", cfg.Backend)
	assert.Equal(t, 250, cfg.ReadTimeoutMS)
	assert.Equal(t, 30.0, cfg.MaxDelaySec)
	assert.Equal(t, 30.0, cfg.DelaySec, "delay is clamped to max_delay_sec")
	assert.Equal(t, 24, cfg.DisplayFPS)
	assert.True(t, cfg.Flip)
	assert.Equal(t, DefaultConfig().HealthLogIntervalSec, cfg.HealthLogIntervalSec)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeFile(t, "bad.yml", "delay: [1, 2\n")
	cfg, err := Load(path)
	assert.Error(t, err)
	assert.NotNil(t, cfg, "defaults are still returned")
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.ini", "[logging]\nfile = ./from-file.log\n")
	t.Setenv("DELAYED_MIRROR_CONFIG", path)
	t.Setenv("DELAYED_MIRROR_LOG_FILE", "/tmp/from-env.log")

	assert.Equal(t, path, ConfigPath())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.log", cfg.LogFile)
}

func TestParseHelpers(t *testing.T) {
	assert.True(t, asBool("On", false))
	assert.False(t, asBool("0", true))
	assert.True(t, asBool("maybe", true))

	assert.Equal(t, 5, asInt("x", 5, nil, nil))
	assert.Equal(t, 10, asInt("3", 5, intPtr(10), nil))
	assert.Equal(t, 20, asInt("30", 5, nil, intPtr(20)))

	assert.Equal(t, 1.5, asFloat("", 1.5, nil, nil))
	assert.Equal(t, 0.1, asFloat("0.01", 1, floatPtr(0.1), nil))

	assert.Equal(t, "high", asChoice(" HIGH ", "fast", "fast", "high"))
	assert.Equal(t, "fast", asChoice("warp", "fast", "fast", "high"))
}

func TestSetDelaySecAndDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetDelaySec(90)
	assert.Equal(t, 60.0, cfg.DelaySec)
	cfg.SetDelaySec(-1)
	assert.Equal(t, 0.0, cfg.DelaySec)
	cfg.SetDelaySec(2.5)
	assert.Equal(t, "2.5s", cfg.Delay().String())
	assert.Equal(t, "1m0s", cfg.MaxDelay().String())
	assert.Equal(t, "500ms", cfg.ReadTimeout().String())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	ok, warnings := cfg.Validate()
	assert.True(t, ok)
	assert.Empty(t, warnings)

	// 1080p at 60 FPS for 60 s decoded is far too much memory.
	cfg.CaptureWidth, cfg.CaptureHeight, cfg.CaptureFPS, cfg.DelaySec = 1920, 1080, 60, 60
	ok, warnings = cfg.Validate()
	assert.False(t, ok)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "Delay queue needs")

	cfg = DefaultConfig()
	cfg.QueueCapacity = 10
	ok, warnings = cfg.Validate()
	assert.True(t, ok)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "queue_capacity")
}

func TestQueueBytesEstimate(t *testing.T) {
	cfg := DefaultConfig() // 640x480 @ 30 FPS, 10 s
	assert.Equal(t, int64(300*640*480*4), cfg.QueueBytesEstimate())
	cfg.QueueCapacity = 100
	assert.Equal(t, int64(100*640*480*4), cfg.QueueBytesEstimate())
}

func TestRotatingFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	rw, err := NewRotatingFileWriter(path, 20, 2)
	require.NoError(t, err)
	defer rw.Close()

	for _, line := range []string{"first line 0123\n", "second line 012\n", "third line 0123\n"} {
		_, err := rw.Write([]byte(line))
		require.NoError(t, err)
	}

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "third line 0123\n", string(current))

	b1, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "second line 012\n", string(b1))

	b2, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "first line 0123\n", string(b2))
}

func TestLevelWriter(t *testing.T) {
	var buf bytes.Buffer
	w := levelWriter{w: &buf, min: levelRank["WARNING"]}

	w.Write([]byte("[Capture] Session started\n"))
	w.Write([]byte("[Capture] WARNING: device busy\n"))
	w.Write([]byte("[Main] ERROR: boom\n"))
	w.Write([]byte("[UI] DEBUG: frame\n"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"[Capture] WARNING: device busy", "[Main] ERROR: boom"}, lines)
}
