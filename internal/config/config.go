// Package config manages configuration for the delayed mirror.
//
// Handles loading config from INI or YAML files, environment variables,
// and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration struct
// =============================================================================

// Config holds all runtime configuration values.
type Config struct {
	// Logging
	LogLevel       string // DEBUG, INFO, WARNING or ERROR
	LogFile        string
	LogMaxBytes    int
	LogBackupCount int
	LogToStdout    bool

	// Capture
	Backend           string // "ffmpeg", "pattern" or "gocv"
	Source            int    // preferred device index
	Fallback          int    // device tried when Source fails; -1 disables
	CaptureWidth      int
	CaptureHeight     int
	CaptureFPS        int
	CaptureFormat     string // "mjpeg" or "yuyv"; passed to FFmpeg as -input_format
	ReadTimeoutMS     int
	FFmpegBinary      string
	KillDeviceHolders bool
	PatternDevices    int
	WatchHotplug      bool

	// Delay
	DelaySec      float64
	MaxDelaySec   float64
	QueueCapacity int // 0 = unbounded

	// Display
	Flip         bool
	DisplayFPS   int
	PreviewScale float64 // preview size as a fraction of the window
	ScaleQuality string  // "fast", "balanced" or "high"
	ConvertColor bool
	ShowOverlay  bool
	WindowWidth  int
	WindowHeight int

	// Performance
	DynamicFPSEnabled   bool
	PerfCheckIntervalMS int
	MinDynamicUIFPS     int
	UIFPSStep           int
	CPULoadThreshold    float64
	CPUTempThresholdC   float64
	StressHoldCount     int
	RecoverHoldCount    int

	// Health
	HealthLogIntervalSec float64
	StaleFrameTimeoutSec float64
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		// Logging
		LogLevel:       "INFO",
		LogFile:        "./logs/delayed_mirror.log",
		LogMaxBytes:    5 * 1024 * 1024, // 5 MB
		LogBackupCount: 3,
		LogToStdout:    true,

		// Capture
		Backend:           "ffmpeg",
		Source:            0,
		Fallback:          0,
		CaptureWidth:      640,
		CaptureHeight:     480,
		CaptureFPS:        30,
		CaptureFormat:     "mjpeg",
		ReadTimeoutMS:     500,
		FFmpegBinary:      "ffmpeg",
		KillDeviceHolders: false,
		PatternDevices:    2,
		WatchHotplug:      true,

		// Delay
		DelaySec:      10,
		MaxDelaySec:   60,
		QueueCapacity: 0,

		// Display
		Flip:         false,
		DisplayFPS:   30,
		PreviewScale: 0.65,
		ScaleQuality: "balanced",
		ConvertColor: true,
		ShowOverlay:  false,
		WindowWidth:  1280,
		WindowHeight: 800,

		// Performance
		DynamicFPSEnabled:   true,
		PerfCheckIntervalMS: 2000,
		MinDynamicUIFPS:     12,
		UIFPSStep:           2,
		CPULoadThreshold:    3.0,
		CPUTempThresholdC:   75.0,
		StressHoldCount:     3,
		RecoverHoldCount:    3,

		// Health
		HealthLogIntervalSec: 30.0,
		StaleFrameTimeoutSec: 1.5,
	}
}

// Delay returns DelaySec as a duration.
func (c *Config) Delay() time.Duration {
	return time.Duration(c.DelaySec * float64(time.Second))
}

// MaxDelay returns MaxDelaySec as a duration.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySec * float64(time.Second))
}

// ReadTimeout returns ReadTimeoutMS as a duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

// SetDelaySec clamps seconds into [0, MaxDelaySec].
func (c *Config) SetDelaySec(seconds float64) {
	c.DelaySec = clampFloat(seconds, 0, c.MaxDelaySec)
}

// =============================================================================
// File parsers
// =============================================================================

// sectionData stores parsed sections and their key-value pairs. Both the
// INI and YAML loaders produce it so one apply step serves both.
type sectionData map[string]map[string]string

// parseINI reads an INI file and returns its sections and key-value pairs.
// Supports comments (# and ;), sections ([name]), and key = value lines.
func parseINI(data []byte) sectionData {
	result := make(sectionData)
	currentSection := ""

	for _, rawLine := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(rawLine)

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentSection = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if _, ok := result[currentSection]; !ok {
				result[currentSection] = make(map[string]string)
			}
			continue
		}

		if idx := strings.IndexByte(line, '='); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			value := strings.TrimSpace(line[idx+1:])
			if currentSection != "" {
				result[currentSection][key] = value
			}
		}
	}

	return result
}

// parseYAML reads a two-level YAML mapping with the same section and key
// names as the INI format:
//
//	delay:
//	  delay_sec: 5
func parseYAML(data []byte) (sectionData, error) {
	result := make(sectionData)
	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	for name, sec := range result {
		if sec == nil {
			result[name] = map[string]string{}
		}
	}
	return result, nil
}

// get returns a value from the parsed data, or empty string if not found.
func (d sectionData) get(section, key string) (string, bool) {
	if sec, ok := d[section]; ok {
		if val, ok := sec[key]; ok {
			return val, true
		}
	}
	return "", false
}

// hasSection returns true if the section exists.
func (d sectionData) hasSection(section string) bool {
	_, ok := d[section]
	return ok
}

// =============================================================================
// Type parsing helpers
// =============================================================================

// asBool parses a string as boolean. Truthy: "1","true","yes","on".
// Falsy: "0","false","no","off". Returns fallback on empty/unrecognised.
func asBool(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// asInt parses a string as int with optional min/max clamping.
// Pass nil for unbounded. Returns fallback on parse error.
func asInt(value string, fallback int, minVal, maxVal *int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	if minVal != nil && parsed < *minVal {
		parsed = *minVal
	}
	if maxVal != nil && parsed > *maxVal {
		parsed = *maxVal
	}
	return parsed
}

// asFloat parses a string as float64 with optional min/max clamping.
// Pass nil for unbounded. Returns fallback on parse error.
func asFloat(value string, fallback float64, minVal, maxVal *float64) float64 {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	if minVal != nil && parsed < *minVal {
		parsed = *minVal
	}
	if maxVal != nil && parsed > *maxVal {
		parsed = *maxVal
	}
	return parsed
}

// asChoice returns value lower-cased if it is one of choices.
func asChoice(value, fallback string, choices ...string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, c := range choices {
		if v == c {
			return v
		}
	}
	return fallback
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Helper functions to create pointers for min/max bounds
func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// =============================================================================
// Load + Apply
// =============================================================================

// ConfigPath returns the config file path to use, respecting env vars.
func ConfigPath() string {
	if p := os.Getenv("DELAYED_MIRROR_CONFIG"); p != "" {
		return p
	}
	return "./config.ini"
}

// Load reads the config file at the given path (or the default/env path)
// and returns a fully populated Config. Files ending in .yaml or .yml are
// read as YAML, anything else as INI. Missing sections or keys fall back
// to DefaultConfig() values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()
	defer applyEnv(cfg)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var sections sectionData
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		sections, err = parseYAML(data)
		if err != nil {
			return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	default:
		sections = parseINI(data)
	}

	apply(cfg, sections)
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if logFile := os.Getenv("DELAYED_MIRROR_LOG_FILE"); logFile != "" {
		cfg.LogFile = logFile
	}
}

// apply maps section key-value pairs onto the Config struct.
func apply(cfg *Config, d sectionData) {
	// [logging]
	if d.hasSection("logging") {
		if v, ok := d.get("logging", "level"); ok {
			cfg.LogLevel = strings.ToUpper(strings.TrimSpace(v))
		}
		if v, ok := d.get("logging", "file"); ok {
			cfg.LogFile = v
		}
		if v, ok := d.get("logging", "max_bytes"); ok {
			cfg.LogMaxBytes = asInt(v, cfg.LogMaxBytes, intPtr(1024), nil)
		}
		if v, ok := d.get("logging", "backup_count"); ok {
			cfg.LogBackupCount = asInt(v, cfg.LogBackupCount, intPtr(1), nil)
		}
		if v, ok := d.get("logging", "stdout"); ok {
			cfg.LogToStdout = asBool(v, cfg.LogToStdout)
		}
	}

	// [capture]
	if d.hasSection("capture") {
		if v, ok := d.get("capture", "backend"); ok {
			cfg.Backend = asChoice(v, cfg.Backend, "ffmpeg", "pattern", "gocv")
		}
		if v, ok := d.get("capture", "source"); ok {
			cfg.Source = asInt(v, cfg.Source, intPtr(0), nil)
		}
		if v, ok := d.get("capture", "fallback"); ok {
			cfg.Fallback = asInt(v, cfg.Fallback, intPtr(-1), nil)
		}
		if v, ok := d.get("capture", "width"); ok {
			cfg.CaptureWidth = asInt(v, cfg.CaptureWidth, intPtr(160), intPtr(3840))
		}
		if v, ok := d.get("capture", "height"); ok {
			cfg.CaptureHeight = asInt(v, cfg.CaptureHeight, intPtr(120), intPtr(2160))
		}
		if v, ok := d.get("capture", "fps"); ok {
			cfg.CaptureFPS = asInt(v, cfg.CaptureFPS, intPtr(1), intPtr(120))
		}
		if v, ok := d.get("capture", "format"); ok {
			cfg.CaptureFormat = asChoice(v, cfg.CaptureFormat, "mjpeg", "yuyv")
		}
		if v, ok := d.get("capture", "read_timeout_ms"); ok {
			cfg.ReadTimeoutMS = asInt(v, cfg.ReadTimeoutMS, intPtr(50), intPtr(10000))
		}
		if v, ok := d.get("capture", "ffmpeg"); ok && strings.TrimSpace(v) != "" {
			cfg.FFmpegBinary = strings.TrimSpace(v)
		}
		if v, ok := d.get("capture", "kill_device_holders"); ok {
			cfg.KillDeviceHolders = asBool(v, cfg.KillDeviceHolders)
		}
		if v, ok := d.get("capture", "pattern_devices"); ok {
			cfg.PatternDevices = asInt(v, cfg.PatternDevices, intPtr(1), intPtr(8))
		}
		if v, ok := d.get("capture", "watch_hotplug"); ok {
			cfg.WatchHotplug = asBool(v, cfg.WatchHotplug)
		}
	}

	// [delay]
	if d.hasSection("delay") {
		if v, ok := d.get("delay", "max_delay_sec"); ok {
			cfg.MaxDelaySec = asFloat(v, cfg.MaxDelaySec, floatPtr(1), floatPtr(600))
		}
		if v, ok := d.get("delay", "delay_sec"); ok {
			cfg.DelaySec = asFloat(v, cfg.DelaySec, floatPtr(0), floatPtr(cfg.MaxDelaySec))
		}
		if v, ok := d.get("delay", "queue_capacity"); ok {
			cfg.QueueCapacity = asInt(v, cfg.QueueCapacity, intPtr(0), nil)
		}
	}
	cfg.DelaySec = clampFloat(cfg.DelaySec, 0, cfg.MaxDelaySec)

	// [display]
	if d.hasSection("display") {
		if v, ok := d.get("display", "flip"); ok {
			cfg.Flip = asBool(v, cfg.Flip)
		}
		if v, ok := d.get("display", "fps"); ok {
			cfg.DisplayFPS = asInt(v, cfg.DisplayFPS, intPtr(1), intPtr(120))
		}
		if v, ok := d.get("display", "preview_scale"); ok {
			cfg.PreviewScale = asFloat(v, cfg.PreviewScale, floatPtr(0.1), floatPtr(1.0))
		}
		if v, ok := d.get("display", "scale_quality"); ok {
			cfg.ScaleQuality = asChoice(v, cfg.ScaleQuality, "fast", "balanced", "high")
		}
		if v, ok := d.get("display", "convert_color"); ok {
			cfg.ConvertColor = asBool(v, cfg.ConvertColor)
		}
		if v, ok := d.get("display", "overlay"); ok {
			cfg.ShowOverlay = asBool(v, cfg.ShowOverlay)
		}
		if v, ok := d.get("display", "window_width"); ok {
			cfg.WindowWidth = asInt(v, cfg.WindowWidth, intPtr(320), nil)
		}
		if v, ok := d.get("display", "window_height"); ok {
			cfg.WindowHeight = asInt(v, cfg.WindowHeight, intPtr(240), nil)
		}
	}

	// [performance]
	if d.hasSection("performance") {
		if v, ok := d.get("performance", "dynamic_fps"); ok {
			cfg.DynamicFPSEnabled = asBool(v, cfg.DynamicFPSEnabled)
		}
		if v, ok := d.get("performance", "perf_check_interval_ms"); ok {
			cfg.PerfCheckIntervalMS = asInt(v, cfg.PerfCheckIntervalMS, intPtr(250), nil)
		}
		if v, ok := d.get("performance", "min_dynamic_ui_fps"); ok {
			cfg.MinDynamicUIFPS = asInt(v, cfg.MinDynamicUIFPS, intPtr(1), nil)
		}
		if v, ok := d.get("performance", "ui_fps_step"); ok {
			cfg.UIFPSStep = asInt(v, cfg.UIFPSStep, intPtr(1), nil)
		}
		if v, ok := d.get("performance", "cpu_load_threshold"); ok {
			cfg.CPULoadThreshold = asFloat(v, cfg.CPULoadThreshold, floatPtr(0.1), floatPtr(20.0))
		}
		if v, ok := d.get("performance", "cpu_temp_threshold_c"); ok {
			cfg.CPUTempThresholdC = asFloat(v, cfg.CPUTempThresholdC, floatPtr(30.0), floatPtr(100.0))
		}
		if v, ok := d.get("performance", "stress_hold_count"); ok {
			cfg.StressHoldCount = asInt(v, cfg.StressHoldCount, intPtr(1), nil)
		}
		if v, ok := d.get("performance", "recover_hold_count"); ok {
			cfg.RecoverHoldCount = asInt(v, cfg.RecoverHoldCount, intPtr(1), nil)
		}
	}

	// [health]
	if d.hasSection("health") {
		if v, ok := d.get("health", "log_interval_sec"); ok {
			cfg.HealthLogIntervalSec = asFloat(v, cfg.HealthLogIntervalSec, floatPtr(0), nil)
		}
		if v, ok := d.get("health", "stale_frame_timeout_sec"); ok {
			cfg.StaleFrameTimeoutSec = asFloat(v, cfg.StaleFrameTimeoutSec, floatPtr(0.5), nil)
		}
	}
}

// =============================================================================
// Validate
// =============================================================================

// QueueBytesEstimate is the steady-state pixel memory of the delay queue
// at the configured capture size, rate and delay. Frames are held
// decoded, so 4 bytes per pixel.
func (c *Config) QueueBytesEstimate() int64 {
	frames := int64(float64(c.CaptureFPS) * c.DelaySec)
	if c.QueueCapacity > 0 && frames > int64(c.QueueCapacity) {
		frames = int64(c.QueueCapacity)
	}
	return frames * int64(c.CaptureWidth) * int64(c.CaptureHeight) * 4
}

// Validate checks whether the Config values are reasonable and returns
// warnings. Returns ok=false if any setting is critically problematic.
func (c *Config) Validate() (ok bool, warnings []string) {
	ok = true

	mb := float64(c.QueueBytesEstimate()) / (1 << 20)
	if mb > 2048 {
		ok = false
		warnings = append(warnings, fmt.Sprintf("Delay queue needs about %.0f MB at %dx%d @ %d FPS for %.0fs; lower the resolution, delay or set queue_capacity",
			mb, c.CaptureWidth, c.CaptureHeight, c.CaptureFPS, c.DelaySec))
	} else if mb > 512 {
		warnings = append(warnings, fmt.Sprintf("Delay queue may use about %.0f MB", mb))
	}

	if c.QueueCapacity > 0 && float64(c.QueueCapacity) < float64(c.CaptureFPS)*c.DelaySec {
		warnings = append(warnings, fmt.Sprintf("queue_capacity %d holds less than %.0fs at %d FPS; old frames will be dropped early",
			c.QueueCapacity, c.DelaySec, c.CaptureFPS))
	}

	if c.Fallback < -1 {
		warnings = append(warnings, fmt.Sprintf("Fallback %d is invalid, use -1 to disable", c.Fallback))
	}

	if c.DisplayFPS > c.CaptureFPS {
		warnings = append(warnings, fmt.Sprintf("Display FPS (%d) > capture FPS (%d), extra ticks will find nothing new", c.DisplayFPS, c.CaptureFPS))
	}

	if c.DynamicFPSEnabled && c.MinDynamicUIFPS > c.DisplayFPS {
		warnings = append(warnings, fmt.Sprintf("MinDynamicUIFPS (%d) > DisplayFPS (%d)", c.MinDynamicUIFPS, c.DisplayFPS))
	}

	if c.DisplayFPS > 60 {
		warnings = append(warnings, "Display FPS > 60 is wasteful and likely unsupported")
	}

	return ok, warnings
}
