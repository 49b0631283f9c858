// Package perf samples host load and reports pipeline health.
package perf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sample is one reading of host metrics.
type Sample struct {
	LoadAvg     float64 // 1 minute load average
	TempC       float64 // mean CPU temperature, 0 if unknown
	MemoryUsage float64 // percent of memory in use
	RSSBytes    int64   // this process's resident set
	At          time.Time
}

// Monitor reads host metrics from /proc and /sys.
type Monitor struct {
	ProcDir     string
	ThermalDirs []string

	mu   sync.Mutex
	last Sample
}

// NewMonitor returns a monitor for the standard Linux paths.
func NewMonitor() *Monitor {
	return &Monitor{
		ProcDir: "/proc",
		ThermalDirs: []string{
			"/sys/class/thermal/thermal_zone0",
			"/sys/class/thermal/thermal_zone1",
			"/sys/class/thermal/thermal_zone2",
		},
	}
}

// Update takes a new sample. Load average is required; temperature and
// memory are best-effort.
func (m *Monitor) Update() (Sample, error) {
	s := Sample{At: time.Now()}

	load, err := m.readLoadAverage()
	if err != nil {
		return Sample{}, err
	}
	s.LoadAvg = load
	s.TempC, _ = m.readTemperature()
	s.MemoryUsage, _ = m.readMemoryUsage()
	s.RSSBytes, _ = m.readRSS()

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
	return s, nil
}

// Last returns the most recent sample.
func (m *Monitor) Last() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) readLoadAverage() (float64, error) {
	data, err := os.ReadFile(filepath.Join(m.ProcDir, "loadavg"))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, ErrInvalidLoadAverage
	}
	return strconv.ParseFloat(fields[0], 64)
}

// readTemperature averages every readable zone; values are millidegrees.
func (m *Monitor) readTemperature() (float64, error) {
	var total float64
	var count int
	for _, dir := range m.ThermalDirs {
		data, err := os.ReadFile(filepath.Join(dir, "temp"))
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			continue
		}
		total += milli / 1000.0
		count++
	}
	if count == 0 {
		return 0, ErrTemperatureNotFound
	}
	return total / float64(count), nil
}

func (m *Monitor) readMemoryUsage() (float64, error) {
	data, err := os.ReadFile(filepath.Join(m.ProcDir, "meminfo"))
	if err != nil {
		return 0, err
	}

	var total, available int64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable:":
			available, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}
	if total <= 0 {
		return 0, fmt.Errorf("perf: no MemTotal in meminfo")
	}
	return 100.0 * float64(total-available) / float64(total), nil
}

// readRSS parses VmRSS (kB) from /proc/self/status.
func (m *Monitor) readRSS() (int64, error) {
	data, err := os.ReadFile(filepath.Join(m.ProcDir, "self", "status"))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("perf: no VmRSS in status")
}

// Errors
var (
	ErrInvalidLoadAverage  = fmt.Errorf("invalid load average format")
	ErrTemperatureNotFound = fmt.Errorf("temperature sensors not found")
)
