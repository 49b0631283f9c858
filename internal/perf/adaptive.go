package perf

import (
	"context"
	"log"
	"sync"
	"time"
)

// GovernorConfig bounds the display frame rate the governor may choose.
type GovernorConfig struct {
	TargetFPS     int
	MinFPS        int
	Step          int
	LoadThreshold float64
	TempThreshold float64
	StressHold    int // consecutive stressed samples before stepping down
	RecoverHold   int // consecutive calm samples before stepping up
	Interval      time.Duration
}

// Governor lowers the display rate while the host is under stress and
// restores it once things calm down. Capture is never throttled; only
// how often delayed frames are rendered.
type Governor struct {
	cfg     GovernorConfig
	monitor *Monitor

	mu       sync.RWMutex
	fps      int
	stressed int
	calm     int
}

// NewGovernor starts at the target rate.
func NewGovernor(monitor *Monitor, cfg GovernorConfig) *Governor {
	if cfg.MinFPS <= 0 {
		cfg.MinFPS = 1
	}
	if cfg.TargetFPS < cfg.MinFPS {
		cfg.TargetFPS = cfg.MinFPS
	}
	if cfg.Step <= 0 {
		cfg.Step = 2
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Governor{cfg: cfg, monitor: monitor, fps: cfg.TargetFPS}
}

// FPS is the display rate to use right now.
func (g *Governor) FPS() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.fps
}

// Run samples the monitor until ctx is done.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := g.monitor.Update()
			if err != nil {
				continue
			}
			g.Observe(s)
		}
	}
}

// Observe feeds one sample through the stress/recover hysteresis.
func (g *Governor) Observe(s Sample) {
	stressed := s.LoadAvg > g.cfg.LoadThreshold ||
		(g.cfg.TempThreshold > 0 && s.TempC > g.cfg.TempThreshold)

	g.mu.Lock()
	defer g.mu.Unlock()

	before := g.fps
	if stressed {
		g.calm = 0
		g.stressed++
		if g.stressed >= g.cfg.StressHold {
			g.stressed = 0
			g.fps -= g.cfg.Step
			if g.fps < g.cfg.MinFPS {
				g.fps = g.cfg.MinFPS
			}
		}
	} else {
		g.stressed = 0
		g.calm++
		if g.calm >= g.cfg.RecoverHold {
			g.calm = 0
			g.fps += g.cfg.Step
			if g.fps > g.cfg.TargetFPS {
				g.fps = g.cfg.TargetFPS
			}
		}
	}

	if g.fps != before {
		log.Printf("[Perf] Display FPS %d -> %d (load=%.2f temp=%.1fC)", before, g.fps, s.LoadAvg, s.TempC)
	}
}
