package perf

import (
	"context"
	"log"
	"time"
)

// Health is a point-in-time view of the delay pipeline.
type Health struct {
	Device       int
	Delay        time.Duration
	QueueDepth   int
	QueueBytes   int
	Dropped      uint64
	Captured     uint64
	Displayed    uint64
	CaptureFPS   float64
	DisplayFPS   float64
	LastFrameAge time.Duration // since the last captured frame; <0 if none yet
}

// HealthSource is anything that can report pipeline health.
type HealthSource interface {
	Health() Health
}

// HealthLogger periodically logs pipeline and host health.
type HealthLogger struct {
	Source   HealthSource
	Monitor  *Monitor // optional
	Interval time.Duration
	StaleAge time.Duration // warn when the last capture is older than this
}

// Run logs every Interval until ctx is done. A non-positive interval
// disables logging.
func (h *HealthLogger) Run(ctx context.Context) {
	if h.Interval <= 0 {
		log.Println("[Health] Health logging disabled (interval <= 0)")
		return
	}
	log.Printf("[Health] Starting health logging (every %s)...", h.Interval)

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.LogOnce()
		}
	}
}

// LogOnce writes one health summary.
func (h *HealthLogger) LogOnce() {
	s := h.Source.Health()

	switch {
	case s.LastFrameAge < 0:
		log.Printf("[Health] WARNING: device %d has never produced a frame", s.Device)
	case h.StaleAge > 0 && s.LastFrameAge > h.StaleAge:
		log.Printf("[Health] WARNING: device %d frame is stale (%.1fs old)", s.Device, s.LastFrameAge.Seconds())
	}

	log.Printf("[Health] device=%d delay=%s queue=%d (%.1f MB) dropped=%d capture=%.1ffps display=%.1ffps",
		s.Device, s.Delay, s.QueueDepth, float64(s.QueueBytes)/(1<<20), s.Dropped, s.CaptureFPS, s.DisplayFPS)

	if h.Monitor == nil {
		return
	}
	sample, err := h.Monitor.Update()
	if err != nil {
		return
	}
	log.Printf("[Health] load=%.2f temp=%.1fC mem=%.0f%% rss=%.1f MB",
		sample.LoadAvg, sample.TempC, sample.MemoryUsage, float64(sample.RSSBytes)/(1<<20))
}

// RateMeter turns a running counter into a per-second rate.
type RateMeter struct {
	lastCount uint64
	lastAt    time.Time
	rate      float64
}

// Update records count at now and returns the rate since the last call.
func (r *RateMeter) Update(count uint64, now time.Time) float64 {
	if !r.lastAt.IsZero() {
		if dt := now.Sub(r.lastAt).Seconds(); dt > 0 {
			r.rate = float64(count-r.lastCount) / dt
		}
	}
	r.lastCount = count
	r.lastAt = now
	return r.rate
}
