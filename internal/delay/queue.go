// Package delay holds captured frames until they are old enough to show.
//
// The queue is a FIFO in capture order. Only the head is ever released, and
// only once now - Captured >= delay. Changing the delay applies immediately
// to everything already queued: lowering it releases frames sooner, raising
// it holds them longer, and nothing is dropped or reordered either way.
package delay

import (
	"fmt"
	"sync"
	"time"

	"delayed-mirror/internal/camera"
)

// Errors
var (
	// ErrQueueOverflow is returned by Push on a capped queue that had to
	// drop its oldest frame to make room.
	ErrQueueOverflow = fmt.Errorf("delay: queue full, oldest frame dropped")

	// ErrNegativeDelay rejects delays below zero.
	ErrNegativeDelay = fmt.Errorf("delay: negative delay")
)

// Stats is a snapshot of queue activity.
type Stats struct {
	Pushed   uint64
	Released uint64
	Dropped  uint64
	Depth    int
	Bytes    int // approximate pixel memory held
	Oldest   time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity caps the queue at n frames. When full, Push drops the
// oldest frame. n <= 0 means unbounded.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// Queue is safe for one producer and any number of consumers.
type Queue struct {
	mu       sync.Mutex
	delay    time.Duration
	capacity int

	// ring buffer
	buf   []camera.Frame
	head  int
	count int
	bytes int

	pushed   uint64
	released uint64
	dropped  uint64
}

// New creates a queue with the given delay. A negative delay is treated
// as zero.
func New(d time.Duration, opts ...Option) *Queue {
	if d < 0 {
		d = 0
	}
	q := &Queue{
		delay: d,
		buf:   make([]camera.Frame, 16),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.capacity > 0 && q.capacity < len(q.buf) {
		q.buf = make([]camera.Frame, q.capacity)
	}
	return q
}

// Push appends a frame at the tail. On a capped queue at capacity the
// head is dropped first and ErrQueueOverflow is returned; the new frame
// is still queued.
func (q *Queue) Push(f camera.Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var err error
	if q.capacity > 0 && q.count >= q.capacity {
		q.popLocked()
		q.dropped++
		err = ErrQueueOverflow
	}
	if q.count == len(q.buf) {
		q.growLocked()
	}

	q.buf[(q.head+q.count)%len(q.buf)] = f
	q.count++
	q.bytes += f.Bytes()
	q.pushed++
	return err
}

// PopReady removes and returns the head if it has aged past the delay.
// It never blocks; an empty queue or a too-young head yields false.
func (q *Queue) PopReady(now time.Time) (camera.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return camera.Frame{}, false
	}
	if now.Sub(q.buf[q.head].Captured) < q.delay {
		return camera.Frame{}, false
	}
	f := q.popLocked()
	q.released++
	return f, true
}

// SetDelay changes the delay for queued and future frames.
func (q *Queue) SetDelay(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeDelay, d)
	}
	q.mu.Lock()
	q.delay = d
	q.mu.Unlock()
	return nil
}

func (q *Queue) Delay() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delay
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Drain discards every queued frame and returns how many there were.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	for i := range q.buf {
		q.buf[i] = camera.Frame{}
	}
	q.head, q.count, q.bytes = 0, 0, 0
	return n
}

// Stats returns counters and current depth. Oldest is measured against now.
func (q *Queue) Stats(now time.Time) Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Pushed:   q.pushed,
		Released: q.released,
		Dropped:  q.dropped,
		Depth:    q.count,
		Bytes:    q.bytes,
	}
	if q.count > 0 {
		s.Oldest = now.Sub(q.buf[q.head].Captured)
	}
	return s
}

func (q *Queue) popLocked() camera.Frame {
	f := q.buf[q.head]
	q.buf[q.head] = camera.Frame{} // let the image be collected
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.bytes -= f.Bytes()
	return f
}

func (q *Queue) growLocked() {
	size := len(q.buf) * 2
	if q.capacity > 0 && size > q.capacity {
		size = q.capacity
	}
	next := make([]camera.Frame, size)
	for i := 0; i < q.count; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}

// EstimateFrames is the steady-state depth for a capture rate and delay:
// fps x delay seconds.
func EstimateFrames(fps float64, d time.Duration) int {
	if fps <= 0 || d <= 0 {
		return 0
	}
	return int(fps*d.Seconds() + 0.5)
}
