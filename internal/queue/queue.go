// Package queue buffers outbound messages while the connection is down and
// replays them in order once it is back.
package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/projectlink/internal/clock"
	"github.com/rickgao/projectlink/internal/event"
)

// Message is one buffered outbound event.
type Message struct {
	Event      event.Event
	Payload    event.Payload
	EnqueuedAt time.Time
}

// Config holds queue configuration.
type Config struct {
	Capacity int           // Max buffered messages (default: 100)
	MaxAge   time.Duration // Messages older than this at flush time are discarded (default: 5m)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Capacity: 100,
		MaxAge:   5 * time.Minute,
	}
}

// SendFunc delivers one message during a flush.
type SendFunc func(Message) error

// FlushResult summarizes one flush.
type FlushResult struct {
	Sent      int
	Expired   int
	Remaining int // Left in the queue after a send failure
}

// Stats contains queue statistics.
type Stats struct {
	Count         int
	Capacity      int
	TotalEnqueued int64
	TotalSent     int64
	TotalEvicted  int64
	TotalExpired  int64
}

// Queue is a bounded FIFO ring buffer. When full, the oldest message is
// evicted to make room for the new one.
type Queue struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	flushMu sync.Mutex

	mu       sync.Mutex
	buf      []Message
	head     int // read position
	tail     int // write position
	count    int
	capacity int

	// Stats
	totalEnqueued int64
	totalSent     int64
	totalEvicted  int64
	totalExpired  int64
}

// New creates an empty queue.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Queue {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		buf:      make([]Message, cfg.Capacity),
		capacity: cfg.Capacity,
	}
}

// Enqueue appends a message stamped with the current time. It returns true
// if the oldest message was evicted to make room.
func (q *Queue) Enqueue(ev event.Event, payload event.Payload) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.totalEnqueued++
	evicted := q.pushLocked(Message{
		Event:      ev,
		Payload:    payload,
		EnqueuedAt: q.clock.Now(),
	})
	if evicted {
		q.logger.Warn("outbound queue full, evicted oldest message",
			"capacity", q.capacity,
			"event", ev,
		)
	}
	return evicted
}

// pushLocked appends m, evicting the oldest entry when full.
func (q *Queue) pushLocked(m Message) bool {
	evicted := false
	if q.count == q.capacity {
		q.popLocked()
		q.totalEvicted++
		evicted = true
	}

	q.buf[q.tail] = m
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	return evicted
}

func (q *Queue) popLocked() Message {
	m := q.buf[q.head]
	q.buf[q.head] = Message{} // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	return m
}

// drainLocked removes and returns every message in FIFO order.
func (q *Queue) drainLocked() []Message {
	if q.count == 0 {
		return nil
	}
	out := make([]Message, 0, q.count)
	for q.count > 0 {
		out = append(out, q.popLocked())
	}
	return out
}

// Flush sends every buffered message in enqueue order. Messages older than
// MaxAge are discarded without being sent. If send fails, the failed
// message and everything after it go back to the front of the queue in
// their original order and the error is returned.
func (q *Queue) Flush(send SendFunc) (FlushResult, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	pending := q.drainLocked()
	q.mu.Unlock()

	var res FlushResult
	if len(pending) == 0 {
		return res, nil
	}

	now := q.clock.Now()
	for i, m := range pending {
		if q.cfg.MaxAge > 0 && now.Sub(m.EnqueuedAt) > q.cfg.MaxAge {
			res.Expired++
			q.logger.Debug("discarding stale queued message",
				"event", m.Event,
				"age", now.Sub(m.EnqueuedAt),
			)
			continue
		}

		if err := send(m); err != nil {
			res.Remaining = q.requeue(pending[i:])
			q.record(res)
			q.logger.Warn("flush interrupted",
				"sent", res.Sent,
				"remaining", res.Remaining,
				"error", err,
			)
			return res, err
		}
		res.Sent++
	}

	q.record(res)
	if res.Sent > 0 || res.Expired > 0 {
		q.logger.Info("flushed outbound queue",
			"sent", res.Sent,
			"expired", res.Expired,
		)
	}
	return res, nil
}

// requeue puts msgs back ahead of anything enqueued since the drain,
// evicting from the oldest end if the result would overflow.
func (q *Queue) requeue(msgs []Message) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	combined := append(append([]Message(nil), msgs...), q.drainLocked()...)
	if over := len(combined) - q.capacity; over > 0 {
		combined = combined[over:]
		q.totalEvicted += int64(over)
	}
	for _, m := range combined {
		q.pushLocked(m)
	}
	return q.count
}

func (q *Queue) record(res FlushResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.totalSent += int64(res.Sent)
	q.totalExpired += int64(res.Expired)
}

// Len returns the current number of buffered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the capacity of the queue.
func (q *Queue) Cap() int {
	return q.capacity
}

// Stats returns queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:         q.count,
		Capacity:      q.capacity,
		TotalEnqueued: q.totalEnqueued,
		TotalSent:     q.totalSent,
		TotalEvicted:  q.totalEvicted,
		TotalExpired:  q.totalExpired,
	}
}
