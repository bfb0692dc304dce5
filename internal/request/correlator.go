// Package request turns an outbound event and its matching inbound
// response into a single awaitable call.
package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rickgao/projectlink/internal/clock"
	"github.com/rickgao/projectlink/internal/event"
	"github.com/rickgao/projectlink/internal/router"
)

// Errors
var (
	ErrTimeout = errors.New("request timed out")
	ErrNoEvent = errors.New("response event is required")
)

// EmitFunc sends an outbound event.
type EmitFunc func(ev event.Event, data event.Payload) error

// Subscriber registers inbound handlers. *router.Router satisfies it.
type Subscriber interface {
	On(ev event.Event, h router.Handler) router.Subscription
}

// Config holds correlator configuration.
type Config struct {
	DefaultTimeout time.Duration // Used when EmitAndWait gets timeout <= 0 (default: 10s)
	LateSize       int           // Max timed-out request ids remembered (default: 256)
	LateTTL        time.Duration // How long a timed-out id is remembered (default: 1m)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 10 * time.Second,
		LateSize:       256,
		LateTTL:        time.Minute,
	}
}

// NewRequestID returns a fresh value for the request_id payload field.
func NewRequestID() string {
	return uuid.NewString()
}

type result struct {
	payload event.Payload
	err     error
}

type pendingRequest struct {
	id        uint64
	requestID string
	done      chan result
	once      sync.Once
	timer     clock.Timer
	sub       router.Subscription
}

// Correlator tracks in-flight requests.
type Correlator struct {
	cfg    Config
	emit   EmitFunc
	subs   Subscriber
	clock  clock.Clock
	logger *slog.Logger

	// timed-out request ids, so their late responses are not taken for
	// someone else's
	late *expirable.LRU[string, struct{}]

	mu      sync.Mutex
	pending map[uint64]*pendingRequest
	nextID  uint64
}

// New creates a Correlator that sends through emit and listens on subs.
func New(cfg Config, emit EmitFunc, subs Subscriber, clk clock.Clock, logger *slog.Logger) *Correlator {
	def := DefaultConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.LateSize <= 0 {
		cfg.LateSize = def.LateSize
	}
	if cfg.LateTTL <= 0 {
		cfg.LateTTL = def.LateTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Correlator{
		cfg:     cfg,
		emit:    emit,
		subs:    subs,
		clock:   clk,
		logger:  logger,
		late:    expirable.NewLRU[string, struct{}](cfg.LateSize, nil, cfg.LateTTL),
		pending: make(map[uint64]*pendingRequest),
	}
}

// EmitAndWait sends ev with data and blocks until responseEvent arrives,
// the timeout elapses, or ctx is done, whichever happens first. If data
// carries a request_id only responses with the same request_id match.
// A timeout <= 0 uses the configured default.
func (c *Correlator) EmitAndWait(ctx context.Context, ev event.Event, data event.Payload, responseEvent event.Event, timeout time.Duration) (event.Payload, error) {
	if responseEvent.IsZero() {
		return nil, ErrNoEvent
	}
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	p := &pendingRequest{
		requestID: data.String(event.KeyRequestID),
		done:      make(chan result, 1),
	}

	// Subscribe before emitting so a fast response is not missed.
	c.mu.Lock()
	c.nextID++
	p.id = c.nextID
	c.pending[p.id] = p
	p.sub = c.subs.On(responseEvent, func(resp event.Payload) {
		c.onResponse(p, resp)
	})
	p.timer = c.clock.AfterFunc(timeout, func() {
		if p.requestID != "" {
			c.late.Add(p.requestID, struct{}{})
		}
		c.settle(p, result{err: fmt.Errorf("%w: %s awaiting %s after %v", ErrTimeout, ev, responseEvent, timeout)})
	})
	c.mu.Unlock()

	if err := c.emit(ev, data); err != nil {
		c.settle(p, result{err: fmt.Errorf("emit %s: %w", ev, err)})
	}

	select {
	case r := <-p.done:
		return r.payload, r.err
	case <-ctx.Done():
		c.settle(p, result{err: ctx.Err()})
		r := <-p.done
		return r.payload, r.err
	}
}

func (c *Correlator) onResponse(p *pendingRequest, resp event.Payload) {
	rid := resp.String(event.KeyRequestID)
	if rid != "" && c.late.Contains(rid) {
		c.logger.Debug("dropping late response", "request_id", rid)
		return
	}
	if p.requestID != "" && rid != p.requestID {
		return
	}
	c.settle(p, result{payload: resp})
}

// settle completes p with r unless it already completed.
func (c *Correlator) settle(p *pendingRequest, r result) {
	p.once.Do(func() {
		c.mu.Lock()
		delete(c.pending, p.id)
		timer, sub := p.timer, p.sub
		c.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		sub.Unsubscribe()

		p.done <- r
	})
}

// RejectAll fails every in-flight request with err and returns how many
// there were.
func (c *Correlator) RejectAll(err error) int {
	c.mu.Lock()
	list := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		list = append(list, p)
	}
	c.mu.Unlock()

	for _, p := range list {
		c.settle(p, result{err: err})
	}
	return len(list)
}

// Pending returns the number of in-flight requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
