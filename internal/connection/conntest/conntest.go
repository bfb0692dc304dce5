// Package conntest provides in-memory Dialer and Conn fakes.
package conntest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rickgao/projectlink/internal/connection"
)

// ErrRemoteClosed is returned by Receive after the fake server drops the conn.
var ErrRemoteClosed = errors.New("remote closed")

// Dialer is a scripted connection.Dialer. Each Dial consumes the next
// scripted result; once the script is exhausted Fail decides the outcome.
type Dialer struct {
	mu     sync.Mutex
	script []error
	fail   error
	dials  int
	conns  []*Conn
	onSend func(c *Conn, frame []byte)
}

// NewDialer creates a Dialer that succeeds unless scripted otherwise.
func NewDialer() *Dialer {
	return &Dialer{}
}

// FailAlways makes every unscripted dial return err.
func (d *Dialer) FailAlways(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

// Script queues outcomes for the next dials; nil means success.
func (d *Dialer) Script(results ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, results...)
}

// OnSend sets a hook run after every frame written to a conn dialed from
// now on. It is how tests play the server side of a request.
func (d *Dialer) OnSend(fn func(c *Conn, frame []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSend = fn
}

// Dial implements connection.Dialer.
func (d *Dialer) Dial(ctx context.Context) (connection.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var err error
	if len(d.script) > 0 {
		err = d.script[0]
		d.script = d.script[1:]
	} else {
		err = d.fail
	}
	if err != nil {
		return nil, err
	}

	c := newConn(fmt.Sprintf("session-%d", d.dials))
	c.onSend = d.onSend
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials returns how many times Dial was called.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Last returns the most recently established conn, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Conns returns every established conn in dial order.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Conn is an in-memory connection.Conn.
type Conn struct {
	id      string
	inbound chan []byte
	done    chan struct{}
	onSend  func(c *Conn, frame []byte)

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	closed  bool
	remote  error // returned by Receive after a server-side drop
}

func newConn(id string) *Conn {
	return &Conn{
		id:      id,
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return connection.ErrNotConnected
	}
	if c.sendErr != nil {
		c.mu.Unlock()
		return c.sendErr
	}
	frame := append([]byte(nil), data...)
	c.sent = append(c.sent, frame)
	c.mu.Unlock()

	if c.onSend != nil {
		c.onSend(c, frame)
	}
	return nil
}

func (c *Conn) Receive() ([]byte, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.done:
		c.mu.Lock()
		remote := c.remote
		c.mu.Unlock()
		if remote != nil {
			return nil, remote
		}
		return nil, connection.ErrAlreadyClosed
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

// Push delivers an inbound frame.
func (c *Conn) Push(frame []byte) {
	c.inbound <- frame
}

// Drop simulates the server closing the connection.
func (c *Conn) Drop() {
	c.DropWith(ErrRemoteClosed)
}

// DropWith closes the connection so that Receive fails with err.
func (c *Conn) DropWith(err error) {
	c.mu.Lock()
	c.remote = err
	c.mu.Unlock()
	c.Close()
}

// FailSends makes subsequent Send calls return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Sent returns a copy of the frames written so far.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Closed reports whether Close or Drop was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
