package connection_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/projectlink/internal/clock"
	"github.com/rickgao/projectlink/internal/connection"
	"github.com/rickgao/projectlink/internal/connection/conntest"
)

var errDial = errors.New("dial refused")

// recorder collects state changes and lets tests wait for a target state.
type recorder struct {
	mu      sync.Mutex
	changes []connection.StateChange
	signal  chan connection.State
}

func newRecorder(m *connection.Manager) *recorder {
	r := &recorder{signal: make(chan connection.State, 100)}
	m.OnStateChange(func(c connection.StateChange) {
		r.mu.Lock()
		r.changes = append(r.changes, c)
		r.mu.Unlock()
		r.signal <- c.To
	})
	return r
}

func (r *recorder) states() []connection.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]connection.State, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.To
	}
	return out
}

func (r *recorder) last() connection.StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes[len(r.changes)-1]
}

func (r *recorder) waitFor(t *testing.T, want connection.State) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.signal:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %v, saw %v", want, r.states())
		}
	}
}

func newTestManager(cfg connection.ManagerConfig, d connection.Dialer) (*connection.Manager, *clock.Manual) {
	clk := clock.NewManual(time.Unix(1700000000, 0))
	m := connection.NewManager(cfg, d, nil,
		connection.WithClock(clk),
		connection.WithRand(func() float64 { return 0 }),
	)
	return m, clk
}

func noJitter(maxAttempts int) connection.ManagerConfig {
	cfg := connection.DefaultManagerConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.Jitter = 0
	return cfg
}

func TestManager_DefaultBackoffSchedule(t *testing.T) {
	m := connection.NewManager(connection.DefaultManagerConfig(), conntest.NewDialer(), nil)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 16 * time.Second}
	for i, w := range want {
		if got := m.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestManager_ExhaustsRetriesThenFails(t *testing.T) {
	d := conntest.NewDialer()
	d.FailAlways(errDial)

	m, clk := newTestManager(noJitter(3), d)
	rec := newRecorder(m)

	m.Connect(context.Background())

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		pending := clk.Pending()
		if len(pending) != 1 {
			t.Fatalf("retry %d: pending timers = %v, want exactly one", i+1, pending)
		}
		delays = append(delays, pending[0])
		clk.Advance(pending[0])
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i+1, delays[i], want[i])
		}
		if i > 0 && delays[i] < delays[i-1] {
			t.Errorf("delay %d decreased: %v < %v", i+1, delays[i], delays[i-1])
		}
	}

	wantStates := []connection.State{
		connection.StateConnecting, connection.StateDisconnected,
		connection.StateConnecting, connection.StateDisconnected,
		connection.StateConnecting, connection.StateDisconnected,
		connection.StateConnecting, connection.StateDisconnected,
		connection.StateFailed,
	}
	got := rec.states()
	if len(got) != len(wantStates) {
		t.Fatalf("states = %v, want %v", got, wantStates)
	}
	for i := range wantStates {
		if got[i] != wantStates[i] {
			t.Errorf("state %d = %v, want %v", i, got[i], wantStates[i])
		}
	}

	if !errors.Is(rec.last().Err, connection.ErrRetriesExhausted) {
		t.Errorf("FAILED error = %v, want ErrRetriesExhausted", rec.last().Err)
	}
	if d.Dials() != 4 {
		t.Errorf("Dials() = %d, want 4", d.Dials())
	}

	// No further attempts without an explicit Connect
	clk.Advance(time.Hour)
	if d.Dials() != 4 {
		t.Errorf("Dials() after FAILED = %d, want 4", d.Dials())
	}
	if m.State() != connection.StateFailed {
		t.Errorf("State() = %v, want FAILED", m.State())
	}
}

func TestManager_JitterAddsDelay(t *testing.T) {
	d := conntest.NewDialer()
	d.FailAlways(errDial)

	cfg := connection.DefaultManagerConfig()
	cfg.Jitter = 0.2
	clk := clock.NewManual(time.Unix(0, 0))
	m := connection.NewManager(cfg, d, nil,
		connection.WithClock(clk),
		connection.WithRand(func() float64 { return 0.5 }),
	)

	m.Connect(context.Background())

	pending := clk.Pending()
	if len(pending) != 1 || pending[0] != 1100*time.Millisecond {
		t.Errorf("pending = %v, want [1.1s]", pending)
	}
}

func TestManager_ConnectResetsAttempts(t *testing.T) {
	d := conntest.NewDialer()
	d.Script(errDial, errDial, nil)

	m, clk := newTestManager(noJitter(5), d)
	rec := newRecorder(m)

	m.Connect(context.Background())
	if got := m.Info().Attempts; got != 1 {
		t.Errorf("Attempts = %d, want 1", got)
	}

	clk.Advance(time.Second)
	clk.Advance(2 * time.Second)

	rec.waitFor(t, connection.StateConnected)

	info := m.Info()
	if info.State != connection.StateConnected {
		t.Errorf("State = %v, want CONNECTED", info.State)
	}
	if info.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", info.Attempts)
	}
	if info.SessionID != "session-3" {
		t.Errorf("SessionID = %q, want session-3", info.SessionID)
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestManager_UnexpectedCloseSchedulesRetry(t *testing.T) {
	d := conntest.NewDialer()
	m, clk := newTestManager(noJitter(5), d)
	rec := newRecorder(m)

	m.Connect(context.Background())
	rec.waitFor(t, connection.StateConnected)

	d.Last().Drop()
	rec.waitFor(t, connection.StateDisconnected)

	if !errors.Is(rec.last().Err, conntest.ErrRemoteClosed) {
		t.Errorf("disconnect cause = %v, want ErrRemoteClosed", rec.last().Err)
	}
	if pending := clk.Pending(); len(pending) != 1 || pending[0] != time.Second {
		t.Fatalf("pending = %v, want [1s]", pending)
	}

	clk.Advance(time.Second)
	rec.waitFor(t, connection.StateConnected)

	if d.Dials() != 2 {
		t.Errorf("Dials() = %d, want 2", d.Dials())
	}
}

func TestManager_DisconnectCancelsRetry(t *testing.T) {
	d := conntest.NewDialer()
	d.FailAlways(errDial)

	m, clk := newTestManager(noJitter(5), d)
	rec := newRecorder(m)

	m.Connect(context.Background())
	if len(clk.Pending()) != 1 {
		t.Fatalf("expected a scheduled retry")
	}

	m.Disconnect()

	if len(clk.Pending()) != 0 {
		t.Errorf("pending = %v after Disconnect, want none", clk.Pending())
	}
	clk.Advance(time.Minute)
	if d.Dials() != 1 {
		t.Errorf("Dials() = %d, want 1", d.Dials())
	}
	if m.State() != connection.StateDisconnected {
		t.Errorf("State() = %v, want DISCONNECTED", m.State())
	}
	// Disconnect while already DISCONNECTED is not a transition
	if n := len(rec.states()); n != 2 {
		t.Errorf("transitions = %v, want 2", rec.states())
	}
}

func TestManager_DisconnectWhileConnectedSuppressesRetry(t *testing.T) {
	d := conntest.NewDialer()
	m, clk := newTestManager(noJitter(5), d)
	rec := newRecorder(m)

	m.Connect(context.Background())
	rec.waitFor(t, connection.StateConnected)
	conn := d.Last()

	m.Disconnect()

	if !conn.Closed() {
		t.Error("conn not closed by Disconnect")
	}
	if len(clk.Pending()) != 0 {
		t.Errorf("pending = %v, want none", clk.Pending())
	}
	if rec.last().Err != nil {
		t.Errorf("user disconnect carried error %v", rec.last().Err)
	}
}

func TestManager_ConnectAfterFailed(t *testing.T) {
	d := conntest.NewDialer()
	d.FailAlways(errDial)

	m, clk := newTestManager(noJitter(1), d)
	rec := newRecorder(m)

	m.Connect(context.Background())
	clk.Advance(time.Second)
	if m.State() != connection.StateFailed {
		t.Fatalf("State() = %v, want FAILED", m.State())
	}

	d.FailAlways(nil)
	m.Connect(context.Background())
	rec.waitFor(t, connection.StateConnected)

	if d.Dials() != 3 {
		t.Errorf("Dials() = %d, want 3", d.Dials())
	}
	if m.Info().Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 after CONNECTED", m.Info().Attempts)
	}
}

func TestManager_ResumeFromFailedKeepsAttempts(t *testing.T) {
	d := conntest.NewDialer()
	d.FailAlways(errDial)

	m, clk := newTestManager(noJitter(2), d)

	m.Connect(context.Background())
	clk.Advance(time.Second)
	clk.Advance(2 * time.Second)
	if m.State() != connection.StateFailed {
		t.Fatalf("State() = %v, want FAILED", m.State())
	}
	if d.Dials() != 3 {
		t.Fatalf("Dials() = %d, want 3", d.Dials())
	}

	m.Connect(context.Background())

	if m.State() != connection.StateFailed {
		t.Errorf("State() = %v, want FAILED", m.State())
	}
	if d.Dials() != 4 {
		t.Errorf("Dials() = %d, want 4", d.Dials())
	}
	if got := m.Info().Attempts; got != 4 {
		t.Errorf("Attempts = %d, want 4", got)
	}
	if n := len(clk.Pending()); n != 0 {
		t.Errorf("retry timers = %d, want 0", n)
	}
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	d := conntest.NewDialer()
	m, _ := newTestManager(noJitter(5), d)
	rec := newRecorder(m)

	m.Connect(context.Background())
	rec.waitFor(t, connection.StateConnected)
	m.Connect(context.Background())

	if d.Dials() != 1 {
		t.Errorf("Dials() = %d, want 1", d.Dials())
	}
}

func TestManager_SendNotConnected(t *testing.T) {
	m, _ := newTestManager(noJitter(5), conntest.NewDialer())

	if err := m.Send([]byte("x")); !errors.Is(err, connection.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestManager_FramesInOrder(t *testing.T) {
	d := conntest.NewDialer()
	m, _ := newTestManager(noJitter(5), d)
	rec := newRecorder(m)

	got := make(chan string, 10)
	m.SetFrameHandler(func(frame []byte) {
		got <- string(frame)
	})

	m.Connect(context.Background())
	rec.waitFor(t, connection.StateConnected)

	conn := d.Last()
	for _, f := range []string{"a", "b", "c"} {
		conn.Push([]byte(f))
	}

	for _, want := range []string{"a", "b", "c"} {
		select {
		case f := <-got:
			if f != want {
				t.Errorf("frame = %q, want %q", f, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame %q", want)
		}
	}

	if err := m.Send([]byte("out")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sent := conn.Sent(); len(sent) != 1 || string(sent[0]) != "out" {
		t.Errorf("sent = %q, want [out]", sent)
	}
}

func TestManager_RemoveListener(t *testing.T) {
	m, _ := newTestManager(noJitter(5), conntest.NewDialer())

	calls := 0
	remove := m.OnStateChange(func(connection.StateChange) { calls++ })
	remove()

	m.Connect(context.Background())
	m.Disconnect()

	if calls != 0 {
		t.Errorf("removed listener called %d times", calls)
	}
}

func TestState_String(t *testing.T) {
	tests := map[connection.State]string{
		connection.StateDisconnected: "DISCONNECTED",
		connection.StateConnecting:   "CONNECTING",
		connection.StateConnected:    "CONNECTED",
		connection.StateFailed:       "FAILED",
		connection.State(99):         "UNKNOWN",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
