package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/rickgao/projectlink/internal/connection/conntest"
	"github.com/rickgao/projectlink/internal/realtime"
)

func newTestSession(t *testing.T) (*realtime.Client, *conntest.Dialer, *printer, *bytes.Buffer) {
	t.Helper()

	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	d := conntest.NewDialer()
	cfg := realtime.DefaultConfig()
	cfg.Transport.URL = "ws://test.invalid/ws"
	client := realtime.New(cfg, realtime.WithDialer(d))
	t.Cleanup(client.Disconnect)

	var buf bytes.Buffer
	out := newPrinter(&buf)
	out.attach(client)

	client.Connect(context.Background())
	return client, d, out, &buf
}

func sentEvents(t *testing.T, d *conntest.Dialer) []string {
	t.Helper()
	var events []string
	for _, raw := range d.Last().Sent() {
		var f struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("bad frame %s: %v", raw, err)
		}
		events = append(events, f.Event)
	}
	return events
}

func TestRun_SendsChatAndCommands(t *testing.T) {
	client, d, out, _ := newTestSession(t)
	ctx := context.Background()

	for _, line := range []string{"hello", "/help", "/join lobby"} {
		if err := run(ctx, client, parseLine(line), out); err != nil {
			t.Fatalf("run(%q) = %v", line, err)
		}
	}

	got := strings.Join(sentEvents(t, d), ",")
	if got != "chat_message,chat_command,join_room" {
		t.Errorf("sent %s, want chat_message,chat_command,join_room", got)
	}
}

func TestRun_Quit(t *testing.T) {
	client, _, out, _ := newTestSession(t)
	if err := run(context.Background(), client, parseLine("/quit"), out); !errors.Is(err, errQuit) {
		t.Errorf("run(/quit) = %v, want errQuit", err)
	}
}

func TestRun_InfoAndInvalid(t *testing.T) {
	client, _, out, buf := newTestSession(t)
	ctx := context.Background()

	run(ctx, client, parseLine("/info"), out)
	run(ctx, client, parseLine("/join"), out)

	text := buf.String()
	if !strings.Contains(text, "state=CONNECTED") {
		t.Errorf("output missing state: %q", text)
	}
	if !strings.Contains(text, "/join needs an argument") {
		t.Errorf("output missing usage error: %q", text)
	}
}

func TestPrinter_StateChanges(t *testing.T) {
	_, _, _, buf := newTestSession(t)

	if !strings.Contains(buf.String(), "[CONNECTING -> CONNECTED]") {
		t.Errorf("output = %q, want state transition line", buf.String())
	}
}

func TestReadLines(t *testing.T) {
	ch := readLines(strings.NewReader("a\nb\n"))

	var got []string
	for line := range ch {
		got = append(got, line)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("lines = %v, want [a b]", got)
	}
}
