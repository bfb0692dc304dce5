// projectlink is an interactive terminal client for a realtime chat server.
// Usage: go run ./cmd/projectlink --url ws://localhost:8080/ws --project 42
//
// Lines starting with / are commands (/? lists them); other lines are sent
// as chat messages to the active project room.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/projectlink/internal/config"
	"github.com/rickgao/projectlink/internal/connection"
	"github.com/rickgao/projectlink/internal/event"
	"github.com/rickgao/projectlink/internal/logging"
	"github.com/rickgao/projectlink/internal/realtime"
	"github.com/rickgao/projectlink/internal/request"
	"github.com/rickgao/projectlink/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	url := flag.String("url", "", "server URL, overrides server.url")
	project := flag.String("project", "", "initial project id, overrides rooms.project")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if *url != "" {
		cfg.Server.URL = *url
	}
	if *project != "" {
		cfg.Rooms.Project = *project
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "validate config:", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.Logging.SlogLevel(), cfg.Logging.Format)
	slog.SetDefault(logger)

	logger.Info("starting projectlink",
		"version", version.Version,
		"commit", version.Commit,
		"url", cfg.Server.URL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := realtime.New(cfg.Realtime(), realtime.WithLogger(logger))
	out := newPrinter(os.Stdout)
	out.attach(client)

	for _, name := range cfg.Rooms.Join {
		if err := client.JoinRoom(name, nil); err != nil {
			logger.Warn("join room", "room", name, "error", err)
		}
	}
	if cfg.Rooms.Project != "" {
		if _, err := client.SetProjectContext(cfg.Rooms.Project); err != nil {
			logger.Warn("set project", "project", cfg.Rooms.Project, "error", err)
		}
	}

	client.Connect(ctx)

	g, ctx := errgroup.WithContext(ctx)
	lines := readLines(os.Stdin)

	g.Go(func() error {
		return repl(ctx, client, lines, out)
	})

	g.Go(func() error {
		<-ctx.Done()
		client.Disconnect()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		logger.Error("projectlink failed", "error", err)
		os.Exit(1)
	}
}

var errQuit = errors.New("quit")

// readLines forwards stdin lines until EOF. The goroutine is abandoned on
// shutdown since a blocked read cannot be interrupted.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

func repl(ctx context.Context, client *realtime.Client, lines <-chan string, out *printer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := run(ctx, client, parseLine(line), out); err != nil {
				return err
			}
		}
	}
}

func run(ctx context.Context, client *realtime.Client, cmd command, out *printer) error {
	var err error

	switch cmd.kind {
	case cmdEmpty:
	case cmdChat:
		err = client.Emit(event.ChatMessage, event.Payload{event.KeyMessage: cmd.line})
	case cmdServer:
		err = client.Emit(event.ChatCommand, event.Payload{event.KeyMessage: cmd.line})
	case cmdJoin:
		err = client.JoinRoom(cmd.arg, nil)
	case cmdLeave:
		err = client.LeaveRoom(cmd.arg)
	case cmdProject:
		var prev string
		prev, err = client.SetProjectContext(cmd.arg)
		if err == nil {
			out.note("project %q -> %q (pending)", prev, cmd.arg)
		}
	case cmdStatus:
		err = status(ctx, client, out)
	case cmdInfo:
		out.info(client.ConnectionInfo())
	case cmdHelp:
		out.note("%s", localHelp)
	case cmdQuit:
		return errQuit
	case cmdInvalid:
		out.warn("%s", cmd.arg)
	}

	if err != nil {
		out.warn("%v", err)
	}
	return nil
}

func status(ctx context.Context, client *realtime.Client, out *printer) error {
	resp, err := client.EmitAndWait(ctx, event.RequestStatus,
		event.Payload{event.KeyRequestID: request.NewRequestID()},
		event.Status, 5*time.Second)
	if err != nil {
		return err
	}
	out.event(event.Status, resp)
	return nil
}

// printer writes coloured session output. Event handlers and the input
// loop write concurrently, so every line is written under mu.
type printer struct {
	mu sync.Mutex
	w  io.Writer

	state   *color.Color
	failed  *color.Color
	message *color.Color
	system  *color.Color
	muted   *color.Color
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:       w,
		state:   color.New(color.FgCyan),
		failed:  color.New(color.FgRed, color.Bold),
		message: color.New(color.FgWhite),
		system:  color.New(color.FgGreen),
		muted:   color.New(color.FgHiBlack),
	}
}

func (p *printer) attach(client *realtime.Client) {
	client.OnStateChange(func(ch connection.StateChange) {
		p.mu.Lock()
		defer p.mu.Unlock()

		c := p.state
		if ch.To == connection.StateFailed {
			c = p.failed
		}
		c.Fprintf(p.w, "[%s -> %s] attempt %d\n", ch.From, ch.To, ch.Attempt)
	})

	for _, ev := range []event.Event{
		event.ChatMessage, event.ChatResponse, event.CommandResult,
		event.Error, event.RoomJoined, event.RoomLeft,
		event.ProjectSwitched, event.ProjectSwitchFailed,
		event.ConnectionFailed, event.ProtocolError,
	} {
		client.On(ev, func(data event.Payload) { p.event(ev, data) })
	}
}

func (p *printer) event(ev event.Event, data event.Payload) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev {
	case event.ChatMessage:
		p.muted.Fprintf(p.w, "%s ", data.String(event.KeyFrom))
		p.message.Fprintln(p.w, data.String(event.KeyMessage))
	case event.ChatResponse, event.CommandResult:
		p.system.Fprintln(p.w, data.String(event.KeyMessage))
	case event.Error, event.ProjectSwitchFailed, event.ConnectionFailed, event.ProtocolError:
		p.failed.Fprintf(p.w, "%s: %v\n", ev, data)
	default:
		p.muted.Fprintf(p.w, "%s %v\n", ev, data)
	}
}

func (p *printer) info(info realtime.ConnectionInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.system.Fprintf(p.w, "state=%s session=%s attempts=%d project=%q rooms=%v queued=%d pending=%d\n",
		info.State, info.SessionID, info.Attempts, info.Project,
		info.Rooms, info.QueueDepth, info.PendingRequests)
}

func (p *printer) note(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.system.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) warn(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failed.Fprintf(p.w, format+"\n", args...)
}
