// Package app wires the streamer, identity, dashboard and terminal console
// into the voicelink client.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-voicelink/internal/config"
	"github.com/teslashibe/go-voicelink/internal/observe"
	"github.com/teslashibe/go-voicelink/pkg/identity"
	"github.com/teslashibe/go-voicelink/pkg/streamer"
	"github.com/teslashibe/go-voicelink/pkg/web"
)

// errQuit ends Run when the user asks to quit.
var errQuit = errors.New("app: quit")

// Option customizes an App.
type Option func(*options)

type options struct {
	out       io.Writer
	newSource streamer.SourceFactory
	metrics   *observe.Metrics
}

// WithOutput sets where the conversation is printed. Default: stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithSourceFactory overrides how the capture source is created.
func WithSourceFactory(fn streamer.SourceFactory) Option {
	return func(o *options) { o.newSource = fn }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// App is the voicelink client.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	streamer  *streamer.AudioStreamer
	console   *Console
	dashboard *web.Server
	directory *identity.Directory
	store     *identity.Store

	// starting is set while a console start command runs; an error shown
	// during it stops the recording once the start has finished.
	starting       atomic.Bool
	stopAfterStart atomic.Bool
}

// New builds the client from a validated configuration. Nothing is opened
// until Init.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:    cfg,
		logger: logger.With("component", "app"),
	}

	sopts := []streamer.Option{
		streamer.WithURL(cfg.WebSocketURL()),
		streamer.WithAudio(cfg.Audio),
		streamer.WithTransport(cfg.Transport),
		streamer.WithLogger(logger),
	}
	if o.newSource != nil {
		sopts = append(sopts, streamer.WithSourceFactory(o.newSource))
	}
	if o.metrics != nil {
		sopts = append(sopts, streamer.WithMetrics(o.metrics))
	}

	a.console = NewConsole(o.out, a.stopRecording)

	st, err := streamer.New(a.console, sopts...)
	if err != nil {
		return nil, fmt.Errorf("create streamer: %w", err)
	}
	a.streamer = st

	dcfg := cfg.Directory
	if dcfg.LookupURL == "" {
		dcfg.LookupURL = cfg.APIBaseURL()
	}
	a.directory = identity.NewDirectory(dcfg, nil, logger)

	if cfg.Dashboard.Enabled {
		a.dashboard = web.NewServer(web.Config{Addr: cfg.Dashboard.Addr}, st.Stats, logger)
		st.Subscribe(a.dashboard)
	}

	return a, nil
}

// Streamer returns the underlying streamer.
func (a *App) Streamer() *streamer.AudioStreamer {
	return a.streamer
}

// Dashboard returns the dashboard, or nil when it is disabled.
func (a *App) Dashboard() *web.Server {
	return a.dashboard
}

// Init restores the identity, greets the user and probes the capture
// device. A missing device is reported on the console but is not fatal, so
// text events can still be received.
func (a *App) Init(ctx context.Context) error {
	if a.cfg.StorePath != "" {
		store, err := identity.OpenStore(a.cfg.StorePath, a.logger)
		if err != nil {
			return err
		}
		a.store = store
	}

	id, err := a.resolveIdentity(ctx)
	if err != nil {
		return err
	}
	if id.HasEmail() {
		if err := a.streamer.SetUserInfo(id); err != nil {
			a.logger.Warn("set user info failed", "error", err)
		}
	}

	a.console.Greet(id.Name)
	a.console.Help()

	if err := a.streamer.Initialize(ctx); err != nil {
		a.logger.Warn("capture unavailable, continuing without audio", "error", err)
	}
	return nil
}

// resolveIdentity combines the stored identity with the configured one and
// fills in the display name. Configured values win.
func (a *App) resolveIdentity(ctx context.Context) (identity.Identity, error) {
	var id identity.Identity
	if a.store != nil {
		stored, err := a.store.Load()
		if err != nil {
			return id, err
		}
		id = stored
	}

	if a.cfg.User.Email != "" {
		if identity.NormalizeEmail(a.cfg.User.Email) != identity.NormalizeEmail(id.Email) {
			id.Name = ""
		}
		id.Email = a.cfg.User.Email
	}
	if a.cfg.User.Name != "" {
		id.Name = a.cfg.User.Name
	}
	if !id.HasEmail() {
		return id, nil
	}

	id = a.directory.Resolve(ctx, id)

	if a.store != nil {
		if err := a.store.Save(id); err != nil {
			a.logger.Warn("save identity failed", "error", err)
		}
	}
	return id, nil
}

// Run serves the dashboard and reads commands from in until the user quits
// or ctx is cancelled.
func (a *App) Run(ctx context.Context, in io.Reader) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.dashboard != nil {
		g.Go(func() error {
			return a.dashboard.ListenAndServe(gctx)
		})
	}

	lines := make(chan string)
	go readLines(gctx, in, lines)

	g.Go(func() error {
		return a.commandLoop(gctx, lines)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// readLines forwards lines from in until EOF or ctx is done. The read
// itself cannot be interrupted, so this goroutine may outlive Run while
// blocked on a terminal.
func readLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) commandLoop(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// Input closed; keep streaming until cancelled.
				lines = nil
				continue
			}
			if err := a.handleCommand(ctx, line); err != nil {
				return err
			}
		}
	}
}

// handleCommand runs one console command.
func (a *App) handleCommand(ctx context.Context, line string) error {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return nil
	case "s", "start":
		a.startRecording(ctx)
	case "x", "stop":
		a.streamer.StopRecording()
	case "r", "reset":
		a.resetConversation()
	case "q", "quit", "exit":
		return errQuit
	case "stats":
		st := a.streamer.Stats()
		a.console.System(fmt.Sprintf("state=%s connection=%s sent=%d dropped=%d",
			st.State, st.Connection, st.FramesSent, st.FramesDropped))
	default:
		a.console.Help()
	}
	return nil
}

// resetConversation clears the local views and asks the backend to reset.
// The views are cleared even when the backend is unreachable.
func (a *App) resetConversation() {
	if err := a.streamer.ResetConversation(); err != nil {
		a.logger.Warn("reset conversation failed", "error", err)
	}
	a.console.Reset()
	if a.dashboard != nil {
		a.dashboard.ResetConversation()
	}
}

func (a *App) startRecording(ctx context.Context) {
	a.starting.Store(true)
	err := a.streamer.StartRecording(ctx)
	a.starting.Store(false)

	if err != nil {
		a.logger.Warn("start recording failed", "error", err)
	}
	if a.stopAfterStart.Swap(false) {
		a.streamer.StopRecording()
	}
}

// stopRecording runs after an error is shown.
func (a *App) stopRecording() {
	if a.starting.Load() {
		a.stopAfterStart.Store(true)
		return
	}
	a.streamer.StopRecording()
}

// Shutdown stops recording, closes the connection and releases the device
// and the identity store.
func (a *App) Shutdown() error {
	var errs []error
	if err := a.streamer.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
