package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/teslashibe/go-voicelink/internal/config"
	"github.com/teslashibe/go-voicelink/internal/observe"
	"github.com/teslashibe/go-voicelink/pkg/audioio"
	"github.com/teslashibe/go-voicelink/pkg/devserver"
	"github.com/teslashibe/go-voicelink/pkg/identity"
	"github.com/teslashibe/go-voicelink/pkg/streamer"
)

const waitTimeout = 3 * time.Second

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// syncBuffer is a goroutine-safe output capture.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) waitFor(t *testing.T, text string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !strings.Contains(b.String(), text) {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %q in output:\n%s", text, b.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startDevserver(t *testing.T) string {
	t.Helper()
	cfg := devserver.DefaultConfig()
	cfg.ReplyEvery = 2
	cfg.Directory = identity.DirectoryConfig{
		Users: map[string]string{"ada@example.com": "Ada Lovelace"},
	}
	s := devserver.New(cfg, testLogger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func testConfig(t *testing.T, addr string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = addr
	cfg.Audio.Backend = audioio.BackendMock
	cfg.Transport.KeepaliveInterval = 0
	cfg.LogLevel = "debug"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid test config: %v", err)
	}
	return cfg
}

// harness builds an App with a manual mock microphone.
type harness struct {
	app *App
	out *syncBuffer
	src *audioio.MockSource
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	h := &harness{out: &syncBuffer{}}
	h.src = audioio.NewMockSource(cfg.Audio, testLogger, audioio.WithManualFrames(), audioio.WithDeviceRate(48000))

	a, err := New(cfg, testLogger,
		WithOutput(h.out),
		WithMetrics(metrics),
		WithSourceFactory(func(audioio.Config, *slog.Logger) (audioio.Source, error) {
			return h.src, nil
		}),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.app = a
	return h
}

// run starts App.Run and returns the command input and the result channel.
func (h *harness) run(t *testing.T) (*io.PipeWriter, <-chan error) {
	t.Helper()
	in, w := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.app.Run(ctx, in) }()
	t.Cleanup(func() {
		cancel()
		w.Close()
	})
	return w, done
}

func send(t *testing.T, w io.Writer, cmd string) {
	t.Helper()
	if _, err := io.WriteString(w, cmd+"\n"); err != nil {
		t.Fatalf("Write command failed: %v", err)
	}
}

func TestApp_Session(t *testing.T) {
	addr := startDevserver(t)
	cfg := testConfig(t, addr)
	cfg.User.Email = "ada@example.com"
	cfg.StorePath = t.TempDir()

	h := newHarness(t, cfg)
	if err := h.app.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	h.out.waitFor(t, "Hello Ada Lovelace! I'm ready to chat.")

	w, done := h.run(t)

	send(t, w, "s")
	h.out.waitFor(t, "["+streamer.StatusRecording+"]")
	h.out.waitFor(t, "[Personalized settings loaded for Ada Lovelace]")

	frame := make([]float32, 4096)
	h.src.Emit(frame)
	h.src.Emit(frame)

	h.out.waitFor(t, "You: This is a test transcription.")
	h.out.waitFor(t, "AI: This is a scripted response.")

	send(t, w, "r")
	h.out.waitFor(t, "* Conversation has been reset.")
	h.out.waitFor(t, "[Conversation reset.]")

	send(t, w, "x")
	h.out.waitFor(t, "["+streamer.StatusStopped+"]")

	send(t, w, "q")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after quit")
	}

	if err := h.app.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// The identity was persisted; a new session greets without configuration.
	cfg2 := testConfig(t, addr)
	cfg2.StorePath = cfg.StorePath
	h2 := newHarness(t, cfg2)
	if err := h2.app.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer h2.app.Shutdown()

	h2.out.waitFor(t, "Hello Ada Lovelace!")
	if got := h2.app.Streamer().Identity(); got.Email != "ada@example.com" {
		t.Errorf("Expected stored identity, got %+v", got)
	}
}

func TestApp_ErrorStopsRecording(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")

	h := newHarness(t, cfg)
	if err := h.app.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer h.app.Shutdown()

	w, _ := h.run(t)

	send(t, w, "s")
	h.out.waitFor(t, "* Error: "+streamer.MsgConnection)
	h.out.waitFor(t, "["+streamer.StatusStopped+"]")

	out := h.out.String()
	if strings.Index(out, "["+streamer.StatusRecording+"]") > strings.Index(out, "["+streamer.StatusStopped+"]") {
		t.Errorf("Expected Recording before Stopped:\n%s", out)
	}
	if h.app.Streamer().IsRecording() {
		t.Error("Expected recording stopped after error")
	}
}

func TestApp_ResetWhileDisconnected(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	cfg.Dashboard.Enabled = true
	cfg.Dashboard.Addr = "127.0.0.1:0"

	h := newHarness(t, cfg)
	defer h.app.Shutdown()

	h.app.Dashboard().AddConversation("user", "earlier")

	if err := h.app.handleCommand(context.Background(), "r"); err != nil {
		t.Fatalf("handleCommand failed: %v", err)
	}

	h.out.waitFor(t, "* Conversation has been reset.")
	entries := h.app.Dashboard().Conversation()
	if len(entries) != 1 || entries[0].Text != "Conversation has been reset." {
		t.Errorf("Expected dashboard view reset, got %+v", entries)
	}
}

func TestApp_NoCaptureIsNotFatal(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	out := &syncBuffer{}

	a, err := New(cfg, testLogger,
		WithOutput(out),
		WithSourceFactory(func(audioio.Config, *slog.Logger) (audioio.Source, error) {
			return nil, audioio.ErrNoCaptureSupport
		}),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Shutdown()

	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init should not fail without capture: %v", err)
	}
	out.waitFor(t, "* Error: "+streamer.MsgDeviceAccess)
}

func TestHandleCommand(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	h := newHarness(t, cfg)
	defer h.app.Shutdown()

	ctx := context.Background()
	if err := h.app.handleCommand(ctx, "  Q "); err != errQuit {
		t.Errorf("Expected errQuit, got %v", err)
	}
	if err := h.app.handleCommand(ctx, "help"); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
	if !strings.Contains(h.out.String(), "Commands:") {
		t.Error("Expected help output for unknown command")
	}
}

func TestConsole(t *testing.T) {
	out := &syncBuffer{}
	stops := 0
	c := NewConsole(out, func() { stops++ })

	c.OnStatusChange("Connected")
	c.OnTranscription("hi")
	c.OnAIResponse("hello")
	c.OnError("boom")
	c.Greet("")

	want := "[Connected]\nYou: hi\nAI: hello\n* Error: boom\n* I'm ready to chat. Press s and start speaking.\n"
	if out.String() != want {
		t.Errorf("Unexpected output:\n%s", out.String())
	}
	if stops != 1 {
		t.Errorf("Expected one stop, got %d", stops)
	}
	if c.Status() != "Error: boom" {
		t.Errorf("Unexpected status %q", c.Status())
	}
}
