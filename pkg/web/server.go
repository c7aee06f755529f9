// Package web provides the local status dashboard for a running streamer:
// a JSON API, Prometheus metrics and a live event feed over WebSocket.
package web

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-voicelink/pkg/hub"
	"github.com/teslashibe/go-voicelink/pkg/streamer"
)

//go:embed static
var staticFiles embed.FS

// shutdownTimeout bounds how long Serve waits for open requests.
const shutdownTimeout = 5 * time.Second

// StatusFunc returns the current streamer statistics.
type StatusFunc func() streamer.Stats

// Event is pushed to /ws/events subscribers.
type Event struct {
	Type   string             `json:"type"` // status, message, reset
	Status string             `json:"status,omitempty"`
	Entry  *ConversationEntry `json:"entry,omitempty"`
}

// Status is the body of GET /api/status.
type Status struct {
	LastStatus   string          `json:"last_status"`
	Streamer     *streamer.Stats `json:"streamer,omitempty"`
	Conversation int             `json:"conversation_entries"`
	Clients      int             `json:"dashboard_clients"`
}

// Config holds dashboard configuration.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8181".
	Addr string

	// MaxEntries bounds the conversation history.
	MaxEntries int
}

// Server is the web dashboard server. It implements streamer.Listener so it
// can be subscribed to a streamer directly.
type Server struct {
	cfg    Config
	app    *fiber.App
	logger *slog.Logger

	status StatusFunc

	lastStatus   string
	lastStatusMu sync.RWMutex

	conversation *Conversation
	events       *hub.Hub
}

var _ streamer.Listener = (*Server)(nil)

// NewServer creates a dashboard. status may be nil.
func NewServer(cfg Config, status StatusFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dashboard")

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		status:       status,
		conversation: NewConversation(cfg.MaxEntries),
		events:       hub.New("events", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicelink dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/conversation", s.handleGetConversation)
	api.Delete("/conversation", s.handleResetConversation)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	// Static files
	app.Use("/", filesystem.New(filesystem.Config{
		Root:       http.FS(staticFiles),
		PathPrefix: "static",
		Index:      "index.html",
	}))

	s.app = app
	return s
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.events.Run(hubCtx)

	s.logger.Info("dashboard listening", "url", "http://"+ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopHub()
	<-s.events.Done()

	err := s.app.ShutdownWithTimeout(shutdownTimeout)
	if serveErr := <-errCh; serveErr != nil && err == nil && !errors.Is(serveErr, net.ErrClosed) {
		err = serveErr
	}
	return err
}

// SetStatus records the latest status line and broadcasts it.
func (s *Server) SetStatus(status string) {
	s.lastStatusMu.Lock()
	s.lastStatus = status
	s.lastStatusMu.Unlock()

	s.broadcast(Event{Type: "status", Status: status})
}

// AddConversation appends a conversation entry and broadcasts it.
func (s *Server) AddConversation(role Role, text string) {
	entry := s.conversation.Add(role, text)
	s.broadcast(Event{Type: "message", Entry: &entry})
}

// ResetConversation clears the history.
func (s *Server) ResetConversation() {
	entry := s.conversation.Reset()
	s.broadcast(Event{Type: "reset", Entry: &entry})
}

// Conversation returns the conversation history.
func (s *Server) Conversation() []ConversationEntry {
	return s.conversation.Entries()
}

func (s *Server) broadcast(ev Event) {
	if err := s.events.BroadcastJSON(ev); err != nil {
		s.logger.Warn("broadcast failed", "error", err)
	}
}

// OnStatusChange implements streamer.Listener.
func (s *Server) OnStatusChange(status string) {
	s.SetStatus(status)
}

// OnTranscription implements streamer.Listener.
func (s *Server) OnTranscription(text string) {
	s.AddConversation(RoleUser, text)
}

// OnAIResponse implements streamer.Listener.
func (s *Server) OnAIResponse(text string) {
	s.AddConversation(RoleAssistant, text)
}

// OnError implements streamer.Listener.
func (s *Server) OnError(message string) {
	s.AddConversation(RoleSystem, "Error: "+message)
}
