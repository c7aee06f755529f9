// Package devserver provides a local stand-in for the transcription backend.
// It speaks the same WebSocket protocol as the real service but answers
// with scripted text instead of running speech recognition, which makes it
// useful for integration tests and for trying the CLI without a backend.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-voicelink/pkg/identity"
	"github.com/teslashibe/go-voicelink/pkg/protocol"
)

// Backend notices, matching the real service.
const (
	MsgGreeting   = "Connection established. Start speaking."
	MsgProcessing = "Processing audio..."
	MsgThinking   = "Getting response from AI..."
	MsgReset      = "Conversation reset."
	msgPersonal   = "Personalized settings loaded for "
)

// DefaultAudioPath is where the audio endpoint is mounted.
const DefaultAudioPath = "/ws/audio"

const shutdownTimeout = 5 * time.Second

// Config holds devserver configuration.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`

	// AudioPath is the WebSocket endpoint path.
	AudioPath string `yaml:"audio_path"`

	// ReplyEvery sends a scripted transcription and response after this
	// many audio chunks. Zero disables replies.
	ReplyEvery int `yaml:"reply_every"`

	// Transcription is the scripted transcription text.
	Transcription string `yaml:"transcription"`

	// Response is the scripted AI response text.
	Response string `yaml:"response"`

	// Directory serves GET /api/user.
	Directory identity.DirectoryConfig `yaml:"directory"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Addr:          "127.0.0.1:8000",
		AudioPath:     DefaultAudioPath,
		ReplyEvery:    0,
		Transcription: "This is a test transcription.",
		Response:      "This is a scripted response.",
	}
}

// Stats contains devserver statistics.
type Stats struct {
	Sessions     int    `json:"sessions"`
	Connections  uint64 `json:"connections"`
	AudioChunks  uint64 `json:"audio_chunks"`
	AudioBytes   uint64 `json:"audio_bytes"`
	Resets       uint64 `json:"resets"`
	UserInfos    uint64 `json:"user_infos"`
	ParseErrors  uint64 `json:"parse_errors"`
	MessagesSent uint64 `json:"messages_sent"`
}

// AudioFunc observes decoded PCM16 audio from a session.
type AudioFunc func(sessionID string, pcm []byte)

// Server is the devserver.
type Server struct {
	cfg       Config
	app       *fiber.App
	logger    *slog.Logger
	directory *identity.Directory

	mu       sync.RWMutex
	sessions map[string]*session
	onAudio  AudioFunc

	connections  atomic.Uint64
	audioChunks  atomic.Uint64
	audioBytes   atomic.Uint64
	resets       atomic.Uint64
	userInfos    atomic.Uint64
	parseErrors  atomic.Uint64
	messagesSent atomic.Uint64
}

// New creates a devserver.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AudioPath == "" {
		cfg.AudioPath = DefaultAudioPath
	}
	logger = logger.With("component", "devserver")

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		directory: identity.NewDirectory(cfg.Directory, nil, logger),
		sessions:  make(map[string]*session),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicelink devserver",
		DisableStartupMessage: true,
	})
	s.RegisterRoutes(app)
	s.app = app

	return s
}

// RegisterRoutes registers the devserver's routes on a Fiber app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/api/user", s.handleUser)
	app.Get("/api/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.Stats())
	})

	// WebSocket upgrade middleware
	app.Use(s.cfg.AudioPath, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(s.cfg.AudioPath, websocket.New(s.handleAudio))
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// OnAudio sets the callback for decoded audio chunks.
func (s *Server) OnAudio(fn AudioFunc) {
	s.mu.Lock()
	s.onAudio = fn
	s.mu.Unlock()
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

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("devserver listening", "url", "ws://"+ln.Addr().String()+s.cfg.AudioPath)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.CloseSessions()

	err := s.app.ShutdownWithTimeout(shutdownTimeout)
	if serveErr := <-errCh; serveErr != nil && err == nil && !errors.Is(serveErr, net.ErrClosed) {
		err = serveErr
	}
	return err
}

// Broadcast sends a raw message to every connected session.
func (s *Server) Broadcast(data []byte) {
	for _, sess := range s.snapshot() {
		if err := sess.send(data); err != nil {
			s.logger.Debug("broadcast failed", "session", sess.id, "error", err)
		}
	}
}

// CloseSessions sends a normal close to every session.
func (s *Server) CloseSessions() {
	for _, sess := range s.snapshot() {
		sess.close()
	}
}

// Stats returns devserver statistics.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	n := len(s.sessions)
	s.mu.RUnlock()

	return Stats{
		Sessions:     n,
		Connections:  s.connections.Load(),
		AudioChunks:  s.audioChunks.Load(),
		AudioBytes:   s.audioBytes.Load(),
		Resets:       s.resets.Load(),
		UserInfos:    s.userInfos.Load(),
		ParseErrors:  s.parseErrors.Load(),
		MessagesSent: s.messagesSent.Load(),
	}
}

func (s *Server) snapshot() []*session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// handleUser answers GET /api/user?email= with the display name as a JSON
// string, or 404.
func (s *Server) handleUser(c *fiber.Ctx) error {
	email := c.Query("email")
	if email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "email is required"})
	}

	name, ok := s.directory.Local(email)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	}
	return c.JSON(name)
}

// handleAudio runs one backend session.
func (s *Server) handleAudio(c *websocket.Conn) {
	sess := &session{
		id:     uuid.NewString(),
		conn:   c,
		server: s,
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.connections.Add(1)

	logger := s.logger.With("session", sess.id)
	logger.Info("session started", "sessions", count)

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		count := len(s.sessions)
		s.mu.Unlock()
		logger.Info("session ended", "sessions", count, "audio_chunks", sess.chunks)
	}()

	sess.sendInfo(MsgGreeting)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			logger.Debug("read ended", "error", err)
			return
		}
		s.handleMessage(sess, logger, data)
	}
}

func (s *Server) handleMessage(sess *session, logger *slog.Logger, data []byte) {
	env, err := protocol.DecodeClient(data)
	if err != nil {
		s.parseErrors.Add(1)
		logger.Warn("invalid client message", "error", err)
		sess.sendError(fmt.Sprintf("invalid message: %v", err))
		return
	}

	switch env.Type {
	case protocol.TypeAudio:
		pcm, err := env.PCM()
		if err != nil {
			s.parseErrors.Add(1)
			sess.sendError(fmt.Sprintf("invalid audio: %v", err))
			return
		}
		s.audioChunks.Add(1)
		s.audioBytes.Add(uint64(len(pcm)))
		sess.chunks++

		s.mu.RLock()
		onAudio := s.onAudio
		s.mu.RUnlock()
		if onAudio != nil {
			onAudio(sess.id, pcm)
		}

		if s.cfg.ReplyEvery > 0 && sess.chunks%s.cfg.ReplyEvery == 0 {
			s.reply(sess)
		}

	case protocol.TypeReset:
		s.resets.Add(1)
		sess.chunks = 0
		logger.Info("conversation reset")
		sess.sendInfo(MsgReset)

	case protocol.TypeUserInfo:
		if env.Email == "" {
			return
		}
		s.userInfos.Add(1)
		name := env.Name
		if name == "" {
			name = env.Email
		}
		logger.Info("user info received", "email", env.Email, "name", env.Name)
		sess.sendInfo(msgPersonal + name)

	default:
		logger.Debug("ignoring message", "type", env.Type)
	}
}

// reply sends the scripted exchange the real backend sends after speech ends.
func (s *Server) reply(sess *session) {
	send := func(data []byte, err error) {
		if err == nil {
			err = sess.send(data)
		}
		if err != nil {
			s.logger.Debug("reply failed", "session", sess.id, "error", err)
		}
	}

	send(protocol.EncodeStatus(MsgProcessing))
	send(protocol.EncodeTranscription(s.cfg.Transcription))
	send(protocol.EncodeStatus(MsgThinking))
	send(protocol.EncodeAIResponse(s.cfg.Response))
}

// session is one connected client. chunks is only touched by the session's
// read goroutine.
type session struct {
	id     string
	conn   *websocket.Conn
	server *Server
	chunks int

	mu sync.Mutex
}

func (s *session) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	s.server.messagesSent.Add(1)
	return nil
}

func (s *session) sendInfo(message string) {
	if data, err := protocol.EncodeInfo(message); err == nil {
		_ = s.send(data)
	}
}

func (s *session) sendError(message string) {
	if data, err := protocol.EncodeError(message); err == nil {
		_ = s.send(data)
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"),
		time.Now().Add(time.Second),
	)
}
