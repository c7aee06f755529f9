package web

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicelink/pkg/hub"
)

// handleStatus returns the streamer snapshot and dashboard state.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	s.lastStatusMu.RLock()
	status := Status{LastStatus: s.lastStatus}
	s.lastStatusMu.RUnlock()

	if s.status != nil {
		stats := s.status()
		status.Streamer = &stats
	}
	status.Conversation = s.conversation.Len()
	status.Clients = s.events.ClientCount()

	return c.JSON(status)
}

// handleGetConversation returns the recent conversation.
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	return c.JSON(s.conversation.Entries())
}

// handleResetConversation clears the dashboard's view. It does not reset
// the backend's conversation.
func (s *Server) handleResetConversation(c *fiber.Ctx) error {
	s.ResetConversation()
	return c.SendStatus(fiber.StatusNoContent)
}

// handleEventsWS streams events. A new client first receives the current
// status and the whole history.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	s.lastStatusMu.RLock()
	last := s.lastStatus
	s.lastStatusMu.RUnlock()

	var initial [][]byte
	if last != "" {
		if data, err := json.Marshal(Event{Type: "status", Status: last}); err == nil {
			initial = append(initial, data)
		}
	}
	for _, entry := range s.conversation.Entries() {
		entry := entry
		if data, err := json.Marshal(Event{Type: "message", Entry: &entry}); err == nil {
			initial = append(initial, data)
		}
	}

	hub.NewClient(s.events, c, initial...).Run()
}
