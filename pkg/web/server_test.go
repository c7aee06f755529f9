package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicelink/pkg/streamer"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(status StatusFunc) *Server {
	return NewServer(Config{Addr: "127.0.0.1:0"}, status, testLogger)
}

func getJSON(t *testing.T, s *Server, path string, v any) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Decode %s: %v", path, err)
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(func() streamer.Stats {
		return streamer.Stats{SessionID: "abc", State: "streaming", Recording: true}
	})
	s.OnStatusChange("Recording")
	s.OnTranscription("hello")

	var status Status
	getJSON(t, s, "/api/status", &status)

	if status.LastStatus != "Recording" {
		t.Errorf("Expected last status Recording, got %q", status.LastStatus)
	}
	if status.Streamer == nil || status.Streamer.SessionID != "abc" || !status.Streamer.Recording {
		t.Errorf("Unexpected streamer stats %+v", status.Streamer)
	}
	if status.Conversation != 1 {
		t.Errorf("Expected 1 entry, got %d", status.Conversation)
	}
}

func TestStatus_NoStreamer(t *testing.T) {
	s := newTestServer(nil)

	var status Status
	getJSON(t, s, "/api/status", &status)

	if status.Streamer != nil {
		t.Errorf("Expected no streamer stats, got %+v", status.Streamer)
	}
}

func TestConversation_FromEvents(t *testing.T) {
	s := newTestServer(nil)

	s.OnTranscription("what time is it")
	s.OnAIResponse("It is noon.")
	s.OnError("Connection error. Please try again.")
	s.OnStatusChange("Connected")

	var entries []ConversationEntry
	getJSON(t, s, "/api/conversation", &entries)

	want := []struct {
		role Role
		text string
	}{
		{RoleUser, "what time is it"},
		{RoleAssistant, "It is noon."},
		{RoleSystem, "Error: Connection error. Please try again."},
	}
	if len(entries) != len(want) {
		t.Fatalf("Expected %d entries, got %+v", len(want), entries)
	}
	for i, w := range want {
		if entries[i].Role != w.role || entries[i].Text != w.text {
			t.Errorf("Entry %d: expected %s %q, got %s %q", i, w.role, w.text, entries[i].Role, entries[i].Text)
		}
	}
}

func TestConversation_Reset(t *testing.T) {
	s := newTestServer(nil)
	s.AddConversation(RoleUser, "one")
	s.AddConversation(RoleAssistant, "two")

	resp, err := s.App().Test(httptest.NewRequest(http.MethodDelete, "/api/conversation", nil))
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}

	entries := s.Conversation()
	if len(entries) != 1 || entries[0].Role != RoleSystem || entries[0].Text != "Conversation has been reset." {
		t.Errorf("Unexpected entries after reset %+v", entries)
	}
}

func TestConversation_Bounded(t *testing.T) {
	c := NewConversation(0)
	for i := 0; i < DefaultMaxEntries+25; i++ {
		c.Add(RoleUser, string(rune('a'+i%26)))
	}

	entries := c.Entries()
	if len(entries) != DefaultMaxEntries {
		t.Fatalf("Expected %d entries, got %d", DefaultMaxEntries, len(entries))
	}
	// The 25 oldest were evicted.
	if entries[0].Text != string(rune('a'+25%26)) {
		t.Errorf("Unexpected oldest entry %q", entries[0].Text)
	}
}

func TestMetrics(t *testing.T) {
	s := newTestServer(nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("Expected default Prometheus collectors in output")
	}
}

func TestEventsRequiresUpgrade(t *testing.T) {
	s := newTestServer(nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/ws/events", nil))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("Expected 426, got %d", resp.StatusCode)
	}
}

func TestIndex(t *testing.T) {
	s := newTestServer(nil)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "/ws/events") {
		t.Errorf("Expected dashboard page, got %d", resp.StatusCode)
	}
}

func TestEventsFeed(t *testing.T) {
	s := newTestServer(nil)
	s.OnStatusChange("Connected")
	s.OnTranscription("earlier")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/events", nil)
	if err != nil {
		cancel()
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	read := func() Event {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON failed: %v", err)
		}
		return ev
	}

	// Backlog first.
	if ev := read(); ev.Type != "status" || ev.Status != "Connected" {
		t.Errorf("Expected status backlog, got %+v", ev)
	}
	if ev := read(); ev.Type != "message" || ev.Entry == nil || ev.Entry.Text != "earlier" {
		t.Errorf("Expected message backlog, got %+v", ev)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.events.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.OnAIResponse("live")
	if ev := read(); ev.Type != "message" || ev.Entry == nil || ev.Entry.Role != RoleAssistant || ev.Entry.Text != "live" {
		t.Errorf("Expected live message, got %+v", ev)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
