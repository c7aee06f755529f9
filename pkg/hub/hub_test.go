package hub

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h, cancel
}

// fakeClient is a client with no connection; tests read its send channel.
func fakeClient(h *Hub, buffer int) *Client {
	return &Client{hub: h, send: make(chan []byte, buffer)}
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, h.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, c *Client) ([]byte, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		return msg, ok
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for message")
		return nil, false
	}
}

func TestHub_Broadcast(t *testing.T) {
	h, _ := runHub(t)

	a := fakeClient(h, 4)
	b := fakeClient(h, 4)
	if !h.add(a) || !h.add(b) {
		t.Fatal("Expected registration to succeed")
	}
	waitForClients(t, h, 2)

	if err := h.BroadcastJSON(map[string]string{"type": "status"}); err != nil {
		t.Fatalf("BroadcastJSON failed: %v", err)
	}

	for _, c := range []*Client{a, b} {
		msg, ok := receive(t, c)
		if !ok || string(msg) != `{"type":"status"}` {
			t.Errorf("Unexpected message %q (ok=%v)", msg, ok)
		}
	}
}

func TestHub_Unregister(t *testing.T) {
	h, _ := runHub(t)

	c := fakeClient(h, 4)
	h.add(c)
	waitForClients(t, h, 1)

	h.remove(c)
	waitForClients(t, h, 0)

	if _, ok := receive(t, c); ok {
		t.Error("Expected send channel closed")
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	h, _ := runHub(t)

	slow := fakeClient(h, 0)
	fast := fakeClient(h, 4)
	h.add(slow)
	h.add(fast)
	waitForClients(t, h, 2)

	h.Broadcast([]byte("x"))

	if msg, _ := receive(t, fast); string(msg) != "x" {
		t.Errorf("Expected x, got %q", msg)
	}
	waitForClients(t, h, 1)
	if _, ok := <-slow.send; ok {
		t.Error("Expected slow client's channel closed")
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	h := New("idle", testLogger)

	for i := 0; i < cap(h.broadcast)+3; i++ {
		h.Broadcast([]byte("x"))
	}

	if h.Dropped() != 3 {
		t.Errorf("Expected 3 dropped, got %d", h.Dropped())
	}
}

func TestHub_Stop(t *testing.T) {
	h := New("stop", testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := fakeClient(h, 4)
	h.add(c)
	waitForClients(t, h, 1)
	if !h.IsRunning() {
		t.Error("Expected running")
	}

	cancel()
	<-h.Done()

	if h.IsRunning() {
		t.Error("Expected stopped")
	}
	if _, ok := receive(t, c); ok {
		t.Error("Expected client channel closed on stop")
	}
	if h.add(fakeClient(h, 1)) {
		t.Error("Expected registration to fail after stop")
	}
	// remove must not block after stop
	h.remove(c)
}
