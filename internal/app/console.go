package app

import (
	"fmt"
	"io"
	"sync"

	"github.com/teslashibe/go-voicelink/pkg/streamer"
)

// Console renders the conversation on a terminal. It mirrors the browser
// client: errors are shown as system lines and stop the recording.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	// stop is called after an error is shown.
	stop func()

	status string
}

var _ streamer.Listener = (*Console)(nil)

// NewConsole creates a console writing to out. stop may be nil.
func NewConsole(out io.Writer, stop func()) *Console {
	return &Console{out: out, stop: stop}
}

// Status returns the last status line.
func (c *Console) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Greet shows the personalized greeting.
func (c *Console) Greet(name string) {
	if name == "" {
		c.System("I'm ready to chat. Press s and start speaking.")
		return
	}
	c.System(fmt.Sprintf("Hello %s! I'm ready to chat. Press s and start speaking.", name))
}

// System prints a system line.
func (c *Console) System(text string) {
	c.printf("* %s\n", text)
}

// Reset shows the reset notice.
func (c *Console) Reset() {
	c.System("Conversation has been reset.")
}

// Help prints the key bindings.
func (c *Console) Help() {
	c.printf("Commands: s = start recording, x = stop, r = reset conversation, q = quit\n")
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// OnStatusChange implements streamer.Listener.
func (c *Console) OnStatusChange(status string) {
	c.mu.Lock()
	c.status = status
	fmt.Fprintf(c.out, "[%s]\n", status)
	c.mu.Unlock()
}

// OnTranscription implements streamer.Listener.
func (c *Console) OnTranscription(text string) {
	c.printf("You: %s\n", text)
}

// OnAIResponse implements streamer.Listener.
func (c *Console) OnAIResponse(text string) {
	c.printf("AI: %s\n", text)
}

// OnError implements streamer.Listener.
func (c *Console) OnError(message string) {
	c.mu.Lock()
	c.status = "Error: " + message
	c.mu.Unlock()

	c.System("Error: " + message)
	if c.stop != nil {
		c.stop()
	}
}
