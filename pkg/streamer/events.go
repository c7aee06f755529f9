package streamer

import (
	"sync"
)

// Listener receives the four streamer events. Methods are called outside
// the streamer's lock, so they may call back into the streamer.
//
// Backend messages arrive on the connection's read goroutine while local
// status changes arrive on the caller's, so implementations must be safe
// for concurrent use. On a new connection "Connected" and the events of
// the operation that opened it are always delivered before the first
// backend message.
type Listener interface {
	// OnStatusChange receives connection and recording status as well as
	// status and info notices from the backend.
	OnStatusChange(status string)

	// OnTranscription receives recognized speech.
	OnTranscription(text string)

	// OnAIResponse receives the generated reply.
	OnAIResponse(text string)

	// OnError receives a human-readable error message.
	OnError(message string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	StatusChange  func(status string)
	Transcription func(text string)
	AIResponse    func(text string)
	Error         func(message string)
}

func (f ListenerFuncs) OnStatusChange(status string) {
	if f.StatusChange != nil {
		f.StatusChange(status)
	}
}

func (f ListenerFuncs) OnTranscription(text string) {
	if f.Transcription != nil {
		f.Transcription(text)
	}
}

func (f ListenerFuncs) OnAIResponse(text string) {
	if f.AIResponse != nil {
		f.AIResponse(text)
	}
}

func (f ListenerFuncs) OnError(message string) {
	if f.Error != nil {
		f.Error(message)
	}
}

var _ Listener = ListenerFuncs{}

type eventKind int

const (
	eventStatus eventKind = iota
	eventTranscription
	eventAIResponse
	eventError
)

// event is one pending notification, queued under the streamer lock and
// delivered after it is released.
type event struct {
	kind eventKind
	text string
}

// registry fans events out to listeners in registration order.
type registry struct {
	mu        sync.RWMutex
	nextID    int
	listeners []registered
}

type registered struct {
	id int
	l  Listener
}

func (r *registry) add(l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.listeners = append(r.listeners, registered{id: id, l: l})

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *registry) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, reg := range r.listeners {
		if reg.id == id {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *registry) snapshot() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Listener, len(r.listeners))
	for i, reg := range r.listeners {
		out[i] = reg.l
	}
	return out
}

func (r *registry) emit(events ...event) {
	if len(events) == 0 {
		return
	}
	listeners := r.snapshot()
	for _, ev := range events {
		for _, l := range listeners {
			switch ev.kind {
			case eventStatus:
				l.OnStatusChange(ev.text)
			case eventTranscription:
				l.OnTranscription(ev.text)
			case eventAIResponse:
				l.OnAIResponse(ev.text)
			case eventError:
				l.OnError(ev.text)
			}
		}
	}
}
