package streamer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voicelink/pkg/audioio"
	"github.com/teslashibe/go-voicelink/pkg/protocol"
	"github.com/teslashibe/go-voicelink/pkg/transport"
)

// activityThreshold is the RMS above which a buffer is logged as speech.
const activityThreshold = 0.01

// progressInterval is how often the capture path logs a summary.
const progressInterval = 2 * time.Second

// frameStats tracks the capture path. It is updated from the capture
// goroutine and read from anywhere.
type frameStats struct {
	processed atomic.Int64
	sent      atomic.Int64
	dropped   atomic.Int64
	bytesSent atomic.Int64

	mu             sync.Mutex
	lastLog        time.Time
	sinceLog       int
	resampleLogged bool
}

func (f *frameStats) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLog = time.Now()
	f.sinceLog = 0
	f.resampleLogged = false
}

func (f *frameStats) totals() (sent, dropped int64) {
	return f.sent.Load(), f.dropped.Load()
}

// onFrame converts one capture buffer and hands it to the connection.
// It runs on the audio backend's goroutine and never blocks on the network.
func (s *AudioStreamer) onFrame(frame audioio.Frame) {
	start := time.Now()
	ctx := context.Background()

	if rms := audioio.RMS(frame.Samples); rms > activityThreshold {
		s.logger.Debug("audio activity detected", "rms", rms)
	}

	samples := frame.Samples
	if frame.SampleRate != audioio.TargetSampleRate {
		s.noteResample(frame.SampleRate, len(samples))
		samples = audioio.Resample(samples, frame.SampleRate, audioio.TargetSampleRate)
	}

	pcm := audioio.SamplesToBytes(audioio.FloatToPCM16(samples))
	s.frames.processed.Add(1)

	data, err := protocol.EncodeAudio(pcm)
	if err == nil {
		err = s.link.Send(data)
	}

	switch {
	case err == nil:
		s.frames.sent.Add(1)
		s.frames.bytesSent.Add(int64(len(pcm)))
		s.metrics.RecordFrameSent(ctx, len(pcm))
	case errors.Is(err, transport.ErrNotOpen):
		s.frames.dropped.Add(1)
		s.metrics.RecordFrameDropped(ctx, "not_open")
	case errors.Is(err, transport.ErrQueueFull):
		s.frames.dropped.Add(1)
		s.metrics.RecordFrameDropped(ctx, "queue_full")
	default:
		s.frames.dropped.Add(1)
		s.metrics.RecordFrameDropped(ctx, "encode")
		s.logger.Warn("encode audio failed", "error", err)
	}

	s.metrics.FrameProcessDuration.Record(ctx, time.Since(start).Seconds())
	s.logProgress()
}

func (s *AudioStreamer) noteResample(from, n int) {
	s.frames.mu.Lock()
	first := !s.frames.resampleLogged
	s.frames.resampleLogged = true
	s.frames.mu.Unlock()

	if first {
		s.logger.Info("resampling audio",
			"from", from,
			"to", audioio.TargetSampleRate,
			"input_samples", n,
			"output_samples", audioio.ResampledLen(n, from, audioio.TargetSampleRate),
		)
	}
}

func (s *AudioStreamer) logProgress() {
	s.frames.mu.Lock()
	s.frames.sinceLog++
	if time.Since(s.frames.lastLog) < progressInterval {
		s.frames.mu.Unlock()
		return
	}
	n := s.frames.sinceLog
	s.frames.sinceLog = 0
	s.frames.lastLog = time.Now()
	s.frames.mu.Unlock()

	s.logger.Debug("audio chunks processed",
		"chunks", n,
		"connected", s.link.IsOpen(),
	)
}

// Stats is a snapshot of the streamer for status displays.
type Stats struct {
	SessionID        string `json:"session_id"`
	State            string `json:"state"`
	Connection       string `json:"connection"`
	Recording        bool   `json:"recording"`
	Backend          string `json:"backend,omitempty"`
	DeviceRate       int    `json:"device_rate,omitempty"`
	FramesProcessed  int64  `json:"frames_processed"`
	FramesSent       int64  `json:"frames_sent"`
	FramesDropped    int64  `json:"frames_dropped"`
	AudioBytesSent   int64  `json:"audio_bytes_sent"`
	MessagesReceived int64  `json:"messages_received"`
}

// Stats returns a snapshot of streamer statistics.
func (s *AudioStreamer) Stats() Stats {
	s.mu.Lock()
	state := s.state
	var backend string
	var rate int
	if s.source != nil {
		backend = s.source.Name()
		rate = s.source.SampleRate()
	}
	s.mu.Unlock()

	return Stats{
		SessionID:        s.sessionID,
		State:            state.String(),
		Connection:       s.link.State().String(),
		Recording:        state.IsRecording(),
		Backend:          backend,
		DeviceRate:       rate,
		FramesProcessed:  s.frames.processed.Load(),
		FramesSent:       s.frames.sent.Load(),
		FramesDropped:    s.frames.dropped.Load(),
		AudioBytesSent:   s.frames.bytesSent.Load(),
		MessagesReceived: s.link.Stats().MessagesReceived,
	}
}
