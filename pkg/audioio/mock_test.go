package audioio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	cfg.FrameSize = 160 // 10ms at 16kHz
	return cfg
}

func TestMockSource_StartStop(t *testing.T) {
	src := NewMockSource(testConfig(), nil)
	defer src.Close()

	ctx := context.Background()

	// Start before Open must fail
	if err := src.Start(func(Frame) {}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Expected ErrNotOpen, got %v", err)
	}

	if err := src.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Opening again should be a no-op
	if err := src.Open(ctx); err != nil {
		t.Fatalf("Second Open failed: %v", err)
	}
	if src.Opens() != 1 {
		t.Errorf("Expected device acquired once, got %d", src.Opens())
	}

	if err := src.Start(func(Frame) {}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Starting again should be a no-op
	if err := src.Start(func(Frame) {}); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Stopping again should be a no-op
	if err := src.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}

	// The device stays acquired after Stop
	if !src.IsOpen() {
		t.Error("Expected source to stay open after Stop")
	}
}

func TestMockSource_Generates(t *testing.T) {
	src := NewMockSource(testConfig(), nil, WithSineWave(440, 0.5))
	defer src.Close()

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	frames := make(chan Frame, 16)
	if err := src.Start(func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case f := <-frames:
		if len(f.Samples) != 160 {
			t.Errorf("Expected 160 samples, got %d", len(f.Samples))
		}
		if f.SampleRate != 16000 {
			t.Errorf("Expected 16000 Hz, got %d", f.SampleRate)
		}
		if RMS(f.Samples) == 0 {
			t.Error("Expected non-silent sine frame")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for frame")
	}

	src.Stop()

	stats := src.Stats()
	if stats.FramesDelivered == 0 {
		t.Error("Expected frames to be counted")
	}
	if stats.Running {
		t.Error("Expected Running to be false after Stop")
	}
	if stats.Backend != "mock" {
		t.Errorf("Expected backend mock, got %s", stats.Backend)
	}
}

func TestMockSource_ManualEmit(t *testing.T) {
	src := NewMockSource(testConfig(), nil, WithManualFrames(), WithDeviceRate(44100))
	defer src.Close()

	if src.SampleRate() != 44100 {
		t.Fatalf("Expected device rate 44100, got %d", src.SampleRate())
	}

	// Emit before Start is dropped
	if src.Emit(make([]float32, 10)) {
		t.Error("Expected Emit to be dropped before Start")
	}

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var (
		mu  sync.Mutex
		got []Frame
	)
	if err := src.Start(func(f Frame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !src.Emit(make([]float32, 4096)) {
		t.Fatal("Expected Emit to deliver while running")
	}

	src.Stop()

	if src.Emit(make([]float32, 10)) {
		t.Error("Expected Emit to be dropped after Stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(got))
	}
	if got[0].SampleRate != 44100 {
		t.Errorf("Expected frame rate 44100, got %d", got[0].SampleRate)
	}
	if got[0].Duration() < 92*time.Millisecond || got[0].Duration() > 93*time.Millisecond {
		t.Errorf("Unexpected frame duration %v", got[0].Duration())
	}
}

func TestMockSource_OpenError(t *testing.T) {
	denied := errors.New("permission denied")
	src := NewMockSource(testConfig(), nil, WithOpenError(denied))
	defer src.Close()

	if err := src.Open(context.Background()); !errors.Is(err, denied) {
		t.Fatalf("Expected open error, got %v", err)
	}
	if src.IsOpen() {
		t.Error("Expected source to stay closed")
	}
}

func TestMockSource_Close(t *testing.T) {
	src := NewMockSource(testConfig(), nil, WithManualFrames())

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := src.Start(func(Frame) {}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Close is idempotent
	if err := src.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}

	if src.IsOpen() {
		t.Error("Expected source to be released")
	}

	if err := src.Open(context.Background()); err != io.ErrClosedPipe {
		t.Errorf("Expected ErrClosedPipe after Close, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"zero rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"stereo", func(c *Config) { c.Channels = 2 }, true},
		{"zero frame", func(c *Config) { c.FrameSize = 0 }, true},
		{"unknown backend", func(c *Config) { c.Backend = "pulse" }, true},
		{"mock backend", func(c *Config) { c.Backend = BackendMock }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSource_Mock(t *testing.T) {
	src, err := NewSource(testConfig(), nil)
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}
	defer src.Close()

	if src.Name() != "mock" {
		t.Errorf("Expected mock backend, got %s", src.Name())
	}
}

func TestNewSource_Null(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = BackendNull

	if _, err := NewSource(cfg, nil); !errors.Is(err, ErrNoCaptureSupport) {
		t.Errorf("Expected ErrNoCaptureSupport, got %v", err)
	}
}

func TestNewSource_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.FrameSize = -1

	if _, err := NewSource(cfg, nil); err == nil {
		t.Error("Expected error for invalid config")
	}
}
