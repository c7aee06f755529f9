package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock capture source for testing.
// It generates synthetic audio (silence or sine wave) on a ticker, or only
// delivers frames pushed through Emit when manual mode is enabled.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	open    bool
	running bool
	closed  bool
	fn      FrameFunc
	stopCh  chan struct{}
	openErr error

	// Stats
	framesDelivered atomic.Int64
	samplesCaptured atomic.Int64
	opens           atomic.Int64

	// Synthetic audio generation
	deviceRate int
	manual     bool
	phase      float64
	frequency  float64 // Hz, 0 = silence
	amplitude  float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithDeviceRate makes the mock report a device rate different from the
// requested one, the way browsers and sound servers often do.
func WithDeviceRate(rate int) MockSourceOption {
	return func(m *MockSource) {
		m.deviceRate = rate
	}
}

// WithManualFrames disables the generator; frames only arrive via Emit.
func WithManualFrames() MockSourceOption {
	return func(m *MockSource) {
		m.manual = true
	}
}

// WithOpenError makes Open fail with err, simulating a denied permission.
func WithOpenError(err error) MockSourceOption {
	return func(m *MockSource) {
		m.openErr = err
	}
}

// NewMockSource creates a new mock capture source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:        cfg,
		logger:     logger,
		deviceRate: cfg.SampleRate,
		frequency:  0, // Silence by default
		amplitude:  0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Open pretends to acquire the device.
func (m *MockSource) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.openErr != nil {
		return m.openErr
	}
	if m.open {
		return nil
	}

	m.open = true
	m.opens.Add(1)
	m.logger.Info("mock capture device opened", "sample_rate", m.deviceRate)
	return nil
}

// Start begins delivering frames to fn.
func (m *MockSource) Start(fn FrameFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if !m.open {
		return ErrNotOpen
	}
	if m.running {
		return nil
	}

	m.running = true
	m.fn = fn
	m.stopCh = make(chan struct{})

	if !m.manual {
		go m.generateLoop(m.stopCh)
	}

	m.logger.Info("mock capture started",
		"sample_rate", m.deviceRate,
		"frequency", m.frequency,
	)

	return nil
}

func (m *MockSource) generateLoop(stopCh <-chan struct{}) {
	interval := time.Duration(m.cfg.FrameSize) * time.Second / time.Duration(m.deviceRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.Emit(m.generateFrame())
		}
	}
}

func (m *MockSource) generateFrame() []float32 {
	samples := make([]float32, m.cfg.FrameSize)

	if m.frequency > 0 {
		for i := range samples {
			samples[i] = float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.deviceRate)))
			m.phase++
			if m.phase >= float64(m.deviceRate) {
				m.phase = 0
			}
		}
	}
	// else: samples are already zero (silence)

	return samples
}

// Emit delivers samples as one frame if the source is running.
// It reports whether the frame reached the callback.
func (m *MockSource) Emit(samples []float32) bool {
	m.mu.Lock()
	fn := m.fn
	running := m.running
	rate := m.deviceRate
	m.mu.Unlock()

	if !running || fn == nil {
		return false
	}

	fn(Frame{Samples: samples, SampleRate: rate})
	m.framesDelivered.Add(1)
	m.samplesCaptured.Add(int64(len(samples)))
	return true
}

// Stop halts frame delivery.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	m.fn = nil
	close(m.stopCh)

	m.logger.Info("mock capture stopped")

	return nil
}

// SampleRate returns the simulated device rate.
func (m *MockSource) SampleRate() int {
	return m.deviceRate
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return string(BackendMock)
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Stop()

	m.mu.Lock()
	m.open = false
	m.mu.Unlock()
	return nil
}

// Opens returns how many times the device was actually acquired.
func (m *MockSource) Opens() int64 {
	return m.opens.Load()
}

// IsOpen reports whether the device is currently acquired.
func (m *MockSource) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		FramesDelivered: m.framesDelivered.Load(),
		SamplesCaptured: m.samplesCaptured.Load(),
		Running:         running,
		Backend:         string(BackendMock),
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)
