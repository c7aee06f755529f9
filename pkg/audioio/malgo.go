//go:build cgo && !noaudio

package audioio

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// captureFormat is float32 so frames reach the pipeline unquantized.
var captureFormat = malgo.FormatF32

const captureSampleSize = 4

// malgoAvailable reports whether the malgo backend is compiled in.
const malgoAvailable = true

// MalgoSource captures audio using miniaudio.
type MalgoSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	rate    int
	running bool
	closed  bool

	// fn is read from the device callback thread.
	fn     atomic.Pointer[FrameFunc]
	framer *framer

	// Stats
	framesDelivered atomic.Int64
	samplesCaptured atomic.Int64
}

func newMalgoSource(cfg Config, logger *slog.Logger) (*MalgoSource, error) {
	return &MalgoSource{
		cfg:    cfg,
		logger: logger,
		framer: newFramer(cfg.FrameSize),
	}, nil
}

// Open initialises the miniaudio context and capture device.
func (s *MalgoSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.device != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	if sampleSize := malgo.SampleSizeInBytes(captureFormat); sampleSize != captureSampleSize {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("malgo capture format has wrong sample size "+
			"(got %d, want %d)", sampleSize, captureSampleSize)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)
	deviceConfig.Capture.Format = captureFormat
	deviceConfig.Capture.Channels = uint32(s.cfg.Channels)
	deviceConfig.Alsa.NoMMap = 1
	if s.cfg.Device != "" {
		id, err := parseDeviceID(s.cfg.Device)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: s.onData,
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}

	s.ctx = mctx
	s.device = device
	s.rate = int(device.SampleRate())
	if s.rate == 0 {
		s.rate = s.cfg.SampleRate
	}

	if s.cfg.EchoCancellation || s.cfg.NoiseSuppression || s.cfg.AutoGainControl {
		s.logger.Debug("malgo does not apply echo cancellation, noise suppression or gain control")
	}

	s.logger.Info("capture device opened",
		"backend", "malgo",
		"requested_rate", s.cfg.SampleRate,
		"sample_rate", s.rate,
		"frame_size", s.cfg.FrameSize,
	)

	return nil
}

// onData runs on the miniaudio thread.
func (s *MalgoSource) onData(_, input []byte, frameCount uint32) {
	fnp := s.fn.Load()
	if fnp == nil {
		return
	}

	n := min(len(input), int(frameCount)*captureSampleSize*s.cfg.Channels)
	samples := bytesToFloat32(input[:n])
	s.samplesCaptured.Add(int64(len(samples)))

	for _, frame := range s.framer.push(samples) {
		(*fnp)(Frame{Samples: frame, SampleRate: s.rate})
		s.framesDelivered.Add(1)
	}
}

// Start begins delivering frames to fn.
func (s *MalgoSource) Start(fn FrameFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.device == nil {
		return ErrNotOpen
	}
	if s.running {
		return nil
	}

	s.framer.reset()
	s.fn.Store(&fn)
	if err := s.device.Start(); err != nil {
		s.fn.Store(nil)
		return fmt.Errorf("start capture device: %w", err)
	}
	s.running = true

	s.logger.Info("capture started", "backend", "malgo")
	return nil
}

// Stop halts frame delivery but keeps the device initialised.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.fn.Store(nil)
	s.running = false
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}

	s.logger.Info("capture stopped", "backend", "malgo")
	return nil
}

// SampleRate returns the rate negotiated with the device.
func (s *MalgoSource) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Name returns "malgo".
func (s *MalgoSource) Name() string {
	return string(BackendMalgo)
}

// Close releases the device and the miniaudio context.
func (s *MalgoSource) Close() error {
	if err := s.Stop(); err != nil {
		s.logger.Warn("stop before close failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		err := s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
		if err != nil {
			return fmt.Errorf("free audio context: %w", err)
		}
	}

	s.logger.Info("capture device released", "backend", "malgo")
	return nil
}

// Stats returns source statistics.
func (s *MalgoSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		FramesDelivered: s.framesDelivered.Load(),
		SamplesCaptured: s.samplesCaptured.Load(),
		Running:         running,
		Backend:         string(BackendMalgo),
	}
}

var _ SourceWithStats = (*MalgoSource)(nil)

// parseDeviceID decodes the hex form printed by ListDevices.
func parseDeviceID(s string) (malgo.DeviceID, error) {
	var id malgo.DeviceID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid device id %q: %w", s, err)
	}
	if len(raw) > len(id) {
		return id, fmt.Errorf("invalid device id %q: too long", s)
	}
	copy(id[:], raw)
	return id, nil
}

// ListDevices lists the available capture devices.
func ListDevices(logger *slog.Logger) ([]Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}

	res := make([]Device, 0, len(infos))
	for _, info := range infos {
		full, err := mctx.DeviceInfo(malgo.Capture, info.ID, malgo.Shared)
		if err != nil {
			logger.Warn("unable to get capture device info", "error", err)
			continue
		}
		id := full.ID
		res = append(res, Device{
			ID:        hex.EncodeToString(trimDeviceID(id[:])),
			Name:      full.Name(),
			IsDefault: full.IsDefault == 1,
		})
	}
	return res, nil
}

// trimDeviceID drops the zero padding miniaudio leaves after the id.
func trimDeviceID(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}
