//go:build !cgo || noaudio

// This backend is only used in cgo-less and noaudio builds.

package audioio

import (
	"log/slog"
)

const malgoAvailable = false

// newMalgoSource reports that capture support was compiled out.
func newMalgoSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, ErrNoCaptureSupport
}

// ListDevices reports that capture support was compiled out.
func ListDevices(logger *slog.Logger) ([]Device, error) {
	return nil, ErrNoCaptureSupport
}
