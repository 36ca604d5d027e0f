// Package source defines the frame source collaborator of the capture
// workflow and provides still-image, remote-push and local camera backends.
package source

import (
	"context"
	"image"
	"strings"
)

// Facing modes requested when no explicit device is selected.
const (
	FacingEnvironment = "environment"
	FacingUser        = "user"
)

// Config describes the stream to open.
type Config struct {
	// DeviceID selects an exact device; empty lets the backend pick one
	// according to FacingMode.
	DeviceID string
	// Width and Height are the ideal native resolution.
	Width  int
	Height int
	// FacingMode is used only when DeviceID is empty.
	FacingMode string
}

// DefaultConfig asks for a 1920x1080 rear-facing stream.
func DefaultConfig() Config {
	return Config{Width: 1920, Height: 1080, FacingMode: FacingEnvironment}
}

// Device is a selectable frame source.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Stream is an open frame source.
type Stream interface {
	// Frame returns the most recent frame, or false when the stream has not
	// produced one yet.
	Frame() (image.Image, bool)
	// Stop releases the stream. Stop is idempotent.
	Stop() error
}

// Source opens streams and lists devices.
type Source interface {
	Open(ctx context.Context, cfg Config) (Stream, error)
	Devices(ctx context.Context) ([]Device, error)
}

// PreferredDevice picks the rear camera when one is recognizable by its label
// and falls back to the first device.
func PreferredDevice(devices []Device) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}
	for _, d := range devices {
		label := strings.ToLower(d.Label)
		if strings.Contains(label, "back") || strings.Contains(label, "trasera") {
			return d, true
		}
	}
	return devices[0], true
}
