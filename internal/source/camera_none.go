//go:build !camera_gocv

package source

import "context"

// CameraAvailable reports whether a camera backend is linked.
const CameraAvailable = false

type noCamera struct{}

// NewCameraSource returns a source that reports no devices.
func NewCameraSource() (Source, error) { return noCamera{}, nil }

func (noCamera) Devices(_ context.Context) ([]Device, error) { return nil, nil }

func (noCamera) Open(_ context.Context, _ Config) (Stream, error) {
	return nil, &Error{Kind: KindNotFound, Err: ErrNoCameraBackend}
}
