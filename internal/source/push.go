package source

import (
	"context"
	"image"
	"sync"
)

// PushDeviceID identifies the single device exposed by a PushSource.
const PushDeviceID = "remote"

// PushSource receives frames from a remote client, for example a browser
// streaming its camera over a websocket. A stream opened on it has no frame
// until the first Push.
type PushSource struct {
	mu     sync.Mutex
	label  string
	active *pushStream
}

// NewPushSource creates an idle push source.
func NewPushSource(label string) *PushSource {
	if label == "" {
		label = "Remote camera"
	}
	return &PushSource{label: label}
}

// Devices lists the remote device.
func (s *PushSource) Devices(_ context.Context) ([]Device, error) {
	return []Device{{ID: PushDeviceID, Label: s.label}}, nil
}

// Open starts accepting frames. Opening again stops the previous stream
// first, so at most one stream is live.
func (s *PushSource) Open(ctx context.Context, cfg Config) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap(KindUnknown, err)
	}
	if cfg.DeviceID != "" && cfg.DeviceID != PushDeviceID {
		return nil, Errorf(KindNotFound, "unknown device %q", cfg.DeviceID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.stop()
	}
	s.active = &pushStream{owner: s}
	return s.active, nil
}

// Push delivers a frame to the open stream. It reports false when no stream
// is open, in which case the frame is dropped.
func (s *PushSource) Push(img image.Image) bool {
	s.mu.Lock()
	st := s.active
	s.mu.Unlock()
	if st == nil || img == nil {
		return false
	}
	return st.set(img)
}

// Active reports whether a stream is open.
func (s *PushSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

type pushStream struct {
	owner   *PushSource
	mu      sync.Mutex
	latest  image.Image
	stopped bool
}

func (p *pushStream) set(img image.Image) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.latest = img
	return true
}

func (p *pushStream) Frame() (image.Image, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.latest == nil {
		return nil, false
	}
	return p.latest, true
}

func (p *pushStream) stop() {
	p.mu.Lock()
	p.stopped = true
	p.latest = nil
	p.mu.Unlock()
}

func (p *pushStream) Stop() error {
	p.stop()
	p.owner.mu.Lock()
	if p.owner.active == p {
		p.owner.active = nil
	}
	p.owner.mu.Unlock()
	return nil
}
