// Package capture implements the front/back document capture workflow.
//
// A Machine owns one Session at a time and serializes every transition
// behind a mutex. Opening the frame source and submitting the captures are
// the only blocking steps; they run without the lock and are discarded when
// a reset or device switch happened in the meantime.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/idcap/internal/auth"
	"github.com/MeKo-Tech/idcap/internal/doctype"
	"github.com/MeKo-Tech/idcap/internal/frame"
	"github.com/MeKo-Tech/idcap/internal/geometry"
	"github.com/MeKo-Tech/idcap/internal/glare"
	"github.com/MeKo-Tech/idcap/internal/messages"
	"github.com/MeKo-Tech/idcap/internal/orientation"
	"github.com/MeKo-Tech/idcap/internal/readiness"
	"github.com/MeKo-Tech/idcap/internal/source"
	"github.com/MeKo-Tech/idcap/internal/submit"
)

// ErrSuperseded is returned by a blocking operation whose result was
// discarded because the session was reset or the device switched meanwhile.
var ErrSuperseded = errors.New("capture: superseded by a newer session")

// ErrNoSubmitter is returned by Submit when no submission endpoint is wired.
var ErrNoSubmitter = errors.New("capture: no submission endpoint configured")

// Submitter sends the accepted sides for processing.
type Submitter interface {
	Submit(ctx context.Context, token string, uploads []submit.Upload) error
}

// Config holds the tunables of a Machine.
type Config struct {
	Glare     glare.Config
	Readiness readiness.Config
	Viewport  orientation.Viewport
	Source    source.Config
	DocType   string
}

// DefaultConfig returns the standard glare preset, the default delays, a
// landscape 1280x720 viewport and a rear-facing 1080p source.
func DefaultConfig() Config {
	return Config{
		Glare:     glare.DefaultConfig(),
		Readiness: readiness.DefaultConfig(),
		Viewport:  orientation.Viewport{Width: 1280, Height: 720},
		Source:    source.DefaultConfig(),
		DocType:   doctype.Default,
	}
}

// Option customizes a Machine.
type Option func(*Machine)

// WithClock replaces the clock driving the readiness timer.
func WithClock(c readiness.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// WithSubmitter wires the submission endpoint.
func WithSubmitter(s Submitter) Option {
	return func(m *Machine) { m.submitter = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithNow replaces the wall clock used for transition timestamps.
func WithNow(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine drives one capture workflow.
type Machine struct {
	mu sync.Mutex

	cfg       Config
	src       source.Source
	submitter Submitter
	clock     readiness.Clock
	now       func() time.Time
	log       *slog.Logger
	observers []Observer

	session *Session
	seq     uint64
	// epoch advances on reset and device switch; blocking operations compare
	// it before applying their result.
	epoch     uint64
	acquiring bool
	stream    source.Stream
	timer     *readiness.Timer
	guard     *orientation.Guard

	notice    string
	detail    string
	errorKind string
}

// New creates a Machine in INIT reading frames from src.
func New(cfg Config, src source.Source, opts ...Option) *Machine {
	if cfg.DocType == "" {
		cfg.DocType = doctype.Default
	}
	m := &Machine{
		cfg:   cfg,
		src:   src,
		clock: readiness.SystemClock{},
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "capture")
	m.guard = orientation.NewGuard(cfg.Viewport)
	m.timer = readiness.New(cfg.Readiness, m.clock, m.locked, m.readinessChanged)
	m.session = newSession(cfg.DocType)
	m.notice = messages.SelectDocType
	return m
}

func (m *Machine) locked(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f()
}

func (m *Machine) readinessChanged(p readiness.Phase) {
	m.log.Debug("readiness changed", "phase", p.String(), "state", m.session.State.String())
	m.notify(nil)
}

// Start opens the frame source and enters AWAITING_FRONT. It blocks until
// the source answers. Calling Start outside INIT or while a source is being
// opened does nothing.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.session.State != Init || m.acquiring {
		m.mu.Unlock()
		return nil
	}
	m.acquiring = true
	m.setNotice(messages.RequestingCamera, "")
	m.notify(nil)
	epoch, cfg := m.epoch, m.cfg.Source
	m.mu.Unlock()

	return m.acquire(ctx, epoch, cfg, "start")
}

// SelectDevice stops the current stream, opens deviceID and starts a fresh
// session in AWAITING_FRONT. On failure the machine is reset to INIT.
func (m *Machine) SelectDevice(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	old := m.detachStream()
	m.epoch++
	m.acquiring = true
	m.errorKind = ""
	m.cfg.Source.DeviceID = deviceID
	t := m.replaceSession("select_device")
	m.setNotice(messages.RequestingCamera, "")
	m.notify(t)
	epoch, cfg := m.epoch, m.cfg.Source
	m.mu.Unlock()

	stopStream(old, m.log)
	return m.acquire(ctx, epoch, cfg, "select_device")
}

func (m *Machine) acquire(ctx context.Context, epoch uint64, cfg source.Config, trigger string) error {
	stream, err := m.src.Open(ctx, cfg)

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		stopStream(stream, m.log)
		return ErrSuperseded
	}
	defer m.mu.Unlock()
	m.acquiring = false

	if err == nil && stream == nil {
		err = errors.New("source returned no stream")
	}
	if err != nil {
		var se *source.Error
		if !errors.As(err, &se) {
			err = &source.Error{Kind: source.KindUnknown, Err: err}
		}
		kind := source.KindOf(err)
		m.log.Warn("frame source unavailable", "error", err, "kind", kind.String())
		m.errorKind = kind.String()
		if errors.Is(err, source.ErrNoCameraBackend) {
			m.setNotice(messages.CameraUnavailable, err.Error())
		} else {
			m.setNotice(messages.CameraError, err.Error())
		}
		m.notify(nil)
		return err
	}

	m.stream = stream
	m.errorKind = ""
	m.transition(AwaitingFront, trigger)
	return nil
}

// Capture crops the current frame to the overlay guide, analyzes it for glare
// and stores it for the side being captured. It reports false and changes
// nothing when no capture is allowed or no frame is available.
func (m *Machine) Capture(o geometry.Overlay) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	if !m.captureEnabled() || m.stream == nil {
		return false
	}
	img, ok := m.stream.Frame()
	if !ok || img == nil {
		return false
	}
	b := img.Bounds()
	crop, err := geometry.CropFor(o, b.Dx(), b.Dy())
	if err != nil {
		m.log.Debug("frame not ready for capture", "error", err)
		return false
	}
	buf, err := geometry.Extract(img, crop)
	if err != nil {
		m.log.Debug("frame not ready for capture", "error", err)
		return false
	}

	report := glare.Analyze(buf, m.cfg.Glare)
	m.timer.Cancel()
	s.Report = &report
	next := FrontCaptured
	if s.Side == Back {
		s.Back = buf
		next = BackCaptured
	} else {
		s.Front = buf
	}
	if report.Flagged {
		m.setNotice(messages.Glare, "")
	} else {
		m.setNotice(messages.CheckQuality, "")
	}
	m.log.Info("side captured", "side", s.Side.String(), "size", buf.String(),
		"glare_percent", report.Percentage, "flagged", report.Flagged)
	m.transition(next, "capture")
	return true
}

// Accept confirms the pending capture.
func (m *Machine) Accept() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.session.State {
	case FrontCaptured:
		m.session.Side = Back
		m.session.Report = nil
		m.transition(AwaitingBack, "accept")
	case BackCaptured:
		m.session.Report = nil
		m.setNotice(messages.ReadyToSend, "")
		m.transition(AllCaptured, "accept")
	default:
		return false
	}
	return true
}

// Retry discards the pending capture and waits for the same side again.
func (m *Machine) Retry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.session.State {
	case FrontCaptured:
		m.session.Front = nil
		m.session.Report = nil
		m.transition(AwaitingFront, "retry")
	case BackCaptured:
		m.session.Back = nil
		m.session.Report = nil
		m.transition(AwaitingBack, "retry")
	default:
		return false
	}
	return true
}

// Submit sends both sides with the token from tokens. It is a no-op outside
// ALL_CAPTURED. Without a token the state is unchanged and the returned error
// wraps auth.ErrNoToken. A failed submission returns to ALL_CAPTURED.
func (m *Machine) Submit(ctx context.Context, tokens auth.TokenSource) error {
	if m.State() != AllCaptured {
		return nil
	}
	token, err := m.token(ctx, tokens)
	if err != nil {
		m.mu.Lock()
		if m.session.State == AllCaptured {
			m.setNotice(messages.NoToken, "")
			m.notify(nil)
		}
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	if m.session.State != AllCaptured {
		m.mu.Unlock()
		return nil
	}
	if m.submitter == nil {
		m.setNotice(messages.SubmitFailed, ErrNoSubmitter.Error())
		m.notify(nil)
		m.mu.Unlock()
		return ErrNoSubmitter
	}
	s := m.session
	uploads := []submit.Upload{
		{Name: submit.FileName(s.DocType, false), Image: s.Front},
		{Name: submit.FileName(s.DocType, true), Image: s.Back},
	}
	epoch := m.epoch
	m.setNotice(messages.Sending, "")
	m.transition(Sending, "submit")
	m.mu.Unlock()

	err = m.submitter.Submit(ctx, token, uploads)

	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return ErrSuperseded
	}
	if err != nil {
		m.log.Warn("submission failed", "error", err)
		m.setNotice(messages.SubmitFailed, err.Error())
		m.transition(AllCaptured, "submit_failed")
		return fmt.Errorf("submit: %w", err)
	}
	m.setNotice(messages.Complete, "")
	m.transition(ProcessComplete, "submitted")
	return nil
}

func (m *Machine) token(ctx context.Context, tokens auth.TokenSource) (string, error) {
	if tokens == nil {
		return "", auth.ErrNoToken
	}
	token, err := tokens.Token(ctx)
	switch {
	case err == nil && token == "":
		return "", auth.ErrNoToken
	case err == nil:
		return token, nil
	case errors.Is(err, auth.ErrNoToken):
		return "", err
	default:
		return "", fmt.Errorf("%w: %w", auth.ErrNoToken, err)
	}
}

// Reset discards the session and releases the frame source. Any blocking
// operation still in flight is superseded.
func (m *Machine) Reset() {
	m.mu.Lock()
	old := m.detachStream()
	m.epoch++
	m.acquiring = false
	m.errorKind = ""
	t := m.replaceSession("reset")
	m.setNotice(messages.SelectDocType, "")
	m.notify(t)
	m.mu.Unlock()

	stopStream(old, m.log)
}

// Close releases the frame source. The machine stays usable.
func (m *Machine) Close() {
	m.Reset()
}

// SetDocType sets the document type used for guides and upload names.
func (m *Machine) SetDocType(id string) error {
	if !doctype.Valid(id) {
		return &doctype.UnknownError{ID: id}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.DocType = id
	m.session.DocType = id
	m.notify(nil)
	return nil
}

// SetViewport records a resize or orientation change.
func (m *Machine) SetViewport(v orientation.Viewport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guard.Update(v) {
		m.log.Debug("orientation changed", "viewport", v.String(), "landscape", v.Landscape())
	}
	m.notify(nil)
}

// Advance steps a still-image stream to its next frame. It reports false when
// the current stream cannot advance.
func (m *Machine) Advance() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	adv, ok := m.stream.(source.Advancer)
	if !ok {
		return false
	}
	adv.Next()
	return true
}

// FrameSize returns the native size of the current frame. It reports false
// when no stream is open or no frame has arrived yet.
func (m *Machine) FrameSize() (image.Point, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return image.Point{}, false
	}
	img, ok := m.stream.Frame()
	if !ok || img == nil {
		return image.Point{}, false
	}
	return img.Bounds().Size(), true
}

// ResolveOverlay fills in what a caller left out: a missing video box is
// taken to be the native frame shown at 1:1, and a missing guide is the
// document type's default guide.
func (m *Machine) ResolveOverlay(o geometry.Overlay) geometry.Overlay {
	if !o.Video.Valid() {
		size, ok := m.FrameSize()
		if !ok {
			return o
		}
		o.Video = geometry.Rect{Width: float64(size.X), Height: float64(size.Y)}
	}
	if !o.Guide.Valid() {
		if d, err := doctype.Overlay(m.DocType(), o.Video); err == nil {
			return d
		}
	}
	return o
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State
}

// Buffer returns the stored buffer for side, or nil.
func (m *Machine) Buffer(side Side) *frame.Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.buffer(side)
}

// DocType returns the current document type.
func (m *Machine) DocType() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.DocType
}

// History returns a copy of the current session's transitions.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.session.History...)
}

// Snapshot returns the current view of the machine.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Machine) snapshot() Snapshot {
	s := m.session
	snap := Snapshot{
		State:          s.State,
		Side:           s.Side,
		DocType:        s.DocType,
		Readiness:      m.timer.Phase(),
		Viewport:       m.guard.Viewport(),
		Landscape:      m.guard.Landscape(),
		CaptureEnabled: m.captureEnabled(),
		HasFront:       s.Front != nil,
		HasBack:        s.Back != nil,
		Notice:         m.notice,
		NoticeDetail:   m.detail,
		ErrorKind:      m.errorKind,
		Acquiring:      m.acquiring,
		Streaming:      m.stream != nil,
		Transitions:    len(s.History),
	}
	if s.Report != nil {
		r := *s.Report
		snap.Report = &r
	}
	if s.State.Waiting() && m.guard.NeedsRotation() {
		snap.Notice = messages.Rotate
		snap.NoticeDetail = ""
	}
	return snap
}

func (m *Machine) captureEnabled() bool {
	return m.guard.Allows(m.session.State.Waiting(), m.timer.Ready())
}

// transition moves the session to next. Callers hold the lock.
func (m *Machine) transition(next State, trigger string) {
	s := m.session
	m.seq++
	t := Transition{Seq: m.seq, From: s.State, To: next, Trigger: trigger, At: m.now()}
	s.State = next
	s.History = append(s.History, t)

	if next.Waiting() {
		if next == AwaitingFront {
			s.Side = Front
			m.setNotice(messages.CenterFront, "")
		} else {
			s.Side = Back
			m.setNotice(messages.CenterBack, "")
		}
		m.timer.Arm()
	}
	m.log.Debug("state transition", "from", t.From.String(), "to", t.To.String(), "trigger", trigger)
	m.notify(&t)
}

// replaceSession starts a fresh session in INIT and returns the transition
// that ended the previous one, or nil when it was still in INIT. Callers
// hold the lock and notify observers.
func (m *Machine) replaceSession(trigger string) *Transition {
	prev := m.session
	m.timer.Cancel()
	m.session = newSession(m.cfg.DocType)
	if prev.State == Init {
		return nil
	}
	m.seq++
	t := Transition{Seq: m.seq, From: prev.State, To: Init, Trigger: trigger, At: m.now()}
	m.session.History = append(m.session.History, t)
	m.log.Debug("state transition", "from", t.From.String(), "to", t.To.String(), "trigger", trigger)
	return &t
}

func (m *Machine) detachStream() source.Stream {
	st := m.stream
	m.stream = nil
	return st
}

func (m *Machine) setNotice(key, detail string) {
	m.notice = key
	m.detail = detail
}

func (m *Machine) notify(t *Transition) {
	if len(m.observers) == 0 {
		return
	}
	e := Event{Transition: t, Snapshot: m.snapshot()}
	for _, o := range m.observers {
		o.OnEvent(e)
	}
}

func stopStream(st source.Stream, log *slog.Logger) {
	if st == nil {
		return
	}
	if err := st.Stop(); err != nil {
		log.Warn("failed to stop frame stream", "error", err)
	}
}
