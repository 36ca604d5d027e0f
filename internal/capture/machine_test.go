package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idcap/internal/auth"
	"github.com/MeKo-Tech/idcap/internal/doctype"
	"github.com/MeKo-Tech/idcap/internal/geometry"
	"github.com/MeKo-Tech/idcap/internal/messages"
	"github.com/MeKo-Tech/idcap/internal/orientation"
	"github.com/MeKo-Tech/idcap/internal/readiness"
	"github.com/MeKo-Tech/idcap/internal/source"
	"github.com/MeKo-Tech/idcap/internal/submit"
)

const settle = 2600 * time.Millisecond

// overlay maps a 200x100 display box onto the 400x200 test frame, with the
// guide covering the central half.
var overlay = geometry.Overlay{
	Guide: geometry.Rect{Left: 50, Top: 25, Width: 100, Height: 50},
	Video: geometry.Rect{Left: 0, Top: 0, Width: 200, Height: 100},
}

type stubStream struct {
	mu      sync.Mutex
	img     image.Image
	stopped bool
}

func (s *stubStream) Frame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img, s.img != nil && !s.stopped
}

func (s *stubStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *stubStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type stubSource struct {
	mu      sync.Mutex
	img     image.Image
	err     error
	gate    chan struct{}
	opened  []*stubStream
	configs []source.Config
}

func (s *stubSource) Open(ctx context.Context, cfg source.Config) (source.Stream, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, cfg)
	if s.err != nil {
		return nil, s.err
	}
	st := &stubStream{img: s.img}
	s.opened = append(s.opened, st)
	return st, nil
}

func (s *stubSource) Devices(context.Context) ([]source.Device, error) {
	return []source.Device{{ID: "cam0", Label: "Back camera"}}, nil
}

func (s *stubSource) last() *stubStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.opened) == 0 {
		return nil
	}
	return s.opened[len(s.opened)-1]
}

type fakeSubmitter struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	token   string
	uploads []submit.Upload
}

func (f *fakeSubmitter) Submit(ctx context.Context, token string, uploads []submit.Upload) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	f.uploads = uploads
	return f.err
}

type harness struct {
	m     *Machine
	clock *readiness.FakeClock
	src   *stubSource
	sub   *fakeSubmitter

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, img image.Image) *harness {
	t.Helper()
	h := &harness{
		clock: readiness.NewFakeClock(),
		src:   &stubSource{img: img},
		sub:   &fakeSubmitter{},
	}
	h.m = New(DefaultConfig(), h.src,
		WithClock(h.clock),
		WithSubmitter(h.sub),
		WithObserver(ObserverFunc(func(e Event) {
			h.mu.Lock()
			h.events = append(h.events, e)
			h.mu.Unlock()
		})),
	)
	return h
}

func (h *harness) eventsSnapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func whiteFrame() image.Image { return imaging.New(400, 200, color.White) }

func blackFrame() image.Image { return imaging.New(400, 200, color.Black) }

// start enters AWAITING_FRONT and waits out the readiness countdown.
func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.Start(context.Background()))
	require.Equal(t, AwaitingFront, h.m.State())
	h.clock.Advance(settle)
}

// captureBoth drives the machine to ALL_CAPTURED.
func (h *harness) captureBoth(t *testing.T) {
	t.Helper()
	h.start(t)
	require.True(t, h.m.Capture(overlay))
	require.True(t, h.m.Accept())
	h.clock.Advance(settle)
	require.True(t, h.m.Capture(overlay))
	require.True(t, h.m.Accept())
	require.Equal(t, AllCaptured, h.m.State())
}

func states(history []Transition) []State {
	out := make([]State, len(history))
	for i, t := range history {
		out[i] = t.To
	}
	return out
}

func TestHappyPath(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.captureBoth(t)

	require.NoError(t, h.m.Submit(context.Background(), auth.StaticToken("jwt")))
	assert.Equal(t, ProcessComplete, h.m.State())
	assert.Equal(t, []State{AwaitingFront, FrontCaptured, AwaitingBack, BackCaptured, AllCaptured, Sending, ProcessComplete},
		states(h.m.History()))

	assert.Equal(t, "jwt", h.sub.token)
	require.Len(t, h.sub.uploads, 2)
	assert.Equal(t, "ID_ine_FRONT.png", h.sub.uploads[0].Name)
	assert.Equal(t, "ID_ine_REVERSO.png", h.sub.uploads[1].Name)
	assert.Equal(t, messages.Complete, h.m.Snapshot().Notice)

	var seq uint64
	for _, tr := range h.m.History() {
		assert.Greater(t, tr.Seq, seq)
		seq = tr.Seq
	}
}

func TestCaptureGates(t *testing.T) {
	h := newHarness(t, blackFrame())
	require.NoError(t, h.m.Start(context.Background()))

	assert.False(t, h.m.Capture(overlay), "not ready before the countdown")
	assert.Equal(t, readiness.Idle, h.m.Snapshot().Readiness)

	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, readiness.Detecting, h.m.Snapshot().Readiness)
	assert.False(t, h.m.Capture(overlay))

	h.clock.Advance(2500 * time.Millisecond)
	snap := h.m.Snapshot()
	assert.Equal(t, readiness.Ready, snap.Readiness)
	assert.True(t, snap.CaptureEnabled)

	h.m.SetViewport(orientation.Viewport{Width: 720, Height: 1280})
	snap = h.m.Snapshot()
	assert.False(t, snap.CaptureEnabled)
	assert.Equal(t, messages.Rotate, snap.Notice)
	assert.False(t, h.m.Capture(overlay), "portrait blocks capture")

	h.m.SetViewport(orientation.Viewport{Width: 1280, Height: 720})
	assert.Equal(t, messages.CenterFront, h.m.Snapshot().Notice)
	assert.True(t, h.m.Capture(overlay))
	assert.Equal(t, FrontCaptured, h.m.State())
	assert.False(t, h.m.Snapshot().CaptureEnabled, "guard is inert outside waiting states")
}

func TestCaptureWithoutFrameIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	assert.False(t, h.m.Capture(overlay))
	assert.Equal(t, AwaitingFront, h.m.State())
	assert.Nil(t, h.m.Buffer(Front))
}

func TestCaptureWithoutMetadataIsNoop(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.start(t)

	assert.False(t, h.m.Capture(geometry.Overlay{Guide: overlay.Guide}))
	assert.False(t, h.m.Capture(geometry.Overlay{Guide: geometry.Rect{Left: 10, Top: 10}, Video: overlay.Video}))
	assert.Equal(t, AwaitingFront, h.m.State())
	assert.Equal(t, readiness.Ready, h.m.Snapshot().Readiness, "failed capture keeps the countdown result")
}

func TestBufferMatchesCrop(t *testing.T) {
	src := imaging.New(400, 200, color.Black)
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			src.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	h := newHarness(t, src)
	h.start(t)
	require.True(t, h.m.Capture(overlay))

	buf := h.m.Buffer(Front)
	require.NotNil(t, buf)
	assert.Equal(t, 200, buf.Width)
	assert.Equal(t, 100, buf.Height)
	r, g, b := buf.RGB(0, 0)
	assert.Equal(t, [3]uint8{100, 50, 7}, [3]uint8{r, g, b})
	r, g, b = buf.RGB(199, 99)
	assert.Equal(t, [3]uint8{43, 149, 7}, [3]uint8{r, g, b})
	assert.Nil(t, h.m.Buffer(Back))
}

func TestGlareNotice(t *testing.T) {
	h := newHarness(t, whiteFrame())
	h.start(t)
	require.True(t, h.m.Capture(overlay))

	snap := h.m.Snapshot()
	require.NotNil(t, snap.Report)
	assert.True(t, snap.Report.Flagged)
	assert.InDelta(t, 100, snap.Report.Percentage, 1e-9)
	assert.Equal(t, messages.Glare, snap.Notice)

	require.True(t, h.m.Accept(), "glare is advisory")
	assert.Equal(t, AwaitingBack, h.m.State())
}

func TestCleanCaptureNotice(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.start(t)
	require.True(t, h.m.Capture(overlay))
	snap := h.m.Snapshot()
	require.NotNil(t, snap.Report)
	assert.False(t, snap.Report.Flagged)
	assert.Equal(t, messages.CheckQuality, snap.Notice)
}

func TestRetryDiscardsAndRearms(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.start(t)
	require.True(t, h.m.Capture(overlay))
	require.NotNil(t, h.m.Buffer(Front))

	require.True(t, h.m.Retry())
	assert.Equal(t, AwaitingFront, h.m.State())
	assert.Nil(t, h.m.Buffer(Front))
	assert.Equal(t, readiness.Idle, h.m.Snapshot().Readiness)
	assert.False(t, h.m.Capture(overlay), "countdown restarts after retry")

	h.clock.Advance(settle)
	require.True(t, h.m.Capture(overlay))
	require.True(t, h.m.Accept())
	h.clock.Advance(settle)
	require.True(t, h.m.Capture(overlay))

	require.True(t, h.m.Retry())
	assert.Equal(t, AwaitingBack, h.m.State())
	assert.NotNil(t, h.m.Buffer(Front), "front survives a back retry")
	assert.Nil(t, h.m.Buffer(Back))
}

func TestStaleCountdownNeverEnablesCapture(t *testing.T) {
	h := newHarness(t, blackFrame())
	require.NoError(t, h.m.Start(context.Background()))
	h.clock.Advance(2000 * time.Millisecond)

	h.m.Reset()
	require.NoError(t, h.m.Start(context.Background()))

	// The first countdown would have completed here.
	h.clock.Advance(700 * time.Millisecond)
	assert.NotEqual(t, readiness.Ready, h.m.Snapshot().Readiness)
	assert.False(t, h.m.Capture(overlay))

	h.clock.Advance(settle)
	assert.True(t, h.m.Capture(overlay))
}

func TestRetryDuringCountdownIsNoop(t *testing.T) {
	h := newHarness(t, blackFrame())
	require.NoError(t, h.m.Start(context.Background()))
	h.clock.Advance(2000 * time.Millisecond)
	before := len(h.m.History())

	assert.False(t, h.m.Retry())
	assert.Equal(t, AwaitingFront, h.m.State())
	assert.Len(t, h.m.History(), before)
	assert.NotEqual(t, readiness.Ready, h.m.Snapshot().Readiness)

	// The original countdown still completes on schedule.
	h.clock.Advance(700 * time.Millisecond)
	assert.Equal(t, readiness.Ready, h.m.Snapshot().Readiness)
	assert.True(t, h.m.Capture(overlay))
}

func TestSelectDeviceRestartsCountdown(t *testing.T) {
	h := newHarness(t, blackFrame())
	require.NoError(t, h.m.Start(context.Background()))
	h.clock.Advance(2000 * time.Millisecond)

	require.NoError(t, h.m.SelectDevice(context.Background(), "cam1"))
	require.Equal(t, AwaitingFront, h.m.State())

	// Past the deadline of the countdown started before the switch.
	h.clock.Advance(700 * time.Millisecond)
	assert.NotEqual(t, readiness.Ready, h.m.Snapshot().Readiness)
	assert.False(t, h.m.Capture(overlay))

	h.clock.Advance(settle)
	assert.Equal(t, readiness.Ready, h.m.Snapshot().Readiness)
	assert.True(t, h.m.Capture(overlay))
}

func TestCaptureWithOversizedGuideIsNoop(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.start(t)

	huge := []geometry.Rect{
		{Width: 1e5, Height: 1e5},
		{Width: 1e300, Height: 1e300},
		{Left: 1e300, Width: 10, Height: 10},
		{Left: -500, Top: 10, Width: 100, Height: 10},
	}
	for _, g := range huge {
		assert.False(t, h.m.Capture(geometry.Overlay{Guide: g, Video: overlay.Video}), "guide %+v", g)
	}
	assert.Equal(t, AwaitingFront, h.m.State())
	assert.Nil(t, h.m.Buffer(Front))
	assert.True(t, h.m.Capture(overlay))
}

func TestUnlistedOperationsAreNoops(t *testing.T) {
	h := newHarness(t, blackFrame())

	assert.False(t, h.m.Accept())
	assert.False(t, h.m.Retry())
	assert.False(t, h.m.Capture(overlay))
	assert.NoError(t, h.m.Submit(context.Background(), auth.StaticToken("t")))
	assert.Equal(t, Init, h.m.State())
	assert.Empty(t, h.m.History())

	h.start(t)
	assert.NoError(t, h.m.Start(context.Background()), "start outside INIT")
	assert.Len(t, h.src.opened, 1)
	assert.False(t, h.m.Accept())
	assert.False(t, h.m.Retry())
}

func TestStartFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   source.Kind
		notice string
	}{
		{"permission", source.Errorf(source.KindPermissionDenied, "denied"), source.KindPermissionDenied, messages.CameraError},
		{"busy", source.Errorf(source.KindNotReadable, "busy"), source.KindNotReadable, messages.CameraError},
		{"untagged", errors.New("boom"), source.KindUnknown, messages.CameraError},
		{"no backend", &source.Error{Kind: source.KindNotFound, Err: source.ErrNoCameraBackend}, source.KindNotFound, messages.CameraUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, blackFrame())
			h.src.err = tt.err

			err := h.m.Start(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.kind, source.KindOf(err))

			snap := h.m.Snapshot()
			assert.Equal(t, Init, snap.State)
			assert.Equal(t, tt.kind.String(), snap.ErrorKind)
			assert.Equal(t, tt.notice, snap.Notice)
			assert.False(t, snap.Acquiring)
		})
	}
}

func TestResetSupersedesAcquisition(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.src.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.m.Start(context.Background()) }()
	require.Eventually(t, func() bool { return h.m.Snapshot().Acquiring }, time.Second, time.Millisecond)

	h.m.Reset()
	close(h.src.gate)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, Init, h.m.State())
	require.NotNil(t, h.src.last())
	assert.True(t, h.src.last().isStopped(), "late stream is released")
	assert.False(t, h.m.Snapshot().Streaming)
}

func TestResetReleasesStream(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.start(t)
	require.True(t, h.m.Capture(overlay))
	st := h.src.last()

	h.m.Reset()
	snap := h.m.Snapshot()
	assert.Equal(t, Init, snap.State)
	assert.False(t, snap.HasFront)
	assert.True(t, st.isStopped())
	assert.Equal(t, messages.SelectDocType, snap.Notice)

	history := h.m.History()
	require.Len(t, history, 1)
	assert.Equal(t, FrontCaptured, history[0].From)
	assert.Equal(t, "reset", history[0].Trigger)
}

func TestSelectDevice(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.start(t)
	require.True(t, h.m.Capture(overlay))
	first := h.src.last()

	require.NoError(t, h.m.SelectDevice(context.Background(), "cam1"))
	assert.True(t, first.isStopped())
	assert.Equal(t, AwaitingFront, h.m.State())
	assert.Nil(t, h.m.Buffer(Front))
	assert.Equal(t, "cam1", h.src.configs[len(h.src.configs)-1].DeviceID)
	assert.NotSame(t, first, h.src.last())

	h.src.err = source.Errorf(source.KindNotFound, "gone")
	err := h.m.SelectDevice(context.Background(), "cam2")
	assert.Equal(t, source.KindNotFound, source.KindOf(err))
	snap := h.m.Snapshot()
	assert.Equal(t, Init, snap.State)
	assert.Equal(t, "not_found", snap.ErrorKind)
	assert.False(t, snap.Streaming)
}

func TestSubmitWithoutToken(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.captureBoth(t)

	err := h.m.Submit(context.Background(), auth.StaticToken(""))
	assert.ErrorIs(t, err, auth.ErrNoToken)
	assert.Equal(t, AllCaptured, h.m.State())
	assert.Equal(t, messages.NoToken, h.m.Snapshot().Notice)
	assert.Nil(t, h.sub.uploads)

	err = h.m.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, auth.ErrNoToken)
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) { return "", errors.New("expired") }

func TestSubmitTokenErrorIsWrapped(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.captureBoth(t)

	err := h.m.Submit(context.Background(), failingTokens{})
	assert.ErrorIs(t, err, auth.ErrNoToken)
	assert.Contains(t, err.Error(), "expired")
	assert.Equal(t, AllCaptured, h.m.State())
}

func TestSubmitFailureReturnsToAllCaptured(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.captureBoth(t)
	h.sub.err = &submit.HTTPError{Status: 500, Body: "down"}

	err := h.m.Submit(context.Background(), auth.StaticToken("jwt"))
	var httpErr *submit.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.Status)

	snap := h.m.Snapshot()
	assert.Equal(t, AllCaptured, snap.State)
	assert.Equal(t, messages.SubmitFailed, snap.Notice)
	assert.True(t, snap.HasFront)
	assert.True(t, snap.HasBack)

	h.sub.err = nil
	require.NoError(t, h.m.Submit(context.Background(), auth.StaticToken("jwt")))
	assert.Equal(t, ProcessComplete, h.m.State())
}

func TestSubmitWithoutSubmitter(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.m.submitter = nil
	h.captureBoth(t)

	err := h.m.Submit(context.Background(), auth.StaticToken("jwt"))
	assert.ErrorIs(t, err, ErrNoSubmitter)
	assert.Equal(t, AllCaptured, h.m.State())
}

func TestResetSupersedesSubmission(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.captureBoth(t)
	h.sub.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.m.Submit(context.Background(), auth.StaticToken("jwt")) }()
	require.Eventually(t, func() bool { return h.m.State() == Sending }, time.Second, time.Millisecond)

	h.m.Reset()
	close(h.sub.gate)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, Init, h.m.State())
}

func TestSetDocType(t *testing.T) {
	h := newHarness(t, blackFrame())
	assert.Error(t, h.m.SetDocType("visa"))
	require.NoError(t, h.m.SetDocType("passport"))
	h.captureBoth(t)
	require.NoError(t, h.m.Submit(context.Background(), auth.StaticToken("jwt")))
	assert.Equal(t, "ID_passport_FRONT.png", h.sub.uploads[0].Name)

	h.m.Reset()
	assert.Equal(t, "passport", h.m.DocType(), "doc type survives reset")
}

func TestObserversSeeConsistentSnapshots(t *testing.T) {
	h := newHarness(t, blackFrame())
	h.captureBoth(t)
	require.NoError(t, h.m.Submit(context.Background(), auth.StaticToken("jwt")))
	h.m.Reset()

	events := h.eventsSnapshot()
	require.NotEmpty(t, events)
	transitions := 0
	for _, e := range events {
		s := e.Snapshot
		assert.Equal(t, s.State.HasFront(), s.HasFront, "state %s", s.State)
		assert.Equal(t, s.State.HasBack(), s.HasBack, "state %s", s.State)
		if e.Transition != nil {
			transitions++
			assert.Equal(t, e.Transition.To, s.State)
		}
	}
	assert.Equal(t, 8, transitions)
}

func TestParseNames(t *testing.T) {
	for s := Init; s <= ProcessComplete; s++ {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseState("DONE")
	assert.Error(t, err)

	side, err := ParseSide("back")
	require.NoError(t, err)
	assert.Equal(t, Back, side)
	_, err = ParseSide("top")
	assert.Error(t, err)
}

func TestResolveOverlay(t *testing.T) {
	h := newHarness(t, blackFrame())
	assert.Equal(t, geometry.Overlay{}, h.m.ResolveOverlay(geometry.Overlay{}), "no frame yet")

	h.start(t)
	assert.Equal(t, overlay, h.m.ResolveOverlay(overlay))

	got := h.m.ResolveOverlay(geometry.Overlay{})
	video := geometry.Rect{Width: 400, Height: 200}
	want, err := doctype.Overlay(doctype.INE, video)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, video, got.Video)

	require.True(t, h.m.Capture(got))
	assert.Equal(t, FrontCaptured, h.m.State())
}
