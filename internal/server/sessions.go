package server

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/idcap/internal/auth"
	"github.com/MeKo-Tech/idcap/internal/capture"
	"github.com/MeKo-Tech/idcap/internal/source"
	"github.com/google/uuid"
)

// eventBuffer is the number of events a slow websocket may fall behind
// before events are dropped for it.
const eventBuffer = 16

// session is one capture workflow driven over HTTP.
type session struct {
	id      string
	machine *capture.Machine
	push    *source.PushSource
	tokens  *auth.Store
	hub     *hub

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *session) close() {
	s.machine.Close()
	s.hub.close()
}

// hub fans machine events out to websocket subscribers. It runs under the
// machine's lock, so sends never block.
type hub struct {
	mu     sync.Mutex
	subs   map[chan capture.Event]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan capture.Event]struct{})}
}

func (h *hub) OnEvent(e capture.Event) {
	recordEvent(e)

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			websocketEventsDropped.Inc()
		}
	}
}

// subscribe returns a channel of future events and a function that ends the
// subscription. The channel is closed when the session ends.
func (h *hub) subscribe() (<-chan capture.Event, func()) {
	ch := make(chan capture.Event, eventBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// sessionStore indexes live sessions and expires idle ones.
type sessionStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	byID map[string]*session
}

func newSessionStore(ttl time.Duration, now func() time.Time) *sessionStore {
	return &sessionStore{ttl: ttl, now: now, byID: make(map[string]*session)}
}

func (st *sessionStore) add(s *session) {
	s.touch(st.now())
	st.mu.Lock()
	st.byID[s.id] = s
	n := len(st.byID)
	st.mu.Unlock()
	sessionsActive.Set(float64(n))
}

// get returns the session and marks it as used.
func (st *sessionStore) get(id string) (*session, bool) {
	st.mu.Lock()
	s, ok := st.byID[id]
	st.mu.Unlock()
	if ok {
		s.touch(st.now())
	}
	return s, ok
}

func (st *sessionStore) remove(id string) (*session, bool) {
	st.mu.Lock()
	s, ok := st.byID[id]
	delete(st.byID, id)
	n := len(st.byID)
	st.mu.Unlock()
	sessionsActive.Set(float64(n))
	return s, ok
}

// expired removes and returns the sessions idle for longer than the TTL.
func (st *sessionStore) expired() []*session {
	cutoff := st.now().Add(-st.ttl)
	st.mu.Lock()
	var out []*session
	for id, s := range st.byID {
		if s.idleSince().Before(cutoff) {
			out = append(out, s)
			delete(st.byID, id)
		}
	}
	n := len(st.byID)
	st.mu.Unlock()
	sessionsActive.Set(float64(n))
	return out
}

func (st *sessionStore) drain() []*session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*session, 0, len(st.byID))
	for id, s := range st.byID {
		out = append(out, s)
		delete(st.byID, id)
	}
	return out
}

func (st *sessionStore) len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.byID)
}

// newSession builds a machine over a fresh frame source.
func (s *Server) newSession(req CreateSessionRequest) (*session, error) {
	src, push, err := s.sources()
	if err != nil {
		return nil, err
	}
	cfg := s.capture
	if push != nil {
		cfg.Source.DeviceID = source.PushDeviceID
	}
	if req.DocType != "" {
		cfg.DocType = req.DocType
	}
	if req.Viewport != nil {
		cfg.Viewport = *req.Viewport
	}

	id := uuid.NewString()
	h := newHub()
	opts := []capture.Option{
		capture.WithObserver(h),
		capture.WithLogger(s.log.With("session", id)),
	}
	if s.submitter != nil {
		opts = append(opts, capture.WithSubmitter(s.submitter))
	}
	if s.clock != nil {
		opts = append(opts, capture.WithClock(s.clock))
	}
	sess := &session{
		id:      id,
		machine: capture.New(cfg, src, opts...),
		push:    push,
		tokens:  &auth.Store{},
		hub:     h,
	}
	s.sessions.add(sess)
	s.log.Info("session created", "session", id, "doc_type", cfg.DocType)
	return sess, nil
}

// ExpireSessions closes sessions idle for longer than the TTL and returns
// how many were closed. Abandoned logins are dropped as well.
func (s *Server) ExpireSessions() int {
	if n := s.logins.sweep(); n > 0 {
		s.log.Debug("abandoned logins dropped", "count", n)
	}
	expired := s.sessions.expired()
	for _, sess := range expired {
		s.log.Info("session expired", "session", sess.id)
		sess.close()
	}
	return len(expired)
}

// RunJanitor expires idle sessions every interval until ctx is done.
func (s *Server) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExpireSessions()
		}
	}
}
