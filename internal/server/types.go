package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/idcap/internal/auth"
	"github.com/MeKo-Tech/idcap/internal/capture"
	"github.com/MeKo-Tech/idcap/internal/doctype"
	"github.com/MeKo-Tech/idcap/internal/orientation"
	"github.com/MeKo-Tech/idcap/internal/readiness"
	"github.com/MeKo-Tech/idcap/internal/source"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SourceFactory builds the frame source for a new session. The returned
// PushSource is nil when the session reads frames from somewhere else.
type SourceFactory func() (source.Source, *source.PushSource, error)

// PushSources gives every session its own websocket-fed source.
func PushSources() (source.Source, *source.PushSource, error) {
	p := source.NewPushSource("")
	return p, p, nil
}

// DirSources gives every session a still-image source over dir.
func DirSources(dir string) SourceFactory {
	return func() (source.Source, *source.PushSource, error) {
		s, err := source.NewDirSource(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	language    string

	capture   capture.Config
	sources   SourceFactory
	submitter capture.Submitter
	token     auth.TokenSource
	cognito   *auth.Cognito
	clock     readiness.Clock

	sessions    *sessionStore
	logins      *loginStates
	rateLimiter *RateLimiter
	now         func() time.Time
	log         *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	// Language is used when a request carries no Accept-Language header.
	Language   string
	SessionTTL time.Duration

	Capture capture.Config
	// Sources defaults to PushSources.
	Sources   SourceFactory
	Submitter capture.Submitter
	// Clock drives the readiness countdown of every session.
	Clock readiness.Clock
	// Token is used for submissions when neither the request nor the
	// session carries one.
	Token     string
	Auth      auth.Config
	RateLimit RateLimitConfig
}

// RateLimitConfig holds per-client limits for session creation and submission.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Time     string `json:"time"`
	Sessions int    `json:"sessions"`
}

// DocTypesResponse is returned by /doctypes.
type DocTypesResponse struct {
	DocTypes []doctype.Type `json:"doc_types"`
	Default  string         `json:"default"`
}

// DevicesResponse is returned by /devices.
type DevicesResponse struct {
	Devices         []source.Device `json:"devices"`
	Preferred       string          `json:"preferred,omitempty"`
	CameraAvailable bool            `json:"camera_available"`
}

// SessionResponse describes one capture session. Message is the snapshot's
// notice rendered in the request's language.
type SessionResponse struct {
	ID       string           `json:"id"`
	Snapshot capture.Snapshot `json:"snapshot"`
	Message  string           `json:"message,omitempty"`
	Language string           `json:"language"`
}

// ActionResponse is returned by session actions. Applied is false when the
// action is not valid in the current state and nothing changed.
type ActionResponse struct {
	Applied bool            `json:"applied"`
	Session SessionResponse `json:"session"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// CreateSessionRequest is the optional body of POST /sessions.
type CreateSessionRequest struct {
	DocType  string                `json:"doc_type,omitempty"`
	Viewport *orientation.Viewport `json:"viewport,omitempty"`
}

// NewServer creates a capture server.
func NewServer(config Config) (*Server, error) {
	if config.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("invalid max upload size: %d MB", config.MaxUploadMB)
	}
	if config.SessionTTL <= 0 {
		return nil, errors.New("session TTL must be positive")
	}
	if config.Capture.DocType != "" && !doctype.Valid(config.Capture.DocType) {
		return nil, &doctype.UnknownError{ID: config.Capture.DocType}
	}

	s := &Server{
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
		language:    config.Language,
		capture:     config.Capture,
		sources:     config.Sources,
		submitter:   config.Submitter,
		clock:       config.Clock,
		now:         time.Now,
		log:         slog.Default().With("component", "server"),
	}
	if s.sources == nil {
		s.sources = PushSources
	}
	if config.Token != "" {
		s.token = auth.StaticToken(config.Token)
	}
	if config.Auth.Configured() {
		c, err := auth.NewCognito(config.Auth)
		if err != nil {
			return nil, err
		}
		s.cognito = c
	}
	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(
			config.RateLimit.RequestsPerMinute,
			config.RateLimit.RequestsPerHour,
			config.RateLimit.MaxRequestsPerDay,
		)
	}
	s.sessions = newSessionStore(config.SessionTTL, func() time.Time { return s.now() })
	s.logins = newLoginStates(func() time.Time { return s.now() })
	return s, nil
}

// Close ends every open session.
func (s *Server) Close() error {
	for _, sess := range s.sessions.drain() {
		sess.close()
	}
	sessionsActive.Set(0)
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/doctypes", s.corsMiddleware(s.docTypesHandler))
	mux.HandleFunc("/devices", s.corsMiddleware(s.devicesHandler))

	mux.HandleFunc("/sessions", s.corsMiddleware(s.sessionsHandler))
	mux.HandleFunc("/sessions/{id}", s.corsMiddleware(s.sessionHandler))
	mux.HandleFunc("/sessions/{id}/{action}", s.corsMiddleware(s.actionHandler))
	mux.HandleFunc("/sessions/{id}/frames/{file}", s.corsMiddleware(s.frameHandler))
	mux.HandleFunc("/sessions/{id}/document.pdf", s.corsMiddleware(s.documentHandler))
	mux.HandleFunc("/sessions/{id}/ws", s.sessionWebSocketHandler)

	mux.HandleFunc("/auth/login", s.corsMiddleware(s.loginHandler))
	mux.HandleFunc("/auth/callback", s.corsMiddleware(s.callbackHandler))
	mux.HandleFunc("/auth/logout", s.corsMiddleware(s.logoutHandler))
}
