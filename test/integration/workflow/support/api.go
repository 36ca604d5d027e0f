package support

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/MeKo-Tech/idcap/internal/capture"
	"github.com/MeKo-Tech/idcap/internal/readiness"
	"github.com/MeKo-Tech/idcap/internal/server"
	"github.com/MeKo-Tech/idcap/internal/submit"
)

// RecordingSubmitter stands in for the upload endpoint.
type RecordingSubmitter struct {
	mu     sync.Mutex
	Fail   error
	Tokens []string
	Names  []string
}

// Submit records the upload names and returns Fail.
func (r *RecordingSubmitter) Submit(_ context.Context, token string, uploads []submit.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Tokens = append(r.Tokens, token)
	for _, u := range uploads {
		r.Names = append(r.Names, u.Name)
	}
	return r.Fail
}

// APIServer is an in-process idcap server driven by a fake clock.
type APIServer struct {
	HTTP      *httptest.Server
	Server    *server.Server
	Clock     *readiness.FakeClock
	Submitter *RecordingSubmitter
}

// NewAPIServer serves sessions reading frames from framesDir.
func NewAPIServer(framesDir, language string) (*APIServer, error) {
	api := &APIServer{
		Clock:     readiness.NewFakeClock(),
		Submitter: &RecordingSubmitter{},
	}
	s, err := server.NewServer(server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 10,
		TimeoutSec:  5,
		Language:    language,
		SessionTTL:  15 * time.Minute,
		Capture:     capture.DefaultConfig(),
		Sources:     server.DirSources(framesDir),
		Submitter:   api.Submitter,
		Clock:       api.Clock,
	})
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	api.Server = s
	api.HTTP = httptest.NewServer(mux)
	return api, nil
}

// Close stops the HTTP listener and the server's sessions.
func (a *APIServer) Close() error {
	a.HTTP.Close()
	return a.Server.Close()
}
