package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/idcap/internal/capture"
	"github.com/MeKo-Tech/idcap/internal/readiness"
	"github.com/MeKo-Tech/idcap/internal/submit"
	"github.com/MeKo-Tech/idcap/internal/testutil"
	"github.com/stretchr/testify/require"
)

// readyAfter is long enough for the default readiness countdown.
const readyAfter = 3 * time.Second

// recordingSubmitter records every submission.
type recordingSubmitter struct {
	mu     sync.Mutex
	err    error
	tokens []string
	names  []string
}

func (r *recordingSubmitter) Submit(_ context.Context, token string, uploads []submit.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	for _, u := range uploads {
		r.names = append(r.names, u.Name)
	}
	return r.err
}

type testEnv struct {
	server    *Server
	http      *httptest.Server
	clock     *readiness.FakeClock
	submitter *recordingSubmitter
}

// newTestEnv starts a server whose sessions read a clean frame followed by a
// frame with glare.
func newTestEnv(t *testing.T, configure ...func(*Config)) *testEnv {
	t.Helper()

	clean := testutil.DefaultDocumentConfig()
	glare := testutil.DefaultDocumentConfig()
	glare.Glare = 0.5
	dir := testutil.FramesDir(t, clean, glare)

	env := &testEnv{clock: readiness.NewFakeClock(), submitter: &recordingSubmitter{}}
	cfg := Config{
		CORSOrigin:  "*",
		MaxUploadMB: 10,
		TimeoutSec:  5,
		Language:    "en",
		SessionTTL:  15 * time.Minute,
		Capture:     capture.DefaultConfig(),
		Sources:     DirSources(dir),
		Submitter:   env.submitter,
		Clock:       env.clock,
	}
	for _, c := range configure {
		c(&cfg)
	}

	s, err := NewServer(cfg)
	require.NoError(t, err)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	env.server = s
	env.http = httptest.NewServer(mux)
	t.Cleanup(func() {
		env.http.Close()
		_ = s.Close()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, header ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, r)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/sessions", CreateSessionRequest{DocType: "ine"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[SessionResponse](t, resp).ID
}

func (e *testEnv) action(t *testing.T, id, action string, body interface{}, header ...string) ActionResponse {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/sessions/"+id+"/"+action, body, header...)
	require.Equal(t, http.StatusOK, resp.StatusCode, "action %s", action)
	return decode[ActionResponse](t, resp)
}

// captureBoth drives a fresh session to ALL_CAPTURED.
func (e *testEnv) captureBoth(t *testing.T) string {
	t.Helper()
	id := e.createSession(t)
	require.True(t, e.action(t, id, "start", nil).Applied)
	for range 2 {
		e.clock.Advance(readyAfter)
		require.True(t, e.action(t, id, "capture", nil).Applied)
		require.True(t, e.action(t, id, "accept", nil).Applied)
	}
	return id
}
