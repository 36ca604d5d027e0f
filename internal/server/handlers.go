package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/idcap/internal/auth"
	"github.com/MeKo-Tech/idcap/internal/capture"
	"github.com/MeKo-Tech/idcap/internal/doctype"
	"github.com/MeKo-Tech/idcap/internal/export"
	"github.com/MeKo-Tech/idcap/internal/geometry"
	"github.com/MeKo-Tech/idcap/internal/messages"
	"github.com/MeKo-Tech/idcap/internal/orientation"
	"github.com/MeKo-Tech/idcap/internal/source"
	"github.com/MeKo-Tech/idcap/internal/submit"
	"github.com/MeKo-Tech/idcap/internal/version"
	"github.com/disintegration/imaging"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "healthy",
		Version:  version.Version,
		Time:     s.now().UTC().Format(time.RFC3339),
		Sessions: s.sessions.len(),
	})
}

// docTypesHandler lists the supported documents.
func (s *Server) docTypesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	def := s.capture.DocType
	if def == "" {
		def = doctype.Default
	}
	s.writeJSON(w, http.StatusOK, DocTypesResponse{DocTypes: doctype.All(), Default: def})
}

// devicesHandler lists the devices a new session could read from.
func (s *Server) devicesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	src, _, err := s.sources()
	if err != nil {
		s.writeErrorResponse(w, "camera_error", err.Error(), http.StatusServiceUnavailable)
		return
	}
	devices, err := src.Devices(r.Context())
	if err != nil {
		s.writeErrorResponse(w, "camera_error", err.Error(), http.StatusServiceUnavailable)
		return
	}
	resp := DevicesResponse{Devices: devices, CameraAvailable: source.CameraAvailable}
	if resp.Devices == nil {
		resp.Devices = []source.Device{}
	}
	if d, ok := source.PreferredDevice(devices); ok {
		resp.Preferred = d.ID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// sessionsHandler creates capture sessions.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allow(w, r) {
		return
	}

	var req CreateSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	if req.DocType != "" && !doctype.Valid(req.DocType) {
		s.writeErrorResponse(w, "unknown_doc_type", (&doctype.UnknownError{ID: req.DocType}).Error(), http.StatusBadRequest)
		return
	}

	sess, err := s.newSession(req)
	if err != nil {
		s.writeErrorResponse(w, "camera_error", err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.sessionResponse(r, sess))
}

// sessionHandler reads or ends one session.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		sess, ok := s.lookup(w, r)
		if !ok {
			return
		}
		s.writeJSON(w, http.StatusOK, s.sessionResponse(r, sess))
	case http.MethodDelete:
		sess, ok := s.sessions.remove(id)
		if !ok {
			s.writeErrorResponse(w, "not_found", "unknown session", http.StatusNotFound)
			return
		}
		sess.close()
		s.log.Info("session closed", "session", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// actionHandler applies one workflow event to a session.
func (s *Server) actionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	m := sess.machine
	ctx, cancel := s.actionContext(r)
	defer cancel()

	var applied bool
	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		before := m.State()
		err = m.Start(ctx)
		applied = err == nil && m.State() != before
	case "capture":
		var o geometry.Overlay
		if err := decodeBody(w, r, &o); err != nil {
			s.writeErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}
		applied = m.Capture(m.ResolveOverlay(o))
	case "accept":
		applied = m.Accept()
	case "retry":
		applied = m.Retry()
	case "reset":
		m.Reset()
		applied = true
	case "advance":
		applied = m.Advance()
	case "submit":
		if !s.allow(w, r) {
			return
		}
		before := m.State()
		err = m.Submit(ctx, s.tokenSource(r, sess))
		applied = err == nil && before == capture.AllCaptured
	case "viewport":
		var v orientation.Viewport
		if err := decodeBody(w, r, &v); err != nil || v.Width < 0 || v.Height < 0 {
			s.writeErrorResponse(w, "invalid_request", "viewport needs non-negative width and height", http.StatusBadRequest)
			return
		}
		m.SetViewport(v)
		applied = true
	case "doctype":
		var req struct {
			DocType string `json:"doc_type"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			s.writeErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}
		err = m.SetDocType(req.DocType)
		applied = err == nil
	case "device":
		var req struct {
			DeviceID string `json:"device_id"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			s.writeErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}
		err = m.SelectDevice(ctx, req.DeviceID)
		applied = err == nil
	default:
		s.writeErrorResponse(w, "not_found", fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
		return
	}

	if err != nil {
		s.writeActionError(w, r, sess, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ActionResponse{Applied: applied, Session: s.sessionResponse(r, sess)})
}

// actionContext bounds the blocking actions by the request timeout.
func (s *Server) actionContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeoutSec <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
}

// tokenSource prefers a bearer token on the request, then the session's
// logged-in user, then the configured token.
func (s *Server) tokenSource(r *http.Request, sess *session) auth.TokenSource {
	var bearer auth.TokenSource
	if h := r.Header.Get("Authorization"); h != "" {
		bearer = auth.StaticToken(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
	}
	return auth.Chain{bearer, sess.tokens, s.token}
}

// writeActionError maps workflow errors to HTTP responses.
func (s *Server) writeActionError(w http.ResponseWriter, r *http.Request, sess *session, err error) {
	resp := ErrorResponse{Error: "internal_error", Message: err.Error()}
	status := http.StatusInternalServerError

	var se *source.Error
	var he *submit.HTTPError
	var ue *doctype.UnknownError
	switch {
	case errors.Is(err, capture.ErrSuperseded):
		resp.Error, status = "superseded", http.StatusConflict
	case errors.Is(err, auth.ErrNoToken):
		resp.Error, status = "no_token", http.StatusUnauthorized
	case errors.Is(err, capture.ErrNoSubmitter):
		resp.Error, status = "no_submitter", http.StatusServiceUnavailable
	case errors.As(err, &he):
		resp.Error, status = "submission_rejected", http.StatusBadGateway
	case errors.As(err, &se):
		resp.Error, status = "camera_error", http.StatusServiceUnavailable
		resp.Kind = se.Kind.String()
	case errors.As(err, &ue):
		resp.Error, status = "unknown_doc_type", http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		resp.Error, status = "timeout", http.StatusGatewayTimeout
	}

	if snap := sess.machine.Snapshot(); snap.Notice != "" && status != http.StatusBadRequest {
		resp.Message = s.printer(r).Detail(snap.Notice, snap.NoticeDetail)
	}
	s.log.Warn("session action failed", "session", sess.id, "action", r.PathValue("action"), "error", err)
	s.writeJSON(w, status, resp)
}

// frameHandler serves an accepted side as PNG, optionally as a thumbnail
// bounded by the max query parameter.
func (s *Server) frameHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	name, found := strings.CutSuffix(r.PathValue("file"), ".png")
	side, err := capture.ParseSide(name)
	if !found || err != nil {
		s.writeErrorResponse(w, "not_found", "expected front.png or back.png", http.StatusNotFound)
		return
	}
	buf := sess.machine.Buffer(side)
	if buf.Empty() {
		s.writeErrorResponse(w, "not_found", "side not captured", http.StatusNotFound)
		return
	}

	img := buf.Image()
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeErrorResponse(w, "invalid_request", "max must be a positive integer", http.StatusBadRequest)
			return
		}
		img = imaging.Fit(img, n, n, imaging.Lanczos)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		s.log.Error("Failed to encode frame", "error", err)
	}
}

// documentHandler serves the captured sides as a PDF with one page each.
func (s *Server) documentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	m := sess.machine
	data, err := export.PDFBytes(m.Buffer(capture.Front), m.Buffer(capture.Back))
	if errors.Is(err, export.ErrNoPages) {
		s.writeErrorResponse(w, "not_found", "no side captured", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeErrorResponse(w, "export_failed", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ID_%s.pdf"`, strings.ToUpper(m.DocType())))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// lookup resolves the session named in the path, writing a 404 when absent.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		s.writeErrorResponse(w, "not_found", "unknown session", http.StatusNotFound)
	}
	return sess, ok
}

func (s *Server) sessionResponse(r *http.Request, sess *session) SessionResponse {
	p := s.printer(r)
	return renderSession(p, sess.id, sess.machine.Snapshot())
}

func renderSession(p *messages.Printer, id string, snap capture.Snapshot) SessionResponse {
	return SessionResponse{
		ID:       id,
		Snapshot: snap,
		Message:  p.Detail(snap.Notice, snap.NoticeDetail),
		Language: p.Language().String(),
	}
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
