package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/idcap/internal/messages"
	"github.com/google/uuid"
)

// LoginResponse is returned by /auth/login when redirect=false.
type LoginResponse struct {
	LoginURL string `json:"login_url"`
	State    string `json:"state"`
}

// CallbackResponse is returned by /auth/callback. IDToken is only included
// when the login was not started for a session.
type CallbackResponse struct {
	Authenticated bool   `json:"authenticated"`
	Session       string `json:"session,omitempty"`
	IDToken       string `json:"id_token,omitempty"`
	Message       string `json:"message,omitempty"`
}

// loginStateTTL bounds how long a started login may take to come back.
const loginStateTTL = 10 * time.Minute

// loginStates maps the random OAuth state of each started login to the
// session it was started for. A state is usable once.
type loginStates struct {
	mu      sync.Mutex
	now     func() time.Time
	pending map[string]pendingLogin
}

type pendingLogin struct {
	session string
	expires time.Time
}

func newLoginStates(now func() time.Time) *loginStates {
	return &loginStates{now: now, pending: make(map[string]pendingLogin)}
}

// issue records a new login for session, which may be empty, and returns its
// state.
func (ls *loginStates) issue(session string) string {
	state := uuid.NewString()
	ls.mu.Lock()
	ls.pending[state] = pendingLogin{session: session, expires: ls.now().Add(loginStateTTL)}
	ls.mu.Unlock()
	return state
}

// take consumes state and returns the session it was issued for.
func (ls *loginStates) take(state string) (string, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	p, ok := ls.pending[state]
	if !ok {
		return "", false
	}
	delete(ls.pending, state)
	if !ls.now().Before(p.expires) {
		return "", false
	}
	return p.session, true
}

// sweep drops logins that were never completed.
func (ls *loginStates) sweep() int {
	now := ls.now()
	ls.mu.Lock()
	defer ls.mu.Unlock()
	n := 0
	for state, p := range ls.pending {
		if !now.Before(p.expires) {
			delete(ls.pending, state)
			n++
		}
	}
	return n
}

// loginHandler sends the user to the hosted login page. The OAuth state is
// random and remembers the optional session query parameter so the callback
// can attach the token to it.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cognito == nil {
		s.writeErrorResponse(w, "auth_not_configured", "no identity provider configured", http.StatusNotImplemented)
		return
	}
	state := s.logins.issue(r.URL.Query().Get("session"))
	target := s.cognito.LoginURL(state)
	if r.URL.Query().Get("redirect") == "false" {
		s.writeJSON(w, http.StatusOK, LoginResponse{LoginURL: target, State: state})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// callbackHandler completes the authorization-code flow.
func (s *Server) callbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cognito == nil {
		s.writeErrorResponse(w, "auth_not_configured", "no identity provider configured", http.StatusNotImplemented)
		return
	}
	p := s.printer(r)
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.writeErrorResponse(w, "auth_failed", p.Detail(messages.AuthFailed, e), http.StatusUnauthorized)
		return
	}
	sessionID, ok := s.logins.take(q.Get("state"))
	if !ok {
		s.log.Warn("callback with unknown login state")
		s.writeErrorResponse(w, "invalid_state", "unknown or expired login state", http.StatusBadRequest)
		return
	}

	token, err := s.cognito.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		s.log.Warn("token exchange failed", "error", err)
		s.writeErrorResponse(w, "auth_failed", p.Detail(messages.AuthFailed, err.Error()), http.StatusUnauthorized)
		return
	}

	resp := CallbackResponse{Authenticated: true, Message: p.Text(messages.Redirecting)}
	if sess, ok := s.sessions.get(sessionID); sessionID != "" && ok {
		sess.tokens.Set(token)
		resp.Session = sess.id
		s.log.Info("session authenticated", "session", sess.id)
	} else {
		resp.IDToken = token
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// logoutHandler forgets the session's token and ends the hosted-UI session.
func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if sess, ok := s.sessions.get(r.URL.Query().Get("session")); ok {
		sess.tokens.Clear()
	}
	if s.cognito == nil || r.URL.Query().Get("redirect") == "false" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, s.cognito.LogoutURL(), http.StatusFound)
}
