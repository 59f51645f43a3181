package http

import (
	"net/http"

	"cashbook/internal/core"
	"cashbook/internal/log"
)

// SessionCookie names the cookie carrying the session token.
const SessionCookie = "cb_session"

type userHandler func(w http.ResponseWriter, r *http.Request, u core.User)

// requireUser resolves the session cookie before calling next. Requests
// without a usable session get 401.
func (s *Server) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := s.svc.Authenticate(r.Context(), sessionToken(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		logger := log.FromContext(r.Context()).With(log.FieldUsername, u.Username)
		next(w, r.WithContext(log.NewContext(r.Context(), logger)), u)
	}
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.svc.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.svc.Register(r.Context(), req.Username, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, "Registered successfully")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, sess.Token)
	writeJSON(w, http.StatusOK, loginResponse{Message: "Logged in", Username: sess.Username})
}

// handleLogout always succeeds; a failing store delete is only logged.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Logout(r.Context(), sessionToken(r)); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Logout could not drop session",
			log.FieldOperation, log.OpLogout, log.FieldError, err)
	}
	s.clearSessionCookie(w)
	writeMessage(w, "Logged out")
}
