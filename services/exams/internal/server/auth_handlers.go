package server

import "net/http"

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.app.Limiters.Signup, "too many signup attempts") {
		s.audit(r, "exams.signup", "rate_limited")
		return
	}
	var req authRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "exams.signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.app.Identity.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "exams.signup", "fail", "reason", err.Error())
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "exams.signup", "success", "user_id", session.User.ID)
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.app.Limiters.Login, "too many login attempts") {
		s.audit(r, "exams.login", "rate_limited")
		return
	}
	var req authRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "exams.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.app.Identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "exams.login", "fail", "reason", err.Error())
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "exams.login", "success", "user_id", session.User.ID)
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "exams.logout", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if user, err := s.app.Identity.Verify(r.Context(), token); err == nil {
		s.app.Lists.Forget(user.ID)
	}
	if err := s.app.Identity.SignOut(r.Context(), token); err != nil {
		s.audit(r, "exams.logout", "fail", "reason", err.Error())
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "exams.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.app.Limiters.Password, "too many password reset attempts") {
		s.audit(r, "exams.password.reset", "rate_limited")
		return
	}
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.Identity.SendPasswordReset(r.Context(), req.Email); err != nil {
		s.audit(r, "exams.password.reset", "fail", "reason", err.Error())
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "exams.password.reset", "success")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "if the address is registered, a reset link was sent"})
}

func (s *Server) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.app.Limiters.Password, "too many password reset attempts") {
		s.audit(r, "exams.password.confirm", "rate_limited")
		return
	}
	var req resetConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.Identity.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		s.audit(r, "exams.password.confirm", "fail", "reason", err.Error())
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "exams.password.confirm", "success")
	w.WriteHeader(http.StatusNoContent)
}
