package server

import (
	"net/http"

	"examtrack/pkg/identity"
)

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, _ identity.User) {
	switch r.Method {
	case http.MethodGet:
		status, err := s.app.Registrar.AuthorizationStatus(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		pending, err := s.app.Reminders.Pending(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authorization": status.String(),
			"items":         pending,
			"count":         len(pending),
		})
	case http.MethodDelete:
		if err := s.app.Reminders.CancelAll(r.Context()); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAuthorizeNotifications(w http.ResponseWriter, r *http.Request, user identity.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	granted, err := s.app.Reminders.Authorize(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "exams.notifications.authorize", "success", "user_id", user.ID, "granted", granted)
	writeJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}
