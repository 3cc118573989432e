package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"examtrack/internal/profile"
	"examtrack/pkg/identity"
)

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, _ identity.User) {
	switch r.Method {
	case http.MethodGet:
		p, err := s.app.Profiles.Fetch(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPatch:
		var upd profile.Update
		if err := decodeJSON(r, &upd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		p, err := s.app.Profiles.Update(r.Context(), upd)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProfilePhoto(w http.ResponseWriter, r *http.Request, _ identity.User) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.app.Profiles.DownloadPhoto(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	case http.MethodPut:
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		var (
			body io.Reader = r.Body
			size           = r.ContentLength
		)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			file, header, err := r.FormFile("photo")
			if err != nil {
				writeError(w, http.StatusBadRequest, "photo is required (field: photo)")
				return
			}
			defer file.Close()
			body, size = file, header.Size
		}
		p, err := s.app.Profiles.UploadPhoto(r.Context(), body, size)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		methodNotAllowed(w)
	}
}
