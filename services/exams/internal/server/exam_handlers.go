package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"examtrack/internal/listing"
	"examtrack/internal/mutation"
	"examtrack/internal/util"
	"examtrack/pkg/domain"
	"examtrack/pkg/identity"
	"examtrack/pkg/storage"
)

// flexTime accepts RFC 3339 and the looser date formats clients send.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	return nil
}

func (t *flexTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

type recordRequest struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Location         string    `json:"location"`
	RequestingDoctor string    `json:"requestingDoctor"`
	ReasonForVisit   string    `json:"reasonForVisit"`
	RegisteredDate   flexTime  `json:"registeredDate"`
	ResultReadyDate  *flexTime `json:"resultReadyDate"`
	ScheduledDate    *flexTime `json:"scheduledDate"`
}

func (req recordRequest) toRecord(now time.Time) domain.Record {
	registered := req.RegisteredDate.Time
	if registered.IsZero() {
		registered = now.UTC()
	}
	return domain.Record{
		ID:               strings.TrimSpace(req.ID),
		Name:             strings.TrimSpace(req.Name),
		Location:         strings.TrimSpace(req.Location),
		RequestingDoctor: strings.TrimSpace(req.RequestingDoctor),
		ReasonForVisit:   strings.TrimSpace(req.ReasonForVisit),
		RegisteredDate:   registered,
		ResultReadyDate:  req.ResultReadyDate.ptr(),
		ScheduledDate:    req.ScheduledDate.ptr(),
	}
}

var errBadForm = errors.New("invalid form data")

// readRecord decodes a record from a JSON body or from a multipart form with
// a "record" JSON field and "file"/"files" parts. The returned cleanup closes
// uploaded parts.
func (s *Server) readRecord(w http.ResponseWriter, r *http.Request) (recordRequest, []mutation.Upload, func(), error) {
	var req recordRequest
	noop := func() {}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := decodeJSON(r, &req); err != nil {
			return req, nil, noop, errors.New("invalid JSON body")
		}
		return req, nil, noop, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, nil, noop, storage.ErrObjectTooLarge
		}
		return req, nil, noop, errBadForm
	}
	if err := json.Unmarshal([]byte(r.FormValue("record")), &req); err != nil {
		_ = r.MultipartForm.RemoveAll()
		return req, nil, noop, errors.New("record field must hold the exam as JSON")
	}
	var (
		uploads []mutation.Upload
		opened  []multipart.File
	)
	cleanup := func() {
		for _, f := range opened {
			_ = f.Close()
		}
		_ = r.MultipartForm.RemoveAll()
	}
	for _, field := range []string{"file", "files"} {
		for _, header := range r.MultipartForm.File[field] {
			f, err := header.Open()
			if err != nil {
				cleanup()
				return req, nil, noop, errBadForm
			}
			opened = append(opened, f)
			contentType := header.Header.Get("Content-Type")
			if contentType == "application/octet-stream" {
				contentType = ""
			}
			uploads = append(uploads, mutation.Upload{
				Filename:    header.Filename,
				Body:        f,
				Size:        header.Size,
				ContentType: contentType,
			})
		}
	}
	return req, uploads, cleanup, nil
}

func (s *Server) handleExams(w http.ResponseWriter, r *http.Request, user identity.User) {
	switch r.Method {
	case http.MethodGet:
		s.handleListExams(w, r, user)
	case http.MethodPost:
		s.handleCreateExam(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListExams(w http.ResponseWriter, r *http.Request, user identity.User) {
	q := r.URL.Query()
	filter, err := listing.ParseFilter(q.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := listing.ParseSort(q.Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st := s.app.Lists.For(user.ID)
	if !st.Loaded() || q.Get("refresh") == "true" {
		if err := st.Refresh(r.Context()); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	view, err := st.ViewFor(r.Context(), listing.Params{
		Filter: filter,
		Sort:   order,
		Query:  strings.TrimSpace(q.Get("q")),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCreateExam(w http.ResponseWriter, r *http.Request, user identity.User) {
	req, uploads, cleanup, err := s.readRecord(w, r)
	if err != nil {
		writeFormError(w, r, err)
		return
	}
	defer cleanup()
	if len(uploads) > 1 {
		writeError(w, http.StatusBadRequest, "a new exam takes at most one file")
		return
	}
	in := mutation.CreateInput{Record: req.toRecord(time.Now())}
	if len(uploads) == 1 {
		in.File = &uploads[0]
	}
	created, err := s.app.Mutations.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.refreshList(r.Context(), user.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleScheduled(w http.ResponseWriter, r *http.Request, _ identity.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.Records.FetchScheduled(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleExamByID(w http.ResponseWriter, r *http.Request, user identity.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/exams/")
	if recordID, fileID, ok := strings.Cut(id, "/files/"); ok {
		s.handleExamFile(w, r, user, recordID, fileID)
		return
	}
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rec, err := s.app.Records.FetchByID(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		s.handleUpdateExam(w, r, user, id)
	case http.MethodDelete:
		previous, err := s.app.Records.FetchByID(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if err := s.app.Mutations.Delete(r.Context(), previous); err != nil {
			writeServiceError(w, r, err)
			return
		}
		s.app.Lists.For(user.ID).Remove(id)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpdateExam(w http.ResponseWriter, r *http.Request, user identity.User, id string) {
	previous, err := s.app.Records.FetchByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	req, uploads, cleanup, err := s.readRecord(w, r)
	if err != nil {
		writeFormError(w, r, err)
		return
	}
	defer cleanup()
	rec := req.toRecord(previous.RegisteredDate)
	rec.ID = previous.ID
	updated, err := s.app.Mutations.Update(r.Context(), mutation.UpdateInput{
		Previous: previous,
		Record:   rec,
		Files:    uploads,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.refreshList(r.Context(), user.ID)
	writeJSON(w, http.StatusOK, updated)
}

// handleExamFile serves /api/exams/{id}/files/{fileId}.
func (s *Server) handleExamFile(w http.ResponseWriter, r *http.Request, user identity.User, recordID, fileID string) {
	if recordID == "" || fileID == "" || strings.Contains(recordID, "/") || strings.Contains(fileID, "/") {
		http.NotFound(w, r)
		return
	}
	rec, err := s.app.Records.FetchByID(r.Context(), recordID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		file, data, err := s.app.Mutations.ReadAttachment(r.Context(), rec, fileID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", storage.ContentTypeFor(file.Name))
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	case http.MethodDelete:
		updated, err := s.app.Mutations.RemoveAttachment(r.Context(), rec, fileID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		s.refreshList(r.Context(), user.ID)
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w)
	}
}

func writeFormError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrObjectTooLarge) {
		writeServiceError(w, r, err)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// refreshList re-fetches a user's list after a mutation when it is in use.
func (s *Server) refreshList(ctx context.Context, uid string) {
	st := s.app.Lists.For(uid)
	if !st.Loaded() {
		return
	}
	if err := st.Refresh(ctx); err != nil {
		util.LoggerFromContext(ctx).Warn("exam list refresh failed", "err", err)
	}
}
