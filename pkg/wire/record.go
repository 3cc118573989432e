// Package wire maps exam records to and from document-store fields.
package wire

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"

	"examtrack/pkg/docstore"
	"examtrack/pkg/domain"
)

// Field names of the exam document.
const (
	FieldID               = "id"
	FieldName             = "name"
	FieldLocation         = "location"
	FieldRequestingDoctor = "requestingDoctor"
	FieldReasonForVisit   = "reasonForVisit"
	FieldRegisteredDate   = "registeredDate"
	FieldResultReadyDate  = "resultReadyDate"
	FieldScheduledDate    = "scheduledDate"
	FieldAttachedFiles    = "attachedFiles"
	FieldLegacyFileURL    = "fileURL"

	// FieldLegacyScheduledAt held the exam date before registeredDate existed.
	// It is read for migration and removed by the first update.
	FieldLegacyScheduledAt = "scheduledAt"
	// FieldTimestamp is the raw creation timestamp some old documents carry.
	FieldTimestamp = "timestamp"

	fileID   = "id"
	fileURL  = "url"
	fileName = "name"
	fileKey  = "key"
)

// ToFields encodes a record for creation. Unset optional fields are omitted.
func ToFields(r domain.Record) map[string]any {
	fields := map[string]any{
		FieldID:               r.ID,
		FieldName:             r.Name,
		FieldLocation:         r.Location,
		FieldRequestingDoctor: r.RequestingDoctor,
		FieldReasonForVisit:   r.ReasonForVisit,
		FieldRegisteredDate:   r.RegisteredDate,
	}
	if r.ResultReadyDate != nil {
		fields[FieldResultReadyDate] = *r.ResultReadyDate
	}
	if r.ScheduledDate != nil {
		fields[FieldScheduledDate] = *r.ScheduledDate
	}
	if len(r.AttachedFiles) > 0 {
		fields[FieldAttachedFiles] = filesToFields(r.AttachedFiles)
	}
	if r.LegacyFileURL != "" {
		fields[FieldLegacyFileURL] = r.LegacyFileURL
	}
	return fields
}

// ToUpdateFields encodes the full updatable field set. Cleared optional fields
// carry docstore.DeleteField so a merge write removes them.
func ToUpdateFields(r domain.Record) map[string]any {
	fields := ToFields(r)
	delete(fields, FieldID)
	if r.ResultReadyDate == nil {
		fields[FieldResultReadyDate] = docstore.DeleteField
	}
	if r.ScheduledDate == nil {
		fields[FieldScheduledDate] = docstore.DeleteField
	}
	if len(r.AttachedFiles) == 0 {
		fields[FieldAttachedFiles] = docstore.DeleteField
	}
	if r.LegacyFileURL == "" {
		fields[FieldLegacyFileURL] = docstore.DeleteField
	}
	// The decoded date already reflects scheduledAt, so drop it to let
	// registeredDate win from now on.
	fields[FieldLegacyScheduledAt] = docstore.DeleteField
	return fields
}

// FromFields decodes a record. It returns false when a required text field is
// missing or not a string; callers skip such documents.
func FromFields(fields map[string]any, fallbackID string) (domain.Record, bool) {
	name, ok1 := requiredString(fields, FieldName)
	location, ok2 := requiredString(fields, FieldLocation)
	doctor, ok3 := requiredString(fields, FieldRequestingDoctor)
	reason, ok4 := requiredString(fields, FieldReasonForVisit)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return domain.Record{}, false
	}

	r := domain.Record{
		ID:               resolveID(fields, fallbackID),
		Name:             name,
		Location:         location,
		RequestingDoctor: doctor,
		ReasonForVisit:   reason,
		RegisteredDate:   resolveRegisteredDate(fields),
		AttachedFiles:    filesFromField(fields[FieldAttachedFiles]),
	}
	if ts, ok := asTime(fields[FieldResultReadyDate]); ok {
		r.ResultReadyDate = &ts
	}
	if ts, ok := asTime(fields[FieldScheduledDate]); ok {
		r.ScheduledDate = &ts
	}
	if s, ok := fields[FieldLegacyFileURL].(string); ok {
		r.LegacyFileURL = s
	}
	return r, true
}

// FromDocuments decodes a batch, skipping malformed documents.
func FromDocuments(docs []docstore.Document) []domain.Record {
	out := make([]domain.Record, 0, len(docs))
	for _, doc := range docs {
		r, ok := FromFields(doc.Fields, doc.ID)
		if !ok {
			slog.Warn("skipping malformed exam document", "path", doc.Path)
			continue
		}
		out = append(out, r)
	}
	return out
}

func requiredString(fields map[string]any, key string) (string, bool) {
	s, ok := fields[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func resolveID(fields map[string]any, fallbackID string) string {
	if id, ok := fields[FieldID].(string); ok && id != "" {
		return id
	}
	if fallbackID != "" {
		return fallbackID
	}
	return uuid.NewString()
}

// resolveRegisteredDate prefers the legacy scheduledAt value over registeredDate.
// Documents written before the split stored the exam date there.
func resolveRegisteredDate(fields map[string]any) time.Time {
	legacy, hasLegacy := asTime(fields[FieldLegacyScheduledAt])
	current, hasCurrent := asTime(fields[FieldRegisteredDate])
	if hasLegacy {
		if hasCurrent && !legacy.Equal(current) {
			slog.Warn("legacy scheduledAt overrides registeredDate",
				"id", fields[FieldID], "scheduledAt", legacy, "registeredDate", current)
		}
		return legacy
	}
	if hasCurrent {
		return current
	}
	if ts, ok := asTime(fields[FieldTimestamp]); ok {
		return ts
	}
	slog.Warn("exam document has no usable date, defaulting to now", "id", fields[FieldID])
	return time.Now().UTC()
}

// asTime accepts native timestamps, unix seconds and date strings.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	case int64:
		return time.Unix(t, 0).UTC(), true
	case int:
		return time.Unix(int64(t), 0).UTC(), true
	case float64:
		sec := int64(t)
		nsec := int64((t - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return asTime(n)
		}
		ts, err := dateparse.ParseAny(s)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	default:
		return time.Time{}, false
	}
}

func filesToFields(files []domain.AttachedFile) []map[string]any {
	out := make([]map[string]any, 0, len(files))
	for _, f := range files {
		entry := map[string]any{fileID: f.ID, fileURL: f.URL, fileName: f.Name}
		if f.Key != "" {
			entry[fileKey] = f.Key
		}
		out = append(out, entry)
	}
	return out
}

func filesFromField(v any) []domain.AttachedFile {
	var entries []map[string]any
	switch t := v.(type) {
	case []map[string]any:
		entries = t
	case []any:
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				entries = append(entries, m)
			}
		}
	}
	out := make([]domain.AttachedFile, 0, len(entries))
	for _, m := range entries {
		id, _ := m[fileID].(string)
		url, _ := m[fileURL].(string)
		name, _ := m[fileName].(string)
		key, _ := m[fileKey].(string)
		if id == "" || url == "" || name == "" {
			continue
		}
		out = append(out, domain.AttachedFile{ID: id, URL: url, Name: name, Key: key})
	}
	return out
}
