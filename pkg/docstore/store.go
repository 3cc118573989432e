// Package docstore is a path-addressed document database: documents live at
// paths like users/{uid}/exams/{id} and hold a flat map of fields.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidPath is returned for paths that do not address a document.
	ErrInvalidPath = errors.New("invalid document path")
	// ErrNotFound is returned by Update when no document exists at the path.
	ErrNotFound = errors.New("document not found")
)

type deleteField struct{}

// DeleteField removes a field when used as a value in Merge. In Set it is dropped.
var DeleteField any = deleteField{}

// IsDeleteField reports whether v is the DeleteField sentinel.
func IsDeleteField(v any) bool {
	_, ok := v.(deleteField)
	return ok
}

// Document is a stored document and its location.
type Document struct {
	ID         string
	Path       string
	Fields     map[string]any
	UpdateTime time.Time
}

// Store is the document database used for records and profiles.
type Store interface {
	// Set replaces the whole document at path, creating it when absent.
	Set(ctx context.Context, path string, fields map[string]any) error
	// Merge updates only the given fields; DeleteField values remove a field.
	Merge(ctx context.Context, path string, fields map[string]any) error
	// Update is Merge on an existing document. It returns ErrNotFound instead
	// of creating one.
	Update(ctx context.Context, path string, fields map[string]any) error
	Get(ctx context.Context, path string) (Document, bool, error)
	// List returns every document directly under a collection path.
	List(ctx context.Context, collection string) ([]Document, error)
	Delete(ctx context.Context, path string) error
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// splitDocPath returns the collection path and document id of a document path.
func splitDocPath(path string) (string, string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || len(parts)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
}

func validCollection(collection string) (string, error) {
	parts := strings.Split(strings.Trim(collection, "/"), "/")
	if len(parts)%2 != 1 {
		return "", fmt.Errorf("%w: %q is not a collection", ErrInvalidPath, collection)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, collection)
		}
	}
	return strings.Join(parts, "/"), nil
}

// withoutDeletes copies fields, dropping DeleteField markers.
func withoutDeletes(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if IsDeleteField(v) {
			continue
		}
		out[k] = copyValue(v)
	}
	return out
}

// mergeFields applies patch onto base in place.
func mergeFields(base, patch map[string]any) {
	for k, v := range patch {
		if IsDeleteField(v) {
			delete(base, k)
			continue
		}
		base[k] = copyValue(v)
	}
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyFields(t)
	case []map[string]any:
		out := make([]any, 0, len(t))
		for _, m := range t {
			out = append(out, copyFields(m))
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			out = append(out, copyValue(e))
		}
		return out
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	default:
		return v
	}
}
