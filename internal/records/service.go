// Package records is the per-user exam record service backed by the document store.
package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"examtrack/pkg/docstore"
	"examtrack/pkg/domain"
	"examtrack/pkg/identity"
	"examtrack/pkg/wire"
)

const (
	usersCollection = "users"
	examsCollection = "exams"
)

// Service reads and writes the signed-in user's exam records.
type Service struct {
	docs  docstore.Store
	users identity.UserResolver
	now   func() time.Time
}

// NewService builds a record service. A nil resolver reads the uid from the context.
func NewService(docs docstore.Store, users identity.UserResolver) *Service {
	if users == nil {
		users = identity.ContextResolver{}
	}
	return &Service{docs: docs, users: users, now: time.Now}
}

// SetClock overrides the clock used by FetchScheduled.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CollectionPath is the exams collection of uid.
func CollectionPath(uid string) string {
	return docstore.Join(usersCollection, uid, examsCollection)
}

// DocumentPath is the document path of one record.
func DocumentPath(uid, id string) string {
	return docstore.Join(usersCollection, uid, examsCollection, id)
}

func (s *Service) currentUser(ctx context.Context) (string, error) {
	uid, err := s.users.CurrentUserID(ctx)
	if err != nil || strings.TrimSpace(uid) == "" {
		return "", ErrUnauthorized
	}
	return uid, nil
}

// Create writes r in full. Writing the same record twice leaves one document.
func (s *Service) Create(ctx context.Context, r domain.Record) (domain.Record, error) {
	uid, err := s.currentUser(ctx)
	if err != nil {
		return domain.Record{}, err
	}
	if strings.TrimSpace(r.ID) == "" {
		return domain.Record{}, fmt.Errorf("%w: id is required", domain.ErrInvalidRecord)
	}
	if err := r.Validate(); err != nil {
		return domain.Record{}, err
	}
	if err := s.docs.Set(ctx, DocumentPath(uid, r.ID), wire.ToFields(r)); err != nil {
		return domain.Record{}, unknown(err)
	}
	return r, nil
}

// FetchAll returns every decodable record, newest registered date first.
func (s *Service) FetchAll(ctx context.Context) ([]domain.Record, error) {
	uid, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.List(ctx, CollectionPath(uid))
	if err != nil {
		return nil, unknown(err)
	}
	out := wire.FromDocuments(docs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RegisteredDate.After(out[j].RegisteredDate)
	})
	return out, nil
}

// FetchByID returns one record.
func (s *Service) FetchByID(ctx context.Context, id string) (domain.Record, error) {
	uid, err := s.currentUser(ctx)
	if err != nil {
		return domain.Record{}, err
	}
	if strings.TrimSpace(id) == "" {
		return domain.Record{}, ErrNotFound
	}
	doc, ok, err := s.docs.Get(ctx, DocumentPath(uid, id))
	if err != nil {
		return domain.Record{}, unknown(err)
	}
	if !ok {
		return domain.Record{}, ErrNotFound
	}
	r, ok := wire.FromFields(doc.Fields, doc.ID)
	if !ok {
		return domain.Record{}, ErrNotFound
	}
	return r, nil
}

// Update merges every updatable field of r into its existing document. A
// record deleted concurrently stays deleted.
func (s *Service) Update(ctx context.Context, r domain.Record) error {
	uid, err := s.currentUser(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(r.ID) == "" {
		return ErrNotFound
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.docs.Update(ctx, DocumentPath(uid, r.ID), wire.ToUpdateFields(r)); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return unknown(err)
	}
	return nil
}

// Delete removes a record. Deleting a missing record succeeds.
func (s *Service) Delete(ctx context.Context, id string) error {
	uid, err := s.currentUser(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return ErrNotFound
	}
	if err := s.docs.Delete(ctx, DocumentPath(uid, id)); err != nil {
		return unknown(err)
	}
	return nil
}

// Search returns records whose name, location, doctor or reason contains
// query, ignoring case. A blank query matches everything.
func (s *Service) Search(ctx context.Context, query string) ([]domain.Record, error) {
	all, err := s.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}
	out := make([]domain.Record, 0, len(all))
	for _, r := range all {
		if Matches(r, q) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Matches reports whether the lowercased query occurs in a searchable field.
func Matches(r domain.Record, lowerQuery string) bool {
	for _, field := range []string{r.Name, r.Location, r.RequestingDoctor, r.ReasonForVisit} {
		if strings.Contains(strings.ToLower(field), lowerQuery) {
			return true
		}
	}
	return false
}

// FetchScheduled returns records whose scheduled date is still ahead.
func (s *Service) FetchScheduled(ctx context.Context) ([]domain.Record, error) {
	all, err := s.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]domain.Record, 0, len(all))
	for _, r := range all {
		if r.IsScheduled(now) {
			out = append(out, r)
		}
	}
	return out, nil
}
