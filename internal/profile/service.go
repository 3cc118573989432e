// Package profile manages the one-to-one user profile document and photo.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"examtrack/internal/records"
	"examtrack/pkg/docstore"
	"examtrack/pkg/domain"
	"examtrack/pkg/identity"
	"examtrack/pkg/storage"
)

// ErrNoPhoto means the user has not uploaded a profile photo.
var ErrNoPhoto = errors.New("profile photo not found")

const (
	fieldUID         = "uid"
	fieldDisplayName = "displayName"
	fieldEmail       = "email"
	fieldPhone       = "phone"
	fieldBirthDate   = "birthDate"
	fieldPhotoURL    = "photoURL"
	fieldCreatedAt   = "createdAt"
	fieldUpdatedAt   = "updatedAt"

	photoContentType = "image/jpeg"
)

// Update is a partial profile change. Nil fields are left untouched.
type Update struct {
	DisplayName    *string    `json:"displayName,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	BirthDate      *time.Time `json:"birthDate,omitempty"`
	ClearBirthDate bool       `json:"clearBirthDate,omitempty"`
}

// Service reads and writes users/{uid}.
type Service struct {
	docs  docstore.Store
	blobs storage.BlobStore
	now   func() time.Time
}

func NewService(docs docstore.Store, blobs storage.BlobStore) *Service {
	return &Service{docs: docs, blobs: blobs, now: time.Now}
}

// SetClock overrides the clock used for timestamps.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PhotoKey is the blob key of uid's profile photo.
func PhotoKey(uid string) string {
	return path.Join("profile_photos", uid, "profile.jpg")
}

func documentPath(uid string) string {
	return docstore.Join("users", uid)
}

func currentUser(ctx context.Context) (identity.User, error) {
	u, ok := identity.UserFromContext(ctx)
	if !ok {
		return identity.User{}, records.ErrUnauthorized
	}
	return u, nil
}

// Fetch returns the profile, creating it from the signed-in identity the
// first time it is read.
func (s *Service) Fetch(ctx context.Context) (domain.Profile, error) {
	u, err := currentUser(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	doc, ok, err := s.docs.Get(ctx, documentPath(u.ID))
	if err != nil {
		return domain.Profile{}, fmt.Errorf("%w: %w", records.ErrUnknown, err)
	}
	if ok {
		return decode(u.ID, doc.Fields), nil
	}
	now := s.now().UTC()
	p := domain.Profile{UID: u.ID, Email: u.Email, CreatedAt: now, UpdatedAt: now}
	if err := s.docs.Set(ctx, documentPath(u.ID), encode(p)); err != nil {
		return domain.Profile{}, fmt.Errorf("%w: %w", records.ErrUnknown, err)
	}
	return p, nil
}

// Update applies upd and returns the stored profile.
func (s *Service) Update(ctx context.Context, upd Update) (domain.Profile, error) {
	if _, err := s.Fetch(ctx); err != nil {
		return domain.Profile{}, err
	}
	u, _ := currentUser(ctx)
	patch := map[string]any{fieldUpdatedAt: s.now().UTC()}
	if upd.DisplayName != nil {
		patch[fieldDisplayName] = strings.TrimSpace(*upd.DisplayName)
	}
	if upd.Phone != nil {
		patch[fieldPhone] = strings.TrimSpace(*upd.Phone)
	}
	switch {
	case upd.ClearBirthDate:
		patch[fieldBirthDate] = docstore.DeleteField
	case upd.BirthDate != nil:
		patch[fieldBirthDate] = upd.BirthDate.UTC()
	}
	if err := s.docs.Merge(ctx, documentPath(u.ID), patch); err != nil {
		return domain.Profile{}, fmt.Errorf("%w: %w", records.ErrUnknown, err)
	}
	return s.Fetch(ctx)
}

// UploadPhoto replaces the profile photo and records its URL.
func (s *Service) UploadPhoto(ctx context.Context, r io.Reader, size int64) (domain.Profile, error) {
	if _, err := s.Fetch(ctx); err != nil {
		return domain.Profile{}, err
	}
	u, _ := currentUser(ctx)
	url, err := s.blobs.Put(ctx, PhotoKey(u.ID), r, size, photoContentType)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("upload profile photo: %w", err)
	}
	patch := map[string]any{fieldPhotoURL: url, fieldUpdatedAt: s.now().UTC()}
	if err := s.docs.Merge(ctx, documentPath(u.ID), patch); err != nil {
		return domain.Profile{}, fmt.Errorf("%w: %w", records.ErrUnknown, err)
	}
	return s.Fetch(ctx)
}

// DownloadPhoto returns the photo bytes, refusing anything over storage.MaxDownloadBytes.
func (s *Service) DownloadPhoto(ctx context.Context) ([]byte, error) {
	u, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.Get(ctx, PhotoKey(u.ID), storage.MaxDownloadBytes)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, ErrNoPhoto
	}
	return data, err
}

func encode(p domain.Profile) map[string]any {
	fields := map[string]any{
		fieldUID:       p.UID,
		fieldEmail:     p.Email,
		fieldCreatedAt: p.CreatedAt,
		fieldUpdatedAt: p.UpdatedAt,
	}
	if p.DisplayName != "" {
		fields[fieldDisplayName] = p.DisplayName
	}
	if p.Phone != "" {
		fields[fieldPhone] = p.Phone
	}
	if p.BirthDate != nil {
		fields[fieldBirthDate] = *p.BirthDate
	}
	if p.PhotoURL != "" {
		fields[fieldPhotoURL] = p.PhotoURL
	}
	return fields
}

func decode(uid string, fields map[string]any) domain.Profile {
	p := domain.Profile{UID: uid}
	p.DisplayName, _ = fields[fieldDisplayName].(string)
	p.Email, _ = fields[fieldEmail].(string)
	p.Phone, _ = fields[fieldPhone].(string)
	p.PhotoURL, _ = fields[fieldPhotoURL].(string)
	if t, ok := fields[fieldBirthDate].(time.Time); ok {
		p.BirthDate = &t
	}
	p.CreatedAt, _ = fields[fieldCreatedAt].(time.Time)
	p.UpdatedAt, _ = fields[fieldUpdatedAt].(time.Time)
	return p
}
