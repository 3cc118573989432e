package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRecord is returned when a record is missing required data.
var ErrInvalidRecord = errors.New("invalid record")

// AttachedFile references a blob uploaded for a record.
type AttachedFile struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
	// Key is the blob store key. Files attached by older clients have none.
	Key string `json:"-"`
}

// Record is a single medical exam owned by one user.
type Record struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Location         string         `json:"location"`
	RequestingDoctor string         `json:"requestingDoctor"`
	ReasonForVisit   string         `json:"reasonForVisit"`
	RegisteredDate   time.Time      `json:"registeredDate"`
	ResultReadyDate  *time.Time     `json:"resultReadyDate,omitempty"`
	ScheduledDate    *time.Time     `json:"scheduledDate,omitempty"`
	AttachedFiles    []AttachedFile `json:"attachedFiles"`
	LegacyFileURL    string         `json:"legacyFileUrl,omitempty"`
}

// Validate checks the persistence invariants of a record.
func (r Record) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"name", r.Name},
		{"location", r.Location},
		{"requestingDoctor", r.RequestingDoctor},
		{"reasonForVisit", r.ReasonForVisit},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidRecord, f.field)
		}
	}
	for i, f := range r.AttachedFiles {
		if f.ID == "" || f.URL == "" || f.Name == "" {
			return fmt.Errorf("%w: attached file %d is incomplete", ErrInvalidRecord, i)
		}
	}
	return nil
}

// FileByID returns the attached file with id.
func (r Record) FileByID(id string) (AttachedFile, bool) {
	for _, f := range r.AttachedFiles {
		if f.ID == id {
			return f, true
		}
	}
	return AttachedFile{}, false
}

// IsScheduled reports whether the record has a scheduled date after now.
func (r Record) IsScheduled(now time.Time) bool {
	return r.ScheduledDate != nil && r.ScheduledDate.After(now)
}

// IsCompleted reports whether the exam date has passed and nothing is pending.
func (r Record) IsCompleted(now time.Time) bool {
	return r.RegisteredDate.Before(now) && !r.IsScheduled(now)
}

// HasResult reports whether any file is attached, including the legacy single file.
func (r Record) HasResult() bool {
	return len(r.AttachedFiles) > 0 || r.LegacyFileURL != ""
}

// Profile is the one-to-one user profile document.
type Profile struct {
	UID         string     `json:"uid"`
	DisplayName string     `json:"displayName,omitempty"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone,omitempty"`
	BirthDate   *time.Time `json:"birthDate,omitempty"`
	PhotoURL    string     `json:"photoUrl,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Account is an identity-service login.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
