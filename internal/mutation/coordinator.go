// Package mutation sequences uploads, record writes and reminder updates for
// the create, update and delete flows.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"examtrack/internal/records"
	"examtrack/internal/util"
	"examtrack/pkg/domain"
	"examtrack/pkg/identity"
	"examtrack/pkg/notify"
	"examtrack/pkg/storage"
)

// Phase is the progress of one mutation.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseUploading  Phase = "uploading"
	PhasePersisting Phase = "persisting"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// Observer is told about every phase change of a mutation.
type Observer func(recordID string, phase Phase)

// RecordWriter is the subset of the record service the coordinator writes through.
type RecordWriter interface {
	Create(ctx context.Context, r domain.Record) (domain.Record, error)
	Update(ctx context.Context, r domain.Record) error
	Delete(ctx context.Context, id string) error
}

// Reminders schedules and cancels exam reminders.
type Reminders interface {
	Schedule(ctx context.Context, recordID, recordName string, target time.Time) notify.Result
	Cancel(ctx context.Context, recordID string) error
}

// Upload is one file to attach.
type Upload struct {
	// Filename is the client's original name; only its extension is kept.
	Filename    string
	Body        io.Reader
	Size        int64
	ContentType string
}

// CreateInput is a new record with an optional attachment.
type CreateInput struct {
	Record domain.Record
	File   *Upload
}

// UpdateInput carries the stored record, its edited version and new files.
type UpdateInput struct {
	Previous domain.Record
	Record   domain.Record
	Files    []Upload
}

// Config wires a Coordinator.
type Config struct {
	Records   RecordWriter
	Blobs     storage.BlobStore
	Reminders Reminders
	Users     identity.UserResolver
	Observer  Observer
}

// Coordinator runs record mutations that span several services.
type Coordinator struct {
	records   RecordWriter
	blobs     storage.BlobStore
	reminders Reminders
	users     identity.UserResolver
	observer  Observer
	now       func() time.Time
}

// New validates cfg and builds a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Records == nil {
		return nil, errors.New("record writer required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("blob store required")
	}
	if cfg.Users == nil {
		cfg.Users = identity.ContextResolver{}
	}
	return &Coordinator{
		records:   cfg.Records,
		blobs:     cfg.Blobs,
		reminders: cfg.Reminders,
		users:     cfg.Users,
		observer:  cfg.Observer,
		now:       time.Now,
	}, nil
}

// SetClock overrides the clock used for keys and reminder decisions.
func (c *Coordinator) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func (c *Coordinator) report(id string, phase Phase) {
	if c.observer != nil {
		c.observer(id, phase)
	}
}

func (c *Coordinator) currentUser(ctx context.Context) (string, error) {
	uid, err := c.users.CurrentUserID(ctx)
	if err != nil || strings.TrimSpace(uid) == "" {
		return "", records.ErrUnauthorized
	}
	return uid, nil
}

// Create uploads the optional file, then writes the record, then schedules
// reminders when the record has a future scheduled date. An upload failure
// returns *CreationFailedError and nothing is written.
func (c *Coordinator) Create(ctx context.Context, in CreateInput) (domain.Record, error) {
	r := in.Record
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	c.report(r.ID, PhaseIdle)
	uid, err := c.currentUser(ctx)
	if err != nil {
		c.report(r.ID, PhaseFailed)
		return domain.Record{}, err
	}
	if err := r.Validate(); err != nil {
		c.report(r.ID, PhaseFailed)
		return domain.Record{}, err
	}

	if in.File != nil {
		c.report(r.ID, PhaseUploading)
		friendly := FriendlyName(r.Name, in.File.Filename)
		key := path.Join("exams", uid, r.ID+"_"+friendly)
		file, err := c.upload(ctx, key, friendly, *in.File)
		if err != nil {
			c.report(r.ID, PhaseFailed)
			return domain.Record{}, &CreationFailedError{Err: err}
		}
		r.AttachedFiles = append(r.AttachedFiles, file)
	}

	c.report(r.ID, PhasePersisting)
	created, err := c.records.Create(ctx, r)
	if err != nil {
		c.report(r.ID, PhaseFailed)
		return domain.Record{}, err
	}
	if created.IsScheduled(c.now()) {
		c.schedule(ctx, created)
	}
	c.report(r.ID, PhaseSucceeded)
	return created, nil
}

// Update uploads every new file in parallel and persists the record only
// when all uploads succeed. New attachments are appended to the previous
// ones. Reminders of the previous scheduled date are canceled before new
// ones are scheduled.
func (c *Coordinator) Update(ctx context.Context, in UpdateInput) (domain.Record, error) {
	r := in.Record
	r.ID = in.Previous.ID
	c.report(r.ID, PhaseIdle)
	uid, err := c.currentUser(ctx)
	if err != nil {
		c.report(r.ID, PhaseFailed)
		return domain.Record{}, err
	}
	r.AttachedFiles = append([]domain.AttachedFile(nil), in.Previous.AttachedFiles...)
	if r.LegacyFileURL == "" {
		r.LegacyFileURL = in.Previous.LegacyFileURL
	}
	if err := r.Validate(); err != nil {
		c.report(r.ID, PhaseFailed)
		return domain.Record{}, err
	}

	if len(in.Files) > 0 {
		c.report(r.ID, PhaseUploading)
		added, err := c.uploadAll(ctx, uid, r, in.Files)
		if err != nil {
			c.report(r.ID, PhaseFailed)
			return domain.Record{}, err
		}
		r.AttachedFiles = append(r.AttachedFiles, added...)
	}

	c.report(r.ID, PhasePersisting)
	if err := c.records.Update(ctx, r); err != nil {
		c.report(r.ID, PhaseFailed)
		return domain.Record{}, err
	}
	if in.Previous.ScheduledDate != nil {
		c.cancel(ctx, r.ID)
	}
	if r.IsScheduled(c.now()) {
		c.schedule(ctx, r)
	}
	c.report(r.ID, PhaseSucceeded)
	return r, nil
}

// Delete cancels the record's reminders and deletes it. A failed cancel does
// not stop the delete.
func (c *Coordinator) Delete(ctx context.Context, r domain.Record) error {
	c.report(r.ID, PhaseIdle)
	if _, err := c.currentUser(ctx); err != nil {
		c.report(r.ID, PhaseFailed)
		return err
	}
	if r.ScheduledDate != nil {
		c.cancel(ctx, r.ID)
	}
	c.report(r.ID, PhasePersisting)
	if err := c.records.Delete(ctx, r.ID); err != nil {
		c.report(r.ID, PhaseFailed)
		return err
	}
	c.report(r.ID, PhaseSucceeded)
	return nil
}

// RemoveAttachment persists r without the file fileID, then deletes its blob.
// A failed blob delete is logged and leaves the record updated. LegacyFileID
// clears the legacy file URL.
func (c *Coordinator) RemoveAttachment(ctx context.Context, r domain.Record, fileID string) (domain.Record, error) {
	c.report(r.ID, PhaseIdle)
	if _, err := c.currentUser(ctx); err != nil {
		c.report(r.ID, PhaseFailed)
		return domain.Record{}, err
	}
	var removed domain.AttachedFile
	switch {
	case fileID == LegacyFileID && r.LegacyFileURL != "":
		r.LegacyFileURL = ""
	default:
		f, ok := r.FileByID(fileID)
		if !ok {
			c.report(r.ID, PhaseFailed)
			return domain.Record{}, ErrFileNotFound
		}
		removed = f
		kept := make([]domain.AttachedFile, 0, len(r.AttachedFiles)-1)
		for _, other := range r.AttachedFiles {
			if other.ID != fileID {
				kept = append(kept, other)
			}
		}
		r.AttachedFiles = kept
	}

	c.report(r.ID, PhasePersisting)
	if err := c.records.Update(ctx, r); err != nil {
		c.report(r.ID, PhaseFailed)
		return domain.Record{}, err
	}
	c.discard(ctx, []string{removed.Key})
	c.report(r.ID, PhaseSucceeded)
	return r, nil
}

// ReadAttachment downloads the blob of file fileID, capped at
// storage.MaxDownloadBytes. Files without a stored key return
// ErrFileNotFound; their URL is the only way to reach them.
func (c *Coordinator) ReadAttachment(ctx context.Context, r domain.Record, fileID string) (domain.AttachedFile, []byte, error) {
	if _, err := c.currentUser(ctx); err != nil {
		return domain.AttachedFile{}, nil, err
	}
	f, ok := r.FileByID(fileID)
	if !ok || f.Key == "" {
		return domain.AttachedFile{}, nil, ErrFileNotFound
	}
	data, err := c.blobs.Get(ctx, f.Key, storage.MaxDownloadBytes)
	if err != nil {
		return domain.AttachedFile{}, nil, err
	}
	return f, data, nil
}

// uploadAll waits for every upload. Siblings are not canceled when one
// fails; the first error is returned and any uploaded blobs are deleted.
func (c *Coordinator) uploadAll(ctx context.Context, uid string, r domain.Record, files []Upload) ([]domain.AttachedFile, error) {
	stamp := c.now().UnixMilli()
	results := make([]domain.AttachedFile, len(files))
	keys := make([]string, len(files))
	var g errgroup.Group
	for i, f := range files {
		i, f := i, f
		friendly := FriendlyName(r.Name, f.Filename)
		if len(files) > 1 {
			friendly = indexedName(friendly, i+1)
		}
		key := path.Join("exams", uid, fmt.Sprintf("%s_%s_%d", r.ID, friendly, stamp))
		g.Go(func() error {
			file, err := c.upload(ctx, key, friendly, f)
			if err != nil {
				return err
			}
			results[i] = file
			keys[i] = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.discard(ctx, keys)
		return nil, err
	}
	return results, nil
}

func (c *Coordinator) upload(ctx context.Context, key, friendly string, f Upload) (domain.AttachedFile, error) {
	if f.Body == nil {
		return domain.AttachedFile{}, fmt.Errorf("upload %s: empty body", friendly)
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeFor(key)
	}
	url, err := c.blobs.Put(ctx, key, f.Body, f.Size, contentType)
	if err != nil {
		return domain.AttachedFile{}, fmt.Errorf("upload %s: %w", friendly, err)
	}
	return domain.AttachedFile{ID: uuid.NewString(), URL: url, Name: friendly, Key: key}, nil
}

// discard removes blobs that no record references.
func (c *Coordinator) discard(ctx context.Context, keys []string) {
	logger := util.LoggerFromContext(ctx)
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := c.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
			logger.Warn("orphaned upload not removed", "key", key, "err", err)
		}
	}
}

func (c *Coordinator) schedule(ctx context.Context, r domain.Record) {
	if c.reminders == nil || r.ScheduledDate == nil {
		return
	}
	if res := c.reminders.Schedule(ctx, r.ID, r.Name, *r.ScheduledDate); res != notify.ResultScheduled {
		util.LoggerFromContext(ctx).Warn("exam reminders not scheduled", "record_id", r.ID, "result", res.String())
	}
}

func (c *Coordinator) cancel(ctx context.Context, id string) {
	if c.reminders == nil {
		return
	}
	if err := c.reminders.Cancel(ctx, id); err != nil {
		util.LoggerFromContext(ctx).Warn("exam reminders not canceled", "record_id", id, "err", err)
	}
}

// FriendlyName is the record name plus the source file's extension, or
// ".pdf" when the source has none. Path separators are replaced.
func FriendlyName(recordName, sourceFilename string) string {
	base := strings.TrimSpace(recordName)
	if base == "" {
		base = "exam"
	}
	base = strings.NewReplacer("/", "-", "\\", "-").Replace(base)
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(sourceFilename, "\\", "/")))
	if ext == "" || ext == "." {
		ext = ".pdf"
	}
	return base + ext
}

func indexedName(friendly string, n int) string {
	ext := path.Ext(friendly)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(friendly, ext), n, ext)
}
