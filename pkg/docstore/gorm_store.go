package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// timestampKey tags encoded time values inside the jsonb payload.
const timestampKey = "__timestamp"

// DocumentModel is the GORM row backing one document.
type DocumentModel struct {
	Path       string         `gorm:"primaryKey"`
	Collection string         `gorm:"not null;index"`
	DocID      string         `gorm:"not null"`
	Data       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

// GormStore implements Store on Postgres jsonb rows.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the documents table and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("docstore: db required")
	}
	if err := db.AutoMigrate(&DocumentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate documents: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Set replaces the document at path.
func (s *GormStore) Set(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := splitDocPath(path)
	if err != nil {
		return err
	}
	data, err := encodeFields(withoutDeletes(fields))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	model := DocumentModel{
		Path:       Join(collection, id),
		Collection: collection,
		DocID:      id,
		Data:       data,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&model).Error
}

// Merge reads, patches and writes the document inside a row-locking transaction.
func (s *GormStore) Merge(ctx context.Context, path string, fields map[string]any) error {
	return s.merge(ctx, path, fields, false)
}

// Update is Merge that fails with ErrNotFound inside the transaction when the
// row is gone.
func (s *GormStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.merge(ctx, path, fields, true)
}

func (s *GormStore) merge(ctx context.Context, path string, fields map[string]any, mustExist bool) error {
	collection, id, err := splitDocPath(path)
	if err != nil {
		return err
	}
	key := Join(collection, id)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model DocumentModel
		current := make(map[string]any)
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "path = ?", key).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if mustExist {
				return ErrNotFound
			}
			model = DocumentModel{Path: key, Collection: collection, DocID: id, CreatedAt: time.Now().UTC()}
		case err != nil:
			return err
		default:
			current, err = decodeFields(model.Data)
			if err != nil {
				return err
			}
		}
		mergeFields(current, fields)
		data, err := encodeFields(current)
		if err != nil {
			return err
		}
		model.Data = data
		model.UpdatedAt = time.Now().UTC()
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "path"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).Create(&model).Error
	})
}

// Get returns the document at path.
func (s *GormStore) Get(ctx context.Context, path string) (Document, bool, error) {
	collection, id, err := splitDocPath(path)
	if err != nil {
		return Document{}, false, err
	}
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "path = ?", Join(collection, id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Document{}, false, nil
		}
		return Document{}, false, err
	}
	doc, err := documentFromModel(model)
	if err != nil {
		return Document{}, false, err
	}
	return doc, true, nil
}

// List returns all documents of a collection ordered by path.
func (s *GormStore) List(ctx context.Context, collection string) ([]Document, error) {
	collection, err := validCollection(collection)
	if err != nil {
		return nil, err
	}
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Where("collection = ?", collection).Order("path ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]Document, 0, len(models))
	for _, m := range models {
		doc, err := documentFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, nil
}

// Delete removes the document at path.
func (s *GormStore) Delete(ctx context.Context, path string) error {
	collection, id, err := splitDocPath(path)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("path = ?", Join(collection, id)).Delete(&DocumentModel{}).Error
}

func documentFromModel(m DocumentModel) (Document, error) {
	fields, err := decodeFields(m.Data)
	if err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", m.Path, err)
	}
	return Document{ID: m.DocID, Path: m.Path, Fields: fields, UpdateTime: m.UpdatedAt}, nil
}

func encodeFields(fields map[string]any) (datatypes.JSON, error) {
	raw, err := json.Marshal(encodeValue(fields))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return map[string]any{timestampKey: t.UTC().Format(time.RFC3339Nano)}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = encodeValue(e)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			out = append(out, encodeValue(e))
		}
		return out
	default:
		return v
	}
}

func decodeFields(data datatypes.JSON) (map[string]any, error) {
	out := make(map[string]any)
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for k, v := range out {
		out[k] = decodeValue(v)
	}
	return out, nil
}

func decodeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if raw, ok := t[timestampKey].(string); ok && len(t) == 1 {
			if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				return ts
			}
		}
		for k, e := range t {
			t[k] = decodeValue(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = decodeValue(e)
		}
		return t
	default:
		return v
	}
}
