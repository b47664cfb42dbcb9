package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/studyhub-companion/internal/models"
)

// ErrValueNotFound indicates the key has no stored value.
var ErrValueNotFound = errors.New("stored value not found")

// SessionRepository persists the session key/value entries on this device.
type SessionRepository interface {
	Get(ctx context.Context, key string) (datatypes.JSON, error)
	Put(ctx context.Context, key string, value datatypes.JSON) error
	Delete(ctx context.Context, keys ...string) error
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository constructs a session repository backed by GORM.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Get(ctx context.Context, key string) (datatypes.JSON, error) {
	if key == "" {
		return nil, ErrValueNotFound
	}
	var entry models.StoredValue
	err := r.db.WithContext(ctx).Where(&models.StoredValue{Key: key}).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrValueNotFound
		}
		return nil, err
	}
	return entry.Value, nil
}

func (r *sessionRepository) Put(ctx context.Context, key string, value datatypes.JSON) error {
	entry := models.StoredValue{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

func (r *sessionRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where(map[string]interface{}{"key": keys}).Delete(&models.StoredValue{}).Error
}
