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

// PreferenceRepository stores device-local per-group preferences.
type PreferenceRepository interface {
	Get(ctx context.Context, groupID, kind string) (models.DevicePreference, error)
	Upsert(ctx context.Context, groupID, kind string, value datatypes.JSON) (models.DevicePreference, error)
}

type preferenceRepository struct {
	db *gorm.DB
}

// NewPreferenceRepository constructs a preference repository backed by GORM.
func NewPreferenceRepository(db *gorm.DB) PreferenceRepository {
	return &preferenceRepository{db: db}
}

func (r *preferenceRepository) Get(ctx context.Context, groupID, kind string) (models.DevicePreference, error) {
	var pref models.DevicePreference
	err := r.db.WithContext(ctx).Where("group_id = ? AND kind = ?", groupID, kind).First(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DevicePreference{}, ErrValueNotFound
		}
		return models.DevicePreference{}, err
	}
	return pref, nil
}

func (r *preferenceRepository) Upsert(ctx context.Context, groupID, kind string, value datatypes.JSON) (models.DevicePreference, error) {
	now := time.Now().UTC()
	pref := models.DevicePreference{GroupID: groupID, Kind: kind, Value: value, CreatedAt: now, UpdatedAt: now}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&pref).Error
	if err != nil {
		return models.DevicePreference{}, err
	}
	return r.Get(ctx, groupID, kind)
}
