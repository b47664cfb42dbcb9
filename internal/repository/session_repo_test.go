package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/studyhub-companion/internal/models"
)

func setupTestDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models...))
	return db
}

func TestSessionRepositoryPutOverwritesAndDeletes(t *testing.T) {
	db := setupTestDB(t, &models.StoredValue{})
	repo := NewSessionRepository(db)
	ctx := context.Background()

	_, err := repo.Get(ctx, models.StoredKeyToken)
	require.ErrorIs(t, err, ErrValueNotFound)

	require.NoError(t, repo.Put(ctx, models.StoredKeyToken, datatypes.JSON(`"first"`)))
	require.NoError(t, repo.Put(ctx, models.StoredKeyToken, datatypes.JSON(`"second"`)))
	require.NoError(t, repo.Put(ctx, models.StoredKeyUser, datatypes.JSON(`{"id":"u1"}`)))

	value, err := repo.Get(ctx, models.StoredKeyToken)
	require.NoError(t, err)
	require.JSONEq(t, `"second"`, string(value))

	var count int64
	require.NoError(t, db.Model(&models.StoredValue{}).Count(&count).Error)
	require.Equal(t, int64(2), count)

	require.NoError(t, repo.Delete(ctx, models.StoredKeyToken, models.StoredKeyUser))
	_, err = repo.Get(ctx, models.StoredKeyUser)
	require.ErrorIs(t, err, ErrValueNotFound)
	require.NoError(t, repo.Delete(ctx))
}

func TestPreferenceRepositoryUpsertPerGroupAndKind(t *testing.T) {
	db := setupTestDB(t, &models.DevicePreference{})
	repo := NewPreferenceRepository(db)
	ctx := context.Background()

	_, err := repo.Get(ctx, "g1", models.PreferenceNotes)
	require.ErrorIs(t, err, ErrValueNotFound)

	first, err := repo.Upsert(ctx, "g1", models.PreferenceNotes, datatypes.JSON(`"read chapter 3"`))
	require.NoError(t, err)
	updated, err := repo.Upsert(ctx, "g1", models.PreferenceNotes, datatypes.JSON(`"read chapter 4"`))
	require.NoError(t, err)
	require.Equal(t, first.ID, updated.ID)
	require.JSONEq(t, `"read chapter 4"`, string(updated.Value))

	_, err = repo.Upsert(ctx, "g1", models.PreferenceChecklist, datatypes.JSON(`[{"text":"slides","done":false}]`))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, "g2", models.PreferenceNotes, datatypes.JSON(`"other"`))
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.DevicePreference{}).Count(&count).Error)
	require.Equal(t, int64(3), count)
}
