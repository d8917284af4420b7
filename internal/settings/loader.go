package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/ProxyPool/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RefreshDBConfigSnapshot reloads all settings from the database and updates the in-memory snapshot.
//
// This is required at process startup; otherwise Current() returns defaults until
// settings are updated through the API (which triggers refresh).
func RefreshDBConfigSnapshot(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := db.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	maxUpdatedAt := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
		if rowUpdatedAt := row.UpdatedAt.UTC(); rowUpdatedAt.After(maxUpdatedAt) {
			maxUpdatedAt = rowUpdatedAt
		}
	}

	StoreDBConfig(maxUpdatedAt, values)
	return nil
}

// Save upserts the given settings and refreshes the snapshot.
// Unknown keys or values that do not parse for their key are rejected before anything is written.
func Save(ctx context.Context, db *gorm.DB, values map[string]json.RawMessage) error {
	if db == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC()
	rows := make([]models.Setting, 0, len(values))
	for key, raw := range values {
		key = strings.TrimSpace(key)
		if !IsKnownKey(key) {
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		if errValidate := validateValue(key, raw); errValidate != nil {
			return errValidate
		}
		rows = append(rows, models.Setting{Key: key, Value: raw, UpdatedAt: now})
	}
	if len(rows) > 0 {
		if errUpsert := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&rows).Error; errUpsert != nil {
			return errUpsert
		}
	}
	return RefreshDBConfigSnapshot(ctx, db)
}
