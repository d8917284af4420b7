package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/ProxyPool/internal/models"
	"gorm.io/gorm"
)

func setupSettingsDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:settings_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })
	return db
}

func TestCurrentFallsBackToDefaults(t *testing.T) {
	StoreDBConfig(time.Now(), nil)
	got := Current()
	if got != Defaults() {
		t.Fatalf("expected defaults, got %+v", got)
	}
	if got.ProxyCheckTimeout != 5100*time.Millisecond {
		t.Fatalf("expected 5.1s timeout, got %s", got.ProxyCheckTimeout)
	}
}

func TestCurrentParsesLenientValues(t *testing.T) {
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		LiveLastOKMinutesKey: json.RawMessage(`"20"`),
		ProxiesCheckKey:      json.RawMessage(`{"value":false}`),
		MaxProxiesCheckKey:   json.RawMessage(`50`),
		ProxyCheckTimeoutKey: json.RawMessage(`2.5`),
	})
	defer StoreDBConfig(time.Time{}, nil)

	got := Current()
	if got.LiveLastOKMinutes != 20 || got.ProxiesCheck || got.MaxProxiesCheck != 50 {
		t.Fatalf("unexpected values %+v", got)
	}
	if got.ProxyCheckTimeout != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s, got %s", got.ProxyCheckTimeout)
	}
	if got.LiveWindow() != 20*time.Minute {
		t.Fatalf("expected 20m live window, got %s", got.LiveWindow())
	}
}

func TestCurrentIgnoresInvalidValues(t *testing.T) {
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		MaxProxiesCheckKey:   json.RawMessage(`-3`),
		ProxyCheckTimeoutKey: json.RawMessage(`"soon"`),
	})
	defer StoreDBConfig(time.Time{}, nil)

	got := Current()
	if got.MaxProxiesCheck != DefaultMaxProxiesCheck {
		t.Fatalf("expected default max, got %d", got.MaxProxiesCheck)
	}
	if got.ProxyCheckTimeout != Defaults().ProxyCheckTimeout {
		t.Fatalf("expected default timeout, got %s", got.ProxyCheckTimeout)
	}
}

func TestSavePersistsAndRefreshes(t *testing.T) {
	db := setupSettingsDB(t)

	errSave := Save(context.Background(), db, map[string]json.RawMessage{
		MaxProxiesCheckKey: json.RawMessage(`7`),
	})
	if errSave != nil {
		t.Fatalf("save: %v", errSave)
	}
	if got := Current().MaxProxiesCheck; got != 7 {
		t.Fatalf("expected 7 after save, got %d", got)
	}

	errSave = Save(context.Background(), db, map[string]json.RawMessage{
		MaxProxiesCheckKey: json.RawMessage(`9`),
	})
	if errSave != nil {
		t.Fatalf("second save: %v", errSave)
	}
	var count int64
	db.Model(&models.Setting{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected upsert to keep one row, got %d", count)
	}
	if got := Current().MaxProxiesCheck; got != 9 {
		t.Fatalf("expected 9 after update, got %d", got)
	}
}

func TestSaveRejectsUnknownAndInvalid(t *testing.T) {
	db := setupSettingsDB(t)

	errSave := Save(context.Background(), db, map[string]json.RawMessage{"NOPE": json.RawMessage(`1`)})
	if !errors.Is(errSave, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", errSave)
	}
	errSave = Save(context.Background(), db, map[string]json.RawMessage{ProxiesCheckKey: json.RawMessage(`"maybe"`)})
	if !errors.Is(errSave, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", errSave)
	}

	var count int64
	db.Model(&models.Setting{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no rows written, got %d", count)
	}
}
