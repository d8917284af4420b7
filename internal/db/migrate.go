package db

import (
	"fmt"

	"github.com/router-for-me/ProxyPool/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for sources, proxies and settings.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Source{},
		&models.Proxy{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
