package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Source is an ingestion configuration that yields proxy entries.
type Source struct {
	ID string `gorm:"type:varchar(255);primaryKey"` // Caller-assigned identifier.

	DefaultProtocol *Protocol `gorm:"type:varchar(16)"`  // Protocol for partial entries.
	DefaultUsername *string   `gorm:"type:varchar(255)"` // Username for partial entries.
	DefaultPassword *string   `gorm:"type:varchar(255)"` // Password for partial entries.
	DefaultPort     *int      `gorm:"type:integer"`      // Port for entries without one.

	EntriesURL *string                     `gorm:"type:text"`  // Remote entry list location.
	Entries    datatypes.JSONSlice[string] `gorm:"type:jsonb"` // Manually curated entries.

	CreatedAt time.Time  `gorm:"not null;index"` // Creation timestamp.
	CheckedAt *time.Time `gorm:"index"`          // Last ingestion timestamp.
}

// NormalizeEntriesURL trims the remote list URL and maps blanks to nil.
func NormalizeEntriesURL(raw *string) *string {
	if raw == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
