package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/router-for-me/ProxyPool/internal/entries"
	"github.com/router-for-me/ProxyPool/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidImport indicates a TOML payload that does not describe valid sources.
var ErrInvalidImport = errors.New("invalid toml data")

type sourceDocument struct {
	Sources []sourceEntry `toml:"sources"`
}

type sourceEntry struct {
	ID              string   `toml:"id"`
	DefaultProtocol *string  `toml:"default_protocol,omitempty"`
	DefaultUsername *string  `toml:"default_username,omitempty"`
	DefaultPassword *string  `toml:"default_password,omitempty"`
	DefaultPort     *int     `toml:"default_port,omitempty"`
	EntriesURL      *string  `toml:"entries_url,omitempty"`
	Entries         []string `toml:"entries"`
}

// ExportTOML renders every source without timestamps.
func (r *Registry) ExportTOML(ctx context.Context) ([]byte, error) {
	rows, errList := r.List(ctx)
	if errList != nil {
		return nil, errList
	}
	doc := sourceDocument{Sources: make([]sourceEntry, 0, len(rows))}
	for i := range rows {
		src := rows[i]
		entry := sourceEntry{
			ID:              src.ID,
			DefaultUsername: src.DefaultUsername,
			DefaultPassword: src.DefaultPassword,
			DefaultPort:     src.DefaultPort,
			EntriesURL:      src.EntriesURL,
			Entries:         append([]string{}, src.Entries...),
		}
		if src.DefaultProtocol != nil {
			protocol := string(*src.DefaultProtocol)
			entry.DefaultProtocol = &protocol
		}
		doc.Sources = append(doc.Sources, entry)
	}
	out, errMarshal := toml.Marshal(doc)
	if errMarshal != nil {
		return nil, fmt.Errorf("export sources: %w", errMarshal)
	}
	return out, nil
}

// ImportTOML upserts the sources described by raw and returns how many were written.
// The whole payload is validated before anything is stored.
func (r *Registry) ImportTOML(ctx context.Context, raw []byte) (int, error) {
	var doc sourceDocument
	if errUnmarshal := toml.Unmarshal(raw, &doc); errUnmarshal != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidImport, errUnmarshal)
	}

	now := r.now().UTC()
	seen := make(map[string]struct{}, len(doc.Sources))
	rows := make([]models.Source, 0, len(doc.Sources))
	for i, entry := range doc.Sources {
		src, errConvert := entry.toModel(now)
		if errConvert != nil {
			return 0, fmt.Errorf("%w: sources[%d]: %v", ErrInvalidImport, i, errConvert)
		}
		if _, dup := seen[src.ID]; dup {
			return 0, fmt.Errorf("%w: duplicate source id %s", ErrInvalidImport, src.ID)
		}
		seen[src.ID] = struct{}{}
		rows = append(rows, src)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"default_protocol",
				"default_username",
				"default_password",
				"default_port",
				"entries_url",
				"entries",
			}),
		}).Create(&rows).Error
	})
	if errTx != nil {
		return 0, fmt.Errorf("import sources: %w", errTx)
	}
	return len(rows), nil
}

func (e sourceEntry) toModel(now time.Time) (models.Source, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return models.Source{}, errors.New("missing id")
	}
	d := entries.Defaults{Username: e.DefaultUsername, Password: e.DefaultPassword, Port: e.DefaultPort}
	if e.DefaultProtocol != nil {
		protocol, errParse := models.ParseProtocol(*e.DefaultProtocol)
		if errParse != nil {
			return models.Source{}, errParse
		}
		d.Protocol = &protocol
	}
	if errValidate := validateDefaults(d); errValidate != nil {
		return models.Source{}, errValidate
	}
	list := make(datatypes.JSONSlice[string], 0, len(e.Entries))
	for _, entry := range e.Entries {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return models.Source{
		ID:              id,
		DefaultProtocol: d.Protocol,
		DefaultUsername: blankToNil(d.Username),
		DefaultPassword: blankToNil(d.Password),
		DefaultPort:     d.Port,
		EntriesURL:      models.NormalizeEntriesURL(e.EntriesURL),
		Entries:         list,
		CreatedAt:       now,
	}, nil
}
