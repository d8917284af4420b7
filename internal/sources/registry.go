// Package sources manages proxy sources and the ingestion pipeline that turns
// their entries into proxy records.
package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/router-for-me/ProxyPool/internal/entries"
	"github.com/router-for-me/ProxyPool/internal/events"
	"github.com/router-for-me/ProxyPool/internal/fetch"
	"github.com/router-for-me/ProxyPool/internal/models"
	"github.com/router-for-me/ProxyPool/internal/proxies"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// recheckAfter is how long a source rests between two ingestions.
const recheckAfter = time.Hour

var (
	// ErrSourceNotFound indicates the source does not exist.
	ErrSourceNotFound = errors.New("source not found")
	// ErrSourceExists indicates a source with the same ID already exists.
	ErrSourceExists = errors.New("source already exists")
	// ErrInvalidSource indicates a malformed source ID or default.
	ErrInvalidSource = errors.New("invalid source")
	// ErrEntriesFetch indicates the remote list could not be fetched and nothing else was available.
	ErrEntriesFetch = errors.New("entries fetch failed")
)

// ProxyStore is the part of the proxy registry the ingestion pipeline writes to.
type ProxyStore interface {
	InsertNew(ctx context.Context, rows []models.Proxy) (int, error)
	DeleteBySource(ctx context.Context, sourceID string) (int64, error)
	Stats(ctx context.Context, sourceIDs []string) (proxies.Stats, error)
}

// Registry owns source records.
type Registry struct {
	db           *gorm.DB
	proxies      ProxyStore
	fetcher      fetch.Fetcher
	sink         events.Sink
	fetchTimeout time.Duration
	now          func() time.Time

	checkRunning atomic.Bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) { r.now = fn }
}

// WithEventSink sets the sink receiving ingestion diagnostics.
func WithEventSink(sink events.Sink) Option {
	return func(r *Registry) { r.sink = sink }
}

// WithFetchTimeout bounds remote list downloads.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		if timeout > 0 {
			r.fetchTimeout = timeout
		}
	}
}

// NewRegistry constructs a source registry.
func NewRegistry(db *gorm.DB, store ProxyStore, fetcher fetch.Fetcher, opts ...Option) *Registry {
	r := &Registry{
		db:           db,
		proxies:      store,
		fetcher:      fetcher,
		sink:         events.LogSink{},
		fetchTimeout: fetch.DefaultTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts an empty source with the given ID.
func (r *Registry) Create(ctx context.Context, id string) (models.Source, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Source{}, fmt.Errorf("%w: empty id", ErrInvalidSource)
	}
	var existing int64
	if errCount := r.db.WithContext(ctx).Model(&models.Source{}).Where("id = ?", id).Count(&existing).Error; errCount != nil {
		return models.Source{}, errCount
	}
	if existing > 0 {
		return models.Source{}, fmt.Errorf("%w: %s", ErrSourceExists, id)
	}
	src := models.Source{ID: id, Entries: datatypes.JSONSlice[string]{}, CreatedAt: r.now().UTC()}
	if errCreate := r.db.WithContext(ctx).Create(&src).Error; errCreate != nil {
		return models.Source{}, fmt.Errorf("create source: %w", errCreate)
	}
	return src, nil
}

// Get loads a source by ID.
func (r *Registry) Get(ctx context.Context, id string) (models.Source, error) {
	var src models.Source
	if errFind := r.db.WithContext(ctx).First(&src, "id = ?", strings.TrimSpace(id)).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Source{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
		}
		return models.Source{}, errFind
	}
	return src, nil
}

// List returns every source ordered by ID.
func (r *Registry) List(ctx context.Context) ([]models.Source, error) {
	var rows []models.Source
	if errFind := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// Delete removes the source after removing its proxies.
func (r *Registry) Delete(ctx context.Context, id string) error {
	src, errGet := r.Get(ctx, id)
	if errGet != nil {
		return errGet
	}
	removed, errProxies := r.proxies.DeleteBySource(ctx, src.ID)
	if errProxies != nil {
		return errProxies
	}
	if errDelete := r.db.WithContext(ctx).Delete(&models.Source{}, "id = ?", src.ID).Error; errDelete != nil {
		return fmt.Errorf("delete source: %w", errDelete)
	}
	log.Infof("sources: deleted %s with %d proxies", src.ID, removed)
	return nil
}

// UpdateEntries replaces the manually curated entries.
func (r *Registry) UpdateEntries(ctx context.Context, id string, list []string) error {
	cleaned := make(datatypes.JSONSlice[string], 0, len(list))
	for _, entry := range list {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return r.update(ctx, id, map[string]any{"entries": cleaned})
}

// UpdateEntriesURL sets or clears the remote list location.
func (r *Registry) UpdateEntriesURL(ctx context.Context, id string, entriesURL *string) error {
	return r.update(ctx, id, map[string]any{"entries_url": models.NormalizeEntriesURL(entriesURL)})
}

// UpdateDefaults replaces the defaults used to complete partial entries.
func (r *Registry) UpdateDefaults(ctx context.Context, id string, d entries.Defaults) error {
	if errValidate := validateDefaults(d); errValidate != nil {
		return errValidate
	}
	return r.update(ctx, id, map[string]any{
		"default_protocol": d.Protocol,
		"default_username": blankToNil(d.Username),
		"default_password": blankToNil(d.Password),
		"default_port":     d.Port,
	})
}

func (r *Registry) update(ctx context.Context, id string, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Source{}).Where("id = ?", strings.TrimSpace(id)).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update source: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return nil
}

func validateDefaults(d entries.Defaults) error {
	if d.Port != nil && (*d.Port < 1 || *d.Port > 65535) {
		return fmt.Errorf("%w: default port %d out of range", ErrInvalidSource, *d.Port)
	}
	if d.Protocol != nil {
		if _, errParse := models.ParseProtocol(string(*d.Protocol)); errParse != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSource, errParse)
		}
	}
	return nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// Ingest collects the source's static and remote entries and stores the new proxies.
// It returns the number of proxies actually created.
func (r *Registry) Ingest(ctx context.Context, id string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	src, errGet := r.Get(ctx, id)
	if errGet != nil {
		return 0, errGet
	}
	defaults := entries.DefaultsFromSource(&src)

	urls, rejected := entries.BuildAll(src.Entries, defaults)

	var errFetch error
	if src.EntriesURL != nil {
		body, errGetList := r.fetcher.Fetch(ctx, *src.EntriesURL, r.fetchTimeout)
		if errGetList != nil {
			errFetch = errGetList
			r.sink.Emit(ctx, events.SourceCheckFailed, map[string]any{
				"source_id": src.ID,
				"error":     errGetList.Error(),
			})
		} else {
			remoteURLs, remoteRejected := entries.BuildAll(entries.ParseList(string(body)), defaults)
			urls = append(urls, remoteURLs...)
			rejected = append(rejected, remoteRejected...)
		}
	}

	for _, rej := range rejected {
		r.sink.Emit(ctx, events.EntryRejected, map[string]any{
			"source_id": src.ID,
			"entry":     rej.Entry,
			"error":     rej.Err.Error(),
		})
	}

	now := r.now().UTC()
	rows := make([]models.Proxy, 0, len(urls))
	for _, u := range urls {
		p, errNew := models.NewProxy(src.ID, u, now)
		if errNew != nil {
			log.WithError(errNew).Warnf("sources: invalid proxy url (source=%s)", src.ID)
			continue
		}
		rows = append(rows, p)
	}

	created, errInsert := r.proxies.InsertNew(ctx, rows)

	// checked_at is updated even when the insert fails.
	if errUpdate := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ?", src.ID).
		Update("checked_at", now).Error; errUpdate != nil {
		return created, fmt.Errorf("update source checked_at: %w", errUpdate)
	}
	if errInsert != nil {
		return 0, fmt.Errorf("insert proxies: %w", errInsert)
	}

	if errFetch != nil && len(src.Entries) == 0 {
		return created, fmt.Errorf("%w: %v", ErrEntriesFetch, errFetch)
	}
	if created > 0 {
		log.Infof("sources: %s yielded %d new proxies", src.ID, created)
	}
	return created, nil
}

// CheckNext ingests the source that has waited longest, if any is due.
// A call that arrives while another is still running returns immediately.
func (r *Registry) CheckNext(ctx context.Context) (string, bool) {
	if r == nil || r.db == nil {
		return "", false
	}
	if !r.checkRunning.CompareAndSwap(false, true) {
		return "", false
	}
	defer r.checkRunning.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}

	var ids []string
	if errFind := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("checked_at IS NULL OR checked_at < ?", r.now().Add(-recheckAfter)).
		Order("checked_at IS NOT NULL, checked_at ASC").
		Limit(1).
		Pluck("id", &ids).Error; errFind != nil {
		log.WithError(errFind).Warn("sources: select next source failed")
		return "", false
	}
	if len(ids) == 0 {
		return "", false
	}

	if _, errIngest := r.Ingest(ctx, ids[0]); errIngest != nil {
		log.WithError(errIngest).Warnf("sources: check failed (source=%s)", ids[0])
	}
	return ids[0], true
}

// Stats returns proxy counts for every source plus the global unique-IP counts.
func (r *Registry) Stats(ctx context.Context) (proxies.Stats, error) {
	var ids []string
	if errFind := r.db.WithContext(ctx).Model(&models.Source{}).Order("id ASC").Pluck("id", &ids).Error; errFind != nil {
		return proxies.Stats{}, errFind
	}
	return r.proxies.Stats(ctx, ids)
}
