// Package proxies owns proxy records: health checks, the deletion policy and
// the queries behind the live list and statistics.
package proxies

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	dbutil "github.com/router-for-me/ProxyPool/internal/db"
	"github.com/router-for-me/ProxyPool/internal/models"
	"github.com/router-for-me/ProxyPool/internal/probe"
	"github.com/router-for-me/ProxyPool/internal/ratecounter"
	internalsettings "github.com/router-for-me/ProxyPool/internal/settings"
	"github.com/router-for-me/ProxyPool/internal/util"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// recheckAfter is how old a check must be before the proxy is re-selected.
	recheckAfter = 5 * time.Minute
	// deleteAfter is how long a proxy may go without a successful check.
	deleteAfter = time.Hour
	// rateWindow is the throughput observation window.
	rateWindow = time.Minute
	// insertBatchSize bounds the number of rows per INSERT statement.
	insertBatchSize = 500
	// checkLockStripes is the number of mutexes shared by proxy ids.
	checkLockStripes = 64
)

// ErrProxyNotFound indicates the proxy does not exist (or was deleted meanwhile).
var ErrProxyNotFound = errors.New("proxy not found")

// Registry is the authoritative store-backed collection of proxies.
type Registry struct {
	db       *gorm.DB
	prober   probe.Prober
	counter  *ratecounter.SlidingWindow
	settings func() internalsettings.Values
	now      func() time.Time

	batchRunning atomic.Bool
	checkLocks   [checkLockStripes]sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) { r.now = fn }
}

// WithSettings overrides the runtime settings source.
func WithSettings(fn func() internalsettings.Values) Option {
	return func(r *Registry) { r.settings = fn }
}

// WithCounter overrides the check throughput counter.
func WithCounter(counter *ratecounter.SlidingWindow) Option {
	return func(r *Registry) { r.counter = counter }
}

// NewRegistry constructs a proxy registry.
func NewRegistry(db *gorm.DB, prober probe.Prober, opts ...Option) *Registry {
	r := &Registry{
		db:       db,
		prober:   prober,
		counter:  ratecounter.New(rateWindow),
		settings: internalsettings.Current,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ChecksPerMinute reports the check rate observed over the counter window,
// scaled to one minute.
func (r *Registry) ChecksPerMinute() int {
	if r == nil {
		return 0
	}
	window := r.counter.Window()
	if window <= 0 {
		return 0
	}
	return int(int64(r.counter.Count()) * int64(time.Minute) / int64(window))
}

// CheckResult describes the update applied by a single check.
type CheckResult struct {
	ID           string        `json:"id"`
	Status       models.Status `json:"status"`
	CheckedAt    time.Time     `json:"checked_at"`
	LastOKAt     *time.Time    `json:"last_ok_at,omitempty"`
	ExternalIP   *string       `json:"external_ip"`
	CheckHistory []bool        `json:"check_history"`
	Deleted      bool          `json:"deleted"`
}

// BatchResult summarizes one sweep.
type BatchResult struct {
	Skipped bool `json:"skipped"`
	Checked int  `json:"checked"`
	OK      int  `json:"ok"`
	Down    int  `json:"down"`
	Deleted int  `json:"deleted"`
	Failed  int  `json:"failed"`
}

// CheckBatch checks the next batch of proxies concurrently.
// A call that arrives while another batch is still running returns immediately with Skipped set.
func (r *Registry) CheckBatch(ctx context.Context) BatchResult {
	if r == nil || r.db == nil {
		return BatchResult{Skipped: true}
	}
	if !r.batchRunning.CompareAndSwap(false, true) {
		return BatchResult{Skipped: true}
	}
	defer r.batchRunning.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}
	cfg := r.settings()
	if !cfg.ProxiesCheck {
		return BatchResult{}
	}

	candidates, errSelect := r.selectCandidates(ctx, cfg.MaxProxiesCheck)
	if errSelect != nil {
		log.WithError(errSelect).Warn("proxy check: select candidates failed")
		return BatchResult{}
	}
	if len(candidates) == 0 {
		return BatchResult{}
	}

	var (
		mu     sync.Mutex
		result BatchResult
	)
	g := new(errgroup.Group)
	g.SetLimit(len(candidates))
	for _, id := range candidates {
		g.Go(func() error {
			res, errCheck := r.Check(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if errCheck != nil {
				result.Failed++
				if !errors.Is(errCheck, ErrProxyNotFound) && !errors.Is(errCheck, context.Canceled) {
					log.WithError(errCheck).Warnf("proxy check: check failed (proxy=%s)", id)
				}
				return nil
			}
			result.Checked++
			switch res.Status {
			case models.StatusOK:
				result.OK++
			case models.StatusDown:
				result.Down++
			case models.StatusUnknown:
			}
			if res.Deleted {
				result.Deleted++
			}
			return nil
		})
	}
	_ = g.Wait()

	if result.Deleted > 0 {
		log.Infof("proxy check: checked=%d ok=%d down=%d deleted=%d", result.Checked, result.OK, result.Down, result.Deleted)
	}
	return result
}

// selectCandidates returns never-checked proxies first, then fills the quota with
// the oldest checks older than recheckAfter.
func (r *Registry) selectCandidates(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	var ids []string
	if errFind := r.db.WithContext(ctx).
		Model(&models.Proxy{}).
		Where("checked_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; errFind != nil {
		return nil, errFind
	}
	if len(ids) >= limit {
		return ids, nil
	}

	var stale []string
	if errFind := r.db.WithContext(ctx).
		Model(&models.Proxy{}).
		Where("checked_at < ?", r.now().Add(-recheckAfter)).
		Order("checked_at ASC").
		Limit(limit - len(ids)).
		Pluck("id", &stale).Error; errFind != nil {
		return nil, errFind
	}
	return append(ids, stale...), nil
}

// Check probes one proxy, records the outcome and applies the deletion policy.
func (r *Registry) Check(ctx context.Context, id string) (CheckResult, error) {
	if r == nil || r.db == nil {
		return CheckResult{}, errors.New("proxy registry: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p, errGet := r.Get(ctx, id)
	if errGet != nil {
		return CheckResult{}, errGet
	}

	externalIP, errProbe := r.prober.Probe(ctx, p.URL, r.settings().ProxyCheckTimeout)
	r.counter.Record()
	if errCtx := ctx.Err(); errCtx != nil {
		return CheckResult{}, errCtx
	}
	if errProbe != nil {
		log.WithError(errProbe).Debugf("proxy check: %s down", util.RedactProxyURL(p.URL))
	}

	success := errProbe == nil && strings.TrimSpace(externalIP) != ""
	return r.applyOutcome(ctx, p.ID, success, externalIP)
}

// applyOutcome records a probe outcome on the freshly read row. Checks of the
// same id are serialized by a striped mutex and, on postgres, a row lock.
func (r *Registry) applyOutcome(ctx context.Context, id string, success bool, externalIP string) (CheckResult, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	var result CheckResult
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if !dbutil.IsSQLite(tx) {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var p models.Proxy
		if errFind := query.First(&p, "id = ?", id).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrProxyNotFound
			}
			return fmt.Errorf("proxy check: reload: %w", errFind)
		}

		now := r.now().UTC()
		p.CheckedAt = &now
		p.CheckHistory = models.PrependHistory(p.CheckHistory, success)
		if success {
			p.Status = models.StatusOK
			p.LastOKAt = &now
			p.ExternalIP = &externalIP
		} else {
			p.Status = models.StatusDown
			p.ExternalIP = nil
		}

		updates := map[string]any{
			"status":        p.Status,
			"checked_at":    now,
			"external_ip":   p.ExternalIP,
			"check_history": p.CheckHistory,
		}
		if success {
			updates["last_ok_at"] = now
		}
		res := tx.Model(&models.Proxy{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("proxy check: update: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrProxyNotFound
		}

		result = CheckResult{
			ID:           p.ID,
			Status:       p.Status,
			CheckedAt:    now,
			LastOKAt:     p.LastOKAt,
			ExternalIP:   p.ExternalIP,
			CheckHistory: p.CheckHistory,
		}
		if p.IsTimeToDelete(now, deleteAfter) {
			if errDelete := tx.Delete(&models.Proxy{}, "id = ?", id).Error; errDelete != nil {
				return fmt.Errorf("proxy check: delete: %w", errDelete)
			}
			result.Deleted = true
		}
		return nil
	})
	if errTx != nil {
		return CheckResult{}, errTx
	}
	return result, nil
}

func (r *Registry) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.checkLocks[h.Sum32()%checkLockStripes]
}

// Get loads a proxy by ID.
func (r *Registry) Get(ctx context.Context, id string) (models.Proxy, error) {
	var p models.Proxy
	if errFind := r.db.WithContext(ctx).First(&p, "id = ?", strings.TrimSpace(id)).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Proxy{}, ErrProxyNotFound
		}
		return models.Proxy{}, errFind
	}
	return p, nil
}

// ListFilter narrows List.
type ListFilter struct {
	Source  string
	Status  *models.Status
	Keyword string
	Limit   int
	Offset  int
}

// List returns proxies ordered by URL.
func (r *Registry) List(ctx context.Context, filter ListFilter) ([]models.Proxy, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Proxy{})
	if source := strings.TrimSpace(filter.Source); source != "" {
		q = q.Where("source = ?", source)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(r.db, "url"), dbutil.NormalizeLikePattern(r.db, "%"+keyword+"%"))
	}

	var total int64
	if errCount := q.Session(&gorm.Session{}).Count(&total).Error; errCount != nil {
		return nil, 0, errCount
	}

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var rows []models.Proxy
	if errFind := q.Order("url ASC").Find(&rows).Error; errFind != nil {
		return nil, 0, errFind
	}
	return rows, total, nil
}

// InsertNew stores proxies whose URL is not known yet and returns how many were created.
// URL collisions, within the batch or with existing rows, are skipped silently.
func (r *Registry) InsertNew(ctx context.Context, rows []models.Proxy) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	seen := make(map[string]struct{}, len(rows))
	unique := make([]models.Proxy, 0, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.URL]; dup {
			continue
		}
		seen[row.URL] = struct{}{}
		unique = append(unique, row)
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url"}}, DoNothing: true}).
		CreateInBatches(&unique, insertBatchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("insert proxies: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// DeleteBySource removes every proxy referencing the source.
func (r *Registry) DeleteBySource(ctx context.Context, sourceID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("source = ?", sourceID).Delete(&models.Proxy{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete proxies of source %s: %w", sourceID, res.Error)
	}
	return res.RowsAffected, nil
}
