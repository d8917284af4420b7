package proxies

import (
	"context"
	"fmt"

	"github.com/router-for-me/ProxyPool/internal/live"
	"github.com/router-for-me/ProxyPool/internal/models"
	"gorm.io/gorm"
)

// LiveQuery selects the live proxies a caller is interested in.
type LiveQuery struct {
	Sources        []string
	Protocol       *models.Protocol
	UniqueIP       bool
	ExcludeGateway bool
}

// GetLive returns OK proxies whose last success falls inside the liveness window,
// ordered by URL and narrowed by the query options.
func (r *Registry) GetLive(ctx context.Context, query LiveQuery) ([]models.Proxy, error) {
	threshold := r.now().Add(-r.settings().LiveWindow())

	q := r.db.WithContext(ctx).
		Model(&models.Proxy{}).
		Where("status = ?", models.StatusOK).
		Where("last_ok_at > ?", threshold)
	if len(query.Sources) > 0 {
		q = q.Where("source IN ?", query.Sources)
	}
	if query.Protocol != nil {
		q = q.Where("protocol = ?", *query.Protocol)
	}

	var rows []models.Proxy
	if errFind := q.Order("url ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("live proxies: %w", errFind)
	}
	return live.Filter(rows, live.Options{UniqueIP: query.UniqueIP, ExcludeGateway: query.ExcludeGateway}), nil
}

// Count holds proxy counters for one scope.
type Count struct {
	All  int64 `json:"all"`
	OK   int64 `json:"ok"`
	Live int64 `json:"live"`
}

// Stats aggregates proxy counts per source and unique external IPs overall.
type Stats struct {
	All             Count            `json:"all"`
	Sources         map[string]Count `json:"sources"`
	ChecksPerMinute int              `json:"checks_per_minute"`
}

// Stats computes per-source counts for the given source IDs plus global unique-IP counts.
func (r *Registry) Stats(ctx context.Context, sourceIDs []string) (Stats, error) {
	threshold := r.now().Add(-r.settings().LiveWindow())
	out := Stats{Sources: make(map[string]Count, len(sourceIDs)), ChecksPerMinute: r.ChecksPerMinute()}

	uniqueIPs := func(filters ...func(q *gorm.DB) *gorm.DB) (int64, error) {
		q := r.db.WithContext(ctx).Model(&models.Proxy{}).Where("external_ip IS NOT NULL")
		for _, filter := range filters {
			q = filter(q)
		}
		var n int64
		if errCount := q.Distinct("external_ip").Count(&n).Error; errCount != nil {
			return 0, fmt.Errorf("proxy stats: %w", errCount)
		}
		return n, nil
	}
	okOnly := func(q *gorm.DB) *gorm.DB { return q.Where("status = ?", models.StatusOK) }
	liveOnly := func(q *gorm.DB) *gorm.DB { return q.Where("last_ok_at > ?", threshold) }

	var errCount error
	if out.All.All, errCount = uniqueIPs(); errCount != nil {
		return Stats{}, errCount
	}
	if out.All.OK, errCount = uniqueIPs(okOnly); errCount != nil {
		return Stats{}, errCount
	}
	if out.All.Live, errCount = uniqueIPs(okOnly, liveOnly); errCount != nil {
		return Stats{}, errCount
	}

	var rows []struct {
		Source     string
		TotalCount int64
		OKCount    int64
		LiveCount  int64
	}
	if errScan := r.db.WithContext(ctx).
		Model(&models.Proxy{}).
		Select(
			"source, COUNT(*) AS total_count, "+
				"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS ok_count, "+
				"SUM(CASE WHEN status = ? AND last_ok_at > ? THEN 1 ELSE 0 END) AS live_count",
			models.StatusOK, models.StatusOK, threshold,
		).
		Group("source").
		Scan(&rows).Error; errScan != nil {
		return Stats{}, fmt.Errorf("proxy stats: %w", errScan)
	}

	for _, id := range sourceIDs {
		out.Sources[id] = Count{}
	}
	for _, row := range rows {
		if _, tracked := out.Sources[row.Source]; !tracked {
			continue
		}
		out.Sources[row.Source] = Count{All: row.TotalCount, OK: row.OKCount, Live: row.LiveCount}
	}
	return out, nil
}
