package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ProxyPool/internal/models"
	"github.com/router-for-me/ProxyPool/internal/proxies"
	internalsettings "github.com/router-for-me/ProxyPool/internal/settings"
	"github.com/router-for-me/ProxyPool/internal/sources"
	log "github.com/sirupsen/logrus"
)

// respondError maps domain errors to HTTP status codes.
func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, proxies.ErrProxyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "proxy not found"})
	case errors.Is(err, sources.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
	case errors.Is(err, sources.ErrSourceExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, sources.ErrInvalidSource),
		errors.Is(err, sources.ErrInvalidImport),
		errors.Is(err, internalsettings.ErrUnknownKey),
		errors.Is(err, internalsettings.ErrInvalidValue):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, sources.ErrEntriesFetch):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Error(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// formatTime renders an optional timestamp as RFC3339 or nil.
func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// proxyRow converts a proxy into its API representation.
func proxyRow(p *models.Proxy) gin.H {
	var gateway any
	if isGateway, known := p.Gateway(); known {
		gateway = isGateway
	}
	history := []bool(p.CheckHistory)
	if history == nil {
		history = []bool{}
	}
	return gin.H{
		"id":            p.ID,
		"source":        p.Source,
		"url":           p.URL,
		"protocol":      p.Protocol,
		"status":        p.Status,
		"external_ip":   p.ExternalIP,
		"endpoint":      p.Endpoint(),
		"gateway":       gateway,
		"check_history": history,
		"history_ok":    p.HistoryOKCount(),
		"history_down":  p.HistoryDownCount(),
		"created_at":    p.CreatedAt.UTC().Format(time.RFC3339),
		"checked_at":    formatTime(p.CheckedAt),
		"last_ok_at":    formatTime(p.LastOKAt),
	}
}

// sourceRow converts a source into its API representation.
func sourceRow(s *models.Source) gin.H {
	list := []string(s.Entries)
	if list == nil {
		list = []string{}
	}
	return gin.H{
		"id":               s.ID,
		"default_protocol": s.DefaultProtocol,
		"default_username": s.DefaultUsername,
		"default_password": s.DefaultPassword,
		"default_port":     s.DefaultPort,
		"entries_url":      s.EntriesURL,
		"entries":          list,
		"created_at":       s.CreatedAt.UTC().Format(time.RFC3339),
		"checked_at":       formatTime(s.CheckedAt),
	}
}
