// Package api registers the HTTP API routes.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ProxyPool/internal/access"
	internalhttp "github.com/router-for-me/ProxyPool/internal/http"
	"github.com/router-for-me/ProxyPool/internal/http/api/handlers"
	"github.com/router-for-me/ProxyPool/internal/proxies"
	"github.com/router-for-me/ProxyPool/internal/sources"
	"gorm.io/gorm"
)

// Dependencies bundles what the handlers need.
type Dependencies struct {
	DB      *gorm.DB
	Proxies *proxies.Registry
	Sources *sources.Registry
	Access  *access.TokenAuthenticator
}

// RegisterRoutes mounts /healthz and the token-protected /api group on engine.
func RegisterRoutes(engine *gin.Engine, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.DB)
	proxyHandler := handlers.NewProxyHandler(deps.Proxies)
	sourceHandler := handlers.NewSourceHandler(deps.Sources)
	settingsHandler := handlers.NewSettingsHandler(deps.DB)

	engine.GET("/healthz", healthHandler.Healthz)

	authed := engine.Group("/api")
	authed.Use(internalhttp.AccessAuthMiddleware(deps.Access))

	authed.GET("/proxies", proxyHandler.List)
	authed.GET("/proxies/live", proxyHandler.Live)
	authed.GET("/proxies/:id", proxyHandler.Get)
	authed.GET("/proxies/:id/url", proxyHandler.URL)
	authed.POST("/proxies/:id/check", proxyHandler.Check)

	authed.GET("/sources", sourceHandler.List)
	authed.POST("/sources", sourceHandler.Create)
	authed.GET("/sources/export", sourceHandler.Export)
	authed.POST("/sources/import", sourceHandler.Import)
	authed.GET("/sources/:id", sourceHandler.Get)
	authed.DELETE("/sources/:id", sourceHandler.Delete)
	authed.PUT("/sources/:id/entries", sourceHandler.UpdateEntries)
	authed.PUT("/sources/:id/entries-url", sourceHandler.UpdateEntriesURL)
	authed.PUT("/sources/:id/defaults", sourceHandler.UpdateDefaults)
	authed.POST("/sources/:id/check", sourceHandler.Check)

	authed.GET("/stats", sourceHandler.Stats)

	authed.GET("/settings", settingsHandler.Get)
	authed.PUT("/settings", settingsHandler.Update)
}
