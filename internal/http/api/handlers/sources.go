package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ProxyPool/internal/entries"
	"github.com/router-for-me/ProxyPool/internal/models"
	"github.com/router-for-me/ProxyPool/internal/sources"
)

// maxBodyBytes bounds uploaded entry lists and TOML payloads.
const maxBodyBytes = 16 << 20

// SourceHandler serves source endpoints.
type SourceHandler struct {
	sources *sources.Registry
}

// NewSourceHandler constructs a source handler.
func NewSourceHandler(registry *sources.Registry) *SourceHandler {
	return &SourceHandler{sources: registry}
}

// createSourceRequest captures the payload for creating a source.
type createSourceRequest struct {
	ID string `json:"id"` // Source identifier.
}

// entriesURLRequest captures the payload for setting the remote list URL.
type entriesURLRequest struct {
	EntriesURL *string `json:"entries_url"` // Remote list URL; null or blank clears it.
}

// defaultsRequest captures the payload for updating entry defaults.
type defaultsRequest struct {
	Protocol *string `json:"protocol"` // http or socks5.
	Username *string `json:"username"` // Username embedded into partial entries.
	Password *string `json:"password"` // Password embedded into partial entries.
	Port     *int    `json:"port"`     // Port for host-only entries.
}

// List returns every source.
func (h *SourceHandler) List(c *gin.Context) {
	rows, errList := h.sources.List(c.Request.Context())
	if errList != nil {
		respondError(c, errList, "list sources failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, sourceRow(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"sources": out})
}

// Create inserts a new empty source.
func (h *SourceHandler) Create(c *gin.Context) {
	var body createSourceRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	src, errCreate := h.sources.Create(c.Request.Context(), body.ID)
	if errCreate != nil {
		respondError(c, errCreate, "create source failed")
		return
	}
	c.JSON(http.StatusCreated, sourceRow(&src))
}

// Get returns one source.
func (h *SourceHandler) Get(c *gin.Context) {
	src, errGet := h.sources.Get(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		respondError(c, errGet, "fetch source failed")
		return
	}
	c.JSON(http.StatusOK, sourceRow(&src))
}

// Delete removes a source and its proxies.
func (h *SourceHandler) Delete(c *gin.Context) {
	if errDelete := h.sources.Delete(c.Request.Context(), c.Param("id")); errDelete != nil {
		respondError(c, errDelete, "delete source failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// UpdateEntries replaces the manual entries from a JSON list or a plain-text body.
func (h *SourceHandler) UpdateEntries(c *gin.Context) {
	raw, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}

	var list []string
	if strings.HasPrefix(c.ContentType(), "application/json") {
		if errUnmarshal := json.Unmarshal(raw, &list); errUnmarshal != nil {
			var wrapped struct {
				Entries []string `json:"entries"`
			}
			if errWrapped := json.Unmarshal(raw, &wrapped); errWrapped != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
				return
			}
			list = wrapped.Entries
		}
	} else {
		list = entries.ParseList(string(raw))
	}

	if errUpdate := h.sources.UpdateEntries(c.Request.Context(), c.Param("id"), list); errUpdate != nil {
		respondError(c, errUpdate, "update entries failed")
		return
	}
	h.Get(c)
}

// UpdateEntriesURL sets or clears the remote list URL.
func (h *SourceHandler) UpdateEntriesURL(c *gin.Context) {
	var body entriesURLRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errUpdate := h.sources.UpdateEntriesURL(c.Request.Context(), c.Param("id"), body.EntriesURL); errUpdate != nil {
		respondError(c, errUpdate, "update entries url failed")
		return
	}
	h.Get(c)
}

// UpdateDefaults replaces the defaults used for partial entries.
func (h *SourceHandler) UpdateDefaults(c *gin.Context) {
	var body defaultsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	d := entries.Defaults{Username: body.Username, Password: body.Password, Port: body.Port}
	if body.Protocol != nil && strings.TrimSpace(*body.Protocol) != "" {
		protocol, errParse := models.ParseProtocol(*body.Protocol)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid protocol"})
			return
		}
		d.Protocol = &protocol
	}
	if errUpdate := h.sources.UpdateDefaults(c.Request.Context(), c.Param("id"), d); errUpdate != nil {
		respondError(c, errUpdate, "update defaults failed")
		return
	}
	h.Get(c)
}

// Check ingests the source immediately.
func (h *SourceHandler) Check(c *gin.Context) {
	created, errIngest := h.sources.Ingest(c.Request.Context(), c.Param("id"))
	if errIngest != nil {
		respondError(c, errIngest, "check source failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

// Export renders every source as TOML.
func (h *SourceHandler) Export(c *gin.Context) {
	out, errExport := h.sources.ExportTOML(c.Request.Context())
	if errExport != nil {
		respondError(c, errExport, "export sources failed")
		return
	}
	c.Data(http.StatusOK, "application/toml; charset=utf-8", out)
}

// Import upserts sources from a TOML body.
func (h *SourceHandler) Import(c *gin.Context) {
	raw, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	count, errImport := h.sources.ImportTOML(c.Request.Context(), raw)
	if errImport != nil {
		respondError(c, errImport, "import sources failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": count})
}

// Stats returns per-source and global proxy counts.
func (h *SourceHandler) Stats(c *gin.Context) {
	stats, errStats := h.sources.Stats(c.Request.Context())
	if errStats != nil {
		respondError(c, errStats, "compute stats failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}
