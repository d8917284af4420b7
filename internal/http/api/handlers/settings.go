package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	internalsettings "github.com/router-for-me/ProxyPool/internal/settings"
	"gorm.io/gorm"
)

// SettingsHandler exposes the runtime settings.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a settings handler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// Get returns the effective settings.
func (h *SettingsHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, internalsettings.Current())
}

// Update stores the given key/value pairs and returns the effective settings.
func (h *SettingsHandler) Update(c *gin.Context) {
	var body map[string]json.RawMessage
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errSave := internalsettings.Save(c.Request.Context(), h.db, body); errSave != nil {
		respondError(c, errSave, "save settings failed")
		return
	}
	c.JSON(http.StatusOK, internalsettings.Current())
}
