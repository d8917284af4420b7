package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ProxyPool/internal/live"
	"github.com/router-for-me/ProxyPool/internal/models"
	"github.com/router-for-me/ProxyPool/internal/proxies"
)

// liveQueryParams lists the query parameters accepted by the live endpoint.
var liveQueryParams = map[string]struct{}{
	"sources":         {},
	"unique_ip":       {},
	"protocol":        {},
	"exclude_gateway": {},
	"format":          {},
	"access_token":    {},
}

// ProxyHandler serves proxy endpoints.
type ProxyHandler struct {
	proxies *proxies.Registry
}

// NewProxyHandler constructs a proxy handler.
func NewProxyHandler(registry *proxies.Registry) *ProxyHandler {
	return &ProxyHandler{proxies: registry}
}

// Live returns the live proxy URLs as text (one per line) or JSON.
func (h *ProxyHandler) Live(c *gin.Context) {
	query := c.Request.URL.Query()
	var unknown []string
	for key := range query {
		if _, ok := liveQueryParams[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("unknown query parameters: %s", strings.Join(unknown, ", "))})
		return
	}

	var lq proxies.LiveQuery
	if raw := strings.TrimSpace(query.Get("sources")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				lq.Sources = append(lq.Sources, trimmed)
			}
		}
	}
	if raw := strings.TrimSpace(query.Get("protocol")); raw != "" {
		protocol, errParse := models.ParseProtocol(raw)
		if errParse != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid protocol"})
			return
		}
		lq.Protocol = &protocol
	}
	var errBool error
	if lq.UniqueIP, errBool = parseBoolQuery(query.Get("unique_ip")); errBool != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid unique_ip"})
		return
	}
	if lq.ExcludeGateway, errBool = parseBoolQuery(query.Get("exclude_gateway")); errBool != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid exclude_gateway"})
		return
	}

	format := strings.ToLower(strings.TrimSpace(query.Get("format")))
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid format"})
		return
	}

	rows, errLive := h.proxies.GetLive(c.Request.Context(), lq)
	if errLive != nil {
		respondError(c, errLive, "list live proxies failed")
		return
	}
	urls := live.URLs(rows)
	if format == "text" {
		c.String(http.StatusOK, strings.Join(urls, "\n"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"proxies": urls})
}

func parseBoolQuery(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

// List returns proxies filtered by source, status and keyword.
func (h *ProxyHandler) List(c *gin.Context) {
	filter := proxies.ListFilter{
		Source:  strings.TrimSpace(c.Query("source")),
		Keyword: strings.TrimSpace(c.Query("keyword")),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, errParse := models.ParseStatus(raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, errAtoi := strconv.Atoi(raw)
		if errAtoi != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		offset, errAtoi := strconv.Atoi(raw)
		if errAtoi != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filter.Offset = offset
	}

	rows, total, errList := h.proxies.List(c.Request.Context(), filter)
	if errList != nil {
		respondError(c, errList, "list proxies failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, proxyRow(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"proxies": out, "total": total})
}

// Get returns one proxy.
func (h *ProxyHandler) Get(c *gin.Context) {
	p, errGet := h.proxies.Get(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		respondError(c, errGet, "fetch proxy failed")
		return
	}
	c.JSON(http.StatusOK, proxyRow(&p))
}

// URL returns the proxy URL as plain text.
func (h *ProxyHandler) URL(c *gin.Context) {
	p, errGet := h.proxies.Get(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		respondError(c, errGet, "fetch proxy failed")
		return
	}
	c.String(http.StatusOK, p.URL)
}

// Check probes one proxy immediately and returns the applied update.
func (h *ProxyHandler) Check(c *gin.Context) {
	res, errCheck := h.proxies.Check(c.Request.Context(), c.Param("id"))
	if errCheck != nil {
		respondError(c, errCheck, "check proxy failed")
		return
	}
	c.JSON(http.StatusOK, res)
}
