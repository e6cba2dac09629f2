package delivery

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/pkg/errs"
	"github.com/strata-cms/core/internal/pkg/response"
)

// Handler is the public delivery API. Everything it serves is published
// content; responses carry strong ETags and honor If-None-Match exactly.
type Handler struct {
	resolver *Resolver

	// cacheTTL is the max-age of the public cache directive, in seconds.
	cacheTTL int
}

func NewHandler(resolver *Resolver, cacheTTLSeconds int) *Handler {
	if cacheTTLSeconds <= 0 {
		cacheTTLSeconds = 60
	}
	return &Handler{resolver: resolver, cacheTTL: cacheTTLSeconds}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/delivery/:tenant")
	g.GET("/entries", h.list)
	g.GET("/sections/:section/entries", h.listBySection)
	g.GET("/sections/:section/entries/:slug", h.detail)
}

func (h *Handler) list(c *gin.Context) {
	h.serveList(c, c.Param("tenant"), "")
}

func (h *Handler) listBySection(c *gin.Context) {
	h.serveList(c, c.Param("tenant"), c.Param("section"))
}

func (h *Handler) serveList(c *gin.Context, tenantSlug, sectionKey string) {
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)
	var slugFilter *string
	if slug := c.Query("slug"); slug != "" {
		slugFilter = &slug
	}

	list, etag, err := h.resolver.FetchPublishedList(tenantSlug, sectionKey, slugFilter, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setCacheHeaders(c, etag, true)
	if notModified(c, etag) {
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) detail(c *gin.Context) {
	item, etag, err := h.resolver.FetchSingleEffective(c.Param("tenant"), c.Param("section"), c.Param("slug"))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			response.NotFound(c)
			return
		}
		response.Error(c, err)
		return
	}

	h.setCacheHeaders(c, etag, item.Status == models.EntryStatusPublished)
	if notModified(c, etag) {
		return
	}
	c.JSON(http.StatusOK, item)
}

// setCacheHeaders emits the ETag plus the cache policy. Only entries that
// are live-published get the public directive; snapshot-fallback responses
// go out no-store so intermediaries never pin content the author has
// already pulled back to draft.
func (h *Handler) setCacheHeaders(c *gin.Context, etag string, cacheable bool) {
	c.Header("ETag", `"`+etag+`"`)
	if cacheable {
		c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", h.cacheTTL))
	} else {
		c.Header("Cache-Control", "no-store")
	}
}

// notModified answers conditional GETs. The match is byte-for-byte on the
// quoted value; weak comparison is deliberately not implemented.
func notModified(c *gin.Context, etag string) bool {
	if c.GetHeader("If-None-Match") == `"`+etag+`"` {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

func intQuery(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}
