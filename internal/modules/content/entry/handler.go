package entry

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/strata-cms/core/internal/middleware"
	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/pkg/pagination"
	"github.com/strata-cms/core/internal/pkg/redis"
	"github.com/strata-cms/core/internal/pkg/response"
	"go.uber.org/zap"
)

// Handler wires the admin entry API. Lifecycle mutations purge the delivery
// response cache so readers never serve a stale page past its TTL.
type Handler struct {
	svc    *Service
	rdb    *redis.Client
	logger *zap.Logger
}

func NewHandler(svc *Service, rdb *redis.Client, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, rdb: rdb, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/entries", authMW)
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/publish", h.publish)
	g.POST("/:id/unpublish", h.unpublish)
	g.POST("/:id/archive", h.archive)
	g.GET("/:id/versions", h.listVersions)
	g.GET("/:id/versions/:idx", h.getVersion)
	g.POST("/:id/versions/:idx/restore", h.restoreVersion)
}

func (h *Handler) create(c *gin.Context) {
	var dto CreateEntryDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	e, err := h.svc.Create(middleware.CurrentTenantID(c), CreateEntryInput{
		SectionID:     dto.SectionID,
		Slug:          dto.Slug,
		Data:          dto.Data,
		SchemaVersion: dto.SchemaVersion,
		Status:        dto.Status,
		Actor:         currentActor(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if e.Status == models.EntryStatusPublished {
		h.purgeDeliveryCache(c)
	}
	response.Created(c, toEntryResponse(e))
}

func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	filter := ListFilter{
		SectionID: c.Query("section_id"),
		Status:    models.EntryStatus(c.Query("status")),
	}
	// data.<path>=<value> query params become equality predicates and
	// data.<path>__contains=<value> substring predicates
	for key, values := range c.Request.URL.Query() {
		if !strings.HasPrefix(key, "data.") || len(values) == 0 {
			continue
		}
		path := strings.TrimPrefix(key, "data.")
		if sub, found := strings.CutSuffix(path, "__contains"); found {
			if filter.DataContains == nil {
				filter.DataContains = map[string]string{}
			}
			filter.DataContains[sub] = values[0]
			continue
		}
		if filter.DataFilters == nil {
			filter.DataFilters = map[string]interface{}{}
		}
		filter.DataFilters[path] = values[0]
	}

	items, pag, err := h.svc.ListEntries(middleware.CurrentTenantID(c), q, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]entryResponse, len(items))
	for i := range items {
		out[i] = toEntryResponse(&items[i])
	}
	response.Paged(c, out, pag)
}

func (h *Handler) get(c *gin.Context) {
	e, err := h.svc.GetEntry(middleware.CurrentTenantID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toEntryResponse(e))
}

func (h *Handler) update(c *gin.Context) {
	var dto UpdateEntryDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	e, err := h.svc.Update(middleware.CurrentTenantID(c), c.Param("id"), UpdateEntryInput{
		Slug:          dto.Slug,
		Data:          dto.Data,
		SchemaVersion: dto.SchemaVersion,
		Status:        dto.Status,
		Actor:         currentActor(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if e.Status == models.EntryStatusPublished {
		h.purgeDeliveryCache(c)
	}
	response.OK(c, toEntryResponse(e))
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(middleware.CurrentTenantID(c), c.Param("id"), currentActor(c)); err != nil {
		response.Error(c, err)
		return
	}
	h.purgeDeliveryCache(c)
	response.NoContent(c)
}

func (h *Handler) publish(c *gin.Context) {
	h.lifecycle(c, h.svc.Publish)
}

func (h *Handler) unpublish(c *gin.Context) {
	h.lifecycle(c, h.svc.Unpublish)
}

func (h *Handler) archive(c *gin.Context) {
	h.lifecycle(c, h.svc.Archive)
}

func (h *Handler) lifecycle(c *gin.Context, op func(tenantID, entryID string, actor Actor) (*models.EntryModel, error)) {
	e, err := op(middleware.CurrentTenantID(c), c.Param("id"), currentActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.purgeDeliveryCache(c)
	response.OK(c, toEntryResponse(e))
}

func (h *Handler) listVersions(c *gin.Context) {
	items, err := h.svc.Versions().ListVersions(middleware.CurrentTenantID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]versionResponse, len(items))
	for i := range items {
		out[i] = toVersionResponse(&items[i])
	}
	response.OK(c, out)
}

func (h *Handler) getVersion(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		response.BadRequest(c, "version index must be an integer")
		return
	}
	v, err := h.svc.Versions().GetVersion(middleware.CurrentTenantID(c), c.Param("id"), idx)
	if err != nil {
		response.Error(c, err)
		return
	}
	if v == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, toVersionResponse(v))
}

func (h *Handler) restoreVersion(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		response.BadRequest(c, "version index must be an integer")
		return
	}
	e, err := h.svc.RestoreVersion(middleware.CurrentTenantID(c), c.Param("id"), idx, currentActor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if e.Status == models.EntryStatusPublished {
		h.purgeDeliveryCache(c)
	}
	response.OK(c, toEntryResponse(e))
}

func (h *Handler) purgeDeliveryCache(c *gin.Context) {
	if h.rdb == nil {
		return
	}
	if _, err := middleware.PurgeDeliveryCache(c.Request.Context(), h.rdb.Raw(), ""); err != nil {
		h.logger.Warn("delivery cache purge failed", zap.Error(err))
	}
}

func currentActor(c *gin.Context) Actor {
	return Actor{
		UserID:    currentUserPtr(c),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func currentUserPtr(c *gin.Context) *string {
	uid := middleware.CurrentUserID(c)
	if uid == "" {
		return nil
	}
	return &uid
}
