package schema

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/strata-cms/core/internal/middleware"
	"github.com/strata-cms/core/internal/pkg/errs"
	"github.com/strata-cms/core/internal/pkg/rbac"
	"github.com/strata-cms/core/internal/pkg/response"
)

// Handler exposes the section and schema version registry over the admin API.
type Handler struct {
	svc   *Service
	perms rbac.Checker
}

func NewHandler(svc *Service, perms rbac.Checker) *Handler {
	if perms == nil {
		perms = rbac.AllowAll{}
	}
	return &Handler{svc: svc, perms: perms}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/sections", authMW)
	g.POST("", h.createSection)
	g.GET("", h.listSections)
	g.GET("/:id", h.getSection)
	g.POST("/:id/schemas", h.addSchemaVersion)
	g.GET("/:id/schemas", h.listSchemaVersions)
	g.GET("/:id/schema", h.getEffectiveSchema)
	g.GET("/:id/schemas/:version", h.getSchemaVersion)
	g.GET("/:id/schemas/:version/can-activate", h.canActivate)
	g.POST("/:id/schemas/:version/activate", h.activate)
}

func (h *Handler) createSection(c *gin.Context) {
	var dto CreateSectionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	section, err := h.svc.CreateSection(middleware.CurrentTenantID(c), dto.Key, dto.Name, dto.Description)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toSectionResponse(section))
}

func (h *Handler) listSections(c *gin.Context) {
	sections, err := h.svc.ListSections(middleware.CurrentTenantID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]sectionResponse, len(sections))
	for i := range sections {
		out[i] = toSectionResponse(&sections[i])
	}
	response.OK(c, out)
}

func (h *Handler) getSection(c *gin.Context) {
	section, err := h.svc.GetSection(middleware.CurrentTenantID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toSectionResponse(section))
}

func (h *Handler) addSchemaVersion(c *gin.Context) {
	var dto AddSchemaVersionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	tenantID := middleware.CurrentTenantID(c)
	sectionID := c.Param("id")

	if dto.Activate {
		if err := h.checkActivatePermission(c, tenantID); err != nil {
			response.Error(c, err)
			return
		}
	}

	row, err := h.svc.AddSchemaVersion(tenantID, sectionID, dto.Version, dto.Schema, dto.Title, dto.Activate)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toSchemaVersionResponse(row))
}

func (h *Handler) listSchemaVersions(c *gin.Context) {
	rows, err := h.svc.ListSchemaVersions(middleware.CurrentTenantID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]schemaVersionResponse, len(rows))
	for i := range rows {
		out[i] = toSchemaVersionResponse(&rows[i])
	}
	response.OK(c, out)
}

func (h *Handler) getEffectiveSchema(c *gin.Context) {
	row, err := h.svc.GetEffectiveSchema(middleware.CurrentTenantID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if row == nil {
		response.NotFoundMsg(c, "section has no schema versions")
		return
	}
	response.OK(c, toSchemaVersionResponse(row))
}

func (h *Handler) getSchemaVersion(c *gin.Context) {
	version, ok := h.versionParam(c)
	if !ok {
		return
	}
	row, err := h.svc.GetSchemaVersion(middleware.CurrentTenantID(c), c.Param("id"), version)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toSchemaVersionResponse(row))
}

func (h *Handler) canActivate(c *gin.Context) {
	version, ok := h.versionParam(c)
	if !ok {
		return
	}
	allowed, violations, err := h.svc.CanActivateVersion(middleware.CurrentTenantID(c), c.Param("id"), version)
	if err != nil {
		response.Error(c, err)
		return
	}
	if violations == nil {
		violations = []string{}
	}
	response.OK(c, canActivateResponse{Allowed: allowed, Violations: violations})
}

func (h *Handler) activate(c *gin.Context) {
	version, ok := h.versionParam(c)
	if !ok {
		return
	}
	tenantID := middleware.CurrentTenantID(c)
	sectionID := c.Param("id")

	if err := h.checkActivatePermission(c, tenantID); err != nil {
		response.Error(c, err)
		return
	}

	row, err := h.svc.ActivateVersion(tenantID, sectionID, version)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toSchemaVersionResponse(row))
}

// checkActivatePermission gates activation writes on the schema:activate
// permission. The evolution policy itself is enforced by the service, so it
// holds for every activation path.
func (h *Handler) checkActivatePermission(c *gin.Context, tenantID string) error {
	uid := middleware.CurrentUserID(c)
	if uid == "" {
		return nil
	}
	allowed, err := h.perms.UserHasPermission(uid, tenantID, rbac.PermSchemaActivate)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%s denied: %w", rbac.PermSchemaActivate, errs.ErrForbidden)
	}
	return nil
}

func (h *Handler) versionParam(c *gin.Context) (int, bool) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		response.BadRequest(c, "version must be a positive integer")
		return 0, false
	}
	return version, true
}
