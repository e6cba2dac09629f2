package audit

import (
	"github.com/gin-gonic/gin"
	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/pkg/pagination"
	"github.com/strata-cms/core/internal/pkg/response"
	"gorm.io/gorm"
)

// Record holds one audit event as produced by the content core.
type Record struct {
	TenantID  string
	EntryID   string
	SectionID string
	Action    string
	UserID    *string
	Details   models.JSONMap
	IP        string
	UserAgent string
}

// Service is the audit sink. The content core only ever writes; reading is
// an admin convenience.
type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// Write persists one audit record. Failures are returned but callers treat
// the sink as best-effort; a lost audit row never rolls back content.
func (s *Service) Write(rec Record) error {
	row := models.ContentAuditLogModel{
		TenantID:  rec.TenantID,
		EntryID:   rec.EntryID,
		SectionID: rec.SectionID,
		Action:    rec.Action,
		UserID:    rec.UserID,
		Details:   rec.Details,
		IP:        rec.IP,
		UserAgent: rec.UserAgent,
	}
	return s.db.Create(&row).Error
}

// List returns audit rows for a tenant, newest first, optionally filtered by
// entry or action.
func (s *Service) List(tenantID string, q pagination.Query, entryID, action *string) ([]models.ContentAuditLogModel, response.Pagination, error) {
	tx := s.db.Model(&models.ContentAuditLogModel{}).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC")
	if entryID != nil {
		tx = tx.Where("entry_id = ?", *entryID)
	}
	if action != nil {
		tx = tx.Where("action = ?", *action)
	}
	var items []models.ContentAuditLogModel
	pag, err := pagination.Paginate(tx, q, &items)
	return items, pag, err
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc, tenantOf func(*gin.Context) string) {
	g := rg.Group("/audit", authMW)
	g.GET("", func(c *gin.Context) {
		q := pagination.FromContext(c)
		var entryID, action *string
		if v := c.Query("entry_id"); v != "" {
			entryID = &v
		}
		if v := c.Query("action"); v != "" {
			action = &v
		}
		items, pag, err := h.svc.List(tenantOf(c), q, entryID, action)
		if err != nil {
			response.InternalError(c, err)
			return
		}
		response.Paged(c, items, pag)
	})
}
