package tenant

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/strata-cms/core/internal/middleware"
	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/pkg/errs"
	"github.com/strata-cms/core/internal/pkg/response"
	"gorm.io/gorm"
)

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// Create registers a tenant. Idempotent on slug.
func (s *Service) Create(slug, name string) (*models.TenantModel, error) {
	var existing models.TenantModel
	err := s.db.First(&existing, "slug = ?", slug).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	t := models.TenantModel{Slug: slug, Name: name}
	if err := s.db.Create(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = s.db.First(&t, "slug = ?", slug).Error
			if err != nil {
				return nil, err
			}
			return &t, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *Service) GetByID(id string) (*models.TenantModel, error) {
	var t models.TenantModel
	err := s.db.First(&t, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("tenant %s", id)
		}
		return nil, err
	}
	return &t, nil
}

func (s *Service) GetBySlug(slug string) (*models.TenantModel, error) {
	var t models.TenantModel
	err := s.db.First(&t, "slug = ?", slug).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("tenant %q", slug)
		}
		return nil, err
	}
	return &t, nil
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/tenant", authMW)
	g.GET("", h.current)
}

func (h *Handler) current(c *gin.Context) {
	t, err := h.svc.GetByID(middleware.CurrentTenantID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, t)
}
