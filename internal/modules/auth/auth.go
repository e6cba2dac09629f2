package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/strata-cms/core/internal/middleware"
	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/pkg/errs"
	"github.com/strata-cms/core/internal/pkg/jwt"
	"github.com/strata-cms/core/internal/pkg/response"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const tokenTTL = 7 * 24 * time.Hour

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// Login verifies credentials inside a tenant and returns a signed token.
func (s *Service) Login(tenantSlug, username, password, ip string) (string, *models.UserModel, error) {
	var tenant models.TenantModel
	if err := s.db.First(&tenant, "slug = ?", tenantSlug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, errs.NotFound("tenant %q", tenantSlug)
		}
		return "", nil, err
	}

	var user models.UserModel
	err := s.db.First(&user, "tenant_id = ? AND username = ?", tenant.ID, username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, fmt.Errorf("bad credentials: %w", errs.ErrForbidden)
		}
		return "", nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return "", nil, fmt.Errorf("bad credentials: %w", errs.ErrForbidden)
	}

	now := time.Now()
	s.db.Model(&user).Updates(map[string]interface{}{
		"last_login_time": &now,
		"last_login_ip":   ip,
	})

	token, err := jwt.Sign(user.ID, tenant.ID, tokenTTL)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

// CreateUser registers a user inside a tenant. The first user of a tenant
// becomes admin regardless of the requested role; everyone after that keeps
// the role they asked for.
func (s *Service) CreateUser(tenantID, username, name, password string, role models.UserRole) (*models.UserModel, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.Model(&models.UserModel{}).Where("tenant_id = ?", tenantID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		role = models.RoleAdmin
	} else if role == "" {
		role = models.RoleEditor
	}

	user := models.UserModel{
		TenantID: tenantID,
		Username: username,
		Name:     name,
		Password: string(hash),
		Role:     role,
	}
	if err := s.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("username %q taken: %w", username, errs.ErrConflict)
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) GetUser(tenantID, userID string) (*models.UserModel, error) {
	var user models.UserModel
	err := s.db.First(&user, "tenant_id = ? AND id = ?", tenantID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("user %s", userID)
		}
		return nil, err
	}
	return &user, nil
}

type LoginDTO struct {
	Tenant   string `json:"tenant"   binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type CreateUserDTO struct {
	Username string          `json:"username" binding:"required"`
	Name     string          `json:"name"`
	Password string          `json:"password" binding:"required,min=8"`
	Role     models.UserRole `json:"role"`
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/auth")
	g.POST("/login", h.login)
	g.GET("/me", authMW, h.me)
	g.POST("/users", authMW, h.createUser)
}

func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	token, user, err := h.svc.Login(dto.Tenant, dto.Username, dto.Password, c.ClientIP())
	if err != nil {
		if errors.Is(err, errs.ErrForbidden) || errors.Is(err, errs.ErrNotFound) {
			response.Unauthorized(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"token": token, "user": user})
}

func (h *Handler) me(c *gin.Context) {
	user, err := h.svc.GetUser(middleware.CurrentTenantID(c), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, user)
}

func (h *Handler) createUser(c *gin.Context) {
	var dto CreateUserDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	tenantID := middleware.CurrentTenantID(c)

	// only admins may add users
	me, err := h.svc.GetUser(tenantID, middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if me.Role != models.RoleAdmin {
		response.Forbidden(c)
		return
	}

	user, err := h.svc.CreateUser(tenantID, dto.Username, dto.Name, dto.Password, dto.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, user)
}
