package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/strata-cms/core/internal/middleware"
	"github.com/strata-cms/core/internal/modules/audit"
	"github.com/strata-cms/core/internal/modules/auth"
	"github.com/strata-cms/core/internal/modules/content/delivery"
	"github.com/strata-cms/core/internal/modules/content/entry"
	"github.com/strata-cms/core/internal/modules/content/schema"
	"github.com/strata-cms/core/internal/modules/tenant"
	"github.com/strata-cms/core/internal/modules/webhook"
	"github.com/strata-cms/core/internal/pkg/rbac"
	pkgredis "github.com/strata-cms/core/internal/pkg/redis"
	"github.com/strata-cms/core/internal/pkg/response"
)

func (a *App) registerRoutes(rc *pkgredis.Client) {
	r := a.router
	db := a.db
	authMW := middleware.Auth()

	r.NoRoute(func(c *gin.Context) { response.NotFound(c) })
	r.NoMethod(func(c *gin.Context) { response.MethodNotAllowed(c) })

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")

	// Shared services
	checker := rbac.NewDBChecker(db)
	auditSvc := audit.NewService(db)
	hookSvc := webhook.NewService(db)
	schemaSvc := schema.NewService(db, schema.PoliciesFromConfig(a.cfg.Registries))
	entrySvc := entry.NewService(db, entry.Options{
		Schemas:      schemaSvc,
		Audits:       auditSvc,
		Hooks:        hookSvc,
		Perms:        checker,
		MaxPayloadKB: a.cfg.MaxPayloadKB,
	})

	// Admin surface. Mutations pass through the idempotence guard so a
	// retried publish never double-fires webhooks.
	admin := api.Group("/admin")
	admin.Use(middleware.Idempotence(rc.Raw()))

	auth.NewHandler(auth.NewService(db)).RegisterRoutes(admin, authMW)
	tenant.NewHandler(tenant.NewService(db)).RegisterRoutes(admin, authMW)
	schema.NewHandler(schemaSvc, checker).RegisterRoutes(admin, authMW)
	entry.NewHandler(entrySvc, rc, a.logger).RegisterRoutes(admin, authMW)
	webhook.NewHandler(hookSvc).RegisterRoutes(admin, authMW, middleware.CurrentTenantID)
	audit.NewHandler(auditSvc).RegisterRoutes(admin, authMW, middleware.CurrentTenantID)

	// Public delivery surface, response-cached in Redis in front of the
	// resolver's own ETag handling.
	public := api.Group("")
	public.Use(middleware.HTTPCache(rc.Raw(), middleware.HTTPCacheOptions{
		TTL:     time.Duration(a.cfg.DeliveryCacheTTL) * time.Second,
		Disable: a.cfg.IsDev(),
	}))
	resolver := delivery.NewResolver(db, entrySvc.Versions())
	delivery.NewHandler(resolver, a.cfg.DeliveryCacheTTL).RegisterRoutes(public)
}
