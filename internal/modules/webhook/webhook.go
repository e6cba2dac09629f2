package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/pkg/pagination"
	"github.com/strata-cms/core/internal/pkg/response"
	"gorm.io/gorm"
)

// Events emitted by the entry lifecycle. Delivery/retry/signing mechanics
// live here; the content core only calls Dispatch and moves on.
const (
	EventContentPublished   = "content.published"
	EventContentUnpublished = "content.unpublished"
	EventContentArchived    = "content.archived"
)

var acceptedEvents = map[string]struct{}{
	EventContentPublished:   {},
	EventContentUnpublished: {},
	EventContentArchived:    {},
}

// EventPayload is the body posted to every matching hook.
type EventPayload struct {
	TenantID  string  `json:"tenant_id"`
	EntryID   string  `json:"entry_id"`
	Slug      *string `json:"slug"`
	SectionID string  `json:"section_id"`
	Timestamp string  `json:"timestamp"` // ISO-8601 UTC with trailing Z
}

// NewEventPayload stamps the payload with the current UTC time.
func NewEventPayload(tenantID, entryID, sectionID string, slug *string) EventPayload {
	return EventPayload{
		TenantID:  tenantID,
		EntryID:   entryID,
		Slug:      slug,
		SectionID: sectionID,
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
}

type CreateWebhookDTO struct {
	PayloadURL string   `json:"payload_url" binding:"required,url"`
	Events     []string `json:"events"      binding:"required,min=1"`
	Enabled    *bool    `json:"enabled"`
	Secret     string   `json:"secret"`
}

type UpdateWebhookDTO struct {
	PayloadURL *string  `json:"payload_url"`
	Events     []string `json:"events"`
	Enabled    *bool    `json:"enabled"`
	Secret     *string  `json:"secret"`
}

func normalizeEvents(events []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(events))
	for _, event := range events {
		next := strings.ToLower(strings.TrimSpace(event))
		if next == "" {
			continue
		}
		if next == "all" {
			return []string{"all"}
		}
		if _, ok := acceptedEvents[next]; !ok {
			continue
		}
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		out = append(out, next)
	}
	return out
}

type webhookResponse struct {
	ID         string    `json:"id"`
	PayloadURL string    `json:"payload_url"`
	Events     []string  `json:"events"`
	Enabled    bool      `json:"enabled"`
	Created    time.Time `json:"created_at"`
	Modified   time.Time `json:"updated_at"`
}

func toResponse(w *models.WebhookModel) webhookResponse {
	events := w.Events
	if events == nil {
		events = []string{}
	}
	return webhookResponse{
		ID: w.ID, PayloadURL: w.PayloadURL, Events: events,
		Enabled: w.Enabled,
		Created: w.CreatedAt, Modified: w.UpdatedAt,
	}
}

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) List(tenantID string) ([]models.WebhookModel, error) {
	var items []models.WebhookModel
	return items, s.db.Where("tenant_id = ?", tenantID).Order("created_at DESC").Find(&items).Error
}

func (s *Service) GetByID(tenantID, id string) (*models.WebhookModel, error) {
	var w models.WebhookModel
	if err := s.db.First(&w, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

func (s *Service) Create(tenantID string, dto *CreateWebhookDTO) (*models.WebhookModel, error) {
	events := normalizeEvents(dto.Events)
	if len(events) == 0 {
		return nil, fmt.Errorf("events is empty")
	}

	secret := strings.TrimSpace(dto.Secret)
	if secret == "" {
		secretBytes := make([]byte, 20)
		if _, err := rand.Read(secretBytes); err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(secretBytes)
	}

	w := models.WebhookModel{
		TenantID:   tenantID,
		PayloadURL: dto.PayloadURL,
		Events:     events,
		Secret:     secret,
		Enabled:    true,
	}
	if dto.Enabled != nil {
		w.Enabled = *dto.Enabled
	}
	return &w, s.db.Create(&w).Error
}

func (s *Service) Update(tenantID, id string, dto *UpdateWebhookDTO) (*models.WebhookModel, error) {
	w, err := s.GetByID(tenantID, id)
	if err != nil || w == nil {
		return w, err
	}
	updates := map[string]interface{}{}
	if dto.PayloadURL != nil {
		updates["payload_url"] = *dto.PayloadURL
	}
	if dto.Events != nil {
		events := normalizeEvents(dto.Events)
		if len(events) == 0 {
			return nil, fmt.Errorf("events is empty")
		}
		updates["events"] = events
	}
	if dto.Enabled != nil {
		updates["enabled"] = *dto.Enabled
	}
	if dto.Secret != nil {
		updates["secret"] = strings.TrimSpace(*dto.Secret)
	}
	return w, s.db.Model(w).Updates(updates).Error
}

func (s *Service) Delete(tenantID, id string) error {
	return s.db.Delete(&models.WebhookModel{}, "tenant_id = ? AND id = ?", tenantID, id).Error
}

// Dispatch sends an event to every enabled hook of the tenant that
// subscribes to it. Fire-and-forget: delivery happens on goroutines and the
// caller's transaction is never held up.
func (s *Service) Dispatch(event string, payload EventPayload) {
	var hooks []models.WebhookModel
	s.db.Where("tenant_id = ? AND enabled = ?", payload.TenantID, true).Find(&hooks)

	for _, hook := range hooks {
		if !containsEvent(hook.Events, event) {
			continue
		}
		go s.deliver(hook, event, payload)
	}
}

func (s *Service) deliver(hook models.WebhookModel, event string, payload EventPayload) {
	body, _ := json.Marshal(payload)

	signature := signWithHash(sha1.New, hook.Secret, body)
	signature256 := signWithHash(sha256.New, hook.Secret, body)
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	headers := map[string]string{
		"X-Webhook-Signature":    signature,
		"X-Webhook-Event":        event,
		"X-Webhook-Id":           hook.ID,
		"X-Webhook-Timestamp":    timestamp,
		"X-Webhook-Signature256": signature256,
	}

	req, err := http.NewRequest(http.MethodPost, hook.PayloadURL, bytes.NewReader(body))
	if err != nil {
		s.logEvent(hook, event, headers, body, nil, false, 0, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		s.logEvent(hook, event, headers, body, nil, false, 0, err.Error())
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	s.logEvent(hook, event, headers, body, models.JSONMap{
		"data":   parseJSONOrString(respBody),
		"status": resp.Status,
	}, resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode, "")
}

func (s *Service) logEvent(hook models.WebhookModel, event string, headers map[string]string, payload []byte, respData models.JSONMap, success bool, status int, errMsg string) {
	headerMap := models.JSONMap{}
	for k, v := range headers {
		headerMap[k] = v
	}
	var payloadMap models.JSONMap
	_ = json.Unmarshal(payload, &payloadMap)

	row := models.WebhookEventModel{
		HookID:    hook.ID,
		Event:     event,
		Headers:   headerMap,
		Payload:   payloadMap,
		Response:  respData,
		Success:   success,
		Status:    status,
		Timestamp: time.Now(),
	}
	if errMsg != "" {
		row.Response = models.JSONMap{"error": errMsg}
	}
	s.db.Create(&row)
}

// ListEvents returns delivery attempts for a tenant's hooks, newest first.
func (s *Service) ListEvents(tenantID string, q pagination.Query, hookID *string) ([]models.WebhookEventModel, response.Pagination, error) {
	tx := s.db.Model(&models.WebhookEventModel{}).
		Joins("JOIN webhooks ON webhooks.id = webhook_events.hook_id").
		Where("webhooks.tenant_id = ?", tenantID).
		Order("webhook_events.timestamp DESC")
	if hookID != nil {
		tx = tx.Where("webhook_events.hook_id = ?", *hookID)
	}
	var items []models.WebhookEventModel
	pag, err := pagination.Paginate(tx, q, &items)
	return items, pag, err
}

func containsEvent(events []string, event string) bool {
	event = strings.ToLower(strings.TrimSpace(event))
	for _, item := range events {
		next := strings.ToLower(strings.TrimSpace(item))
		if next == "all" || next == event {
			return true
		}
	}
	return false
}

func parseJSONOrString(data []byte) interface{} {
	if len(data) == 0 {
		return ""
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err == nil {
		return out
	}
	return string(data)
}

func signWithHash(newHash func() hash.Hash, secret string, payload []byte) string {
	mac := hmac.New(newHash, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc, tenantOf func(*gin.Context) string) {
	g := rg.Group("/webhooks", authMW)
	g.GET("", func(c *gin.Context) { h.list(c, tenantOf(c)) })
	g.POST("", func(c *gin.Context) { h.create(c, tenantOf(c)) })
	g.PATCH("/:id", func(c *gin.Context) { h.update(c, tenantOf(c)) })
	g.DELETE("/:id", func(c *gin.Context) { h.delete(c, tenantOf(c)) })
	g.GET("/dispatches", func(c *gin.Context) { h.listEvents(c, tenantOf(c)) })
}

func (h *Handler) list(c *gin.Context, tenantID string) {
	items, err := h.svc.List(tenantID)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]webhookResponse, len(items))
	for i, w := range items {
		out[i] = toResponse(&w)
	}
	response.OK(c, out)
}

func (h *Handler) create(c *gin.Context, tenantID string) {
	var dto CreateWebhookDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	w, err := h.svc.Create(tenantID, &dto)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, toResponse(w))
}

func (h *Handler) update(c *gin.Context, tenantID string) {
	var dto UpdateWebhookDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	w, err := h.svc.Update(tenantID, c.Param("id"), &dto)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if w == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, toResponse(w))
}

func (h *Handler) delete(c *gin.Context, tenantID string) {
	if err := h.svc.Delete(tenantID, c.Param("id")); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) listEvents(c *gin.Context, tenantID string) {
	q := pagination.FromContext(c)
	var hookIDPtr *string
	if hookID := c.Query("hook_id"); hookID != "" {
		hookIDPtr = &hookID
	}
	items, pag, err := h.svc.ListEvents(tenantID, q, hookIDPtr)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, items, pag)
}
