package models

import "time"

// WebhookModel defines an outbound webhook endpoint owned by a tenant.
type WebhookModel struct {
	Base
	TenantID   string   `json:"tenant_id"   gorm:"type:char(36);index;not null"`
	PayloadURL string   `json:"payload_url" gorm:"not null"`
	Events     []string `json:"events"      gorm:"serializer:json"`
	Enabled    bool     `json:"enabled"     gorm:"default:true"`
	Secret     string   `json:"-"           gorm:"not null"`

	EventLogs []WebhookEventModel `json:"event_logs,omitempty" gorm:"foreignKey:HookID"`
}

func (WebhookModel) TableName() string { return "webhooks" }

// WebhookEventModel is the audit trail of webhook deliveries.
type WebhookEventModel struct {
	Base
	HookID    string  `json:"hook_id"   gorm:"index;not null"`
	Event     string  `json:"event"     gorm:"not null"`
	Headers   JSONMap `json:"headers"   gorm:"serializer:json"`
	Payload   JSONMap `json:"payload"   gorm:"serializer:json"`
	Response  JSONMap `json:"response"  gorm:"serializer:json"`
	Success   bool    `json:"success"`
	Status    int     `json:"status"`
	Timestamp time.Time `json:"timestamp" gorm:"index"`
}

func (WebhookEventModel) TableName() string { return "webhook_events" }
