package models

// ContentAuditLogModel records every mutating content action.
// Write-only from the content core; the admin API reads it back for display.
type ContentAuditLogModel struct {
	Base
	TenantID  string  `json:"tenant_id"  gorm:"type:char(36);index;not null"`
	EntryID   string  `json:"entry_id"   gorm:"type:char(36);index"`
	SectionID string  `json:"section_id" gorm:"type:char(36);index"`
	Action    string  `json:"action"     gorm:"type:varchar(16);index;not null"`
	UserID    *string `json:"user_id"    gorm:"type:char(36);index"`
	Details   JSONMap `json:"details"    gorm:"type:longtext;serializer:json"`
	IP        string  `json:"ip"`
	UserAgent string  `json:"user_agent"`
}

func (ContentAuditLogModel) TableName() string { return "content_audit_logs" }
