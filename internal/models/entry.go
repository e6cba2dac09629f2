package models

import "time"

// EntryStatus is the lifecycle state of an entry.
type EntryStatus string

const (
	EntryStatusDraft     EntryStatus = "draft"
	EntryStatusPublished EntryStatus = "published"
	EntryStatusArchived  EntryStatus = "archived"
)

// SnapshotReason tags why an EntryVersionModel row was written.
const (
	SnapshotReasonCreate    = "create"
	SnapshotReasonUpdate    = "update"
	SnapshotReasonPublish   = "publish"
	SnapshotReasonUnpublish = "unpublish"
	SnapshotReasonArchive   = "archive"
	SnapshotReasonRestore   = "restore"
)

// EntryModel is one JSON content document inside a section.
// The data column is the user document, stored verbatim and validated against
// the SectionSchemaModel at SchemaVersion (which need not be the active one).
type EntryModel struct {
	Base
	TenantID      string      `json:"tenant_id"      gorm:"type:char(36);index;not null;uniqueIndex:uniq_entry_slug"`
	SectionID     string      `json:"section_id"     gorm:"type:char(36);index;not null;uniqueIndex:uniq_entry_slug"`
	Slug          *string     `json:"slug"           gorm:"uniqueIndex:uniq_entry_slug"`
	SchemaVersion int         `json:"schema_version" gorm:"not null"`
	Status        EntryStatus `json:"status"         gorm:"type:varchar(16);default:'draft';index"`
	Data          JSONMap     `json:"data"           gorm:"type:longtext;serializer:json"`
	PublishedAt   *time.Time  `json:"published_at"`
	ArchivedAt    *time.Time  `json:"archived_at"`

	Versions []EntryVersionModel `json:"versions,omitempty" gorm:"foreignKey:EntryID;constraint:OnDelete:CASCADE"`
}

func (EntryModel) TableName() string { return "entries" }

// EntryVersionModel is an immutable snapshot of an entry. Append-only: rows
// are never updated or deleted, and (tenant_id, entry_id, version_idx) is the
// uniqueness backstop against concurrent snapshot writers.
type EntryVersionModel struct {
	Base
	TenantID      string      `json:"tenant_id"      gorm:"type:char(36);index;not null;uniqueIndex:uniq_entry_version"`
	EntryID       string      `json:"entry_id"       gorm:"type:char(36);index;not null;uniqueIndex:uniq_entry_version"`
	SectionID     string      `json:"section_id"     gorm:"type:char(36);index;not null"`
	VersionIdx    int         `json:"version_idx"    gorm:"not null;uniqueIndex:uniq_entry_version"`
	SchemaVersion int         `json:"schema_version" gorm:"not null"`
	Status        EntryStatus `json:"status"         gorm:"type:varchar(16)"`
	Data          JSONMap     `json:"data"           gorm:"type:longtext;serializer:json"`
	CreatedBy     *string     `json:"created_by"     gorm:"type:char(36)"`
	Reason        string      `json:"reason"         gorm:"type:varchar(16);index"`
}

func (EntryVersionModel) TableName() string { return "entry_versions" }
