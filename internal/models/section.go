package models

// SectionModel is a tenant-scoped content type ("Landing Pages", "Articles").
// Identity is (tenant_id, key) and is immutable after creation.
type SectionModel struct {
	Base
	TenantID    string `json:"tenant_id"   gorm:"type:char(36);index;not null;uniqueIndex:uniq_section_key"`
	Key         string `json:"key"         gorm:"not null;uniqueIndex:uniq_section_key"`
	Name        string `json:"name"        gorm:"not null"`
	Description string `json:"description"`

	Schemas []SectionSchemaModel `json:"schemas,omitempty" gorm:"foreignKey:SectionID;constraint:OnDelete:CASCADE"`
	Entries []EntryModel         `json:"entries,omitempty" gorm:"foreignKey:SectionID;constraint:OnDelete:CASCADE"`
}

func (SectionModel) TableName() string { return "sections" }

// SectionSchemaModel is one version of a section's JSON Schema.
//
// At most one version per (tenant_id, section_id) may be active. MySQL has no
// partial unique indexes, so the invariant is enforced with ActiveMark: set to
// "1" on the active row and NULL otherwise. NULLs never collide inside the
// composite unique index, so any second concurrently-activated row hits a
// duplicate-key error at commit.
type SectionSchemaModel struct {
	Base
	TenantID   string  `json:"tenant_id"  gorm:"type:char(36);index;not null;uniqueIndex:uniq_schema_version;uniqueIndex:uniq_schema_active"`
	SectionID  string  `json:"section_id" gorm:"type:char(36);index;not null;uniqueIndex:uniq_schema_version;uniqueIndex:uniq_schema_active"`
	Version    int     `json:"version"    gorm:"not null;uniqueIndex:uniq_schema_version"`
	Title      string  `json:"title"`
	Schema     JSONMap `json:"schema"     gorm:"type:longtext;serializer:json"`
	IsActive   bool    `json:"is_active"  gorm:"default:false;index"`
	ActiveMark *string `json:"-"          gorm:"type:char(1);uniqueIndex:uniq_schema_active"`
}

func (SectionSchemaModel) TableName() string { return "section_schemas" }
