package models

// TenantModel is one isolated customer namespace. All content rows carry the
// tenant id; the public delivery layer addresses tenants by slug.
type TenantModel struct {
	Base
	Slug string `json:"slug" gorm:"uniqueIndex;not null"`
	Name string `json:"name" gorm:"not null"`
}

func (TenantModel) TableName() string { return "tenants" }
