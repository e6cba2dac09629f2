package models

import "time"

// UserRole determines which admin actions a user may perform.
type UserRole string

const (
	RoleAdmin  UserRole = "admin"  // everything, including schema activation
	RoleEditor UserRole = "editor" // entry CRUD + publish lifecycle
	RoleViewer UserRole = "viewer" // read-only admin access
)

// UserModel is an admin API user, scoped to a tenant.
type UserModel struct {
	Base
	TenantID      string     `json:"tenant_id" gorm:"type:char(36);index;not null;uniqueIndex:uniq_user_name"`
	Username      string     `json:"username"  gorm:"not null;uniqueIndex:uniq_user_name"`
	Name          string     `json:"name"`
	Password      string     `json:"-"         gorm:"not null"` // bcrypt hash
	Role          UserRole   `json:"role"      gorm:"type:varchar(16);default:'editor'"`
	LastLoginTime *time.Time `json:"last_login_time"`
	LastLoginIP   string     `json:"last_login_ip"`
}

func (UserModel) TableName() string { return "users" }
