package rbac

import (
	"errors"

	"github.com/strata-cms/core/internal/models"
	"gorm.io/gorm"
)

// Permission keys consulted before mutating lifecycle actions.
const (
	PermEntryPublish   = "entry:publish"
	PermEntryUnpublish = "entry:unpublish"
	PermEntryArchive   = "entry:archive"
	PermSchemaActivate = "schema:activate"
)

// Checker answers permission questions for the content core. Denial must be
// surfaced before any state mutation is attempted.
type Checker interface {
	UserHasPermission(userID, tenantID, perm string) (bool, error)
}

// DBChecker resolves permissions from the user's role row.
type DBChecker struct {
	db *gorm.DB
}

func NewDBChecker(db *gorm.DB) *DBChecker { return &DBChecker{db: db} }

func (c *DBChecker) UserHasPermission(userID, tenantID, perm string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var user models.UserModel
	err := c.db.Where("id = ? AND tenant_id = ?", userID, tenantID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	switch user.Role {
	case models.RoleAdmin:
		return true, nil
	case models.RoleEditor:
		return perm != PermSchemaActivate, nil
	default:
		return false, nil
	}
}

// AllowAll grants everything. Test/bootstrap use only.
type AllowAll struct{}

func (AllowAll) UserHasPermission(string, string, string) (bool, error) { return true, nil }
