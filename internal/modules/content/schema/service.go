package schema

import (
	"errors"
	"fmt"

	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/pkg/errs"
	"gorm.io/gorm"
)

// Service is the schema version registry: it owns sections and their schema
// versions, and enforces the at-most-one-active-version invariant.
type Service struct {
	db       *gorm.DB
	policies PolicyProvider
}

func NewService(db *gorm.DB, policies PolicyProvider) *Service {
	if policies == nil {
		policies = StaticPolicies{}
	}
	return &Service{db: db, policies: policies}
}

// CreateSection registers a content type. Idempotent on (tenant, key): a
// repeat call returns the existing section untouched.
func (s *Service) CreateSection(tenantID, key, name, description string) (*models.SectionModel, error) {
	var existing models.SectionModel
	err := s.db.Where("tenant_id = ? AND `key` = ?", tenantID, key).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	section := models.SectionModel{
		TenantID:    tenantID,
		Key:         key,
		Name:        name,
		Description: description,
	}
	if err := s.db.Create(&section).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost the insert race; the winner's row is what we wanted anyway
			err = s.db.Where("tenant_id = ? AND `key` = ?", tenantID, key).First(&section).Error
			if err != nil {
				return nil, err
			}
			return &section, nil
		}
		return nil, err
	}
	return &section, nil
}

// GetSection fetches a section by id within a tenant.
func (s *Service) GetSection(tenantID, sectionID string) (*models.SectionModel, error) {
	var section models.SectionModel
	err := s.db.Where("tenant_id = ? AND id = ?", tenantID, sectionID).First(&section).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("section %s", sectionID)
		}
		return nil, err
	}
	return &section, nil
}

// GetSectionByKey fetches a section by its key within a tenant.
func (s *Service) GetSectionByKey(tenantID, key string) (*models.SectionModel, error) {
	var section models.SectionModel
	err := s.db.Where("tenant_id = ? AND `key` = ?", tenantID, key).First(&section).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("section %q", key)
		}
		return nil, err
	}
	return &section, nil
}

// ListSections returns all sections of a tenant, newest first.
func (s *Service) ListSections(tenantID string) ([]models.SectionModel, error) {
	var sections []models.SectionModel
	err := s.db.Where("tenant_id = ?", tenantID).Order("created_at DESC").Find(&sections).Error
	return sections, err
}

// AddSchemaVersion registers one schema version. Idempotent on (tenant,
// section, version): a repeat call may refresh the title or activate, but
// never duplicates the row. New rows are always inserted inactive first;
// activation is a separate step so the active-uniqueness constraint is never
// violated mid-write.
func (s *Service) AddSchemaVersion(tenantID, sectionID string, version int, schemaDoc models.JSONMap, title string, activate bool) (*models.SectionSchemaModel, error) {
	if version <= 0 {
		return nil, fmt.Errorf("schema version must be a positive integer, got %d", version)
	}
	if _, err := s.GetSection(tenantID, sectionID); err != nil {
		return nil, err
	}

	var row models.SectionSchemaModel
	err := s.db.Where("tenant_id = ? AND section_id = ? AND version = ?", tenantID, sectionID, version).
		First(&row).Error
	switch {
	case err == nil:
		if title != "" && title != row.Title {
			if err := s.db.Model(&row).Update("title", title).Error; err != nil {
				return nil, err
			}
			row.Title = title
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.SectionSchemaModel{
			TenantID:  tenantID,
			SectionID: sectionID,
			Version:   version,
			Title:     title,
			Schema:    schemaDoc,
			IsActive:  false,
		}
		if err := s.db.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				if err := s.db.Where("tenant_id = ? AND section_id = ? AND version = ?", tenantID, sectionID, version).
					First(&row).Error; err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
	default:
		return nil, err
	}

	if activate {
		return s.ActivateVersion(tenantID, sectionID, version)
	}
	return &row, nil
}

// ActivateVersion makes the target version the single active schema of its
// section. The section's evolution policy is checked first, so a blocked
// version can never become active no matter which caller asks. The switch
// runs as one transaction: deactivate everything, then activate the target.
// No reader ever observes zero-or-two active versions for a section; if a
// concurrent activation slips past the row updates, the active-mark unique
// index fails the commit and the caller gets ErrActivationConflict.
func (s *Service) ActivateVersion(tenantID, sectionID string, version int) (*models.SectionSchemaModel, error) {
	ok, violations, err := s.CanActivateVersion(tenantID, sectionID, version)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &errs.CompatibilityError{Violations: violations}
	}

	var activated models.SectionSchemaModel

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var target models.SectionSchemaModel
		err := tx.Where("tenant_id = ? AND section_id = ? AND version = ?", tenantID, sectionID, version).
			First(&target).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("schema version %d of section %s", version, sectionID)
			}
			return err
		}

		if err := tx.Model(&models.SectionSchemaModel{}).
			Where("tenant_id = ? AND section_id = ? AND is_active = ?", tenantID, sectionID, true).
			Updates(map[string]interface{}{"is_active": false, "active_mark": nil}).Error; err != nil {
			return err
		}

		if err := tx.Model(&target).
			Updates(map[string]interface{}{"is_active": true, "active_mark": "1"}).Error; err != nil {
			return err
		}

		target.IsActive = true
		mark := "1"
		target.ActiveMark = &mark
		activated = target
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("section %s: %w", sectionID, errs.ErrActivationConflict)
		}
		return nil, err
	}
	return &activated, nil
}

// GetEffectiveSchema resolves the schema new entries validate against: the
// active version if one exists, else the highest registered version. Returns
// (nil, nil) when the section has no schema versions at all.
func (s *Service) GetEffectiveSchema(tenantID, sectionID string) (*models.SectionSchemaModel, error) {
	var row models.SectionSchemaModel
	err := s.db.Where("tenant_id = ? AND section_id = ? AND is_active = ?", tenantID, sectionID, true).
		First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = s.db.Where("tenant_id = ? AND section_id = ?", tenantID, sectionID).
		Order("version DESC").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// GetSchemaVersion fetches an exact schema version.
func (s *Service) GetSchemaVersion(tenantID, sectionID string, version int) (*models.SectionSchemaModel, error) {
	var row models.SectionSchemaModel
	err := s.db.Where("tenant_id = ? AND section_id = ? AND version = ?", tenantID, sectionID, version).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("schema version %d of section %s", version, sectionID)
		}
		return nil, err
	}
	return &row, nil
}

// ListSchemaVersions returns all schema versions of a section, ascending.
func (s *Service) ListSchemaVersions(tenantID, sectionID string) ([]models.SectionSchemaModel, error) {
	var rows []models.SectionSchemaModel
	err := s.db.Where("tenant_id = ? AND section_id = ?", tenantID, sectionID).
		Order("version ASC").Find(&rows).Error
	return rows, err
}

// CanActivateVersion checks the section's evolution policy against the
// target version. Sections without a declared policy are unconstrained, as
// are "free" mode and allow_breaking. The first-ever activation is always
// allowed: there is nothing to break.
func (s *Service) CanActivateVersion(tenantID, sectionID string, version int) (bool, []string, error) {
	section, err := s.GetSection(tenantID, sectionID)
	if err != nil {
		return false, nil, err
	}

	target, err := s.GetSchemaVersion(tenantID, sectionID, version)
	if err != nil {
		return false, nil, err
	}

	policy, declared := s.policies.PolicyForSection(section.Key)
	if !declared {
		return true, nil, nil
	}
	if policy.EvolutionMode != EvolutionAdditiveOnly || policy.AllowBreaking {
		return true, nil, nil
	}

	var active models.SectionSchemaModel
	err = s.db.Where("tenant_id = ? AND section_id = ? AND is_active = ?", tenantID, sectionID, true).
		First(&active).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, nil, nil
		}
		return false, nil, err
	}

	ok, violations := CheckAdditiveCompatibility(active.Schema, target.Schema)
	return ok, violations, nil
}
