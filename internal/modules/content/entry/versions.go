package entry

import (
	"errors"

	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/pkg/errs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VersionStore writes and reads the append-only snapshot history of entries.
type VersionStore struct{ db *gorm.DB }

func NewVersionStore(db *gorm.DB) *VersionStore { return &VersionStore{db: db} }

// SnapshotTx appends a snapshot of the entry inside the caller's transaction.
// The parent entry row must already be locked (or freshly written) by tx so
// that MAX(version_idx)+1 is race-free; the unique index on
// (tenant_id, entry_id, version_idx) is the backstop, with a single retry
// when two writers still collide.
func (v *VersionStore) SnapshotTx(tx *gorm.DB, e *models.EntryModel, reason string, createdBy *string) (*models.EntryVersionModel, error) {
	row, err := v.appendOnce(tx, e, reason, createdBy)
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		row, err = v.appendOnce(tx, e, reason, createdBy)
	}
	return row, err
}

func (v *VersionStore) appendOnce(tx *gorm.DB, e *models.EntryModel, reason string, createdBy *string) (*models.EntryVersionModel, error) {
	var maxIdx int
	err := tx.Model(&models.EntryVersionModel{}).
		Where("tenant_id = ? AND entry_id = ?", e.TenantID, e.ID).
		Select("COALESCE(MAX(version_idx), 0)").
		Scan(&maxIdx).Error
	if err != nil {
		return nil, err
	}

	row := models.EntryVersionModel{
		TenantID:      e.TenantID,
		EntryID:       e.ID,
		SectionID:     e.SectionID,
		VersionIdx:    maxIdx + 1,
		SchemaVersion: e.SchemaVersion,
		Status:        e.Status,
		Data:          e.Data,
		CreatedBy:     createdBy,
		Reason:        reason,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// lockEntry re-reads the entry row under SELECT ... FOR UPDATE so the whole
// mutate-then-snapshot sequence serializes per entry.
func lockEntry(tx *gorm.DB, tenantID, entryID string) (*models.EntryModel, error) {
	var e models.EntryModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&e, "tenant_id = ? AND id = ?", tenantID, entryID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("entry %s", entryID)
		}
		return nil, err
	}
	return &e, nil
}

// ListVersions returns the full history of an entry, oldest first.
func (v *VersionStore) ListVersions(tenantID, entryID string) ([]models.EntryVersionModel, error) {
	var items []models.EntryVersionModel
	err := v.db.Where("tenant_id = ? AND entry_id = ?", tenantID, entryID).
		Order("version_idx ASC").
		Find(&items).Error
	return items, err
}

// GetVersion fetches one snapshot by index.
func (v *VersionStore) GetVersion(tenantID, entryID string, versionIdx int) (*models.EntryVersionModel, error) {
	var row models.EntryVersionModel
	err := v.db.First(&row, "tenant_id = ? AND entry_id = ? AND version_idx = ?", tenantID, entryID, versionIdx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// LatestByReason returns the newest snapshot of an entry with the given
// reason, or nil when no such snapshot exists.
func (v *VersionStore) LatestByReason(tenantID, entryID, reason string) (*models.EntryVersionModel, error) {
	var row models.EntryVersionModel
	err := v.db.Where("tenant_id = ? AND entry_id = ? AND reason = ?", tenantID, entryID, reason).
		Order("version_idx DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Latest returns the newest snapshot of an entry regardless of reason.
func (v *VersionStore) Latest(tenantID, entryID string) (*models.EntryVersionModel, error) {
	var row models.EntryVersionModel
	err := v.db.Where("tenant_id = ? AND entry_id = ?", tenantID, entryID).
		Order("version_idx DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
