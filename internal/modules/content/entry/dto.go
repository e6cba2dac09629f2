package entry

import (
	"time"

	"github.com/strata-cms/core/internal/models"
)

type CreateEntryDTO struct {
	SectionID     string             `json:"section_id"     binding:"required"`
	Slug          *string            `json:"slug"`
	Data          models.JSONMap     `json:"data"           binding:"required"`
	SchemaVersion int                `json:"schema_version"`
	Status        models.EntryStatus `json:"status"`
}

type UpdateEntryDTO struct {
	Slug          *string            `json:"slug"`
	Data          models.JSONMap     `json:"data"`
	SchemaVersion int                `json:"schema_version"`
	Status        models.EntryStatus `json:"status"`
}

type entryResponse struct {
	ID            string             `json:"id"`
	TenantID      string             `json:"tenant_id"`
	SectionID     string             `json:"section_id"`
	Slug          *string            `json:"slug"`
	SchemaVersion int                `json:"schema_version"`
	Status        models.EntryStatus `json:"status"`
	Data          models.JSONMap     `json:"data"`
	PublishedAt   *time.Time         `json:"published_at"`
	ArchivedAt    *time.Time         `json:"archived_at"`
	Created       time.Time          `json:"created_at"`
	Modified      time.Time          `json:"updated_at"`
}

func toEntryResponse(e *models.EntryModel) entryResponse {
	return entryResponse{
		ID:            e.ID,
		TenantID:      e.TenantID,
		SectionID:     e.SectionID,
		Slug:          e.Slug,
		SchemaVersion: e.SchemaVersion,
		Status:        e.Status,
		Data:          e.Data,
		PublishedAt:   e.PublishedAt,
		ArchivedAt:    e.ArchivedAt,
		Created:       e.CreatedAt,
		Modified:      e.UpdatedAt,
	}
}

type versionResponse struct {
	VersionIdx    int                `json:"version_idx"`
	SchemaVersion int                `json:"schema_version"`
	Status        models.EntryStatus `json:"status"`
	Data          models.JSONMap     `json:"data"`
	Reason        string             `json:"reason"`
	CreatedBy     *string            `json:"created_by"`
	Created       time.Time          `json:"created_at"`
}

func toVersionResponse(v *models.EntryVersionModel) versionResponse {
	return versionResponse{
		VersionIdx:    v.VersionIdx,
		SchemaVersion: v.SchemaVersion,
		Status:        v.Status,
		Data:          v.Data,
		Reason:        v.Reason,
		CreatedBy:     v.CreatedBy,
		Created:       v.CreatedAt,
	}
}
