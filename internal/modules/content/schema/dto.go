package schema

import (
	"time"

	"github.com/strata-cms/core/internal/models"
)

type CreateSectionDTO struct {
	Key         string `json:"key"  binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type AddSchemaVersionDTO struct {
	Version  int            `json:"version" binding:"required,min=1"`
	Title    string         `json:"title"`
	Schema   models.JSONMap `json:"schema"  binding:"required"`
	Activate bool           `json:"activate"`
}

type sectionResponse struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Created     time.Time `json:"created_at"`
	Modified    time.Time `json:"updated_at"`
}

func toSectionResponse(s *models.SectionModel) sectionResponse {
	return sectionResponse{
		ID: s.ID, Key: s.Key, Name: s.Name, Description: s.Description,
		Created: s.CreatedAt, Modified: s.UpdatedAt,
	}
}

type schemaVersionResponse struct {
	Version  int            `json:"version"`
	Title    string         `json:"title"`
	Schema   models.JSONMap `json:"schema"`
	IsActive bool           `json:"is_active"`
	Created  time.Time      `json:"created_at"`
}

func toSchemaVersionResponse(v *models.SectionSchemaModel) schemaVersionResponse {
	return schemaVersionResponse{
		Version: v.Version, Title: v.Title, Schema: v.Schema,
		IsActive: v.IsActive, Created: v.CreatedAt,
	}
}

type canActivateResponse struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations"`
}
