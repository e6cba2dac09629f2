package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/modules/content/entry"
	"github.com/strata-cms/core/internal/pkg/errs"
	"gorm.io/gorm"
)

// Resolver is the public read path: it projects only published content, with
// snapshot fallback for entries that were edited back to draft after going
// live, and computes the content-hash ETags the HTTP layer serves.
type Resolver struct {
	db       *gorm.DB
	versions *entry.VersionStore
}

func NewResolver(db *gorm.DB, versions *entry.VersionStore) *Resolver {
	if versions == nil {
		versions = entry.NewVersionStore(db)
	}
	return &Resolver{db: db, versions: versions}
}

// Item is one published document as seen by delivery clients.
type Item struct {
	ID            string             `json:"id"`
	TenantID      string             `json:"tenant_id"`
	SectionID     string             `json:"section_id"`
	Slug          *string            `json:"slug"`
	Status        models.EntryStatus `json:"status"`
	SchemaVersion int                `json:"schema_version"`
	Data          models.JSONMap     `json:"data"`
	UpdatedAt     time.Time          `json:"updated_at"`
	PublishedAt   *time.Time         `json:"published_at"`
}

// List is the paginated envelope of the public list endpoint.
type List struct {
	Total  int64  `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Items  []Item `json:"items"`
}

// EffectivePublishedPayload resolves what delivery clients should see for an
// entry. A live published row wins; otherwise the newest publish-tagged
// snapshot; otherwise the newest snapshot of any reason. Entries with no
// usable payload anywhere have never been published as far as readers are
// concerned.
func (r *Resolver) EffectivePublishedPayload(e *models.EntryModel) (models.JSONMap, error) {
	if e.Status == models.EntryStatusPublished && len(e.Data) > 0 {
		return e.Data, nil
	}

	snap, err := r.versions.LatestByReason(e.TenantID, e.ID, models.SnapshotReasonPublish)
	if err != nil {
		return nil, err
	}
	if snap != nil && len(snap.Data) > 0 {
		return snap.Data, nil
	}

	snap, err = r.versions.Latest(e.TenantID, e.ID)
	if err != nil {
		return nil, err
	}
	if snap != nil && len(snap.Data) > 0 {
		return snap.Data, nil
	}
	return nil, nil
}

// FetchPublishedList pages through live published entries of a tenant,
// optionally narrowed by section key and slug. Ordering is deterministic so
// offset pagination never skips or repeats rows across pages.
func (r *Resolver) FetchPublishedList(tenantSlug, sectionKey string, slug *string, limit, offset int) (*List, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	tenant, err := r.tenantBySlug(tenantSlug)
	if err != nil {
		return nil, "", err
	}

	tx := r.db.Model(&models.EntryModel{}).
		Joins("JOIN sections ON sections.id = entries.section_id").
		Where("entries.tenant_id = ? AND entries.status = ?", tenant.ID, models.EntryStatusPublished)
	if sectionKey != "" {
		tx = tx.Where("sections.`key` = ?", sectionKey)
	}
	if slug != nil {
		tx = tx.Where("entries.slug = ?", *slug)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, "", err
	}

	var rows []models.EntryModel
	err = tx.Order("entries.published_at IS NULL, entries.published_at DESC").
		Order("entries.updated_at IS NULL, entries.updated_at DESC").
		Order("entries.id DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, "", err
	}

	items := make([]Item, len(rows))
	var maxStamp time.Time
	for i := range rows {
		items[i] = toItem(&rows[i])
		if rows[i].UpdatedAt.After(maxStamp) {
			maxStamp = rows[i].UpdatedAt
		}
		if rows[i].PublishedAt != nil && rows[i].PublishedAt.After(maxStamp) {
			maxStamp = *rows[i].PublishedAt
		}
	}

	slugFilter := ""
	if slug != nil {
		slugFilter = *slug
	}
	etag := sha256Hex(fmt.Sprintf("list|%s|%s|%s|%d|%d",
		tenantSlug, sectionKey, slugFilter, total, maxStamp.UTC().UnixNano()))

	return &List{Total: total, Limit: limit, Offset: offset, Items: items}, etag, nil
}

// FetchSingleEffective finds an entry by slug regardless of its live status
// and resolves its effective published payload. Drafts with no publish
// history are invisible here.
func (r *Resolver) FetchSingleEffective(tenantSlug, sectionKey, slug string) (*Item, string, error) {
	tenant, err := r.tenantBySlug(tenantSlug)
	if err != nil {
		return nil, "", err
	}

	var e models.EntryModel
	err = r.db.Joins("JOIN sections ON sections.id = entries.section_id").
		Where("entries.tenant_id = ? AND sections.`key` = ? AND entries.slug = ?", tenant.ID, sectionKey, slug).
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", errs.NotFound("entry %q", slug)
		}
		return nil, "", err
	}

	payload, err := r.EffectivePublishedPayload(&e)
	if err != nil {
		return nil, "", err
	}
	if payload == nil {
		return nil, "", errs.NotFound("published content for %q", slug)
	}

	item := toItem(&e)
	item.Data = payload
	etag, err := detailETag(&e, payload)
	if err != nil {
		return nil, "", err
	}
	return &item, etag, nil
}

func (r *Resolver) tenantBySlug(slug string) (*models.TenantModel, error) {
	var tenant models.TenantModel
	err := r.db.First(&tenant, "slug = ?", slug).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("tenant %q", slug)
		}
		return nil, err
	}
	return &tenant, nil
}

func toItem(e *models.EntryModel) Item {
	return Item{
		ID:            e.ID,
		TenantID:      e.TenantID,
		SectionID:     e.SectionID,
		Slug:          e.Slug,
		Status:        e.Status,
		SchemaVersion: e.SchemaVersion,
		Data:          e.Data,
		UpdatedAt:     e.UpdatedAt,
		PublishedAt:   e.PublishedAt,
	}
}

// detailETag hashes the canonical JSON of the fields that identify a
// delivered document. encoding/json sorts map keys, so the digest is stable
// across processes.
func detailETag(e *models.EntryModel, payload models.JSONMap) (string, error) {
	canonical, err := json.Marshal(map[string]interface{}{
		"id":             e.ID,
		"slug":           e.Slug,
		"schema_version": e.SchemaVersion,
		"status":         e.Status,
		"updated_at":     e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"data":           payload,
	})
	if err != nil {
		return "", err
	}
	return sha256Hex(string(canonical)), nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
