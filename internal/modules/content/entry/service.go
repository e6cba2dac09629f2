package entry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/modules/audit"
	"github.com/strata-cms/core/internal/modules/content/schema"
	"github.com/strata-cms/core/internal/modules/webhook"
	"github.com/strata-cms/core/internal/pkg/errs"
	"github.com/strata-cms/core/internal/pkg/pagination"
	"github.com/strata-cms/core/internal/pkg/rbac"
	"github.com/strata-cms/core/internal/pkg/response"
	"gorm.io/gorm"
)

// Service owns the entry lifecycle: creation, data updates, the status state
// machine, and the append-only snapshot history behind every mutation.
type Service struct {
	db       *gorm.DB
	schemas  *schema.Service
	versions *VersionStore
	audits   *audit.Service
	hooks    *webhook.Service
	perms    rbac.Checker

	maxPayloadBytes int
}

type Options struct {
	Schemas *schema.Service
	Audits  *audit.Service
	Hooks   *webhook.Service
	Perms   rbac.Checker

	// MaxPayloadKB bounds the serialized entry data. Zero means 256.
	MaxPayloadKB int
}

func NewService(db *gorm.DB, opts Options) *Service {
	if opts.Schemas == nil {
		opts.Schemas = schema.NewService(db, nil)
	}
	if opts.Perms == nil {
		opts.Perms = rbac.AllowAll{}
	}
	if opts.MaxPayloadKB <= 0 {
		opts.MaxPayloadKB = 256
	}
	return &Service{
		db:              db,
		schemas:         opts.Schemas,
		versions:        NewVersionStore(db),
		audits:          opts.Audits,
		hooks:           opts.Hooks,
		perms:           opts.Perms,
		maxPayloadBytes: opts.MaxPayloadKB * 1024,
	}
}

// Versions exposes the snapshot store for read paths (history listing,
// delivery fallback).
func (s *Service) Versions() *VersionStore { return s.versions }

// Actor identifies who performed a mutation and where from. Everything in it
// is optional; whatever is present ends up on the audit record.
type Actor struct {
	UserID    *string
	IP        string
	UserAgent string
}

type CreateEntryInput struct {
	SectionID     string
	Slug          *string
	Data          models.JSONMap
	SchemaVersion int                // 0 means resolve the effective version
	Status        models.EntryStatus // empty means draft
	Actor         Actor
}

type UpdateEntryInput struct {
	Slug          *string
	Data          models.JSONMap     // nil means leave data untouched
	SchemaVersion int                // 0 means keep the pinned version
	Status        models.EntryStatus // empty means keep the current status
	Actor         Actor
}

// Create validates the document against the section's schema and writes the
// entry plus its first snapshot in one transaction. Status is taken at face
// value here: callers crossing the admin API are trusted to seed entries in
// any state, and no transition side effects fire (a created "published" entry
// has no published_at until it goes through an actual publish).
func (s *Service) Create(tenantID string, in CreateEntryInput) (*models.EntryModel, error) {
	if in.Status == "" {
		in.Status = models.EntryStatusDraft
	}
	if _, ok := allowedTransitions[in.Status]; !ok {
		return nil, fmt.Errorf("unknown status %q", in.Status)
	}
	if err := s.checkPayloadSize(in.Data); err != nil {
		return nil, err
	}

	schemaRow, err := s.resolveSchemaVersion(tenantID, in.SectionID, in.SchemaVersion)
	if err != nil {
		return nil, err
	}
	version := 0
	if schemaRow != nil {
		version = schemaRow.Version
		if err := validateAgainstSchema(schemaRow.Schema, in.Data); err != nil {
			return nil, err
		}
	}

	e := models.EntryModel{
		TenantID:      tenantID,
		SectionID:     in.SectionID,
		Slug:          in.Slug,
		SchemaVersion: version,
		Status:        in.Status,
		Data:          in.Data,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&e).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("slug already in use in section %s: %w", in.SectionID, errs.ErrConflict)
			}
			return err
		}
		_, err := s.versions.SnapshotTx(tx, &e, models.SnapshotReasonCreate, in.Actor.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.writeAudit(tenantID, &e, "create", in.Actor, models.JSONMap{
		"status":         string(e.Status),
		"schema_version": e.SchemaVersion,
	})
	return &e, nil
}

// Update replaces the document (and optionally slug, pinned schema version or
// status) and appends a snapshot. A status in the input is applied at face
// value, the same trust as Create: no transition side effects fire and the
// document is not revalidated because of it.
func (s *Service) Update(tenantID, entryID string, in UpdateEntryInput) (*models.EntryModel, error) {
	if in.Data != nil {
		if err := s.checkPayloadSize(in.Data); err != nil {
			return nil, err
		}
	}
	if in.Status != "" {
		if _, ok := allowedTransitions[in.Status]; !ok {
			return nil, fmt.Errorf("unknown status %q", in.Status)
		}
	}

	var updated *models.EntryModel
	var changedKeys []string

	err := s.db.Transaction(func(tx *gorm.DB) error {
		e, err := lockEntry(tx, tenantID, entryID)
		if err != nil {
			return err
		}

		targetVersion := e.SchemaVersion
		if in.SchemaVersion > 0 {
			targetVersion = in.SchemaVersion
		}
		newData := e.Data
		if in.Data != nil {
			newData = in.Data
		}

		if targetVersion > 0 {
			schemaRow, err := s.schemas.GetSchemaVersion(tenantID, e.SectionID, targetVersion)
			if err != nil {
				return err
			}
			if err := validateAgainstSchema(schemaRow.Schema, newData); err != nil {
				return err
			}
		}

		changedKeys = shallowChangedKeys(e.Data, newData)

		updates := map[string]interface{}{
			"data":           newData,
			"schema_version": targetVersion,
		}
		if in.Slug != nil {
			updates["slug"] = in.Slug
		}
		if in.Status != "" {
			updates["status"] = in.Status
		}
		if err := tx.Model(e).Updates(updates).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("slug already in use in section %s: %w", e.SectionID, errs.ErrConflict)
			}
			return err
		}

		e.Data = newData
		e.SchemaVersion = targetVersion
		if in.Slug != nil {
			e.Slug = in.Slug
		}
		if in.Status != "" {
			e.Status = in.Status
		}

		if _, err := s.versions.SnapshotTx(tx, e, models.SnapshotReasonUpdate, in.Actor.UserID); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	details := models.JSONMap{
		"changed_keys":   changedKeys,
		"schema_version": updated.SchemaVersion,
	}
	if in.Status != "" {
		details["status"] = string(in.Status)
	}
	s.writeAudit(tenantID, updated, "update", in.Actor, details)
	return updated, nil
}

// Publish moves an entry to published, stamping published_at and clearing
// archived_at. Publishing a published entry is a no-op.
func (s *Service) Publish(tenantID, entryID string, actor Actor) (*models.EntryModel, error) {
	return s.transition(tenantID, entryID, models.EntryStatusPublished, models.SnapshotReasonPublish,
		"publish", rbac.PermEntryPublish, webhook.EventContentPublished, actor)
}

// Unpublish moves an entry back to draft. published_at is cleared; archived
// entries pass through here too when they are restored to draft.
func (s *Service) Unpublish(tenantID, entryID string, actor Actor) (*models.EntryModel, error) {
	return s.transition(tenantID, entryID, models.EntryStatusDraft, models.SnapshotReasonUnpublish,
		"unpublish", rbac.PermEntryUnpublish, webhook.EventContentUnpublished, actor)
}

// Archive freezes an entry. published_at is preserved so a later restore
// keeps the original publish date visible in history.
func (s *Service) Archive(tenantID, entryID string, actor Actor) (*models.EntryModel, error) {
	return s.transition(tenantID, entryID, models.EntryStatusArchived, models.SnapshotReasonArchive,
		"archive", rbac.PermEntryArchive, webhook.EventContentArchived, actor)
}

func (s *Service) transition(tenantID, entryID string, to models.EntryStatus, reason, auditAction, perm, event string, actor Actor) (*models.EntryModel, error) {
	if err := s.checkPermission(actor.UserID, tenantID, perm); err != nil {
		return nil, err
	}

	var result *models.EntryModel
	var from models.EntryStatus
	noop := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		e, err := lockEntry(tx, tenantID, entryID)
		if err != nil {
			return err
		}
		from = e.Status
		if err := checkTransition(e.Status, to); err != nil {
			return err
		}
		if e.Status == to {
			noop = true
			result = e
			return nil
		}

		updates := applyTransitionTimestamps(e, to, time.Now().UTC())
		if err := tx.Model(e).Updates(updates).Error; err != nil {
			return err
		}
		if _, err := s.versions.SnapshotTx(tx, e, reason, actor.UserID); err != nil {
			return err
		}
		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return result, nil
	}

	s.writeAudit(tenantID, result, auditAction, actor, models.JSONMap{
		"before_status": string(from),
		"after_status":  string(to),
	})
	if s.hooks != nil {
		// restoring archived content to draft is not an unpublish from the
		// consumer's point of view unless it was actually live
		if event != webhook.EventContentUnpublished || from == models.EntryStatusPublished {
			s.hooks.Dispatch(event, webhook.NewEventPayload(tenantID, result.ID, result.SectionID, result.Slug))
		}
	}
	return result, nil
}

// RestoreVersion copies a snapshot's data and pinned schema version back onto
// the entry. Status is untouched; restoring content does not republish it.
func (s *Service) RestoreVersion(tenantID, entryID string, versionIdx int, actor Actor) (*models.EntryModel, error) {
	var restored *models.EntryModel

	err := s.db.Transaction(func(tx *gorm.DB) error {
		e, err := lockEntry(tx, tenantID, entryID)
		if err != nil {
			return err
		}

		var snap models.EntryVersionModel
		err = tx.First(&snap, "tenant_id = ? AND entry_id = ? AND version_idx = ?", tenantID, entryID, versionIdx).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("version %d of entry %s", versionIdx, entryID)
			}
			return err
		}

		if err := tx.Model(e).Updates(map[string]interface{}{
			"data":           snap.Data,
			"schema_version": snap.SchemaVersion,
		}).Error; err != nil {
			return err
		}
		e.Data = snap.Data
		e.SchemaVersion = snap.SchemaVersion

		if _, err := s.versions.SnapshotTx(tx, e, models.SnapshotReasonRestore, actor.UserID); err != nil {
			return err
		}
		restored = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.writeAudit(tenantID, restored, "restore", actor, models.JSONMap{
		"restored_from": versionIdx,
	})
	return restored, nil
}

// GetEntry fetches one entry by id within a tenant.
func (s *Service) GetEntry(tenantID, entryID string) (*models.EntryModel, error) {
	var e models.EntryModel
	err := s.db.First(&e, "tenant_id = ? AND id = ?", tenantID, entryID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("entry %s", entryID)
		}
		return nil, err
	}
	return &e, nil
}

// GetBySlug fetches an entry by slug within a section.
func (s *Service) GetBySlug(tenantID, sectionID, slug string) (*models.EntryModel, error) {
	var e models.EntryModel
	err := s.db.First(&e, "tenant_id = ? AND section_id = ? AND slug = ?", tenantID, sectionID, slug).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("entry %q", slug)
		}
		return nil, err
	}
	return &e, nil
}

// Delete soft-deletes an entry. Its snapshots stay behind for audit.
func (s *Service) Delete(tenantID, entryID string, actor Actor) error {
	e, err := s.GetEntry(tenantID, entryID)
	if err != nil {
		return err
	}
	if err := s.db.Delete(e).Error; err != nil {
		return err
	}
	s.writeAudit(tenantID, e, "delete", actor, nil)
	return nil
}

// ListFilter narrows ListEntries. DataFilters are dot-path equality
// predicates and DataContains dot-path substring predicates against the JSON
// document.
type ListFilter struct {
	SectionID    string
	Status       models.EntryStatus
	DataFilters  map[string]interface{}
	DataContains map[string]string
}

func (f ListFilter) hasDataPredicates() bool {
	return len(f.DataFilters) > 0 || len(f.DataContains) > 0
}

// ListEntries pages through a tenant's entries, newest first. Status and
// section narrow the SQL query. Data predicates cannot, since the JSON column
// is serialized opaquely: when present, the matching set is materialized and
// filtered first, so totals count matching entries and pages fill up.
func (s *Service) ListEntries(tenantID string, q pagination.Query, f ListFilter) ([]models.EntryModel, response.Pagination, error) {
	tx := s.db.Model(&models.EntryModel{}).Where("tenant_id = ?", tenantID)
	if f.SectionID != "" {
		tx = tx.Where("section_id = ?", f.SectionID)
	}
	if f.Status != "" {
		tx = tx.Where("status = ?", f.Status)
	}
	tx = tx.Order("created_at DESC")

	if !f.hasDataPredicates() {
		var items []models.EntryModel
		pag, err := pagination.Paginate(tx, q, &items)
		if err != nil {
			return nil, pag, err
		}
		return items, pag, nil
	}

	var all []models.EntryModel
	if err := tx.Find(&all).Error; err != nil {
		return nil, response.Pagination{}, err
	}
	matched := all[:0]
	for i := range all {
		if matchesDataFilters(all[i].Data, f) {
			matched = append(matched, all[i])
		}
	}
	return paginateSlice(matched, q)
}

// paginateSlice pages an already filtered result set with the same metadata
// shape Paginate produces.
func paginateSlice(items []models.EntryModel, q pagination.Query) ([]models.EntryModel, response.Pagination, error) {
	total := len(items)
	offset := (q.Page - 1) * q.Size
	if offset > total {
		offset = total
	}
	end := offset + q.Size
	if end > total {
		end = total
	}
	totalPage := (total + q.Size - 1) / q.Size
	pag := response.Pagination{
		Total:       int64(total),
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	}
	return items[offset:end], pag, nil
}

func (s *Service) checkPermission(userID *string, tenantID, perm string) error {
	if userID == nil {
		return nil
	}
	ok, err := s.perms.UserHasPermission(*userID, tenantID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s denied: %w", perm, errs.ErrForbidden)
	}
	return nil
}

func (s *Service) checkPayloadSize(data models.JSONMap) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if len(raw) > s.maxPayloadBytes {
		return &errs.PayloadTooLargeError{Size: len(raw), Limit: s.maxPayloadBytes}
	}
	return nil
}

// resolveSchemaVersion returns the schema row an entry should validate
// against. Explicit versions must exist; version zero resolves to the
// section's effective schema, which may legitimately be absent for
// schema-less sections.
func (s *Service) resolveSchemaVersion(tenantID, sectionID string, version int) (*models.SectionSchemaModel, error) {
	if _, err := s.schemas.GetSection(tenantID, sectionID); err != nil {
		return nil, err
	}
	if version > 0 {
		return s.schemas.GetSchemaVersion(tenantID, sectionID, version)
	}
	return s.schemas.GetEffectiveSchema(tenantID, sectionID)
}

func validateAgainstSchema(schemaDoc, data models.JSONMap) error {
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return err
	}
	var sch jsonschema.Schema
	if err := json.Unmarshal(raw, &sch); err != nil {
		return &errs.ValidationError{Message: "schema document is not a valid JSON Schema: " + err.Error()}
	}
	resolved, err := sch.Resolve(nil)
	if err != nil {
		return &errs.ValidationError{Message: "schema document failed to resolve: " + err.Error()}
	}
	if err := resolved.Validate(map[string]interface{}(data)); err != nil {
		return &errs.ValidationError{Path: instancePathOf(err), Message: err.Error()}
	}
	return nil
}

// instancePathOf pulls a dot path out of a validator error message on a best
// effort basis. Messages look like `validating "a/b": ...`; anything we fail
// to parse just yields an empty path.
func instancePathOf(err error) string {
	msg := err.Error()
	start := strings.Index(msg, `"`)
	if start < 0 {
		return ""
	}
	rest := msg[start+1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return strings.ReplaceAll(strings.Trim(rest[:end], "/"), "/", ".")
}

// shallowChangedKeys diffs two documents one level deep.
func shallowChangedKeys(prev, next models.JSONMap) []string {
	changed := map[string]struct{}{}
	for k, ov := range prev {
		nv, ok := next[k]
		if !ok || !jsonEqual(ov, nv) {
			changed[k] = struct{}{}
		}
	}
	for k := range next {
		if _, ok := prev[k]; !ok {
			changed[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(changed))
	for k := range changed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func jsonEqual(a, b interface{}) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ra) == string(rb)
}

// matchesDataFilters evaluates the data predicates against a document. A
// missing path never matches, and substring predicates only match string
// values.
func matchesDataFilters(data models.JSONMap, f ListFilter) bool {
	for path, want := range f.DataFilters {
		got, ok := lookupPath(data, path)
		if !ok || !jsonEqual(got, want) {
			return false
		}
	}
	for path, want := range f.DataContains {
		got, ok := lookupPath(data, path)
		if !ok {
			return false
		}
		str, ok := got.(string)
		if !ok || !strings.Contains(str, want) {
			return false
		}
	}
	return true
}

func lookupPath(data models.JSONMap, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = map[string]interface{}(data)
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (s *Service) writeAudit(tenantID string, e *models.EntryModel, action string, actor Actor, details models.JSONMap) {
	if s.audits == nil {
		return
	}
	s.audits.Write(audit.Record{
		TenantID:  tenantID,
		EntryID:   e.ID,
		SectionID: e.SectionID,
		Action:    action,
		UserID:    actor.UserID,
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
		Details:   details,
	})
}
