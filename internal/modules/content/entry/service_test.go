package entry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/strata-cms/core/internal/database"
	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/modules/audit"
	"github.com/strata-cms/core/internal/modules/content/schema"
	"github.com/strata-cms/core/internal/pkg/errs"
	"github.com/strata-cms/core/internal/pkg/pagination"
	"github.com/strata-cms/core/internal/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	db      *gorm.DB
	tenant  *models.TenantModel
	section *models.SectionModel
	schemas *schema.Service
	entries *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	tenant := models.TenantModel{Slug: "acme", Name: "Acme"}
	require.NoError(t, db.Create(&tenant).Error)

	schemas := schema.NewService(db, nil)
	section, err := schemas.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)

	articleSchema := models.JSONMap{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{"type": "string"},
			"body":  map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"title"},
	}
	_, err = schemas.AddSchemaVersion(tenant.ID, section.ID, 1, articleSchema, "v1", true)
	require.NoError(t, err)

	entries := NewService(db, Options{Schemas: schemas, MaxPayloadKB: 4})
	return &fixture{db: db, tenant: tenant2ptr(tenant), section: section, schemas: schemas, entries: entries}
}

func tenant2ptr(t models.TenantModel) *models.TenantModel { return &t }

func strPtr(s string) *string { return &s }

func (f *fixture) create(t *testing.T, data models.JSONMap, slug *string) *models.EntryModel {
	t.Helper()
	e, err := f.entries.Create(f.tenant.ID, CreateEntryInput{
		SectionID: f.section.ID,
		Slug:      slug,
		Data:      data,
	})
	require.NoError(t, err)
	return e
}

func TestCreateValidatesAgainstEffectiveSchema(t *testing.T) {
	f := newFixture(t)

	e := f.create(t, models.JSONMap{"title": "hello"}, nil)
	assert.Equal(t, models.EntryStatusDraft, e.Status)
	assert.Equal(t, 1, e.SchemaVersion)

	_, err := f.entries.Create(f.tenant.ID, CreateEntryInput{
		SectionID: f.section.ID,
		Data:      models.JSONMap{"body": "no title"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestCreateRejectsOversizedPayloadBeforeValidation(t *testing.T) {
	f := newFixture(t)

	// a payload that is both too large and schema-invalid must fail on size
	big := strings.Repeat("x", 5*1024)
	_, err := f.entries.Create(f.tenant.ID, CreateEntryInput{
		SectionID: f.section.ID,
		Data:      models.JSONMap{"body": big},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrPayloadTooLarge))

	var pe *errs.PayloadTooLargeError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 4*1024, pe.Limit)
}

func TestCreateWritesFirstSnapshot(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, models.JSONMap{"title": "hello"}, nil)

	versions, err := f.entries.Versions().ListVersions(f.tenant.ID, e.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].VersionIdx)
	assert.Equal(t, models.SnapshotReasonCreate, versions[0].Reason)
	assert.Equal(t, "hello", versions[0].Data["title"])
}

func TestDuplicateSlugInSectionConflicts(t *testing.T) {
	f := newFixture(t)
	f.create(t, models.JSONMap{"title": "a"}, strPtr("welcome"))

	_, err := f.entries.Create(f.tenant.ID, CreateEntryInput{
		SectionID: f.section.ID,
		Slug:      strPtr("welcome"),
		Data:      models.JSONMap{"title": "b"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConflict))
}

func TestUpdateAppendsGaplessSnapshots(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, models.JSONMap{"title": "v one"}, nil)

	for i, title := range []string{"v two", "v three", "v four"} {
		_, err := f.entries.Update(f.tenant.ID, e.ID, UpdateEntryInput{
			Data: models.JSONMap{"title": title},
		})
		require.NoError(t, err, "update %d", i)
	}

	versions, err := f.entries.Versions().ListVersions(f.tenant.ID, e.ID)
	require.NoError(t, err)
	require.Len(t, versions, 4)
	for i, v := range versions {
		assert.Equal(t, i+1, v.VersionIdx)
	}
	assert.Equal(t, models.SnapshotReasonUpdate, versions[3].Reason)
}

func TestUpdateValidatesNewData(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, models.JSONMap{"title": "ok"}, nil)

	_, err := f.entries.Update(f.tenant.ID, e.ID, UpdateEntryInput{
		Data: models.JSONMap{"title": 42},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrValidation))

	// failed update must not leave a snapshot behind
	versions, err := f.entries.Versions().ListVersions(f.tenant.ID, e.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestPublishLifecycle(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, models.JSONMap{"title": "launch"}, nil)

	published, err := f.entries.Publish(f.tenant.ID, e.ID, Actor{})
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)

	draft, err := f.entries.Unpublish(f.tenant.ID, e.ID, Actor{})
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusDraft, draft.Status)
	assert.Nil(t, draft.PublishedAt)

	archived, err := f.entries.Archive(f.tenant.ID, e.ID, Actor{})
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusArchived, archived.Status)
	require.NotNil(t, archived.ArchivedAt)

	versions, err := f.entries.Versions().ListVersions(f.tenant.ID, e.ID)
	require.NoError(t, err)
	require.Len(t, versions, 4)
	assert.Equal(t, []string{
		models.SnapshotReasonCreate,
		models.SnapshotReasonPublish,
		models.SnapshotReasonUnpublish,
		models.SnapshotReasonArchive,
	}, []string{versions[0].Reason, versions[1].Reason, versions[2].Reason, versions[3].Reason})
}

func TestArchivedCannotBePublishedDirectly(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, models.JSONMap{"title": "x"}, nil)

	_, err := f.entries.Archive(f.tenant.ID, e.ID, Actor{})
	require.NoError(t, err)

	_, err = f.entries.Publish(f.tenant.ID, e.ID, Actor{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))

	// but the archive can be lifted back to draft
	draft, err := f.entries.Unpublish(f.tenant.ID, e.ID, Actor{})
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusDraft, draft.Status)
}

func TestSameStateTransitionIsNoop(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, models.JSONMap{"title": "x"}, nil)

	_, err := f.entries.Publish(f.tenant.ID, e.ID, Actor{})
	require.NoError(t, err)
	_, err = f.entries.Publish(f.tenant.ID, e.ID, Actor{})
	require.NoError(t, err)

	versions, err := f.entries.Versions().ListVersions(f.tenant.ID, e.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2) // create + one publish, no snapshot for the no-op
}

func TestUpdateSetsStatusDirectly(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, models.JSONMap{"title": "x"}, nil)

	updated, err := f.entries.Update(f.tenant.ID, e.ID, UpdateEntryInput{
		Status: models.EntryStatusPublished,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusPublished, updated.Status)
	// direct status writes carry no transition side effects
	assert.Nil(t, updated.PublishedAt)

	versions, err := f.entries.Versions().ListVersions(f.tenant.ID, e.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, models.SnapshotReasonUpdate, versions[1].Reason)
	assert.Equal(t, models.EntryStatusPublished, versions[1].Status)

	_, err = f.entries.Update(f.tenant.ID, e.ID, UpdateEntryInput{
		Status: models.EntryStatus("bogus"),
	})
	require.Error(t, err)
}

func TestUpdateWorksOnArchivedEntries(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, models.JSONMap{"title": "x"}, nil)
	_, err := f.entries.Archive(f.tenant.ID, e.ID, Actor{})
	require.NoError(t, err)

	updated, err := f.entries.Update(f.tenant.ID, e.ID, UpdateEntryInput{
		Data: models.JSONMap{"title": "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, "y", updated.Data["title"])
	assert.Equal(t, models.EntryStatusArchived, updated.Status)
}

func TestRestoreVersionRoundTrip(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, models.JSONMap{"title": "original"}, nil)

	_, err := f.entries.Update(f.tenant.ID, e.ID, UpdateEntryInput{
		Data: models.JSONMap{"title": "edited"},
	})
	require.NoError(t, err)

	restored, err := f.entries.RestoreVersion(f.tenant.ID, e.ID, 1, Actor{})
	require.NoError(t, err)
	assert.Equal(t, "original", restored.Data["title"])

	versions, err := f.entries.Versions().ListVersions(f.tenant.ID, e.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, models.SnapshotReasonRestore, versions[2].Reason)
	assert.Equal(t, versions[0].Data["title"], versions[2].Data["title"])
}

func TestRestoreUnknownVersionIsNotFound(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, models.JSONMap{"title": "x"}, nil)

	_, err := f.entries.RestoreVersion(f.tenant.ID, e.ID, 99, Actor{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestTenantMismatchIsNotFound(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, models.JSONMap{"title": "x"}, nil)

	other := models.TenantModel{Slug: "globex", Name: "Globex"}
	require.NoError(t, f.db.Create(&other).Error)

	_, err := f.entries.GetEntry(other.ID, e.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	_, err = f.entries.Publish(other.ID, e.ID, Actor{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestPermissionDenialBlocksBeforeMutation(t *testing.T) {
	f := newFixture(t)

	denyAll := denyChecker{}
	guarded := NewService(f.db, Options{Schemas: f.schemas, Perms: denyAll, MaxPayloadKB: 4})

	e := f.create(t, models.JSONMap{"title": "x"}, nil)

	user := "someone"
	_, err := guarded.Publish(f.tenant.ID, e.ID, Actor{UserID: &user})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrForbidden))

	// no snapshot, no status change
	got, err := f.entries.GetEntry(f.tenant.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusDraft, got.Status)
	versions, err := f.entries.Versions().ListVersions(f.tenant.ID, e.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

type denyChecker struct{}

func (denyChecker) UserHasPermission(string, string, string) (bool, error) { return false, nil }

var _ rbac.Checker = denyChecker{}

func TestListEntriesFilters(t *testing.T) {
	f := newFixture(t)

	a := f.create(t, models.JSONMap{"title": "first", "body": "news"}, strPtr("first"))
	f.create(t, models.JSONMap{"title": "second", "body": "sports"}, strPtr("second"))
	_, err := f.entries.Publish(f.tenant.ID, a.ID, Actor{})
	require.NoError(t, err)

	published, _, err := f.entries.ListEntries(f.tenant.ID, pagination.Query{Page: 1, Size: 20}, ListFilter{
		Status: models.EntryStatusPublished,
	})
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, a.ID, published[0].ID)

	byData, _, err := f.entries.ListEntries(f.tenant.ID, pagination.Query{Page: 1, Size: 20}, ListFilter{
		DataFilters: map[string]interface{}{"body": "sports"},
	})
	require.NoError(t, err)
	require.Len(t, byData, 1)
	assert.Equal(t, "second", byData[0].Data["title"])
}

func TestListEntriesSubstringFilter(t *testing.T) {
	f := newFixture(t)
	f.create(t, models.JSONMap{"title": "breaking news"}, strPtr("a"))
	f.create(t, models.JSONMap{"title": "weather report"}, strPtr("b"))
	f.create(t, models.JSONMap{"title": "news roundup"}, strPtr("c"))

	items, pag, err := f.entries.ListEntries(f.tenant.ID, pagination.Query{Page: 1, Size: 20}, ListFilter{
		DataContains: map[string]string{"title": "news"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.EqualValues(t, 2, pag.Total)

	// substring predicates never match non-string values
	f.create(t, models.JSONMap{"title": "x", "body": "42"}, strPtr("d"))
	items, _, err = f.entries.ListEntries(f.tenant.ID, pagination.Query{Page: 1, Size: 20}, ListFilter{
		DataContains: map[string]string{"rank": "4"},
	})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListEntriesDataFiltersApplyBeforePagination(t *testing.T) {
	f := newFixture(t)
	// interleave matching and non-matching entries so a naive page-then-filter
	// would under-fill the first page
	for i := 0; i < 6; i++ {
		kind := "odd"
		if i%2 == 0 {
			kind = "even"
		}
		f.create(t, models.JSONMap{"title": "t", "body": kind}, strPtr(string(rune('a'+i))))
	}

	page1, pag, err := f.entries.ListEntries(f.tenant.ID, pagination.Query{Page: 1, Size: 2}, ListFilter{
		DataFilters: map[string]interface{}{"body": "even"},
	})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.EqualValues(t, 3, pag.Total)
	assert.Equal(t, 2, pag.TotalPage)
	assert.True(t, pag.HasNextPage)

	page2, _, err := f.entries.ListEntries(f.tenant.ID, pagination.Query{Page: 2, Size: 2}, ListFilter{
		DataFilters: map[string]interface{}{"body": "even"},
	})
	require.NoError(t, err)
	require.Len(t, page2, 1)

	for _, e := range append(page1, page2...) {
		assert.Equal(t, "even", e.Data["body"])
	}
}

func TestAuditRecordsCarryActorMetadata(t *testing.T) {
	f := newFixture(t)
	audited := NewService(f.db, Options{
		Schemas:      f.schemas,
		Audits:       audit.NewService(f.db),
		MaxPayloadKB: 4,
	})

	user := "editor-1"
	actor := Actor{UserID: &user, IP: "203.0.113.7", UserAgent: "strata-admin/1.0"}
	e, err := audited.Create(f.tenant.ID, CreateEntryInput{
		SectionID: f.section.ID,
		Data:      models.JSONMap{"title": "x"},
		Actor:     actor,
	})
	require.NoError(t, err)
	_, err = audited.Publish(f.tenant.ID, e.ID, actor)
	require.NoError(t, err)

	var logs []models.ContentAuditLogModel
	require.NoError(t, f.db.Where("entry_id = ?", e.ID).Order("created_at ASC").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, "create", logs[0].Action)
	assert.Equal(t, "publish", logs[1].Action)
	for _, l := range logs {
		require.NotNil(t, l.UserID)
		assert.Equal(t, user, *l.UserID)
		assert.Equal(t, "203.0.113.7", l.IP)
		assert.Equal(t, "strata-admin/1.0", l.UserAgent)
	}
}

func TestConcurrentUpdatesKeepSnapshotsGapless(t *testing.T) {
	f := newFixture(t)
	// the in-memory database is per connection, so concurrent work has to
	// share the one it was built on
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	e := f.create(t, models.JSONMap{"title": "v0"}, nil)

	const writers = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.entries.Update(f.tenant.ID, e.ID, UpdateEntryInput{
				Data: models.JSONMap{"title": fmt.Sprintf("rev %d", i)},
			})
			errCh <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	versions, err := f.entries.Versions().ListVersions(f.tenant.ID, e.ID)
	require.NoError(t, err)
	require.Len(t, versions, writers+1)
	for i, v := range versions {
		assert.Equal(t, i+1, v.VersionIdx)
	}
}

func TestShallowChangedKeys(t *testing.T) {
	keys := shallowChangedKeys(
		models.JSONMap{"a": 1, "b": "same", "c": true},
		models.JSONMap{"a": 2, "b": "same", "d": "new"},
	)
	assert.Equal(t, []string{"a", "c", "d"}, keys)
}
