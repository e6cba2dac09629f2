package schema

import (
	"sync"
	"testing"

	"github.com/strata-cms/core/internal/database"
	"github.com/strata-cms/core/internal/models"
	"github.com/strata-cms/core/internal/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestTenant(t *testing.T, db *gorm.DB) *models.TenantModel {
	t.Helper()
	tenant := models.TenantModel{Slug: "acme", Name: "Acme"}
	require.NoError(t, db.Create(&tenant).Error)
	return &tenant
}

func simpleSchema(required ...interface{}) models.JSONMap {
	return models.JSONMap{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{"type": "string"},
		},
		"required": required,
	}
}

func TestCreateSectionIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, nil)

	first, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)

	second, err := svc.CreateSection(tenant.ID, "articles", "Renamed", "changed")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Articles", second.Name)

	var count int64
	require.NoError(t, db.Model(&models.SectionModel{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSectionKeysAreTenantScoped(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil)

	acme := models.TenantModel{Slug: "acme", Name: "Acme"}
	globex := models.TenantModel{Slug: "globex", Name: "Globex"}
	require.NoError(t, db.Create(&acme).Error)
	require.NoError(t, db.Create(&globex).Error)

	a, err := svc.CreateSection(acme.ID, "articles", "Articles", "")
	require.NoError(t, err)
	b, err := svc.CreateSection(globex.ID, "articles", "Articles", "")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestAddSchemaVersionIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, nil)

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)

	first, err := svc.AddSchemaVersion(tenant.ID, section.ID, 1, simpleSchema("title"), "v1", false)
	require.NoError(t, err)
	assert.False(t, first.IsActive)

	second, err := svc.AddSchemaVersion(tenant.ID, section.ID, 1, simpleSchema(), "renamed", false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "renamed", second.Title)

	var count int64
	require.NoError(t, db.Model(&models.SectionSchemaModel{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestAddSchemaVersionRejectsNonPositiveVersion(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, nil)

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)

	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 0, simpleSchema(), "", false)
	assert.Error(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, -3, simpleSchema(), "", false)
	assert.Error(t, err)
}

func TestActivateVersionKeepsSingleActive(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, nil)

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)

	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 1, simpleSchema("title"), "v1", true)
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 2, simpleSchema("title"), "v2", true)
	require.NoError(t, err)

	var active []models.SectionSchemaModel
	require.NoError(t, db.Where("section_id = ? AND is_active = ?", section.ID, true).Find(&active).Error)
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].Version)
}

func TestActivateUnknownVersionIsNotFound(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, nil)

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)

	_, err = svc.ActivateVersion(tenant.ID, section.ID, 9)
	require.Error(t, err)
	assert.ErrorContains(t, err, "not found")
}

func TestGetEffectiveSchemaPrefersActiveThenHighest(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, nil)

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)

	// no versions at all
	row, err := svc.GetEffectiveSchema(tenant.ID, section.ID)
	require.NoError(t, err)
	assert.Nil(t, row)

	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 1, simpleSchema("title"), "v1", false)
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 3, simpleSchema("title"), "v3", false)
	require.NoError(t, err)

	// nothing active yet: highest version wins
	row, err = svc.GetEffectiveSchema(tenant.ID, section.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 3, row.Version)

	_, err = svc.ActivateVersion(tenant.ID, section.ID, 1)
	require.NoError(t, err)

	row, err = svc.GetEffectiveSchema(tenant.ID, section.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 1, row.Version)
}

func TestConcurrentActivationsKeepSingleActive(t *testing.T) {
	db := newTestDB(t)
	// the in-memory database is per connection, so concurrent work has to
	// share the one it was built on
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	tenant := newTestTenant(t, db)
	svc := NewService(db, nil)

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 1, simpleSchema("title"), "v1", false)
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 2, simpleSchema("title"), "v2", false)
	require.NoError(t, err)

	const attempts = 12
	var wg sync.WaitGroup
	start := make(chan struct{})
	errCh := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		version := 1 + i%2
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			<-start
			if _, err := svc.ActivateVersion(tenant.ID, section.ID, v); err != nil {
				errCh <- err
			}
		}(version)
	}
	close(start)
	wg.Wait()
	close(errCh)

	// losing an activation race is acceptable, corrupting the invariant is not
	for err := range errCh {
		assert.ErrorIs(t, err, errs.ErrActivationConflict)
	}
	var active []models.SectionSchemaModel
	require.NoError(t, db.Where("section_id = ? AND is_active = ?", section.ID, true).Find(&active).Error)
	require.Len(t, active, 1)
}

func TestActivationConflictSurfacesFromUniqueIndex(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, nil)

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 1, simpleSchema("title"), "v1", false)
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 2, simpleSchema("title"), "v2", false)
	require.NoError(t, err)

	// plant the state a lost race leaves behind: a row holding the active
	// mark without being visible to the deactivation sweep
	require.NoError(t, db.Model(&models.SectionSchemaModel{}).
		Where("tenant_id = ? AND section_id = ? AND version = ?", tenant.ID, section.ID, 2).
		Update("active_mark", "1").Error)

	_, err = svc.ActivateVersion(tenant.ID, section.ID, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrActivationConflict)
}

func TestCanActivateVersion_UndeclaredPolicyIsPermissive(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, StaticPolicies{})

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 1, simpleSchema("title"), "v1", true)
	require.NoError(t, err)

	breaking := models.JSONMap{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 2, breaking, "v2", false)
	require.NoError(t, err)

	ok, violations, err := svc.CanActivateVersion(tenant.ID, section.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestCanActivateVersion_AdditiveOnlyBlocksBreakingChange(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, StaticPolicies{
		"articles": {EvolutionMode: EvolutionAdditiveOnly},
	})

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)

	v1 := models.JSONMap{
		"type": "object",
		"properties": map[string]interface{}{
			"hero": map[string]interface{}{"type": "object"},
		},
		"required": []interface{}{"hero"},
	}
	v2 := models.JSONMap{
		"type": "object",
		"properties": map[string]interface{}{
			"seo": map[string]interface{}{"type": "object"},
		},
	}
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 1, v1, "v1", true)
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 2, v2, "v2", false)
	require.NoError(t, err)

	ok, violations, err := svc.CanActivateVersion(tenant.ID, section.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "hero")
}

func TestCanActivateVersion_AdditiveAdditionIsAllowed(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, StaticPolicies{
		"articles": {EvolutionMode: EvolutionAdditiveOnly},
	})

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)

	v1 := models.JSONMap{
		"type": "object",
		"properties": map[string]interface{}{
			"hero": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"title"},
			},
		},
		"required": []interface{}{"hero"},
	}
	v2 := models.JSONMap{
		"type": "object",
		"properties": map[string]interface{}{
			"hero": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"title"},
			},
			"seo": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": map[string]interface{}{"type": "string"},
				},
			},
		},
		"required": []interface{}{"hero"},
	}
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 1, v1, "v1", true)
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 2, v2, "v2", false)
	require.NoError(t, err)

	ok, violations, err := svc.CanActivateVersion(tenant.ID, section.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestCanActivateVersion_FirstActivationIsAlwaysAllowed(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, StaticPolicies{
		"articles": {EvolutionMode: EvolutionAdditiveOnly},
	})

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 1, simpleSchema("title"), "v1", false)
	require.NoError(t, err)

	ok, violations, err := svc.CanActivateVersion(tenant.ID, section.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestAddSchemaVersionWithActivateEnforcesPolicy(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, StaticPolicies{
		"articles": {EvolutionMode: EvolutionAdditiveOnly},
	})

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 1, simpleSchema("title"), "v1", true)
	require.NoError(t, err)

	// v2 drops the required "title" property, a breaking change
	breaking := models.JSONMap{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 2, breaking, "v2", true)
	require.Error(t, err)
	var compat *errs.CompatibilityError
	require.ErrorAs(t, err, &compat)
	assert.NotEmpty(t, compat.Violations)

	// the row is registered but inactive; v1 stays the active version
	v2, err := svc.GetSchemaVersion(tenant.ID, section.ID, 2)
	require.NoError(t, err)
	assert.False(t, v2.IsActive)

	active, err := svc.GetEffectiveSchema(tenant.ID, section.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 1, active.Version)
	assert.True(t, active.IsActive)
}

func TestActivateVersionEnforcesPolicy(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, StaticPolicies{
		"articles": {EvolutionMode: EvolutionAdditiveOnly},
	})

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 1, simpleSchema("title"), "v1", true)
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 2, models.JSONMap{"type": "object"}, "v2", false)
	require.NoError(t, err)

	_, err = svc.ActivateVersion(tenant.ID, section.ID, 2)
	var compat *errs.CompatibilityError
	require.ErrorAs(t, err, &compat)
}

func TestCanActivateVersion_AllowBreakingOverridesPolicy(t *testing.T) {
	db := newTestDB(t)
	tenant := newTestTenant(t, db)
	svc := NewService(db, StaticPolicies{
		"articles": {EvolutionMode: EvolutionAdditiveOnly, AllowBreaking: true},
	})

	section, err := svc.CreateSection(tenant.ID, "articles", "Articles", "")
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 1, simpleSchema("title"), "v1", true)
	require.NoError(t, err)
	_, err = svc.AddSchemaVersion(tenant.ID, section.ID, 2, models.JSONMap{"type": "object"}, "v2", false)
	require.NoError(t, err)

	ok, _, err := svc.CanActivateVersion(tenant.ID, section.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}
