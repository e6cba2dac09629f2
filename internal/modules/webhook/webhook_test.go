package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/strata-cms/core/internal/database"
	"github.com/strata-cms/core/internal/models"
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

func TestNormalizeEvents(t *testing.T) {
	assert.Equal(t, []string{EventContentPublished}, normalizeEvents([]string{" Content.Published "}))
	assert.Equal(t, []string{"all"}, normalizeEvents([]string{EventContentArchived, "all"}))
	assert.Empty(t, normalizeEvents([]string{"bogus.event", ""}))
	assert.Equal(t,
		[]string{EventContentPublished, EventContentUnpublished},
		normalizeEvents([]string{EventContentPublished, EventContentPublished, EventContentUnpublished}))
}

func TestContainsEvent(t *testing.T) {
	assert.True(t, containsEvent([]string{"all"}, EventContentPublished))
	assert.True(t, containsEvent([]string{EventContentArchived}, EventContentArchived))
	assert.False(t, containsEvent([]string{EventContentArchived}, EventContentPublished))
}

func TestCreateGeneratesSecret(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	w, err := svc.Create("tenant-a", &CreateWebhookDTO{
		PayloadURL: "https://example.com/hook",
		Events:     []string{EventContentPublished},
	})
	require.NoError(t, err)
	assert.Len(t, w.Secret, 40)
	assert.True(t, w.Enabled)
}

func TestListIsTenantScoped(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	_, err := svc.Create("tenant-a", &CreateWebhookDTO{PayloadURL: "https://a.example.com", Events: []string{"all"}})
	require.NoError(t, err)
	_, err = svc.Create("tenant-b", &CreateWebhookDTO{PayloadURL: "https://b.example.com", Events: []string{"all"}})
	require.NoError(t, err)

	hooks, err := svc.List("tenant-a")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, "https://a.example.com", hooks[0].PayloadURL)
}

func TestDispatchDeliversSignedPayload(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r
		bodies <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook, err := svc.Create("tenant-a", &CreateWebhookDTO{
		PayloadURL: server.URL,
		Events:     []string{EventContentPublished},
		Secret:     "topsecret",
	})
	require.NoError(t, err)

	slug := "welcome"
	svc.Dispatch(EventContentPublished, NewEventPayload("tenant-a", "entry-1", "section-1", &slug))

	select {
	case req := <-received:
		body := <-bodies

		assert.Equal(t, EventContentPublished, req.Header.Get("X-Webhook-Event"))
		assert.Equal(t, hook.ID, req.Header.Get("X-Webhook-Id"))

		mac := hmac.New(sha256.New, []byte("topsecret"))
		mac.Write(body)
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), req.Header.Get("X-Webhook-Signature256"))

		var payload EventPayload
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "tenant-a", payload.TenantID)
		assert.Equal(t, "entry-1", payload.EntryID)
		require.NotNil(t, payload.Slug)
		assert.Equal(t, "welcome", *payload.Slug)
		assert.Regexp(t, `Z$`, payload.Timestamp)
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was not delivered")
	}

	// delivery is recorded in the event log
	require.Eventually(t, func() bool {
		var count int64
		db.Model(&models.WebhookEventModel{}).Where("hook_id = ?", hook.ID).Count(&count)
		return count == 1
	}, 3*time.Second, 50*time.Millisecond)

	var event models.WebhookEventModel
	require.NoError(t, db.First(&event, "hook_id = ?", hook.ID).Error)
	assert.True(t, event.Success)
	assert.Equal(t, http.StatusOK, event.Status)
}

func TestDispatchSkipsUnsubscribedHooks(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	hits := make(chan struct{}, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
	}))
	defer server.Close()

	_, err := svc.Create("tenant-a", &CreateWebhookDTO{
		PayloadURL: server.URL,
		Events:     []string{EventContentArchived},
	})
	require.NoError(t, err)

	svc.Dispatch(EventContentPublished, NewEventPayload("tenant-a", "entry-1", "section-1", nil))

	select {
	case <-hits:
		t.Fatal("hook fired for an event it never subscribed to")
	case <-time.After(300 * time.Millisecond):
	}
}
