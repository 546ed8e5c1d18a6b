package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/config"
	"github.com/ifuryst/autopost/internal/models"
	"github.com/ifuryst/autopost/internal/repository"
	"github.com/ifuryst/autopost/internal/service"
	"github.com/ifuryst/autopost/internal/service/publisher"
	"github.com/ifuryst/autopost/internal/storage"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type stubPublisher struct{}

func (stubPublisher) Name() string { return "stub" }

func (stubPublisher) Publish(ctx context.Context, caption, imageRef string) (publisher.Outcome, error) {
	if strings.Contains(caption, "fail") {
		return publisher.Outcome{}, errors.New("composer did not open")
	}
	return publisher.Outcome{URL: "https://www.linkedin.com/feed/update/stub"}, nil
}

type testServer struct {
	*Server
	uploadDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		Database:  config.DatabaseConfig{Type: "sqlite", Path: ":memory:"},
		Scheduler: config.SchedulerConfig{Interval: "1m", StaleAfter: "15m"},
		Publisher: config.PublisherConfig{Type: "dryrun", Timeout: "5s"},
		Upload: config.UploadConfig{
			MaxFileSize: 1 << 20,
			AllowedMIME: []string{"image/jpeg", "image/png", "image/gif"},
		},
	}

	ctx := context.Background()
	db, err := service.NewDatabase(&cfg.Database)
	require.NoError(t, err)
	posts := repository.NewGormPostStore(db)
	templates := repository.NewGormTemplateStore(db)
	require.NoError(t, posts.Init(ctx))
	require.NoError(t, templates.Init(ctx))

	dir := t.TempDir()
	media, err := storage.NewLocalStore(dir, zap.NewNop())
	require.NoError(t, err)

	srv := Build(cfg, zap.NewNop(), Components{
		Stores:    &service.Stores{Posts: posts, Templates: templates},
		Media:     media,
		Publisher: stubPublisher{},
	})
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return &testServer{Server: srv, uploadDir: dir}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
	Error   string          `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return ts.serve(t, req)
}

func (ts *testServer) serve(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (ts *testServer) createPost(t *testing.T, body map[string]interface{}) models.Post {
	t.Helper()
	code, env := ts.do(t, http.MethodPost, "/api/v1/posts", body)
	require.Equal(t, http.StatusCreated, code, env.Message)
	return decode[models.Post](t, env.Data)
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestServer_PostCRUD(t *testing.T) {
	ts := newTestServer(t)

	post := ts.createPost(t, map[string]interface{}{"event_name": "Meetup", "caption": "Join us"})
	assert.Equal(t, models.StatusDraft, post.Status)

	code, env := ts.do(t, http.MethodGet, "/api/v1/posts/"+post.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, post.ID, decode[models.Post](t, env.Data).ID)

	code, env = ts.do(t, http.MethodPut, "/api/v1/posts/"+post.ID, map[string]interface{}{"caption": "Updated"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Updated", decode[models.Post](t, env.Data).Caption)

	code, env = ts.do(t, http.MethodGet, "/api/v1/posts?status=draft", nil)
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Count)
	assert.Equal(t, 1, *env.Count)

	code, _ = ts.do(t, http.MethodDelete, "/api/v1/posts/"+post.ID, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, http.MethodGet, "/api/v1/posts/"+post.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
}

func TestServer_CreatePostValidation(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/posts", map[string]interface{}{"caption": "no name"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "event_name")

	code, _ = ts.do(t, http.MethodPost, "/api/v1/posts", map[string]interface{}{
		"event_name":    "late",
		"caption":       "too late",
		"scheduled_for": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/posts?status=unknown", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_ScheduleAndPublishNow(t *testing.T) {
	ts := newTestServer(t)
	post := ts.createPost(t, map[string]interface{}{"event_name": "Launch", "caption": "Going live"})

	code, _ := ts.do(t, http.MethodPost, "/api/v1/schedule/"+post.ID, map[string]interface{}{
		"scheduled_for": time.Now().Add(-time.Minute).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/schedule/"+post.ID, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := ts.do(t, http.MethodPost, "/api/v1/schedule/"+post.ID, map[string]interface{}{
		"scheduled_for": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, models.StatusScheduled, decode[models.Post](t, env.Data).Status)

	code, env = ts.do(t, http.MethodGet, "/api/v1/scheduled", nil)
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Count)
	assert.Equal(t, 1, *env.Count)

	code, env = ts.do(t, http.MethodPost, "/api/v1/publish/"+post.ID, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	published := decode[models.Post](t, env.Data)
	assert.Equal(t, models.StatusPublished, published.Status)
	require.NotNil(t, published.PublishedURL)
	assert.Equal(t, "https://www.linkedin.com/feed/update/stub", *published.PublishedURL)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/posts/"+post.ID+"/publish", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/publish/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_PublishNowFailure(t *testing.T) {
	ts := newTestServer(t)
	post := ts.createPost(t, map[string]interface{}{"event_name": "Broken", "caption": "this will fail"})

	code, env := ts.do(t, http.MethodPost, "/api/v1/posts/"+post.ID+"/publish", nil)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "composer did not open")

	failed := decode[models.Post](t, env.Data)
	assert.Equal(t, models.StatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "composer did not open", *failed.ErrorMessage)
}

func TestServer_TriggerStatusAndStats(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	due := &models.Post{EventName: "due", Caption: "due", Status: models.StatusScheduled, ScheduledFor: &past}
	require.NoError(t, ts.Stores.Posts.Create(ctx, due))

	code, env := ts.do(t, http.MethodPost, "/api/v1/scheduler/trigger", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	summary := decode[service.TickSummary](t, env.Data)
	assert.Equal(t, 1, summary.Due)
	assert.Equal(t, 1, summary.Published)

	code, env = ts.do(t, http.MethodGet, "/api/v1/scheduler/status", nil)
	assert.Equal(t, http.StatusOK, code)
	status := decode[service.SchedulerStatus](t, env.Data)
	assert.Equal(t, "1m", status.Interval)
	assert.Equal(t, int64(1), status.TicksTotal)
	require.NotNil(t, status.LastTick)

	code, env = ts.do(t, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, code)
	stats := decode[service.PostStats](t, env.Data)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus[models.StatusPublished])
}

func TestServer_ReconcileAndDeleteWhilePublishing(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	post := ts.createPost(t, map[string]interface{}{"event_name": "Stuck", "caption": "stuck"})
	ok, err := ts.Stores.Posts.Transition(ctx, post.ID, []models.PostStatus{models.StatusDraft},
		models.StatusPublishing, models.ClaimFields(time.Now().Add(-time.Hour)))
	require.NoError(t, err)
	require.True(t, ok)

	code, _ := ts.do(t, http.MethodDelete, "/api/v1/posts/"+post.ID, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = ts.do(t, http.MethodPut, "/api/v1/posts/"+post.ID, map[string]interface{}{"caption": "edit"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/scheduler/reconcile", map[string]interface{}{"target": "published"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/scheduler/reconcile", map[string]interface{}{"older_than": "soon"})
	assert.Equal(t, http.StatusBadRequest, code)

	// The test publisher timeout is 5s, so anything under 15s could still be publishing.
	for _, olderThan := range []string{"0s", "10s"} {
		code, _ = ts.do(t, http.MethodPost, "/api/v1/scheduler/reconcile", map[string]interface{}{"older_than": olderThan, "target": "scheduled"})
		assert.Equal(t, http.StatusBadRequest, code, olderThan)
	}
	got, err := ts.Stores.Posts.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublishing, got.Status)

	code, env := ts.do(t, http.MethodPost, "/api/v1/scheduler/reconcile", map[string]interface{}{"older_than": "30m", "target": "failed"})
	require.Equal(t, http.StatusOK, code, env.Message)
	result := decode[service.ReconcileResult](t, env.Data)
	assert.Equal(t, []string{post.ID}, result.Moved)

	got, err = ts.Stores.Posts.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)

	code, _ = ts.do(t, http.MethodDelete, "/api/v1/posts/"+post.ID, nil)
	assert.Equal(t, http.StatusOK, code)
}

func multipartRequest(t *testing.T, method, path string, fields map[string]string, image []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "photo.bin")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestServer_Upload(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.serve(t, multipartRequest(t, http.MethodPost, "/api/v1/posts/upload", nil, pngHeader))
	require.Equal(t, http.StatusOK, code, env.Message)
	uploaded := decode[uploadResponse](t, env.Data)
	assert.True(t, strings.HasPrefix(uploaded.Filename, "post-"))
	assert.True(t, strings.HasSuffix(uploaded.Filename, ".png"))
	assert.Equal(t, "/uploads/"+uploaded.Filename, uploaded.URL)

	_, err := os.Stat(filepath.Join(ts.uploadDir, uploaded.Filename))
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, uploaded.URL, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngHeader, w.Body.Bytes())

	code, _ = ts.serve(t, multipartRequest(t, http.MethodPost, "/api/v1/posts/upload", nil, []byte("just some text")))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.serve(t, multipartRequest(t, http.MethodPost, "/api/v1/posts/upload", nil, nil))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_CreatePostMultipart(t *testing.T) {
	ts := newTestServer(t)

	at := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	req := multipartRequest(t, http.MethodPost, "/api/v1/posts", map[string]string{
		"event_name":    "With image",
		"caption":       "Look at this",
		"scheduled_for": at,
	}, pngHeader)

	code, env := ts.serve(t, req)
	require.Equal(t, http.StatusCreated, code, env.Message)
	post := decode[models.Post](t, env.Data)
	assert.Equal(t, models.StatusScheduled, post.Status)
	assert.True(t, strings.HasSuffix(post.Image, ".png"))

	req = multipartRequest(t, http.MethodPost, "/api/v1/posts", map[string]string{
		"caption": "missing name",
	}, pngHeader)
	code, _ = ts.serve(t, req)
	assert.Equal(t, http.StatusBadRequest, code)

	entries, err := os.ReadDir(ts.uploadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestServer_Templates(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/v1/templates", map[string]interface{}{
		"name":     "Event",
		"content":  "Join {{eventName}} in {{year}}",
		"category": "event",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	tpl := decode[models.Template](t, env.Data)
	assert.Equal(t, models.StringList{"eventName", "year"}, tpl.Placeholders)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/templates", map[string]interface{}{"name": "Event", "content": "x"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = ts.do(t, http.MethodPost, "/api/v1/templates", map[string]interface{}{"name": "No content"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = ts.do(t, http.MethodPost, "/api/v1/templates/"+tpl.ID+"/fill", map[string]interface{}{
		"eventName": "GopherCon",
		"year":      2025,
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	filled := decode[service.FilledTemplate](t, env.Data)
	assert.Equal(t, "Join GopherCon in 2025", filled.Content)
	assert.Equal(t, int64(1), filled.Template.UsageCount)

	code, env = ts.do(t, http.MethodGet, "/api/v1/templates?category=event&is_active=true", nil)
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Count)
	assert.Equal(t, 1, *env.Count)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/templates/"+tpl.ID, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodDelete, "/api/v1/templates/"+tpl.ID, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/templates/"+tpl.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
