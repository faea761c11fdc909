package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/artifactor-hq/collab-core/internal/v1/auth"
	"github.com/artifactor-hq/collab-core/internal/v1/httpapi"
	"github.com/artifactor-hq/collab-core/internal/v1/inference"
	"github.com/artifactor-hq/collab-core/internal/v1/notify"
	"github.com/artifactor-hq/collab-core/internal/v1/presence"
	"github.com/artifactor-hq/collab-core/internal/v1/search"
	"github.com/artifactor-hq/collab-core/internal/v1/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*gin.Engine, *store.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	notifySvc := notify.New(db.Notifications(), db.Users())
	presenceSvc := presence.New(nil, db.Presence())
	pipeline := inference.New(inference.Config{Classifier: inference.NullClassifier{}})
	searchSvc := search.New(db.Embeddings(), nil)

	engine := httpapi.Router(httpapi.RouterConfig{
		Validator: &auth.MockValidator{},
		Comments: &httpapi.CommentsHandler{
			Comments:   db.Comments(),
			Activities: db.Activities(),
		},
		Activity: &httpapi.ActivityHandler{Activities: db.Activities()},
		Presence: &httpapi.PresenceHandler{Presence: presenceSvc},
		Notifications: &httpapi.NotificationsHandler{Notify: notifySvc},
		Inference: &httpapi.InferenceHandler{Pipeline: pipeline, Search: searchSvc},
	})
	return engine, db
}

func authedRequest(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer anything")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthAndMetricsAreUnauthenticated(t *testing.T) {
	engine, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCommentsRouteRequiresAuth(t *testing.T) {
	engine, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifacts/a1/comments", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndListComments(t *testing.T) {
	engine, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"content": "hello world"})
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, authedRequest(http.MethodPost, "/artifacts/a1/comments", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, authedRequest(http.MethodGet, "/artifacts/a1/comments", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Comments []store.Comment `json:"comments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Comments, 1)
	require.Equal(t, "hello world", resp.Comments[0].Content)
}

func TestNotificationsCountsForUnknownUserIsZero(t *testing.T) {
	engine, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, authedRequest(http.MethodGet, "/notifications/counts", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var counts notify.Counts
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	require.Equal(t, 0, counts.Total)
}

func TestClassifyDegradesGracefullyWithoutAPIKey(t *testing.T) {
	engine, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"content": "package main"})
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, authedRequest(http.MethodPost, "/ml/classify", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var result inference.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Success)
}

func TestSearchRequiresQuery(t *testing.T) {
	engine, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"type": "keyword"})
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, authedRequest(http.MethodPost, "/ml/search", body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivityListReflectsCommentCreation(t *testing.T) {
	engine, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"content": "first"})
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, authedRequest(http.MethodPost, "/artifacts/a2/comments", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, authedRequest(http.MethodGet, "/artifacts/a2/activity", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Activities []store.Activity `json:"activities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Activities, 1)
	require.Equal(t, "comment_add", resp.Activities[0].Type)
}
