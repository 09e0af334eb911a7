package tasks

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	h := NewHandler(newTestService(t), nil, HandlerConfig{RequestTimeout: 2 * time.Second})
	h.now = func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC) }
	return h.Router()
}

func doRequest(t *testing.T, h http.Handler, method, path, user string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandler_CRUD(t *testing.T) {
	h := newTestRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/api/tasks/", "alice",
		`{"title":"write tests","priority":"high","status":"pending"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[Task](t, rec)
	assert.NotEmpty(t, created.ID)

	rec = doRequest(t, h, http.MethodGet, "/api/tasks/"+created.ID, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decodeBody[Task](t, rec))

	rec = doRequest(t, h, http.MethodPut, "/api/tasks/"+created.ID, "alice", `{"task":{"status":"completed"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, StatusCompleted, decodeBody[Task](t, rec).Status)

	rec = doRequest(t, h, http.MethodGet, "/api/tasks/", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[fileDocument](t, rec)
	require.Len(t, list.Tasks, 1)

	rec = doRequest(t, h, http.MethodDelete, "/api/tasks/"+created.ID, "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = doRequest(t, h, http.MethodGet, "/api/tasks/"+created.ID, "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_CreateValidationErrors(t *testing.T) {
	h := newTestRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/api/tasks/", "alice", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeBody[map[string]map[string][]string](t, rec)
	assert.Equal(t, map[string][]string{
		"title":    {"can't be blank"},
		"priority": {"can't be blank"},
		"status":   {"can't be blank"},
	}, body["errors"])
}

func TestHandler_BadJSON(t *testing.T) {
	h := newTestRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/api/tasks/", "alice", `{nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_MissingUser(t *testing.T) {
	h := newTestRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/api/tasks/", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_InvalidUser(t *testing.T) {
	h := newTestRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/api/tasks/", "../etc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_UpdateDeleteMissing(t *testing.T) {
	h := newTestRouter(t)

	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodPatch, "/api/tasks/x", "alice", `{"title":"y"}`).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodDelete, "/api/tasks/x", "alice", "").Code)
}

func TestHandler_Export(t *testing.T) {
	h := newTestRouter(t)
	require.Equal(t, http.StatusCreated,
		doRequest(t, h, http.MethodPost, "/api/tasks/", "alice", `{"title":"a","priority":"low","status":"pending"}`).Code)

	rec := doRequest(t, h, http.MethodGet, "/api/tasks/export", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="tasks-2026-10-14.json"`, rec.Header().Get("Content-Disposition"))
	doc := decodeBody[fileDocument](t, rec)
	assert.Len(t, doc.Tasks, 1)
}

func TestHandler_ImportJSONBody(t *testing.T) {
	h := newTestRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/api/tasks/import", "alice",
		`[{"id":"A","title":"a","priority":"low","status":"pending"}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "Successfully imported 1 tasks", body["message"])
	assert.Equal(t, 1.0, body["imported"])
	assert.Equal(t, 1.0, body["added"])
	assert.Equal(t, 0.0, body["replaced"])
}

func TestHandler_ImportMultipart(t *testing.T) {
	h := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "tasks.json")
	require.NoError(t, err)
	_, err = fw.Write([]byte(`{"tasks":[{"title":"a","priority":"low","status":"pending"},{"title":"b","priority":"high","status":"completed"}]}`))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2.0, decodeBody[map[string]any](t, rec)["imported"])
}

func TestHandler_ImportErrors(t *testing.T) {
	h := newTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, doRequest(t, h, http.MethodPost, "/api/tasks/import", "alice", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, h, http.MethodPost, "/api/tasks/import", "alice", `{"items":[]}`).Code)

	rec := doRequest(t, h, http.MethodPost, "/api/tasks/import", "alice",
		`{"tasks":[{"title":"ok","priority":"low","status":"pending"}, 7]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	invalid, ok := body["invalid"].([]any)
	require.True(t, ok)
	require.Len(t, invalid, 1)
	assert.Equal(t, 1.0, invalid[0].(map[string]any)["index"])

	rec = doRequest(t, h, http.MethodGet, "/api/tasks/", "alice", "")
	assert.Empty(t, decodeBody[fileDocument](t, rec).Tasks)
}
