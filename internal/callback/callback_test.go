package callback

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orcd/internal/model"
	"github.com/randalmurphal/orcd/internal/registry"
)

func newTestServer(t *testing.T) (*Server, *registry.Store, *model.Project, *model.Task) {
	t.Helper()
	reg := registry.New(t.TempDir())
	p, err := reg.CreateProject("demo", model.SourceLocalPath, "", "main", false, false)
	require.NoError(t, err)
	task, err := reg.CreateTask(p.ID, "do the thing", 0, "", false)
	require.NoError(t, err)
	return New(reg, "127.0.0.1:0", nil), reg, p, task
}

func TestHandlePostStatusAppliesUpdate(t *testing.T) {
	s, reg, p, task := newTestServer(t)

	body, _ := json.Marshal(StatusUpdate{Status: "merging"})
	req := httptest.NewRequest(http.MethodPost, "/internal/tasks/"+p.ID+"/"+task.ID+"/status", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	got, err := reg.GetTask(p.ID, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusMerging, got.Status)
}

func TestHandlePostStatusRejectsUnknownStatus(t *testing.T) {
	s, _, p, task := newTestServer(t)

	body, _ := json.Marshal(StatusUpdate{Status: "not_a_real_status"})
	req := httptest.NewRequest(http.MethodPost, "/internal/tasks/"+p.ID+"/"+task.ID+"/status", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetTaskReturnsTask(t *testing.T) {
	s, _, p, task := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/tasks/"+p.ID+"/"+task.ID, nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, task.ID, got.ID)
}

func TestHandleGetTaskNotFound(t *testing.T) {
	s, _, p, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/tasks/"+p.ID+"/missing", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
