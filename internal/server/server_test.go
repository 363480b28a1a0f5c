package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/internal/orchestrator"
	"github.com/sells-group/address-pipeline/internal/store"
	"github.com/sells-group/address-pipeline/pkg/oracle"
)

type testEnv struct {
	store store.Store
	orch  *orchestrator.Orchestrator
	srv   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"), store.DefaultRetention)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	orch := orchestrator.New(context.Background(), st, &oracle.Stub{}, nil,
		orchestrator.Config{OutputDir: t.TempDir()})
	s := New(st, orch, t.TempDir())

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{store: st, orch: orch, srv: srv}
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitPollDownload(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartUpload(t, "upload.csv",
		"address\n123 Main St\n45 Oak Ave\n",
		map[string]string{"address_column": "address"})

	resp, err := http.Post(env.srv.URL+"/jobs", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.JobID)
	assert.Equal(t, "queued", submitted.Status)

	require.NoError(t, env.orch.Wait())

	getResp, err := http.Get(env.srv.URL + "/jobs/" + submitted.JobID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var job model.Job
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&job))
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)

	dlResp, err := http.Get(env.srv.URL + "/jobs/" + submitted.JobID + "/download")
	require.NoError(t, err)
	defer dlResp.Body.Close()
	require.Equal(t, http.StatusOK, dlResp.StatusCode)
	downloaded, err := io.ReadAll(dlResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(downloaded), "standardized_address")
	assert.Contains(t, string(downloaded), "123 Main St")
}

func TestSubmitRejectsUnsupportedExtension(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartUpload(t, "upload.txt", "address\n1 Main St\n", nil)
	resp, err := http.Post(env.srv.URL+"/jobs", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitRequiresFile(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("address_column", "address"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(env.srv.URL+"/jobs", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJobNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/jobs/no-such-job")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadBeforeCompletionConflicts(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.store.CreateJob(context.Background(), &model.Job{
		ID:               "pending",
		Filename:         "in.csv",
		OriginalFilename: "upload.csv",
	}))

	resp, err := http.Get(env.srv.URL + "/jobs/pending/download")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListJobsFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.CreateJob(ctx, &model.Job{ID: "a", Filename: "a.csv", OriginalFilename: "a.csv"}))
	require.NoError(t, env.store.CreateJob(ctx, &model.Job{ID: "b", Filename: "b.csv", OriginalFilename: "b.csv"}))
	status := model.JobStatusProcessing
	_, err := env.store.UpdateJob(ctx, "b", store.JobUpdate{Status: &status})
	require.NoError(t, err)

	resp, err := http.Get(env.srv.URL + "/jobs?status=queued")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Jobs []model.Job `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed.Jobs, 1)
	assert.Equal(t, "a", listed.Jobs[0].ID)
}
