package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-civitai-companion/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/records/check", func(w http.ResponseWriter, r *http.Request) {
		var in urlBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(checkResponse{URL: in.URL, Saved: in.URL == "saved"})
	})
	mux.HandleFunc("POST /api/download", func(w http.ResponseWriter, r *http.Request) {
		var job models.DownloadJob
		require.NoError(t, json.NewDecoder(r.Body).Decode(&job))
		_ = json.NewEncoder(w).Encode(downloadResponse{Success: job.FileName == "ok.safetensors", Error: "nope"})
	})
	mux.HandleFunc("DELETE /api/records/{modelID}/{versionID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(errorBody{Error: "record not found"})
	})
	mux.HandleFunc("GET /api/folders", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]string{"/ACG", "/Art"})
	})
	mux.HandleFunc("GET /api/errors", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient(t *testing.T) {
	srv := newFakeBackend(t)
	c := NewClient(srv.URL+"/", srv.Client())
	ctx := context.Background()

	saved, err := c.CheckURLInDatabase(ctx, "saved")
	require.NoError(t, err)
	assert.True(t, saved)
	saved, err = c.CheckURLInDatabase(ctx, "other")
	require.NoError(t, err)
	assert.False(t, saved)

	ok, err := c.ServerDownload(ctx, models.DownloadJob{FileName: "ok.safetensors"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.ServerDownload(ctx, models.DownloadJob{FileName: "bad"})
	require.NoError(t, err)
	assert.False(t, ok)

	err = c.RemoveRecord(ctx, "1", "2")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "record not found")

	folders, err := c.ListFolders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/ACG", "/Art"}, folders)

	_, err = c.ListErrors(ctx)
	assert.True(t, errors.Is(err, ErrServerError))
}
