package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go-civitai-companion/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = "safetensors-bytes"

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newFileServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Path {
		case "/named":
			w.Header().Set("Content-Disposition", `attachment; filename="fromheader.safetensors"`)
			_, _ = w.Write([]byte(payload))
		case "/plain":
			_, _ = w.Write([]byte(payload))
		case "/auth":
			if r.Header.Get("Authorization") != "Bearer key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(payload))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadFileUsesContentDisposition(t *testing.T) {
	var hits int32
	srv := newFileServer(t, &hits)
	dir := t.TempDir()

	d := NewDownloader(srv.Client(), "")
	path, err := d.DownloadFile(context.Background(), filepath.Join(dir, "guess.bin"), srv.URL+"/named", models.Hashes{SHA256: sha(payload)})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fromheader.safetensors"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestDownloadFileSkipsExistingValidFile(t *testing.T) {
	var hits int32
	srv := newFileServer(t, &hits)
	dir := t.TempDir()
	target := filepath.Join(dir, "model.safetensors")
	require.NoError(t, os.WriteFile(target, []byte(payload), 0644))

	d := NewDownloader(srv.Client(), "")
	path, err := d.DownloadFile(context.Background(), target, srv.URL+"/plain", models.Hashes{SHA256: sha(payload)})
	require.NoError(t, err)
	assert.Equal(t, target, path)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestDownloadFileHashMismatchLeavesNothing(t *testing.T) {
	var hits int32
	srv := newFileServer(t, &hits)
	dir := t.TempDir()

	d := NewDownloader(srv.Client(), "")
	_, err := d.DownloadFile(context.Background(), filepath.Join(dir, "m.bin"), srv.URL+"/plain", models.Hashes{SHA256: sha("other")})
	assert.True(t, errors.Is(err, ErrHashMismatch))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadFileStatusAndAuth(t *testing.T) {
	var hits int32
	srv := newFileServer(t, &hits)
	dir := t.TempDir()

	_, err := NewDownloader(srv.Client(), "").DownloadFile(context.Background(), filepath.Join(dir, "a"), srv.URL+"/auth", models.Hashes{})
	assert.True(t, errors.Is(err, ErrHttpStatus))

	_, err = NewDownloader(srv.Client(), "key").DownloadFile(context.Background(), filepath.Join(dir, "a"), srv.URL+"/auth", models.Hashes{})
	assert.NoError(t, err)
}

func TestDownloadAllReportsProgress(t *testing.T) {
	var hits int32
	srv := newFileServer(t, &hits)
	dir := t.TempDir()

	d := NewDownloader(srv.Client(), "")
	var last uint64
	d.OnProgress = func(name string, written, size uint64) { last = written }

	paths, err := d.DownloadAll(context.Background(), dir, []models.DownloadFileDescriptor{
		{Name: "a.safetensors", DownloadUrl: srv.URL + "/plain"},
		{Name: "../b.txt", DownloadUrl: srv.URL + "/plain"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.safetensors"), filepath.Join(dir, "b.txt")}, paths)
	assert.Equal(t, uint64(len(payload)), last)

	_, err = d.DownloadAll(context.Background(), dir, []models.DownloadFileDescriptor{{Name: "c"}})
	assert.Error(t, err)
}
