package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go-civitai-companion/internal/batch"
	"go-civitai-companion/internal/helpers"
	"go-civitai-companion/internal/metrics"
	"go-civitai-companion/internal/models"
	"go-civitai-companion/internal/platform"

	log "github.com/sirupsen/logrus"
)

type downloadResponse struct {
	Success bool     `json:"success"`
	Paths   []string `json:"paths,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// download fetches every file of job into SavePath/DownloadFilePath.
func (s *Server) download(ctx context.Context, job models.DownloadJob) ([]string, error) {
	start := time.Now()
	dir, err := helpers.SafeJoin(s.cfg.SavePath, job.DownloadFilePath)
	if err != nil {
		metrics.RecordDownload(time.Since(start), false)
		return nil, err
	}

	logger := log.WithFields(log.Fields{"model": job.ModelID, "version": job.VersionID, "dir": dir})
	logger.Infof("Downloading %d file(s)", len(job.FileList))
	paths, err := s.dl.DownloadAll(ctx, dir, job.FileList)
	metrics.RecordDownload(time.Since(start), err == nil)
	if err != nil {
		logger.WithError(err).Error("Server download failed")
		return paths, err
	}
	logger.Infof("Downloaded %s in %s", job.FileName, time.Since(start).Round(time.Millisecond))
	return paths, nil
}

// handleDownload answers 200 with success=false when the download itself
// fails, and 400 only for a malformed job.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var job models.DownloadJob
	if err := decodeJSON(r, &job); err != nil {
		sendError(w, http.StatusBadRequest, "invalid download job: "+err.Error())
		return
	}
	if err := batch.ValidateJob(job); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	paths, err := s.download(r.Context(), job)
	if err != nil {
		sendJSON(w, http.StatusOK, downloadResponse{Success: false, Paths: paths, Error: err.Error()})
		return
	}
	sendJSON(w, http.StatusOK, downloadResponse{Success: true, Paths: paths})
}

func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		list []models.Bookmark
		err  error
	)
	switch {
	case q.Get("url") != "":
		list, err = s.platform.Bookmarks().FindByURL(q.Get("url"))
	case q.Get("q") != "":
		list, err = s.platform.Bookmarks().Search(q.Get("q"))
	default:
		list, err = s.platform.Bookmarks().List(q.Get("folder"))
	}
	if err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []models.Bookmark{}
	}
	sendJSON(w, http.StatusOK, list)
}

func (s *Server) handleRemoveBookmark(w http.ResponseWriter, r *http.Request) {
	err := s.platform.Bookmarks().Remove(r.PathValue("id"))
	switch {
	case errors.Is(err, platform.ErrBookmarkNotFound):
		sendError(w, http.StatusNotFound, err.Error())
	case err != nil:
		sendError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// localBackend serves the orchestrator and session inside the server process
// straight from the store and downloader.
type localBackend struct {
	s *Server
}

func (b localBackend) ServerDownload(ctx context.Context, job models.DownloadJob) (bool, error) {
	if _, err := b.s.download(ctx, job); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

func (b localBackend) AddRecord(ctx context.Context, rec models.ModelRecord) (models.ModelRecord, error) {
	return b.s.saveRecord(ctx, rec)
}

func (b localBackend) AddOfflineQueue(ctx context.Context, e models.OfflineQueueEntry) error {
	return b.s.store.AddQueue(ctx, e)
}

func (b localBackend) ListOfflineQueue(ctx context.Context) ([]models.OfflineQueueEntry, error) {
	return b.s.store.ListQueue(ctx)
}

func (b localBackend) RemoveOfflineQueue(ctx context.Context, modelID, versionID string) error {
	return b.s.store.RemoveQueue(ctx, modelID, versionID)
}

func (b localBackend) AddError(ctx context.Context, key string) error {
	return b.s.store.AddError(ctx, key)
}

func (b localBackend) CheckURLInDatabase(ctx context.Context, rawURL string) (bool, error) {
	saved, err := b.s.store.CheckURL(ctx, rawURL)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", rawURL, err)
	}
	return saved, nil
}
