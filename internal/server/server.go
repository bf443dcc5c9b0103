// Package server is the companion HTTP server: the SQL API the extension and
// CLI talk to, server-side downloads, the tab relay and the orchestrator session.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go-civitai-companion/internal/batch"
	"go-civitai-companion/internal/downloader"
	"go-civitai-companion/internal/metrics"
	"go-civitai-companion/internal/models"
	"go-civitai-companion/internal/platform"
	"go-civitai-companion/internal/relay"
	"go-civitai-companion/internal/resolver"
	"go-civitai-companion/internal/store"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

// Deps are the components a Server is built from. Index may be nil, which
// disables record search.
type Deps struct {
	Store      *store.Store
	Index      bleve.Index
	Hub        *relay.Hub
	Platform   *platform.Local
	Downloader *downloader.Downloader
	Catalog    batch.Catalog
	Progress   batch.Progress // nil discards batch progress
	Resolver   *resolver.Resolver
	Config     models.Config
}

// Server serves the companion API.
type Server struct {
	store    *store.Store
	index    bleve.Index
	hub      *relay.Hub
	platform *platform.Local
	dl       *downloader.Downloader
	resolver *resolver.Resolver
	cfg      models.Config

	session *batch.Session
	orch    *batch.Orchestrator

	runMu     sync.Mutex
	baseCtx   context.Context
	cancelRun context.CancelFunc
	lastRun   *RunResult
}

// RunResult is the outcome of the last batch started over HTTP.
type RunResult struct {
	Summary batch.Summary `json:"summary"`
	Error   string        `json:"error,omitempty"`
	Queue   bool          `json:"queue"`
	Ended   time.Time     `json:"ended"`
}

// New wires a Server.
func New(d Deps) *Server {
	s := &Server{
		store:    d.Store,
		index:    d.Index,
		hub:      d.Hub,
		platform: d.Platform,
		dl:       d.Downloader,
		resolver: d.Resolver,
		cfg:      d.Config,
		baseCtx:  context.Background(),
	}
	local := localBackend{s: s}
	s.session = batch.NewSession(d.Platform, local)
	s.orch = &batch.Orchestrator{
		Catalog:         d.Catalog,
		Backend:         local,
		Platform:        d.Platform,
		Progress:        d.Progress,
		BookmarkFolders: d.Config.BookmarkFolders,
		CatalogBaseUrl:  d.Config.CatalogBaseUrl,
	}
	return s
}

// Start attaches the session to the window mailbox. Runs started over HTTP
// are cancelled when ctx is done.
func (s *Server) Start(ctx context.Context) {
	s.runMu.Lock()
	s.baseCtx = ctx
	s.runMu.Unlock()

	inbox := s.hub.Register(relay.WindowTab)
	go func() {
		s.session.Listen(ctx, inbox)
		s.hub.Unregister(relay.WindowTab, inbox)
	}()
}

// Handler returns the HTTP handler with metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// Records
	mux.HandleFunc("GET /api/records", s.handleFindRecords)
	mux.HandleFunc("POST /api/records", s.handleAddRecord)
	mux.HandleFunc("GET /api/records/search", s.handleSearchRecords)
	mux.HandleFunc("POST /api/records/check", s.handleCheckURL)
	mux.HandleFunc("PUT /api/records/{modelID}/{versionID}", s.handleUpdateRecord)
	mux.HandleFunc("DELETE /api/records/{modelID}/{versionID}", s.handleRemoveRecord)
	mux.HandleFunc("GET /api/cart", s.handleCart)

	// Listings
	mux.HandleFunc("GET /api/folders", s.handleListing(s.store.Folders))
	mux.HandleFunc("GET /api/categories", s.handleListing(s.store.Categories))
	mux.HandleFunc("GET /api/tags", s.handleListing(s.store.Tags))
	mux.HandleFunc("GET /api/resolve", s.handleResolve)

	// Offline queue and error list
	mux.HandleFunc("GET /api/offline-queue", s.handleListQueue)
	mux.HandleFunc("POST /api/offline-queue", s.handleAddQueue)
	mux.HandleFunc("PUT /api/offline-queue/{modelID}/{versionID}", s.handleReplaceQueue)
	mux.HandleFunc("DELETE /api/offline-queue/{modelID}/{versionID}", s.handleRemoveQueue)
	mux.HandleFunc("GET /api/errors", s.handleListErrors)
	mux.HandleFunc("POST /api/errors", s.handleAddError)
	mux.HandleFunc("DELETE /api/errors/{key}", s.handleRemoveError)
	mux.HandleFunc("DELETE /api/errors/{key}/queue", s.handleRemoveErrorAndQueue)

	// Downloads
	mux.HandleFunc("POST /api/download", s.handleDownload)

	// Bookmarks
	mux.HandleFunc("GET /api/bookmarks", s.handleListBookmarks)
	mux.HandleFunc("DELETE /api/bookmarks/{id}", s.handleRemoveBookmark)

	// Relay
	mux.HandleFunc("GET /api/relay/{tabID}/events", s.handleRelayEvents)
	mux.HandleFunc("POST /api/relay/{tabID}/messages", s.handleRelayMessage)
	mux.HandleFunc("GET /api/tabs", s.handleListTabs)
	mux.HandleFunc("PUT /api/tabs/{tabID}", s.handleUpdateTab)

	// Orchestrator session
	mux.HandleFunc("GET /api/session", s.handleSessionState)
	mux.HandleFunc("PUT /api/session/origin", s.handleSetOrigin)
	mux.HandleFunc("POST /api/session/check", s.handleSessionCheck)
	mux.HandleFunc("POST /api/session/display", s.handleSessionDisplay)
	mux.HandleFunc("POST /api/session/run", s.handleSessionRun)
	mux.HandleFunc("POST /api/session/cancel", s.handleSessionCancel)

	return metrics.Middleware(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.Start(ctx)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Companion server listening on %s", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down companion server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"tabs":   s.hub.Count(),
	})
}

func sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Writing response failed")
	}
}

func sendError(w http.ResponseWriter, code int, message string) {
	sendJSON(w, code, map[string]string{"error": message})
}

// sendStoreError maps store errors to status codes.
func sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalid):
		sendError(w, http.StatusBadRequest, err.Error())
	default:
		log.WithError(err).Error("Store request failed")
		sendError(w, http.StatusInternalServerError, err.Error())
	}
}

const maxBodySize = 1 << 20

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
}
