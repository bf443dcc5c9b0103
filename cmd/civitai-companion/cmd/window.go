package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"go-civitai-companion/internal/backend"
	"go-civitai-companion/internal/batch"
	"go-civitai-companion/internal/database"
	"go-civitai-companion/internal/downloader"
	"go-civitai-companion/internal/platform"
	"go-civitai-companion/internal/relay"
	"go-civitai-companion/internal/resolver"
)

// cliWindow is the orchestrator window run inside the CLI process. Bookmarks
// and settings live in the bitcask at DatabasePath; records, the offline queue
// and server downloads go through the companion server.
type cliWindow struct {
	db       *database.DB
	backend  *backend.Client
	platform *platform.Local
	orch     *batch.Orchestrator
}

func openWindow() (*cliWindow, error) {
	if globalConfig.DatabasePath == "" {
		return nil, fmt.Errorf("database path is not configured")
	}
	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error opening database at %s: %w", globalConfig.DatabasePath, err)
	}

	dl := downloader.NewDownloader(httpClient(0), globalConfig.ApiKey)
	local := platform.NewLocal(db, relay.NewHub(8), dl, globalConfig.SavePath)
	client := newBackendClient()

	orch := &batch.Orchestrator{
		Catalog:         newCatalogClient(),
		Backend:         client,
		Platform:        local,
		Progress:        batch.NewLiveProgress(os.Stdout),
		BookmarkFolders: globalConfig.BookmarkFolders,
		CatalogBaseUrl:  globalConfig.CatalogBaseUrl,
	}
	return &cliWindow{db: db, backend: client, platform: local, orch: orch}, nil
}

func (w *cliWindow) Close() {
	if err := w.db.Close(); err != nil {
		log.WithError(err).Warn("Error closing database")
	}
}

// batchFlags are the run options shared by 'batch' and 'queue run'.
type batchFlags struct {
	path         string
	category     string
	method       string
	delayMs      int
	offlineQueue bool
}

// options fills unset flags from the config and resolves the category from
// the download path when none is given.
func (f batchFlags) options() batch.Options {
	opts := batch.Options{
		DownloadFilePath: f.path,
		SelectedCategory: f.category,
		Method:           f.method,
		Delay:            time.Duration(f.delayMs) * time.Millisecond,
	}
	if opts.DownloadFilePath == "" {
		opts.DownloadFilePath = globalConfig.DownloadFilePath
	}
	if opts.SelectedCategory == "" {
		opts.SelectedCategory = globalConfig.SelectedCategory
	}
	if opts.SelectedCategory == "" {
		opts.SelectedCategory = resolver.FromConfig(globalConfig.Categories, globalConfig.CategoryRules).Resolve(opts.DownloadFilePath)
	}
	if opts.Method == "" {
		opts.Method = globalConfig.DownloadMethod
	}
	if f.delayMs < 0 {
		opts.Delay = time.Duration(globalConfig.BatchDelayMs) * time.Millisecond
	}
	if f.offlineQueue {
		opts.Policy = batch.OfflineQueuePolicy
	}
	return opts
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
