// Package batch processes lists of catalog URLs one at a time: fetch, validate,
// download, persist, bookmark and drop from the pending list.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-civitai-companion/internal/api"
	"go-civitai-companion/internal/metrics"
	"go-civitai-companion/internal/models"
	"go-civitai-companion/internal/platform"
	"go-civitai-companion/internal/relay"

	log "github.com/sirupsen/logrus"
)

// Catalog is the part of the public catalog client the orchestrator uses.
type Catalog interface {
	GetModel(ctx context.Context, modelID string) (models.Model, error)
	GetModelVersion(ctx context.Context, versionID string) (models.ModelVersion, error)
}

// Backend is the part of the backend API the orchestrator uses.
type Backend interface {
	ServerDownload(ctx context.Context, job models.DownloadJob) (bool, error)
	AddRecord(ctx context.Context, rec models.ModelRecord) (models.ModelRecord, error)
	AddOfflineQueue(ctx context.Context, e models.OfflineQueueEntry) error
	ListOfflineQueue(ctx context.Context) ([]models.OfflineQueueEntry, error)
	RemoveOfflineQueue(ctx context.Context, modelID, versionID string) error
	AddError(ctx context.Context, key string) error
}

// Policy decides what happens to the rest of the batch when an item fails.
type Policy int

const (
	// DownloadPolicy downloads each item. A metadata fetch error or an
	// invalid job stops the batch.
	DownloadPolicy Policy = iota
	// OfflineQueuePolicy adds each item to the offline queue instead of
	// downloading. A metadata fetch error stops the batch; an invalid item is skipped.
	OfflineQueuePolicy
)

func (p Policy) String() string {
	switch p {
	case DownloadPolicy:
		return "download"
	case OfflineQueuePolicy:
		return "offline-queue"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// Options configures one Run.
type Options struct {
	DownloadFilePath string
	SelectedCategory string
	Method           string // models.MethodServer or models.MethodBrowser
	Delay            time.Duration
	Policy           Policy
	// OriginTab receives uncheck-url messages; <= 0 disables them.
	OriginTab int
	// Pending, when set, loses each URL once it has been handled.
	Pending *PendingList
}

// Summary reports what a Run did.
type Summary struct {
	Total      int
	Processed  int
	Skipped    int
	Failed     int
	Stopped    bool
	StopReason string
	// Remaining lists the URLs that were not handled, in order.
	Remaining []string
}

// Orchestrator runs batches. Items are handled strictly one at a time.
type Orchestrator struct {
	Catalog         Catalog
	Backend         Backend
	Platform        platform.Platform
	Progress        Progress
	BookmarkFolders map[string]string
	CatalogBaseUrl  string
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeStop
)

func (o outcome) String() string {
	return [...]string{"processed", "skipped", "failed", "stopped"}[o]
}

type itemResult struct {
	outcome outcome
	err     error
	job     models.DownloadJob
	model   models.Model
	// dispatched is true once an item reached the download or queue step.
	dispatched bool
}

// Run processes urls in order. It stops early on a metadata fetch failure,
// on an invalid job under DownloadPolicy, or when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, urls []string, opts Options) (Summary, error) {
	progress := o.progress()
	summary := Summary{Total: len(urls)}
	if len(urls) == 0 {
		progress.Done(summary)
		return summary, nil
	}
	progress.Start(urls[0], urls[len(urls)-1], len(urls))

	logger := log.WithFields(log.Fields{
		"policy": opts.Policy.String(),
		"method": opts.Method,
		"total":  len(urls),
	})
	logger.Info("Starting batch")

	var runErr error
	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			summary.Stopped = true
			summary.StopReason = "cancelled"
			summary.Remaining = append(summary.Remaining, urls[i:]...)
			runErr = err
			break
		}

		progress.Item(i, url)
		res := o.processOne(ctx, url, opts)
		metrics.RecordBatchItem(res.outcome.String())

		switch res.outcome {
		case outcomeProcessed:
			summary.Processed++
			o.finishItem(url, opts)
		case outcomeSkipped:
			summary.Skipped++
			if res.err != nil {
				log.WithField("url", url).Warnf("Skipping: %v", res.err)
			}
		case outcomeFailed:
			summary.Failed++
			summary.Remaining = append(summary.Remaining, url)
			log.WithField("url", url).WithError(res.err).Error("Item failed, continuing")
		case outcomeStop:
			summary.Stopped = true
			summary.StopReason = res.err.Error()
			summary.Remaining = append(summary.Remaining, urls[i:]...)
			log.WithField("url", url).WithError(res.err).Error("Stopping batch")
			runErr = res.err
		}
		if summary.Stopped {
			break
		}

		if res.dispatched && i < len(urls)-1 {
			if err := o.sleep(ctx, opts.Delay, progress); err != nil {
				summary.Stopped = true
				summary.StopReason = "cancelled"
				summary.Remaining = append(summary.Remaining, urls[i+1:]...)
				runErr = err
				break
			}
		}
	}

	logger.WithFields(log.Fields{
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
		"stopped":   summary.Stopped,
	}).Info("Batch finished")
	progress.Done(summary)
	return summary, runErr
}

func (o *Orchestrator) processOne(ctx context.Context, url string, opts Options) itemResult {
	ref, ok := models.ParseReference(url)
	if !ok {
		return itemResult{outcome: outcomeSkipped, err: errors.New("no model id in url")}
	}

	model, err := o.Catalog.GetModel(ctx, ref.ModelID)
	if err != nil {
		return itemResult{outcome: outcomeStop, err: fmt.Errorf("fetching model %s: %w", ref.ModelID, err)}
	}

	idx, ok := VersionIndex(model, ref.VersionID)
	if !ok {
		return itemResult{outcome: outcomeSkipped, err: fmt.Errorf("version %q not found in model %s", ref.VersionID, ref.ModelID)}
	}
	version := model.ModelVersions[idx]

	job := BuildJob(ref, model, version, opts.DownloadFilePath)
	if err := ValidateJob(job); err != nil {
		if opts.Policy == OfflineQueuePolicy {
			return itemResult{outcome: outcomeSkipped, err: err, job: job, model: model}
		}
		return itemResult{outcome: outcomeStop, err: err, job: job, model: model}
	}

	res := itemResult{job: job, model: model, dispatched: true}
	if opts.Policy == OfflineQueuePolicy {
		if err := o.Backend.AddOfflineQueue(ctx, BuildQueueEntry(job, model, opts.SelectedCategory)); err != nil {
			res.outcome, res.err = outcomeFailed, fmt.Errorf("adding to offline queue: %w", err)
			return res
		}
		res.outcome = outcomeProcessed
		return res
	}

	if err := o.dispatch(ctx, job, opts.Method); err != nil {
		res.outcome, res.err = outcomeFailed, err
		return res
	}

	// Persistence and bookmarking never undo the download.
	if _, err := o.Backend.AddRecord(ctx, BuildRecord(job, model, version, opts.SelectedCategory)); err != nil {
		log.WithField("url", url).WithError(err).Error("Download succeeded but saving the record failed")
	}
	if o.Platform != nil {
		folder := platform.FolderForType(model.Type, o.BookmarkFolders)
		if _, err := o.Platform.Bookmarks().Create(folder, model.Name, url); err != nil {
			log.WithField("url", url).WithError(err).Error("Download succeeded but creating the bookmark failed")
		}
	}
	res.outcome = outcomeProcessed
	return res
}

// dispatch performs the download. server delegates to the backend, browser
// re-fetches the version and hands its file to the platform downloader.
func (o *Orchestrator) dispatch(ctx context.Context, job models.DownloadJob, method string) error {
	switch method {
	case models.MethodServer, "":
		ok, err := o.Backend.ServerDownload(ctx, job)
		if err != nil {
			return fmt.Errorf("server download: %w", err)
		}
		if !ok {
			return errors.New("server download reported failure")
		}
		return nil
	case models.MethodBrowser:
		if o.Platform == nil {
			return errors.New("browser download needs a platform")
		}
		version, err := o.Catalog.GetModelVersion(ctx, job.VersionID)
		if err != nil {
			return fmt.Errorf("fetching version %s: %w", job.VersionID, err)
		}
		downloadURL := version.DownloadUrl
		if f, ok := api.SelectModelFile(version); ok && f.DownloadUrl != "" {
			downloadURL = f.DownloadUrl
		}
		if downloadURL == "" {
			return fmt.Errorf("version %s has no download url", job.VersionID)
		}
		path, err := o.Platform.Downloads().Trigger(ctx, downloadURL, job.FileName, job.DownloadFilePath)
		if err != nil {
			return fmt.Errorf("browser download: %w", err)
		}
		log.WithField("path", path).Info("Browser download finished")
		return nil
	default:
		return fmt.Errorf("unknown download method %q", method)
	}
}

func (o *Orchestrator) finishItem(url string, opts Options) {
	if opts.Pending != nil {
		opts.Pending.Remove(url)
	}
	if opts.OriginTab > 0 && o.Platform != nil {
		o.Platform.SendMessage(opts.OriginTab, relay.Message{Action: relay.ActionUncheckURL, URL: url})
	}
}

// sleep waits d, reporting the countdown once per second.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration, progress Progress) error {
	if d <= 0 {
		return nil
	}
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	timer := time.NewTimer(d)
	defer timer.Stop()

	progress.Countdown(d)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			progress.Countdown(0)
			return nil
		case <-ticker.C:
			progress.Countdown(time.Until(deadline).Round(time.Second))
		}
	}
}

func (o *Orchestrator) progress() Progress {
	if o.Progress == nil {
		return NopProgress{}
	}
	return o.Progress
}
