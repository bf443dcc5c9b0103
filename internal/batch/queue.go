package batch

import (
	"context"
	"fmt"

	"go-civitai-companion/internal/metrics"
	"go-civitai-companion/internal/models"

	log "github.com/sirupsen/logrus"
)

// RunQueue drains the offline queue through the download path. Held entries
// are left queued. An entry that fails for any reason goes to the error list
// and the run moves on; a downloaded entry leaves the queue.
func (o *Orchestrator) RunQueue(ctx context.Context, opts Options) (Summary, error) {
	entries, err := o.Backend.ListOfflineQueue(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing offline queue: %w", err)
	}

	var ready []models.OfflineQueueEntry
	for _, e := range entries {
		if !e.Hold {
			ready = append(ready, e)
		}
	}

	progress := o.progress()
	summary := Summary{Total: len(ready)}
	if len(ready) == 0 {
		progress.Done(summary)
		return summary, nil
	}
	progress.Start(QueueEntryURL(o.CatalogBaseUrl, ready[0]), QueueEntryURL(o.CatalogBaseUrl, ready[len(ready)-1]), len(ready))

	for i, e := range ready {
		url := QueueEntryURL(o.CatalogBaseUrl, e)
		if err := ctx.Err(); err != nil {
			summary.Stopped = true
			summary.StopReason = "cancelled"
			for _, rest := range ready[i:] {
				summary.Remaining = append(summary.Remaining, QueueEntryURL(o.CatalogBaseUrl, rest))
			}
			progress.Done(summary)
			return summary, err
		}
		progress.Item(i, url)

		itemOpts := opts
		itemOpts.Policy = DownloadPolicy
		itemOpts.Pending = nil
		itemOpts.OriginTab = 0
		if e.DownloadFilePath != "" {
			itemOpts.DownloadFilePath = e.DownloadFilePath
		}
		if e.SelectedCategory != "" {
			itemOpts.SelectedCategory = e.SelectedCategory
		}

		res := o.processOne(ctx, url, itemOpts)
		metrics.RecordBatchItem(res.outcome.String())
		logger := log.WithFields(log.Fields{"model": e.CivitaiModelID, "version": e.CivitaiVersionID})

		if res.outcome == outcomeProcessed {
			summary.Processed++
			if err := o.Backend.RemoveOfflineQueue(ctx, e.CivitaiModelID, e.CivitaiVersionID); err != nil {
				logger.WithError(err).Warn("Downloaded but could not remove the queue entry")
			}
		} else {
			summary.Failed++
			summary.Remaining = append(summary.Remaining, url)
			key := models.ErrorKey(e.CivitaiModelID, e.CivitaiVersionID, errorName(e, res.model))
			logger.WithError(res.err).Errorf("Queue entry failed, recording %s", key)
			if err := o.Backend.AddError(ctx, key); err != nil {
				logger.WithError(err).Error("Could not record the failure in the error list")
			}
		}

		if res.dispatched && i < len(ready)-1 {
			if err := o.sleep(ctx, opts.Delay, progress); err != nil {
				summary.Stopped = true
				summary.StopReason = "cancelled"
				for _, rest := range ready[i+1:] {
					summary.Remaining = append(summary.Remaining, QueueEntryURL(o.CatalogBaseUrl, rest))
				}
				progress.Done(summary)
				return summary, err
			}
		}
	}

	progress.Done(summary)
	return summary, nil
}

func errorName(e models.OfflineQueueEntry, m models.Model) string {
	switch {
	case e.CivitaiFileName != "":
		return e.CivitaiFileName
	case m.Name != "":
		return m.Name
	}
	return "unknown"
}
