package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-civitai-companion/internal/models"
	"go-civitai-companion/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	url1 = "https://civitai.com/models/1/first"
	url2 = "https://civitai.com/models/2/second"
	url3 = "https://civitai.com/models/3/third"
)

type fixture struct {
	catalog  *fakeCatalog
	backend  *fakeBackend
	platform *fakePlatform
	orch     *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		catalog: &fakeCatalog{
			models: map[string]models.Model{
				"1": testModel(1, "LORA", 11),
				"2": testModel(2, "Checkpoint", 21, 22),
				"3": testModel(3, "TextualInversion", 31),
			},
			failFor: map[string]error{},
		},
		backend:  &fakeBackend{downloadOK: map[string]bool{}, saved: map[string]bool{}},
		platform: newFakePlatform(7),
	}
	f.orch = &Orchestrator{
		Catalog:        f.catalog,
		Backend:        f.backend,
		Platform:       f.platform,
		CatalogBaseUrl: "https://civitai.com",
	}
	return f
}

func baseOptions(pending *PendingList) Options {
	return Options{
		DownloadFilePath: "/ACG/Style",
		SelectedCategory: "Style",
		Method:           models.MethodServer,
		OriginTab:        7,
		Pending:          pending,
	}
}

func TestRunProcessesEveryURL(t *testing.T) {
	f := newFixture()
	pending := NewPendingList(url1, url2, url3)

	summary, err := f.orch.Run(context.Background(), pending.Snapshot(), baseOptions(pending))
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 3, Processed: 3}, summary)
	assert.Equal(t, 0, pending.Len())
	require.Len(t, f.backend.downloads, 3)
	require.Len(t, f.backend.records, 3)
	require.Len(t, f.platform.bookmarks, 3)

	job := f.backend.downloads[0]
	assert.Equal(t, "1", job.ModelID)
	assert.Equal(t, "11", job.VersionID)
	assert.Equal(t, "m11.safetensors", job.FileName)
	assert.Equal(t, "/ACG/Style", job.DownloadFilePath)
	assert.Len(t, job.FileList, 2)

	rec := f.backend.records[0]
	assert.Equal(t, "Style", rec.SelectedCategory)
	assert.Equal(t, url1, rec.URL)
	assert.Equal(t, "LORA", rec.ModelType)

	assert.Equal(t, "Lora", f.platform.bookmarks[0].FolderID)
	assert.Equal(t, "Checkpoint", f.platform.bookmarks[1].FolderID)
	assert.Equal(t, "Embedding", f.platform.bookmarks[2].FolderID)

	unchecked := f.platform.sent(relay.ActionUncheckURL)
	require.Len(t, unchecked, 3)
	assert.Equal(t, 7, unchecked[0].tab)
	assert.Equal(t, url1, unchecked[0].msg.URL)
}

func TestRunStopsOnMetadataFailure(t *testing.T) {
	f := newFixture()
	f.catalog.failFor["2"] = errors.New("catalog down")
	pending := NewPendingList(url1, url2, url3)

	summary, err := f.orch.Run(context.Background(), pending.Snapshot(), baseOptions(pending))
	require.Error(t, err)

	assert.True(t, summary.Stopped)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{url2, url3}, summary.Remaining)

	// URL 1 went all the way through.
	require.Len(t, f.backend.downloads, 1)
	require.Len(t, f.backend.records, 1)
	require.Len(t, f.platform.bookmarks, 1)
	assert.Equal(t, url1, f.backend.records[0].URL)

	// URLs 2 and 3 are untouched.
	assert.Equal(t, []string{url2, url3}, pending.Snapshot())
	assert.Equal(t, []string{"1", "2"}, f.catalog.fetched)
	assert.Len(t, f.platform.sent(relay.ActionUncheckURL), 1)
}

func TestRunSkipsUnknownVersion(t *testing.T) {
	f := newFixture()
	missing := "https://civitai.com/models/2?modelVersionId=999"
	pending := NewPendingList(missing, url3)

	summary, err := f.orch.Run(context.Background(), pending.Snapshot(), baseOptions(pending))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Processed)
	require.Len(t, f.backend.downloads, 1)
	assert.Equal(t, "3", f.backend.downloads[0].ModelID)
	require.Len(t, f.backend.records, 1)
	assert.Empty(t, f.backend.queue)

	// The skipped URL stays where it was.
	assert.Equal(t, []string{missing}, pending.Snapshot())
}

func TestRunPicksVersionFromQuery(t *testing.T) {
	f := newFixture()
	u := "https://civitai.com/models/2?modelVersionId=22"

	_, err := f.orch.Run(context.Background(), []string{u}, baseOptions(nil))
	require.NoError(t, err)
	require.Len(t, f.backend.downloads, 1)
	assert.Equal(t, "22", f.backend.downloads[0].VersionID)
	assert.Equal(t, "m22.safetensors", f.backend.downloads[0].FileName)
}

func TestRunSkipsURLWithoutModelID(t *testing.T) {
	f := newFixture()
	summary, err := f.orch.Run(context.Background(), []string{"https://civitai.com/images/5", url1}, baseOptions(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{"1"}, f.catalog.fetched)
}

func TestRunInvalidJobStopsDownloadPolicy(t *testing.T) {
	f := newFixture()
	noFiles := f.catalog.models["1"]
	noFiles.ModelVersions[0].Files = nil
	f.catalog.models["1"] = noFiles

	summary, err := f.orch.Run(context.Background(), []string{url1, url2}, baseOptions(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyInputs))
	assert.True(t, summary.Stopped)
	assert.Empty(t, f.backend.downloads)
	assert.Empty(t, f.backend.records)
}

func TestRunEmptyDownloadPathStopsBeforeSideEffects(t *testing.T) {
	f := newFixture()
	opts := baseOptions(nil)
	opts.DownloadFilePath = ""

	_, err := f.orch.Run(context.Background(), []string{url1}, opts)
	assert.True(t, errors.Is(err, ErrEmptyInputs))
	assert.Empty(t, f.backend.downloads)
	assert.Empty(t, f.platform.bookmarks)
}

func TestRunFailedDownloadKeepsURLPending(t *testing.T) {
	f := newFixture()
	f.backend.downloadOK["1"] = false
	pending := NewPendingList(url1, url2)

	summary, err := f.orch.Run(context.Background(), pending.Snapshot(), baseOptions(pending))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{url1}, summary.Remaining)
	assert.Equal(t, []string{url1}, pending.Snapshot())
	require.Len(t, f.backend.records, 1)
	assert.Equal(t, url2, f.backend.records[0].URL)
}

func TestRunRecordFailureIsNotRolledBack(t *testing.T) {
	f := newFixture()
	f.backend.recordErr = errors.New("db locked")
	pending := NewPendingList(url1)

	summary, err := f.orch.Run(context.Background(), pending.Snapshot(), baseOptions(pending))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Len(t, f.backend.downloads, 1)
	assert.Len(t, f.platform.bookmarks, 1)
	assert.Equal(t, 0, pending.Len())
}

func TestRunBrowserMethod(t *testing.T) {
	f := newFixture()
	opts := baseOptions(nil)
	opts.Method = models.MethodBrowser

	summary, err := f.orch.Run(context.Background(), []string{url1}, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Empty(t, f.backend.downloads)
	assert.Equal(t, []string{"11"}, f.catalog.versions)
	assert.Equal(t, []string{"https://civitai.com/api/download/models/11"}, f.platform.triggered)
	assert.Len(t, f.backend.records, 1)
}

func TestRunOfflineQueuePolicy(t *testing.T) {
	f := newFixture()
	noFiles := f.catalog.models["1"]
	noFiles.ModelVersions[0].Files = nil
	f.catalog.models["1"] = noFiles

	pending := NewPendingList(url1, url2)
	opts := baseOptions(pending)
	opts.Policy = OfflineQueuePolicy

	summary, err := f.orch.Run(context.Background(), pending.Snapshot(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Processed)
	require.Len(t, f.backend.queue, 1)
	entry := f.backend.queue[0]
	assert.Equal(t, "2", entry.CivitaiModelID)
	assert.Equal(t, "21", entry.CivitaiVersionID)
	assert.Equal(t, "m21.safetensors", entry.CivitaiFileName)
	assert.Equal(t, "Style", entry.SelectedCategory)
	assert.Empty(t, f.backend.downloads)
	assert.Equal(t, []string{url1}, pending.Snapshot())
}

func TestRunDelayIsCancellable(t *testing.T) {
	f := newFixture()
	opts := baseOptions(nil)
	opts.Delay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	summary, err := f.orch.Run(ctx, []string{url1, url2}, opts)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, summary.Stopped)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{url2}, summary.Remaining)
}

func TestRunQueue(t *testing.T) {
	f := newFixture()
	f.catalog.failFor["2"] = errors.New("gone")
	f.backend.queue = []models.OfflineQueueEntry{
		{CivitaiModelID: "1", CivitaiVersionID: "11", DownloadFilePath: "/Lora", SelectedCategory: "Art"},
		{CivitaiModelID: "2", CivitaiVersionID: "21", CivitaiFileName: "broken.safetensors", DownloadFilePath: "/x"},
		{CivitaiModelID: "3", CivitaiVersionID: "31", DownloadFilePath: "/y", Hold: true},
		{CivitaiModelID: "3", CivitaiVersionID: "31", CivitaiURL: url3, DownloadFilePath: "/z"},
	}

	summary, err := f.orch.RunQueue(context.Background(), baseOptions(nil))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)

	assert.Equal(t, []string{"1/11", "3/31"}, f.backend.removedQueue)
	assert.Equal(t, []string{"2_21_broken.safetensors"}, f.backend.errorKeys)
	require.Len(t, f.backend.records, 2)
	assert.Equal(t, "Art", f.backend.records[0].SelectedCategory)
	assert.Equal(t, "/Lora", f.backend.records[0].DownloadFilePath)
	assert.Equal(t, "https://civitai.com/models/1?modelVersionId=11", f.backend.records[0].URL)
	assert.Empty(t, f.platform.sent(relay.ActionUncheckURL))
}
