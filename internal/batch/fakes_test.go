package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go-civitai-companion/internal/models"
	"go-civitai-companion/internal/platform"
	"go-civitai-companion/internal/relay"
)

type fakeCatalog struct {
	models   map[string]models.Model
	failFor  map[string]error
	mu       sync.Mutex
	fetched  []string
	versions []string
}

func (c *fakeCatalog) GetModel(ctx context.Context, modelID string) (models.Model, error) {
	c.mu.Lock()
	c.fetched = append(c.fetched, modelID)
	c.mu.Unlock()
	if err, ok := c.failFor[modelID]; ok {
		return models.Model{}, err
	}
	m, ok := c.models[modelID]
	if !ok {
		return models.Model{}, fmt.Errorf("model %s: %w", modelID, errors.New("not found"))
	}
	return m, nil
}

func (c *fakeCatalog) GetModelVersion(ctx context.Context, versionID string) (models.ModelVersion, error) {
	c.mu.Lock()
	c.versions = append(c.versions, versionID)
	c.mu.Unlock()
	for _, m := range c.models {
		for _, v := range m.ModelVersions {
			if fmt.Sprint(v.ID) == versionID {
				return v, nil
			}
		}
	}
	return models.ModelVersion{}, errors.New("version not found")
}

type fakeBackend struct {
	mu           sync.Mutex
	downloadOK   map[string]bool // by model id; missing means true
	downloads    []models.DownloadJob
	records      []models.ModelRecord
	recordErr    error
	queue        []models.OfflineQueueEntry
	removedQueue []string
	errorKeys    []string
	saved        map[string]bool
	checkErr     error
}

func (b *fakeBackend) ServerDownload(ctx context.Context, job models.DownloadJob) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.downloads = append(b.downloads, job)
	if ok, set := b.downloadOK[job.ModelID]; set {
		return ok, nil
	}
	return true, nil
}

func (b *fakeBackend) AddRecord(ctx context.Context, rec models.ModelRecord) (models.ModelRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recordErr != nil {
		return models.ModelRecord{}, b.recordErr
	}
	b.records = append(b.records, rec)
	return rec, nil
}

func (b *fakeBackend) AddOfflineQueue(ctx context.Context, e models.OfflineQueueEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, e)
	return nil
}

func (b *fakeBackend) ListOfflineQueue(ctx context.Context) ([]models.OfflineQueueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.OfflineQueueEntry(nil), b.queue...), nil
}

func (b *fakeBackend) RemoveOfflineQueue(ctx context.Context, modelID, versionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removedQueue = append(b.removedQueue, modelID+"/"+versionID)
	return nil
}

func (b *fakeBackend) AddError(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorKeys = append(b.errorKeys, key)
	return nil
}

func (b *fakeBackend) CheckURLInDatabase(ctx context.Context, rawURL string) (bool, error) {
	if b.checkErr != nil && strings.Contains(rawURL, "boom") {
		return false, b.checkErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saved[rawURL], nil
}

type sentMessage struct {
	tab int
	msg relay.Message
}

type fakePlatform struct {
	mu        sync.Mutex
	active    models.Tab
	noTab     bool
	messages  []sentMessage
	bookmarks []models.Bookmark
	store     map[string]string
	triggered []string
}

func newFakePlatform(activeTab int) *fakePlatform {
	return &fakePlatform{
		active: models.Tab{ID: activeTab, WindowID: 1, WindowType: "normal", Active: true},
		store:  make(map[string]string),
	}
}

func (p *fakePlatform) ActiveTab(ctx context.Context) (models.Tab, error) {
	if p.noTab {
		return models.Tab{}, platform.ErrNoActiveTab
	}
	return p.active, nil
}

func (p *fakePlatform) SendMessage(tabID int, msg relay.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, sentMessage{tab: tabID, msg: msg})
}

func (p *fakePlatform) sent(action string) []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sentMessage
	for _, m := range p.messages {
		if m.msg.Action == action {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePlatform) Bookmarks() platform.Bookmarks { return (*fakeBookmarks)(p) }
func (p *fakePlatform) Storage() platform.Storage     { return (*fakeStorage)(p) }
func (p *fakePlatform) Downloads() platform.Downloads { return (*fakeDownloads)(p) }

type fakeBookmarks fakePlatform

func (b *fakeBookmarks) Create(folder, title, url string) (models.Bookmark, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bm := models.Bookmark{ID: fmt.Sprint(len(b.bookmarks) + 1), FolderID: folder, Title: title, URL: url}
	b.bookmarks = append(b.bookmarks, bm)
	return bm, nil
}

func (b *fakeBookmarks) Remove(id string) error                          { return nil }
func (b *fakeBookmarks) List(folder string) ([]models.Bookmark, error)   { return b.bookmarks, nil }
func (b *fakeBookmarks) FindByURL(url string) ([]models.Bookmark, error) { return nil, nil }
func (b *fakeBookmarks) Search(query string) ([]models.Bookmark, error)  { return nil, nil }

type fakeStorage fakePlatform

func (s *fakeStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.store[key]
	return v, ok, nil
}

func (s *fakeStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[key] = value
	return nil
}

func (s *fakeStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, key)
	return nil
}

type fakeDownloads fakePlatform

func (d *fakeDownloads) Trigger(ctx context.Context, url, filename, dir string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.triggered = append(d.triggered, url)
	return dir + "/" + filename, nil
}

// testModel builds a catalog model with one version per id, each carrying a
// Model file and a training data file.
func testModel(id int, typ string, versionIDs ...int) models.Model {
	m := models.Model{ID: id, Name: fmt.Sprintf("Model %d", id), Type: typ, Tags: []string{"tag"}, Creator: models.Creator{Username: "creator"}}
	for _, v := range versionIDs {
		m.ModelVersions = append(m.ModelVersions, models.ModelVersion{
			ID:        v,
			Name:      fmt.Sprintf("v%d", v),
			BaseModel: "SDXL 1.0",
			Files: []models.File{
				{Name: fmt.Sprintf("m%d.safetensors", v), Type: "Model", DownloadUrl: fmt.Sprintf("https://civitai.com/api/download/models/%d", v)},
				{Name: "data.zip", Type: "Training Data", DownloadUrl: "https://civitai.com/api/download/data"},
			},
		})
	}
	return m
}
