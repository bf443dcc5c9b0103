package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go-civitai-companion/internal/database"
	"go-civitai-companion/internal/downloader"
	"go-civitai-companion/internal/helpers"
	"go-civitai-companion/internal/models"
	"go-civitai-companion/internal/relay"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	log "github.com/sirupsen/logrus"
)

const (
	bookmarkPrefix = "bookmark:"
	storagePrefix  = "storage:"
)

// Local implements Platform for the companion process. Bookmarks and storage
// live in bitcask, tab messages go through the relay hub and native downloads
// are written below savePath.
type Local struct {
	hub       *relay.Hub
	bookmarks *bitcaskBookmarks
	storage   *bitcaskStorage
	downloads *fileDownloads

	mu   sync.RWMutex
	tabs map[int]models.Tab
}

// NewLocal wires a Local platform.
func NewLocal(db *database.DB, hub *relay.Hub, dl *downloader.Downloader, savePath string) *Local {
	return &Local{
		hub:       hub,
		bookmarks: &bitcaskBookmarks{db: db},
		storage:   &bitcaskStorage{db: db},
		downloads: &fileDownloads{dl: dl, root: savePath},
		tabs:      make(map[int]models.Tab),
	}
}

// OpenTab records or updates a browser tab.
func (l *Local) OpenTab(tab models.Tab) {
	if tab.WindowType == "" {
		tab.WindowType = "normal"
	}
	l.mu.Lock()
	l.tabs[tab.ID] = tab
	l.mu.Unlock()
}

// CloseTab forgets a tab.
func (l *Local) CloseTab(id int) {
	l.mu.Lock()
	delete(l.tabs, id)
	l.mu.Unlock()
}

// Tab returns the tab with id, if known.
func (l *Local) Tab(id int) (models.Tab, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tabs[id]
	return t, ok
}

func (l *Local) ActiveTab(ctx context.Context) (models.Tab, error) {
	if err := ctx.Err(); err != nil {
		return models.Tab{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	window := -1
	for _, t := range l.tabs {
		if t.WindowType == "normal" && (window < 0 || t.WindowID < window) {
			window = t.WindowID
		}
	}
	if window < 0 {
		return models.Tab{}, ErrNoActiveTab
	}
	for _, t := range l.tabs {
		if t.WindowID == window && t.Active {
			return t, nil
		}
	}
	return models.Tab{}, ErrNoActiveTab
}

func (l *Local) SendMessage(tabID int, msg relay.Message) {
	l.hub.Send(tabID, msg)
}

func (l *Local) Bookmarks() Bookmarks { return l.bookmarks }
func (l *Local) Storage() Storage     { return l.storage }
func (l *Local) Downloads() Downloads { return l.downloads }

// --- bookmarks ---

type bitcaskBookmarks struct {
	db *database.DB
}

func (b *bitcaskBookmarks) Create(folder, title, url string) (models.Bookmark, error) {
	if folder == "" {
		folder = OtherFolder
	}
	bm := models.Bookmark{
		ID:       uuid.New().String(),
		FolderID: folder,
		Title:    title,
		URL:      url,
		Created:  time.Now().UTC(),
	}
	if err := b.db.PutJSON(bookmarkPrefix+bm.ID, bm); err != nil {
		return models.Bookmark{}, fmt.Errorf("saving bookmark: %w", err)
	}
	log.WithFields(log.Fields{"folder": folder, "url": url}).Debug("Bookmark created")
	return bm, nil
}

func (b *bitcaskBookmarks) Remove(id string) error {
	err := b.db.Delete([]byte(bookmarkPrefix + id))
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrBookmarkNotFound, id)
	}
	return err
}

// List returns the bookmarks of folder, or all bookmarks when folder is "".
func (b *bitcaskBookmarks) List(folder string) ([]models.Bookmark, error) {
	return b.filter(func(bm models.Bookmark) bool {
		return folder == "" || bm.FolderID == folder
	})
}

func (b *bitcaskBookmarks) FindByURL(url string) ([]models.Bookmark, error) {
	return b.filter(func(bm models.Bookmark) bool { return bm.URL == url })
}

// Search ranks bookmarks by fuzzy match of query against their titles.
func (b *bitcaskBookmarks) Search(query string) ([]models.Bookmark, error) {
	all, err := b.List("")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return all, nil
	}
	targets := make([]string, len(all))
	for i, bm := range all {
		targets[i] = bm.Title
	}
	ranks := fuzzy.RankFindFold(query, targets)
	sort.Sort(ranks)
	out := make([]models.Bookmark, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, all[r.OriginalIndex])
	}
	return out, nil
}

func (b *bitcaskBookmarks) filter(keep func(models.Bookmark) bool) ([]models.Bookmark, error) {
	var out []models.Bookmark
	err := b.db.FoldPrefix(bookmarkPrefix, func(key, value []byte) error {
		var bm models.Bookmark
		if err := json.Unmarshal(value, &bm); err != nil {
			log.WithError(err).Warnf("Skipping unreadable bookmark %s", string(key))
			return nil
		}
		if keep(bm) {
			out = append(out, bm)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing bookmarks: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

// --- storage ---

type bitcaskStorage struct {
	db *database.DB
}

func (s *bitcaskStorage) Get(key string) (string, bool, error) {
	v, err := s.db.Get([]byte(storagePrefix + key))
	if errors.Is(err, database.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (s *bitcaskStorage) Set(key, value string) error {
	return s.db.Put([]byte(storagePrefix+key), []byte(value))
}

func (s *bitcaskStorage) Delete(key string) error {
	err := s.db.Delete([]byte(storagePrefix + key))
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	return err
}

// --- downloads ---

type fileDownloads struct {
	dl   *downloader.Downloader
	root string
}

func (f *fileDownloads) Trigger(ctx context.Context, url, filename, dir string) (string, error) {
	target, err := helpers.SafeJoin(f.root, dir)
	if err != nil {
		return "", err
	}
	return f.dl.DownloadFile(ctx, filepath.Join(target, helpers.SafeFileName(filename)), url, models.Hashes{})
}
