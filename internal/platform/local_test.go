package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go-civitai-companion/internal/database"
	"go-civitai-companion/internal/downloader"
	"go-civitai-companion/internal/models"
	"go-civitai-companion/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) (*Local, *relay.Hub, string) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	hub := relay.NewHub(4)
	root := t.TempDir()
	return NewLocal(db, hub, downloader.NewDownloader(nil, ""), root), hub, root
}

func TestActiveTabPicksFirstNormalWindow(t *testing.T) {
	l, _, _ := newTestLocal(t)
	ctx := context.Background()

	_, err := l.ActiveTab(ctx)
	assert.True(t, errors.Is(err, ErrNoActiveTab))

	l.OpenTab(models.Tab{ID: 1, WindowID: 1, WindowType: "popup", Active: true})
	l.OpenTab(models.Tab{ID: 10, WindowID: 3, WindowType: "normal", Active: true})
	l.OpenTab(models.Tab{ID: 20, WindowID: 2, WindowType: "normal", Active: false})
	l.OpenTab(models.Tab{ID: 21, WindowID: 2, WindowType: "normal", Active: true})

	tab, err := l.ActiveTab(ctx)
	require.NoError(t, err)
	assert.Equal(t, 21, tab.ID)

	l.CloseTab(21)
	l.CloseTab(20)
	tab, err = l.ActiveTab(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, tab.ID)
}

func TestSendMessageToClosedTabIsSilent(t *testing.T) {
	l, hub, _ := newTestLocal(t)
	l.SendMessage(42, relay.Message{Action: relay.ActionUncheckURL})

	ch := hub.Register(42)
	defer hub.Unregister(42, ch)
	l.SendMessage(42, relay.Message{Action: relay.ActionUncheckURL, URL: "u"})
	assert.Equal(t, "u", (<-ch).URL)
}

func TestBookmarks(t *testing.T) {
	l, _, _ := newTestLocal(t)
	bms := l.Bookmarks()

	a, err := bms.Create("Lora", "Anime Style", "https://civitai.com/models/1")
	require.NoError(t, err)
	_, err = bms.Create("Checkpoint", "Realistic Vision", "https://civitai.com/models/2")
	require.NoError(t, err)

	lora, err := bms.List("Lora")
	require.NoError(t, err)
	require.Len(t, lora, 1)
	assert.Equal(t, a.ID, lora[0].ID)

	all, err := bms.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	found, err := bms.FindByURL("https://civitai.com/models/2")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Realistic Vision", found[0].Title)

	hits, err := bms.Search("anime")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a.ID, hits[0].ID)

	// URLs are not searched.
	hits, err = bms.Search("civitai models")
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, bms.Remove(a.ID))
	assert.True(t, errors.Is(bms.Remove(a.ID), ErrBookmarkNotFound))
}

func TestStorage(t *testing.T) {
	l, _, _ := newTestLocal(t)
	st := l.Storage()

	_, ok, err := st.Get("originalTabId")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Set("originalTabId", "12"))
	v, ok, err := st.Get("originalTabId")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12", v)

	require.NoError(t, st.Delete("originalTabId"))
	require.NoError(t, st.Delete("originalTabId"))
}

func TestDownloadsTrigger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("weights"))
	}))
	defer srv.Close()

	l, _, root := newTestLocal(t)
	path, err := l.Downloads().Trigger(context.Background(), srv.URL, "a.safetensors", "/Lora/ACG")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Lora", "ACG", "a.safetensors"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	_, err = l.Downloads().Trigger(context.Background(), srv.URL, "x", "../../escape")
	assert.Error(t, err)
}

func TestFolderForType(t *testing.T) {
	assert.Equal(t, "Lora", FolderForType("LORA", nil))
	assert.Equal(t, "Lora", FolderForType("locon", nil))
	assert.Equal(t, "Embedding", FolderForType("TextualInversion", nil))
	assert.Equal(t, OtherFolder, FolderForType("Mystery", nil))
	assert.Equal(t, "Styles", FolderForType("LORA", map[string]string{"lora": "Styles"}))
}
