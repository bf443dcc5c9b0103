package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-civitai-companion/internal/batch"
	"go-civitai-companion/internal/config"
	"go-civitai-companion/internal/models"
)

func withConfig(t *testing.T, cfg models.Config) {
	t.Helper()
	saved := globalConfig
	config.ApplyDefaults(&cfg)
	globalConfig = cfg
	t.Cleanup(func() { globalConfig = saved })
}

func TestBatchFlagsFallBackToConfig(t *testing.T) {
	withConfig(t, models.Config{
		SavePath:         "/data",
		DownloadFilePath: "ACG/Art/OTK/poses",
		DownloadMethod:   models.MethodBrowser,
		BatchDelayMs:     1500,
	})

	opts := batchFlags{delayMs: -1}.options()

	assert.Equal(t, "ACG/Art/OTK/poses", opts.DownloadFilePath)
	assert.Equal(t, "OTK", opts.SelectedCategory)
	assert.Equal(t, models.MethodBrowser, opts.Method)
	assert.Equal(t, 1500*time.Millisecond, opts.Delay)
	assert.Equal(t, batch.DownloadPolicy, opts.Policy)
}

func TestBatchFlagsOverrideConfig(t *testing.T) {
	withConfig(t, models.Config{SavePath: "/data", DownloadFilePath: "Art/x"})

	opts := batchFlags{
		path:         "Style/pastel",
		category:     "Custom",
		method:       models.MethodServer,
		delayMs:      0,
		offlineQueue: true,
	}.options()

	assert.Equal(t, "Style/pastel", opts.DownloadFilePath)
	assert.Equal(t, "Custom", opts.SelectedCategory)
	assert.Equal(t, time.Duration(0), opts.Delay)
	assert.Equal(t, batch.OfflineQueuePolicy, opts.Policy)
}

func TestReadURLsSkipsBlankAndComments(t *testing.T) {
	in := strings.NewReader("https://civitai.com/models/1\n\n# later\n  https://civitai.com/models/2  \n")
	urls, err := readURLs(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://civitai.com/models/1", "https://civitai.com/models/2"}, urls)
}

func TestPrintSummaryListsRemaining(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, batch.Summary{Total: 3, Processed: 1, Stopped: true, Remaining: []string{"u2", "u3"}})

	out := buf.String()
	assert.Contains(t, out, "2 URL(s) still pending")
	assert.Contains(t, out, "  u2\n")
	assert.Contains(t, out, "  u3\n")
}

func TestTorrentSources(t *testing.T) {
	records := []models.ModelRecord{
		{CivitaiModelID: "1", CivitaiVersionID: "11", DownloadFilePath: "Lora/style", FileName: "a.safetensors"},
		{CivitaiModelID: "2", CivitaiVersionID: "21", DownloadFilePath: "../outside", FileName: "b.safetensors"},
		{CivitaiModelID: "3", CivitaiVersionID: "31", DownloadFilePath: "Lora/style"},
	}

	files := torrentSources(records, "/data", false)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join("/data", "Lora", "style", "a.safetensors"), files[0].path)

	folders := torrentSources(records, "/data", true)
	require.Len(t, folders, 2)
	assert.Equal(t, filepath.Join("/data", "Lora", "style"), folders[0].path)
	assert.Equal(t, folders[0].path, folders[1].path)
}

func TestMagnetLink(t *testing.T) {
	var h metainfo.Hash
	link := magnetLink(h, "pastel style", []string{"udp://tracker.example:1337/announce"})

	assert.True(t, strings.HasPrefix(link, "magnet:?xt=urn:btih:"+h.HexString()))
	assert.Contains(t, link, "dn=pastel+style")
	assert.Contains(t, link, "tr=udp%3A%2F%2Ftracker.example%3A1337%2Fannounce")
}

func TestCleanSuffix(t *testing.T) {
	tests := []struct {
		name              string
		torrents, magnets bool
		want              string
	}{
		{"model.safetensors.123.tmp", false, false, ".tmp"},
		{"model.TMP", false, false, ".tmp"},
		{"model.torrent", false, false, ""},
		{"model.torrent", true, false, ".torrent"},
		{"model-magnet.txt", false, true, "-magnet.txt"},
		{"notes.txt", true, true, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanSuffix(tt.name, tt.torrents, tt.magnets), tt.name)
	}
}
