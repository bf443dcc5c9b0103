package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-civitai-companion/internal/helpers"
	"go-civitai-companion/internal/models"
)

// torrentJob is one file or folder to share.
type torrentJob struct {
	SourcePath     string
	Trackers       []string
	OutputDir      string
	Overwrite      bool
	GenerateMagnet bool
	LogFields      log.Fields
}

func torrentWorker(id int, jobs <-chan torrentJob, wg *sync.WaitGroup, successCounter *atomic.Int64, failureCounter *atomic.Int64) {
	defer wg.Done()
	log.Debugf("Torrent Worker %d starting", id)
	for job := range jobs {
		log.WithFields(job.LogFields).Debugf("Worker %d: Processing %s", id, job.SourcePath)
		if err := generateTorrentFile(job.SourcePath, job.Trackers, job.OutputDir, job.Overwrite, job.GenerateMagnet); err != nil {
			log.WithFields(job.LogFields).WithError(err).Errorf("Worker %d: Failed to generate torrent for %s", id, job.SourcePath)
			failureCounter.Add(1)
			continue
		}
		successCounter.Add(1)
	}
	log.Debugf("Torrent Worker %d finished", id)
}

var (
	torrentModelIDs     []string
	announceURLs        []string
	torrentOutputDir    string
	overwriteTorrents   bool
	generateMagnetLinks bool
	torrentFolders      bool
)

var torrentCmd = &cobra.Command{
	Use:   "torrent",
	Short: "Generate .torrent files for saved models",
	Long: `Generates BitTorrent metainfo (.torrent) files for the model files recorded on the
companion server, one per saved file, or one per download folder with --folders.
The files must exist under the save path. You must specify tracker announce URLs.`,
	RunE: runTorrent,
}

func init() {
	rootCmd.AddCommand(torrentCmd)

	torrentCmd.Flags().StringSliceVar(&announceURLs, "announce", []string{}, "Tracker announce URL (repeatable)")
	torrentCmd.Flags().StringSliceVar(&torrentModelIDs, "model-id", []string{}, "Only these model ID(s) (comma-separated or repeated). Default: all saved models.")
	torrentCmd.Flags().StringVarP(&torrentOutputDir, "output-dir", "o", "", "Directory to save generated .torrent files (default: next to the source)")
	torrentCmd.Flags().BoolVarP(&overwriteTorrents, "overwrite", "f", false, "Overwrite existing .torrent files")
	torrentCmd.Flags().BoolVar(&generateMagnetLinks, "magnet-links", false, "Write a -magnet.txt file next to each .torrent file")
	torrentCmd.Flags().BoolVar(&torrentFolders, "folders", false, "One torrent per download folder instead of per file")
	torrentCmd.Flags().IntP("concurrency", "c", 4, "Number of concurrent torrent generation workers")
}

func runTorrent(cmd *cobra.Command, args []string) error {
	if len(announceURLs) == 0 {
		return errors.New("at least one --announce URL is required")
	}
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if concurrency <= 0 {
		log.Warnf("Invalid concurrency value %d, defaulting to 4", concurrency)
		concurrency = 4
	}
	if globalConfig.SavePath == "" {
		return errors.New("save path is not configured (--save-path or config file)")
	}

	client := newBackendClient()
	var records []models.ModelRecord
	if len(torrentModelIDs) == 0 {
		recs, err := client.FindRecords(cmd.Context(), "")
		if err != nil {
			return fmt.Errorf("error listing records: %w", err)
		}
		records = recs
	} else {
		for _, id := range torrentModelIDs {
			recs, err := client.FindRecords(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("error listing records of model %s: %w", id, err)
			}
			records = append(records, recs...)
		}
	}
	if len(records) == 0 {
		log.Info("No saved records found.")
		return nil
	}

	jobs := make(chan torrentJob, concurrency)
	var wg sync.WaitGroup
	var successCounter, failureCounter atomic.Int64
	for i := 1; i <= concurrency; i++ {
		wg.Add(1)
		go torrentWorker(i, jobs, &wg, &successCounter, &failureCounter)
	}

	queued, skipped := 0, 0
	seen := make(map[string]bool)
	for _, rec := range torrentSources(records, globalConfig.SavePath, torrentFolders) {
		if seen[rec.path] {
			skipped++
			continue
		}
		seen[rec.path] = true
		jobs <- torrentJob{
			SourcePath:     rec.path,
			Trackers:       announceURLs,
			OutputDir:      torrentOutputDir,
			Overwrite:      overwriteTorrents,
			GenerateMagnet: generateMagnetLinks,
			LogFields:      rec.fields,
		}
		queued++
	}
	close(jobs)
	log.Infof("Queued %d torrent job(s) (%d duplicate(s) skipped). Waiting for workers...", queued, skipped)
	wg.Wait()

	successCount, failCount := successCounter.Load(), failureCounter.Load()
	log.Infof("Torrent generation complete. Success: %d, Failed: %d", successCount, failCount)
	if failCount > 0 {
		return fmt.Errorf("%d torrents failed to generate", failCount)
	}
	return nil
}

type torrentSource struct {
	path   string
	fields log.Fields
}

// torrentSources maps records to the files (or folders) to share. Records whose
// folder escapes savePath or that lack a file name are skipped.
func torrentSources(records []models.ModelRecord, savePath string, folders bool) []torrentSource {
	var out []torrentSource
	for _, rec := range records {
		fields := log.Fields{"modelID": rec.CivitaiModelID, "versionID": rec.CivitaiVersionID}
		dir, err := helpers.SafeJoin(savePath, rec.DownloadFilePath)
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("Skipping record with an unsafe folder")
			continue
		}
		if folders {
			out = append(out, torrentSource{path: dir, fields: fields})
			continue
		}
		if rec.FileName == "" {
			log.WithFields(fields).Warn("Skipping record without a file name")
			continue
		}
		out = append(out, torrentSource{path: filepath.Join(dir, rec.FileName), fields: fields})
	}
	return out
}

// generateTorrentFile creates a .torrent file for sourcePath (file or directory)
// and optionally a text file holding its magnet link.
func generateTorrentFile(sourcePath string, trackers []string, outputDir string, overwrite bool, generateMagnetLinks bool) error {
	stat, err := os.Stat(sourcePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("source path does not exist: %s", sourcePath)
	} else if err != nil {
		return fmt.Errorf("error stating source path %s: %w", sourcePath, err)
	}

	baseName := filepath.Base(sourcePath)
	if !stat.IsDir() {
		baseName = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	}
	torrentFileName := baseName + ".torrent"

	var outPath string
	switch {
	case outputDir != "":
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("error creating output directory %s: %w", outputDir, err)
		}
		outPath = filepath.Join(outputDir, torrentFileName)
	case stat.IsDir():
		outPath = filepath.Join(sourcePath, torrentFileName)
	default:
		outPath = filepath.Join(filepath.Dir(sourcePath), torrentFileName)
	}

	if _, err := os.Stat(outPath); err == nil {
		if !overwrite {
			log.WithField("path", outPath).Info("Skipping existing torrent file (use --overwrite to replace)")
			return nil
		}
		log.WithField("path", outPath).Warn("Overwriting existing torrent file")
	}

	mi := metainfo.MetaInfo{
		AnnounceList: make([][]string, len(trackers)),
	}
	for i, tracker := range trackers {
		mi.AnnounceList[i] = []string{tracker}
	}
	if len(trackers) > 0 {
		mi.Announce = trackers[0]
	}
	mi.CreatedBy = "civitai-companion"

	const pieceLength = 512 * 1024
	info := metainfo.Info{PieceLength: pieceLength}
	if err := info.BuildFromFilePath(sourcePath); err != nil {
		return fmt.Errorf("error building torrent info from path %s: %w", sourcePath, err)
	}
	mi.InfoBytes, err = bencode.Marshal(info)
	if err != nil {
		return fmt.Errorf("error marshaling torrent info: %w", err)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("error creating torrent file %s: %w", outPath, err)
	}
	defer f.Close()
	if err := mi.Write(f); err != nil {
		return fmt.Errorf("error writing torrent file %s: %w", outPath, err)
	}
	log.WithFields(log.Fields{"path": outPath, "size": humanize.Bytes(uint64(info.TotalLength()))}).Info("Generated torrent file")

	if generateMagnetLinks {
		magnetURI := magnetLink(mi.HashInfoBytes(), stat.Name(), trackers)
		magnetOutPath := filepath.Join(filepath.Dir(outPath), strings.TrimSuffix(filepath.Base(outPath), ".torrent")+"-magnet.txt")
		if err := os.WriteFile(magnetOutPath, []byte(magnetURI), 0644); err != nil {
			log.WithError(err).WithField("path", magnetOutPath).Error("Failed to write magnet link file")
		} else {
			log.WithField("path", magnetOutPath).Info("Generated magnet link file")
		}
	}
	return nil
}

func magnetLink(infoHash metainfo.Hash, displayName string, trackers []string) string {
	parts := []string{
		"magnet:?xt=urn:btih:" + infoHash.HexString(),
		"dn=" + url.QueryEscape(displayName),
	}
	for _, tracker := range trackers {
		parts = append(parts, "tr="+url.QueryEscape(tracker))
	}
	return strings.Join(parts, "&")
}
