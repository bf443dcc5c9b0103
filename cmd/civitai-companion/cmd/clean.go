package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolP("torrents", "t", false, "Also remove *.torrent files")
	cleanCmd.Flags().BoolP("magnets", "m", false, "Also remove *-magnet.txt files")
	cleanCmd.Flags().BoolP("dry-run", "n", false, "Only list what would be removed")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove partial downloads (.tmp files) from the save path",
	Long: `Recursively scans the configured SavePath and removes the .tmp files left behind by
interrupted downloads. Optionally removes *.torrent and *-magnet.txt files as well.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

// cleanSuffix reports which removable kind name is, or "" to keep it.
func cleanSuffix(name string, torrents, magnets bool) string {
	lowerName := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lowerName, ".tmp"):
		return ".tmp"
	case torrents && strings.HasSuffix(lowerName, ".torrent"):
		return ".torrent"
	case magnets && strings.HasSuffix(lowerName, "-magnet.txt"):
		return "-magnet.txt"
	}
	return ""
}

func runClean(cmd *cobra.Command, args []string) error {
	savePath := globalConfig.SavePath
	cleanTorrents, _ := cmd.Flags().GetBool("torrents")
	cleanMagnets, _ := cmd.Flags().GetBool("magnets")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if savePath == "" {
		return errors.New("SavePath is not configured; cannot determine where to clean")
	}
	info, err := os.Stat(savePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("SavePath directory does not exist: %s", savePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing SavePath %q: %w", savePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("SavePath is not a directory: %s", savePath)
	}

	logLine := fmt.Sprintf("Scanning for .tmp files in %s", savePath)
	if cleanTorrents {
		logLine += " (and *.torrent files)"
	}
	if cleanMagnets {
		logLine += " (and *-magnet.txt files)"
	}
	log.Info(logLine + "...")

	removed := make(map[string]int)
	var freed uint64
	var filesFailed int

	walkErr := filepath.Walk(savePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		fileType := cleanSuffix(info.Name(), cleanTorrents, cleanMagnets)
		if fileType == "" {
			return nil
		}
		if dryRun {
			log.Infof("Would remove %s file: %s", fileType, path)
			removed[fileType]++
			freed += uint64(info.Size())
			return nil
		}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				log.Warnf("Attempted to remove %s file %q, but it was already gone.", fileType, path)
			} else {
				log.Errorf("Failed to remove %s file %q: %v", fileType, path, err)
				filesFailed++
			}
			return nil
		}
		log.Infof("Removed %s file: %s", fileType, path)
		removed[fileType]++
		freed += uint64(info.Size())
		return nil
	})
	if walkErr != nil {
		log.Errorf("Error during directory walk of %q: %v", savePath, walkErr)
	}

	var summaryParts []string
	for _, kind := range []string{".tmp", ".torrent", "-magnet.txt"} {
		if removed[kind] > 0 {
			summaryParts = append(summaryParts, fmt.Sprintf("%d %s file(s)", removed[kind], kind))
		}
	}
	summary := "Clean complete. Removed: "
	if dryRun {
		summary = "Dry run complete. Would remove: "
	}
	if len(summaryParts) > 0 {
		summary += strings.Join(summaryParts, ", ") + fmt.Sprintf(" (%s)", humanize.Bytes(freed))
	} else {
		summary += "0 files"
	}
	if filesFailed > 0 {
		summary += fmt.Sprintf(". Failed to remove %d file(s).", filesFailed)
	}
	log.Info(summary)

	if filesFailed > 0 {
		return fmt.Errorf("failed to remove %d file(s)", filesFailed)
	}
	return walkErr
}
