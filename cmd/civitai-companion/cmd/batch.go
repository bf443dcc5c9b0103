package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-civitai-companion/internal/batch"
)

var batchCmd = &cobra.Command{
	Use:   "batch [URL...]",
	Short: "Save a list of model pages one at a time",
	Long: `Processes model page URLs in order: fetches the model from the catalog, downloads
the selected version (on the companion server or locally with --method browser),
records it in the database and bookmarks it. URLs can be given as arguments or read
from a file with --file. With --offline-queue the items are queued on the server
instead of downloaded.

A catalog failure stops the batch; the URLs that were not handled are printed.`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringP("file", "f", "", "Read URLs from a file, one per line ('#' starts a comment)")
	addBatchFlags(batchCmd, "batch")
	batchCmd.Flags().Bool("offline-queue", false, "Add the items to the offline queue instead of downloading")

	_ = viper.BindPFlag("batch.file", batchCmd.Flags().Lookup("file"))
	_ = viper.BindPFlag("batch.offlinequeue", batchCmd.Flags().Lookup("offline-queue"))
}

// addBatchFlags defines the run flags and binds them under prefix.
func addBatchFlags(c *cobra.Command, prefix string) {
	c.Flags().StringP("path", "p", "", "Download folder relative to the save path (default: DownloadFilePath from config)")
	c.Flags().String("category", "", "Category to record (default: resolved from --path)")
	c.Flags().String("method", "", "Download method: server or browser (default: DownloadMethod from config)")
	c.Flags().Int("delay", -1, "Delay between items in ms (-1 uses BatchDelayMs from config)")

	_ = viper.BindPFlag(prefix+".path", c.Flags().Lookup("path"))
	_ = viper.BindPFlag(prefix+".category", c.Flags().Lookup("category"))
	_ = viper.BindPFlag(prefix+".method", c.Flags().Lookup("method"))
	_ = viper.BindPFlag(prefix+".delay", c.Flags().Lookup("delay"))
}

func readBatchFlags(prefix string) batchFlags {
	return batchFlags{
		path:         viper.GetString(prefix + ".path"),
		category:     viper.GetString(prefix + ".category"),
		method:       viper.GetString(prefix + ".method"),
		delayMs:      viper.GetInt(prefix + ".delay"),
		offlineQueue: viper.GetBool(prefix + ".offlinequeue"),
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	urls := append([]string(nil), args...)
	if file := viper.GetString("batch.file"); file != "" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("error opening URL file: %w", err)
		}
		fromFile, err := readURLs(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("error reading URL file %s: %w", file, err)
		}
		urls = append(urls, fromFile...)
	}

	pending := batch.NewPendingList(urls...)
	if pending.Len() == 0 {
		return errors.New("no URLs given (pass them as arguments or with --file)")
	}

	opts := readBatchFlags("batch").options()
	opts.Pending = pending
	log.WithFields(log.Fields{
		"path":     opts.DownloadFilePath,
		"category": opts.SelectedCategory,
		"method":   opts.Method,
		"policy":   opts.Policy.String(),
	}).Infof("Starting batch of %d URL(s)", pending.Len())

	win, err := openWindow()
	if err != nil {
		return err
	}
	defer win.Close()

	ctx, stop := signalContext()
	defer stop()

	summary, runErr := win.orch.Run(ctx, pending.Snapshot(), opts)
	printSummary(os.Stdout, summary)
	if runErr != nil {
		return runErr
	}
	if summary.Stopped {
		return fmt.Errorf("batch stopped: %s", summary.StopReason)
	}
	return nil
}

// readURLs returns the non-empty, non-comment lines of r.
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func printSummary(w io.Writer, s batch.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Total\tProcessed\tSkipped\tFailed\tStopped")
	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%t\n", s.Total, s.Processed, s.Skipped, s.Failed, s.Stopped)
	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing table writer for batch summary")
	}
	if len(s.Remaining) > 0 {
		fmt.Fprintf(w, "\n%d URL(s) still pending:\n", len(s.Remaining))
		for _, u := range s.Remaining {
			fmt.Fprintln(w, "  "+u)
		}
	}
}
