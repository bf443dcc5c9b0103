package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-civitai-companion/internal/models"
	"go-civitai-companion/internal/server"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the offline queue on the companion server",
	Long: `The offline queue holds model versions saved for a later download.
'queue run' drains it: every entry not on hold is downloaded, recorded and removed;
entries that fail land in the error list.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued model versions",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueAddCmd = &cobra.Command{
	Use:   "add MODEL_ID VERSION_ID",
	Short: "Queue a model version",
	Args:  cobra.ExactArgs(2),
	RunE:  runQueueAdd,
}

var queueReplaceCmd = &cobra.Command{
	Use:   "replace MODEL_ID VERSION_ID",
	Short: "Replace a queued entry (folder, category, tags, hold, priority)",
	Args:  cobra.ExactArgs(2),
	RunE:  runQueueReplace,
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove MODEL_ID VERSION_ID",
	Short: "Remove a model version from the queue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newBackendClient().RemoveOfflineQueue(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		log.Infof("Removed %s/%s from the offline queue", args[0], args[1])
		return nil
	},
}

var queueRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Download every queued entry that is not on hold",
	Long: `Drains the offline queue in this process, showing live progress. With --remote the
companion server runs the queue in its own window instead.`,
	Args: cobra.NoArgs,
	RunE: runQueueRun,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd, queueAddCmd, queueReplaceCmd, queueRemoveCmd, queueRunCmd)

	for _, c := range []*cobra.Command{queueAddCmd, queueReplaceCmd} {
		c.Flags().StringP("path", "p", "", "Download folder relative to the save path")
		c.Flags().String("category", "", "Category (default: resolved from --path)")
		c.Flags().StringSlice("tags", nil, "Tags to store with the entry")
		c.Flags().String("file-name", "", "Expected file name")
		c.Flags().Bool("hold", false, "Keep the entry out of 'queue run'")
		c.Flags().Int("priority", 0, "Download priority")
	}

	queueRunCmd.Flags().String("method", "", "Download method: server or browser (default: DownloadMethod from config)")
	queueRunCmd.Flags().Int("delay", -1, "Delay between items in ms (-1 uses BatchDelayMs from config)")
	queueRunCmd.Flags().Bool("remote", false, "Run the queue on the companion server")
	_ = viper.BindPFlag("queue.method", queueRunCmd.Flags().Lookup("method"))
	_ = viper.BindPFlag("queue.delay", queueRunCmd.Flags().Lookup("delay"))
	_ = viper.BindPFlag("queue.remote", queueRunCmd.Flags().Lookup("remote"))
}

func runQueueList(cmd *cobra.Command, args []string) error {
	entries, err := newBackendClient().ListOfflineQueue(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Model ID\tVersion ID\tFolder\tCategory\tHold\tPriority\tTags")
	fmt.Fprintln(tw, "--------\t----------\t------\t--------\t----\t--------\t----")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
			e.CivitaiModelID, e.CivitaiVersionID, e.DownloadFilePath, e.SelectedCategory,
			e.Hold, e.DownloadPriority, strings.Join(e.CivitaiTags, ", "))
	}
	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing table writer for queue list")
	}
	log.Infof("Displayed %d queue entries.", len(entries))
	return nil
}

// queueEntryFromFlags builds an entry for add and replace.
func queueEntryFromFlags(cmd *cobra.Command, modelID, versionID string) models.OfflineQueueEntry {
	path, _ := cmd.Flags().GetString("path")
	category, _ := cmd.Flags().GetString("category")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	fileName, _ := cmd.Flags().GetString("file-name")
	hold, _ := cmd.Flags().GetBool("hold")
	priority, _ := cmd.Flags().GetInt("priority")

	if category == "" {
		category = (batchFlags{path: path}).options().SelectedCategory
	}
	return models.OfflineQueueEntry{
		CivitaiModelID:   modelID,
		CivitaiVersionID: versionID,
		CivitaiFileName:  fileName,
		DownloadFilePath: path,
		SelectedCategory: category,
		CivitaiTags:      tags,
		Hold:             hold,
		DownloadPriority: priority,
	}
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	e := queueEntryFromFlags(cmd, args[0], args[1])
	if e.DownloadFilePath == "" {
		return fmt.Errorf("Empty Inputs: --path is required")
	}
	if err := newBackendClient().AddOfflineQueue(cmd.Context(), e); err != nil {
		return err
	}
	log.WithFields(log.Fields{"path": e.DownloadFilePath, "category": e.SelectedCategory}).
		Infof("Queued %s/%s", e.CivitaiModelID, e.CivitaiVersionID)
	return nil
}

func runQueueReplace(cmd *cobra.Command, args []string) error {
	e := queueEntryFromFlags(cmd, args[0], args[1])
	if err := newBackendClient().ReplaceOfflineQueue(cmd.Context(), e); err != nil {
		return err
	}
	log.Infof("Replaced queue entry %s/%s", e.CivitaiModelID, e.CivitaiVersionID)
	return nil
}

func runQueueRun(cmd *cobra.Command, args []string) error {
	flags := batchFlags{
		method:  viper.GetString("queue.method"),
		delayMs: viper.GetInt("queue.delay"),
	}
	ctx, stop := signalContext()
	defer stop()

	if viper.GetBool("queue.remote") {
		return runQueueRemote(ctx, flags)
	}

	win, err := openWindow()
	if err != nil {
		return err
	}
	defer win.Close()

	summary, err := win.orch.RunQueue(ctx, flags.options())
	printSummary(os.Stdout, summary)
	return err
}

// runQueueRemote waits for the server to drain its queue.
func runQueueRemote(ctx context.Context, flags batchFlags) error {
	opts := flags.options()
	req := server.RunRequest{
		Method:  opts.Method,
		DelayMs: int(opts.Delay.Milliseconds()),
		Queue:   true,
		Wait:    true,
	}
	var res server.RunResult
	if err := newBackendClient().Do(ctx, http.MethodPost, "/api/session/run", req, &res); err != nil {
		return err
	}
	printSummary(os.Stdout, res.Summary)
	if res.Error != "" {
		return fmt.Errorf("queue run failed: %s", res.Error)
	}
	return nil
}
