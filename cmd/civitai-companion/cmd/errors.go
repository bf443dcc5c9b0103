package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Inspect the list of queued downloads that failed",
	Long: `Entries are keyed "{modelID}_{versionID}_{name}". Removing an entry forgets the
failure; 'remove-both' also drops the version from the offline queue.`,
}

var errorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List failed downloads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := newBackendClient().ListErrors(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "Model ID\tVersion ID\tName\tKey")
		fmt.Fprintln(tw, "--------\t----------\t----\t---")
		for _, key := range keys {
			parts := strings.SplitN(key, "_", 3)
			for len(parts) < 3 {
				parts = append(parts, "")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", parts[0], parts[1], parts[2], key)
		}
		if err := tw.Flush(); err != nil {
			log.WithError(err).Error("Error flushing table writer for error list")
		}
		log.Infof("Displayed %d error entries.", len(keys))
		return nil
	},
}

var errorsRemoveCmd = &cobra.Command{
	Use:   "remove KEY...",
	Short: "Forget failed downloads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newBackendClient()
		for _, key := range args {
			if err := client.RemoveError(cmd.Context(), key); err != nil {
				return fmt.Errorf("removing %s: %w", key, err)
			}
			log.Infof("Removed error entry %s", key)
		}
		return nil
	},
}

var errorsRemoveBothCmd = &cobra.Command{
	Use:   "remove-both KEY...",
	Short: "Forget failed downloads and drop them from the offline queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newBackendClient()
		for _, key := range args {
			if err := client.RemoveErrorAndQueue(cmd.Context(), key); err != nil {
				return fmt.Errorf("removing %s: %w", key, err)
			}
			log.Infof("Removed error entry and queue entry for %s", key)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(errorsCmd)
	errorsCmd.AddCommand(errorsListCmd, errorsRemoveCmd, errorsRemoveBothCmd)
}
