package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-civitai-companion/internal/server"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Control the companion server's window",
	Long: `The server runs its own orchestrator window that page overlays connect to. These
commands read its pending list, ask the origin tab for its checked URLs, and start or
cancel a batch there.`,
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the pending list and the last batch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var state server.SessionState
		if err := newBackendClient().Do(cmd.Context(), http.MethodGet, "/api/session", nil, &state); err != nil {
			return err
		}
		fmt.Printf("Running:    %t\n", state.Running)
		if state.OriginTab > 0 {
			fmt.Printf("Origin tab: %d\n", state.OriginTab)
		}
		fmt.Printf("Pending:    %d URL(s)\n", len(state.Pending))
		for _, u := range state.Pending {
			fmt.Println("  " + u)
		}
		if state.LastRun != nil {
			fmt.Printf("\nLast batch finished %s", humanize.Time(state.LastRun.Ended))
			if state.LastRun.Error != "" {
				fmt.Printf(" with error: %s", state.LastRun.Error)
			}
			fmt.Println()
			printSummary(os.Stdout, state.LastRun.Summary)
		}
		return nil
	},
}

var sessionOriginCmd = &cobra.Command{
	Use:   "origin TAB_ID",
	Short: "Set the tab the session reports to (clears the pending list when it changes)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid tab id %q", args[0])
		}
		body := map[string]int{"tabId": id}
		return newBackendClient().Do(cmd.Context(), http.MethodPut, "/api/session/origin", body, nil)
	},
}

var sessionCheckCmd = &cobra.Command{
	Use:   "check [URL...]",
	Short: "Add URLs to the pending list, or ask the origin tab for its checked URLs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newBackendClient()
		if len(args) == 0 {
			if err := client.Do(cmd.Context(), http.MethodPost, "/api/session/check", map[string]interface{}{}, nil); err != nil {
				return err
			}
			log.Info("Asked the origin tab for its checked URLs")
			return nil
		}
		var out struct {
			Saved   []string `json:"saved"`
			Pending int      `json:"pending"`
		}
		body := map[string][]string{"urls": args}
		if err := client.Do(cmd.Context(), http.MethodPost, "/api/session/check", body, &out); err != nil {
			return err
		}
		for _, u := range out.Saved {
			log.WithField("url", u).Info("Already saved, dropped from pending")
		}
		log.Infof("%d URL(s) pending", out.Pending)
		return nil
	},
}

var sessionDisplayCmd = &cobra.Command{
	Use:   "display on|off",
	Short: "Show or hide the checkboxes in the origin tab",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var show bool
		switch args[0] {
		case "on", "true", "show":
			show = true
		case "off", "false", "hide":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		return newBackendClient().Do(cmd.Context(), http.MethodPost, "/api/session/display", map[string]bool{"display": show}, nil)
	},
}

var sessionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the server's pending list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := readBatchFlags("session")
		req := server.RunRequest{
			DownloadFilePath: flags.path,
			SelectedCategory: flags.category,
			Method:           flags.method,
			OfflineQueue:     flags.offlineQueue,
			Wait:             viper.GetBool("session.wait"),
		}
		if flags.delayMs >= 0 {
			req.DelayMs = flags.delayMs
		}

		ctx, stop := signalContext()
		defer stop()

		if !req.Wait {
			if err := newBackendClient().Do(ctx, http.MethodPost, "/api/session/run", req, nil); err != nil {
				return err
			}
			log.Info("Batch started on the server; follow it with 'session status'")
			return nil
		}

		var res server.RunResult
		if err := newBackendClient().Do(ctx, http.MethodPost, "/api/session/run", req, &res); err != nil {
			return err
		}
		printSummary(os.Stdout, res.Summary)
		if res.Error != "" {
			return errors.New(res.Error)
		}
		return nil
	},
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Stop the server's running batch after the current item",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return newBackendClient().Do(cmd.Context(), http.MethodPost, "/api/session/cancel", nil, nil)
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionStatusCmd, sessionOriginCmd, sessionCheckCmd, sessionDisplayCmd, sessionRunCmd, sessionCancelCmd)

	addBatchFlags(sessionRunCmd, "session")
	sessionRunCmd.Flags().Bool("offline-queue", false, "Add the items to the offline queue instead of downloading")
	sessionRunCmd.Flags().Bool("wait", false, "Wait for the batch to finish and print its summary")
	_ = viper.BindPFlag("session.offlinequeue", sessionRunCmd.Flags().Lookup("offline-queue"))
	_ = viper.BindPFlag("session.wait", sessionRunCmd.Flags().Lookup("wait"))
}
