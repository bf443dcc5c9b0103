package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-civitai-companion/internal/backend"
	"go-civitai-companion/internal/helpers"
	"go-civitai-companion/internal/models"
)

// dbCmd represents the base command for database operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the saved-model database",
	Long:  `View, search, check and verify the models recorded on the companion server.`,
}

var dbViewCmd = &cobra.Command{
	Use:   "view [MODEL_ID]",
	Short: "View saved records, optionally of one model",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelID := ""
		if len(args) == 1 {
			modelID = args[0]
		}
		recs, err := newBackendClient().FindRecords(cmd.Context(), modelID)
		if err != nil {
			return err
		}
		printRecords(os.Stdout, recs)
		log.Infof("Displayed %d entries.", len(recs))
		return nil
	},
}

var dbSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Full-text search over saved records",
	Long: `Searches the server's record index. Plain words match names, creators and tags;
field queries such as '+tags:anime' or '+modelType:LORA' narrow the search.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := newBackendClient().SearchRecords(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		printRecords(os.Stdout, recs)
		log.Infof("Found %d matching entries.", len(recs))
		return nil
	},
}

var dbCheckCmd = &cobra.Command{
	Use:   "check URL...",
	Short: "Report whether model pages are already saved",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printURLChecks(cmd.Context(), os.Stdout, args, "Saved", newBackendClient().CheckURLInDatabase)
	},
}

var dbCartCmd = &cobra.Command{
	Use:   "cart URL...",
	Short: "Report whether model pages are in the offline queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printURLChecks(cmd.Context(), os.Stdout, args, "In Queue", newBackendClient().CheckCart)
	},
}

var dbRemoveCmd = &cobra.Command{
	Use:   "remove MODEL_ID VERSION_ID",
	Short: "Remove a saved record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newBackendClient().RemoveRecord(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		log.Infof("Removed record %s/%s", args[0], args[1])
		return nil
	},
}

var dbVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every saved record's file exists under the save path",
	Args:  cobra.NoArgs,
	RunE:  runDbVerify,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbViewCmd, dbSearchCmd, dbCheckCmd, dbCartCmd, dbRemoveCmd, dbVerifyCmd)

	for _, l := range []struct {
		name  string
		short string
		list  func(*backend.Client, context.Context) ([]string, error)
	}{
		{"folders", "List the distinct download folders", (*backend.Client).ListFolders},
		{"categories", "List the distinct categories", (*backend.Client).ListCategories},
		{"tags", "List the distinct tags", (*backend.Client).ListTags},
	} {
		list := l.list
		dbCmd.AddCommand(&cobra.Command{
			Use:   l.name,
			Short: l.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				values, err := list(newBackendClient(), cmd.Context())
				if err != nil {
					return err
				}
				for _, v := range values {
					fmt.Println(v)
				}
				return nil
			},
		})
	}
}

func printRecords(w io.Writer, recs []models.ModelRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Model Name\tVersion Name\tFilename\tFolder\tCategory\tType\tBase Model\tCreator\tSaved\tIDs")
	fmt.Fprintln(tw, "----------\t------------\t--------\t------\t--------\t----\t----------\t-------\t-----\t---")
	for _, r := range recs {
		saved := ""
		if !r.CreatedAt.IsZero() {
			saved = humanize.Time(r.CreatedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s/%s\n",
			r.Name, r.VersionName, r.FileName, r.DownloadFilePath, r.SelectedCategory,
			r.ModelType, r.BaseModel, r.Creator, saved, r.CivitaiModelID, r.CivitaiVersionID)
	}
	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing table writer for db view")
	}
}

func printURLChecks(ctx context.Context, w io.Writer, urls []string, column string, check func(context.Context, string) (bool, error)) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "URL\t%s\n", column)
	for _, u := range urls {
		ok, err := check(ctx, u)
		if err != nil {
			return fmt.Errorf("checking %s: %w", u, err)
		}
		fmt.Fprintf(tw, "%s\t%t\n", u, ok)
	}
	return tw.Flush()
}

func runDbVerify(cmd *cobra.Command, args []string) error {
	log.Info("Verifying database entries against filesystem...")
	if globalConfig.SavePath == "" {
		return fmt.Errorf("save path is not configured (--save-path or config file)")
	}

	recs, err := newBackendClient().FindRecords(cmd.Context(), "")
	if err != nil {
		return err
	}

	var found, missing int
	var totalSize uint64
	for _, r := range recs {
		logger := log.WithFields(log.Fields{"model": r.CivitaiModelID, "version": r.CivitaiVersionID})
		dir, err := helpers.SafeJoin(globalConfig.SavePath, r.DownloadFilePath)
		if err != nil {
			logger.WithError(err).Error("[INVALID] Record folder escapes the save path")
			missing++
			continue
		}
		path := filepath.Join(dir, r.FileName)
		info, err := os.Stat(path)
		switch {
		case err == nil:
			found++
			totalSize += uint64(info.Size())
			logger.WithField("path", path).Infof("[OK] %s", humanize.Bytes(uint64(info.Size())))
		case os.IsNotExist(err):
			missing++
			logger.WithField("path", path).Error("[MISSING] File not found.")
		default:
			missing++
			logger.WithError(err).Errorf("[ERROR] Could not check file status for %s", path)
		}
	}

	log.Infof("Verification complete. Entries: %d, Found: %d (%s), Missing: %d",
		len(recs), found, humanize.Bytes(totalSize), missing)
	if missing > 0 {
		return fmt.Errorf("%d record(s) have no file on disk", missing)
	}
	return nil
}
