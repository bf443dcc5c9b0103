package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-civitai-companion/internal/models"
	"go-civitai-companion/internal/platform"
)

var bookmarksCmd = &cobra.Command{
	Use:   "bookmarks",
	Short: "Browse the bookmarks created for saved models",
	Long: `Every saved model is bookmarked in a folder named after its type. By default these
commands read the CLI window's bookmarks; --server reads the companion server's.`,
}

var bookmarksListCmd = &cobra.Command{
	Use:   "list [FOLDER]",
	Short: "List bookmarks, optionally of one folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder := ""
		if len(args) == 1 {
			folder = args[0]
		}
		return showBookmarks(cmd.Context(), "folder", folder, func(b platform.Bookmarks) ([]models.Bookmark, error) {
			return b.List(folder)
		})
	},
}

var bookmarksFindCmd = &cobra.Command{
	Use:   "find QUERY",
	Short: "Fuzzy-search bookmark titles, or match a URL exactly with --url",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("bookmarks.url") {
			return showBookmarks(cmd.Context(), "url", args[0], func(b platform.Bookmarks) ([]models.Bookmark, error) {
				return b.FindByURL(args[0])
			})
		}
		return showBookmarks(cmd.Context(), "q", args[0], func(b platform.Bookmarks) ([]models.Bookmark, error) {
			return b.Search(args[0])
		})
	},
}

var bookmarksRemoveCmd = &cobra.Command{
	Use:   "remove ID...",
	Short: "Remove bookmarks by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("bookmarks.server") {
			client := newBackendClient()
			for _, id := range args {
				if err := client.Do(cmd.Context(), http.MethodDelete, "/api/bookmarks/"+url.PathEscape(id), nil, nil); err != nil {
					return fmt.Errorf("removing bookmark %s: %w", id, err)
				}
				log.Infof("Removed bookmark %s", id)
			}
			return nil
		}

		win, err := openWindow()
		if err != nil {
			return err
		}
		defer win.Close()
		for _, id := range args {
			if err := win.platform.Bookmarks().Remove(id); err != nil {
				return err
			}
			log.Infof("Removed bookmark %s", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bookmarksCmd)
	bookmarksCmd.AddCommand(bookmarksListCmd, bookmarksFindCmd, bookmarksRemoveCmd)

	bookmarksCmd.PersistentFlags().Bool("server", false, "Use the companion server's bookmarks")
	bookmarksFindCmd.Flags().Bool("url", false, "Match bookmarks whose URL equals QUERY")
	_ = viper.BindPFlag("bookmarks.server", bookmarksCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("bookmarks.url", bookmarksFindCmd.Flags().Lookup("url"))
}

// showBookmarks prints the bookmarks local finds, or asks the server with
// ?param=value when --server is set.
func showBookmarks(ctx context.Context, param, value string, local func(platform.Bookmarks) ([]models.Bookmark, error)) error {
	var list []models.Bookmark
	if viper.GetBool("bookmarks.server") {
		path := "/api/bookmarks"
		if value != "" {
			path += "?" + url.Values{param: {value}}.Encode()
		}
		if err := newBackendClient().Do(ctx, http.MethodGet, path, nil, &list); err != nil {
			return err
		}
	} else {
		win, err := openWindow()
		if err != nil {
			return err
		}
		defer win.Close()
		if list, err = local(win.platform.Bookmarks()); err != nil {
			return err
		}
	}
	printBookmarks(os.Stdout, list)
	log.Infof("Displayed %d bookmarks.", len(list))
	return nil
}

func printBookmarks(w io.Writer, list []models.Bookmark) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Folder\tTitle\tURL\tCreated\tID")
	fmt.Fprintln(tw, "------\t-----\t---\t-------\t--")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.FolderID, b.Title, b.URL, humanize.Time(b.Created), b.ID)
	}
	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing table writer for bookmarks")
	}
}
