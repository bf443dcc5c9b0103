package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-civitai-companion/index"
	"go-civitai-companion/internal/batch"
	"go-civitai-companion/internal/database"
	"go-civitai-companion/internal/downloader"
	"go-civitai-companion/internal/helpers"
	"go-civitai-companion/internal/platform"
	"go-civitai-companion/internal/relay"
	"go-civitai-companion/internal/resolver"
	"go-civitai-companion/internal/server"
	"go-civitai-companion/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the companion server",
	Long: `Starts the companion server: the saved-model database and search index, the offline
queue and error list, server-side downloads into the save path, the relay that page
overlays connect to, and the server's own orchestrator window.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "Listen address (default: ListenAddr from config)")
	serveCmd.Flags().Bool("progress", false, "Show live progress of server batches on the terminal")
	serveCmd.Flags().Bool("reindex", false, "Rebuild the search index from the database before serving")
	serveCmd.Flags().Int("mailbox-size", 32, "Messages buffered per tab before new ones are dropped")
	_ = viper.BindPFlag("serve.listen", serveCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("serve.progress", serveCmd.Flags().Lookup("progress"))
	_ = viper.BindPFlag("serve.reindex", serveCmd.Flags().Lookup("reindex"))
	_ = viper.BindPFlag("serve.mailboxsize", serveCmd.Flags().Lookup("mailbox-size"))
}

func runServe(cmd *cobra.Command, args []string) error {
	if !helpers.CheckAndMakeDir(globalConfig.SavePath) {
		return fmt.Errorf("could not create save path %s", globalConfig.SavePath)
	}

	st, err := store.Open(globalConfig.BackendDatabasePath)
	if err != nil {
		return fmt.Errorf("error opening backend database: %w", err)
	}
	defer st.Close()

	reindex := viper.GetBool("serve.reindex")
	if reindex {
		if err := index.DeleteIndex(globalConfig.BleveIndexPath); err != nil {
			return fmt.Errorf("error deleting search index: %w", err)
		}
	}
	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		log.WithError(err).Errorf("Failed to open search index at %s, search disabled", globalConfig.BleveIndexPath)
	} else {
		defer idx.Close()
	}

	db, err := database.Open(globalConfig.ServerDatabasePath)
	if err != nil {
		return fmt.Errorf("error opening database at %s: %w", globalConfig.ServerDatabasePath, err)
	}
	defer db.Close()

	hub := relay.NewHub(viper.GetInt("serve.mailboxsize"))
	dl := downloader.NewDownloader(httpClient(0), globalConfig.ApiKey)

	var progress batch.Progress
	if viper.GetBool("serve.progress") {
		progress = batch.NewLiveProgress(os.Stdout)
	}

	deps := server.Deps{
		Store:      st,
		Index:      idx,
		Hub:        hub,
		Platform:   platform.NewLocal(db, hub, dl, globalConfig.SavePath),
		Downloader: dl,
		Catalog:    newCatalogClient(),
		Progress:   progress,
		Resolver:   resolver.FromConfig(globalConfig.Categories, globalConfig.CategoryRules),
		Config:     globalConfig,
	}
	srv := server.New(deps)
	if reindex && idx != nil {
		n, err := srv.Reindex(cmd.Context())
		if err != nil {
			return fmt.Errorf("error rebuilding search index: %w", err)
		}
		log.Infof("Rebuilt search index with %d record(s)", n)
	}

	addr := viper.GetString("serve.listen")
	if addr == "" {
		addr = globalConfig.ListenAddr
	}

	ctx, stop := signalContext()
	defer stop()

	log.WithFields(log.Fields{
		"savePath": globalConfig.SavePath,
		"database": globalConfig.BackendDatabasePath,
		"index":    globalConfig.BleveIndexPath,
	}).Info("Starting companion server")
	return srv.ListenAndServe(ctx, addr)
}
