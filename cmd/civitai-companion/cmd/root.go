package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-civitai-companion/internal/api"
	"go-civitai-companion/internal/backend"
	"go-civitai-companion/internal/config"
	"go-civitai-companion/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// savePathFlag holds the value of the --save-path flag
var savePathFlag string

// backendUrlFlag holds the value of the --backend-url flag
var backendUrlFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "civitai-companion",
	Short: "Batch-save Civitai models and keep track of them",
	Long: `Civitai Companion queues model pages, downloads their files into
categorised folders, bookmarks them and records them in a local database.
Run 'civitai-companion serve' to start the companion server the other commands talk to.`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		api.CloseAllLoggingTransports()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&savePathFlag, "save-path", "", "Directory to save models (overrides config)")
	rootCmd.PersistentFlags().StringVar(&backendUrlFlag, "backend-url", "", "Companion server URL (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for API HTTP client in seconds (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text or json)")

	_ = viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logformat", rootCmd.PersistentFlags().Lookup("log-format"))

	// CIVITAI_API_KEY, CIVITAI_LOGLEVEL, ...
	viper.SetEnvPrefix("civitai")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("apikey")
}

// setupLogging applies the --log-level and --log-format settings.
func setupLogging() error {
	level, err := log.ParseLevel(viper.GetString("loglevel"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	switch strings.ToLower(viper.GetString("logformat")) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", viper.GetString("logformat"))
	}
	return nil
}

// loadGlobalConfig attempts to load the configuration and applies flag overrides.
// It also sets up the global HTTP transport based on logging settings.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// Some commands (clean, category) work fine on defaults.
		log.WithError(err).Warnf("Failed to load configuration from %s, using defaults", cfgFile)
	}

	if cmd.Flags().Changed("log-api") {
		globalConfig.LogApiRequests = logApiFlag
		log.Debugf("Overriding LogApiRequests based on --log-api flag: %t", logApiFlag)
	}

	if cmd.Flags().Changed("save-path") {
		if savePathFlag != "" {
			config.SetSavePath(&globalConfig, savePathFlag)
			log.Debugf("Overriding SavePath based on --save-path flag: %s", savePathFlag)
		} else {
			log.Warn("--save-path flag provided but value is empty, ignoring.")
		}
	}

	if cmd.Flags().Changed("backend-url") && backendUrlFlag != "" {
		globalConfig.BackendUrl = backendUrlFlag
		log.Debugf("Overriding BackendUrl based on --backend-url flag: %s", backendUrlFlag)
	}

	if cmd.Flags().Changed("api-timeout") {
		if apiTimeoutFlag > 0 {
			globalConfig.ApiClientTimeoutSec = apiTimeoutFlag
			log.Debugf("Overriding ApiClientTimeoutSec based on --api-timeout flag: %d sec", apiTimeoutFlag)
		} else {
			log.Warnf("--api-timeout flag provided with invalid value %d, using config value: %d sec", apiTimeoutFlag, globalConfig.ApiClientTimeoutSec)
		}
	}

	if key := viper.GetString("apikey"); key != "" && globalConfig.ApiKey == "" {
		globalConfig.ApiKey = key
		log.Debug("Using API key from CIVITAI_APIKEY")
	}

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogApiRequests {
		logFilePath := "api.log"
		if globalConfig.SavePath != "" {
			if _, statErr := os.Stat(globalConfig.SavePath); statErr == nil {
				logFilePath = filepath.Join(globalConfig.SavePath, logFilePath)
			} else {
				log.Warnf("SavePath '%s' not found, saving api.log to current directory.", globalConfig.SavePath)
			}
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}
	return nil
}

// httpClient returns a client on the global transport with the configured timeout.
// A zero timeout leaves the client unbounded, which downloads need.
func httpClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: globalHttpTransport, Timeout: timeout}
}

func apiTimeout() time.Duration {
	return time.Duration(globalConfig.ApiClientTimeoutSec) * time.Second
}

func newCatalogClient() *api.Client {
	return api.NewClient(globalConfig.CatalogBaseUrl, globalConfig.ApiKey, httpClient(apiTimeout()))
}

// newBackendClient talks to the companion server. Server downloads can take far
// longer than the API timeout, so the client itself is unbounded and callers
// pass contexts instead.
func newBackendClient() *backend.Client {
	return backend.NewClient(globalConfig.BackendUrl, httpClient(0))
}
