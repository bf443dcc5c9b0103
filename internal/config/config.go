package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go-civitai-companion/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultCatalogBaseUrl = "https://civitai.com"
	DefaultBackendUrl     = "http://127.0.0.1:3000"
	DefaultListenAddr     = "127.0.0.1:3000"
	DefaultBatchDelayMs   = 2000
	DefaultTimeoutSec     = 60
)

// DefaultCategories are the folder prefixes the category resolver knows about
// when the config does not list any.
var DefaultCategories = []string{
	"ACG", "Art", "Artist", "Character", "Type Character", "Clothing", "Concept",
	"Pose", "Style", "Background", "Vehicle", "Building", "OTK",
}

// DefaultCategoryRules lists path overrides, highest priority first.
var DefaultCategoryRules = []models.CategoryRule{
	{Contains: "OTK", Category: "OTK"},
	{Contains: "Graphic Element/", Category: "Art"},
	{Contains: "Type", Category: "Type Character"},
}

// LoadConfig reads the configuration from the specified path (defaulting to "config.toml")
// and fills in defaults for anything the file leaves unset.
// A missing file is not an error: defaults are returned together with os.ErrNotExist
// wrapped so callers can decide whether that matters.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}
	cfg := models.Config{BatchDelayMs: DefaultBatchDelayMs}
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		cfg = models.Config{BatchDelayMs: DefaultBatchDelayMs}
		ApplyDefaults(&cfg)
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config file %s not found: %w", configFilePath, err)
		}
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return models.Config{}, err
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields. BatchDelayMs = 0 means no delay, so
// only a negative delay is replaced; LoadConfig presets the default before decoding.
func ApplyDefaults(cfg *models.Config) {
	if cfg.CatalogBaseUrl == "" {
		cfg.CatalogBaseUrl = DefaultCatalogBaseUrl
	}
	if cfg.BackendUrl == "" {
		cfg.BackendUrl = DefaultBackendUrl
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.DownloadMethod == "" {
		cfg.DownloadMethod = models.MethodServer
	}
	if cfg.BatchDelayMs < 0 {
		cfg.BatchDelayMs = DefaultBatchDelayMs
	}
	if cfg.ApiClientTimeoutSec <= 0 {
		cfg.ApiClientTimeoutSec = DefaultTimeoutSec
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = append([]string(nil), DefaultCategories...)
	}
	if len(cfg.CategoryRules) == 0 {
		cfg.CategoryRules = append([]models.CategoryRule(nil), DefaultCategoryRules...)
	}
	if cfg.SavePath == "" {
		log.Warn("Warning: SavePath is not set, using ./downloads")
		cfg.SavePath = "downloads"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.SavePath, "companion_db")
	}
	if cfg.ServerDatabasePath == "" {
		cfg.ServerDatabasePath = filepath.Join(cfg.SavePath, "server_db")
	}
	if cfg.BackendDatabasePath == "" {
		cfg.BackendDatabasePath = filepath.Join(cfg.SavePath, "backend.sqlite")
	}
	if cfg.BleveIndexPath == "" {
		cfg.BleveIndexPath = filepath.Join(cfg.SavePath, "records.bleve")
	}
}

// SetSavePath moves SavePath and every derived path still at its default
// location under the old SavePath.
func SetSavePath(cfg *models.Config, savePath string) {
	old := cfg.SavePath
	cfg.SavePath = savePath
	for _, p := range []struct {
		field *string
		name  string
	}{
		{&cfg.DatabasePath, "companion_db"},
		{&cfg.ServerDatabasePath, "server_db"},
		{&cfg.BackendDatabasePath, "backend.sqlite"},
		{&cfg.BleveIndexPath, "records.bleve"},
	} {
		if *p.field == "" || *p.field == filepath.Join(old, p.name) {
			*p.field = filepath.Join(savePath, p.name)
		}
	}
}

// Validate checks values that have no sensible default.
func Validate(cfg models.Config) error {
	switch cfg.DownloadMethod {
	case models.MethodServer, models.MethodBrowser:
	default:
		return fmt.Errorf("invalid DownloadMethod %q (want %q or %q)", cfg.DownloadMethod, models.MethodServer, models.MethodBrowser)
	}
	for i, rule := range cfg.CategoryRules {
		if rule.Contains == "" || rule.Category == "" {
			return fmt.Errorf("CategoryRules[%d] needs both Contains and Category", i)
		}
	}
	return nil
}
