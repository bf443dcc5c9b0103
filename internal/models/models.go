package models

import (
	"fmt"
	"strings"
	"time"
)

type (
	Config struct {
		// Connection/Auth
		ApiKey         string `toml:"ApiKey"`
		CatalogBaseUrl string `toml:"CatalogBaseUrl"` // Defaults to https://civitai.com
		BackendUrl     string `toml:"BackendUrl"`     // Companion server used for the SQL API and server downloads

		// Paths
		SavePath            string `toml:"SavePath"`            // Root for server and browser downloads
		DatabasePath        string `toml:"DatabasePath"`        // Bitcask store for the CLI window's bookmarks and settings
		ServerDatabasePath  string `toml:"ServerDatabasePath"`  // Bitcask store for the server window's bookmarks and settings
		BackendDatabasePath string `toml:"BackendDatabasePath"` // SQLite file used by 'serve'
		BleveIndexPath      string `toml:"BleveIndexPath"`

		// Categories and folders
		Categories      []string          `toml:"Categories"`
		CategoryRules   []CategoryRule    `toml:"CategoryRules"`   // Highest priority first
		BookmarkFolders map[string]string `toml:"BookmarkFolders"` // Model type -> bookmark folder

		// Batch behaviour
		DownloadMethod   string `toml:"DownloadMethod"` // "server" or "browser"
		DownloadFilePath string `toml:"DownloadFilePath"`
		SelectedCategory string `toml:"SelectedCategory"`
		BatchDelayMs     int    `toml:"BatchDelayMs"`

		// HTTP
		ApiClientTimeoutSec int    `toml:"ApiClientTimeoutSec"`
		ListenAddr          string `toml:"ListenAddr"`

		// Other
		LogApiRequests bool `toml:"LogApiRequests"`
	}

	// CategoryRule forces Category whenever Contains appears in a download path.
	CategoryRule struct {
		Contains string `toml:"Contains"`
		Category string `toml:"Category"`
	}

	Model struct {
		ID            int            `json:"id"`
		Name          string         `json:"name"`
		Description   string         `json:"description"`
		Type          string         `json:"type"`
		Poi           bool           `json:"poi"`
		Nsfw          bool           `json:"nsfw"`
		Stats         Stats          `json:"stats"`
		Creator       Creator        `json:"creator"`
		Tags          []string       `json:"tags"`
		ModelVersions []ModelVersion `json:"modelVersions"`
	}

	Stats struct {
		DownloadCount int     `json:"downloadCount"`
		FavoriteCount int     `json:"favoriteCount"`
		CommentCount  int     `json:"commentCount"`
		RatingCount   int     `json:"ratingCount"`
		Rating        float64 `json:"rating"`
	}

	Creator struct {
		Username string `json:"username"`
		Image    string `json:"image"`
	}

	// Nested 'model' field in /model-versions/{id} responses
	BaseModelInfo struct {
		Name string `json:"name"`
		Type string `json:"type"`
		Nsfw bool   `json:"nsfw"`
		Poi  bool   `json:"poi"`
	}

	ModelVersion struct {
		ID           int           `json:"id"`
		ModelId      int           `json:"modelId"`
		Name         string        `json:"name"`
		PublishedAt  string        `json:"publishedAt"`
		TrainedWords []string      `json:"trainedWords"`
		BaseModel    string        `json:"baseModel"`
		Description  string        `json:"description"`
		Files        []File        `json:"files"`
		Images       []ModelImage  `json:"images"`
		DownloadUrl  string        `json:"downloadUrl"`
		Model        BaseModelInfo `json:"model"`
	}

	File struct {
		Name        string   `json:"name"`
		ID          int      `json:"id"`
		SizeKB      float64  `json:"sizeKB"`
		Type        string   `json:"type"`
		Metadata    Metadata `json:"metadata"`
		Hashes      Hashes   `json:"hashes"`
		DownloadUrl string   `json:"downloadUrl"`
		Primary     bool     `json:"primary"`
	}

	Metadata struct {
		Fp     string `json:"fp"`
		Size   string `json:"size"`
		Format string `json:"format"`
	}

	Hashes struct {
		AutoV2 string `json:"AutoV2"`
		SHA256 string `json:"SHA256"`
		CRC32  string `json:"CRC32"`
		BLAKE3 string `json:"BLAKE3"`
	}

	ModelImage struct {
		ID     int    `json:"id"`
		URL    string `json:"url"`
		Hash   string `json:"hash"` // Blurhash
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Nsfw   bool   `json:"nsfw"`
	}

	// --- Extension-side value objects ---

	// ModelReference is derived from a page URL and never persisted.
	ModelReference struct {
		URL       string `json:"url"`
		ModelID   string `json:"modelId"`
		VersionID string `json:"versionId"`
	}

	DownloadFileDescriptor struct {
		Name        string `json:"name"`
		DownloadUrl string `json:"downloadUrl"`
	}

	// DownloadJob is built just before a download and handed to the downloader.
	DownloadJob struct {
		DownloadFilePath string                   `json:"downloadFilePath"`
		FileName         string                   `json:"fileName"`
		ModelID          string                   `json:"modelId"`
		VersionID        string                   `json:"versionId"`
		FileList         []DownloadFileDescriptor `json:"fileList"`
		URL              string                   `json:"url"`
	}

	// ModelRecord is a row of the saved-model database kept by the backend.
	ModelRecord struct {
		URL              string    `json:"url"`
		SelectedCategory string    `json:"selectedCategory"`
		CivitaiModelID   string    `json:"civitaiModelID"`
		CivitaiVersionID string    `json:"civitaiVersionID"`
		Name             string    `json:"name"`
		VersionName      string    `json:"versionName"`
		ModelType        string    `json:"modelType"`
		BaseModel        string    `json:"baseModel"`
		Creator          string    `json:"creator"`
		Tags             []string  `json:"tags"`
		DownloadFilePath string    `json:"downloadFilePath"`
		FileName         string    `json:"fileName"`
		CreatedAt        time.Time `json:"createdAt"`
	}

	OfflineQueueEntry struct {
		CivitaiModelID   string   `json:"civitaiModelID"`
		CivitaiVersionID string   `json:"civitaiVersionID"`
		CivitaiFileName  string   `json:"civitaiFileName,omitempty"`
		CivitaiURL       string   `json:"civitaiUrl,omitempty"`
		DownloadFilePath string   `json:"downloadFilePath"`
		SelectedCategory string   `json:"selectedCategory"`
		CivitaiTags      []string `json:"civitaiTags"`
		Hold             bool     `json:"hold,omitempty"`
		DownloadPriority int      `json:"downloadPriority,omitempty"`
	}

	Bookmark struct {
		ID       string    `json:"id"`
		FolderID string    `json:"folderId"`
		Title    string    `json:"title"`
		URL      string    `json:"url"`
		Created  time.Time `json:"created"`
	}

	Tab struct {
		ID         int    `json:"id"`
		WindowID   int    `json:"windowId"`
		WindowType string `json:"windowType"` // "normal", "popup", ...
		Active     bool   `json:"active"`
		URL        string `json:"url"`
	}
)

// Download methods
const (
	MethodServer  = "server"
	MethodBrowser = "browser"
)

// ErrorKey builds the "{modelID}_{versionID}_{name}" key used by the error list.
func ErrorKey(modelID, versionID, name string) string {
	return fmt.Sprintf("%s_%s_%s", modelID, versionID, name)
}

// ParseErrorKey splits an error list key. The name may itself contain underscores.
func ParseErrorKey(key string) (modelID, versionID, name string, ok bool) {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		name = parts[2]
	}
	return parts[0], parts[1], name, true
}

// Validate reports the names of the DownloadJob fields that are empty.
func (j DownloadJob) Validate() []string {
	var missing []string
	if j.URL == "" {
		missing = append(missing, "url")
	}
	if j.FileName == "" {
		missing = append(missing, "fileName")
	}
	if j.ModelID == "" {
		missing = append(missing, "modelId")
	}
	if j.VersionID == "" {
		missing = append(missing, "versionId")
	}
	if j.DownloadFilePath == "" {
		missing = append(missing, "downloadFilePath")
	}
	if len(j.FileList) == 0 {
		missing = append(missing, "fileList")
	}
	return missing
}
