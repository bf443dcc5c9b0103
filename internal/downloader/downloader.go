package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-civitai-companion/internal/helpers"
	"go-civitai-companion/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrHashMismatch = errors.New("downloaded file hash mismatch")
	ErrHttpStatus   = errors.New("unexpected HTTP status code")
	ErrFileSystem   = errors.New("filesystem error") // Covers create, remove, rename
	ErrHttpRequest  = errors.New("HTTP request creation/execution error")
)

// ProgressFunc receives the bytes written so far and the expected size (0 if unknown).
type ProgressFunc func(name string, written, size uint64)

// Downloader handles downloading files with hash checks.
type Downloader struct {
	client     *http.Client
	apiKey     string
	OnProgress ProgressFunc
}

// NewDownloader creates a new Downloader instance.
func NewDownloader(client *http.Client, apiKey string) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 15 * time.Minute,
		}
	}
	return &Downloader{
		client: client,
		apiKey: apiKey,
	}
}

// findExisting looks for a file in dirPath with the same base name and extension.
// When hashes are known the file must also match one of them.
func findExisting(dirPath, fileName string, hashes models.Hashes) (string, bool, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading directory %s: %w", dirPath, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(entry.Name(), fileName) {
			continue
		}
		fullPath := filepath.Join(dirPath, entry.Name())
		if !helpers.HasHashes(hashes) {
			log.Debugf("Existing file %s found and no hashes known, keeping it", fullPath)
			return fullPath, true, nil
		}
		if helpers.CheckHash(fullPath, hashes) {
			return fullPath, true, nil
		}
		log.Debugf("Hash mismatch for existing file %s", fullPath)
	}
	return "", false, nil
}

// DownloadFile downloads url into targetFilepath. An existing file with the
// same name (and matching hash when hashes are given) short-circuits the download.
// The Content-Disposition filename, when present, replaces the base name.
// Returns the final path of the file.
func (d *Downloader) DownloadFile(ctx context.Context, targetFilepath string, url string, hashes models.Hashes) (string, error) {
	targetDir := filepath.Dir(targetFilepath)

	if found, exists, err := findExisting(targetDir, filepath.Base(targetFilepath), hashes); err != nil {
		return "", fmt.Errorf("%w: checking for existing file: %v", ErrFileSystem, err)
	} else if exists {
		log.Infof("Found valid existing file %s, skipping download", found)
		return found, nil
	}

	if !helpers.CheckAndMakeDir(targetDir) {
		return "", fmt.Errorf("%w: failed to create target directory %s", ErrFileSystem, targetDir)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: creating download request for %s: %v", ErrHttpRequest, url, err)
	}
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	log.Infof("Attempting to download from URL: %s", url)
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: performing request for %s: %v", ErrHttpRequest, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, url)
	}

	finalFilepath := targetFilepath
	if name := dispositionFilename(resp.Header.Get("Content-Disposition")); name != "" {
		finalFilepath = filepath.Join(targetDir, helpers.SafeFileName(name))
		if finalFilepath != targetFilepath {
			if found, exists, err := findExisting(targetDir, filepath.Base(finalFilepath), hashes); err == nil && exists {
				log.Infof("Found valid existing file %s, download not needed", found)
				return found, nil
			}
		}
	}

	tempFile, err := os.CreateTemp(targetDir, filepath.Base(finalFilepath)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: creating temporary file for %s: %v", ErrFileSystem, finalFilepath, err)
	}
	keepTemp := false
	defer func() {
		if keepTemp {
			return
		}
		_ = tempFile.Close()
		if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
			log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
		}
	}()

	size, _ := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)
	counter := &helpers.CounterWriter{Writer: tempFile}
	if d.OnProgress != nil {
		name := filepath.Base(finalFilepath)
		counter.OnProgress = func(total uint64) { d.OnProgress(name, total, size) }
	}

	log.WithFields(log.Fields{
		"target": finalFilepath,
		"size":   helpers.BytesToSize(size),
	}).Info("Downloading")
	if _, err := io.Copy(counter, resp.Body); err != nil {
		return "", fmt.Errorf("%w: writing temporary file %s: %v", ErrFileSystem, tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("%w: closing temp file %s: %v", ErrFileSystem, tempFile.Name(), err)
	}

	if helpers.HasHashes(hashes) {
		if !helpers.CheckHash(tempFile.Name(), hashes) {
			log.Errorf("Hash mismatch for downloaded file: %s", finalFilepath)
			return "", ErrHashMismatch
		}
		log.Debugf("Hash verified for %s", finalFilepath)
	}

	if err := os.Rename(tempFile.Name(), finalFilepath); err != nil {
		return "", fmt.Errorf("%w: renaming temporary file %s to %s: %v", ErrFileSystem, tempFile.Name(), finalFilepath, err)
	}
	keepTemp = true
	log.Infof("Successfully downloaded %s (%s)", finalFilepath, helpers.BytesToSize(counter.Total))
	return finalFilepath, nil
}

// DownloadAll fetches every descriptor into dir and stops at the first failure.
func (d *Downloader) DownloadAll(ctx context.Context, dir string, files []models.DownloadFileDescriptor) ([]string, error) {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		if f.DownloadUrl == "" {
			return paths, fmt.Errorf("%w: no download url for %s", ErrHttpRequest, f.Name)
		}
		target := filepath.Join(dir, helpers.SafeFileName(f.Name))
		path, err := d.DownloadFile(ctx, target, f.DownloadUrl, models.Hashes{})
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		log.WithError(err).Debugf("Could not parse Content-Disposition header: %s", header)
		return ""
	}
	return params["filename"]
}
