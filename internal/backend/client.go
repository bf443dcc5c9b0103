// Package backend is the client of the companion server's SQL API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-civitai-companion/internal/models"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNotFound    = errors.New("backend resource not found")
	ErrBadRequest  = errors.New("backend rejected request")
	ErrServerError = errors.New("backend server error")
)

// Client talks to the companion server.
type Client struct {
	BaseUrl    string
	HttpClient *http.Client
}

// NewClient creates a backend client.
func NewClient(baseUrl string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseUrl:    strings.TrimRight(baseUrl, "/"),
		HttpClient: httpClient,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type urlBody struct {
	URL string `json:"url"`
}

type checkResponse struct {
	URL   string `json:"url"`
	Saved bool   `json:"saved"`
}

type cartResponse struct {
	URL    string `json:"url"`
	InCart bool   `json:"inCart"`
}

type downloadResponse struct {
	Success bool     `json:"success"`
	Paths   []string `json:"paths,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type keyBody struct {
	Key string `json:"key"`
}

// --- records ---

func (c *Client) AddRecord(ctx context.Context, rec models.ModelRecord) (models.ModelRecord, error) {
	var out models.ModelRecord
	err := c.do(ctx, http.MethodPost, "/api/records", rec, &out)
	return out, err
}

func (c *Client) UpdateRecord(ctx context.Context, rec models.ModelRecord) (models.ModelRecord, error) {
	var out models.ModelRecord
	err := c.do(ctx, http.MethodPut, recordPath(rec.CivitaiModelID, rec.CivitaiVersionID), rec, &out)
	return out, err
}

func (c *Client) RemoveRecord(ctx context.Context, modelID, versionID string) error {
	return c.do(ctx, http.MethodDelete, recordPath(modelID, versionID), nil, nil)
}

// FindRecords lists the records of modelID, or all records when modelID is "".
func (c *Client) FindRecords(ctx context.Context, modelID string) ([]models.ModelRecord, error) {
	var out []models.ModelRecord
	path := "/api/records"
	if modelID != "" {
		path += "?modelId=" + url.QueryEscape(modelID)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) SearchRecords(ctx context.Context, query string) ([]models.ModelRecord, error) {
	var out []models.ModelRecord
	err := c.do(ctx, http.MethodGet, "/api/records/search?q="+url.QueryEscape(query), nil, &out)
	return out, err
}

// CheckURLInDatabase reports whether rawURL is already saved.
func (c *Client) CheckURLInDatabase(ctx context.Context, rawURL string) (bool, error) {
	var out checkResponse
	if err := c.do(ctx, http.MethodPost, "/api/records/check", urlBody{URL: rawURL}, &out); err != nil {
		return false, err
	}
	return out.Saved, nil
}

// CheckCart reports whether rawURL is in the offline queue.
func (c *Client) CheckCart(ctx context.Context, rawURL string) (bool, error) {
	var out cartResponse
	if err := c.do(ctx, http.MethodGet, "/api/cart?url="+url.QueryEscape(rawURL), nil, &out); err != nil {
		return false, err
	}
	return out.InCart, nil
}

// --- offline queue ---

func (c *Client) ListOfflineQueue(ctx context.Context) ([]models.OfflineQueueEntry, error) {
	var out []models.OfflineQueueEntry
	err := c.do(ctx, http.MethodGet, "/api/offline-queue", nil, &out)
	return out, err
}

func (c *Client) AddOfflineQueue(ctx context.Context, e models.OfflineQueueEntry) error {
	return c.do(ctx, http.MethodPost, "/api/offline-queue", e, nil)
}

func (c *Client) ReplaceOfflineQueue(ctx context.Context, e models.OfflineQueueEntry) error {
	return c.do(ctx, http.MethodPut, queuePath(e.CivitaiModelID, e.CivitaiVersionID), e, nil)
}

func (c *Client) RemoveOfflineQueue(ctx context.Context, modelID, versionID string) error {
	return c.do(ctx, http.MethodDelete, queuePath(modelID, versionID), nil, nil)
}

// --- error list ---

func (c *Client) ListErrors(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/api/errors", nil, &out)
	return out, err
}

func (c *Client) AddError(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/api/errors", keyBody{Key: key}, nil)
}

func (c *Client) RemoveError(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/api/errors/"+url.PathEscape(key), nil, nil)
}

// RemoveErrorAndQueue removes the error entry and the queue entry of the same model version.
func (c *Client) RemoveErrorAndQueue(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/api/errors/"+url.PathEscape(key)+"/queue", nil, nil)
}

// --- listings ---

func (c *Client) ListFolders(ctx context.Context) ([]string, error) {
	return c.stringList(ctx, "/api/folders")
}

func (c *Client) ListCategories(ctx context.Context) ([]string, error) {
	return c.stringList(ctx, "/api/categories")
}

func (c *Client) ListTags(ctx context.Context) ([]string, error) {
	return c.stringList(ctx, "/api/tags")
}

func (c *Client) stringList(ctx context.Context, path string) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// --- downloads ---

// ServerDownload asks the server to download every file of job. A job the
// server could not complete answers false with a nil error.
func (c *Client) ServerDownload(ctx context.Context, job models.DownloadJob) (bool, error) {
	var out downloadResponse
	if err := c.do(ctx, http.MethodPost, "/api/download", job, &out); err != nil {
		return false, err
	}
	if !out.Success && out.Error != "" {
		log.WithField("url", job.URL).Warnf("Server download failed: %s", out.Error)
	}
	return out.Success, nil
}

func recordPath(modelID, versionID string) string {
	return fmt.Sprintf("/api/records/%s/%s", url.PathEscape(modelID), url.PathEscape(versionID))
}

func queuePath(modelID, versionID string) string {
	return fmt.Sprintf("/api/offline-queue/%s/%s", url.PathEscape(modelID), url.PathEscape(versionID))
}

// Do sends in as JSON to path and decodes the answer into out. Either may be nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	return c.do(ctx, method, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error marshalling request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseUrl+path, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debugf("Backend %s %s", method, path)
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s %s: %s", ErrNotFound, method, path, msg)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w (status %d): %s", ErrServerError, resp.StatusCode, msg)
		default:
			return fmt.Errorf("%w (status %d): %s", ErrBadRequest, resp.StatusCode, msg)
		}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error unmarshalling response JSON: %w", err)
	}
	return nil
}
