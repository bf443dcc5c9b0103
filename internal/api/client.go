package api

import (
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

// Custom Error Types
var (
	ErrRateLimited  = errors.New("API rate limit exceeded")
	ErrUnauthorized = errors.New("API request unauthorized (check API key)")
	ErrNotFound     = errors.New("API resource not found")
	ErrServerError  = errors.New("API server error")
	ErrBadID        = errors.New("invalid numeric id")
)

const CivitaiBaseUrl = "https://civitai.com"

// Client talks to the public model catalog. Calls are never retried: the batch
// orchestrator decides what a failure means.
type Client struct {
	BaseUrl    string
	ApiKey     string
	HttpClient *http.Client
}

// NewClient creates a new catalog client. An empty baseUrl means civitai.com.
func NewClient(baseUrl, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if baseUrl == "" {
		baseUrl = CivitaiBaseUrl
	}
	return &Client{
		BaseUrl:    strings.TrimRight(baseUrl, "/"),
		ApiKey:     apiKey,
		HttpClient: httpClient,
	}
}

// GetModel fetches /api/v1/models/{id}.
func (c *Client) GetModel(ctx context.Context, modelID string) (models.Model, error) {
	var model models.Model
	if err := checkNumericID(modelID); err != nil {
		return model, err
	}
	reqURL := fmt.Sprintf("%s/api/v1/models/%s", c.BaseUrl, url.PathEscape(modelID))
	if err := c.getJSON(ctx, reqURL, &model); err != nil {
		return models.Model{}, fmt.Errorf("fetching model %s: %w", modelID, err)
	}
	return model, nil
}

// GetModelVersion fetches /api/v1/model-versions/{id}.
func (c *Client) GetModelVersion(ctx context.Context, versionID string) (models.ModelVersion, error) {
	var version models.ModelVersion
	if err := checkNumericID(versionID); err != nil {
		return version, err
	}
	reqURL := fmt.Sprintf("%s/api/v1/model-versions/%s", c.BaseUrl, url.PathEscape(versionID))
	if err := c.getJSON(ctx, reqURL, &version); err != nil {
		return models.ModelVersion{}, fmt.Errorf("fetching model version %s: %w", versionID, err)
	}
	return version, nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.ApiKey)
	}

	log.Debugf("Requesting URL: %s", reqURL)
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		log.Debugf("Response body causing unmarshal error: %s", string(body))
		return fmt.Errorf("error unmarshalling response JSON: %w", err)
	}
	return nil
}

// statusError maps a response status to one of the package errors.
func statusError(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return fmt.Errorf("%w (status code %d)", ErrServerError, code)
	default:
		return fmt.Errorf("API request failed with status %d", code)
	}
}

func checkNumericID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrBadID)
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q", ErrBadID, id)
		}
	}
	return nil
}
