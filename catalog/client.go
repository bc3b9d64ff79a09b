package catalog

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

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rasterline/imagery-retriever/internal/logging"
	"github.com/rasterline/imagery-retriever/model"
)

const (
	// DefaultTimeout bounds a single catalog request.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxInFlight caps concurrent catalog requests across all
	// workers. The remote side enforces per-client quotas; staying under
	// them beats getting throttled.
	DefaultMaxInFlight = 8
)

// ClientConfig configures a catalog client.
type ClientConfig struct {
	// BaseURL is the catalog service root, e.g. "https://catalog.example.com".
	BaseURL string
	// APIKey is sent as a bearer token. Empty disables auth.
	APIKey string
	// Timeout bounds one request. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxInFlight caps concurrent requests. Zero means DefaultMaxInFlight.
	MaxInFlight int64
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
	Log        logging.Logger
}

// Client is a JSON REST client for the imagery catalog. It never retries;
// retry policy belongs to the caller so backoff schedules stay in one
// place.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	sem     *semaphore.Weighted
	log     logging.Logger
}

// NewClient validates the configuration and returns a ready client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("catalog: base URL is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("catalog: parsing base URL %q: %w", cfg.BaseURL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: timeout}
	}
	inFlight := cfg.MaxInFlight
	if inFlight <= 0 {
		inFlight = DefaultMaxInFlight
	}
	log := cfg.Log
	if log == nil {
		log = logging.Noop()
	}

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		httpc:   httpc,
		sem:     semaphore.NewWeighted(inFlight),
		log:     log,
	}, nil
}

// Query returns the ordered scene identifiers matching the spec.
func (c *Client) Query(ctx context.Context, spec QuerySpec) ([]ImageID, error) {
	if spec.Collection == "" {
		return nil, errors.New("catalog: query needs a collection")
	}
	var out struct {
		Images []ImageID `json:"images"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/images:query", spec, &out); err != nil {
		return nil, err
	}
	return out.Images, nil
}

// ComposeMosaic registers a server-side composite and returns its identifier.
func (c *Client) ComposeMosaic(ctx context.Context, spec MosaicSpec) (ImageID, error) {
	var out struct {
		Image ImageID `json:"image"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/mosaics", spec, &out); err != nil {
		return "", err
	}
	return out.Image, nil
}

// DownloadURL mints a download URL for an image. The returned URL is a
// plain HTTPS GET target fetched by the retrieval pipeline.
func (c *Client) DownloadURL(ctx context.Context, id ImageID, spec RenderSpec) (string, error) {
	if id == "" {
		return "", errors.New("catalog: download URL needs an image id")
	}
	var out struct {
		URL string `json:"url"`
	}
	path := "/v1/images/" + url.PathEscape(string(id)) + ":url"
	if err := c.do(ctx, http.MethodPost, path, spec, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// SamplePoints draws stratified random land points within the region. The
// land/water mask constants come from the model package so every caller
// samples against the same product.
func (c *Client) SamplePoints(ctx context.Context, region model.BoundingBox, count int, scaleM float64, seed int64) ([]model.GeoPoint, error) {
	spec := SampleSpec{
		Region:         region,
		Count:          count,
		ScaleM:         scaleM,
		Seed:           seed,
		MaskCollection: model.LandMaskCollection,
		MaskBand:       model.LandMaskBand,
		MaskClass:      model.LandMaskLandClass,
	}
	var out struct {
		Points []struct {
			Lon float64 `json:"lon"`
			Lat float64 `json:"lat"`
		} `json:"points"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/points:sample", spec, &out); err != nil {
		return nil, err
	}
	points := make([]model.GeoPoint, 0, len(out.Points))
	for _, p := range out.Points {
		points = append(points, model.GeoPoint{Lon: p.Lon, Lat: p.Lat})
	}
	return points, nil
}

// SubmitExport enqueues a server-side export and returns the remote handle.
// It returns as soon as the catalog accepts the job.
func (c *Client) SubmitExport(ctx context.Context, spec ExportSpec) (string, error) {
	if spec.Name == "" || spec.Image == "" {
		return "", errors.New("catalog: export needs a name and an image id")
	}
	var out struct {
		Handle string `json:"handle"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/exports", spec, &out); err != nil {
		return "", err
	}
	return out.Handle, nil
}

// ExportStatus reports the remote state of an export job plus the failure
// message for failed jobs. Unknown states pass through for the caller to
// treat as non-terminal.
func (c *Client) ExportStatus(ctx context.Context, handle string) (model.ExportState, string, error) {
	if handle == "" {
		return "", "", errors.New("catalog: export status needs a handle")
	}
	var out struct {
		State   string `json:"state"`
		Message string `json:"message,omitempty"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/exports/"+url.PathEscape(handle), nil, &out); err != nil {
		return "", "", err
	}
	return model.ExportState(out.State), out.Message, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("catalog: acquiring request slot: %w", err)
	}
	defer c.sem.Release(1)

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("catalog: encoding %s request: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("catalog: building %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("catalog: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug(ctx, "catalog request",
		logging.String("method", method),
		logging.String("path", path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("catalog: decoding %s response: %w", path, err)
	}
	return nil
}

// readErrorMessage extracts a human-readable message from an error body,
// preferring the structured {"error": ...} form.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &wire); err == nil && wire.Error != "" {
		return wire.Error
	}
	return strings.TrimSpace(string(raw))
}
