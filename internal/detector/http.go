package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Static errors for the HTTP detector.
var (
	// ErrBaseURLRequired is returned when the matcher URL is not provided.
	ErrBaseURLRequired = errors.New("detector: base URL is required")
	// ErrServerError is returned when the matcher returns a 5xx status code.
	ErrServerError = errors.New("detector: server error")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("detector: request failed")
)

// maxErrorBody bounds how much of an error response is kept in the error.
const maxErrorBody = 4 << 10

// HTTPDetector submits segment files to a fingerprint matcher over HTTP.
// Each call makes a single attempt.
type HTTPDetector struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option is a function that configures an HTTPDetector.
type Option func(*HTTPDetector)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(d *HTTPDetector) {
		d.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *HTTPDetector) {
		d.httpClient = c
	}
}

// WithLogger sets the logger used for dropped matches.
func WithLogger(l *slog.Logger) Option {
	return func(d *HTTPDetector) {
		d.logger = l
	}
}

// NewHTTPDetector creates a detector posting to <baseURL>/detect.
func NewHTTPDetector(baseURL string, opts ...Option) (*HTTPDetector, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	d := &HTTPDetector{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// detectResponse is the body returned by the matcher.
type detectResponse struct {
	Matches []Match `json:"matches"`
}

// Detect implements Detector. Matches failing validation are dropped.
func (d *HTTPDetector) Detect(ctx context.Context, path string) ([]Match, error) {
	f, err := os.Open(path) // #nosec G304 - path is produced by the segment namer
	if err != nil {
		return nil, fmt.Errorf("%w: open segment: %w", ErrDetectFailed, err)
	}
	defer func() { _ = f.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", f)
	if err != nil {
		return nil, fmt.Errorf("detector: create request: %w", err)
	}
	if st, err := f.Stat(); err == nil {
		req.ContentLength = st.Size()
	}
	req.Header.Set("Content-Type", contentType(path))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Segment-Name", filepath.Base(path))
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(body))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("detector: decode response: %w", err)
	}

	matches := make([]Match, 0, len(out.Matches))
	for _, m := range out.Matches {
		if err := m.Validate(); err != nil {
			d.logger.Warn("dropping invalid match",
				slog.Int("match_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// contentType maps a segment file extension to its MIME type.
func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".m4a", ".mp4":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

var _ Detector = (*HTTPDetector)(nil)
