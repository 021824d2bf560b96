package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

const (
	// UserAgent identifies this application to the asset host
	UserAgent = "awoo-diffusion/1.0 (asset cache)"

	// DefaultTimeout bounds a single asset request, body included
	DefaultTimeout = 5 * time.Minute
)

// ErrNotFound means the remote host has no such asset
var ErrNotFound = fmt.Errorf("remote asset %w", util.ErrNotFound)

// StatusError is a non-200 response other than 404
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Fetcher opens remote assets by key
type Fetcher interface {
	// Fetch streams the asset at key. The caller closes the body.
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
	// Location describes where key is fetched from, for logs
	Location(key string) string
}

// HTTPFetcher fetches assets over plain HTTP(S) under a base URL
type HTTPFetcher struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// HTTPConfig holds HTTP fetcher configuration
type HTTPConfig struct {
	BaseURL   string
	UserAgent string        // empty means UserAgent
	Timeout   time.Duration // 0 means DefaultTimeout
	Client    *http.Client  // overrides Timeout when set
}

// NewHTTPFetcher creates a fetcher for assets under cfg.BaseURL
func NewHTTPFetcher(cfg *HTTPConfig) *HTTPFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &HTTPFetcher{
		httpClient: client,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
	}
}

// Location returns the URL for key
func (f *HTTPFetcher) Location(key string) string {
	return f.baseURL + "/" + key
}

// Fetch requests key and returns the response body on 200
func (f *HTTPFetcher) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	urlStr := f.Location(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", urlStr, ErrNotFound)
	default:
		// Drain a little so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: urlStr}
	}
}
