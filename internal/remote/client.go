// Package remote is the HTTP client for the ProspectConnect CRM API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/pcsyncgo/internal/config"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConfigured means the API key or base URL is missing
	ErrNotConfigured = errors.New("prospectconnect api not configured")
	// ErrNotFound is returned when an optional endpoint does not exist (HTTP 404)
	ErrNotFound = errors.New("prospectconnect endpoint not found")
)

// APIError is a non-2xx reply from the remote
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("prospectconnect %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match a 404
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

const maxErrorBody = 500

// Options configures a Client
type Options struct {
	BaseURL     string
	APIKey      string
	RateLimit   float64 // requests per second, 0 disables limiting
	PushTimeout time.Duration
	PullTimeout time.Duration
	HTTPClient  *http.Client
}

// Client talks to the remote CRM. It is safe for concurrent use.
type Client struct {
	baseURL     string
	apiKey      string
	http        *http.Client
	limiter     *rate.Limiter
	pushTimeout time.Duration
	pullTimeout time.Duration
}

// New creates a client
func New(opts Options) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:      strings.TrimSpace(opts.APIKey),
		http:        opts.HTTPClient,
		pushTimeout: opts.PushTimeout,
		pullTimeout: opts.PullTimeout,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.pushTimeout <= 0 {
		c.pushTimeout = 20 * time.Second
	}
	if c.pullTimeout <= 0 {
		c.pullTimeout = 30 * time.Second
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// NewFromConfig creates a client from the sync configuration
func NewFromConfig(cfg *config.SyncConfig) *Client {
	return New(Options{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		RateLimit:   cfg.RateLimitPerSecond,
		PushTimeout: cfg.PushTimeout(),
		PullTimeout: cfg.PullTimeout(),
	})
}

// Configured reports whether credentials are present
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// Body is a JSON object sent to or received from the remote
type Body map[string]interface{}

// post sends a JSON body and decodes the JSON reply
func (c *Client) post(ctx context.Context, path string, body interface{}) (Body, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, path, nil, body)
}

// get sends a query and decodes the JSON reply
func (c *Client) get(ctx context.Context, path string, query url.Values) (Body, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pullTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (Body, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prospectconnect %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("prospectconnect %s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(raw)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: text}
	}

	out := Body{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("prospectconnect %s %s: invalid JSON: %w", method, path, err)
	}
	return out, nil
}

// ResponseID extracts the remote id from a create/update reply.
// Keys are tried in order; "data.id" looks inside the data object.
func ResponseID(body Body, keys ...string) string {
	if len(keys) == 0 {
		keys = []string{"data.id", "id"}
	}
	for _, key := range keys {
		if key == "data.id" {
			if data, ok := body["data"].(map[string]interface{}); ok {
				if id := stringify(data["id"]); id != "" {
					return id
				}
			}
			continue
		}
		if id := stringify(body[key]); id != "" {
			return id
		}
	}
	return ""
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}
