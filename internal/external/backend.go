package external

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
	"sync"
	"time"

	"github.com/kjannette/tethra-tap/internal/httputil"
	"github.com/kjannette/tethra-tap/internal/logger"
	"github.com/kjannette/tethra-tap/internal/models"
	"github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("not found")

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int
	Path    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend %s: HTTP %d", e.Path, e.Status)
	}
	return fmt.Sprintf("backend %s: HTTP %d: %s", e.Path, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Backend is the tap-to-trade backend REST client.
type Backend struct {
	baseURL    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        *logrus.Entry

	mu       sync.Mutex
	signed   map[string]cachedSignedPrice
	priceTTL time.Duration
	now      func() time.Time
}

type cachedSignedPrice struct {
	price     models.SignedPrice
	fetchedAt time.Time
}

type BackendOption func(*Backend)

func WithHTTPClient(c *http.Client) BackendOption {
	return func(b *Backend) { b.httpClient = c }
}

func WithRetry(r httputil.RetryConfig) BackendOption {
	return func(b *Backend) { b.retry = r }
}

func WithSignedPriceTTL(d time.Duration) BackendOption {
	return func(b *Backend) { b.priceTTL = d }
}

func NewBackend(baseURL string, log *logger.Logger, opts ...BackendOption) *Backend {
	entry := log.WithComponent("backend")
	b := &Backend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      httputil.DefaultRetry,
		log:        entry,
		signed:     make(map[string]cachedSignedPrice),
		priceTTL:   3 * time.Second,
		now:        time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	b.retry.Log = entry
	return b
}

func (b *Backend) BaseURL() string { return b.baseURL }

// envelope is the backend's response wrapper. Endpoints that answer with a
// bare object are decoded directly.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (b *Backend) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := httputil.Do(ctx, b.httpClient, b.retry, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return decode(resp, path, out)
}

// post sends body once, or with retry when idempotencyKey is set.
func (b *Backend) post(ctx context.Context, path, idempotencyKey string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	retry := httputil.NoRetry
	if idempotencyKey != "" {
		retry = b.retry
	}
	resp, err := httputil.Do(ctx, b.httpClient, retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return decode(resp, path, out)
}

func decode(resp *http.Response, path string, out interface{}) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" && len(raw) > 0 && raw[0] != '{' {
			msg = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Path: path, Message: msg}
	}
	if env.Success != nil && !*env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return &APIError{Status: resp.StatusCode, Path: path, Message: msg}
	}
	if out == nil {
		return nil
	}

	body := raw
	if env.Success != nil || len(env.Data) > 0 {
		body = env.Data
	}
	if len(body) == 0 || string(body) == "null" {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
