// Package openai implements ai.Provider against the OpenAI REST API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ngoyal88/docgen/pkg/ai"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second

	// CodeCircuitOpen is reported while the breaker rejects calls.
	CodeCircuitOpen = "circuit_open"
)

type Config struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// HTTPClient overrides the default client. Its Timeout is left untouched.
	HTTPClient *http.Client
}

// Client talks to one OpenAI-compatible endpoint. It is safe for concurrent use.
type Client struct {
	apiKey  string
	baseURL *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

var _ ai.Provider = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("openai: invalid base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("openai: invalid base url %q: scheme must be http or https", cfg.BaseURL)
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	openFor := cfg.BreakerTimeout
	if openFor <= 0 {
		openFor = defaultBreakerTimeout
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: base,
		http:    hc,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "openai-" + base.Host,
			Timeout: openFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			IsSuccessful: countsAsHealthy,
		}),
	}, nil
}

// Factory adapts NewClient to ai.ProviderFactory. The key and timeout handed to
// the factory take precedence over the ones in cfg.
func Factory(cfg Config) ai.ProviderFactory {
	return func(apiKey string, timeout time.Duration) (ai.Provider, error) {
		cfg.APIKey = apiKey
		cfg.Timeout = timeout
		return NewClient(cfg)
	}
}

// countsAsHealthy keeps client errors and caller cancellations out of the breaker's failure count.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status < 500
	}
	return false
}

// State exposes the breaker state for health reporting.
func (c *Client) State() string {
	return c.breaker.State().String()
}

func (c *Client) ChatCompletion(ctx context.Context, params ai.ChatCompletionParams) (*ai.ChatCompletion, error) {
	var out ai.ChatCompletion
	if err := c.doJSON(ctx, http.MethodPost, "/chat/completions", params, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateVectorStore(ctx context.Context, params ai.VectorStoreParams) (*ai.VectorStore, error) {
	var out ai.VectorStore
	if err := c.doJSON(ctx, http.MethodPost, "/vector_stores", params, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateFileBatch(ctx context.Context, vectorStoreID string, params ai.FileBatchParams) (*ai.FileBatch, error) {
	var out ai.FileBatch
	path := "/vector_stores/" + url.PathEscape(vectorStoreID) + "/file_batches"
	if err := c.doJSON(ctx, http.MethodPost, path, params, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteVectorStore(ctx context.Context, vectorStoreID string) (*ai.Deletion, error) {
	var out ai.Deletion
	if err := c.doJSON(ctx, http.MethodDelete, "/vector_stores/"+url.PathEscape(vectorStoreID), nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RetrieveVectorStore(ctx context.Context, vectorStoreID string) (*ai.VectorStore, error) {
	var out ai.VectorStore
	if err := c.doJSON(ctx, http.MethodGet, "/vector_stores/"+url.PathEscape(vectorStoreID), nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateFile(ctx context.Context, params ai.FileParams) (*ai.File, error) {
	if params.Purpose == "" {
		params.Purpose = "assistants"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", params.Purpose); err != nil {
		return nil, fmt.Errorf("openai: build upload: %w", err)
	}
	contentType := params.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, params.Filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("openai: build upload: %w", err)
	}
	if _, err := part.Write(params.Data); err != nil {
		return nil, fmt.Errorf("openai: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("openai: build upload: %w", err)
	}

	var out ai.File
	if err := c.do(ctx, http.MethodPost, "/files", buf.Bytes(), mw.FormDataContentType(), false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, beta bool, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("openai: encode %s: %w", path, err)
		}
		body = b
	}
	return c.do(ctx, method, path, body, "application/json", beta, out)
}

// do sends one request through the circuit breaker.
func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, beta bool, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, rd)
		if err != nil {
			return nil, fmt.Errorf("openai: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", contentType)
		}
		if beta {
			req.Header.Set("OpenAI-Beta", "assistants=v2")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("openai: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("openai: read %s response: %w", path, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, parseAPIError(resp.StatusCode, raw)
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return nil, fmt.Errorf("openai: decode %s response: %w", path, err)
			}
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &APIError{
			Status:  http.StatusServiceUnavailable,
			Code:    CodeCircuitOpen,
			Type:    "server_error",
			Message: "upstream circuit open: " + err.Error(),
		}
	}
	return err
}
