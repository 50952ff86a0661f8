// Package image talks to text-to-image inference endpoints and falls back
// from the primary provider to a secondary one on server-side failures.
package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
	"github.com/zhouzirui/z-scene/backend/internal/metrics"
)

const (
	defaultContentType = "image/jpeg"
	defaultErrorBytes  = 4 << 10
)

// ClientConfig describes one inference endpoint.
type ClientConfig struct {
	Name          string
	URL           string
	APIKey        string
	Timeout       time.Duration
	MaxErrorBytes int64
	HTTPClient    *http.Client
	Metrics       *metrics.Metrics
}

// Client posts prompts to a single image endpoint.
type Client struct {
	name          string
	url           string
	apiKey        string
	timeout       time.Duration
	maxErrorBytes int64
	httpClient    *http.Client
	metrics       *metrics.Metrics
}

// Result is a generated image. Body streams the provider's bytes and must be closed.
type Result struct {
	Body        io.ReadCloser
	ContentType string
	Provider    string
}

type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

// NewClient creates a client for cfg.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxErrorBytes := cfg.MaxErrorBytes
	if maxErrorBytes <= 0 {
		maxErrorBytes = defaultErrorBytes
	}
	return &Client{
		name:          cfg.Name,
		url:           cfg.URL,
		apiKey:        cfg.APIKey,
		timeout:       cfg.Timeout,
		maxErrorBytes: maxErrorBytes,
		httpClient:    httpClient,
		metrics:       cfg.Metrics,
	}
}

// Name identifies the provider in logs and errors.
func (c *Client) Name() string {
	return c.name
}

// Generate requests an image for prompt. A non-2xx answer or a transport
// failure is returned as *apperr.ProviderError.
func (c *Client) Generate(ctx context.Context, prompt string) (result *Result, err error) {
	started := time.Now()
	defer func() { c.metrics.ObserveProvider(c.name, started, err) }()

	payload, err := json.Marshal(inferenceRequest{Inputs: prompt})
	if err != nil {
		return nil, fmt.Errorf("encode image request: %w", err)
	}

	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, &apperr.ProviderError{Provider: c.name, Message: transportMessage(err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxErrorBytes))
		return nil, &apperr.ProviderError{
			Provider:   c.name,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	return &Result{
		Body:        &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		ContentType: imageContentType(resp.Header.Get("Content-Type")),
		Provider:    c.name,
	}, nil
}

// cancelOnClose keeps the per-call timeout alive until the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func imageContentType(header string) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return defaultContentType
	}
	return mediaType
}

func transportMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return err.Error()
}
