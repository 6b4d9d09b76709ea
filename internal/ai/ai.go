// Package ai talks to the optional text-generation and sentiment
// services. Every public helper that callers use on a hot path has a
// local fallback, so an unreachable or unconfigured upstream never
// surfaces as an error to a chat user.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUpstreamUnavailable is returned when an upstream service is not
// configured, cannot be reached or answers with a non-2xx status.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

const defaultTimeout = 15 * time.Second

type Config struct {
	// BaseURL of an OpenAI-compatible API, without the
	// /chat/completions suffix.
	BaseURL string
	APIKey  string
	Model   string

	SentimentURL   string
	SentimentToken string

	Timeout time.Duration
}

// UpstreamError carries the HTTP status of a failed upstream call.
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamUnavailable }

type Client struct {
	cfg        Config
	httpClient *http.Client
	history    *History
}

// New returns a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient, history: NewHistory(maxHistory)}
}

// GeneratorConfigured reports whether a text-generation upstream is set.
func (c *Client) GeneratorConfigured() bool {
	return c.cfg.BaseURL != "" && c.cfg.APIKey != ""
}

func (c *Client) sentimentConfigured() bool {
	return c.cfg.SentimentURL != "" && c.cfg.SentimentToken != ""
}

// postJSON sends body to endpoint and decodes a 2xx response into out.
// Transport failures and bad statuses wrap ErrUpstreamUnavailable.
func (c *Client) postJSON(ctx context.Context, service, endpoint, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshaling request: %w", service, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readUpstreamError(service, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decoding response: %v", ErrUpstreamUnavailable, service, err)
	}
	return nil
}

func readUpstreamError(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wire struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		message = wire.Error.Message
	}
	return &UpstreamError{Service: service, StatusCode: resp.StatusCode, Message: message}
}
