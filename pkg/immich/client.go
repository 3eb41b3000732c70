// Package immich is a typed client for the destination server's HTTP API.
// Transient failures and rate-limit responses are retried internally with
// backoff; structural responses (validation, conflict, not found) surface
// to the caller as typed errors.
package immich

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"immichporter/pkg/config"
	errs "immichporter/pkg/errors"
	"immichporter/pkg/logger"
	"immichporter/pkg/ratelimit"
	"immichporter/pkg/retry"
)

// Client talks to one destination server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	retryCfg   *retry.Config
	logger     logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter sets the request rate limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetryConfig sets the retry policy for transient failures.
func WithRetryConfig(cfg *retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// WithLogger sets the client logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.logger = log }
}

// NewClient creates a client for the given endpoint and API key.
func NewClient(endpoint, apiKey string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errs.New(errs.ErrorTypeCredentials, "endpoint is required")
	}
	if apiKey == "" {
		return nil, errs.New(errs.ErrorTypeCredentials, "API key is required")
	}

	// The server mounts its API under /api; the configured endpoint is
	// the plain server URL
	base := strings.TrimRight(endpoint, "/")
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}

	c := &Client{
		baseURL: base,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.GetLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.retryCfg == nil {
		c.retryCfg = retry.DefaultConfig()
	}

	return c, nil
}

// NewClientFromConfig builds a client from application configuration.
func NewClientFromConfig(cfg *config.Config, log logger.Logger) (*Client, error) {
	opts := []Option{
		WithLogger(log),
		WithRetryConfig(retry.FromPolicy(cfg.Retry, log)),
		WithLimiter(ratelimit.NewTokenBucket(cfg.RateLimit.BurstSize, time.Minute/time.Duration(cfg.RateLimit.RequestsPerMinute))),
	}

	if cfg.Immich.Insecure {
		hc := &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
		opts = append(opts, WithHTTPClient(hc))
	}

	return NewClient(cfg.Immich.Endpoint, cfg.Immich.APIKey, opts...)
}

// do performs one request with rate limiting and transient-failure retry.
// A non-nil out is decoded from the response body on success.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	cfg := *c.retryCfg
	cfg.Context = ctx

	return retry.Do(func() error {
		return c.doOnce(ctx, method, path, body, out)
	}, &cfg)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errs.Newf(errs.ErrorTypeValidation, "failed to encode request body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errs.Newf(errs.ErrorTypeValidation, "failed to build request: %v", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.DebugWithFields("api request", map[string]interface{}{
		"method": method,
		"path":   path,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Newf(errs.ErrorTypeNetwork, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.errorFromResponse(resp, method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.Newf(errs.ErrorTypeParsing, "failed to decode response: %v", err)
		}
	}
	return nil
}

// errorFromResponse maps an HTTP error status to the error taxonomy.
func (c *Client) errorFromResponse(resp *http.Response, method, path string) error {
	detail := readErrorDetail(resp.Body)

	var errType errs.ErrorType
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		errType = errs.ErrorTypeAuth
	case resp.StatusCode == http.StatusNotFound:
		errType = errs.ErrorTypeNotFound
	case resp.StatusCode == http.StatusConflict:
		errType = errs.ErrorTypeConflict
	case resp.StatusCode == http.StatusTooManyRequests:
		errType = errs.ErrorTypeRateLimit
	case resp.StatusCode >= 500:
		errType = errs.ErrorTypeServerError
	default:
		errType = errs.ErrorTypeValidation
	}

	err := &errs.Error{
		Type:    errType,
		Message: fmt.Sprintf("%s %s: %s", method, path, detail),
		Code:    resp.StatusCode,
	}

	c.logger.WarnWithFields("api error response", map[string]interface{}{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
		"type":   string(errType),
	})

	return err
}

func readErrorDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "no error detail"
	}

	var payload struct {
		Message interface{} `json:"message"`
		Error   string      `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		switch msg := payload.Message.(type) {
		case string:
			if msg != "" {
				return msg
			}
		case []interface{}:
			parts := make([]string, 0, len(msg))
			for _, m := range msg {
				if s, ok := m.(string); ok {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return string(data)
}

// Ping verifies the endpoint is reachable and the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var result struct {
		Res string `json:"res"`
	}
	return c.do(ctx, http.MethodGet, "/server/ping", nil, &result)
}
