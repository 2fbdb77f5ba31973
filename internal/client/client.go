package client

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

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/userpki/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds common client configuration
type Config struct {
	ServerURL string
	Timeout   time.Duration
	Debug     bool

	// MaxRetryTime bounds how long a rate limited request is retried. Zero disables retries.
	MaxRetryTime time.Duration
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL:    "http://localhost:8080",
		Timeout:      time.Minute,
		MaxRetryTime: 10 * time.Second,
	}
}

// APIError is a non 2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// IssueResult is the response to a certificate generation.
// PrivateKey is only ever returned here.
type IssueResult struct {
	Message     string              `json:"message"`
	Certificate *models.Certificate `json:"certificate"`
	PrivateKey  string              `json:"privateKey"`
}

// VerifyResult is the response for a current certificate.
type VerifyResult struct {
	Valid       bool                `json:"valid"`
	Certificate *models.Certificate `json:"certificate"`
}

type Client struct {
	baseURL      string
	httpClient   *http.Client
	maxRetryTime time.Duration
}

// NewClient creates a client. The transport is instrumented with otelhttp.
func NewClient(config Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(config.ServerURL, "/"),
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxRetryTime: config.MaxRetryTime,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) Issue(ctx context.Context, userID, email string) (*IssueResult, error) {
	var res IssueResult
	if err := c.post(ctx, "/generate-certificate", map[string]string{"userId": userID, "email": email}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Verify(ctx context.Context, userID, email string) (*VerifyResult, error) {
	var res VerifyResult
	if err := c.post(ctx, "/verify-certificate", map[string]string{"userId": userID, "email": email}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) PublicKey(ctx context.Context, userID string) (string, error) {
	var res struct {
		PublicKey string `json:"publicKey"`
	}
	if err := c.post(ctx, "/get-public-key", map[string]string{"userId": userID}, &res); err != nil {
		return "", err
	}
	return res.PublicKey, nil
}

// post sends body as JSON and decodes a 200 response into out.
// 429 responses are retried since the server rejects them before doing any work.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	if c.maxRetryTime <= 0 {
		return c.send(ctx, path, payload, out)
	}

	send := func() (struct{}, error) {
		err := c.send(ctx, path, payload, out)
		if err != nil && !IsStatus(err, http.StatusTooManyRequests) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err = backoff.Retry(ctx, send,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(c.maxRetryTime),
		backoff.WithNotify(func(err error, d time.Duration) {
			zerolog.Ctx(ctx).Debug().Err(err).Dur("wait", d).Str("path", path).Msg("Rate limited, retrying")
		}))
	return err
}

func (c *Client) send(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			msg = errBody.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
