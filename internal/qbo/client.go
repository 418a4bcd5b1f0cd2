package qbo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Base URLs of the accounting API.
const (
	ProductionBaseURL = "https://quickbooks.api.intuit.com"
	SandboxBaseURL    = "https://sandbox-quickbooks.api.intuit.com"
)

// Retry and backoff constants.
const (
	maxRetries     = 4
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "eeetrading-sync/1.0"
)

// BaseURL returns the API base URL for an environment name.
func BaseURL(environment string) string {
	if environment == "production" {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// TokenSource provides OAuth2 bearer tokens.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource bound to one access token.
type StaticToken string

// Token returns the access token.
func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// ClientConfig holds the connection parameters of a Client.
type ClientConfig struct {
	BaseURL      string
	RealmID      string
	MinorVersion string
	HTTPClient   *http.Client
}

// Client talks to one company (realm) of the accounting API.
type Client struct {
	baseURL      string
	realmID      string
	minorVersion string
	httpClient   *http.Client
	token        TokenSource
	logger       *slog.Logger

	// sleepFunc waits between retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an API client bound to a realm and a token source.
func NewClient(cfg ClientConfig, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = SandboxBaseURL
	}

	return &Client{
		baseURL:      baseURL,
		realmID:      cfg.RealmID,
		minorVersion: cfg.MinorVersion,
		httpClient:   httpClient,
		token:        token,
		logger:       logger,
		sleepFunc:    timeSleep,
	}
}

// RealmID returns the company the client is bound to.
func (c *Client) RealmID() string {
	return c.realmID
}

// do sends one logical request and decodes a successful JSON body into out.
// Writes carry a requestid query parameter that stays the same across
// retries, so the server deduplicates a retried create. params may be nil.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload, out any) error {
	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	if c.minorVersion != "" {
		query.Set("minorversion", c.minorVersion)
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("qbo: encoding request: %w", err)
		}
		query.Set("requestid", uuid.NewString())
	}

	target := fmt.Sprintf("%s/v3/company/%s%s", c.baseURL, url.PathEscape(c.realmID), path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, target, body)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("qbo: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return fmt.Errorf("qbo: request canceled: %w", sleepErr)
				}
				attempt++
				continue
			}

			return fmt.Errorf("qbo: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("qbo: reading response: %w", readErr)
		}

		tid := resp.Header.Get("intuit_tid")
		fault := parseFault(respBody)

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices && fault == nil {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.String("intuit_tid", tid),
			)

			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("qbo: decoding response: %w", err)
			}
			return nil
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return fmt.Errorf("qbo: request canceled: %w", err)
			}
			attempt++
			continue
		}

		apiErr := &Error{
			StatusCode: resp.StatusCode,
			IntuitTID:  tid,
			Fault:      fault,
			Err:        classify(resp.StatusCode, fault),
		}
		if fault == nil {
			apiErr.Body = string(respBody)
		}

		return apiErr
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// retryBackoff honors Retry-After on 429 responses.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
