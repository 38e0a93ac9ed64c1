// Package strava implements the outbound API surface of the pipeline: the
// refresh-token exchange, the paginated activities fetch, and the shared
// retrying request wrapper that both go through.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"example.com/stravasync/internal/observability"
	"example.com/stravasync/internal/ratelimit"
)

const (
	defaultBaseURL = "https://www.strava.com"
	tokenPath      = "/oauth/token"
	athletePath    = "/api/v3/athlete"
	activitiesPath = "/api/v3/athlete/activities"

	// Fallback sleep for a 429 without a Retry-After header.
	rateLimitFallback = 60 * time.Second
)

// AuthError reports a non-success response from the token endpoint. It marks
// the athlete as skippable for the current run, not fatal for the batch.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, e.Body)
}

// ClientConfig contains tunables for the API client.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string // Defaults to the public Strava endpoint.
	Timeout      time.Duration
	MaxRetries   int
	InitialSleep time.Duration
}

// Client is a rate-governed Strava API client. All requests pass through one
// shared Governor so bursty multi-athlete iteration never exceeds the
// per-application ceilings.
type Client struct {
	cfg      ClientConfig
	http     *http.Client
	governor *ratelimit.Governor
	logger   *log.Logger

	sleep func(time.Duration)
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithLogger overrides the logger used to report retries.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig, governor *ratelimit.Governor, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialSleep <= 0 {
		cfg.InitialSleep = 5 * time.Second
	}
	c := &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		governor: governor,
		logger:   log.New(log.Writer(), "[strava] ", log.LstdFlags),
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange swaps a refresh token for a fresh access token. It performs no
// persistence; callers own writing a rotated refresh token back to the
// checkpoint (and roster) before the token is needed again.
func (c *Client) Exchange(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+tokenPath, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: "empty access_token in response"}
	}
	return &token, nil
}

// FetchAthlete returns the authenticated athlete's profile; used to backfill
// a missing athlete ID once an access token exists.
func (c *Client) FetchAthlete(ctx context.Context, accessToken string) (*AthleteSummary, error) {
	resp, err := c.get(ctx, c.cfg.BaseURL+athletePath, accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch athlete profile: status %d: %s", resp.StatusCode, string(body))
	}
	var profile AthleteSummary
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode athlete profile: %w", err)
	}
	return &profile, nil
}

// FetchActivity returns the detail view of a single activity; the webhook
// receiver uses it when an event names an activity by ID.
func (c *Client) FetchActivity(ctx context.Context, accessToken string, activityID int64) (*Activity, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/api/v3/activities/%d", c.cfg.BaseURL, activityID), accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch activity %d: status %d: %s", activityID, resp.StatusCode, string(body))
	}
	var act Activity
	if err := json.NewDecoder(resp.Body).Decode(&act); err != nil {
		return nil, fmt.Errorf("decode activity %d: %w", activityID, err)
	}
	return &act, nil
}

func (c *Client) get(ctx context.Context, rawURL, accessToken string, params url.Values) (*http.Response, error) {
	return c.doWithRetry(ctx, func() (*http.Request, error) {
		u := rawURL
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		return req, nil
	})
}

// doWithRetry is the single retrying-request primitive. Transport errors and
// 5xx responses retry with doubling delay; 429 defers to the governor's
// reactive rule (Retry-After when present, a fixed fallback otherwise);
// every other status is returned to the caller as-is.
func (c *Client) doWithRetry(ctx context.Context, newRequest func() (*http.Request, error)) (*http.Response, error) {
	delay := c.cfg.InitialSleep
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.governor.Admit()

		req, err := newRequest()
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// The send may never have reached the network, so it is
			// not recorded against the rate windows.
			lastErr = err
			observability.RecordRequest("error")
			c.logger.Printf("request error (attempt %d/%d): %v -- sleeping %s", attempt, c.cfg.MaxRetries, err, delay)
			c.sleep(delay)
			delay *= 2
			continue
		}

		c.governor.Record()

		if resp.StatusCode == http.StatusTooManyRequests {
			observability.RecordRequest("rate_limited")
			wait := retryAfter(resp)
			resp.Body.Close()
			lastErr = fmt.Errorf("rate limited (429)")
			c.governor.Backoff(wait)
			continue
		}

		if resp.StatusCode >= 500 {
			observability.RecordRequest("retry")
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			c.logger.Printf("server error %d (attempt %d/%d) -- sleeping %s", resp.StatusCode, attempt, c.cfg.MaxRetries, delay)
			c.sleep(delay)
			delay *= 2
			continue
		}

		observability.RecordRequest("ok")
		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return rateLimitFallback
}
