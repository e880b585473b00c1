// Package github connects the sync pipeline to the GitHub REST API:
// repository listings, commit and pull request history, and the
// X-RateLimit budget headers the gate runs on.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chrisgeo/mergestat-syncs/internal/domain/entity"
	"github.com/chrisgeo/mergestat-syncs/internal/observability/metrics"
	"github.com/chrisgeo/mergestat-syncs/internal/ratelimit"
	"github.com/chrisgeo/mergestat-syncs/internal/resilience/retry"
)

const defaultBaseURL = "https://api.github.com"

// Client is a thin GitHub REST client. It classifies failures and
// surfaces budget observations; pacing and waiting are the gate's job.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a client. baseURL is for GitHub Enterprise installs
// and tests; empty means api.github.com.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
	}
}

// Meta is the paging and budget metadata from one response.
type Meta struct {
	// Next is the absolute URL of the next page, empty on the last one.
	Next string

	// Rate is the budget observation from this response's headers, nil
	// when GitHub sent none.
	Rate *ratelimit.Observation
}

// URL joins a path onto the API base.
func (c *Client) URL(path string) string {
	return c.baseURL + path
}

// Get fetches one API URL and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, url string, out any) (*Meta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderRequest(string(entity.ProviderGitHub), "error")
		return nil, &entity.ProviderError{
			Provider: entity.ProviderGitHub,
			Kind:     entity.KindTransient,
			Msg:      "request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := c.apiError(resp)
		if entity.IsRateLimited(err) {
			metrics.RecordProviderRequest(string(entity.ProviderGitHub), "rate_limited")
		} else {
			metrics.RecordProviderRequest(string(entity.ProviderGitHub), "error")
		}
		return nil, err
	}

	metrics.RecordProviderRequest(string(entity.ProviderGitHub), "ok")

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, &entity.ProviderError{
			Provider: entity.ProviderGitHub,
			Kind:     entity.KindTransient,
			Msg:      "decode response",
			Err:      err,
		}
	}

	return &Meta{
		Next: nextLink(resp.Header.Get("Link")),
		Rate: rateObservation(resp.Header),
	}, nil
}

// apiError maps a non-2xx response onto the pipeline's error kinds.
func (c *Client) apiError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("GET %s: %s", resp.Request.URL.Path, strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &entity.ProviderError{Provider: entity.ProviderGitHub, Kind: entity.KindAuth, StatusCode: resp.StatusCode, Msg: msg}

	case resp.StatusCode == http.StatusNotFound:
		return &entity.ProviderError{Provider: entity.ProviderGitHub, Kind: entity.KindNotFound, StatusCode: resp.StatusCode, Msg: msg}

	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return &entity.ProviderError{
			Provider:   entity.ProviderGitHub,
			Kind:       entity.KindRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header),
			Msg:        msg,
		}

	case resp.StatusCode == http.StatusForbidden:
		return &entity.ProviderError{Provider: entity.ProviderGitHub, Kind: entity.KindAuth, StatusCode: resp.StatusCode, Msg: msg}

	case resp.StatusCode >= 500:
		return &entity.ProviderError{Provider: entity.ProviderGitHub, Kind: entity.KindTransient, StatusCode: resp.StatusCode, Msg: msg}
	}

	return &retry.HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

// rateObservation reads the X-RateLimit headers, nil when absent.
func rateObservation(h http.Header) *ratelimit.Observation {
	remaining := h.Get("X-RateLimit-Remaining")
	reset := h.Get("X-RateLimit-Reset")
	if remaining == "" || reset == "" {
		return nil
	}

	rem, err := strconv.Atoi(remaining)
	if err != nil {
		return nil
	}
	unix, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return nil
	}

	return &ratelimit.Observation{
		Remaining: rem,
		ResetAt:   time.Unix(unix, 0),
		At:        time.Now(),
	}
}

// retryAfter reads Retry-After (seconds) or derives the wait from
// X-RateLimit-Reset. Zero when neither is present.
func retryAfter(h http.Header) time.Duration {
	if s := h.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if s := h.Get("X-RateLimit-Reset"); s != "" {
		if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
			if d := time.Until(time.Unix(unix, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}

// nextLink extracts the rel="next" URL from a Link header, empty when
// the listing is on its last page.
func nextLink(link string) string {
	for _, part := range strings.Split(link, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		if strings.TrimSpace(section[1]) != `rel="next"` {
			continue
		}
		url := strings.TrimSpace(section[0])
		return strings.Trim(url, "<>")
	}
	return ""
}
