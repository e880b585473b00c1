// Package gitlab connects the sync pipeline to the GitLab REST API.
// Listings page with page/per_page numbering; budget observations come
// from the RateLimit-* response headers.
package gitlab

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

const defaultBaseURL = "https://gitlab.com/api/v4"

// Client is a thin GitLab REST client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a client. baseURL is for self-hosted installs and
// tests; empty means gitlab.com.
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

// Meta is the budget metadata from one response.
type Meta struct {
	Rate *ratelimit.Observation
}

// GetPage fetches one numbered page of an API path (path already
// includes any query besides paging) and decodes the body into out.
func (c *Client) GetPage(ctx context.Context, path string, page, perPage int, out any) (*Meta, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	url := fmt.Sprintf("%s%s%spage=%d&per_page=%d", c.baseURL, path, sep, page, perPage)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("PRIVATE-TOKEN", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderRequest(string(entity.ProviderGitLab), "error")
		return nil, &entity.ProviderError{
			Provider: entity.ProviderGitLab,
			Kind:     entity.KindTransient,
			Msg:      "request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := c.apiError(resp)
		if entity.IsRateLimited(err) {
			metrics.RecordProviderRequest(string(entity.ProviderGitLab), "rate_limited")
		} else {
			metrics.RecordProviderRequest(string(entity.ProviderGitLab), "error")
		}
		return nil, err
	}

	metrics.RecordProviderRequest(string(entity.ProviderGitLab), "ok")

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, &entity.ProviderError{
			Provider: entity.ProviderGitLab,
			Kind:     entity.KindTransient,
			Msg:      "decode response",
			Err:      err,
		}
	}

	return &Meta{Rate: rateObservation(resp.Header)}, nil
}

func (c *Client) apiError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("GET %s: %s", resp.Request.URL.Path, strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &entity.ProviderError{Provider: entity.ProviderGitLab, Kind: entity.KindAuth, StatusCode: resp.StatusCode, Msg: msg}

	case resp.StatusCode == http.StatusNotFound:
		return &entity.ProviderError{Provider: entity.ProviderGitLab, Kind: entity.KindNotFound, StatusCode: resp.StatusCode, Msg: msg}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &entity.ProviderError{
			Provider:   entity.ProviderGitLab,
			Kind:       entity.KindRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header),
			Msg:        msg,
		}

	case resp.StatusCode >= 500:
		return &entity.ProviderError{Provider: entity.ProviderGitLab, Kind: entity.KindTransient, StatusCode: resp.StatusCode, Msg: msg}
	}

	return &retry.HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

// rateObservation reads the RateLimit-* headers GitLab attaches to
// throttled endpoints, nil when absent.
func rateObservation(h http.Header) *ratelimit.Observation {
	remaining := h.Get("RateLimit-Remaining")
	reset := h.Get("RateLimit-Reset")
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

func retryAfter(h http.Header) time.Duration {
	if s := h.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if s := h.Get("RateLimit-Reset"); s != "" {
		if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
			if d := time.Until(time.Unix(unix, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}
