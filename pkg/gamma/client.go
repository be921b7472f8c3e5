package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the metadata API base URL.
	DefaultBaseURL = "https://gamma-api.polymarket.com"

	defaultRateLimit = 10.0 // requests per second
	defaultBurst     = 5
)

// Client is a metadata API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a new metadata client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListEvents fetches events matching the filter.
func (c *Client) ListEvents(ctx context.Context, filter *EventsFilter) ([]Event, error) {
	params := url.Values{}
	if filter != nil {
		if filter.Slug != "" {
			params.Set("slug", filter.Slug)
		}
		if filter.Tag != "" {
			params.Set("tag", filter.Tag)
		}
		if filter.TagID != "" {
			params.Set("tag_id", filter.TagID)
		}
		if filter.Active != nil {
			params.Set("active", strconv.FormatBool(*filter.Active))
		}
		if filter.Closed != nil {
			params.Set("closed", strconv.FormatBool(*filter.Closed))
		}
		if filter.Limit > 0 {
			params.Set("limit", strconv.Itoa(filter.Limit))
		}
		if filter.Offset > 0 {
			params.Set("offset", strconv.Itoa(filter.Offset))
		}
	}

	var events []Event
	if err := c.get(ctx, "/events", params, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ListMarkets fetches markets matching the filter.
func (c *Client) ListMarkets(ctx context.Context, filter *MarketsFilter) ([]Market, error) {
	params := url.Values{}
	if filter != nil {
		if filter.Slug != "" {
			params.Set("slug", filter.Slug)
		}
		if filter.ConditionID != "" {
			params.Set("condition_ids", filter.ConditionID)
		}
		if filter.Active != nil {
			params.Set("active", strconv.FormatBool(*filter.Active))
		}
		if filter.Closed != nil {
			params.Set("closed", strconv.FormatBool(*filter.Closed))
		}
		if filter.Limit > 0 {
			params.Set("limit", strconv.Itoa(filter.Limit))
		}
		if filter.Offset > 0 {
			params.Set("offset", strconv.Itoa(filter.Offset))
		}
	}

	var markets []Market
	if err := c.get(ctx, "/markets", params, &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// ListTeams fetches the canonical team table.
func (c *Client) ListTeams(ctx context.Context) ([]TeamEntry, error) {
	var teams []TeamEntry
	if err := c.get(ctx, "/teams", nil, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// TokenIDs decodes a market's JSON-encoded token id array.
func (m *Market) TokenIDs() ([]string, error) {
	if m.ClobTokenIDs == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
		return nil, fmt.Errorf("decode token ids: %w", err)
	}
	return ids, nil
}

// get performs a GET request with rate limiting.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
