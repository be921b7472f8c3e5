package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the primary market-data API base URL.
	DefaultBaseURL = "https://clob.polymarket.com"

	defaultRateLimit = 10.0 // requests per second
	defaultBurst     = 5
)

// Client is a read-only market-data API client.
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

// WithRateLimit sets custom rate limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a new market-data client.
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

// GetMarket fetches a single market by condition id.
func (c *Client) GetMarket(ctx context.Context, conditionID string) (*Market, error) {
	var market Market
	if err := c.get(ctx, "/markets/"+conditionID, nil, &market); err != nil {
		return nil, err
	}
	if market.ConditionID == "" {
		return nil, fmt.Errorf("market not found: %s", conditionID)
	}
	return &market, nil
}

// ListMarkets fetches one page of the market list.
func (c *Client) ListMarkets(ctx context.Context, cursor string) (*MarketsPage, error) {
	params := url.Values{}
	if cursor != "" {
		params.Set("next_cursor", cursor)
	}
	var page MarketsPage
	if err := c.get(ctx, "/markets", params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAllMarkets walks the cursor pagination to the end.
func (c *Client) ListAllMarkets(ctx context.Context) ([]Market, error) {
	var all []Market
	cursor := ""
	for {
		page, err := c.ListMarkets(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if page.NextCursor == "" || page.NextCursor == EndCursor {
			break
		}
		cursor = page.NextCursor
	}
	return all, nil
}

// GetOrderBook fetches the book for a token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)
	var book OrderBook
	if err := c.get(ctx, "/book", params, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// BookDepth returns the notional depth of a book in dollars, summing
// price*size across both sides.
func BookDepth(book *OrderBook) decimal.Decimal {
	depth := decimal.Zero
	for _, side := range [][]PriceLevel{book.Bids, book.Asks} {
		for _, level := range side {
			price, err1 := strconv.ParseFloat(level.Price, 64)
			size, err2 := strconv.ParseFloat(level.Size, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			depth = depth.Add(decimal.NewFromFloat(price * size))
		}
	}
	return depth
}

// BestAsk returns the lowest ask price, or 0 when the book is empty.
func BestAsk(book *OrderBook) float64 {
	best := 0.0
	for _, level := range book.Asks {
		price, err := strconv.ParseFloat(level.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		if best == 0 || price < best {
			best = price
		}
	}
	return best
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
