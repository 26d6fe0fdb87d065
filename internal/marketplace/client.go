package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"listing-repricer/internal/config"
)

const searchPath = "/buy/browse/v1/item_summary/search"

// ClientOptions parameterise the marketplace search client.
type ClientOptions struct {
	BaseURL    string
	Timeout    time.Duration
	MaxResults int
	MaxRetries int
	Rate       rate.Limit
	Burst      int
}

// Client issues browse searches against the marketplace API. All calls pass
// through a shared token bucket so one run never exceeds upstream quota.
type Client struct {
	opts    ClientOptions
	baseURL string
	client  *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient constructs a marketplace search client.
func NewClient(cfg config.MarketplaceConfig, tokens TokenSource, logger zerolog.Logger) *Client {
	opts := ClientOptions{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.RequestTimeout,
		MaxResults: cfg.MaxResults,
		MaxRetries: cfg.MaxRetries,
		Rate:       rate.Limit(cfg.RatePerSecond),
		Burst:      cfg.RateBurst,
	}
	return NewClientWithOptions(opts, tokens, logger)
}

// NewClientWithOptions constructs a client from explicit options.
func NewClientWithOptions(opts ClientOptions, tokens TokenSource, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 50
	}
	if opts.Rate <= 0 {
		opts.Rate = rate.Limit(2)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &Client{
		opts:    opts,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  &http.Client{Timeout: opts.Timeout},
		tokens:  tokens,
		limiter: rate.NewLimiter(opts.Rate, opts.Burst),
		logger:  logger.With().Str("component", "marketplace_client").Logger(),
	}
}

// Search performs one upstream search and returns normalized candidates.
// Transient failures are retried with backoff up to MaxRetries; auth and
// validation failures surface immediately.
func (c *Client) Search(ctx context.Context, query Query) ([]Candidate, error) {
	if c.baseURL == "" {
		return nil, errors.New("marketplace base URL not configured")
	}
	if query.ProductCode == "" && query.Title == "" {
		return nil, errors.New("query requires a product code or title")
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			c.logger.Debug().Int("attempt", attempt).Msg("retrying marketplace search")
		}

		candidates, err := c.searchOnce(ctx, query)
		if err == nil {
			return candidates, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) searchOnce(ctx context.Context, query Query) ([]Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	limit := query.Limit
	if limit <= 0 || limit > c.opts.MaxResults {
		limit = c.opts.MaxResults
	}

	params := url.Values{}
	if query.ProductCode != "" {
		params.Set("gtin", query.ProductCode)
	} else {
		params.Set("q", query.Title)
		if query.CategoryID != "" {
			params.Set("category_ids", query.CategoryID)
		}
	}
	params.Set("limit", strconv.Itoa(limit))

	endpoint := c.baseURL + searchPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("marketplace search: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("read search response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	candidates := make([]Candidate, 0, len(payload.ItemSummaries))
	for _, item := range payload.ItemSummaries {
		price, err := decimal.NewFromString(item.Price.Value)
		if err != nil {
			c.logger.Debug().Str("item_id", item.ItemID).Str("price", item.Price.Value).Msg("dropping candidate with unparsable price")
			continue
		}
		candidates = append(candidates, Candidate{
			ItemID:    item.ItemID,
			Title:     item.Title,
			Price:     price,
			Currency:  item.Price.Currency,
			SellerID:  item.Seller.Username,
			Condition: item.Condition,
		})
	}
	return candidates, nil
}

type searchResponse struct {
	ItemSummaries []struct {
		ItemID string `json:"itemId"`
		Title  string `json:"title"`
		Price  struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"price"`
		Seller struct {
			Username string `json:"username"`
		} `json:"seller"`
		Condition string `json:"condition"`
	} `json:"itemSummaries"`
}

var _ SearchProvider = (*Client)(nil)
