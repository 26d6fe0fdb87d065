// Package gateway holds the outbound price-commit contract. The remote
// endpoint is idempotent for a given (listing, price) pair, so a retried or
// duplicated apply call is safe.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"listing-repricer/internal/config"
	"listing-repricer/internal/marketplace"
)

// Receipt confirms one applied price change at the remote system.
type Receipt struct {
	Applied         bool
	RemoteReference string
}

// PriceApplier commits a new price for a listing at the marketplace.
type PriceApplier interface {
	Apply(ctx context.Context, externalID string, price decimal.Decimal, currency string) (Receipt, error)
}

// HTTPGateway applies prices through the marketplace's pricing endpoint.
type HTTPGateway struct {
	baseURL    string
	client     *http.Client
	tokens     marketplace.TokenSource
	maxRetries int
	logger     zerolog.Logger
}

// NewHTTPGateway constructs the HTTP price-apply gateway.
func NewHTTPGateway(cfg config.GatewayConfig, tokens marketplace.TokenSource, logger zerolog.Logger) *HTTPGateway {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		tokens:     tokens,
		maxRetries: cfg.MaxRetries,
		logger:     logger.With().Str("component", "price_gateway").Logger(),
	}
}

type applyRequest struct {
	ListingID string `json:"listing_id"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	RequestID string `json:"request_id"`
}

type applyResponse struct {
	Applied   bool   `json:"applied"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// Apply commits the price remotely. Transient failures are retried with the
// same request_id so the remote side can deduplicate; auth and validation
// failures surface immediately.
func (g *HTTPGateway) Apply(ctx context.Context, externalID string, price decimal.Decimal, currency string) (Receipt, error) {
	if g.baseURL == "" {
		return Receipt{}, fmt.Errorf("gateway base URL not configured")
	}

	payload := applyRequest{
		ListingID: externalID,
		Price:     price.StringFixed(2),
		Currency:  currency,
		RequestID: uuid.NewString(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal apply payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Receipt{}, ctx.Err()
			case <-timer.C:
			}
			g.logger.Debug().Int("attempt", attempt).Str("listing", externalID).Msg("retrying price apply")
		}

		receipt, err := g.applyOnce(ctx, body)
		if err == nil {
			g.logger.Info().
				Str("listing", externalID).
				Str("price", payload.Price).
				Str("reference", receipt.RemoteReference).
				Msg("price applied")
			return receipt, nil
		}
		lastErr = err
		if !marketplace.IsTransient(err) {
			return Receipt{}, err
		}
	}
	return Receipt{}, lastErr
}

func (g *HTTPGateway) applyOnce(ctx context.Context, body []byte) (Receipt, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("acquire token: %w", err)
	}

	endpoint := g.baseURL + "/sell/pricing/v1/price"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create apply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return Receipt{}, marketplace.Transient(fmt.Errorf("apply price: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Receipt{}, marketplace.Transient(fmt.Errorf("read apply response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, classify(resp.StatusCode, respBody)
	}

	var result applyResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Receipt{}, fmt.Errorf("decode apply response: %w", err)
	}
	if !result.Applied {
		return Receipt{}, fmt.Errorf("remote declined price change: %s", result.Message)
	}
	return Receipt{Applied: true, RemoteReference: result.Reference}, nil
}

func classify(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var apiErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w (%d): %s", marketplace.ErrAuth, status, msg)
	case status >= 500:
		return marketplace.Transient(fmt.Errorf("gateway error (%d): %s", status, msg))
	default:
		return fmt.Errorf("gateway rejected price change (%d): %s", status, msg)
	}
}

var _ PriceApplier = (*HTTPGateway)(nil)
