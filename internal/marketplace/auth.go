package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"listing-repricer/internal/config"
)

// TokenSource yields a bearer token for outbound marketplace calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token. Used for tests and sandbox keys.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty static token", ErrAuth)
	}
	return string(s), nil
}

// OAuthTokenSource performs the client-credentials exchange and caches the
// access token until shortly before expiry.
type OAuthTokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scopes       []string
	client       *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewOAuthTokenSource constructs a client-credentials token source.
func NewOAuthTokenSource(cfg config.AuthConfig, timeout time.Duration) *OAuthTokenSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OAuthTokenSource{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       cfg.Scopes,
		client:       &http.Client{Timeout: timeout},
	}
}

// Token returns a cached access token, refreshing it when expired.
func (s *OAuthTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiresAt) {
		return s.token, nil
	}
	return s.refresh(ctx)
}

func (s *OAuthTokenSource) refresh(ctx context.Context) (string, error) {
	if s.tokenURL == "" || s.clientID == "" || s.clientSecret == "" {
		return "", fmt.Errorf("%w: oauth credentials not configured", ErrAuth)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if len(s.scopes) > 0 {
		form.Set("scope", strings.Join(s.scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.clientID, s.clientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", Transient(fmt.Errorf("token exchange: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Transient(fmt.Errorf("read token response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: token response without access_token", ErrAuth)
	}

	s.token = payload.AccessToken
	// Refresh one minute early so in-flight batches never race expiry.
	s.expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - time.Minute)
	return s.token, nil
}

var _ TokenSource = (*OAuthTokenSource)(nil)
var _ TokenSource = StaticTokenSource("")
