package marketplace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"listing-repricer/internal/config"
)

func TestStaticTokenSource(t *testing.T) {
	token, err := StaticTokenSource("sandbox-key").Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "sandbox-key" {
		t.Fatalf("unexpected token %q", token)
	}

	if _, err := StaticTokenSource("").Token(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("empty static token should fail with ErrAuth, got %v", err)
	}
}

func TestOAuthTokenSourceCachesToken(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("unexpected basic auth %q/%q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("unexpected grant_type %q", got)
		}
		if got := r.PostForm.Get("scope"); got != "https://api.example.com/oauth/api_scope" {
			t.Errorf("unexpected scope %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "tok-1", "expires_in": 7200, "token_type": "Bearer"}`))
	}))
	defer server.Close()

	source := NewOAuthTokenSource(config.AuthConfig{
		TokenURL:     server.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scopes:       []string{"https://api.example.com/oauth/api_scope"},
	}, 5*time.Second)

	for i := 0; i < 3; i++ {
		token, err := source.Token(context.Background())
		if err != nil {
			t.Fatalf("Token call %d: %v", i, err)
		}
		if token != "tok-1" {
			t.Fatalf("unexpected token %q", token)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("token should be cached across calls, got %d exchanges", calls.Load())
	}
}

func TestOAuthTokenSourceRefreshesExpired(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// expires_in below the one minute early-refresh margin, so the cached
		// token is already considered expired on the next call.
		w.Write([]byte(`{"access_token": "tok", "expires_in": 30, "token_type": "Bearer"}`))
	}))
	defer server.Close()

	source := NewOAuthTokenSource(config.AuthConfig{
		TokenURL:     server.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}, 5*time.Second)

	for i := 0; i < 2; i++ {
		if _, err := source.Token(context.Background()); err != nil {
			t.Fatalf("Token call %d: %v", i, err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("expired token should be re-exchanged, got %d exchanges", calls.Load())
	}
}

func TestOAuthTokenSourceRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_client", http.StatusUnauthorized)
	}))
	defer server.Close()

	source := NewOAuthTokenSource(config.AuthConfig{
		TokenURL:     server.URL,
		ClientID:     "client-id",
		ClientSecret: "wrong",
	}, 5*time.Second)

	if _, err := source.Token(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestOAuthTokenSourceMissingCredentials(t *testing.T) {
	source := NewOAuthTokenSource(config.AuthConfig{}, 0)
	if _, err := source.Token(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth for missing credentials, got %v", err)
	}
}
