package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/testutil"
)

func oauthStorage(tokenPath string) domain.Storage {
	return domain.Storage{
		UID:  7,
		Host: "example.bynder.com",
		Token: domain.TokenConfig{
			Kind: domain.TokenOAuth,
			OAuth: &domain.OAuthToken{
				ClientID:         "client",
				ClientSecret:     "secret",
				RedirectCallback: "https://cms.example.com/callback",
				TokenPath:        tokenPath,
			},
		},
	}
}

func TestNewAuthenticator_Variants(t *testing.T) {
	dir := t.TempDir()

	perm := domain.Storage{UID: 1, Host: "a.bynder.com", Token: domain.TokenConfig{
		Kind:      domain.TokenPermanent,
		Permanent: &domain.PermanentToken{Token: "perm"},
	}}
	a, err := NewAuthenticator(perm, dir)
	if err != nil {
		t.Fatalf("permanent: %v", err)
	}
	if !a.HasToken() {
		t.Error("permanent token storage always has a token")
	}
	if _, _, err := a.AuthCodeURL(); err == nil {
		t.Error("permanent token storage has no authorization url")
	}

	o, err := NewAuthenticator(oauthStorage(""), dir)
	if err != nil {
		t.Fatalf("oauth: %v", err)
	}
	if want := filepath.Join(dir, "bynder-token-7.json"); o.TokenPath() != want {
		t.Errorf("TokenPath = %s, want %s", o.TokenPath(), want)
	}
	if o.HasToken() {
		t.Error("no token has been stored yet")
	}

	if _, err := NewAuthenticator(domain.Storage{UID: 3}, dir); !errors.Is(err, domain.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestAuthCodeURL(t *testing.T) {
	a, err := NewAuthenticator(oauthStorage(""), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	raw, state, err := a.AuthCodeURL()
	if err != nil {
		t.Fatalf("AuthCodeURL failed: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	if u.Host != "example.bynder.com" || u.Path != "/v6/authentication/oauth2/auth" {
		t.Errorf("unexpected endpoint %s", raw)
	}
	q := u.Query()
	if q.Get("state") != state || state == "" {
		t.Errorf("state mismatch: %q vs %q", q.Get("state"), state)
	}
	if q.Get("client_id") != "client" || q.Get("redirect_uri") != "https://cms.example.com/callback" {
		t.Errorf("unexpected query %v", q)
	}
	if !strings.Contains(q.Get("scope"), "asset:read") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestExchangeAndAuthorizedClient(t *testing.T) {
	srv := testutil.NewBynderServer(t, testutil.MakeAssets(1))
	tokenFile := filepath.Join(t.TempDir(), "tokens", "token.json")

	a, err := NewAuthenticator(oauthStorage(tokenFile), "")
	if err != nil {
		t.Fatal(err)
	}
	a.config.Endpoint.TokenURL = srv.URL + tokenPath

	ctx := context.Background()
	if _, err := a.Exchange(ctx, "bad-code"); err == nil {
		t.Error("expected exchange with a bad code to fail")
	}
	if _, err := a.Exchange(ctx, ""); err == nil {
		t.Error("expected exchange with an empty code to fail")
	}

	token, err := a.Exchange(ctx, "good-code")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if token.AccessToken != "access-1" {
		t.Errorf("access token = %s", token.AccessToken)
	}

	info, err := os.Stat(tokenFile)
	if err != nil {
		t.Fatalf("token file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("token file mode = %v, want 0600", info.Mode().Perm())
	}
	if _, err := os.Stat(tokenFile + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp token file should be renamed away")
	}

	hc, err := a.HTTPClient(ctx, srv.Client())
	if err != nil {
		t.Fatalf("HTTPClient failed: %v", err)
	}
	c, err := NewClient(srv.URL, Options{HTTPClient: hc})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetAsset(ctx, "asset-0001"); err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if got := srv.LastAuthorization(); got != "Bearer access-1" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestHTTPClient_RefreshesAndPersists(t *testing.T) {
	srv := testutil.NewBynderServer(t, testutil.MakeAssets(1))
	tokenFile := filepath.Join(t.TempDir(), "token.json")

	expired, _ := json.Marshal(Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	})
	if err := os.WriteFile(tokenFile, expired, 0600); err != nil {
		t.Fatal(err)
	}

	a, err := NewAuthenticator(oauthStorage(tokenFile), "")
	if err != nil {
		t.Fatal(err)
	}
	a.config.Endpoint.TokenURL = srv.URL + tokenPath

	ctx := context.Background()
	hc, err := a.HTTPClient(ctx, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	c, _ := NewClient(srv.URL, Options{HTTPClient: hc})
	if _, err := c.CountAssets(ctx); err != nil {
		t.Fatalf("CountAssets failed: %v", err)
	}
	if got := srv.LastAuthorization(); got != "Bearer access-2" {
		t.Errorf("Authorization = %q, want refreshed token", got)
	}

	data, err := os.ReadFile(tokenFile)
	if err != nil {
		t.Fatal(err)
	}
	var stored Token
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatal(err)
	}
	if stored.AccessToken != "access-2" || stored.RefreshToken != "refresh-2" {
		t.Errorf("refreshed token not persisted: %+v", stored)
	}
}

func TestHTTPClient_PermanentToken(t *testing.T) {
	srv := testutil.NewBynderServer(t, testutil.MakeAssets(1))
	storage := domain.Storage{UID: 1, Host: "a.bynder.com", Token: domain.TokenConfig{
		Kind:      domain.TokenPermanent,
		Permanent: &domain.PermanentToken{Token: "perm-123"},
	}}

	a, err := NewAuthenticator(storage, "")
	if err != nil {
		t.Fatal(err)
	}
	hc, err := a.HTTPClient(context.Background(), srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	c, _ := NewClient(srv.URL, Options{HTTPClient: hc})
	if _, err := c.CountAssets(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := srv.LastAuthorization(); got != "Bearer perm-123" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestHTTPClient_OAuthWithoutToken(t *testing.T) {
	a, err := NewAuthenticator(oauthStorage(filepath.Join(t.TempDir(), "none.json")), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.HTTPClient(context.Background(), nil); !errors.Is(err, domain.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
}
