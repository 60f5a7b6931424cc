package remote

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"

	"github.com/jweiland-net/bynder2/internal/domain"
)

const (
	// DefaultTokenFile is the token file name under the data directory
	DefaultTokenFile = "bynder-token-%d.json"

	authPath  = "/v6/authentication/oauth2/auth"
	tokenPath = "/v6/authentication/oauth2/token"
)

// Scopes requested for the authorization-code grant. Only read access to
// assets is needed.
var Scopes = []string{"offline", "asset:read", "collection:read", "meta.assetbank:read"}

// Token is the persisted form of an OAuth2 token.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

func (t *Token) toOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

func fromOAuth2Token(t *oauth2.Token) *Token {
	return &Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

// Authenticator produces authorized HTTP clients for one storage.
type Authenticator struct {
	storage   domain.Storage
	config    *oauth2.Config
	tokenPath string
}

// NewAuthenticator creates an authenticator for storage. dataDir is used to
// place the token file when the storage does not name one.
func NewAuthenticator(storage domain.Storage, dataDir string) (*Authenticator, error) {
	a := &Authenticator{storage: storage}

	switch storage.Token.Kind {
	case domain.TokenPermanent:
		if storage.Token.Permanent == nil || storage.Token.Permanent.Token == "" {
			return nil, fmt.Errorf("%w: empty permanent token", domain.ErrMissingCredentials)
		}
	case domain.TokenOAuth:
		o := storage.Token.OAuth
		if o == nil {
			return nil, fmt.Errorf("%w: storage %d", domain.ErrMissingCredentials, storage.UID)
		}
		a.config = &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			RedirectURL:  o.RedirectCallback,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   storage.BaseURL() + authPath,
				TokenURL:  storage.BaseURL() + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		a.tokenPath = o.TokenPath
		if a.tokenPath == "" {
			a.tokenPath = filepath.Join(dataDir, fmt.Sprintf(DefaultTokenFile, storage.UID))
		}
	default:
		return nil, fmt.Errorf("%w: storage %d", domain.ErrMissingCredentials, storage.UID)
	}

	return a, nil
}

// HTTPClient returns a client that authorizes every request. base carries
// the timeouts; its transport is reused.
func (a *Authenticator) HTTPClient(ctx context.Context, base *http.Client) (*http.Client, error) {
	if base == nil {
		base = NewHTTPClient(DefaultConnectTimeout, DefaultTimeout, nil)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	var src oauth2.TokenSource
	switch a.storage.Token.Kind {
	case domain.TokenPermanent:
		src = oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: a.storage.Token.Permanent.Token,
			TokenType:   "Bearer",
		})
	case domain.TokenOAuth:
		token, err := a.loadToken()
		if err != nil {
			return nil, fmt.Errorf("%w: no token for storage %d, run 'bynder2 auth url' first", domain.ErrMissingCredentials, a.storage.UID)
		}
		src = &persistingSource{
			base: a.config.TokenSource(ctx, token),
			last: token.AccessToken,
			save: a.saveToken,
		}
	}

	client := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, src))
	client.Timeout = base.Timeout
	return client, nil
}

// persistingSource stores every refreshed token.
type persistingSource struct {
	base oauth2.TokenSource
	last string
	save func(*oauth2.Token) error
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	t, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if t.AccessToken != s.last {
		s.last = t.AccessToken
		if err := s.save(t); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
	}
	return t, nil
}

// generateRandomState generates a cryptographically secure random state string
func generateRandomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// AuthCodeURL returns the authorization URL and the state it carries.
func (a *Authenticator) AuthCodeURL() (authURL, state string, err error) {
	if a.config == nil {
		return "", "", fmt.Errorf("storage %d uses a permanent token", a.storage.UID)
	}
	state, err = generateRandomState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline), state, nil
}

// Exchange trades an authorization code for a token and stores it.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if a.config == nil {
		return nil, fmt.Errorf("storage %d uses a permanent token", a.storage.UID)
	}
	if code == "" {
		return nil, errors.New("authorization code cannot be empty")
	}

	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	if err := a.saveToken(token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	return token, nil
}

// HasToken reports whether a usable token is configured or stored.
func (a *Authenticator) HasToken() bool {
	if a.storage.Token.Kind == domain.TokenPermanent {
		return true
	}
	_, err := a.loadToken()
	return err == nil
}

func (a *Authenticator) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.tokenPath)
	if err != nil {
		return nil, err
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("invalid token file: %w", err)
	}
	return token.toOAuth2Token(), nil
}

// saveToken writes the token atomically using a temp file and rename.
func (a *Authenticator) saveToken(token *oauth2.Token) error {
	dir := filepath.Dir(a.tokenPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fromOAuth2Token(token), "", "  ")
	if err != nil {
		return err
	}

	tempPath := a.tokenPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp token file: %w", err)
	}
	if err := os.Rename(tempPath, a.tokenPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename token file: %w", err)
	}
	return nil
}

// TokenPath returns the path where the OAuth token is stored
func (a *Authenticator) TokenPath() string {
	return a.tokenPath
}

// Storage returns the storage this authenticator serves.
func (a *Authenticator) Storage() domain.Storage {
	return a.storage
}

// Open builds an authorized Client for storage.
func Open(ctx context.Context, storage domain.Storage, dataDir string, opts Options) (*Client, error) {
	auth, err := NewAuthenticator(storage, dataDir)
	if err != nil {
		return nil, err
	}
	httpClient, err := auth.HTTPClient(ctx, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	opts.HTTPClient = httpClient
	return NewClient(storage.BaseURL(), opts)
}
