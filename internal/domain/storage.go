package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// TokenKind selects the authentication variant of a storage
type TokenKind int

const (
	// TokenNone marks a storage whose credentials are incomplete
	TokenNone TokenKind = iota
	// TokenPermanent is a static bearer token
	TokenPermanent
	// TokenOAuth is an OAuth2 authorization-code grant with refresh
	TokenOAuth
)

// String returns the variant name
func (k TokenKind) String() string {
	switch k {
	case TokenPermanent:
		return "permanent"
	case TokenOAuth:
		return "oauth2"
	default:
		return "none"
	}
}

// PermanentToken is a long-lived API token
type PermanentToken struct {
	Token string
}

// OAuthToken holds the OAuth2 application credentials and the persisted
// token location.
type OAuthToken struct {
	ClientID         string
	ClientSecret     string
	RedirectCallback string
	TokenPath        string
}

// TokenConfig is resolved once at config load. Exactly one of Permanent or
// OAuth is set, according to Kind.
type TokenConfig struct {
	Kind      TokenKind
	Permanent *PermanentToken
	OAuth     *OAuthToken
}

// Storage is one configured remote library.
type Storage struct {
	UID   int
	Name  string
	Host  string
	Token TokenConfig
}

// BaseURL returns the https origin of the library.
func (s Storage) BaseURL() string {
	return "https://" + s.Host
}

// NormalizeHost strips the scheme and trailing slashes from a configured
// library URL.
func NormalizeHost(raw string) string {
	host := strings.TrimSpace(raw)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimRight(host, "/")
}

// ResolveToken picks the token variant: a non-empty permanent token wins,
// otherwise OAuth2 credentials are used.
func ResolveToken(host, permanentToken string, oauth OAuthToken) (TokenConfig, error) {
	if !isValidHost(host) {
		return TokenConfig{}, fmt.Errorf("%w: invalid library url %q", ErrMissingCredentials, host)
	}
	if permanentToken != "" {
		return TokenConfig{
			Kind:      TokenPermanent,
			Permanent: &PermanentToken{Token: permanentToken},
		}, nil
	}
	if oauth.ClientID == "" || oauth.ClientSecret == "" || oauth.RedirectCallback == "" {
		return TokenConfig{}, fmt.Errorf("%w: client_id, client_secret and redirect_callback are required", ErrMissingCredentials)
	}
	o := oauth
	return TokenConfig{Kind: TokenOAuth, OAuth: &o}, nil
}

func isValidHost(host string) bool {
	if host == "" {
		return false
	}
	u, err := url.Parse("https://" + host)
	if err != nil {
		return false
	}
	return u.Host != "" && !strings.ContainsAny(u.Host, " \t")
}
