package qbo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// ScopeAccounting grants access to the accounting API.
const ScopeAccounting = "com.intuit.quickbooks.accounting"

// defaultExpiresIn is used when the token response carries no expiry.
const defaultExpiresIn = 3600

// Endpoint is the Intuit OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://appcenter.intuit.com/connect/oauth2",
	TokenURL:  "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// NewOAuthConfig returns the OAuth2 configuration of a registered app.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     Endpoint,
		Scopes:       []string{ScopeAccounting},
	}
}

// Grant is the token pair returned by the authorization server.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds
}

// Authenticator performs the authorization_code and refresh_token grants.
type Authenticator struct {
	cfg        *oauth2.Config
	httpClient *http.Client
	nowFunc    func() time.Time
}

// NewAuthenticator wraps an OAuth2 config. httpClient may be nil.
func NewAuthenticator(cfg *oauth2.Config, httpClient *http.Client) *Authenticator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Authenticator{cfg: cfg, httpClient: httpClient, nowFunc: time.Now}
}

// AuthCodeURL returns the consent page URL for a CSRF state value.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.cfg.AuthCodeURL(state)
}

// Exchange trades an authorization code for the first token pair.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*Grant, error) {
	tok, err := a.cfg.Exchange(a.withClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("qbo: exchanging authorization code: %w", err)
	}

	return a.grant(tok, "")
}

// Refresh trades a refresh token for a new pair. When the server omits a
// new refresh token the old one stays valid and is returned.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, errors.New("qbo: refresh token is empty")
	}

	src := a.cfg.TokenSource(a.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("qbo: refreshing token: %w", err)
	}

	return a.grant(tok, refreshToken)
}

func (a *Authenticator) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func (a *Authenticator) grant(tok *oauth2.Token, previousRefresh string) (*Grant, error) {
	if tok.AccessToken == "" {
		return nil, errors.New("qbo: token response has no access token")
	}

	g := &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
	}
	if g.RefreshToken == "" {
		g.RefreshToken = previousRefresh
	}
	if g.ExpiresIn <= 0 && !tok.Expiry.IsZero() {
		g.ExpiresIn = int64(tok.Expiry.Sub(a.nowFunc()).Round(time.Second).Seconds())
	}
	if g.ExpiresIn <= 0 {
		g.ExpiresIn = defaultExpiresIn
	}

	return g, nil
}
