// Package oauth exchanges Google authorization codes for verified identities.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/homenavi/auth-service/internal/auth"
)

// GoogleEndpoint is Google's OAuth 2.0 authorization server
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// GoogleUserInfoURL returns the profile of the token's owner
const GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// ErrExchange covers every failure talking to the provider
var ErrExchange = errors.New("oauth exchange failed")

// GoogleConfig configures the provider. Empty Endpoint and UserInfoURL select Google's.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
	Timeout      time.Duration
}

// Google signs users in with their Google account
type Google struct {
	cfg         oauth2.Config
	userInfoURL string
	client      *http.Client
}

// NewGoogle creates the provider
func NewGoogle(c GoogleConfig) *Google {
	if c.Endpoint.TokenURL == "" {
		c.Endpoint = GoogleEndpoint
	}
	if c.UserInfoURL == "" {
		c.UserInfoURL = GoogleUserInfoURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return &Google{
		cfg: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     c.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: c.UserInfoURL,
		client:      &http.Client{Timeout: c.Timeout},
	}
}

// RedirectURL is the callback registered with Google
func (g *Google) RedirectURL() string { return g.cfg.RedirectURL }

// AuthCodeURL returns the consent page URL carrying state
func (g *Google) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

// Exchange trades an authorization code for the identity of the Google account behind it
func (g *Google) Exchange(ctx context.Context, code string) (auth.ExternalIdentity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return auth.ExternalIdentity{}, fmt.Errorf("%w: token: %v", ErrExchange, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return auth.ExternalIdentity{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	resp, err := g.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return auth.ExternalIdentity{}, fmt.Errorf("%w: userinfo: %v", ErrExchange, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return auth.ExternalIdentity{}, fmt.Errorf("%w: userinfo status %d", ErrExchange, resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return auth.ExternalIdentity{}, fmt.Errorf("%w: decode userinfo: %v", ErrExchange, err)
	}
	return auth.ExternalIdentity{
		Provider:      "google",
		Subject:       info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		FirstName:     info.GivenName,
		LastName:      info.FamilyName,
	}, nil
}

// NewState returns a random single-use state value
func NewState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// StateMatches compares the state Google echoed with the one stored in the browser
func StateMatches(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
