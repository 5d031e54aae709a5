package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeGoogle serves the token and userinfo endpoints for the code "good-code"
func fakeGoogle(t *testing.T, info map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGoogle(srv *httptest.Server) *Google {
	return NewGoogle(GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://home.example.com/oauth/google/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: srv.URL + "/userinfo",
	})
}

func TestGoogle_Exchange(t *testing.T) {
	srv := fakeGoogle(t, map[string]any{
		"id": "10769150350006150715113082367", "email": "gail@example.com", "verified_email": true,
		"given_name": "Gail", "family_name": "Oogle",
	})
	g := newTestGoogle(srv)

	id, err := g.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "google", id.Provider)
	assert.Equal(t, "10769150350006150715113082367", id.Subject)
	assert.Equal(t, "gail@example.com", id.Email)
	assert.True(t, id.EmailVerified)
	assert.Equal(t, "Gail", id.FirstName)
	assert.Equal(t, "Oogle", id.LastName)
}

func TestGoogle_ExchangeRejected(t *testing.T) {
	g := newTestGoogle(fakeGoogle(t, map[string]any{}))

	_, err := g.Exchange(context.Background(), "stolen-code")
	assert.ErrorIs(t, err, ErrExchange)
}

func TestGoogle_UserInfoFailure(t *testing.T) {
	srv := fakeGoogle(t, map[string]any{})
	g := newTestGoogle(srv)
	g.userInfoURL = srv.URL + "/missing"

	_, err := g.Exchange(context.Background(), "good-code")
	assert.ErrorIs(t, err, ErrExchange)
}

func TestGoogle_AuthCodeURL(t *testing.T) {
	g := NewGoogle(GoogleConfig{ClientID: "client-id", RedirectURL: "https://home.example.com/cb"})

	u, err := url.Parse(g.AuthCodeURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", u.Host)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "https://home.example.com/cb", q.Get("redirect_uri"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Contains(t, q.Get("scope"), "email")
}

func TestState(t *testing.T) {
	a, err := NewState()
	require.NoError(t, err)
	b, err := NewState()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)

	assert.True(t, StateMatches(a, a))
	assert.False(t, StateMatches(a, b))
	assert.False(t, StateMatches("", ""), "a missing cookie never matches")
}
