package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/homenavi/auth-service/internal/app"
	"github.com/homenavi/auth-service/internal/config"
	"github.com/homenavi/auth-service/internal/oauth"
	"github.com/homenavi/auth-service/internal/repo/memrepo"
)

type lockoutBody struct {
	Error     string `json:"error"`
	Reason    string `json:"reason"`
	Remaining int64  `json:"lockout_remaining"`
	UnlockAt  int64  `json:"unlock_at"`
}

// postFrom sends a JSON POST claiming to come from ip through a proxy header
func (s *testServer) postFrom(t *testing.T, ip, path string, body any) (int, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.Server.URL+path, strings.NewReader(string(raw)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", ip)
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestE2E_LoginLockoutIgnoresClientAddress(t *testing.T) {
	ts := newMemoryServer(t, nil)
	ts.signup(t, "rupert")
	wrong := map[string]string{"email": "rupert@homenavi.test", "password": "Wrong-Password-9"}

	for i := 0; i < 4; i++ {
		status, raw := ts.postFrom(t, fmt.Sprintf("198.51.100.%d", i+1), "/login/start", wrong)
		require.Equal(t, http.StatusUnauthorized, status, "attempt %d: %s", i+1, raw)
	}
	status, raw := ts.postFrom(t, "198.51.100.99", "/login/start", wrong)
	require.Equal(t, http.StatusLocked, status, "body: %s", raw)
	body := decode[lockoutBody](t, raw)
	assert.Equal(t, "login_lockout", body.Reason)
	assert.InDelta(t, (15 * time.Minute).Seconds(), float64(body.Remaining), 1)
	assert.Greater(t, body.UnlockAt, time.Now().Unix())

	status, raw = ts.postFrom(t, "203.0.113.7", "/login/start",
		map[string]string{"email": "Rupert@homenavi.test", "password": userPassword})
	require.Equal(t, http.StatusLocked, status, "the right password waits out the lock; body: %s", raw)
	assert.Equal(t, "login_lockout", decode[lockoutBody](t, raw).Reason)
}

func TestE2E_TOTPLockout(t *testing.T) {
	ts := newMemoryServer(t, nil)
	ts.signup(t, "sybil")
	tokens := ts.login(t, "sybil@homenavi.test", userPassword)

	status, raw := ts.post(t, "/2fa/totp/setup", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, "body: %s", raw)
	secret := decode[struct {
		Secret string `json:"secret"`
	}](t, raw).Secret
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	status, raw = ts.post(t, "/2fa/totp/verify", tokens.AccessToken, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, status, "body: %s", raw)

	start := func() string {
		status, raw := ts.post(t, "/login/start", "", map[string]string{"email": "sybil@homenavi.test", "password": userPassword})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		return decode[secondFactorBody](t, raw).PendingID
	}
	pending := start()

	wrong := "000000"
	if code == wrong {
		wrong = "999999"
	}
	for i := 0; i < 4; i++ {
		status, _ = ts.post(t, "/login/finish", "", map[string]string{"pending_id": pending, "code": wrong})
		require.Equal(t, http.StatusUnauthorized, status, "attempt %d", i+1)
	}
	status, raw = ts.post(t, "/login/finish", "", map[string]string{"pending_id": pending, "code": wrong})
	require.Equal(t, http.StatusLocked, status, "body: %s", raw)
	assert.Equal(t, "2fa_lockout", decode[lockoutBody](t, raw).Reason)

	code, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	status, _ = ts.post(t, "/login/finish", "", map[string]string{"pending_id": pending, "code": code})
	assert.Equal(t, http.StatusUnauthorized, status, "the locked-out challenge is gone")

	status, raw = ts.post(t, "/login/finish", "", map[string]string{"pending_id": start(), "code": code})
	assert.Equal(t, http.StatusLocked, status, "a new challenge waits out the lock; body: %s", raw)
}

// fakeGoogle issues a token for "good-code" and reports email as the verified account behind it
func fakeGoogle(t *testing.T, email string) *oauth.Google {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"google-at","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer google-at" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "42", "email": email, "verified_email": true, "given_name": "Gail", "family_name": "Oogle",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return oauth.NewGoogle(oauth.GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://home.test/oauth/google/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		UserInfoURL:  srv.URL + "/userinfo",
	})
}

// googleLogin runs the consent redirect and posts code and state back, as the frontend would
func (s *testServer) googleLogin(t *testing.T, code string, tamperState bool) (int, []byte) {
	t.Helper()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(s.Server.URL + "/oauth/google/login")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "oauth_state" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	if tamperState {
		state += "x"
	}

	raw, err := json.Marshal(map[string]string{"code": code, "state": state})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.Server.URL+"/oauth/google", strings.NewReader(string(raw)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	resp, err = s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestE2E_GoogleLogin(t *testing.T) {
	ts := newMemoryServerWith(t, nil, app.Options{Google: fakeGoogle(t, "gail@homenavi.test")})
	admin := ts.loginAdmin(t)

	status, raw := ts.googleLogin(t, "good-code", false)
	require.Equal(t, http.StatusOK, status, "body: %s", raw)
	tokens := decode[tokenBody](t, raw)
	require.NotEmpty(t, tokens.RefreshToken)

	status, raw = ts.do(t, http.MethodGet, "/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, "body: %s", raw)
	me := decode[userBody](t, raw)
	assert.Equal(t, "gail@homenavi.test", me.Email)
	assert.True(t, me.EmailVerified)

	t.Run("BadState", func(t *testing.T) {
		status, raw := ts.googleLogin(t, "good-code", true)
		assert.Equal(t, http.StatusBadRequest, status, "body: %s", raw)
	})

	t.Run("MissingStateCookie", func(t *testing.T) {
		status, raw := ts.post(t, "/oauth/google", "", map[string]string{"code": "good-code", "state": "anything"})
		assert.Equal(t, http.StatusBadRequest, status, "body: %s", raw)
	})

	t.Run("RejectedCode", func(t *testing.T) {
		status, raw := ts.googleLogin(t, "bad-code", false)
		assert.Equal(t, http.StatusBadRequest, status, "body: %s", raw)
	})

	t.Run("LockedAccount", func(t *testing.T) {
		status, raw := ts.post(t, "/users/"+me.ID+"/lockout", admin.AccessToken, map[string]bool{"lock": true})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)

		status, raw = ts.googleLogin(t, "good-code", false)
		require.Equal(t, http.StatusLocked, status, "body: %s", raw)
		assert.Equal(t, "admin_lock", decode[errorBody](t, raw).Reason)
	})
}

func TestE2E_GoogleLoginDisabled(t *testing.T) {
	ts := newMemoryServer(t, nil)
	status, _ := ts.do(t, http.MethodGet, "/oauth/google/login", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestE2E_ProductionModeNeedsEmailService(t *testing.T) {
	cfg := loadConfig(t, config.StoreMemory, func(cfg *config.Config) {
		cfg.DevMode = false
		cfg.EmailServiceURL = ""
	})
	_, err := app.New(cfg, app.MemoryStores(memrepo.NewStore(nil)), zap.NewNop(), app.Options{Argon2: &fastArgon2})
	assert.Error(t, err, "codes must not fall back to the log in production")
}

func TestE2E_ProductionMode(t *testing.T) {
	var (
		mu        sync.Mutex
		delivered []string
	)
	email := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		delivered = append(delivered, r.URL.Path+" "+body["to"]+" "+body["code"])
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(email.Close)

	ts := newMemoryServer(t, func(cfg *config.Config) {
		cfg.DevMode = false
		cfg.EmailServiceURL = email.URL
	})
	u := ts.signup(t, "quentin")

	status, raw := ts.post(t, "/email/verify/request", "", map[string]string{"user_id": u.ID})
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[messageBody](t, raw).DevCode, "codes are never echoed outside dev mode")
	mu.Lock()
	require.Len(t, delivered, 1)
	assert.Regexp(t, `^/send/verification quentin@homenavi\.test [0-9]{6}$`, delivered[0])
	mu.Unlock()

	req, err := http.NewRequest(http.MethodPost, ts.Server.URL+"/login/start",
		strings.NewReader(`{"email":"quentin@homenavi.test","password":"`+userPassword+`"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "auth_token" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.Secure)
	assert.True(t, cookie.HttpOnly)
}
