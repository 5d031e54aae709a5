// Package tests drives the assembled HTTP service end to end.
package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/homenavi/auth-service/internal/app"
	"github.com/homenavi/auth-service/internal/auth"
	"github.com/homenavi/auth-service/internal/config"
	"github.com/homenavi/auth-service/internal/db"
	"github.com/homenavi/auth-service/internal/repo/memrepo"
)

const (
	adminEmail    = "admin@homenavi.test"
	adminPassword = "Admin-Password-1"
	userPassword  = "User-Password-1"
)

// fastArgon2 keeps hashing cheap in tests
var fastArgon2 = auth.Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

// testServer is the router behind an httptest server plus the database when Postgres backs it
type testServer struct {
	Server *httptest.Server
	DB     *sql.DB
	Config *config.Config
	App    *app.App
}

// loadConfig reads config the way main does, with the store forced to backend
func loadConfig(t *testing.T, backend string, mutate func(*config.Config)) *config.Config {
	t.Helper()
	t.Setenv("STORE", backend)
	t.Setenv("DEV_MODE", "true")
	t.Setenv("ADMIN_EMAIL", adminEmail)
	t.Setenv("ADMIN_PASSWORD", adminPassword)
	t.Setenv("LOGIN_RATE_LIMIT", "1000")
	t.Setenv("ADMIN_RATE_LIMIT", "1000")

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

// newMemoryServer serves the full router over in-memory stores
func newMemoryServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	return newMemoryServerWith(t, mutate, app.Options{})
}

// newMemoryServerWith is newMemoryServer with collaborator overrides
func newMemoryServerWith(t *testing.T, mutate func(*config.Config), opts app.Options) *testServer {
	t.Helper()
	cfg := loadConfig(t, config.StoreMemory, mutate)
	return start(t, cfg, app.MemoryStores(memrepo.NewStore(nil)), nil, opts)
}

// newPostgresServer serves the full router over Postgres. Callers skip when DATABASE_URL is unset.
func newPostgresServer(t *testing.T) *testServer {
	t.Helper()
	cfg := loadConfig(t, config.StorePostgres, nil)

	database, err := db.Open(context.Background(), cfg.DatabaseURL, db.DefaultPool, zap.NewNop())
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, db.Migrate(database), "migrations must run successfully")
	require.NoError(t, db.Truncate(database), "truncate tables")

	return start(t, cfg, app.PostgresStores(database), database, app.Options{})
}

func start(t *testing.T, cfg *config.Config, stores app.Stores, database *sql.DB, opts app.Options) *testServer {
	t.Helper()
	params := fastArgon2
	opts.Argon2 = &params
	a, err := app.New(cfg, stores, zaptest.NewLogger(t), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.SeedAdmin(context.Background(), cfg))

	server := httptest.NewServer(a.Router)
	t.Cleanup(server.Close)
	return &testServer{Server: server, DB: database, Config: cfg, App: a}
}

// do sends a JSON request, with a bearer token when one is given, and returns status and body
func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.Server.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func (s *testServer) post(t *testing.T, path, token string, body any) (int, []byte) {
	t.Helper()
	return s.do(t, http.MethodPost, path, token, body)
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), "body: %s", raw)
	return v
}

type userBody struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	UserName      string `json:"user_name"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	Locked        bool   `json:"locked"`
	TwoFactorType string `json:"2fa_type"`
}

type tokenBody struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	User         *userBody `json:"user"`
}

type secondFactorBody struct {
	Required  bool   `json:"2fa_required"`
	Type      string `json:"2fa_type"`
	UserID    string `json:"user_id"`
	PendingID string `json:"pending_id"`
	DevCode   string `json:"dev_code"`
}

type messageBody struct {
	Message string `json:"message"`
	DevCode string `json:"dev_code"`
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
	Field  string `json:"field"`
}

// signup registers name with email name@homenavi.test and userPassword
func (s *testServer) signup(t *testing.T, name string) userBody {
	t.Helper()
	status, raw := s.post(t, "/signup", "", map[string]string{
		"user_name":  name,
		"email":      name + "@homenavi.test",
		"password":   userPassword,
		"first_name": "Test",
		"last_name":  "User",
	})
	require.Equal(t, http.StatusCreated, status, "signup body: %s", raw)
	return decode[userBody](t, raw)
}

// login completes a single-factor login and fails the test otherwise
func (s *testServer) login(t *testing.T, email, password string) tokenBody {
	t.Helper()
	status, raw := s.post(t, "/login/start", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, status, "login body: %s", raw)
	tokens := decode[tokenBody](t, raw)
	require.NotEmpty(t, tokens.AccessToken, "login must issue tokens; body: %s", raw)
	return tokens
}

func (s *testServer) loginAdmin(t *testing.T) tokenBody {
	t.Helper()
	return s.login(t, adminEmail, adminPassword)
}
