package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/lockout"
	"github.com/homenavi/auth-service/internal/metrics"
	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/notify"
	"github.com/homenavi/auth-service/internal/repo/memrepo"
)

const testSecret = "test-jwt-secret-at-least-32-characters-long"

var testArgon2 = Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureSender struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (s *captureSender) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *captureSender) last() notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return notify.Message{}
	}
	return s.msgs[len(s.msgs)-1]
}

var testLockout = lockout.Policy{MaxFailures: 5, Lockout: 15 * time.Minute}

type testEnv struct {
	clock   *fakeClock
	store   *memrepo.Store
	sender  *captureSender
	hasher  *Argon2Hasher
	jwt     *JWTService
	codes   *CodeEngine
	tokens  *TokenIssuer
	svc     *AuthService
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
	store := memrepo.NewStore(clock.Now)
	sender := &captureSender{}
	m := metrics.New()
	logger := zap.NewNop()

	hasher, err := NewArgon2Hasher(testArgon2)
	require.NoError(t, err)

	jwtService := NewJWTService(testSecret, 15*time.Minute)
	jwtService.now = clock.Now

	codes := NewCodeEngine(store.Codes(), sender, CodeEngineConfig{Salt: "test-salt", TTL: 15 * time.Minute, MaxAttempts: 5}, logger, m)
	codes.now = clock.Now

	tokens := NewTokenIssuer(jwtService, store.RefreshSessions(), store.Users(), 7*24*time.Hour, logger, m)
	tokens.now = clock.Now

	loginLock := lockout.NewMemory(testLockout, clock.Now)
	twoFALock := lockout.NewMemory(testLockout, clock.Now)
	t.Cleanup(loginLock.Close)
	t.Cleanup(twoFALock.Close)

	svc, err := NewAuthService(store.Users(), store.PendingLogins(), codes, tokens, hasher,
		Lockouts{Login: loginLock, TwoFactor: twoFALock},
		ServiceConfig{PendingLoginTTL: 5 * time.Minute, TOTPIssuer: "HomeNavi"}, logger, m)
	require.NoError(t, err)
	svc.now = clock.Now

	return &testEnv{
		clock: clock, store: store, sender: sender, hasher: hasher, jwt: jwtService,
		codes: codes, tokens: tokens, svc: svc, metrics: m,
	}
}

const testPassword = "Pass1234AA"

func (e *testEnv) signup(t *testing.T, name string) model.User {
	t.Helper()
	u, err := e.svc.Signup(context.Background(), SignupRequest{
		UserName:  name,
		Email:     name + "@example.com",
		Password:  testPassword,
		FirstName: "Test",
		LastName:  "User",
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) loginTokens(t *testing.T, email string) TokensIssued {
	t.Helper()
	out, err := e.svc.LoginStart(context.Background(), email, testPassword)
	require.NoError(t, err)
	issued, ok := out.(TokensIssued)
	require.True(t, ok, "expected tokens, got %T", out)
	return issued
}

var errDeliver = errors.New("smtp down")
