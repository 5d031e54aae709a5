package tests

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homenavi/auth-service/internal/db"
)

// TestAuthIntegration runs the HTTP flows against a real Postgres with the embedded migrations.
func TestAuthIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newPostgresServer(t)

	t.Run("A_MigrationsIdempotent", func(t *testing.T) {
		require.NoError(t, db.Migrate(ts.DB))
	})

	t.Run("B_SignupLoginRefresh", func(t *testing.T) {
		u := ts.signup(t, "pg_alice")
		tokens := ts.login(t, "pg_alice@homenavi.test", userPassword)

		status, raw := ts.do(t, http.MethodGet, "/me", tokens.AccessToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Equal(t, u.ID, decode[userBody](t, raw).ID)

		status, raw = ts.post(t, "/refresh", "", map[string]string{"refresh_token": tokens.RefreshToken})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		rotated := decode[tokenBody](t, raw)

		status, raw = ts.post(t, "/refresh", "", map[string]string{"refresh_token": tokens.RefreshToken})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "refresh_token_reuse_detected", decode[errorBody](t, raw).Error)

		status, _ = ts.post(t, "/refresh", "", map[string]string{"refresh_token": rotated.RefreshToken})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("C_ConcurrentRefreshSingleWinner", func(t *testing.T) {
		ts.signup(t, "pg_bob")
		tokens := ts.login(t, "pg_bob@homenavi.test", userPassword)

		const racers = 8
		body := `{"refresh_token":"` + tokens.RefreshToken + `"}`
		statuses := make([]int, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp, err := ts.Server.Client().Post(ts.Server.URL+"/refresh", "application/json", strings.NewReader(body))
				if err != nil {
					return
				}
				statuses[i] = resp.StatusCode
				_ = resp.Body.Close()
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, s := range statuses {
			if s == http.StatusOK {
				wins++
			} else {
				assert.Equal(t, http.StatusUnauthorized, s)
			}
		}
		assert.Equal(t, 1, wins, "a refresh token rotates exactly once")
	})

	t.Run("D_DuplicateUserName", func(t *testing.T) {
		ts.signup(t, "pg_carol")
		status, raw := ts.post(t, "/signup", "", map[string]string{
			"user_name": "PG_Carol", "email": "other@homenavi.test", "password": userPassword,
			"first_name": "C", "last_name": "D",
		})
		assert.Equal(t, http.StatusConflict, status, "body: %s", raw)
	})

	t.Run("E_EmailTwoFactor", func(t *testing.T) {
		ts.signup(t, "pg_dave")
		tokens := ts.login(t, "pg_dave@homenavi.test", userPassword)

		status, raw := ts.post(t, "/2fa/email/enable/request", tokens.AccessToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		status, raw = ts.post(t, "/2fa/email/enable/confirm", tokens.AccessToken,
			map[string]string{"code": decode[messageBody](t, raw).DevCode})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)

		status, raw = ts.post(t, "/login/start", "", map[string]string{"email": "pg_dave@homenavi.test", "password": userPassword})
		require.Equal(t, http.StatusOK, status)
		challenge := decode[secondFactorBody](t, raw)
		require.True(t, challenge.Required)

		// resend supersedes the first code
		status, raw = ts.post(t, "/2fa/email/request", "", map[string]string{"pending_id": challenge.PendingID})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		resent := decode[messageBody](t, raw).DevCode
		require.NotEmpty(t, resent)

		status, raw = ts.post(t, "/login/finish", "", map[string]string{"pending_id": challenge.PendingID, "code": resent})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)

		// a pending login is consumed by success
		status, _ = ts.post(t, "/login/finish", "", map[string]string{"pending_id": challenge.PendingID, "code": resent})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("G_SearchTreatsWildcardsLiterally", func(t *testing.T) {
		admin := ts.loginAdmin(t)
		ts.signup(t, "pg_frank")
		ts.signup(t, "pgxfrank")

		type listBody struct {
			Users []userBody `json:"users"`
			Total int        `json:"total"`
		}
		status, raw := ts.do(t, http.MethodGet, "/users?q=%25", admin.AccessToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Equal(t, 0, decode[listBody](t, raw).Total, "%% matches only a literal percent sign")

		status, raw = ts.do(t, http.MethodGet, "/users?q=pg_frank", admin.AccessToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		assert.Equal(t, 1, decode[listBody](t, raw).Total, "_ is not a single-char wildcard")
	})

	t.Run("F_LockAndDelete", func(t *testing.T) {
		admin := ts.loginAdmin(t)
		u := ts.signup(t, "pg_erin")
		tokens := ts.login(t, "pg_erin@homenavi.test", userPassword)

		status, raw := ts.post(t, "/users/"+u.ID+"/lockout", admin.AccessToken, map[string]bool{"lock": true})
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		status, _ = ts.do(t, http.MethodGet, "/me", tokens.AccessToken, nil)
		assert.Equal(t, http.StatusLocked, status)

		status, raw = ts.do(t, http.MethodDelete, "/users/"+u.ID, admin.AccessToken, nil)
		require.Equal(t, http.StatusOK, status, "body: %s", raw)
		status, _ = ts.do(t, http.MethodGet, "/users/"+u.ID, admin.AccessToken, nil)
		assert.Equal(t, http.StatusNotFound, status)

		var deletedAt *string
		require.NoError(t, ts.DB.QueryRow(`SELECT deleted_at::text FROM users WHERE id = $1`, u.ID).Scan(&deletedAt))
		assert.NotNil(t, deletedAt, "delete is soft")
	})
}
