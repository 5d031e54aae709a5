package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homenavi/auth-service/internal/model"
)

func TestLoginStart_NoSecondFactor(t *testing.T) {
	env := newTestEnv(t)
	user := env.signup(t, "alice")

	out, err := env.svc.LoginStart(context.Background(), "  ALICE@example.com ", testPassword)
	require.NoError(t, err)
	issued, ok := out.(TokensIssued)
	require.True(t, ok)
	assert.Equal(t, user.ID, issued.User.ID)
	assert.NotEmpty(t, issued.Tokens.AccessToken)
	assert.NotEmpty(t, issued.Tokens.RefreshToken)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Logins.WithLabelValues("tokens")))
}

func TestLoginStart_UnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")
	ctx := context.Background()

	_, errUnknown := env.svc.LoginStart(ctx, "nobody@example.com", testPassword)
	_, errWrong := env.svc.LoginStart(ctx, "alice@example.com", "Wrong1234AA")
	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLoginStart_LockedBeforePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "alice")
	require.NoError(t, env.store.Users().SetLocked(ctx, user.ID, true))

	_, err := env.svc.LoginStart(ctx, user.Email, "Wrong1234AA")
	assert.ErrorIs(t, err, ErrAccountLocked)
	_, err = env.svc.LoginStart(ctx, user.Email, testPassword)
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestLoginStart_DeletedUserCannotLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "alice")
	require.NoError(t, env.store.Users().SoftDelete(ctx, user.ID, env.clock.Now()))

	_, err := env.svc.LoginStart(ctx, user.Email, testPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginStart_UpgradesWeakHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "alice")

	stronger := testArgon2
	stronger.Time = 2
	upgraded, err := NewArgon2Hasher(stronger)
	require.NoError(t, err)
	env.svc.hasher = upgraded

	env.loginTokens(t, user.Email)

	stored, err := env.store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, user.PasswordHash, stored.PasswordHash)
	assert.False(t, upgraded.NeedsUpgrade(stored.PasswordHash))
	env.loginTokens(t, user.Email)
}

func enableEmail2FA(t *testing.T, env *testEnv, user model.User) {
	t.Helper()
	ctx := context.Background()
	code, err := env.svc.RequestEmailTwoFactor(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, env.svc.ConfirmEmailTwoFactor(ctx, user.ID, code))
}

func TestLogin_EmailSecondFactor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "alice")
	enableEmail2FA(t, env, user)

	out, err := env.svc.LoginStart(ctx, user.Email, testPassword)
	require.NoError(t, err)
	challenge, ok := out.(SecondFactorRequired)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, model.TwoFactorEmail, challenge.Method)
	assert.Equal(t, user.ID, challenge.UserID)
	assert.Equal(t, challenge.IssuedCode, env.sender.last().Code)
	assert.Equal(t, model.Purpose2FALogin, env.sender.last().Purpose)

	_, err = env.svc.LoginFinish(ctx, FinishRequest{UserID: user.ID, Code: "000000"})
	assert.ErrorIs(t, err, ErrCodeInvalid)

	issued, err := env.svc.LoginFinish(ctx, FinishRequest{UserID: user.ID, Code: challenge.IssuedCode})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Tokens.RefreshToken)

	_, err = env.svc.LoginFinish(ctx, FinishRequest{PendingID: challenge.PendingID, Code: challenge.IssuedCode})
	assert.Error(t, err, "pending login is single use")
}

func TestLoginFinish_PendingExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "alice")
	enableEmail2FA(t, env, user)

	out, err := env.svc.LoginStart(ctx, user.Email, testPassword)
	require.NoError(t, err)
	challenge := out.(SecondFactorRequired)

	env.clock.Advance(5 * time.Minute)
	_, err = env.svc.LoginFinish(ctx, FinishRequest{PendingID: challenge.PendingID, Code: challenge.IssuedCode})
	assert.ErrorIs(t, err, ErrPendingExpired)
}

func TestLoginFinish_RejectsForeignPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")
	enableEmail2FA(t, env, alice)

	out, err := env.svc.LoginStart(ctx, alice.Email, testPassword)
	require.NoError(t, err)
	challenge := out.(SecondFactorRequired)

	_, err = env.svc.LoginFinish(ctx, FinishRequest{PendingID: challenge.PendingID, UserID: bob.ID, Code: challenge.IssuedCode})
	assert.ErrorIs(t, err, ErrPendingExpired)
	_, err = env.svc.LoginFinish(ctx, FinishRequest{Code: challenge.IssuedCode})
	assert.ErrorIs(t, err, ErrPendingExpired)
	_, err = env.svc.LoginFinish(ctx, FinishRequest{PendingID: uuid.New(), Code: challenge.IssuedCode})
	assert.ErrorIs(t, err, ErrPendingExpired)
}

func TestResendLoginCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "alice")
	enableEmail2FA(t, env, user)

	out, err := env.svc.LoginStart(ctx, user.Email, testPassword)
	require.NoError(t, err)
	challenge := out.(SecondFactorRequired)

	fresh, err := env.svc.ResendLoginCode(ctx, challenge.PendingID, uuid.Nil)
	require.NoError(t, err)

	_, err = env.svc.LoginFinish(ctx, FinishRequest{PendingID: challenge.PendingID, Code: challenge.IssuedCode})
	if challenge.IssuedCode != fresh {
		assert.ErrorIs(t, err, ErrCodeInvalid, "the resend superseded the first code")
	}
	_, err = env.svc.LoginFinish(ctx, FinishRequest{PendingID: challenge.PendingID, Code: fresh})
	assert.NoError(t, err)
}

func TestLogin_TOTPSecondFactor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.signup(t, "alice")

	setup, err := env.svc.SetupTOTP(ctx, user.ID)
	require.NoError(t, err)
	assert.Contains(t, setup.URL, "otpauth://totp/")

	out, err := env.svc.LoginStart(ctx, user.Email, testPassword)
	require.NoError(t, err)
	_, ok := out.(TokensIssued)
	assert.True(t, ok, "setup alone does not enable totp")

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, env.svc.VerifyTOTP(ctx, user.ID, code))

	out, err = env.svc.LoginStart(ctx, user.Email, testPassword)
	require.NoError(t, err)
	challenge, ok := out.(SecondFactorRequired)
	require.True(t, ok)
	assert.Equal(t, model.TwoFactorTOTP, challenge.Method)
	assert.Empty(t, challenge.IssuedCode)

	_, err = env.svc.LoginFinish(ctx, FinishRequest{PendingID: challenge.PendingID, Code: "abc"})
	assert.ErrorIs(t, err, ErrCodeInvalid)

	code, err = totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	issued, err := env.svc.LoginFinish(ctx, FinishRequest{PendingID: challenge.PendingID, Code: code})
	require.NoError(t, err)
	assert.Equal(t, user.ID, issued.User.ID)
}
