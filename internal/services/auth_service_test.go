package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/traveljournal/internal/models"
	pkgauth "github.com/BradenHooton/traveljournal/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Abc123!"

type authFixture struct {
	svc       *AuthService
	store     *MockAccountStore
	sender    *MockEmailSender
	twoFactor *TwoFactorService
	timing    *MockTimingDelay
}

func newAuthFixture(t *testing.T, accounts ...*models.Account) *authFixture {
	t.Helper()
	logger, auditLogger := newTestLoggers()
	store := NewMockAccountStore(accounts...)
	sender := &MockEmailSender{}
	twoFactor := NewTwoFactorService(sender, logger, TwoFactorConfig{})
	timing := &MockTimingDelay{}

	svc := NewAuthService(store, twoFactor, timing, logger, auditLogger, AuthConfig{
		MaxCodeAttempts: 3,
		BcryptCost:      bcrypt.MinCost,
	})

	return &authFixture{svc: svc, store: store, sender: sender, twoFactor: twoFactor, timing: timing}
}

// mailedCode answers every code prompt with the code from the latest email.
func (f *authFixture) mailedCode(t *testing.T) func(label string) (string, bool) {
	return func(label string) (string, bool) {
		if !strings.HasPrefix(label, "Enter the code") || len(f.sender.Sent) == 0 {
			return "", false
		}
		return codeFromBody(t, f.sender.Last().Body), true
	}
}

func testAccount(t *testing.T, username string, mutate func(acc *models.Account)) *models.Account {
	t.Helper()
	hash, err := pkgauth.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	acc := &models.Account{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
		RecoveryCode: "1234-5678",
	}
	if mutate != nil {
		mutate(acc)
	}
	return acc
}

func withVerifiedEmail(email string, twoFactor bool) func(acc *models.Account) {
	return func(acc *models.Account) {
		acc.Email = email
		acc.EmailVerified = true
		acc.TwoFactorEnabled = twoFactor
	}
}

// ============================================================================
// Register Tests
// ============================================================================

func TestAuthService_Register_Success(t *testing.T) {
	f := newAuthFixture(t)
	p := &MockPrompter{Answers: []string{"a@b.com"}, Confirms: []bool{true}}
	p.OnAsk = f.mailedCode(t)

	acc, err := f.svc.RegisterWithEmailVerification(context.Background(), "alice", testPassword, p)

	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "alice", acc.Username)
	assert.Equal(t, "a@b.com", acc.Email)
	assert.True(t, acc.EmailVerified)
	assert.True(t, acc.TwoFactorEnabled)
	assert.False(t, acc.IsAdmin)
	assert.Regexp(t, `^\d{4}-\d{4}$`, acc.RecoveryCode)
	assert.False(t, acc.HasPendingChallenge())

	stored, err := f.store.Get("alice")
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)
	assert.True(t, stored.TwoFactorEnabled)
	assert.False(t, stored.HasPendingChallenge())
	assert.NoError(t, pkgauth.ComparePassword(stored.PasswordHash, testPassword))
	assert.NotEqual(t, testPassword, stored.PasswordHash)

	require.Len(t, f.sender.Sent, 1)
	assert.Equal(t, "a@b.com", f.sender.Sent[0].To)
	assert.Equal(t, PurposeVerifyEmail, f.sender.Sent[0].Subject)
	assert.Equal(t, 2, f.store.SaveCalls)
}

func TestAuthService_Register_DeclineTwoFactor(t *testing.T) {
	f := newAuthFixture(t)
	p := &MockPrompter{Answers: []string{"a@b.com"}, Confirms: []bool{false}}
	p.OnAsk = f.mailedCode(t)

	acc, err := f.svc.RegisterWithEmailVerification(context.Background(), "alice", testPassword, p)

	require.NoError(t, err)
	assert.False(t, acc.TwoFactorEnabled)
	assert.True(t, acc.EmailVerified)
	assert.Equal(t, 1, f.store.SaveCalls)
}

func TestAuthService_Register_DuplicateUsername(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", nil))
	p := &MockPrompter{}

	acc, err := f.svc.RegisterWithEmailVerification(context.Background(), "alice", testPassword, p)

	assert.Nil(t, acc)
	assert.ErrorIs(t, err, models.ErrUsernameTaken)
	assert.Empty(t, p.Asked)
	assert.Empty(t, f.sender.Sent)
}

func TestAuthService_Register_EmptyUsername(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.RegisterWithEmailVerification(context.Background(), "   ", testPassword, &MockPrompter{})

	assert.ErrorIs(t, err, models.ErrInvalidUsername)
}

func TestAuthService_Register_WeakPassword(t *testing.T) {
	f := newAuthFixture(t)
	p := &MockPrompter{}

	_, err := f.svc.RegisterWithEmailVerification(context.Background(), "alice", "abc", p)

	assert.ErrorIs(t, err, models.ErrWeakPassword)
	var validationErr *pkgauth.PasswordValidationError
	assert.True(t, errors.As(err, &validationErr))
	assert.Empty(t, p.Asked)
	assert.False(t, f.store.Exists("alice"))
}

func TestAuthService_Register_InvalidEmail(t *testing.T) {
	f := newAuthFixture(t)
	p := &MockPrompter{Answers: []string{"not-an-email"}}

	_, err := f.svc.RegisterWithEmailVerification(context.Background(), "alice", testPassword, p)

	assert.ErrorIs(t, err, models.ErrInvalidEmail)
	assert.Empty(t, f.sender.Sent)
	assert.False(t, f.store.Exists("alice"))
}

func TestAuthService_Register_SendFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.sender.SendFunc = func(ctx context.Context, to, subject, body string) error {
		return errors.New("relay unavailable")
	}
	p := &MockPrompter{Answers: []string{"a@b.com"}}

	_, err := f.svc.RegisterWithEmailVerification(context.Background(), "alice", testPassword, p)

	assert.ErrorIs(t, err, models.ErrVerificationNotSent)
	assert.False(t, f.store.Exists("alice"))
	assert.Equal(t, 0, f.store.SaveCalls)
}

func TestAuthService_Register_ThreeWrongCodes(t *testing.T) {
	f := newAuthFixture(t)
	p := &MockPrompter{Answers: []string{"a@b.com", "wrong", "still wrong", "nope"}}

	acc, err := f.svc.RegisterWithEmailVerification(context.Background(), "alice", testPassword, p)

	assert.Nil(t, acc)
	assert.ErrorIs(t, err, models.ErrEmailNotVerified)
	assert.False(t, f.store.Exists("alice"))
	assert.Len(t, f.sender.Sent, 1)
	assert.Len(t, p.Warns, 2)
	assert.Equal(t, 0, f.store.SaveCalls)
}

func TestAuthService_Register_CodeOnThirdAttempt(t *testing.T) {
	f := newAuthFixture(t)
	attempts := 0
	p := &MockPrompter{Answers: []string{"a@b.com"}, Confirms: []bool{false}}
	p.OnAsk = func(label string) (string, bool) {
		if !strings.HasPrefix(label, "Enter the code") {
			return "", false
		}
		attempts++
		if attempts < 3 {
			return "bad", true
		}
		return codeFromBody(t, f.sender.Last().Body), true
	}

	acc, err := f.svc.RegisterWithEmailVerification(context.Background(), "alice", testPassword, p)

	require.NoError(t, err)
	assert.True(t, acc.EmailVerified)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, p.Asked, "Enter the code sent to your email (attempt 3/3)")
}

func TestAuthService_Register_SaveFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.store.SaveFunc = func() error { return errors.New("disk full") }
	p := &MockPrompter{Answers: []string{"a@b.com"}, Confirms: []bool{false}}
	p.OnAsk = f.mailedCode(t)

	_, err := f.svc.RegisterWithEmailVerification(context.Background(), "alice", testPassword, p)

	assert.ErrorIs(t, err, models.ErrPersistence)
}

// ============================================================================
// Login Tests
// ============================================================================

func TestAuthService_Login_WithoutTwoFactor(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", nil))
	p := &MockPrompter{}

	acc, err := f.svc.Login(context.Background(), "alice", testPassword, p)

	require.NoError(t, err)
	assert.Equal(t, "alice", acc.Username)
	assert.Empty(t, f.sender.Sent)
	assert.Empty(t, p.Asked)
	assert.Equal(t, 0, f.timing.Calls)
}

func TestAuthService_Login_InvalidCredentials(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", nil))

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"unknown user", "ghost", testPassword},
		{"wrong password", "alice", "Wrong123!"},
		{"username is case-sensitive", "Alice", testPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := f.svc.Login(context.Background(), tt.username, tt.password, &MockPrompter{})
			assert.Nil(t, acc)
			assert.ErrorIs(t, err, models.ErrInvalidCredentials)
		})
	}

	assert.Equal(t, 3, f.timing.Calls)
	assert.Equal(t, []bool{false, false, false}, f.timing.Successes)
}

func TestAuthService_Login_TwoFactorSuccess(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", withVerifiedEmail("a@b.com", true)))
	p := &MockPrompter{}
	p.OnAsk = f.mailedCode(t)

	acc, err := f.svc.Login(context.Background(), "alice", testPassword, p)

	require.NoError(t, err)
	assert.Equal(t, "alice", acc.Username)
	require.Len(t, f.sender.Sent, 1)
	assert.Equal(t, PurposeLoginCode, f.sender.Sent[0].Subject)

	stored, err := f.store.Get("alice")
	require.NoError(t, err)
	assert.False(t, stored.HasPendingChallenge())
}

func TestAuthService_Login_TwoFactorTooManyAttempts(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", withVerifiedEmail("a@b.com", true)))
	p := &MockPrompter{Answers: []string{"000000x", "111111x", "222222x"}}

	acc, err := f.svc.Login(context.Background(), "alice", testPassword, p)

	assert.Nil(t, acc)
	assert.ErrorIs(t, err, models.ErrTooManyAttempts)
	assert.Len(t, f.sender.Sent, 1)
	assert.Len(t, p.Warns, 2)
	assert.Empty(t, p.Answers)

	stored, err := f.store.Get("alice")
	require.NoError(t, err)
	assert.False(t, stored.HasPendingChallenge())
	assert.Empty(t, stored.PendingTwoFactorCodeHash)
	assert.Nil(t, stored.PendingTwoFactorExpiresAt)
}

func TestAuthService_Login_TwoFactorSendFailure(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", withVerifiedEmail("a@b.com", true)))
	f.sender.SendFunc = func(ctx context.Context, to, subject, body string) error {
		return errors.New("relay unavailable")
	}
	p := &MockPrompter{}

	_, err := f.svc.Login(context.Background(), "alice", testPassword, p)

	assert.ErrorIs(t, err, models.ErrCodeNotSent)
	stored, err := f.store.Get("alice")
	require.NoError(t, err)
	assert.False(t, stored.HasPendingChallenge())
}

func TestAuthService_Login_TwoFactorUnverifiedEmailFailsOpen(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", func(acc *models.Account) {
		acc.Email = "a@b.com"
		acc.EmailVerified = false
		acc.TwoFactorEnabled = true
	}))
	p := &MockPrompter{}

	acc, err := f.svc.Login(context.Background(), "alice", testPassword, p)

	require.NoError(t, err)
	assert.False(t, acc.TwoFactorEnabled)
	assert.Empty(t, f.sender.Sent)
	require.Len(t, p.Warns, 1)
	assert.Contains(t, p.Warns[0], "Disabling 2FA")

	stored, err := f.store.Get("alice")
	require.NoError(t, err)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Equal(t, 1, f.store.SaveCalls)
}

func TestAuthService_Login_FailOpenSurvivesSaveError(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", func(acc *models.Account) {
		acc.TwoFactorEnabled = true
	}))
	f.store.SaveFunc = func() error { return errors.New("read-only filesystem") }

	p := &MockPrompter{}

	acc, err := f.svc.Login(context.Background(), "alice", testPassword, p)

	require.NoError(t, err)
	assert.False(t, acc.TwoFactorEnabled)
	require.Len(t, p.Warns, 2)
	assert.Contains(t, p.Warns[1], "Could not save")
}

func TestAuthService_Login_UpgradesLegacyPassword(t *testing.T) {
	f := newAuthFixture(t, &models.Account{Username: "old", LegacyPassword: testPassword})

	_, err := f.svc.Login(context.Background(), "old", "wrong", &MockPrompter{})
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	acc, err := f.svc.Login(context.Background(), "old", testPassword, &MockPrompter{})
	require.NoError(t, err)
	assert.Empty(t, acc.LegacyPassword)

	stored, err := f.store.Get("old")
	require.NoError(t, err)
	assert.Empty(t, stored.LegacyPassword)
	assert.NoError(t, pkgauth.ComparePassword(stored.PasswordHash, testPassword))
	assert.Equal(t, 1, f.store.SaveCalls)
}

// ============================================================================
// ForgotPassword Tests
// ============================================================================

func TestAuthService_ForgotPassword_Success(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", withVerifiedEmail("a@b.com", false)))
	p := &MockPrompter{
		Secrets: []string{
			"Xyz789!", "Xyz789?", // mismatch
			"weak", "weak", // fails the rule
			"Xyz789!", "Xyz789!",
		},
	}
	p.OnAsk = f.mailedCode(t)

	recoveryCode, err := f.svc.ForgotPassword(context.Background(), "alice", p)

	require.NoError(t, err)
	assert.Regexp(t, `^\d{4}-\d{4}$`, recoveryCode)
	assert.Empty(t, p.Secrets)
	require.Len(t, p.Warns, 2)
	assert.Contains(t, p.Warns[0], "do not match")
	assert.Contains(t, p.Warns[1], pkgauth.PasswordRequirements)
	require.Len(t, f.sender.Sent, 1)
	assert.Equal(t, PurposePasswordReset, f.sender.Sent[0].Subject)

	stored, err := f.store.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, recoveryCode, stored.RecoveryCode)
	assert.False(t, stored.HasPendingChallenge())

	_, err = f.svc.Login(context.Background(), "alice", "Xyz789!", &MockPrompter{})
	assert.NoError(t, err)
	_, err = f.svc.Login(context.Background(), "alice", testPassword, &MockPrompter{})
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestAuthService_ForgotPassword_UnknownUser(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.ForgotPassword(context.Background(), "ghost", &MockPrompter{})

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, f.sender.Sent)
}

func TestAuthService_ForgotPassword_NoEmail(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", nil))

	_, err := f.svc.ForgotPassword(context.Background(), "alice", &MockPrompter{})

	assert.ErrorIs(t, err, models.ErrNoEmail)
	assert.Empty(t, f.sender.Sent)
}

func TestAuthService_ForgotPassword_SendFailure(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", withVerifiedEmail("a@b.com", false)))
	f.sender.SendFunc = func(ctx context.Context, to, subject, body string) error {
		return errors.New("relay unavailable")
	}

	_, err := f.svc.ForgotPassword(context.Background(), "alice", &MockPrompter{})

	assert.ErrorIs(t, err, models.ErrCodeNotSent)
}

func TestAuthService_ForgotPassword_TooManyAttempts(t *testing.T) {
	original := testAccount(t, "alice", withVerifiedEmail("a@b.com", false))
	f := newAuthFixture(t, original)
	p := &MockPrompter{Answers: []string{"a", "b", "c"}}

	_, err := f.svc.ForgotPassword(context.Background(), "alice", p)

	assert.ErrorIs(t, err, models.ErrTooManyAttempts)
	stored, err := f.store.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, original.PasswordHash, stored.PasswordHash)
	assert.Equal(t, original.RecoveryCode, stored.RecoveryCode)
	assert.False(t, stored.HasPendingChallenge())
	assert.Equal(t, 0, f.store.SaveCalls)
}

// ============================================================================
// Recovery code reset Tests
// ============================================================================

func TestAuthService_ResetPasswordWithRecoveryCode(t *testing.T) {
	tests := []struct {
		name         string
		username     string
		recoveryCode string
		newPassword  string
		confirm      string
		wantErr      error
	}{
		{"passwords differ", "alice", "1234-5678", "Xyz789!", "Xyz789?", models.ErrPasswordMismatch},
		{"unknown user", "ghost", "1234-5678", "Xyz789!", "Xyz789!", models.ErrNotFound},
		{"wrong recovery code", "alice", "8765-4321", "Xyz789!", "Xyz789!", models.ErrInvalidRecoveryCode},
		{"empty recovery code", "alice", "", "Xyz789!", "Xyz789!", models.ErrInvalidRecoveryCode},
		{"weak password", "alice", "1234-5678", "weak", "weak", models.ErrWeakPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t, testAccount(t, "alice", nil))

			_, err := f.svc.ResetPasswordWithRecoveryCode(context.Background(), tt.username, tt.recoveryCode, tt.newPassword, tt.confirm)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.store.SaveCalls)
		})
	}
}

func TestAuthService_ResetPasswordWithRecoveryCode_Success(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", nil))

	next, err := f.svc.ResetPasswordWithRecoveryCode(context.Background(), "alice", " 1234-5678 ", "Xyz789!", "Xyz789!")

	require.NoError(t, err)
	assert.Regexp(t, `^\d{4}-\d{4}$`, next)

	stored, err := f.store.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, next, stored.RecoveryCode)

	_, err = f.svc.Login(context.Background(), "alice", "Xyz789!", &MockPrompter{})
	assert.NoError(t, err)

	// the old recovery code is spent
	if next != "1234-5678" {
		_, err = f.svc.ResetPasswordWithRecoveryCode(context.Background(), "alice", "1234-5678", "Abc123!!", "Abc123!!")
		assert.ErrorIs(t, err, models.ErrInvalidRecoveryCode)
	}
}

// ============================================================================
// SetTwoFactor Tests
// ============================================================================

func TestAuthService_SetTwoFactor(t *testing.T) {
	f := newAuthFixture(t,
		testAccount(t, "alice", withVerifiedEmail("a@b.com", false)),
		testAccount(t, "bob", func(acc *models.Account) { acc.Email = "b@c.com" }),
	)
	ctx := context.Background()

	require.NoError(t, f.svc.SetTwoFactor(ctx, "alice", true))
	stored, _ := f.store.Get("alice")
	assert.True(t, stored.TwoFactorEnabled)

	require.NoError(t, f.svc.SetTwoFactor(ctx, "alice", false))
	stored, _ = f.store.Get("alice")
	assert.False(t, stored.TwoFactorEnabled)
	assert.Equal(t, 2, f.store.SaveCalls)

	assert.ErrorIs(t, f.svc.SetTwoFactor(ctx, "bob", true), models.ErrEmailNotVerified)
	assert.ErrorIs(t, f.svc.SetTwoFactor(ctx, "ghost", true), models.ErrNotFound)

	// no-op when already in the requested state
	require.NoError(t, f.svc.SetTwoFactor(ctx, "bob", false))
	assert.Equal(t, 2, f.store.SaveCalls)
}

func TestAuthService_SetTwoFactor_SaveFailure(t *testing.T) {
	f := newAuthFixture(t, testAccount(t, "alice", withVerifiedEmail("a@b.com", false)))
	f.store.SaveFunc = func() error { return errors.New("disk full") }

	err := f.svc.SetTwoFactor(context.Background(), "alice", true)

	assert.ErrorIs(t, err, models.ErrPersistence)
}
