package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/traveljournal/internal/models"
	pkgauth "github.com/BradenHooton/traveljournal/pkg/auth"
	pkglogger "github.com/BradenHooton/traveljournal/pkg/logger"
	"github.com/google/uuid"
)

const DefaultMaxCodeAttempts = 3

// AccountStore defines the account persistence operations the services need
type AccountStore interface {
	Exists(username string) bool
	Get(username string) (*models.Account, error)
	Add(acc *models.Account)
	Update(acc *models.Account)
	Delete(username string) bool
	GetAll() []*models.Account
	Save() error
}

// TwoFactor defines the one-time code operations used by the auth flows
type TwoFactor interface {
	SendEmailCode(ctx context.Context, acc *models.Account, purpose string) bool
	VerifyCode(acc *models.Account, input string) bool
	ClearPending(acc *models.Account)
}

// TimingDelay pads failed credential checks to a uniform duration
type TimingDelay interface {
	WaitFrom(startTime time.Time, success bool)
}

// Prompter is the interactive terminal the flows talk to.
type Prompter interface {
	Ask(ctx context.Context, label string) (string, error)
	AskSecret(ctx context.Context, label string) (string, error)
	Confirm(ctx context.Context, label string) (bool, error)
	Info(msg string)
	Warn(msg string)
}

// AuthConfig holds auth flow settings
type AuthConfig struct {
	MaxCodeAttempts int
	BcryptCost      int
}

// AuthService implements registration, login and password reset
type AuthService struct {
	store       AccountStore
	twoFactor   TwoFactor
	timing      TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	config      AuthConfig
	now         func() time.Time
}

// NewAuthService creates a new AuthService. timing may be nil.
func NewAuthService(
	store AccountStore,
	twoFactor TwoFactor,
	timing TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	config AuthConfig,
) *AuthService {
	if config.MaxCodeAttempts <= 0 {
		config.MaxCodeAttempts = DefaultMaxCodeAttempts
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = pkgauth.DefaultBcryptCost
	}
	return &AuthService{
		store:       store,
		twoFactor:   twoFactor,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
		config:      config,
		now:         time.Now,
	}
}

// ============================================================================
// Registration
// ============================================================================

// RegisterWithEmailVerification creates an account once the user proves
// control of their email address. The account is only stored after a code
// has been verified. On success the returned account carries the recovery
// code and the chosen two-factor setting.
//
// If the account was stored but the follow-up two-factor opt-in could not be
// saved, both the account and an ErrPersistence error are returned.
func (s *AuthService) RegisterWithEmailVerification(ctx context.Context, username, password string, p Prompter) (*models.Account, error) {
	flowID := uuid.NewString()
	log := s.logger.With(slog.String("flow", "register"), slog.String("flow_id", flowID))

	if s.store.Exists(username) {
		log.Info("registration rejected: username taken", slog.String("username", username))
		s.auditFailure(models.AuditEventRegister, username, flowID, "username_taken")
		return nil, models.ErrUsernameTaken
	}

	if strings.TrimSpace(username) == "" {
		log.Info("registration rejected: empty username")
		return nil, models.ErrInvalidUsername
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		log.Info("registration rejected: weak password", slog.String("username", username))
		return nil, fmt.Errorf("%w: %w", models.ErrWeakPassword, err)
	}

	email, err := p.Ask(ctx, "Enter your email for verification")
	if err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		log.Info("registration rejected: invalid email", slog.String("username", username))
		return nil, models.ErrInvalidEmail
	}

	hash, err := pkgauth.HashPassword(password, s.config.BcryptCost)
	if err != nil {
		log.Error("failed to hash password", slog.Any("error", err))
		return nil, err
	}
	recoveryCode, err := pkgauth.GenerateRecoveryCode()
	if err != nil {
		log.Error("failed to generate recovery code", slog.Any("error", err))
		return nil, err
	}

	acc := &models.Account{
		Username:         username,
		PasswordHash:     hash,
		Email:            email,
		EmailVerified:    false,
		TwoFactorEnabled: false,
		CreatedAt:        s.now().UTC(),
		RecoveryCode:     recoveryCode,
	}

	p.Info("Sending verification email...")
	if !s.twoFactor.SendEmailCode(ctx, acc, PurposeVerifyEmail) {
		s.auditFailure(models.AuditEventRegister, username, flowID, models.AuditReasonCodeNotSent)
		return nil, models.ErrVerificationNotSent
	}

	verified, err := s.collectCode(ctx, p, acc, models.AuditEventRegister, flowID, log)
	if err != nil {
		s.twoFactor.ClearPending(acc)
		return nil, err
	}
	if !verified {
		s.twoFactor.ClearPending(acc)
		log.Info("registration aborted: email not verified", slog.String("username", username))
		s.auditFailure(models.AuditEventRegister, username, flowID, models.AuditReasonTooManyAttempts)
		return nil, models.ErrEmailNotVerified
	}

	acc.EmailVerified = true
	s.twoFactor.ClearPending(acc)

	if s.store.Exists(username) {
		return nil, models.ErrUsernameTaken
	}
	s.store.Add(acc)
	if err := s.store.Save(); err != nil {
		log.Error("failed to save new account", slog.String("username", username), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: models.AuditEventRegister,
		Username:  username,
		FlowID:    flowID,
		Success:   true,
	})

	enable, err := p.Confirm(ctx, "Enable email 2FA for login?")
	if err != nil {
		log.Warn("two-factor opt-in prompt failed", slog.Any("error", err))
		enable = false
	}
	if enable {
		acc.TwoFactorEnabled = true
		s.store.Update(acc)
		if err := s.store.Save(); err != nil {
			log.Error("failed to save two-factor opt-in", slog.String("username", username), slog.Any("error", err))
			return acc.Clone(), fmt.Errorf("%w: %w", models.ErrPersistence, err)
		}
		s.auditLogger.LogAccountAction(models.AuditEventTwoFactorToggle, username, map[string]string{"enabled": "true"})
	}

	log.Info("account registered",
		slog.String("username", username),
		slog.Bool("two_factor_enabled", acc.TwoFactorEnabled))

	return acc.Clone(), nil
}

// ============================================================================
// Login
// ============================================================================

// Login checks the password and, when the account has two-factor enabled,
// an emailed code. Unknown usernames and wrong passwords both return
// ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, username, password string, p Prompter) (*models.Account, error) {
	start := time.Now()
	flowID := uuid.NewString()
	log := s.logger.With(slog.String("flow", "login"), slog.String("flow_id", flowID))

	acc, err := s.store.Get(username)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Error("failed to look up account", slog.Any("error", err))
		}
		log.Info("login failed: unknown user", slog.String("username", username))
		s.auditFailure(models.AuditEventLogin, username, flowID, models.AuditReasonUnknownUser)
		s.waitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	if !s.checkPassword(acc, password, log) {
		log.Info("login failed: wrong password", slog.String("username", username))
		s.auditFailure(models.AuditEventLogin, username, flowID, models.AuditReasonBadPassword)
		s.waitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	if !acc.RequiresTwoFactor() {
		return s.loginSucceeded(acc, flowID, log), nil
	}

	if !acc.CanReceiveCodes() {
		// An account should never have two-factor on without a verified
		// address. Turn it off rather than lock the user out.
		p.Warn("2FA is enabled but email is not verified. Disabling 2FA for safety.")
		acc.TwoFactorEnabled = false
		s.store.Update(acc)
		if err := s.store.Save(); err != nil {
			log.Error("failed to save two-factor reset", slog.String("username", username), slog.Any("error", err))
			p.Warn("Could not save your data. The 2FA change may be lost.")
		}
		log.Warn("two-factor disabled: email missing or unverified", slog.String("username", username))
		s.auditLogger.LogAccountAction(models.AuditEventTwoFactorToggle, username, map[string]string{
			"enabled": "false",
			"reason":  models.AuditReasonTwoFactorFailOpen,
		})
		return s.loginSucceeded(acc, flowID, log), nil
	}

	p.Info("Sending login code...")
	if !s.twoFactor.SendEmailCode(ctx, acc, PurposeLoginCode) {
		s.auditFailure(models.AuditEventLogin, username, flowID, models.AuditReasonCodeNotSent)
		return nil, models.ErrCodeNotSent
	}
	s.store.Update(acc)

	verified, err := s.collectCode(ctx, p, acc, models.AuditEventLogin, flowID, log)
	s.twoFactor.ClearPending(acc)
	s.store.Update(acc)
	if err != nil {
		return nil, err
	}
	if !verified {
		log.Warn("login failed: too many code attempts", slog.String("username", username))
		s.auditFailure(models.AuditEventLogin, username, flowID, models.AuditReasonTooManyAttempts)
		return nil, models.ErrTooManyAttempts
	}

	return s.loginSucceeded(acc, flowID, log), nil
}

func (s *AuthService) loginSucceeded(acc *models.Account, flowID string, log *slog.Logger) *models.Account {
	log.Info("user logged in", slog.String("username", acc.Username))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: models.AuditEventLogin,
		Username:  acc.Username,
		FlowID:    flowID,
		Success:   true,
	})
	return acc.Clone()
}

// checkPassword compares against the bcrypt hash. Accounts still carrying a
// plaintext password from an older data file are upgraded on a match.
func (s *AuthService) checkPassword(acc *models.Account, password string, log *slog.Logger) bool {
	if acc.PasswordHash != "" {
		return pkgauth.ComparePassword(acc.PasswordHash, password) == nil
	}
	if acc.LegacyPassword == "" || !pkgauth.SecretsEqual(acc.LegacyPassword, password) {
		return false
	}

	hash, err := pkgauth.HashPassword(password, s.config.BcryptCost)
	if err != nil {
		log.Error("failed to upgrade legacy password", slog.Any("error", err))
		return true
	}
	acc.PasswordHash = hash
	acc.LegacyPassword = ""
	s.store.Update(acc)
	if err := s.store.Save(); err != nil {
		log.Error("failed to save upgraded password", slog.String("username", acc.Username), slog.Any("error", err))
	}
	return true
}

// ============================================================================
// Password reset
// ============================================================================

// ForgotPassword resets the password after the user enters a code mailed to
// the account's address. It returns the newly generated recovery code.
func (s *AuthService) ForgotPassword(ctx context.Context, username string, p Prompter) (string, error) {
	flowID := uuid.NewString()
	log := s.logger.With(slog.String("flow", "forgot_password"), slog.String("flow_id", flowID))

	acc, err := s.store.Get(username)
	if err != nil {
		log.Info("password reset failed: unknown user", slog.String("username", username))
		s.auditFailure(models.AuditEventPasswordReset, username, flowID, models.AuditReasonUnknownUser)
		return "", err
	}

	if strings.TrimSpace(acc.Email) == "" {
		log.Info("password reset failed: no email on account", slog.String("username", username))
		return "", models.ErrNoEmail
	}

	p.Info("Sending verification code...")
	if !s.twoFactor.SendEmailCode(ctx, acc, PurposePasswordReset) {
		s.auditFailure(models.AuditEventPasswordReset, username, flowID, models.AuditReasonCodeNotSent)
		return "", models.ErrCodeNotSent
	}
	s.store.Update(acc)
	p.Info("A verification code has been sent to the email you registered.")

	verified, err := s.collectCode(ctx, p, acc, models.AuditEventPasswordReset, flowID, log)
	s.twoFactor.ClearPending(acc)
	s.store.Update(acc)
	if err != nil {
		return "", err
	}
	if !verified {
		log.Warn("password reset failed: too many code attempts", slog.String("username", username))
		s.auditFailure(models.AuditEventPasswordReset, username, flowID, models.AuditReasonTooManyAttempts)
		return "", models.ErrTooManyAttempts
	}

	var newPassword, confirm string
	for {
		newPassword, err = p.AskSecret(ctx, "Enter new password")
		if err != nil {
			return "", err
		}
		confirm, err = p.AskSecret(ctx, "Confirm new password")
		if err != nil {
			return "", err
		}

		if newPassword != confirm {
			p.Warn("Passwords do not match. Please try again.")
			continue
		}
		if !pkgauth.CheckPassword(newPassword) {
			p.Warn("Password requirements not met (" + pkgauth.PasswordRequirements + ").")
			continue
		}
		break
	}

	recoveryCode, err := s.applyNewPassword(acc, newPassword)
	if err != nil {
		log.Error("failed to apply new password", slog.String("username", username), slog.Any("error", err))
		s.auditLogger.LogPasswordChange(username, "email_code", false)
		return "", err
	}

	log.Info("password reset via email verification", slog.String("username", username))
	s.auditLogger.LogPasswordChange(username, "email_code", true)
	return recoveryCode, nil
}

// ResetPasswordWithRecoveryCode resets the password using the account's
// recovery code instead of an emailed code. It returns the replacement
// recovery code.
func (s *AuthService) ResetPasswordWithRecoveryCode(ctx context.Context, username, recoveryCode, newPassword, confirmPassword string) (string, error) {
	flowID := uuid.NewString()
	log := s.logger.With(slog.String("flow", "recovery_reset"), slog.String("flow_id", flowID))

	if newPassword != confirmPassword {
		log.Info("recovery reset failed: passwords did not match", slog.String("username", username))
		return "", models.ErrPasswordMismatch
	}

	acc, err := s.store.Get(username)
	if err != nil {
		log.Info("recovery reset failed: unknown user", slog.String("username", username))
		return "", err
	}

	if !pkgauth.SecretsEqual(acc.RecoveryCode, strings.TrimSpace(recoveryCode)) {
		log.Warn("recovery reset failed: wrong recovery code", slog.String("username", username))
		s.auditFailure(models.AuditEventPasswordReset, username, flowID, models.AuditReasonBadRecoveryCode)
		return "", models.ErrInvalidRecoveryCode
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrWeakPassword, err)
	}

	next, err := s.applyNewPassword(acc, newPassword)
	if err != nil {
		log.Error("failed to apply new password", slog.String("username", username), slog.Any("error", err))
		return "", err
	}

	log.Info("password reset via recovery code", slog.String("username", username))
	s.auditLogger.LogPasswordChange(username, "recovery_code", true)
	return next, nil
}

func (s *AuthService) applyNewPassword(acc *models.Account, password string) (string, error) {
	hash, err := pkgauth.HashPassword(password, s.config.BcryptCost)
	if err != nil {
		return "", err
	}
	recoveryCode, err := pkgauth.GenerateRecoveryCode()
	if err != nil {
		return "", err
	}

	acc.PasswordHash = hash
	acc.LegacyPassword = ""
	acc.RecoveryCode = recoveryCode
	s.store.Update(acc)
	if err := s.store.Save(); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}
	return recoveryCode, nil
}

// ============================================================================
// Settings
// ============================================================================

// SetTwoFactor turns login codes on or off. Turning them on requires a
// verified email address.
func (s *AuthService) SetTwoFactor(ctx context.Context, username string, enabled bool) error {
	acc, err := s.store.Get(username)
	if err != nil {
		return err
	}

	if enabled && !acc.CanReceiveCodes() {
		return models.ErrEmailNotVerified
	}
	if acc.TwoFactorEnabled == enabled {
		return nil
	}

	acc.TwoFactorEnabled = enabled
	s.store.Update(acc)
	if err := s.store.Save(); err != nil {
		s.logger.Error("failed to save two-factor setting", slog.String("username", username), slog.Any("error", err))
		return fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}

	s.auditLogger.LogAccountAction(models.AuditEventTwoFactorToggle, username, map[string]string{
		"enabled": strconv.FormatBool(enabled),
	})
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

// collectCode prompts for the pending code up to MaxCodeAttempts times.
// Only a prompt failure produces an error.
func (s *AuthService) collectCode(ctx context.Context, p Prompter, acc *models.Account, event, flowID string, log *slog.Logger) (bool, error) {
	maxAttempts := s.config.MaxCodeAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code, err := p.Ask(ctx, fmt.Sprintf("Enter the code sent to your email (attempt %d/%d)", attempt, maxAttempts))
		if err != nil {
			return false, err
		}

		if s.twoFactor.VerifyCode(acc, code) {
			return true, nil
		}

		log.Info("wrong one-time code",
			slog.String("username", acc.Username),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     models.AuditEventTwoFactorCode,
			Username:      acc.Username,
			FlowID:        flowID,
			FailureReason: models.AuditReasonWrongCode,
			Metadata: map[string]string{
				"flow":    event,
				"attempt": strconv.Itoa(attempt),
			},
		})
		if attempt < maxAttempts {
			p.Warn("Wrong code. Please try again.")
		}
	}
	return false, nil
}

func (s *AuthService) auditFailure(event, username, flowID, reason string) {
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     event,
		Username:      username,
		FlowID:        flowID,
		Success:       false,
		FailureReason: reason,
	})
}

func (s *AuthService) waitFrom(start time.Time, success bool) {
	if s.timing != nil {
		s.timing.WaitFrom(start, success)
	}
}
