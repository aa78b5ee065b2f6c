package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/BradenHooton/traveljournal/internal/models"
	pkglogger "github.com/BradenHooton/traveljournal/pkg/logger"
)

const (
	DefaultCodeDigits = 6
	DefaultCodeTTL    = 10 * time.Minute

	maxCodeDigits = 18
)

// Purposes used as the subject line of code emails
const (
	PurposeVerifyEmail   = "Verify your email"
	PurposeLoginCode     = "Login code"
	PurposePasswordReset = "Password reset code"
)

// TwoFactorConfig holds one-time code settings
type TwoFactorConfig struct {
	CodeDigits int
	CodeTTL    time.Duration
}

// TwoFactorService issues, delivers and verifies emailed one-time codes.
// The pending challenge lives on the account itself; callers decide when to
// write the account back to the store.
type TwoFactorService struct {
	sender EmailSender
	logger *slog.Logger
	config TwoFactorConfig
	now    func() time.Time
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(sender EmailSender, logger *slog.Logger, config TwoFactorConfig) *TwoFactorService {
	if config.CodeDigits <= 0 {
		config.CodeDigits = DefaultCodeDigits
	}
	if config.CodeTTL <= 0 {
		config.CodeTTL = DefaultCodeTTL
	}
	return &TwoFactorService{
		sender: sender,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// GenerateNumericCode returns a zero-padded string of random decimal digits
// drawn from crypto/rand.
func (s *TwoFactorService) GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 {
		digits = DefaultCodeDigits
	}
	if digits > maxCodeDigits {
		return "", fmt.Errorf("code length %d exceeds %d digits", digits, maxCodeDigits)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// Hash returns the hex-encoded SHA-256 digest of code.
func (s *TwoFactorService) Hash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// SendEmailCode starts a pending challenge on acc and mails the code.
// It reports false when the account has no email or delivery fails; in
// both cases acc is left without a pending challenge.
func (s *TwoFactorService) SendEmailCode(ctx context.Context, acc *models.Account, purpose string) bool {
	if strings.TrimSpace(acc.Email) == "" {
		s.logger.Warn("cannot send code: account has no email", slog.String("username", acc.Username))
		return false
	}

	code, err := s.GenerateNumericCode(s.config.CodeDigits)
	if err != nil {
		s.logger.Error("failed to generate one-time code", slog.Any("error", err))
		return false
	}

	expiresAt := s.now().UTC().Add(s.config.CodeTTL)
	acc.PendingTwoFactorCodeHash = s.Hash(code)
	acc.PendingTwoFactorExpiresAt = &expiresAt

	body := fmt.Sprintf("Hi %s!\n\nYour code is: %s\nIt is valid for %d minutes.\n\n/Travel Journal",
		acc.Username, code, int(s.config.CodeTTL.Minutes()))

	if err := s.deliver(ctx, acc.Email, purpose, body); err != nil {
		s.ClearPending(acc)
		s.logger.Error("failed to send one-time code",
			slog.String("username", acc.Username),
			pkglogger.EmailAttr(acc.Email),
			slog.String("purpose", purpose),
			slog.Any("error", err))
		return false
	}

	s.logger.Info("one-time code sent",
		slog.String("username", acc.Username),
		pkglogger.EmailAttr(acc.Email),
		slog.String("purpose", purpose),
		slog.Time("expires_at", expiresAt))

	return true
}

// deliver calls the sender and turns a panic into an error so that a broken
// transport can never take the calling flow down with it.
func (s *TwoFactorService) deliver(ctx context.Context, to, subject, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("email sender panicked: %v", r)
		}
	}()
	return s.sender.Send(ctx, to, subject, body)
}

// VerifyCode checks input against the pending challenge. An absent or expired
// challenge never matches. The account is not modified.
func (s *TwoFactorService) VerifyCode(acc *models.Account, input string) bool {
	if acc.PendingTwoFactorExpiresAt == nil {
		return false
	}
	if !s.now().Before(*acc.PendingTwoFactorExpiresAt) {
		return false
	}

	got := s.Hash(strings.TrimSpace(input))
	want := strings.ToLower(acc.PendingTwoFactorCodeHash)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ClearPending drops any pending challenge on acc.
func (s *TwoFactorService) ClearPending(acc *models.Account) {
	acc.PendingTwoFactorCodeHash = ""
	acc.PendingTwoFactorExpiresAt = nil
}
