package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/traveljournal/internal/models"
	pkgauth "github.com/BradenHooton/traveljournal/pkg/auth"
	pkglogger "github.com/BradenHooton/traveljournal/pkg/logger"
)

// AdminSeed describes the administrative account created on first run
type AdminSeed struct {
	Username string
	Password string
	Email    string
}

// AdminService bootstraps and manages accounts on behalf of administrators
type AdminService struct {
	store       AccountStore
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	seed        AdminSeed
	bcryptCost  int
}

// NewAdminService creates a new AdminService
func NewAdminService(store AccountStore, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, seed AdminSeed, bcryptCost int) *AdminService {
	return &AdminService{
		store:       store,
		logger:      logger,
		auditLogger: auditLogger,
		seed:        seed,
		bcryptCost:  bcryptCost,
	}
}

// EnsureAdmin creates the seed admin account when no account is an admin.
// It reports whether an account was created.
func (s *AdminService) EnsureAdmin(ctx context.Context) (bool, error) {
	for _, acc := range s.store.GetAll() {
		if acc.IsAdmin {
			s.logger.Debug("admin account already exists", slog.String("username", acc.Username))
			return false, nil
		}
	}

	if s.store.Exists(s.seed.Username) {
		return false, fmt.Errorf("%w: cannot seed admin over regular account %q", models.ErrConflict, s.seed.Username)
	}

	hash, err := pkgauth.HashPassword(s.seed.Password, s.bcryptCost)
	if err != nil {
		return false, fmt.Errorf("failed to hash admin password: %w", err)
	}
	recoveryCode, err := pkgauth.GenerateRecoveryCode()
	if err != nil {
		return false, err
	}

	admin := &models.Account{
		Username:         s.seed.Username,
		PasswordHash:     hash,
		Email:            s.seed.Email,
		EmailVerified:    false,
		TwoFactorEnabled: false,
		IsAdmin:          true,
		CreatedAt:        time.Now().UTC(),
		RecoveryCode:     recoveryCode,
	}

	s.store.Add(admin)
	if err := s.store.Save(); err != nil {
		return true, fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}

	s.logger.Info("admin account created", slog.String("username", admin.Username))
	s.auditLogger.LogAccountAction(models.AuditEventAdminSeed, admin.Username, nil)
	return true, nil
}

// MigrateLegacyPasswords hashes any plaintext passwords left by older data
// files and saves the result. It returns how many accounts were upgraded.
func (s *AdminService) MigrateLegacyPasswords(ctx context.Context) (int, error) {
	migrated := 0
	for _, acc := range s.store.GetAll() {
		if acc.LegacyPassword == "" {
			continue
		}
		if acc.PasswordHash == "" {
			hash, err := pkgauth.HashPassword(acc.LegacyPassword, s.bcryptCost)
			if err != nil {
				return migrated, fmt.Errorf("failed to hash legacy password for %q: %w", acc.Username, err)
			}
			acc.PasswordHash = hash
		}
		acc.LegacyPassword = ""
		s.store.Update(acc)
		migrated++
	}

	if migrated == 0 {
		return 0, nil
	}
	if err := s.store.Save(); err != nil {
		return migrated, fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}

	s.logger.Info("legacy passwords migrated", slog.Int("count", migrated))
	return migrated, nil
}

// ListAccounts returns a snapshot of every account, for display.
func (s *AdminService) ListAccounts(ctx context.Context, actor string) ([]*models.Account, error) {
	if err := s.requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.GetAll(), nil
}

// DeleteAccount removes a non-admin account. actor must be an admin.
func (s *AdminService) DeleteAccount(ctx context.Context, actor, username string) error {
	if err := s.requireAdmin(actor); err != nil {
		return err
	}

	target, err := s.store.Get(username)
	if err != nil {
		return err
	}
	if target.IsAdmin {
		s.logger.Warn("refused to delete admin account",
			slog.String("actor", actor),
			slog.String("username", username))
		return fmt.Errorf("%w: admin accounts cannot be deleted", models.ErrForbidden)
	}

	s.store.Delete(username)
	if err := s.store.Save(); err != nil {
		s.logger.Error("failed to save after delete", slog.String("username", username), slog.Any("error", err))
		return fmt.Errorf("%w: %w", models.ErrPersistence, err)
	}

	s.logger.Info("account deleted", slog.String("actor", actor), slog.String("username", username))
	s.auditLogger.LogAccountAction(models.AuditEventAccountDelete, username, map[string]string{"actor": actor})
	return nil
}

func (s *AdminService) requireAdmin(actor string) error {
	acc, err := s.store.Get(actor)
	if err != nil || !acc.IsAdmin {
		s.logger.Warn("non-admin attempted admin action", slog.String("actor", actor))
		return models.ErrForbidden
	}
	return nil
}
