package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/BradenHooton/traveljournal/internal/models"
	"github.com/BradenHooton/traveljournal/internal/services"
	pkgauth "github.com/BradenHooton/traveljournal/pkg/auth"
)

// AuthFlows is the account surface the console drives
type AuthFlows interface {
	RegisterWithEmailVerification(ctx context.Context, username, password string, p services.Prompter) (*models.Account, error)
	Login(ctx context.Context, username, password string, p services.Prompter) (*models.Account, error)
	ForgotPassword(ctx context.Context, username string, p services.Prompter) (string, error)
	ResetPasswordWithRecoveryCode(ctx context.Context, username, recoveryCode, newPassword, confirmPassword string) (string, error)
	SetTwoFactor(ctx context.Context, username string, enabled bool) error
}

// AccountAdmin is the admin surface the console drives
type AccountAdmin interface {
	ListAccounts(ctx context.Context, actor string) ([]*models.Account, error)
	DeleteAccount(ctx context.Context, actor, username string) error
}

// App holds the console session: who is logged in and the services used to
// act on their behalf.
type App struct {
	auth     AuthFlows
	admin    AccountAdmin
	prompter services.Prompter
	out      io.Writer
	logger   *slog.Logger
	session  *models.Account
}

// NewApp creates a new console App
func NewApp(auth AuthFlows, admin AccountAdmin, prompter services.Prompter, out io.Writer, logger *slog.Logger) *App {
	return &App{
		auth:     auth,
		admin:    admin,
		prompter: prompter,
		out:      out,
		logger:   logger,
	}
}

// Run starts the menu loop and returns when the user exits, input ends or
// ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	a.prompter.Info("Welcome to Travel Journal. Type 'help' for commands.")
	runREPL(ctx, a, a.prompter)
}

func (a *App) isLoggedIn() bool {
	return a.session != nil
}

func (a *App) isAdmin() bool {
	return a.session != nil && a.session.IsAdmin
}

func (a *App) status() string {
	if a.session == nil {
		return "journal"
	}
	return "journal (" + a.session.Username + ")"
}

// ============================================================================
// Account commands
// ============================================================================

func (a *App) Register(ctx context.Context) error {
	username, err := a.prompter.Ask(ctx, "Username")
	if err != nil {
		return err
	}
	password, err := a.prompter.AskSecret(ctx, "Password")
	if err != nil {
		return err
	}

	acc, err := a.auth.RegisterWithEmailVerification(ctx, username, password, a.prompter)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrEmailNotVerified):
			a.prompter.Warn("Email could not be verified. Account not created.")
		case acc != nil:
			// stored, but the two-factor choice was not saved
			a.prompter.Warn(userMessage(err))
			a.showRecoveryCode(acc.RecoveryCode)
		default:
			a.prompter.Warn(userMessage(err))
		}
		return err
	}

	a.prompter.Info("Account created. You can now log in.")
	a.showRecoveryCode(acc.RecoveryCode)
	return nil
}

func (a *App) Login(ctx context.Context) error {
	if a.isLoggedIn() {
		a.prompter.Warn("Already logged in as " + a.session.Username + ". Log out first.")
		return nil
	}
	username, err := a.prompter.Ask(ctx, "Username")
	if err != nil {
		return err
	}
	password, err := a.prompter.AskSecret(ctx, "Password")
	if err != nil {
		return err
	}

	acc, err := a.auth.Login(ctx, username, password, a.prompter)
	if err != nil {
		a.prompter.Warn(userMessage(err))
		return err
	}

	a.session = acc
	a.prompter.Info(fmt.Sprintf("Welcome, %s!", acc.Username))
	if acc.IsAdmin {
		a.prompter.Info("Admin commands: admin users, admin delete")
	}
	return nil
}

// Forgot resets a password using a code mailed to the account's address.
func (a *App) Forgot(ctx context.Context) error {
	username, err := a.prompter.Ask(ctx, "Username")
	if err != nil {
		return err
	}

	recoveryCode, err := a.auth.ForgotPassword(ctx, username, a.prompter)
	if err != nil {
		a.prompter.Warn(userMessage(err))
		return err
	}

	a.prompter.Info("Password updated. You can now log in with your new password.")
	a.showRecoveryCode(recoveryCode)
	return nil
}

// Recover resets a password using the account's recovery code.
func (a *App) Recover(ctx context.Context) error {
	username, err := a.prompter.Ask(ctx, "Username")
	if err != nil {
		return err
	}
	code, err := a.prompter.Ask(ctx, "Recovery code")
	if err != nil {
		return err
	}
	newPassword, err := a.prompter.AskSecret(ctx, "New password")
	if err != nil {
		return err
	}
	confirm, err := a.prompter.AskSecret(ctx, "Confirm password")
	if err != nil {
		return err
	}

	next, err := a.auth.ResetPasswordWithRecoveryCode(ctx, username, code, newPassword, confirm)
	if err != nil {
		a.prompter.Warn(userMessage(err))
		return err
	}

	a.prompter.Info("Password updated. You can now log in with your new password.")
	a.showRecoveryCode(next)
	return nil
}

func (a *App) TwoFactor(ctx context.Context, arg string) error {
	if !a.requireLogin() {
		return nil
	}

	var enabled bool
	switch arg {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		state := "off"
		if a.session.TwoFactorEnabled {
			state = "on"
		}
		a.prompter.Info("Email 2FA is " + state + ". Use '2fa on' or '2fa off'.")
		return nil
	}

	if err := a.auth.SetTwoFactor(ctx, a.session.Username, enabled); err != nil {
		if errors.Is(err, models.ErrEmailNotVerified) {
			a.prompter.Warn("2FA needs a verified email address.")
		} else {
			a.prompter.Warn(userMessage(err))
		}
		return err
	}

	a.session.TwoFactorEnabled = enabled
	if enabled {
		a.prompter.Info("Email 2FA enabled.")
	} else {
		a.prompter.Info("Email 2FA disabled.")
	}
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if !a.requireLogin() {
		return nil
	}
	a.logger.Info("user logged out", slog.String("username", a.session.Username))
	a.session = nil
	a.prompter.Info("Logged out.")
	return nil
}

// ============================================================================
// Admin commands
// ============================================================================

func (a *App) AdminUsers(ctx context.Context) error {
	if !a.requireAdmin() {
		return nil
	}

	accounts, err := a.admin.ListAccounts(ctx, a.session.Username)
	if err != nil {
		a.prompter.Warn(userMessage(err))
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tEMAIL\tVERIFIED\t2FA\tADMIN\tCREATED\tSAVINGS")
	for _, acc := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			acc.Username,
			acc.Email,
			yesNo(acc.EmailVerified),
			yesNo(acc.TwoFactorEnabled),
			yesNo(acc.IsAdmin),
			acc.CreatedAt.Format("2006-01-02"),
			acc.Savings.StringFixed(2),
		)
	}
	return tw.Flush()
}

func (a *App) AdminDelete(ctx context.Context) error {
	if !a.requireAdmin() {
		return nil
	}

	username, err := a.prompter.Ask(ctx, "Username to delete")
	if err != nil {
		return err
	}
	ok, err := a.prompter.Confirm(ctx, fmt.Sprintf("Delete %q permanently?", username))
	if err != nil {
		return err
	}
	if !ok {
		a.prompter.Info("Cancelled.")
		return nil
	}

	if err := a.admin.DeleteAccount(ctx, a.session.Username, username); err != nil {
		a.prompter.Warn(userMessage(err))
		return err
	}
	a.prompter.Info(fmt.Sprintf("Deleted %s.", username))
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func (a *App) requireLogin() bool {
	if !a.isLoggedIn() {
		a.prompter.Warn("You need to log in first.")
		return false
	}
	return true
}

func (a *App) requireAdmin() bool {
	if !a.requireLogin() {
		return false
	}
	if !a.isAdmin() {
		a.prompter.Warn(userMessage(models.ErrForbidden))
		return false
	}
	return true
}

func (a *App) showRecoveryCode(code string) {
	if code == "" {
		return
	}
	a.prompter.Info("Your recovery code is " + code + ". Keep it somewhere safe.")
}

// userMessage turns a service error into text for the console.
func userMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrUsernameTaken):
		return "Username already exists."
	case errors.Is(err, models.ErrInvalidUsername):
		return "Username cannot be empty."
	case errors.Is(err, models.ErrWeakPassword):
		return "Password requirements not met (" + pkgauth.PasswordRequirements + ")."
	case errors.Is(err, models.ErrInvalidEmail):
		return "Invalid email address."
	case errors.Is(err, models.ErrVerificationNotSent):
		return "Could not send verification email. Account not created."
	case errors.Is(err, models.ErrEmailNotVerified):
		return "Email address is not verified."
	case errors.Is(err, models.ErrInvalidCredentials):
		return "Invalid username or password."
	case errors.Is(err, models.ErrCodeNotSent):
		return "Could not send the code. Please try again later."
	case errors.Is(err, models.ErrTooManyAttempts):
		return "Too many wrong codes."
	case errors.Is(err, models.ErrNotFound):
		return "User not found."
	case errors.Is(err, models.ErrNoEmail):
		return "No email address is registered for this account."
	case errors.Is(err, models.ErrPasswordMismatch):
		return "Passwords do not match."
	case errors.Is(err, models.ErrInvalidRecoveryCode):
		return "Invalid recovery code."
	case errors.Is(err, models.ErrForbidden):
		return "Not allowed. Admin accounts cannot be deleted and admin commands need an admin login."
	case errors.Is(err, models.ErrPersistence):
		return "Could not save your data. Recent changes may be lost."
	default:
		return "Something went wrong: " + strings.TrimSpace(err.Error())
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
