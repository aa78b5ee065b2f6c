package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BradenHooton/traveljournal/internal/auth"
	"github.com/BradenHooton/traveljournal/internal/cli"
	"github.com/BradenHooton/traveljournal/internal/config"
	"github.com/BradenHooton/traveljournal/internal/repositories"
	"github.com/BradenHooton/traveljournal/internal/services"
	pkglogger "github.com/BradenHooton/traveljournal/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "travel journal:", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Logs go to a file so they never interleave with the console menu
	logFile, err := os.OpenFile(cfg.App.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: parseLevel(cfg.App.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.App.Env),
		slog.String("data_dir", cfg.App.DataDir),
		slog.String("email_provider", cfg.Email.Provider))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store := repositories.NewAccountRepository(cfg.App.AccountsFile())
	if err := store.Load(); err != nil {
		logger.Warn("could not load accounts, starting with an empty list",
			slog.String("path", store.Path()),
			slog.Any("error", err))
		fmt.Fprintln(os.Stderr, "Warning: could not read saved accounts. Starting with an empty list.")
	}

	// Initialize services
	sender, err := newEmailSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	auditLogger := pkglogger.NewAuditLogger(logger)

	twoFactorService := services.NewTwoFactorService(sender, logger, services.TwoFactorConfig{
		CodeDigits: cfg.TwoFactor.CodeDigits,
		CodeTTL:    cfg.TwoFactor.CodeTTL,
	})

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Auth.TimingDelayBase(),
		RandomDelay: cfg.Auth.TimingDelayRandom(),
	})

	authService := services.NewAuthService(store, twoFactorService, timingDelay, logger, auditLogger, services.AuthConfig{
		MaxCodeAttempts: cfg.TwoFactor.MaxAttempts,
		BcryptCost:      cfg.Auth.BcryptCost,
	})

	adminService := services.NewAdminService(store, logger, auditLogger, services.AdminSeed{
		Username: cfg.Admin.Username,
		Password: cfg.Admin.Password,
		Email:    cfg.Admin.Email,
	}, cfg.Auth.BcryptCost)

	if n, err := adminService.MigrateLegacyPasswords(ctx); err != nil {
		logger.Error("legacy password migration failed", slog.Any("error", err))
	} else if n > 0 {
		fmt.Fprintf(os.Stderr, "Upgraded %d stored password(s).\n", n)
	}

	if created, err := adminService.EnsureAdmin(ctx); err != nil {
		logger.Error("failed to seed admin account", slog.Any("error", err))
	} else if created {
		fmt.Fprintf(os.Stderr, "Created admin account %q. Change its password after first login.\n", cfg.Admin.Username)
	}

	// A blocked terminal read does not see ctx; closing stdin unblocks it.
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		os.Stdin.Close()
	}()

	// Run the console
	prompter := cli.NewTerminalPrompter(os.Stdin, os.Stdout, int(os.Stdin.Fd()))
	app := cli.NewApp(authService, adminService, prompter, os.Stdout, logger)
	app.Run(ctx)

	logger.Info("travel journal exited")
	return nil
}

func newEmailSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.EmailSender, error) {
	switch cfg.Email.Provider {
	case config.EmailProviderSES:
		sender, err := services.NewSESEmailSender(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SES sender: %w", err)
		}
		return sender, nil
	case config.EmailProviderLog:
		logger.Warn("email provider is 'log': codes are printed to the terminal")
		return services.NewConsoleEmailSender(os.Stdout), nil
	default:
		return services.NewSMTPEmailSender(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUser,
			cfg.Email.SMTPPass,
			cfg.Email.FromAddress,
			cfg.Email.SMTPTimeout,
			logger,
		), nil
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
