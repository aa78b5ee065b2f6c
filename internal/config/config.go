package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	EmailProviderSMTP = "smtp"
	EmailProviderSES  = "ses"
	EmailProviderLog  = "log"
)

type Config struct {
	App       AppConfig
	TwoFactor TwoFactorConfig
	Auth      AuthConfig
	Admin     AdminConfig
	Email     EmailConfig
}

type AppConfig struct {
	Env      string `validate:"required"`
	DataDir  string `validate:"required"`
	LogLevel string `validate:"oneof=debug info warn error"`
}

// TwoFactorConfig holds the one-time code policy shared by every flow.
type TwoFactorConfig struct {
	CodeTTL     time.Duration `validate:"gt=0"`
	CodeDigits  int           `validate:"min=4,max=9"`
	MaxAttempts int           `validate:"min=1"`
}

type AuthConfig struct {
	BcryptCost          int `validate:"min=4,max=31"`
	TimingDelayBaseMs   int `validate:"min=0"`
	TimingDelayRandomMs int `validate:"min=0"`
}

// AdminConfig describes the account created when no admin exists yet.
type AdminConfig struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
	Email    string `validate:"required,contains=@"`
}

type EmailConfig struct {
	Provider    string `validate:"oneof=smtp ses log"`
	FromAddress string
	SMTPHost    string
	SMTPPort    int `validate:"min=1,max=65535"`
	SMTPUser    string
	SMTPPass    string
	SMTPTimeout time.Duration `validate:"gt=0"`
	AWSRegion   string
}

var validate = validator.New()

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Env:      getEnv("ENV", "development"),
			DataDir:  getEnv("DATA_DIR", "data"),
			LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
		TwoFactor: TwoFactorConfig{
			CodeTTL:     getEnvAsDuration("TWO_FACTOR_CODE_TTL", 10*time.Minute),
			CodeDigits:  getEnvAsInt("TWO_FACTOR_CODE_DIGITS", 6),
			MaxAttempts: getEnvAsInt("TWO_FACTOR_MAX_ATTEMPTS", 3),
		},
		Auth: AuthConfig{
			BcryptCost:          getEnvAsInt("BCRYPT_COST", 12),
			TimingDelayBaseMs:   getEnvAsInt("LOGIN_DELAY_BASE_MS", 300),
			TimingDelayRandomMs: getEnvAsInt("LOGIN_DELAY_RANDOM_MS", 200),
		},
		Admin: AdminConfig{
			Username: getEnv("ADMIN_USERNAME", "Admin"),
			Password: getEnv("ADMIN_PASSWORD", "Admin123!"),
			Email:    getEnv("ADMIN_EMAIL", "admin@example.com"),
		},
		Email: EmailConfig{
			Provider:    strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderSMTP)),
			SMTPHost:    getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:    getEnvAsInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
			SMTPTimeout: getEnvAsDuration("SMTP_TIMEOUT", 30*time.Second),
			AWSRegion:   getEnv("AWS_REGION", "eu-north-1"),
		},
	}
	cfg.Email.FromAddress = getEnv("EMAIL_FROM_ADDRESS", cfg.Email.SMTPUser)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints and the provider-specific requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			fe := ve[0]
			return fmt.Errorf("invalid configuration: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Email.Provider {
	case EmailProviderSMTP:
		if c.Email.SMTPUser == "" {
			return fmt.Errorf("SMTP_USER is required when EMAIL_PROVIDER=smtp")
		}
		if c.Email.SMTPPass == "" {
			return fmt.Errorf("SMTP_PASS is required when EMAIL_PROVIDER=smtp")
		}
	case EmailProviderSES:
		if c.Email.FromAddress == "" {
			return fmt.Errorf("EMAIL_FROM_ADDRESS is required when EMAIL_PROVIDER=ses")
		}
	}

	return nil
}

// TimingDelayBase is the minimum time a failed login takes.
func (c *AuthConfig) TimingDelayBase() time.Duration {
	return time.Duration(c.TimingDelayBaseMs) * time.Millisecond
}

// TimingDelayRandom is the jitter added on top of TimingDelayBase.
func (c *AuthConfig) TimingDelayRandom() time.Duration {
	return time.Duration(c.TimingDelayRandomMs) * time.Millisecond
}

// AccountsFile is where the account list is persisted.
func (c *AppConfig) AccountsFile() string {
	return filepath.Join(c.DataDir, "users.json")
}

// LogFile is where structured logs are appended.
func (c *AppConfig) LogFile() string {
	return filepath.Join(c.DataDir, "log.json")
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
