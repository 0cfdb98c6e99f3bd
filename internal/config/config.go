package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Health    HealthConfig    `mapstructure:"health"`
}

type ServerConfig struct {
	Port string `mapstructure:"SERVER_PORT"`
	Host string `mapstructure:"SERVER_HOST"`
	Env  string `mapstructure:"ENV"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"DATABASE_URL"`
	MaxOpenConns    int    `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime string `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
}

type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type SchedulerConfig struct {
	PollInterval  string `mapstructure:"SCHEDULER_POLL_INTERVAL"`
	WorkerCount   int    `mapstructure:"SCHEDULER_WORKER_COUNT"`
	ClaimLease    string `mapstructure:"SCHEDULER_CLAIM_LEASE"`
	JobRetryDelay string `mapstructure:"SCHEDULER_JOB_RETRY_DELAY"`
	Timezone      string `mapstructure:"SCHEDULER_TIMEZONE"`
}

type BillingConfig struct {
	FineAmount            string `mapstructure:"FINE_AMOUNT"`
	FineGracePeriod       string `mapstructure:"FINE_GRACE_PERIOD"`
	EscalationGracePeriod string `mapstructure:"ESCALATION_GRACE_PERIOD"`
	EMIPeriodMonths       int    `mapstructure:"EMI_PERIOD_MONTHS"`
	ReminderLead          string `mapstructure:"REMINDER_LEAD"`
}

type LedgerConfig struct {
	RetryAttempts  int    `mapstructure:"LEDGER_RETRY_ATTEMPTS"`
	RetryBaseDelay string `mapstructure:"LEDGER_RETRY_BASE_DELAY"`
}

type NotifierConfig struct {
	Mode         string `mapstructure:"NOTIFIER_MODE"` // "smtp" or "log"
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     string `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	FromAddress  string `mapstructure:"NOTIFIER_FROM_ADDRESS"`
	AdminEmail   string `mapstructure:"NOTIFIER_ADMIN_EMAIL"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type HealthConfig struct {
	Timeout string `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

// Load reads configuration from environment variables and files
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DATABASE_CONN_MAX_LIFETIME", "5m")
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("SCHEDULER_POLL_INTERVAL", "5s")
	viper.SetDefault("SCHEDULER_WORKER_COUNT", 8)
	viper.SetDefault("SCHEDULER_CLAIM_LEASE", "2m")
	viper.SetDefault("SCHEDULER_JOB_RETRY_DELAY", "30s")
	viper.SetDefault("SCHEDULER_TIMEZONE", "UTC")
	viper.SetDefault("FINE_AMOUNT", "25.00")
	viper.SetDefault("FINE_GRACE_PERIOD", "72h")
	viper.SetDefault("ESCALATION_GRACE_PERIOD", "72h")
	viper.SetDefault("EMI_PERIOD_MONTHS", 1)
	viper.SetDefault("REMINDER_LEAD", "72h")
	viper.SetDefault("LEDGER_RETRY_ATTEMPTS", 3)
	viper.SetDefault("LEDGER_RETRY_BASE_DELAY", "200ms")
	viper.SetDefault("NOTIFIER_MODE", "log")
	viper.SetDefault("SMTP_PORT", "587")
	viper.SetDefault("HEALTH_CHECK_TIMEOUT", "5s")

	// Read from environment variables
	viper.AutomaticEnv()

	// Try to read from .env file (optional)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./deployments")

	// Don't fail if .env file doesn't exist
	_ = viper.ReadInConfig()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Billing.EMIPeriodMonths <= 0 {
		return fmt.Errorf("EMI_PERIOD_MONTHS must be greater than 0")
	}

	if c.Scheduler.WorkerCount <= 0 {
		return fmt.Errorf("SCHEDULER_WORKER_COUNT must be greater than 0")
	}

	if c.Ledger.RetryAttempts <= 0 {
		return fmt.Errorf("LEDGER_RETRY_ATTEMPTS must be greater than 0")
	}

	if _, err := decimal.NewFromString(c.Billing.FineAmount); err != nil {
		return fmt.Errorf("FINE_AMOUNT must be a valid decimal: %w", err)
	}

	for name, value := range map[string]string{
		"FINE_GRACE_PERIOD":          c.Billing.FineGracePeriod,
		"ESCALATION_GRACE_PERIOD":    c.Billing.EscalationGracePeriod,
		"REMINDER_LEAD":              c.Billing.ReminderLead,
		"SCHEDULER_POLL_INTERVAL":    c.Scheduler.PollInterval,
		"SCHEDULER_CLAIM_LEASE":      c.Scheduler.ClaimLease,
		"SCHEDULER_JOB_RETRY_DELAY":  c.Scheduler.JobRetryDelay,
		"LEDGER_RETRY_BASE_DELAY":    c.Ledger.RetryBaseDelay,
		"DATABASE_CONN_MAX_LIFETIME": c.Database.ConnMaxLifetime,
		"HEALTH_CHECK_TIMEOUT":       c.Health.Timeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", name, err)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

func (c *Config) GetFineAmount() decimal.Decimal {
	amount, _ := decimal.NewFromString(c.Billing.FineAmount)
	return amount
}

func (c *Config) GetFineGracePeriod() time.Duration {
	d, _ := time.ParseDuration(c.Billing.FineGracePeriod)
	return d
}

func (c *Config) GetEscalationGracePeriod() time.Duration {
	d, _ := time.ParseDuration(c.Billing.EscalationGracePeriod)
	return d
}

func (c *Config) GetReminderLead() time.Duration {
	d, _ := time.ParseDuration(c.Billing.ReminderLead)
	return d
}

func (c *Config) GetPollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.PollInterval)
	return d
}

func (c *Config) GetClaimLease() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.ClaimLease)
	return d
}

func (c *Config) GetJobRetryDelay() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.JobRetryDelay)
	return d
}

func (c *Config) GetLedgerRetryBaseDelay() time.Duration {
	d, _ := time.ParseDuration(c.Ledger.RetryBaseDelay)
	return d
}

func (c *Config) GetConnMaxLifetime() time.Duration {
	d, _ := time.ParseDuration(c.Database.ConnMaxLifetime)
	return d
}

func (c *Config) GetHealthTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Health.Timeout)
	return d
}
