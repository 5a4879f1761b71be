package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env         string
	MetricsAddr string

	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Billing   BillingConfig
	Reminders RemindersConfig
	Reports   ReportsConfig
	Admin     AdminConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// BillingConfig tunes the installment and allocation engine.
type BillingConfig struct {
	// InscriptionSlice is the portion of a combined payment routed to the
	// inscription line when the tariff grid does not define its own fee.
	InscriptionSlice int64
	ReceiptRetries   int
}

// RemindersConfig controls the outbox worker and the notification provider.
type RemindersConfig struct {
	Workers        int
	SendTimeout    time.Duration
	RetryDelay     time.Duration
	MaxRetries     int
	DefaultChannel string
}

// ReportsConfig tunes projection caching for dashboards and periodic reports.
type ReportsConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// AdminConfig guards the destructive reset surface.
type AdminConfig struct {
	ResetConfirmationPhrase string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.MetricsAddr = v.GetString("METRICS_ADDR")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Billing = BillingConfig{
		InscriptionSlice: v.GetInt64("BILLING_INSCRIPTION_SLICE"),
		ReceiptRetries:   v.GetInt("BILLING_RECEIPT_RETRIES"),
	}

	cfg.Reminders = RemindersConfig{
		Workers:        v.GetInt("REMINDER_WORKERS"),
		SendTimeout:    parseDuration(v.GetString("REMINDER_SEND_TIMEOUT"), 10*time.Second),
		RetryDelay:     parseDuration(v.GetString("REMINDER_RETRY_DELAY"), time.Minute),
		MaxRetries:     v.GetInt("REMINDER_MAX_RETRIES"),
		DefaultChannel: v.GetString("REMINDER_DEFAULT_CHANNEL"),
	}

	cfg.Reports = ReportsConfig{
		CacheEnabled: v.GetBool("REPORTS_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("REPORTS_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Admin = AdminConfig{
		ResetConfirmationPhrase: v.GetString("ADMIN_RESET_PHRASE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("METRICS_ADDR", ":9090")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "scolaris")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BILLING_INSCRIPTION_SLICE", 30000)
	v.SetDefault("BILLING_RECEIPT_RETRIES", 10)

	v.SetDefault("REMINDER_WORKERS", 2)
	v.SetDefault("REMINDER_SEND_TIMEOUT", "10s")
	v.SetDefault("REMINDER_RETRY_DELAY", "1m")
	v.SetDefault("REMINDER_MAX_RETRIES", 3)
	v.SetDefault("REMINDER_DEFAULT_CHANNEL", "SMS")

	v.SetDefault("REPORTS_CACHE_ENABLED", false)
	v.SetDefault("REPORTS_CACHE_TTL", "5m")

	v.SetDefault("ADMIN_RESET_PHRASE", "SUPPRIMER TOUTES LES DONNEES")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
