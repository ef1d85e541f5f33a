package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "CODESTREAK"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "codestreak.db"
	defaultLogLevel       = "info"
	defaultTimezone       = "UTC"
	defaultFinalizeAt     = "23:00"
	defaultWarningAt      = "22:45"
	defaultInstantEvery   = 10 * time.Minute
	defaultSweepWorkers   = 4
	defaultSweepPageSize  = 100
	defaultProbeTimeout   = 10 * time.Second
	defaultTokenTTLMinute = 60
)

// AppConfig captures runtime configuration for the CodeStreak service.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	ServiceSecret string
	TokenTTL      time.Duration

	Timezone        *time.Location
	FinalizeAt      string
	WarningAt       string
	InstantInterval time.Duration
	SweepWorkers    int
	SweepPageSize   int
	ProbeTimeout    time.Duration

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	MailFrom string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinute)
	configViper.SetDefault("reconcile.timezone", defaultTimezone)
	configViper.SetDefault("reconcile.finalize_at", defaultFinalizeAt)
	configViper.SetDefault("reconcile.warning_at", defaultWarningAt)
	configViper.SetDefault("reconcile.instant_interval", defaultInstantEvery.String())
	configViper.SetDefault("reconcile.sweep_workers", defaultSweepWorkers)
	configViper.SetDefault("reconcile.sweep_page_size", defaultSweepPageSize)
	configViper.SetDefault("probe.timeout", defaultProbeTimeout.String())
	configViper.SetDefault("smtp.port", 587)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	location, err := time.LoadLocation(configViper.GetString("reconcile.timezone"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("reconcile.timezone is invalid: %w", err)
	}

	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		ServiceSecret: configViper.GetString("auth.service_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,

		Timezone:        location,
		FinalizeAt:      configViper.GetString("reconcile.finalize_at"),
		WarningAt:       configViper.GetString("reconcile.warning_at"),
		InstantInterval: configViper.GetDuration("reconcile.instant_interval"),
		SweepWorkers:    configViper.GetInt("reconcile.sweep_workers"),
		SweepPageSize:   configViper.GetInt("reconcile.sweep_page_size"),
		ProbeTimeout:    configViper.GetDuration("probe.timeout"),

		SMTPHost: configViper.GetString("smtp.host"),
		SMTPPort: configViper.GetInt("smtp.port"),
		SMTPUser: configViper.GetString("smtp.user"),
		SMTPPass: configViper.GetString("smtp.pass"),
		MailFrom: configViper.GetString("smtp.from"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.ServiceSecret) == "" {
		return fmt.Errorf("auth.service_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if _, err := ParseWallClock(c.FinalizeAt); err != nil {
		return fmt.Errorf("reconcile.finalize_at is invalid: %w", err)
	}
	if _, err := ParseWallClock(c.WarningAt); err != nil {
		return fmt.Errorf("reconcile.warning_at is invalid: %w", err)
	}
	if c.InstantInterval <= 0 {
		return fmt.Errorf("reconcile.instant_interval must be positive")
	}
	if c.SweepWorkers <= 0 {
		return fmt.Errorf("reconcile.sweep_workers must be positive")
	}
	if c.SweepPageSize <= 0 {
		return fmt.Errorf("reconcile.sweep_page_size must be positive")
	}
	return nil
}

// WallClock is a time-of-day in the reconciliation zone.
type WallClock struct {
	Hour   int
	Minute int
}

// ParseWallClock reads an "HH:MM" time-of-day value.
func ParseWallClock(value string) (WallClock, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return WallClock{}, err
	}
	return WallClock{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}
