// Package config provides daemon and fund configuration management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	// Timezones resolve on hosts without a zoneinfo database
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "fundx/internal/errors"
	"fundx/internal/logging"
	"fundx/internal/models"
)

// Config holds the daemon configuration loaded from <home>/config.toml.
type Config struct {
	Home        string         `mapstructure:"-"`
	Daemon      DaemonConfig   `mapstructure:"daemon"`
	Market      MarketConfig   `mapstructure:"market"`
	Reports     ReportConfig   `mapstructure:"reports"`
	Sync        SyncConfig     `mapstructure:"sync"`
	Executor    ExecutorConfig `mapstructure:"executor"`
	Credentials Credentials    `mapstructure:"credentials"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

// DaemonConfig holds scheduler settings.
type DaemonConfig struct {
	Timezone                string `mapstructure:"timezone"`
	StopLossIntervalMinutes int    `mapstructure:"stop_loss_interval_minutes"`
	Workers                 int    `mapstructure:"workers"`
	QueueSize               int    `mapstructure:"queue_size"`
}

// MarketConfig holds the market-hours window used by the stop-loss guard.
type MarketConfig struct {
	Open  string `mapstructure:"open"`  // HH:MM
	Close string `mapstructure:"close"` // HH:MM
}

// ReportConfig holds periodic report timing.
type ReportConfig struct {
	Time       string `mapstructure:"time"`
	WeeklyDay  string `mapstructure:"weekly_day"`
	MonthlyDay int    `mapstructure:"monthly_day"`
}

// SyncConfig holds the daily broker sync time.
type SyncConfig struct {
	Time    string `mapstructure:"time"`
	Enabled bool   `mapstructure:"enabled"`
}

// ExecutorConfig selects and configures the session executor.
type ExecutorConfig struct {
	Kind                  string   `mapstructure:"kind"` // subprocess, openai
	Command               string   `mapstructure:"command"`
	Args                  []string `mapstructure:"args"`
	DefaultModel          string   `mapstructure:"default_model"`
	DefaultTimeoutMinutes int      `mapstructure:"default_timeout_minutes"`
	SubTaskTimeoutMinutes int      `mapstructure:"sub_task_timeout_minutes"`
}

// Credentials holds broker and executor API credentials.
type Credentials struct {
	OpenAI  OpenAICredentials  `mapstructure:"openai"`
	Alpaca  AlpacaCredentials  `mapstructure:"alpaca"`
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// AlpacaCredentials holds Alpaca API credentials.
type AlpacaCredentials struct {
	APIKeyID     string `mapstructure:"api_key_id"`
	APISecretKey string `mapstructure:"api_secret_key"`
	BaseURL      string `mapstructure:"base_url"`
}

// ZerodhaCredentials holds Kite Connect credentials.
type ZerodhaCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
	Exchange    string `mapstructure:"exchange"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// DefaultHome returns FUNDX_HOME or ~/.fundx.
func DefaultHome() string {
	if v := os.Getenv("FUNDX_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fundx"
	}
	return filepath.Join(home, ".fundx")
}

// Load loads the daemon configuration from home.
// If home is empty, uses DefaultHome. A missing config.toml is created from
// the template and defaults are used.
func Load(home string) (*Config, error) {
	if home == "" {
		home = DefaultHome()
	}
	// .env is optional; values already in the environment win
	_ = godotenv.Load(filepath.Join(home, ".env"))

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(home)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, fmt.Sprintf("reading config.toml: %v", err))
		}
		if err := createTemplateConfig(home); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, fmt.Sprintf("decoding config.toml: %v", err))
	}
	cfg.Home = home

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon.timezone", "America/New_York")
	v.SetDefault("daemon.stop_loss_interval_minutes", 5)
	v.SetDefault("daemon.workers", 8)
	v.SetDefault("daemon.queue_size", 128)

	v.SetDefault("market.open", "09:30")
	v.SetDefault("market.close", "16:00")

	v.SetDefault("reports.time", "16:30")
	v.SetDefault("reports.weekly_day", "friday")
	v.SetDefault("reports.monthly_day", 1)

	v.SetDefault("sync.time", "16:15")
	v.SetDefault("sync.enabled", true)

	v.SetDefault("executor.kind", "subprocess")
	v.SetDefault("executor.command", "fundx-agent")
	v.SetDefault("executor.args", []string{"--print"})
	v.SetDefault("executor.default_model", "gpt-4o")
	v.SetDefault("executor.default_timeout_minutes", 15)
	v.SetDefault("executor.sub_task_timeout_minutes", 8)

	v.SetDefault("credentials.alpaca.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("credentials.zerodha.exchange", "NSE")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}

	// Alpaca uses the same variable names as its SDK
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Credentials.Alpaca.APIKeyID = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Credentials.Alpaca.APISecretKey = v
	}
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Credentials.Alpaca.BaseURL = v
	}

	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Zerodha.AccessToken = v
	}

	if v := os.Getenv("FUNDX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Daemon.Timezone); err != nil {
		return apperrors.NewValidationError("daemon.timezone", c.Daemon.Timezone, err.Error())
	}
	if c.Daemon.StopLossIntervalMinutes <= 0 || c.Daemon.StopLossIntervalMinutes > 60 {
		return apperrors.NewValidationError("daemon.stop_loss_interval_minutes", c.Daemon.StopLossIntervalMinutes, "must be between 1 and 60")
	}
	if c.Daemon.Workers <= 0 {
		return apperrors.NewValidationError("daemon.workers", c.Daemon.Workers, "must be positive")
	}

	clocks := map[string]string{
		"market.open":  c.Market.Open,
		"market.close": c.Market.Close,
		"reports.time": c.Reports.Time,
		"sync.time":    c.Sync.Time,
	}
	for field, value := range clocks {
		if _, err := ParseClock(value); err != nil {
			return apperrors.NewValidationError(field, value, err.Error())
		}
	}
	open, _ := ParseClock(c.Market.Open)
	closing, _ := ParseClock(c.Market.Close)
	if open >= closing {
		return apperrors.NewValidationError("market.close", c.Market.Close, "must be after market.open")
	}

	if _, ok := models.ParseWeekday(c.Reports.WeeklyDay); !ok {
		return apperrors.NewValidationError("reports.weekly_day", c.Reports.WeeklyDay, "unknown weekday")
	}
	if c.Reports.MonthlyDay < 1 || c.Reports.MonthlyDay > 28 {
		return apperrors.NewValidationError("reports.monthly_day", c.Reports.MonthlyDay, "must be between 1 and 28")
	}

	switch c.Executor.Kind {
	case "subprocess", "openai":
	default:
		return apperrors.NewValidationError("executor.kind", c.Executor.Kind, "must be 'subprocess' or 'openai'")
	}
	if c.Executor.DefaultTimeoutMinutes <= 0 {
		return apperrors.NewValidationError("executor.default_timeout_minutes", c.Executor.DefaultTimeoutMinutes, "must be positive")
	}

	return nil
}

// Location returns the configured scheduler timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Daemon.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WeeklyReportDay returns the weekday the weekly report runs on.
func (c *Config) WeeklyReportDay() time.Weekday {
	wd, _ := models.ParseWeekday(c.Reports.WeeklyDay)
	return wd
}

// LogConfig returns the logging configuration rooted at the daemon home.
func (c *Config) LogConfig() logging.LogConfig {
	lc := logging.DefaultLogConfig(c.Home)
	lc.Level = c.Logging.Level
	lc.Console = c.Logging.Console
	lc.File = c.Logging.File
	return lc
}

// FundsDir returns the directory holding all fund directories.
func (c *Config) FundsDir() string {
	return FundsDir(c.Home)
}

// LedgerPath returns the trade ledger database path.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Home, "ledger.db")
}

// PIDPath returns the daemon instance lock path.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Home, "daemon.pid")
}

// FundsDir returns <home>/funds.
func FundsDir(home string) string {
	return filepath.Join(home, "funds")
}

// FundDir returns <home>/funds/<id>.
func FundDir(home, fundID string) string {
	return filepath.Join(FundsDir(home), fundID)
}

// FundConfigPath returns the fund_config.yaml path for a fund.
func FundConfigPath(home, fundID string) string {
	return filepath.Join(FundDir(home, fundID), "fund_config.yaml")
}

// ParseClock parses HH:MM into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders t as HH:MM.
func FormatClock(t time.Time) string {
	return t.Format("15:04")
}
