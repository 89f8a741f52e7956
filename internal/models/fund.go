package models

import (
	"strings"
	"time"

	"fundx/internal/trigger"
)

// FundStatus is the lifecycle status of a fund.
type FundStatus string

const (
	FundActive FundStatus = "active"
	FundPaused FundStatus = "paused"
	FundClosed FundStatus = "closed"
)

// Valid reports whether s is a known status.
func (s FundStatus) Valid() bool {
	switch s {
	case FundActive, FundPaused, FundClosed:
		return true
	}
	return false
}

// Fund is the full per-fund configuration as stored in fund_config.yaml.
type Fund struct {
	Info      FundInfo        `mapstructure:"fund" yaml:"fund"`
	Capital   Capital         `mapstructure:"capital" yaml:"capital"`
	Objective Objective       `mapstructure:"objective" yaml:"objective"`
	Risk      RiskLimits      `mapstructure:"risk" yaml:"risk"`
	Schedule  Schedule        `mapstructure:"schedule" yaml:"schedule"`
	Broker    BrokerSelection `mapstructure:"broker" yaml:"broker"`
	Model     string          `mapstructure:"model" yaml:"model,omitempty"`
}

// FundInfo identifies a fund.
type FundInfo struct {
	Name        string     `mapstructure:"name" yaml:"name"`
	DisplayName string     `mapstructure:"display_name" yaml:"display_name"`
	Description string     `mapstructure:"description" yaml:"description,omitempty"`
	Status      FundStatus `mapstructure:"status" yaml:"status"`
}

// Capital holds the fund's starting capital.
type Capital struct {
	Initial  float64 `mapstructure:"initial" yaml:"initial"`
	Currency string  `mapstructure:"currency" yaml:"currency"`
}

// Objective describes what the fund is trying to achieve.
type Objective struct {
	Type        string  `mapstructure:"type" yaml:"type"` // growth, income, runway, accumulation
	TargetValue float64 `mapstructure:"target_value" yaml:"target_value,omitempty"`
	Description string  `mapstructure:"description" yaml:"description,omitempty"`
}

// RiskLimits are the fund's guardrails.
type RiskLimits struct {
	MaxDrawdownPct     float64 `mapstructure:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MaxPositionPct     float64 `mapstructure:"max_position_pct" yaml:"max_position_pct"`
	DefaultStopLossPct float64 `mapstructure:"stop_loss_pct" yaml:"stop_loss_pct"`
}

// BrokerSelection chooses the broker adapter for a fund.
type BrokerSelection struct {
	Provider     string       `mapstructure:"provider" yaml:"provider"` // paper, alpaca, zerodha
	Mode         string       `mapstructure:"mode" yaml:"mode"`         // paper, live
	AssetClasses []AssetClass `mapstructure:"asset_classes" yaml:"asset_classes,omitempty"`
}

// IsLive reports whether the fund trades real money.
func (b BrokerSelection) IsLive() bool {
	return strings.EqualFold(b.Mode, "live")
}

// Schedule holds the trading days, regular sessions and special sessions.
type Schedule struct {
	TradingDays     []string                     `mapstructure:"trading_days" yaml:"trading_days"`
	Sessions        map[string]SessionDefinition `mapstructure:"sessions" yaml:"sessions"`
	SpecialSessions []SpecialSession             `mapstructure:"special_sessions" yaml:"special_sessions,omitempty"`
}

// SessionDefinition is a regular, time-of-day scheduled session.
type SessionDefinition struct {
	Time               string   `mapstructure:"time" yaml:"time"` // HH:MM
	Enabled            bool     `mapstructure:"enabled" yaml:"enabled"`
	Focus              string   `mapstructure:"focus" yaml:"focus"`
	MaxDurationMinutes int      `mapstructure:"max_duration_minutes" yaml:"max_duration_minutes,omitempty"`
	SubTasks           []string `mapstructure:"sub_tasks" yaml:"sub_tasks,omitempty"`
}

// SpecialSession is an event-triggered session.
type SpecialSession struct {
	Trigger            string `mapstructure:"trigger" yaml:"trigger"`
	Time               string `mapstructure:"time" yaml:"time"`
	Focus              string `mapstructure:"focus" yaml:"focus"`
	Enabled            bool   `mapstructure:"enabled" yaml:"enabled"`
	MaxDurationMinutes int    `mapstructure:"max_duration_minutes" yaml:"max_duration_minutes,omitempty"`

	// Rule is resolved from Trigger when the config is loaded.
	Rule trigger.Trigger `mapstructure:"-" yaml:"-"`
}

// Kind is the synthesized session kind for this special session.
func (s SpecialSession) Kind() string {
	return "special_" + Slugify(s.Trigger)
}

// ID returns the fund identifier.
func (f *Fund) ID() string {
	return f.Info.Name
}

// IsActive reports whether the fund may be dispatched.
func (f *Fund) IsActive() bool {
	return f.Info.Status == FundActive
}

// TradesOn reports whether the weekday is one of the fund's trading days.
func (f *Fund) TradesOn(day time.Weekday) bool {
	for _, d := range f.Schedule.TradingDays {
		if wd, ok := ParseWeekday(d); ok && wd == day {
			return true
		}
	}
	return false
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts short or long English weekday names, any case.
func ParseWeekday(s string) (time.Weekday, bool) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	return wd, ok
}

// Slugify lowercases s and collapses every run of non-alphanumerics to one underscore.
func Slugify(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	slug := b.String()
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "_")
	}
	return slug
}
