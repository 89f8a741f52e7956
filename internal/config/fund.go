package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "fundx/internal/errors"
	"fundx/internal/models"
	"fundx/internal/trigger"
)

var fundNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// LoadFund reads, validates and resolves <home>/funds/<id>/fund_config.yaml.
func LoadFund(home, fundID string) (*models.Fund, error) {
	path := FundConfigPath(home, fundID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewFundError(fundID, "load_config", apperrors.ErrFundNotFound)
		}
		return nil, apperrors.NewFundError(fundID, "load_config", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("fund.status", string(models.FundActive))
	v.SetDefault("capital.currency", "USD")
	v.SetDefault("broker.provider", "paper")
	v.SetDefault("broker.mode", "paper")
	v.SetDefault("schedule.trading_days", []string{"MON", "TUE", "WED", "THU", "FRI"})

	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.NewFundError(fundID, "load_config",
			apperrors.Wrap(apperrors.ErrConfigInvalid, err.Error()))
	}

	fund := &models.Fund{}
	if err := v.Unmarshal(fund); err != nil {
		return nil, apperrors.NewFundError(fundID, "load_config",
			apperrors.Wrap(apperrors.ErrConfigInvalid, err.Error()))
	}
	if fund.Info.Name == "" {
		fund.Info.Name = fundID
	}

	if err := ValidateFund(fund); err != nil {
		return nil, apperrors.NewFundError(fundID, "load_config", err)
	}
	ResolveTriggers(fund)

	return fund, nil
}

// ResolveTriggers parses every special-session trigger once.
func ResolveTriggers(fund *models.Fund) {
	for i := range fund.Schedule.SpecialSessions {
		ss := &fund.Schedule.SpecialSessions[i]
		ss.Rule = trigger.Parse(ss.Trigger)
	}
}

// UnrecognizedTriggers lists trigger texts that no rule understands.
func UnrecognizedTriggers(fund *models.Fund) []string {
	var out []string
	for _, ss := range fund.Schedule.SpecialSessions {
		if !trigger.Parse(ss.Trigger).Recognized() {
			out = append(out, ss.Trigger)
		}
	}
	return out
}

// ValidateFund checks a fund configuration.
func ValidateFund(f *models.Fund) error {
	if !fundNamePattern.MatchString(f.Info.Name) {
		return apperrors.NewValidationError("fund.name", f.Info.Name, "must be lowercase letters, digits, '-' or '_'")
	}
	if !f.Info.Status.Valid() {
		return apperrors.NewValidationError("fund.status", f.Info.Status, "must be active, paused or closed")
	}
	if f.Capital.Initial <= 0 {
		return apperrors.NewValidationError("capital.initial", f.Capital.Initial, "must be positive")
	}

	switch f.Broker.Provider {
	case "paper", "alpaca", "zerodha":
	default:
		return apperrors.NewValidationError("broker.provider", f.Broker.Provider, "must be paper, alpaca or zerodha")
	}
	switch f.Broker.Mode {
	case "paper", "live":
	default:
		return apperrors.NewValidationError("broker.mode", f.Broker.Mode, "must be paper or live")
	}
	for _, ac := range f.Broker.AssetClasses {
		switch ac {
		case models.AssetStocks, models.AssetCrypto, models.AssetOptions:
		default:
			return apperrors.NewValidationError("broker.asset_classes", ac, "unknown asset class")
		}
	}

	for _, d := range f.Schedule.TradingDays {
		if _, ok := models.ParseWeekday(d); !ok {
			return apperrors.NewValidationError("schedule.trading_days", d, "unknown weekday")
		}
	}

	for name, s := range f.Schedule.Sessions {
		field := fmt.Sprintf("schedule.sessions.%s", name)
		if _, err := ParseClock(s.Time); err != nil {
			return apperrors.NewValidationError(field+".time", s.Time, err.Error())
		}
		if s.MaxDurationMinutes < 0 {
			return apperrors.NewValidationError(field+".max_duration_minutes", s.MaxDurationMinutes, "must not be negative")
		}
		for _, kind := range s.SubTasks {
			if !models.SubTaskKind(kind).Valid() {
				return apperrors.NewValidationError(field+".sub_tasks", kind, "unknown sub-task kind")
			}
		}
	}

	seen := make(map[string]bool, len(f.Schedule.SpecialSessions))
	for i, ss := range f.Schedule.SpecialSessions {
		field := fmt.Sprintf("schedule.special_sessions[%d]", i)
		if ss.Trigger == "" {
			return apperrors.NewValidationError(field+".trigger", ss.Trigger, "must not be empty")
		}
		if _, err := ParseClock(ss.Time); err != nil {
			return apperrors.NewValidationError(field+".time", ss.Time, err.Error())
		}
		kind := ss.Kind()
		if seen[kind] {
			return apperrors.NewValidationError(field+".trigger", ss.Trigger, "duplicate special session kind "+kind)
		}
		if _, clash := f.Schedule.Sessions[kind]; clash {
			return apperrors.NewValidationError(field+".trigger", ss.Trigger, "kind collides with regular session "+kind)
		}
		seen[kind] = true
	}

	return nil
}

// MarshalFund renders a fund configuration as YAML.
func MarshalFund(f *models.Fund) ([]byte, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding fund config: %w", err)
	}
	return data, nil
}

// DefaultFund returns the configuration written by "fund init".
func DefaultFund(name, displayName string, capital float64) *models.Fund {
	if displayName == "" {
		displayName = name
	}
	f := &models.Fund{
		Info: models.FundInfo{
			Name:        name,
			DisplayName: displayName,
			Status:      models.FundActive,
		},
		Capital: models.Capital{Initial: capital, Currency: "USD"},
		Objective: models.Objective{
			Type:        "growth",
			TargetValue: capital * 2,
		},
		Risk: models.RiskLimits{
			MaxDrawdownPct:     15,
			MaxPositionPct:     25,
			DefaultStopLossPct: 8,
		},
		Schedule: models.Schedule{
			TradingDays: []string{"MON", "TUE", "WED", "THU", "FRI"},
			Sessions: map[string]models.SessionDefinition{
				"pre_market": {
					Time:               "09:00",
					Enabled:            true,
					Focus:              "Review overnight news, macro data and open positions. Plan the day.",
					MaxDurationMinutes: 15,
					SubTasks:           []string{"macro", "technical", "sentiment", "risk"},
				},
				"mid_session": {
					Time:               "13:00",
					Enabled:            true,
					Focus:              "Check intraday moves against the plan and adjust stops.",
					MaxDurationMinutes: 10,
				},
				"post_market": {
					Time:               "16:30",
					Enabled:            true,
					Focus:              "Review the day's trades, record lessons, update the journal.",
					MaxDurationMinutes: 15,
				},
			},
			SpecialSessions: []models.SpecialSession{
				{
					Trigger:            "Monthly options expiration (OpEx)",
					Time:               "09:00",
					Focus:              "Expect pinning and elevated volume around large open interest strikes.",
					Enabled:            true,
					MaxDurationMinutes: 10,
				},
				{
					Trigger:            "FOMC meeting",
					Time:               "14:30",
					Focus:              "Assess the rate decision and reposition for volatility.",
					Enabled:            true,
					MaxDurationMinutes: 10,
				},
			},
		},
		Broker: models.BrokerSelection{
			Provider:     "paper",
			Mode:         "paper",
			AssetClasses: []models.AssetClass{models.AssetStocks},
		},
	}
	ResolveTriggers(f)
	return f
}
