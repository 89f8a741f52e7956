package config

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "fundx/internal/errors"
	"fundx/internal/models"
	"fundx/internal/trigger"
)

func TestLoadCreatesTemplateAndUsesDefaults(t *testing.T) {
	home := t.TempDir()

	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, "config.toml")); err != nil {
		t.Errorf("expected template config.toml: %v", err)
	}
	if cfg.Daemon.StopLossIntervalMinutes != 5 {
		t.Errorf("stop loss interval = %d, want 5", cfg.Daemon.StopLossIntervalMinutes)
	}
	if cfg.Market.Open != "09:30" || cfg.Market.Close != "16:00" {
		t.Errorf("market hours = %s-%s", cfg.Market.Open, cfg.Market.Close)
	}
	if cfg.Home != home {
		t.Errorf("home = %s, want %s", cfg.Home, home)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, ".env"), []byte("KITE_API_KEY=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APCA_API_KEY_ID", "key-from-env")
	t.Setenv("KITE_API_KEY", "")
	os.Unsetenv("KITE_API_KEY")

	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.Alpaca.APIKeyID != "key-from-env" {
		t.Errorf("alpaca key = %q", cfg.Credentials.Alpaca.APIKeyID)
	}
	if cfg.Credentials.Zerodha.APIKey != "from-dotenv" {
		t.Errorf("kite key = %q", cfg.Credentials.Zerodha.APIKey)
	}
}

func TestLoadRejectsBadMarketHours(t *testing.T) {
	home := t.TempDir()
	toml := "[market]\nopen = \"16:00\"\nclose = \"09:30\"\n"
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(home)
	if !apperrors.Is(err, apperrors.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestParseClock(t *testing.T) {
	got, err := ParseClock("09:05")
	if err != nil || got != 9*60+5 {
		t.Fatalf("ParseClock(09:05) = %d, %v", got, err)
	}
	for _, bad := range []string{"9am", "25:00", "", "09:60"} {
		if _, err := ParseClock(bad); err == nil {
			t.Errorf("ParseClock(%q) should fail", bad)
		}
	}
}

func writeFund(t *testing.T, home, id, body string) {
	t.Helper()
	path := FundConfigPath(home, id)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFundResolvesTriggers(t *testing.T) {
	home := t.TempDir()
	writeFund(t, home, "growth", `
fund:
  name: growth
  display_name: Growth Fund
  status: active
capital:
  initial: 10000
schedule:
  trading_days: [MON, TUE, WED, THU, FRI]
  sessions:
    pre_market:
      time: "09:00"
      enabled: true
      focus: plan the day
      sub_tasks: [macro, risk]
  special_sessions:
    - trigger: Monthly options expiration (OpEx)
      time: "09:00"
      focus: pinning
      enabled: true
    - trigger: full moon
      time: "10:00"
      focus: vibes
      enabled: true
`)

	fund, err := LoadFund(home, "growth")
	if err != nil {
		t.Fatalf("LoadFund: %v", err)
	}
	if fund.Broker.Provider != "paper" {
		t.Errorf("default provider = %q", fund.Broker.Provider)
	}
	if got := fund.Schedule.Sessions["pre_market"].SubTasks; len(got) != 2 {
		t.Errorf("sub tasks = %v", got)
	}
	if fund.Schedule.SpecialSessions[0].Rule.Kind != trigger.KindOptionsExpiration {
		t.Errorf("opex kind = %v", fund.Schedule.SpecialSessions[0].Rule.Kind)
	}
	if fund.Schedule.SpecialSessions[1].Rule.Kind != trigger.KindNone {
		t.Errorf("unknown trigger kind = %v", fund.Schedule.SpecialSessions[1].Rule.Kind)
	}
	if got := UnrecognizedTriggers(fund); len(got) != 1 || got[0] != "full moon" {
		t.Errorf("unrecognized = %v", got)
	}
}

func TestLoadFundMissing(t *testing.T) {
	_, err := LoadFund(t.TempDir(), "nope")
	if !apperrors.Is(err, apperrors.ErrFundNotFound) {
		t.Fatalf("expected ErrFundNotFound, got %v", err)
	}
}

func TestValidateFund(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *models.Fund)
		field  string
	}{
		{"bad status", func(f *models.Fund) { f.Info.Status = "sleeping" }, "fund.status"},
		{"bad weekday", func(f *models.Fund) { f.Schedule.TradingDays = []string{"FUNDAY"} }, "schedule.trading_days"},
		{"bad session time", func(f *models.Fund) {
			s := f.Schedule.Sessions["pre_market"]
			s.Time = "9am"
			f.Schedule.Sessions["pre_market"] = s
		}, "schedule.sessions.pre_market.time"},
		{"duplicate special kind", func(f *models.Fund) {
			ss := f.Schedule.SpecialSessions[0]
			ss.Trigger = "MONTHLY options expiration (opex)!"
			f.Schedule.SpecialSessions = append(f.Schedule.SpecialSessions, ss)
		}, "schedule.special_sessions[2].trigger"},
		{"unknown sub task", func(f *models.Fund) {
			s := f.Schedule.Sessions["pre_market"]
			s.SubTasks = []string{"astrology"}
			f.Schedule.Sessions["pre_market"] = s
		}, "schedule.sessions.pre_market.sub_tasks"},
		{"bad provider", func(f *models.Fund) { f.Broker.Provider = "robinhood" }, "broker.provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := DefaultFund("growth", "Growth", 10000)
			tt.mutate(f)
			err := ValidateFund(f)
			var ve *apperrors.ValidationError
			if !apperrors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}

	if err := ValidateFund(DefaultFund("growth", "Growth", 10000)); err != nil {
		t.Errorf("default fund should validate: %v", err)
	}
}

func TestMarshalFundLoadsBack(t *testing.T) {
	home := t.TempDir()
	data, err := MarshalFund(DefaultFund("income", "Income", 5000))
	if err != nil {
		t.Fatal(err)
	}
	writeFund(t, home, "income", string(data))

	fund, err := LoadFund(home, "income")
	if err != nil {
		t.Fatalf("LoadFund: %v", err)
	}
	if fund.Capital.Initial != 5000 || len(fund.Schedule.Sessions) != 3 {
		t.Errorf("unexpected fund after reload: %+v", fund)
	}
}
