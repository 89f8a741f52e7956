// Package daemon runs the per-minute scheduler that dispatches sessions,
// reports, broker sync and the stop-loss guard for every fund.
package daemon

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fundx/internal/config"
	"fundx/internal/logging"
	"fundx/internal/models"
	"fundx/internal/session"
	"fundx/internal/state"
	"fundx/internal/taskpool"
)

// Bounds for dispatched work that has no timeout of its own.
const (
	stopLossTimeout = 2 * time.Minute
	syncTimeout     = 5 * time.Minute
	reportTimeout   = 2 * time.Minute
)

// SessionRunner runs one session of a fund.
type SessionRunner interface {
	Run(ctx context.Context, fund *models.Fund, spec session.Spec) (*models.SessionLog, error)
}

// StopLossRunner checks a fund's stops and sells breached positions.
type StopLossRunner interface {
	Run(ctx context.Context, fund *models.Fund) error
}

// PortfolioSyncer reconciles a fund with its broker.
type PortfolioSyncer interface {
	Sync(ctx context.Context, fund *models.Fund) (*models.Portfolio, error)
}

// ReportGenerator writes a periodic report.
type ReportGenerator interface {
	Generate(ctx context.Context, fund *models.Fund, period string, now time.Time) (string, error)
}

// Submitter accepts fire-and-forget tasks.
type Submitter interface {
	Submit(task taskpool.Task) error
}

// FundSource lists and loads funds.
type FundSource interface {
	ListFunds() ([]string, error)
	LoadFund(fundID string) (*models.Fund, error)
}

var _ FundSource = (*state.Store)(nil)

// Scheduler decides, once per minute, what each fund should run.
type Scheduler struct {
	cfg      *config.Config
	loc      *time.Location
	funds    FundSource
	sessions SessionRunner
	guard    StopLossRunner
	syncer   PortfolioSyncer
	reports  ReportGenerator
	pool     Submitter
	risk     Submitter
	logger   zerolog.Logger

	marketOpen    int
	marketClose   int
	reportMinute  int
	syncMinute    int
	stopLossEvery int

	mu         sync.Mutex
	dispatched map[dispatchKey]struct{}
}

// dispatchKey identifies one dispatch; each key fires at most once.
type dispatchKey struct {
	fund   string
	action string
	date   string
	minute int
}

// SchedulerDeps are the collaborators a Scheduler dispatches to.
type SchedulerDeps struct {
	Funds    FundSource
	Sessions SessionRunner
	Guard    StopLossRunner
	Syncer   PortfolioSyncer
	Reports  ReportGenerator
	Pool     Submitter
	// Risk receives stop-loss and sync work so long sessions cannot
	// starve it. Nil means Pool.
	Risk Submitter
}

// NewScheduler validates the clock settings in cfg and builds a scheduler.
func NewScheduler(cfg *config.Config, deps SchedulerDeps, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cfg:        cfg,
		loc:        cfg.Location(),
		funds:      deps.Funds,
		sessions:   deps.Sessions,
		guard:      deps.Guard,
		syncer:     deps.Syncer,
		reports:    deps.Reports,
		pool:       deps.Pool,
		risk:       deps.Risk,
		logger:     logging.ForComponent(logger, "scheduler"),
		dispatched: make(map[dispatchKey]struct{}),
	}

	if s.risk == nil {
		s.risk = s.pool
	}

	s.stopLossEvery = cfg.Daemon.StopLossIntervalMinutes
	if s.stopLossEvery <= 0 {
		s.stopLossEvery = 5
	}

	var err error
	if s.marketOpen, err = config.ParseClock(cfg.Market.Open); err != nil {
		return nil, fmt.Errorf("market.open: %w", err)
	}
	if s.marketClose, err = config.ParseClock(cfg.Market.Close); err != nil {
		return nil, fmt.Errorf("market.close: %w", err)
	}
	if s.reportMinute, err = config.ParseClock(cfg.Reports.Time); err != nil {
		return nil, fmt.Errorf("reports.time: %w", err)
	}
	if s.syncMinute, err = config.ParseClock(cfg.Sync.Time); err != nil {
		return nil, fmt.Errorf("sync.time: %w", err)
	}
	return s, nil
}

// Tick evaluates every fund for the minute containing now. It never panics
// and never fails; problems are logged per fund and action.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	local := now.In(s.loc)
	date := local.Format("2006-01-02")
	minute := local.Hour()*60 + local.Minute()

	s.prune(date)

	ids, err := s.funds.ListFunds()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list funds")
		return
	}

	for _, id := range ids {
		s.tickFund(ctx, id, local, date, minute)
	}
}

func (s *Scheduler) tickFund(ctx context.Context, fundID string, local time.Time, date string, minute int) {
	logger := logging.WithFund(s.logger, fundID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("Fund evaluation panicked")
		}
	}()

	fund, err := s.funds.LoadFund(fundID)
	if err != nil {
		logger.Error().Err(err).Str("action", "load_config").Msg("Skipping fund")
		return
	}
	if !fund.IsActive() || !isTradingDay(fund, local.Weekday()) {
		return
	}

	// Regular sessions, in name order so logs are stable
	names := make([]string, 0, len(fund.Schedule.Sessions))
	for name := range fund.Schedule.Sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := fund.Schedule.Sessions[name]
		if !def.Enabled || !s.at(def.Time, minute) {
			continue
		}
		spec := session.ForSession(name, def)
		s.dispatch(fund.ID(), name, date, minute, s.sessionTask(fund, spec))
	}

	for _, special := range fund.Schedule.SpecialSessions {
		if !special.Enabled || !s.at(special.Time, minute) || !special.Rule.Matches(local) {
			continue
		}
		spec := session.ForSpecial(special)
		s.dispatch(fund.ID(), spec.Kind, date, minute, s.sessionTask(fund, spec))
	}

	if minute == s.reportMinute {
		s.dispatch(fund.ID(), "report_"+state.PeriodDaily, date, minute, s.reportTask(fund, state.PeriodDaily, local))
		if local.Weekday() == s.cfg.WeeklyReportDay() {
			s.dispatch(fund.ID(), "report_"+state.PeriodWeekly, date, minute, s.reportTask(fund, state.PeriodWeekly, local))
		}
		if local.Day() == s.cfg.Reports.MonthlyDay {
			s.dispatch(fund.ID(), "report_"+state.PeriodMonthly, date, minute, s.reportTask(fund, state.PeriodMonthly, local))
		}
	}

	if s.cfg.Sync.Enabled && minute == s.syncMinute {
		s.dispatchTo(s.risk, fund.ID(), "sync", date, minute, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, syncTimeout)
			defer cancel()
			_, err := s.syncer.Sync(ctx, fund)
			return err
		})
	}

	if s.inMarketHours(minute) && minute%s.stopLossEvery == 0 {
		s.dispatchTo(s.risk, fund.ID(), "stop_loss", date, minute, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, stopLossTimeout)
			defer cancel()
			return s.guard.Run(ctx, fund)
		})
	}
}

func (s *Scheduler) sessionTask(fund *models.Fund, spec session.Spec) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.sessions.Run(ctx, fund, spec)
		return err
	}
}

func (s *Scheduler) reportTask(fund *models.Fund, period string, now time.Time) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, reportTimeout)
		defer cancel()
		_, err := s.reports.Generate(ctx, fund, period, now)
		return err
	}
}

// dispatch submits run to the session pool unless the same key already fired.
func (s *Scheduler) dispatch(fundID, action, date string, minute int, run func(context.Context) error) {
	s.dispatchTo(s.pool, fundID, action, date, minute, run)
}

func (s *Scheduler) dispatchTo(pool Submitter, fundID, action, date string, minute int, run func(context.Context) error) {
	key := dispatchKey{fund: fundID, action: action, date: date, minute: minute}

	s.mu.Lock()
	if _, done := s.dispatched[key]; done {
		s.mu.Unlock()
		return
	}
	s.dispatched[key] = struct{}{}
	s.mu.Unlock()

	logger := logging.WithAction(logging.WithFund(s.logger, fundID), action)
	if err := pool.Submit(taskpool.Task{FundID: fundID, Action: action, Run: run}); err != nil {
		// The pool logs rejections; allow a retry within the same minute
		s.mu.Lock()
		delete(s.dispatched, key)
		s.mu.Unlock()
		return
	}
	logger.Info().Msg("Dispatched")
}

// prune forgets dispatches from earlier dates.
func (s *Scheduler) prune(today string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.dispatched {
		if key.date != today {
			delete(s.dispatched, key)
		}
	}
}

func (s *Scheduler) at(clock string, minute int) bool {
	m, err := config.ParseClock(clock)
	return err == nil && m == minute
}

func (s *Scheduler) inMarketHours(minute int) bool {
	return minute >= s.marketOpen && minute < s.marketClose
}

func isTradingDay(fund *models.Fund, wd time.Weekday) bool {
	for _, day := range fund.Schedule.TradingDays {
		if d, ok := models.ParseWeekday(day); ok && d == wd {
			return true
		}
	}
	return false
}
