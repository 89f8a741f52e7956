// Package state manages the per-fund JSON documents and directory layout
// under <home>/funds/<id>.
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"fundx/internal/config"
	apperrors "fundx/internal/errors"
	"fundx/internal/models"
)

const (
	portfolioFile = "portfolio.json"
	objectiveFile = "objective_tracker.json"
	sessionFile   = "session_log.json"
)

// Report periods, also used as directory names under reports/.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// Store reads and writes fund documents. Every read goes to disk.
type Store struct {
	home string
}

// New creates a Store rooted at the daemon home.
func New(home string) *Store {
	return &Store{home: home}
}

// Home returns the daemon home directory.
func (s *Store) Home() string {
	return s.home
}

// FundDir returns the fund's root directory.
func (s *Store) FundDir(fundID string) string {
	return config.FundDir(s.home, fundID)
}

// StateDir returns the directory holding the fund's JSON documents.
func (s *Store) StateDir(fundID string) string {
	return filepath.Join(s.FundDir(fundID), "state")
}

// AnalysisDir returns the directory for merged analysis artifacts.
func (s *Store) AnalysisDir(fundID string) string {
	return filepath.Join(s.FundDir(fundID), "analysis")
}

// ReportsDir returns the directory for reports of a period.
func (s *Store) ReportsDir(fundID, period string) string {
	return filepath.Join(s.FundDir(fundID), "reports", period)
}

// LoadPortfolio reads the fund's portfolio.
func (s *Store) LoadPortfolio(ctx context.Context, fundID string) (*models.Portfolio, error) {
	var p models.Portfolio
	if err := s.load(ctx, fundID, portfolioFile, &p); err != nil {
		return nil, err
	}
	if p.Positions == nil {
		p.Positions = []models.Position{}
	}
	return &p, nil
}

// SavePortfolio writes the portfolio atomically. It refuses a portfolio
// whose total does not equal cash plus market value.
func (s *Store) SavePortfolio(ctx context.Context, fundID string, p *models.Portfolio) error {
	if err := p.Validate(); err != nil {
		return apperrors.NewFundError(fundID, "save_portfolio", err)
	}
	return s.save(ctx, fundID, portfolioFile, p)
}

// LoadObjective reads the fund's objective tracker.
func (s *Store) LoadObjective(ctx context.Context, fundID string) (*models.ObjectiveTracker, error) {
	var o models.ObjectiveTracker
	if err := s.load(ctx, fundID, objectiveFile, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// SaveObjective writes the objective tracker atomically.
func (s *Store) SaveObjective(ctx context.Context, fundID string, o *models.ObjectiveTracker) error {
	return s.save(ctx, fundID, objectiveFile, o)
}

// LoadSessionLog reads the fund's most recent session record.
func (s *Store) LoadSessionLog(ctx context.Context, fundID string) (*models.SessionLog, error) {
	var l models.SessionLog
	if err := s.load(ctx, fundID, sessionFile, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// SaveSessionLog overwrites the fund's session record.
func (s *Store) SaveSessionLog(ctx context.Context, fundID string, l *models.SessionLog) error {
	return s.save(ctx, fundID, sessionFile, l)
}

func (s *Store) load(ctx context.Context, fundID, name string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return apperrors.FromContext(ctx, err)
	}
	err := readJSON(filepath.Join(s.StateDir(fundID), name), v)
	if os.IsNotExist(err) {
		return apperrors.NewFundError(fundID, "load_"+name, apperrors.ErrFundNotFound)
	}
	if err != nil {
		return apperrors.NewFundError(fundID, "load_"+name, err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, fundID, name string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return apperrors.FromContext(ctx, err)
	}
	if err := WriteJSONAtomic(filepath.Join(s.StateDir(fundID), name), v); err != nil {
		return apperrors.NewFundError(fundID, "save_"+name, err)
	}
	return nil
}

// InitFund creates the fund directory layout, writes its configuration and
// seeds the portfolio with the initial capital as cash.
func (s *Store) InitFund(ctx context.Context, fund *models.Fund, now time.Time) error {
	if err := config.ValidateFund(fund); err != nil {
		return err
	}
	id := fund.ID()

	if _, err := os.Stat(config.FundConfigPath(s.home, id)); err == nil {
		return apperrors.NewFundError(id, "init", fmt.Errorf("fund already exists"))
	}

	for _, dir := range []string{
		s.StateDir(id),
		s.AnalysisDir(id),
		s.ReportsDir(id, PeriodDaily),
		s.ReportsDir(id, PeriodWeekly),
		s.ReportsDir(id, PeriodMonthly),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return apperrors.NewFundError(id, "init", err)
		}
	}

	data, err := config.MarshalFund(fund)
	if err != nil {
		return apperrors.NewFundError(id, "init", err)
	}
	if err := WriteFileAtomic(config.FundConfigPath(s.home, id), data); err != nil {
		return apperrors.NewFundError(id, "init", err)
	}

	if err := s.SavePortfolio(ctx, id, models.NewPortfolio(fund.Capital.Initial, now)); err != nil {
		return err
	}

	tracker := &models.ObjectiveTracker{
		FundID:         id,
		ObjectiveType:  fund.Objective.Type,
		InitialCapital: fund.Capital.Initial,
		TargetValue:    fund.Objective.TargetValue,
	}
	tracker.Update(fund.Capital.Initial, now)
	return s.SaveObjective(ctx, id, tracker)
}

// ListFunds returns the ids of every directory under funds/ that holds a
// fund_config.yaml, sorted.
func (s *Store) ListFunds() ([]string, error) {
	entries, err := os.ReadDir(config.FundsDir(s.home))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing funds: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(config.FundConfigPath(s.home, e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadFund reads and validates the fund's configuration.
func (s *Store) LoadFund(fundID string) (*models.Fund, error) {
	return config.LoadFund(s.home, fundID)
}
