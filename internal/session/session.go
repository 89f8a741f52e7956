// Package session runs one analysis session for a fund and records the
// outcome in the fund's session log.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "fundx/internal/errors"
	"fundx/internal/executor"
	"fundx/internal/logging"
	"fundx/internal/models"
	"fundx/internal/state"
	"fundx/internal/store"
	"fundx/internal/subtask"
)

// Spec is what to run: a regular or special session of a fund.
type Spec struct {
	Kind               string
	Focus              string
	MaxDurationMinutes int
	SubTasks           []string
}

// ForSession builds the spec of a named regular session.
func ForSession(name string, def models.SessionDefinition) Spec {
	return Spec{
		Kind:               name,
		Focus:              def.Focus,
		MaxDurationMinutes: def.MaxDurationMinutes,
		SubTasks:           def.SubTasks,
	}
}

// ForSpecial builds the spec of a special session.
func ForSpecial(s models.SpecialSession) Spec {
	return Spec{
		Kind:               s.Kind(),
		Focus:              s.Focus,
		MaxDurationMinutes: s.MaxDurationMinutes,
	}
}

// Options tune the runner.
type Options struct {
	DefaultTimeout time.Duration
	SubTaskTimeout time.Duration
	DefaultModel   string
}

// Runner executes sessions.
type Runner struct {
	exec   executor.Executor
	orch   *subtask.Orchestrator
	docs   *state.Store
	ledger store.Ledger
	opts   Options
	logger zerolog.Logger

	// Now supplies the clock for session timestamps.
	Now func() time.Time
}

// NewRunner creates a runner. The orchestrator shares exec.
func NewRunner(exec executor.Executor, docs *state.Store, ledger store.Ledger, opts Options, logger zerolog.Logger) *Runner {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 15 * time.Minute
	}
	if opts.SubTaskTimeout <= 0 {
		opts.SubTaskTimeout = subtask.DefaultMaxDuration
	}
	r := &Runner{
		exec:   exec,
		docs:   docs,
		ledger: ledger,
		opts:   opts,
		logger: logging.ForComponent(logger, "session"),
		Now:    time.Now,
	}
	r.orch = subtask.New(exec, docs, logger).WithModel(opts.DefaultModel)
	r.orch.Now = func() time.Time { return r.Now() }
	return r
}

// Run executes the session and overwrites the fund's session log. The
// returned log is populated even when err is non-nil.
func (r *Runner) Run(ctx context.Context, fund *models.Fund, spec Spec) (*models.SessionLog, error) {
	fundID := fund.ID()
	runID := uuid.NewString()
	logger := logging.WithAction(logging.WithFund(r.logger, fundID), spec.Kind).
		With().Str("run_id", runID).Logger()

	timeout := r.opts.DefaultTimeout
	if spec.MaxDurationMinutes > 0 {
		timeout = time.Duration(spec.MaxDurationMinutes) * time.Minute
	}
	model := fund.Model
	if model == "" {
		model = r.opts.DefaultModel
	}

	entry := &models.SessionLog{
		RunID:       runID,
		FundID:      fundID,
		SessionKind: spec.Kind,
		StartedAt:   r.Now(),
	}
	logger.Info().Dur("timeout", timeout).Int("sub_tasks", len(spec.SubTasks)).Msg("Session started")

	req := executor.Request{
		FundID:  fundID,
		RunID:   runID,
		Kind:    spec.Kind,
		Focus:   spec.Focus,
		Prompt:  BuildPrompt(fund, spec, runID),
		Model:   model,
		Timeout: timeout,
		WorkDir: r.docs.FundDir(fundID),
	}

	var (
		result *executor.Result
		err    error
	)
	if len(spec.SubTasks) > 0 {
		tasks := subtask.TasksFor(fund, spec.SubTasks, spec.Focus, r.opts.SubTaskTimeout)
		var report *subtask.Report
		report, result, err = r.orch.RunWithSynthesis(ctx, req, tasks)
		if report != nil {
			entry.AnalysisFile = report.Path
		}
	} else {
		result, err = r.exec.Run(ctx, req)
	}
	entry.EndedAt = r.Now()

	switch {
	case err == nil:
		entry.Status = models.StatusSuccess
		if result != nil {
			entry.Summary = result.Summary
		}
	case apperrors.IsTimeout(err):
		entry.Status = models.StatusTimeout
		entry.Summary = fmt.Sprintf("Session timed out after %s", timeout)
		entry.Error = err.Error()
	default:
		entry.Status = models.StatusError
		entry.Summary = "Session failed"
		entry.Error = err.Error()
	}

	// Record the outcome even when the caller's context is already done
	saveCtx := context.WithoutCancel(ctx)

	if r.ledger != nil {
		n, cerr := r.ledger.Count(saveCtx, store.TradeFilter{FundID: fundID, SessionID: runID})
		if cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to count session trades")
		}
		entry.TradesExecuted = n
	}

	if serr := r.docs.SaveSessionLog(saveCtx, fundID, entry); serr != nil {
		logger.Error().Err(serr).Msg("Failed to write session log")
		err = apperrors.Join(err, serr)
	}

	event := logger.Info()
	if entry.Status != models.StatusSuccess {
		event = logger.Warn().Str("err", entry.Error)
	}
	event.
		Str("status", string(entry.Status)).
		Int("trades", entry.TradesExecuted).
		Dur("duration", entry.EndedAt.Sub(entry.StartedAt)).
		Msg("Session finished")

	return entry, err
}

// BuildPrompt renders the instructions handed to the executor.
func BuildPrompt(fund *models.Fund, spec Spec, runID string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the portfolio manager of fund %s (%s).\n", fund.ID(), fund.Info.DisplayName)
	if fund.Info.Description != "" {
		fmt.Fprintf(&b, "%s\n", fund.Info.Description)
	}
	fmt.Fprintf(&b, "\nSession: %s (run %s)\n", spec.Kind, runID)
	if spec.Focus != "" {
		fmt.Fprintf(&b, "Focus: %s\n", spec.Focus)
	}

	fmt.Fprintf(&b, "\nObjective: %s", fund.Objective.Type)
	if fund.Objective.TargetValue > 0 {
		fmt.Fprintf(&b, ", target %.2f %s", fund.Objective.TargetValue, fund.Capital.Currency)
	}
	if fund.Objective.Description != "" {
		fmt.Fprintf(&b, " (%s)", fund.Objective.Description)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Initial capital: %.2f %s\n", fund.Capital.Initial, fund.Capital.Currency)
	fmt.Fprintf(&b, "Broker: %s, mode %s\n", fund.Broker.Provider, fund.Broker.Mode)

	risk := fund.Risk
	fmt.Fprintf(&b, "Risk limits: max drawdown %.1f%%, max position %.1f%%, default stop-loss %.1f%%\n",
		risk.MaxDrawdownPct, risk.MaxPositionPct, risk.DefaultStopLossPct)

	b.WriteString("\nState files live under state/ in the working directory: portfolio.json, " +
		"objective_tracker.json and session_log.json. Write analysis to analysis/.\n")
	fmt.Fprintf(&b, "Record every trade in the ledger tagged with session id %s, "+
		"and set a stop-loss on every new position.\n", runID)
	b.WriteString("End with a single line starting with SUMMARY: describing what you did.\n")
	return b.String()
}
