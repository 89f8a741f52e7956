// Package subtask fans an analysis session out into concurrent sub-tasks and
// merges their outputs into a single report.
package subtask

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	apperrors "fundx/internal/errors"
	"fundx/internal/executor"
	"fundx/internal/logging"
	"fundx/internal/models"
	"fundx/internal/state"
)

// DefaultMaxDuration bounds a sub-task that does not set its own limit.
const DefaultMaxDuration = 8 * time.Minute

// Task describes one sub-task to dispatch.
type Task struct {
	Kind        models.SubTaskKind
	Name        string
	Prompt      string
	MaxDuration time.Duration
}

// Report is the merged outcome of one orchestrated run.
type Report struct {
	Kind    string
	Path    string
	Text    string
	Results []models.SubTaskResult
	Signals []Signal
}

// Failed counts results that did not succeed.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status != models.StatusSuccess {
			n++
		}
	}
	return n
}

// Orchestrator runs sub-tasks through an executor.
type Orchestrator struct {
	exec   executor.Executor
	docs   *state.Store
	logger zerolog.Logger
	model  string

	// Now supplies the clock used for timestamps and the artifact date.
	Now func() time.Time
}

// New creates an orchestrator.
func New(exec executor.Executor, docs *state.Store, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		exec:   exec,
		docs:   docs,
		logger: logging.ForComponent(logger, "subtask"),
		Now:    time.Now,
	}
}

// WithModel sets the model passed to every invocation.
func (o *Orchestrator) WithModel(model string) *Orchestrator {
	o.model = model
	return o
}

// Run starts every task concurrently and waits for all of them to settle. A
// failing task never cancels its siblings. Results keep task-list order.
// The session's fund, run id, kind and model are taken from base.
func (o *Orchestrator) Run(ctx context.Context, base executor.Request, tasks []Task) (*Report, error) {
	fundID, kind := base.FundID, base.Kind
	if len(tasks) == 0 {
		return nil, apperrors.NewValidationError("sub_tasks", "", "no sub-tasks to run")
	}
	logger := logging.WithAction(logging.WithFund(o.logger, fundID), kind)
	started := o.Now()

	results := make([]models.SubTaskResult, len(tasks))
	var eg errgroup.Group
	for i, task := range tasks {
		i, task := i, task
		eg.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Str("task", task.Name).Interface("panic", r).Msg("Sub-task panicked")
					results[i] = models.SubTaskResult{
						Kind:      task.Kind,
						Name:      task.Name,
						StartedAt: started,
						EndedAt:   o.Now(),
						Status:    models.StatusError,
						Error:     fmt.Sprintf("panic: %v", r),
					}
				}
			}()
			results[i] = o.runOne(ctx, base, task)
			return nil
		})
	}
	_ = eg.Wait()

	text := Merge(kind, started, results)
	report := &Report{
		Kind:    kind,
		Text:    text,
		Results: results,
		Signals: ExtractSignals(results),
	}

	path := filepath.Join(o.docs.AnalysisDir(fundID), fmt.Sprintf("%s_%s.md", started.Format("2006-01-02"), kind))
	if err := state.WriteFileAtomic(path, []byte(text)); err != nil {
		return report, apperrors.NewFundError(fundID, kind, fmt.Errorf("write analysis: %w", err))
	}
	report.Path = path

	logger.Info().
		Int("tasks", len(tasks)).
		Int("failed", report.Failed()).
		Int("signals", len(report.Signals)).
		Dur("duration", o.Now().Sub(started)).
		Str("path", path).
		Msg("Sub-tasks merged")
	return report, nil
}

func (o *Orchestrator) runOne(ctx context.Context, base executor.Request, task Task) models.SubTaskResult {
	fundID := base.FundID
	timeout := task.MaxDuration
	if timeout <= 0 {
		timeout = DefaultMaxDuration
	}
	res := models.SubTaskResult{
		Kind:      task.Kind,
		Name:      task.Name,
		StartedAt: o.Now(),
	}

	out, err := o.exec.Run(ctx, executor.Request{
		FundID:  fundID,
		RunID:   base.RunID,
		Kind:    "subtask_" + task.Name,
		Focus:   task.Prompt,
		Prompt:  task.Prompt,
		Model:   o.modelFor(base),
		Timeout: timeout,
		WorkDir: o.docs.FundDir(fundID),
	})
	res.EndedAt = o.Now()

	switch {
	case err == nil:
		res.Status = models.StatusSuccess
		if out != nil {
			res.Output = out.Output
		}
	case apperrors.IsTimeout(err):
		res.Status = models.StatusTimeout
		res.Error = fmt.Sprintf("timed out after %s", timeout)
	default:
		res.Status = models.StatusError
		res.Error = err.Error()
	}

	if res.Status != models.StatusSuccess {
		logger := logging.WithFund(o.logger, fundID)
		logger.Warn().
			Str("subtask", task.Name).
			Str("status", string(res.Status)).
			Str("err", res.Error).
			Msg("Sub-task did not succeed")
	}
	return res
}

func (o *Orchestrator) modelFor(base executor.Request) string {
	if base.Model != "" {
		return base.Model
	}
	return o.model
}

// RunWithSynthesis runs the tasks, then feeds the merged report into one more
// invocation that produces the session's final analysis. base.Prompt is
// the session prompt the merged report is appended to.
func (o *Orchestrator) RunWithSynthesis(ctx context.Context, base executor.Request, tasks []Task) (*Report, *executor.Result, error) {
	report, err := o.Run(ctx, base, tasks)
	if err != nil {
		return report, nil, err
	}

	req := base
	req.Model = o.modelFor(base)
	req.WorkDir = o.docs.FundDir(base.FundID)
	req.Prompt = fmt.Sprintf(
		"%s\n\n"+
			"The analysis below was produced by parallel sub-tasks and saved to %s.\n"+
			"Weigh the signals, resolve conflicts, decide on any trades and record them.\n"+
			"Finish with a single line starting with SUMMARY:.\n\n%s",
		strings.TrimSpace(base.Prompt), report.Path, report.Text)

	result, err := o.exec.Run(ctx, req)
	if err != nil {
		return report, nil, err
	}
	return report, result, nil
}
