package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	apperrors "fundx/internal/errors"
)

// SubprocessExecutor runs a command line engine with the prompt on stdin.
type SubprocessExecutor struct {
	command string
	args    []string
}

// SubprocessConfig holds the command line to run.
type SubprocessConfig struct {
	Command string
	Args    []string
}

// NewSubprocessExecutor creates a subprocess executor.
func NewSubprocessExecutor(cfg SubprocessConfig) *SubprocessExecutor {
	return &SubprocessExecutor{command: cfg.Command, args: cfg.Args}
}

// Run starts the command in the fund directory and waits for it. The process
// is killed when the deadline expires.
func (s *SubprocessExecutor) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := withTimeout(ctx, req)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Dir = req.WorkDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Env = append(os.Environ(),
		"FUNDX_FUND="+req.FundID,
		"FUNDX_SESSION_KIND="+req.Kind,
		"FUNDX_RUN_ID="+req.RunID,
		"FUNDX_MODEL="+req.Model,
	)
	// Do not wait forever on pipes held open by grandchildren after a kill
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, apperrors.NewExecutionError(req.FundID, req.Kind,
			fmt.Errorf("%w after %s", apperrors.ErrTimeout, req.Timeout))
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return nil, apperrors.NewExecutionError(req.FundID, req.Kind, fmt.Errorf("%v: %s", err, msg))
	}

	out := stdout.String()
	return &Result{Summary: Summarize(out), Output: out}, nil
}
