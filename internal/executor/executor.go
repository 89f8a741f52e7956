// Package executor runs analysis sessions through an external reasoning engine.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"fundx/internal/config"
)

// Request describes one executor invocation.
type Request struct {
	FundID  string
	RunID   string
	Kind    string
	Focus   string
	Prompt  string
	Model   string
	Timeout time.Duration
	// WorkDir is the fund directory the engine may read and write.
	WorkDir string
}

// Result is what a successful invocation returns.
type Result struct {
	Summary string
	Output  string
}

// Executor runs a session. An expired deadline yields errors.ErrTimeout.
type Executor interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (*Result, error)

// Run calls f.
func (f ExecutorFunc) Run(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// withTimeout bounds ctx by req.Timeout when set.
func withTimeout(ctx context.Context, req Request) (context.Context, context.CancelFunc) {
	if req.Timeout > 0 {
		return context.WithTimeout(ctx, req.Timeout)
	}
	return context.WithCancel(ctx)
}

const maxSummaryLen = 400

// Summarize picks a short summary from engine output: the body of a
// "SUMMARY:" line when present, otherwise the first non-empty line.
func Summarize(output string) string {
	var first string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if upper := strings.ToUpper(line); strings.HasPrefix(upper, "SUMMARY:") {
			return truncate(strings.TrimSpace(line[len("SUMMARY:"):]))
		}
		if first == "" {
			first = strings.TrimLeft(line, "# ")
		}
	}
	return truncate(first)
}

// truncate cuts s to maxSummaryLen runes.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxSummaryLen {
		return s
	}
	return string([]rune(s)[:maxSummaryLen-3]) + "..."
}

// New builds the executor selected by the daemon configuration.
func New(cfg *config.Config, tools ToolRunner) (Executor, error) {
	switch cfg.Executor.Kind {
	case "subprocess":
		return NewSubprocessExecutor(SubprocessConfig{
			Command: cfg.Executor.Command,
			Args:    cfg.Executor.Args,
		}), nil
	case "openai":
		if cfg.Credentials.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai executor needs OPENAI_API_KEY")
		}
		return NewOpenAIExecutor(OpenAIConfig{
			APIKey:       cfg.Credentials.OpenAI.APIKey,
			BaseURL:      cfg.Credentials.OpenAI.BaseURL,
			DefaultModel: cfg.Executor.DefaultModel,
			Tools:        tools,
		}), nil
	}
	return nil, fmt.Errorf("unknown executor kind %q", cfg.Executor.Kind)
}
