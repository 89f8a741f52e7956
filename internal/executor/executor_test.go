package executor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	apperrors "fundx/internal/errors"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"\n\n# Market review\nbody", "Market review"},
		{"intro\nsummary: Trimmed NVDA, holding cash\nBUY: none", "Trimmed NVDA, holding cash"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Summarize(tt.in); got != tt.want {
			t.Errorf("Summarize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := Summarize(strings.Repeat("x", 1000)); len(got) != maxSummaryLen {
		t.Errorf("summary not truncated: %d", len(got))
	}

	// Multibyte text straddling the cut must stay valid UTF-8
	long := strings.Repeat("a", maxSummaryLen-4) + strings.Repeat("€", 10)
	got := Summarize(long)
	if !utf8.ValidString(got) {
		t.Errorf("summary is not valid UTF-8: %q", got[len(got)-8:])
	}
	if n := utf8.RuneCountInString(got); n != maxSummaryLen {
		t.Errorf("summary has %d runes, want %d", n, maxSummaryLen)
	}
	if !strings.HasSuffix(got, "€...") {
		t.Errorf("summary tail = %q", got[len(got)-8:])
	}
}

func TestSubprocessEchoesPrompt(t *testing.T) {
	e := NewSubprocessExecutor(SubprocessConfig{Command: "sh", Args: []string{"-c", "echo \"SUMMARY: $FUNDX_FUND\"; cat"}})

	res, err := e.Run(context.Background(), Request{
		FundID: "growth", Kind: "pre_market", Prompt: "hello engine", WorkDir: t.TempDir(), Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary != "growth" {
		t.Errorf("summary = %q", res.Summary)
	}
	if !strings.Contains(res.Output, "hello engine") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestSubprocessTimeout(t *testing.T) {
	e := NewSubprocessExecutor(SubprocessConfig{Command: "sleep", Args: []string{"5"}})

	start := time.Now()
	_, err := e.Run(context.Background(), Request{FundID: "f", Kind: "k", WorkDir: t.TempDir(), Timeout: 100 * time.Millisecond})
	if !apperrors.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
	var ee *apperrors.ExecutionError
	if !apperrors.As(err, &ee) || ee.FundID != "f" {
		t.Errorf("expected ExecutionError, got %v", err)
	}
}

func TestSubprocessFailure(t *testing.T) {
	e := NewSubprocessExecutor(SubprocessConfig{Command: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}})

	_, err := e.Run(context.Background(), Request{FundID: "f", Kind: "k", WorkDir: t.TempDir()})
	if err == nil || apperrors.IsTimeout(err) {
		t.Fatalf("expected plain execution error, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("stderr missing from error: %v", err)
	}
}

type stubTools struct{ calls atomic.Int32 }

func (s *stubTools) Definitions() []openai.Tool {
	return []openai.Tool{{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{Name: "get_portfolio"}}}
}

func (s *stubTools) ExecuteTool(ctx context.Context, fundID, name string, args json.RawMessage) (string, error) {
	s.calls.Add(1)
	return `{"cash": 1000}`, nil
}

func TestOpenAIExecutorResolvesToolCalls(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"get_portfolio","arguments":"{}"}}]}}]}`)
			return
		}
		if !strings.Contains(string(body), "call_1") {
			t.Errorf("second request missing tool result: %s", body)
		}
		io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"SUMMARY: all cash\nHOLD: wait"}}]}`)
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test")
	cfg.BaseURL = srv.URL + "/v1"
	tools := &stubTools{}
	e := newOpenAIExecutor(openai.NewClientWithConfig(cfg), OpenAIConfig{Tools: tools})

	res, err := e.Run(context.Background(), Request{FundID: "f", Kind: "k", Prompt: "go"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary != "all cash" || tools.calls.Load() != 1 || requests.Load() != 2 {
		t.Errorf("summary=%q toolCalls=%d requests=%d", res.Summary, tools.calls.Load(), requests.Load())
	}
}
