package subtask

import (
	"fmt"
	"strings"
	"time"

	"fundx/internal/models"
)

// signalTags are the line prefixes collected into the consolidated signal list.
var signalTags = []string{"SIGNAL", "BUY", "SELL", "HOLD", "RISK", "WATCH", "CATALYST"}

// Signal is one tagged line lifted from a sub-task's output.
type Signal struct {
	Source string
	Tag    string
	Value  string
}

// ExtractSignals collects `TAG: value` lines from successful outputs, in
// result order.
func ExtractSignals(results []models.SubTaskResult) []Signal {
	var signals []Signal
	for _, res := range results {
		if res.Status != models.StatusSuccess {
			continue
		}
		for _, line := range strings.Split(res.Output, "\n") {
			tag, value, ok := parseSignal(line)
			if !ok {
				continue
			}
			signals = append(signals, Signal{Source: res.Name, Tag: tag, Value: value})
		}
	}
	return signals
}

func parseSignal(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-*• ")
	line = strings.ReplaceAll(line, "**", "")
	head, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	head = strings.ToUpper(strings.TrimSpace(head))
	value = strings.TrimSpace(value)
	if value == "" {
		return "", "", false
	}
	for _, tag := range signalTags {
		if head == tag {
			return tag, value, true
		}
	}
	return "", "", false
}

// Merge renders results as one markdown report.
func Merge(kind string, at time.Time, results []models.SubTaskResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s analysis, %s\n\n", kind, at.Format("2006-01-02 15:04 MST"))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Sub-task | Status | Duration |\n")
	b.WriteString("|---|---|---|\n")
	for _, res := range results {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", res.Name, res.Status, res.Duration().Round(time.Second))
	}
	b.WriteString("\n")

	for _, res := range results {
		fmt.Fprintf(&b, "## %s (%s)\n\n", res.Name, res.Kind)
		if res.Status == models.StatusSuccess {
			out := strings.TrimSpace(res.Output)
			if out == "" {
				out = "_No output._"
			}
			b.WriteString(out)
		} else {
			fmt.Fprintf(&b, "**%s**: %s", strings.ToUpper(string(res.Status)), res.Error)
		}
		b.WriteString("\n\n")
	}

	b.WriteString("## Consolidated signals\n\n")
	signals := ExtractSignals(results)
	if len(signals) == 0 {
		b.WriteString("_None._\n")
	}
	for _, s := range signals {
		fmt.Fprintf(&b, "- **%s** [%s] %s\n", s.Tag, s.Source, s.Value)
	}
	return b.String()
}
