package subtask

import (
	"fmt"
	"time"

	"fundx/internal/models"
)

var kindBriefs = map[models.SubTaskKind]string{
	models.SubTaskMacro: "Assess the macro backdrop: rates, central bank stance, economic releases " +
		"and cross-asset moves that matter for this fund's holdings and watchlist.",
	models.SubTaskTechnical: "Run a technical review of current holdings and candidates: trend, " +
		"momentum, support and resistance, volume. Flag positions near their stop.",
	models.SubTaskSentiment: "Gauge news flow and market sentiment for holdings and candidates. " +
		"Note upcoming catalysts such as earnings or guidance.",
	models.SubTaskRisk: "Review portfolio risk: concentration, drawdown against the fund's limits, " +
		"stop-loss coverage and correlation between positions.",
}

// DefaultKinds is the task set used when a session asks for sub-tasks
// without naming any.
var DefaultKinds = []models.SubTaskKind{
	models.SubTaskMacro,
	models.SubTaskTechnical,
	models.SubTaskSentiment,
	models.SubTaskRisk,
}

// DefaultTasks returns the macro, technical, sentiment and risk tasks.
func DefaultTasks(fund *models.Fund, focus string, maxDuration time.Duration) []Task {
	names := make([]string, len(DefaultKinds))
	for i, k := range DefaultKinds {
		names[i] = string(k)
	}
	return TasksFor(fund, names, focus, maxDuration)
}

// TasksFor builds one task per named kind. Names outside the known kinds are
// run as custom tasks under their own name.
func TasksFor(fund *models.Fund, names []string, focus string, maxDuration time.Duration) []Task {
	tasks := make([]Task, 0, len(names))
	for _, name := range names {
		kind := models.SubTaskKind(name)
		brief, ok := kindBriefs[kind]
		if !ok {
			kind = models.SubTaskCustom
			brief = "Carry out the session focus below and report what you find."
		}
		tasks = append(tasks, Task{
			Kind:        kind,
			Name:        name,
			Prompt:      taskPrompt(fund, name, brief, focus),
			MaxDuration: maxDuration,
		})
	}
	return tasks
}

func taskPrompt(fund *models.Fund, name, brief, focus string) string {
	return fmt.Sprintf(
		"You are the %s analyst for fund %s (%s).\n"+
			"Objective: %s. Capital: %.2f %s. Broker mode: %s.\n"+
			"Session focus: %s\n\n"+
			"%s\n\n"+
			"Read the fund's state files before you start. Do not place trades.\n"+
			"Put each actionable conclusion on its own line as TAG: value, using the tags "+
			"SIGNAL, BUY, SELL, HOLD, RISK, WATCH or CATALYST.",
		name, fund.ID(), fund.Info.DisplayName,
		fund.Objective.Type, fund.Capital.Initial, fund.Capital.Currency, fund.Broker.Mode,
		focus, brief)
}
