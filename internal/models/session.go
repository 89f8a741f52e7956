package models

import "time"

// SessionStatus is the outcome of a session or sub-task.
type SessionStatus string

const (
	StatusSuccess SessionStatus = "success"
	StatusError   SessionStatus = "error"
	StatusTimeout SessionStatus = "timeout"
)

// SessionLog is the most recent session record of a fund. It is overwritten
// on every completion.
type SessionLog struct {
	RunID          string        `json:"run_id"`
	FundID         string        `json:"fund"`
	SessionKind    string        `json:"session_type"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	Status         SessionStatus `json:"status"`
	TradesExecuted int           `json:"trades_executed"`
	AnalysisFile   string        `json:"analysis_file,omitempty"`
	Summary        string        `json:"summary"`
	Error          string        `json:"error,omitempty"`
}

// SubTaskKind is the fixed taxonomy of analysis sub-tasks.
type SubTaskKind string

const (
	SubTaskMacro     SubTaskKind = "macro"
	SubTaskTechnical SubTaskKind = "technical"
	SubTaskSentiment SubTaskKind = "sentiment"
	SubTaskRisk      SubTaskKind = "risk"
	SubTaskCustom    SubTaskKind = "custom"
)

// Valid reports whether k is a known sub-task kind.
func (k SubTaskKind) Valid() bool {
	switch k {
	case SubTaskMacro, SubTaskTechnical, SubTaskSentiment, SubTaskRisk, SubTaskCustom:
		return true
	}
	return false
}

// SubTaskResult is produced once per dispatched sub-task.
type SubTaskResult struct {
	Kind      SubTaskKind   `json:"type"`
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Status    SessionStatus `json:"status"`
	Output    string        `json:"output"`
	Error     string        `json:"error,omitempty"`
}

// Duration is the wall-clock time the sub-task took.
func (r SubTaskResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// BreachEvent is a detected stop-loss breach awaiting execution.
type BreachEvent struct {
	Symbol       string
	Shares       float64
	StopPrice    float64
	CurrentPrice float64
	AvgCost      float64
	Loss         float64
	LossPct      float64
}

// ObjectiveTracker records progress toward the fund objective.
type ObjectiveTracker struct {
	FundID         string    `json:"fund"`
	ObjectiveType  string    `json:"objective_type"`
	InitialCapital float64   `json:"initial_capital"`
	TargetValue    float64   `json:"target_value"`
	CurrentValue   float64   `json:"current_value"`
	ProgressPct    float64   `json:"progress_pct"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Update refreshes the tracker from the current portfolio value.
func (o *ObjectiveTracker) Update(value float64, now time.Time) {
	o.CurrentValue = value
	o.UpdatedAt = now
	o.ProgressPct = 0
	gain := o.TargetValue - o.InitialCapital
	if gain != 0 {
		o.ProgressPct = (value - o.InitialCapital) / gain * 100
	}
}
