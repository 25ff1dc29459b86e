package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// UserID is optional; empty means all users.
type CallsSummaryRequest struct {
	Range  TimeRange `json:"range"`
	UserID string    `json:"user_id,omitempty"`
}

type CallsSummary struct {
	UserID string    `json:"user_id,omitempty"`
	Range  TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	TotalCostCents int64 `json:"total_cost_cents"`

	// CommitmentsReported counts completed calls where the user said whether
	// today's activity was done; CompletionRate is the done share of those.
	CommitmentsReported int     `json:"commitments_reported"`
	CompletedToday      int     `json:"completed_today"`
	CompletionRate      float64 `json:"completion_rate"`

	// FailureReasons counts failed calls by end reason.
	FailureReasons map[string]int `json:"failure_reasons,omitempty"`
}
