package calls

import (
	"encoding/json"
	"errors"
	"time"
)

// ScheduledCall is one attempt (or planned attempt) to reach a user about a
// specific DailyActivity. It is the single source of truth for whether a call
// is in flight; CallLog and WebhookEvent are audit trails only.
//
// Lifecycle: pending -> calling -> completed | failed.
// A failed row with a RetryAfter and AttemptNumber <= MaxAttempts is dispatchable again.
type ScheduledCall struct {
	ID              string `json:"id" db:"id"`
	UserID          string `json:"user_id" db:"user_id"`
	DailyActivityID string `json:"daily_activity_id" db:"daily_activity_id"`
	PhoneNumber     string `json:"phone_number" db:"phone_number"`
	CoachSlug       string `json:"coach_slug" db:"coach_slug"`
	Timezone        string `json:"timezone" db:"timezone"`

	ScheduledFor time.Time `json:"scheduled_for" db:"scheduled_for"`
	// ScheduledDate is the user's local calendar date the call belongs to.
	// (user_id, scheduled_date) is unique.
	ScheduledDate string `json:"scheduled_date" db:"scheduled_date"`

	Status        Status `json:"status" db:"status"`
	AttemptNumber int    `json:"attempt_number" db:"attempt_number"`
	MaxAttempts   int    `json:"max_attempts" db:"max_attempts"`

	ProviderCallID      string `json:"provider_call_id,omitempty" db:"provider_call_id"`
	ProviderAssistantID string `json:"provider_assistant_id,omitempty" db:"provider_assistant_id"`

	CallStartedAt   *time.Time `json:"call_started_at,omitempty" db:"call_started_at"`
	CallEndedAt     *time.Time `json:"call_ended_at,omitempty" db:"call_ended_at"`
	DurationSeconds int        `json:"call_duration_seconds" db:"call_duration_seconds"`
	Transcript      *string    `json:"transcript,omitempty" db:"transcript"`
	Summary         *string    `json:"summary,omitempty" db:"summary"`

	Commitment Commitment `json:"commitment"`

	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	RetryAfter   *time.Time `json:"retry_after,omitempty" db:"retry_after"`

	// OutcomeAppliedAt is set once the call outcome has been applied to the
	// activity and streak.
	OutcomeAppliedAt *time.Time `json:"outcome_applied_at,omitempty" db:"outcome_applied_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCalling   Status = "calling"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Hour
)

var (
	ErrNotFound         = errors.New("calls: not found")
	ErrAlreadyScheduled = errors.New("calls: already scheduled for this day")
	ErrStaleUpdate      = errors.New("calls: row changed concurrently")
)

// Commitment is the structured outcome recorded by the assistant's
// record_commitment function. Nil fields were not reported.
type Commitment struct {
	Commitment     *string `json:"commitment"`
	Confidence     *int    `json:"confidence"`
	CompletedToday *bool   `json:"completed_today"`
}

// IsZero reports whether no field was reported.
func (c Commitment) IsZero() bool {
	return c.Commitment == nil && c.Confidence == nil && c.CompletedToday == nil
}

// Over returns c with any unreported field taken from prev.
func (c Commitment) Over(prev Commitment) Commitment {
	out := c
	if out.Commitment == nil {
		out.Commitment = prev.Commitment
	}
	if out.Confidence == nil {
		out.Confidence = prev.Confidence
	}
	if out.CompletedToday == nil {
		out.CompletedToday = prev.CompletedToday
	}
	return out
}

// Failure is the retry bookkeeping written when an attempt fails.
// ExpectedAttempt guards the conditional update against concurrent writers.
type Failure struct {
	Reason          string
	ExpectedAttempt int
	AttemptNumber   int
	RetryAfter      *time.Time
	At              time.Time
}

// NextFailure computes the bookkeeping for a failed attempt: the attempt
// counter advances, and a retry is scheduled only while attempts remain.
func (c ScheduledCall) NextFailure(reason string, now time.Time, delay time.Duration) Failure {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	next := c.AttemptNumber + 1
	f := Failure{
		Reason:          reason,
		ExpectedAttempt: c.AttemptNumber,
		AttemptNumber:   next,
		At:              now,
	}
	if next <= maxAttempts {
		at := now.Add(delay)
		f.RetryAfter = &at
	}
	return f
}

// Apply returns a copy of c in the failed state described by f.
func (f Failure) Apply(c ScheduledCall) ScheduledCall {
	c.Status = StatusFailed
	c.ErrorMessage = f.Reason
	c.AttemptNumber = f.AttemptNumber
	c.RetryAfter = f.RetryAfter
	c.UpdatedAt = f.At
	return c
}

// Dispatchable reports whether the dispatcher may place this call at now.
func (c ScheduledCall) Dispatchable(now time.Time) bool {
	if c.AttemptNumber > c.MaxAttempts {
		return false
	}
	if c.ScheduledFor.After(now) {
		return false
	}
	switch c.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return c.RetryAfter != nil && !c.RetryAfter.After(now)
	default:
		return false
	}
}

// CallEnd carries the terminal data of a successfully ended call.
type CallEnd struct {
	At              time.Time
	DurationSeconds int
	Transcript      *string
	Summary         *string
	Commitment      Commitment
}

// CallLog is the append-only audit record of one provider call.
type CallLog struct {
	ID              string `json:"id" db:"id"`
	ScheduledCallID string `json:"scheduled_call_id" db:"scheduled_call_id"`
	UserID          string `json:"user_id" db:"user_id"`
	ProviderCallID  string `json:"provider_call_id" db:"provider_call_id"`
	PhoneNumber     string `json:"phone_number" db:"phone_number"`
	CoachSlug       string `json:"coach_slug" db:"coach_slug"`

	Status LogStatus `json:"status" db:"status"`

	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration_seconds" db:"duration_seconds"`
	FullTranscript  *string    `json:"full_transcript,omitempty" db:"full_transcript"`
	Summary         *string    `json:"summary,omitempty" db:"summary"`

	Commitment Commitment `json:"commitment"`

	CostCents    int64           `json:"cost_cents" db:"cost_cents"`
	EndReason    string          `json:"end_reason,omitempty" db:"end_reason"`
	ErrorDetails json.RawMessage `json:"error_details,omitempty" db:"error_details"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LogStatus string

const (
	LogStatusInProgress LogStatus = "in_progress"
	LogStatusCompleted  LogStatus = "completed"
	LogStatusFailed     LogStatus = "failed"
)

// CallLogUpdate is a partial update of a CallLog; nil fields are left unchanged.
type CallLogUpdate struct {
	Status          LogStatus
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	FullTranscript  *string
	Summary         *string
	Commitment      *Commitment
	CostCents       *int64
	EndReason       *string
	ErrorDetails    json.RawMessage
}

// WebhookEvent is the raw record of one inbound provider webhook.
// Only Processed/ProcessedAt are ever changed after insert.
type WebhookEvent struct {
	ID             string            `json:"id" db:"id"`
	EventType      string            `json:"event_type" db:"event_type"`
	Source         string            `json:"source" db:"source"`
	ProviderCallID string            `json:"provider_call_id,omitempty" db:"provider_call_id"`
	Payload        json.RawMessage   `json:"payload" db:"payload"`
	Headers        map[string]string `json:"headers" db:"headers"`
	Processed      bool              `json:"processed" db:"processed"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// CallRecord is the terminal historical record appended after an outcome is applied.
type CallRecord struct {
	ID        string            `json:"id" db:"id"`
	UserID    string            `json:"user_id" db:"user_id"`
	Status    string            `json:"status" db:"status"`
	Summary   CallRecordSummary `json:"summary_json" db:"summary_json"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

type CallRecordSummary struct {
	Commitment      *string `json:"commitment"`
	Confidence      *int    `json:"confidence"`
	Completed       bool    `json:"completed"`
	ScheduledCallID string  `json:"scheduled_call_id"`
}
