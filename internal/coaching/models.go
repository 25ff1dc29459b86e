package coaching

import (
	"time"
)

// DateLayout is the calendar-date format used for activity and call dates.
const DateLayout = "2006-01-02"

// User is the subset of users_public the call lifecycle reads and writes.
//
// Streak invariant: Streak >= 0 and BestStreak >= Streak after every update.
type User struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	// Timezone is an IANA name. Invalid or empty values resolve to UTC.
	Timezone string `json:"timezone" db:"timezone"`

	SelectedCoachSlug string          `json:"selected_coach_slug" db:"selected_coach_slug"`
	CallPreferences   CallPreferences `json:"call_preferences" db:"call_preferences"`

	Streak     int `json:"streak" db:"streak"`
	BestStreak int `json:"best_streak" db:"best_streak"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Streak is the result of an atomic streak mutation.
type Streak struct {
	UserID     string `json:"user_id"`
	Streak     int    `json:"streak"`
	BestStreak int    `json:"best_streak"`
}

type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusReplaced PlanStatus = "replaced"
)

// Plan is a user's 30-day program.
// At most one plan per user is active; older ones are marked replaced first.
type Plan struct {
	ID          string     `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	MonthlyGoal string     `json:"monthly_goal" db:"monthly_goal"`
	Category    string     `json:"category" db:"category"`
	StartDate   string     `json:"start_date" db:"start_date"`
	EndDate     string     `json:"end_date" db:"end_date"`
	Status      PlanStatus `json:"status" db:"status"`

	DailyTimeMinutes int    `json:"daily_time_minutes" db:"daily_time_minutes"`
	CurrentLevel     string `json:"current_level" db:"current_level"`
	PreferredTime    string `json:"preferred_time" db:"preferred_time"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type ActivityStatus string

const (
	ActivityStatusPending   ActivityStatus = "pending"
	ActivityStatusCompleted ActivityStatus = "completed"
)

type TargetLevel string

const (
	TargetFallback TargetLevel = "fallback"
	TargetMinimum  TargetLevel = "minimum"
	TargetPush     TargetLevel = "push"
)

// DailyActivity is one day's micro-commitment. Rows are never deleted.
type DailyActivity struct {
	ID              string `json:"id" db:"id"`
	PlanID          string `json:"plan_id" db:"plan_id"`
	DayNumber       int    `json:"day_number" db:"day_number"`
	ScheduledDate   string `json:"scheduled_date" db:"scheduled_date"`
	Title           string `json:"title" db:"title"`
	Description     string `json:"description" db:"description"`
	DurationMinutes int    `json:"duration_minutes" db:"duration_minutes"`
	ScheduledTime   string `json:"scheduled_time" db:"scheduled_time"`
	WeekNumber      int    `json:"week_number" db:"week_number"`
	WeekTheme       string `json:"week_theme" db:"week_theme"`

	Status        ActivityStatus `json:"status" db:"status"`
	TargetReached *TargetLevel   `json:"target_reached,omitempty" db:"target_reached"`

	CallRecap            *CallRecap `json:"call_recap,omitempty" db:"call_recap"`
	NextDayCommitment    *string    `json:"next_day_commitment,omitempty" db:"next_day_commitment"`
	CommitmentConfidence *int       `json:"commitment_confidence,omitempty" db:"commitment_confidence"`

	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// CallRecap is the snapshot of the latest call outcome stored on a DailyActivity.
type CallRecap struct {
	CallDate            time.Time `json:"call_date"`
	CompletedToday      bool      `json:"completed_today"`
	Commitment          *string   `json:"commitment"`
	Confidence          *int      `json:"confidence"`
	TranscriptSummary   *string   `json:"transcript_summary"`
	CallDurationSeconds int       `json:"call_duration_seconds"`
	CoachSlug           string    `json:"coach_slug"`
}

// ActivityOutcome is the absolute state written to a DailyActivity after a call.
type ActivityOutcome struct {
	Status               ActivityStatus
	CompletedAt          *time.Time
	Recap                CallRecap
	NextDayCommitment    *string
	CommitmentConfidence *int
	UpdatedAt            time.Time
}

// VoiceConfig is the per-coach voice configuration handed to the provider.
// Model, Stability and SimilarityBoost are optional overrides.
type VoiceConfig struct {
	Provider        string   `json:"provider"`
	VoiceID         string   `json:"voice_id"`
	Model           string   `json:"model,omitempty"`
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty"`
}

// CoachProfile is a selectable coaching persona.
type CoachProfile struct {
	Slug                   string      `json:"slug" db:"slug"`
	DisplayName            string      `json:"display_name" db:"display_name"`
	SystemPrompt           string      `json:"system_prompt" db:"system_prompt"`
	Voice                  VoiceConfig `json:"voice" db:"voice_config"`
	FirstMessage           string      `json:"first_message" db:"first_message"`
	EndMessage             string      `json:"end_message" db:"end_message"`
	MaxCallDurationSeconds int         `json:"max_call_duration_seconds" db:"max_call_duration_seconds"`
}

// MaxCallMinutes is the whole-minute call cap quoted to the assistant.
func (c CoachProfile) MaxCallMinutes() int {
	return c.MaxCallDurationSeconds / 60
}

// Candidate is one row of the scheduling candidates view: a user with a pending
// activity and no scheduled call for that activity's date.
type Candidate struct {
	UserID          string          `json:"user_id"`
	DisplayName     string          `json:"display_name"`
	DailyActivityID string          `json:"daily_activity_id"`
	ActivityDate    string          `json:"activity_date"`
	PhoneNumber     string          `json:"phone_number"`
	CoachSlug       string          `json:"selected_coach_slug"`
	Timezone        string          `json:"timezone"`
	CallPreferences CallPreferences `json:"call_preferences"`
}
