package plans

import "github.com/pablodelmoral/gritoncall/internal/coaching"

// PlanData is the Plan Generator's output shape.
type PlanData struct {
	MonthlyGoal      string       `json:"monthly_goal"`
	GoalCategory     string       `json:"goal_category"`
	DailyTimeMinutes int          `json:"daily_time_minutes"`
	CurrentLevel     string       `json:"current_level"`
	PreferredTime    string       `json:"preferred_time"`
	WeeklyPlans      []WeeklyPlan `json:"weekly_plans"`
}

type WeeklyPlan struct {
	WeekNumber       int               `json:"week_number"`
	Theme            string            `json:"theme"`
	Focus            string            `json:"focus"`
	MicroCommitments []MicroCommitment `json:"micro_commitments"`
}

type MicroCommitment struct {
	DayOfWeek       int    `json:"day_of_week"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes"`
	ScheduledTime   string `json:"scheduled_time,omitempty"`
}

type SaveResult struct {
	PlanID     string `json:"plan_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Activities int    `json:"activities"`
}

type ActivePlan struct {
	Plan       coaching.Plan            `json:"plan"`
	Activities []coaching.DailyActivity `json:"daily_activities"`
}

type Progress struct {
	PlanID        string `json:"plan_id"`
	MonthlyGoal   string `json:"monthly_goal"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	TotalDays     int    `json:"total_days"`
	CompletedDays int    `json:"completed_days"`
	PushTargets   int    `json:"push_targets"`
	Minimums      int    `json:"minimums"`
	Fallbacks     int    `json:"fallbacks"`
	// CurrentDay is the 1-based position of the first pending activity, 0 when none is pending.
	CurrentDay int `json:"current_day"`
}
