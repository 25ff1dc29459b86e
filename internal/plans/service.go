package plans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/coaching"
)

var (
	ErrNotFound     = errors.New("plans: not found")
	ErrInvalidPlan  = errors.New("plans: invalid plan")
	ErrInvalidLevel = errors.New("plans: invalid target level")
)

const (
	planDays        = 30
	defaultGoal     = "Achieve your goal"
	defaultCategory = "general"
	defaultMinutes  = 30
	defaultLevel    = "beginner"
	defaultTimeSlot = "morning"
)

// Repository persists plans and their activities.
type Repository interface {
	// ReplaceActivePlan marks the user's active plans replaced and inserts p
	// with its activities, atomically.
	ReplaceActivePlan(ctx context.Context, p coaching.Plan, activities []coaching.DailyActivity) (coaching.Plan, error)
	// GetActivePlan returns ErrNotFound when the user has no active plan.
	// Activities are ordered by day number.
	GetActivePlan(ctx context.Context, userID string) (coaching.Plan, []coaching.DailyActivity, error)
	CompleteActivity(ctx context.Context, activityID string, level coaching.TargetLevel, at time.Time) error
}

type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Save materializes a generated plan starting on startDate (a calendar date;
// the time of day is ignored).
func (s *Service) Save(ctx context.Context, userID string, data PlanData, startDate time.Time) (SaveResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return SaveResult{}, fmt.Errorf("%w: user_id is required", ErrInvalidPlan)
	}
	start := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, time.UTC)
	now := s.clock().UTC()

	p := coaching.Plan{
		UserID:           userID,
		MonthlyGoal:      orDefault(data.MonthlyGoal, defaultGoal),
		Category:         orDefault(data.GoalCategory, defaultCategory),
		StartDate:        start.Format(coaching.DateLayout),
		EndDate:          start.AddDate(0, 0, planDays-1).Format(coaching.DateLayout),
		Status:           coaching.PlanStatusActive,
		DailyTimeMinutes: data.DailyTimeMinutes,
		CurrentLevel:     orDefault(data.CurrentLevel, defaultLevel),
		PreferredTime:    orDefault(data.PreferredTime, defaultTimeSlot),
		CreatedAt:        now,
	}
	if p.DailyTimeMinutes <= 0 {
		p.DailyTimeMinutes = defaultMinutes
	}

	activities, err := materialize(data.WeeklyPlans, p.PreferredTime, start, now)
	if err != nil {
		return SaveResult{}, err
	}

	saved, err := s.repo.ReplaceActivePlan(ctx, p, activities)
	if err != nil {
		return SaveResult{}, fmt.Errorf("plans: save: %w", err)
	}
	s.log.Info("plan saved", "user_id", userID, "plan_id", saved.ID, "activities", len(activities))
	return SaveResult{PlanID: saved.ID, StartDate: saved.StartDate, EndDate: saved.EndDate, Activities: len(activities)}, nil
}

// materialize flattens weekly micro-commitments into consecutive days.
func materialize(weeks []WeeklyPlan, preferredTime string, start, now time.Time) ([]coaching.DailyActivity, error) {
	var out []coaching.DailyActivity
	for _, w := range weeks {
		for _, mc := range w.MicroCommitments {
			title := strings.TrimSpace(mc.Title)
			if title == "" {
				return nil, fmt.Errorf("%w: day %d has no title", ErrInvalidPlan, len(out)+1)
			}
			idx := len(out)
			out = append(out, coaching.DailyActivity{
				DayNumber:       idx + 1,
				ScheduledDate:   start.AddDate(0, 0, idx).Format(coaching.DateLayout),
				Title:           title,
				Description:     mc.Description,
				DurationMinutes: mc.DurationMinutes,
				ScheduledTime:   scheduledTime(mc.ScheduledTime, preferredTime),
				WeekNumber:      w.WeekNumber,
				WeekTheme:       w.Theme,
				Status:          coaching.ActivityStatusPending,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no micro commitments", ErrInvalidPlan)
	}
	if len(out) > planDays {
		return nil, fmt.Errorf("%w: %d micro commitments exceed %d days", ErrInvalidPlan, len(out), planDays)
	}
	return out, nil
}

// scheduledTime keeps an explicit HH:MM[:SS] time, otherwise derives one
// from the preferred time of day.
func scheduledTime(explicit, preferred string) string {
	explicit = strings.TrimSpace(explicit)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, explicit); err == nil {
			return t.Format("15:04:05")
		}
	}
	switch preferred {
	case "morning":
		return "07:30:00"
	case "afternoon":
		return "14:00:00"
	default:
		return "19:00:00"
	}
}

func (s *Service) ActivePlan(ctx context.Context, userID string) (ActivePlan, error) {
	p, acts, err := s.repo.GetActivePlan(ctx, userID)
	if err != nil {
		return ActivePlan{}, err
	}
	return ActivePlan{Plan: p, Activities: acts}, nil
}

// Progress summarizes the user's active plan.
func (s *Service) Progress(ctx context.Context, userID string) (Progress, error) {
	p, acts, err := s.repo.GetActivePlan(ctx, userID)
	if err != nil {
		return Progress{}, err
	}
	sort.SliceStable(acts, func(i, j int) bool { return acts[i].DayNumber < acts[j].DayNumber })

	out := Progress{
		PlanID:      p.ID,
		MonthlyGoal: p.MonthlyGoal,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		TotalDays:   len(acts),
	}
	for i, a := range acts {
		if a.Status == coaching.ActivityStatusCompleted {
			out.CompletedDays++
		}
		if a.Status == coaching.ActivityStatusPending && out.CurrentDay == 0 {
			out.CurrentDay = i + 1
		}
		if a.TargetReached == nil {
			continue
		}
		switch *a.TargetReached {
		case coaching.TargetPush:
			out.PushTargets++
		case coaching.TargetMinimum:
			out.Minimums++
		case coaching.TargetFallback:
			out.Fallbacks++
		}
	}
	return out, nil
}

// CompleteActivity marks an activity done at the given target level.
func (s *Service) CompleteActivity(ctx context.Context, activityID string, level coaching.TargetLevel) error {
	switch level {
	case coaching.TargetPush, coaching.TargetMinimum, coaching.TargetFallback:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	if strings.TrimSpace(activityID) == "" {
		return fmt.Errorf("%w: activity id is required", ErrInvalidPlan)
	}
	return s.repo.CompleteActivity(ctx, activityID, level, s.clock().UTC())
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
