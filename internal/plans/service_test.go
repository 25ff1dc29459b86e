package plans

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/coaching"
)

type fakeRepo struct {
	plans      []coaching.Plan
	activities map[string][]coaching.DailyActivity
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{activities: map[string][]coaching.DailyActivity{}}
}

func (r *fakeRepo) ReplaceActivePlan(ctx context.Context, p coaching.Plan, acts []coaching.DailyActivity) (coaching.Plan, error) {
	for i := range r.plans {
		if r.plans[i].UserID == p.UserID && r.plans[i].Status == coaching.PlanStatusActive {
			r.plans[i].Status = coaching.PlanStatusReplaced
		}
	}
	p.ID = fmt.Sprintf("plan-%d", len(r.plans)+1)
	for i := range acts {
		acts[i].ID = fmt.Sprintf("%s-day-%d", p.ID, acts[i].DayNumber)
		acts[i].PlanID = p.ID
	}
	r.plans = append(r.plans, p)
	r.activities[p.ID] = acts
	return p, nil
}

func (r *fakeRepo) GetActivePlan(ctx context.Context, userID string) (coaching.Plan, []coaching.DailyActivity, error) {
	for _, p := range r.plans {
		if p.UserID == userID && p.Status == coaching.PlanStatusActive {
			return p, append([]coaching.DailyActivity(nil), r.activities[p.ID]...), nil
		}
	}
	return coaching.Plan{}, nil, ErrNotFound
}

func (r *fakeRepo) CompleteActivity(ctx context.Context, id string, level coaching.TargetLevel, at time.Time) error {
	for _, acts := range r.activities {
		for i := range acts {
			if acts[i].ID == id {
				acts[i].Status = coaching.ActivityStatusCompleted
				acts[i].TargetReached = &level
				acts[i].CompletedAt = &at
				return nil
			}
		}
	}
	return ErrNotFound
}

func samplePlan(days int, preferred string) PlanData {
	week := WeeklyPlan{WeekNumber: 1, Theme: "Foundations"}
	for i := 0; i < days; i++ {
		week.MicroCommitments = append(week.MicroCommitments, MicroCommitment{
			DayOfWeek:       i % 7,
			Title:           fmt.Sprintf("Day %d", i+1),
			DurationMinutes: 10,
		})
	}
	return PlanData{MonthlyGoal: "Run a 5k", GoalCategory: "fitness", PreferredTime: preferred, WeeklyPlans: []WeeklyPlan{week}}
}

var start = time.Date(2024, 1, 30, 18, 0, 0, 0, time.UTC)

func TestSave_MaterializesActivities(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil)

	res, err := svc.Save(context.Background(), "u1", samplePlan(3, "afternoon"), start)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.StartDate != "2024-01-30" || res.EndDate != "2024-02-28" || res.Activities != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	p, acts, _ := repo.GetActivePlan(context.Background(), "u1")
	if p.DailyTimeMinutes != 30 || p.CurrentLevel != "beginner" || p.Category != "fitness" {
		t.Fatalf("unexpected plan defaults: %+v", p)
	}
	wantDates := []string{"2024-01-30", "2024-01-31", "2024-02-01"}
	for i, a := range acts {
		if a.DayNumber != i+1 || a.ScheduledDate != wantDates[i] {
			t.Fatalf("activity %d: unexpected day/date %d %s", i, a.DayNumber, a.ScheduledDate)
		}
		if a.ScheduledTime != "14:00:00" || a.Status != coaching.ActivityStatusPending || a.WeekTheme != "Foundations" {
			t.Fatalf("activity %d: unexpected fields %+v", i, a)
		}
	}
}

func TestSave_ReplacesPriorActivePlan(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil)

	if _, err := svc.Save(context.Background(), "u1", samplePlan(2, "morning"), start); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if _, err := svc.Save(context.Background(), "u1", samplePlan(2, "evening"), start); err != nil {
		t.Fatalf("second save: %v", err)
	}

	active := 0
	for _, p := range repo.plans {
		if p.Status == coaching.PlanStatusActive {
			active++
		}
	}
	if active != 1 || repo.plans[0].Status != coaching.PlanStatusReplaced {
		t.Fatalf("expected exactly one active plan, got %+v", repo.plans)
	}
}

func TestScheduledTime(t *testing.T) {
	cases := []struct{ explicit, preferred, want string }{
		{"", "morning", "07:30:00"},
		{"", "afternoon", "14:00:00"},
		{"", "evening", "19:00:00"},
		{"", "", "19:00:00"},
		{"06:45", "morning", "06:45:00"},
		{"21:15:00", "morning", "21:15:00"},
		{"soon", "afternoon", "14:00:00"},
	}
	for _, tc := range cases {
		if got := scheduledTime(tc.explicit, tc.preferred); got != tc.want {
			t.Fatalf("scheduledTime(%q, %q): expected %s, got %s", tc.explicit, tc.preferred, tc.want, got)
		}
	}
}

func TestSave_RejectsInvalidPlans(t *testing.T) {
	svc := NewService(newFakeRepo(), nil)
	cases := map[string]PlanData{
		"empty":    samplePlan(0, "morning"),
		"too long": samplePlan(31, "morning"),
	}
	untitled := samplePlan(1, "morning")
	untitled.WeeklyPlans[0].MicroCommitments[0].Title = " "
	cases["untitled"] = untitled

	for name, data := range cases {
		if _, err := svc.Save(context.Background(), "u1", data, start); !errors.Is(err, ErrInvalidPlan) {
			t.Fatalf("%s: expected ErrInvalidPlan, got %v", name, err)
		}
	}
	if _, err := svc.Save(context.Background(), "", samplePlan(1, "morning"), start); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected user id error, got %v", err)
	}
}

func TestProgress_CountsTargets(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil)
	if _, err := svc.Save(context.Background(), "u1", samplePlan(5, "morning"), start); err != nil {
		t.Fatalf("save: %v", err)
	}

	for id, level := range map[string]coaching.TargetLevel{
		"plan-1-day-1": coaching.TargetPush,
		"plan-1-day-2": coaching.TargetMinimum,
		"plan-1-day-4": coaching.TargetFallback,
	} {
		if err := svc.CompleteActivity(context.Background(), id, level); err != nil {
			t.Fatalf("complete %s: %v", id, err)
		}
	}

	p, err := svc.Progress(context.Background(), "u1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.TotalDays != 5 || p.CompletedDays != 3 || p.PushTargets != 1 || p.Minimums != 1 || p.Fallbacks != 1 {
		t.Fatalf("unexpected progress: %+v", p)
	}
	if p.CurrentDay != 3 {
		t.Fatalf("expected current day 3, got %d", p.CurrentDay)
	}
}

func TestProgress_NoActivePlan(t *testing.T) {
	if _, err := NewService(newFakeRepo(), nil).Progress(context.Background(), "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteActivity_RejectsUnknownLevel(t *testing.T) {
	if err := NewService(newFakeRepo(), nil).CompleteActivity(context.Background(), "a1", "epic"); !errors.Is(err, ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
}
