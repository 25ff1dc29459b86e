package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/coaching"
)

type fakeRepo struct {
	candidates []coaching.Candidate
	listErr    error
	insertErr  map[string]error

	inserted []calls.ScheduledCall
	byDay    map[string]bool
}

func (f *fakeRepo) ListCandidates(ctx context.Context, now time.Time) ([]coaching.Candidate, error) {
	return f.candidates, f.listErr
}

func (f *fakeRepo) InsertScheduledCall(ctx context.Context, c calls.ScheduledCall) (calls.ScheduledCall, error) {
	if err := f.insertErr[c.UserID]; err != nil {
		return calls.ScheduledCall{}, err
	}
	if f.byDay == nil {
		f.byDay = map[string]bool{}
	}
	key := c.UserID + "|" + c.ScheduledDate
	if f.byDay[key] {
		return calls.ScheduledCall{}, calls.ErrAlreadyScheduled
	}
	f.byDay[key] = true
	c.ID = "sc-" + c.UserID
	f.inserted = append(f.inserted, c)
	return c, nil
}

func mondayNine(userID string) coaching.Candidate {
	return coaching.Candidate{
		UserID:          userID,
		DailyActivityID: "act-" + userID,
		ActivityDate:    "2024-01-01",
		PhoneNumber:     "+15555550100",
		CoachSlug:       "stoic_monk",
		Timezone:        "America/Toronto",
		CallPreferences: coaching.CallPreferences{"monday": {Enabled: true, AvailableHours: []int{9}}},
	}
}

func fixedClock() time.Time {
	return time.Date(2024, 1, 1, 14, 7, 0, 0, time.UTC)
}

func TestService_Run_SchedulesEligibleCandidates(t *testing.T) {
	repo := &fakeRepo{candidates: []coaching.Candidate{mondayNine("u1")}}
	svc := NewService(repo, nil).WithClock(fixedClock)

	res, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Checked != 1 || res.Scheduled != 1 || res.Skipped != 0 || res.Failed != 0 {
		t.Fatalf("unexpected manifest: %+v", res)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(repo.inserted))
	}
	row := repo.inserted[0]
	if row.Status != calls.StatusPending || row.AttemptNumber != 1 || row.MaxAttempts != 3 {
		t.Fatalf("unexpected row state: %+v", row)
	}
	if !row.ScheduledFor.Equal(time.Date(2024, 1, 1, 14, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected scheduled_for %v", row.ScheduledFor)
	}
	if row.ScheduledDate != "2024-01-01" || row.Timezone != "America/Toronto" {
		t.Fatalf("unexpected date/timezone: %q %q", row.ScheduledDate, row.Timezone)
	}
	if res.Details[0].Status != DetailScheduled || res.Details[0].ScheduledCallID != "sc-u1" {
		t.Fatalf("unexpected detail: %+v", res.Details[0])
	}
}

func TestService_Run_SecondRunIsSkipped(t *testing.T) {
	repo := &fakeRepo{candidates: []coaching.Candidate{mondayNine("u1")}}
	svc := NewService(repo, nil).WithClock(fixedClock)

	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Scheduled != 0 || res.Skipped != 1 {
		t.Fatalf("expected duplicate skip, got %+v", res)
	}
	if res.Details[0].Status != DetailDuplicate {
		t.Fatalf("expected duplicate detail, got %+v", res.Details[0])
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(repo.inserted))
	}
}

func TestService_Run_InsertFailureDoesNotAbortBatch(t *testing.T) {
	repo := &fakeRepo{
		candidates: []coaching.Candidate{mondayNine("u1"), mondayNine("u2")},
		insertErr:  map[string]error{"u1": errors.New("connection reset")},
	}
	svc := NewService(repo, nil).WithClock(fixedClock)

	res, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Failed != 1 || res.Scheduled != 1 {
		t.Fatalf("unexpected manifest: %+v", res)
	}
	if res.Details[0].Status != DetailFailed || res.Details[0].Reason == "" {
		t.Fatalf("expected failure detail with reason, got %+v", res.Details[0])
	}
}

func TestService_Run_RejectedCandidatesAreSkipped(t *testing.T) {
	off := mondayNine("u2")
	off.CallPreferences = coaching.CallPreferences{"monday": {Enabled: false, AvailableHours: []int{9}}}
	malformed := mondayNine("")

	repo := &fakeRepo{candidates: []coaching.Candidate{mondayNine("u1"), off, malformed}}
	res, err := NewService(repo, nil).WithClock(fixedClock).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Checked != 3 || res.Scheduled != 1 || res.Skipped != 2 {
		t.Fatalf("unexpected manifest: %+v", res)
	}
}

func TestService_Run_ListFailureIsReturned(t *testing.T) {
	repo := &fakeRepo{listErr: errors.New("db down")}
	if _, err := NewService(repo, nil).WithClock(fixedClock).Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
