package streaks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/coaching"
)

type fakeState struct {
	claimed    map[string]bool
	activities map[string]coaching.ActivityOutcome
	streaks    map[string]coaching.Streak
	records    []calls.CallRecord
}

func (s fakeState) clone() fakeState {
	out := fakeState{
		claimed:    map[string]bool{},
		activities: map[string]coaching.ActivityOutcome{},
		streaks:    map[string]coaching.Streak{},
		records:    append([]calls.CallRecord(nil), s.records...),
	}
	for k, v := range s.claimed {
		out.claimed[k] = v
	}
	for k, v := range s.activities {
		out.activities[k] = v
	}
	for k, v := range s.streaks {
		out.streaks[k] = v
	}
	return out
}

type fakeRepo struct {
	state     fakeState
	recordErr error
}

func newFakeRepo(userID string, streak, best int) *fakeRepo {
	r := &fakeRepo{state: fakeState{}.clone()}
	r.state.streaks[userID] = coaching.Streak{UserID: userID, Streak: streak, BestStreak: best}
	return r
}

func (r *fakeRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	tx := &fakeTx{state: r.state.clone(), recordErr: r.recordErr}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

type fakeTx struct {
	state     fakeState
	recordErr error
}

func (t *fakeTx) ClaimOutcome(ctx context.Context, id string, at time.Time) (bool, error) {
	if t.state.claimed[id] {
		return false, nil
	}
	t.state.claimed[id] = true
	return true, nil
}

func (t *fakeTx) SaveActivityOutcome(ctx context.Context, id string, o coaching.ActivityOutcome) error {
	t.state.activities[id] = o
	return nil
}

func (t *fakeTx) IncrementStreak(ctx context.Context, userID string, at time.Time) (coaching.Streak, error) {
	s := t.state.streaks[userID]
	s.Streak++
	if s.Streak > s.BestStreak {
		s.BestStreak = s.Streak
	}
	t.state.streaks[userID] = s
	return s, nil
}

func (t *fakeTx) ResetStreak(ctx context.Context, userID string, at time.Time) (coaching.Streak, error) {
	s := t.state.streaks[userID]
	s.Streak = 0
	t.state.streaks[userID] = s
	return s, nil
}

func (t *fakeTx) InsertCallRecord(ctx context.Context, r calls.CallRecord) (calls.CallRecord, error) {
	if t.recordErr != nil {
		return calls.CallRecord{}, t.recordErr
	}
	r.ID = "rec-1"
	t.state.records = append(t.state.records, r)
	return r, nil
}

var now = time.Date(2024, 1, 1, 14, 22, 0, 0, time.UTC)

func endedCall(completed bool) calls.ScheduledCall {
	commitment := "20 pushups"
	confidence := 8
	summary := "Good call"
	return calls.ScheduledCall{
		ID:              "sc1",
		UserID:          "u1",
		DailyActivityID: "a1",
		CoachSlug:       "drill_sergeant",
		Status:          calls.StatusCompleted,
		DurationSeconds: 185,
		Summary:         &summary,
		Commitment:      calls.Commitment{Commitment: &commitment, Confidence: &confidence, CompletedToday: &completed},
	}
}

func TestApply_CompletionIncrementsStreak(t *testing.T) {
	cases := []struct {
		streak, best         int
		wantStreak, wantBest int
	}{
		{0, 0, 1, 1},
		{4, 4, 5, 5},
		{2, 7, 3, 7},
	}
	for _, tc := range cases {
		repo := newFakeRepo("u1", tc.streak, tc.best)
		res, err := NewUpdater(repo, nil).WithClock(func() time.Time { return now }).Apply(context.Background(), endedCall(true))
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if !res.Applied || !res.Completed {
			t.Fatalf("expected applied completion, got %+v", res)
		}
		if res.Streak.Streak != tc.wantStreak || res.Streak.BestStreak != tc.wantBest {
			t.Fatalf("from %d/%d: expected %d/%d, got %+v", tc.streak, tc.best, tc.wantStreak, tc.wantBest, res.Streak)
		}
	}
}

func TestApply_CompletionWritesActivityAndRecord(t *testing.T) {
	repo := newFakeRepo("u1", 0, 0)
	if _, err := NewUpdater(repo, nil).WithClock(func() time.Time { return now }).Apply(context.Background(), endedCall(true)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	o := repo.state.activities["a1"]
	if o.Status != coaching.ActivityStatusCompleted || o.CompletedAt == nil || !o.CompletedAt.Equal(now) {
		t.Fatalf("unexpected activity outcome: %+v", o)
	}
	if o.NextDayCommitment == nil || *o.NextDayCommitment != "20 pushups" || *o.CommitmentConfidence != 8 {
		t.Fatalf("expected next day commitment, got %+v", o)
	}
	if !o.Recap.CompletedToday || o.Recap.CallDurationSeconds != 185 || o.Recap.CoachSlug != "drill_sergeant" || *o.Recap.TranscriptSummary != "Good call" {
		t.Fatalf("unexpected recap: %+v", o.Recap)
	}

	if len(repo.state.records) != 1 {
		t.Fatalf("expected one call record")
	}
	rec := repo.state.records[0]
	if rec.Status != "completed" || !rec.Summary.Completed || rec.Summary.ScheduledCallID != "sc1" {
		t.Fatalf("unexpected call record: %+v", rec)
	}
}

func TestApply_MissResetsStreak(t *testing.T) {
	for _, before := range []int{0, 1, 12} {
		repo := newFakeRepo("u1", before, 12)
		res, err := NewUpdater(repo, nil).WithClock(func() time.Time { return now }).Apply(context.Background(), endedCall(false))
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if res.Streak.Streak != 0 || res.Streak.BestStreak != 12 {
			t.Fatalf("from %d: expected reset keeping best, got %+v", before, res.Streak)
		}
		o := repo.state.activities["a1"]
		if o.Status != coaching.ActivityStatusPending || o.CompletedAt != nil {
			t.Fatalf("expected pending activity, got %+v", o)
		}
		if o.NextDayCommitment == nil {
			t.Fatalf("commitment should still be recorded on a miss")
		}
	}
}

func TestApply_ReplayAppliesNothing(t *testing.T) {
	repo := newFakeRepo("u1", 3, 3)
	u := NewUpdater(repo, nil).WithClock(func() time.Time { return now })

	if _, err := u.Apply(context.Background(), endedCall(true)); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	res, err := u.Apply(context.Background(), endedCall(true))
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if res.Applied {
		t.Fatalf("expected replay to be a no-op")
	}
	if got := repo.state.streaks["u1"]; got.Streak != 4 {
		t.Fatalf("expected streak 4 after replay, got %d", got.Streak)
	}
	if len(repo.state.records) != 1 {
		t.Fatalf("expected one call record after replay, got %d", len(repo.state.records))
	}
}

func TestApply_FailedWriteRollsBackClaim(t *testing.T) {
	repo := newFakeRepo("u1", 3, 3)
	repo.recordErr = errors.New("insert failed")
	u := NewUpdater(repo, nil).WithClock(func() time.Time { return now })

	if _, err := u.Apply(context.Background(), endedCall(true)); err == nil {
		t.Fatalf("expected error")
	}
	if repo.state.claimed["sc1"] || repo.state.streaks["u1"].Streak != 3 {
		t.Fatalf("expected rollback, got %+v", repo.state)
	}

	repo.recordErr = nil
	res, err := u.Apply(context.Background(), endedCall(true))
	if err != nil || !res.Applied || res.Streak.Streak != 4 {
		t.Fatalf("expected retry to apply, got %+v err=%v", res, err)
	}
}

func TestApply_RequiresCompletedToday(t *testing.T) {
	sc := endedCall(true)
	sc.Commitment.CompletedToday = nil
	if _, err := NewUpdater(newFakeRepo("u1", 0, 0), nil).Apply(context.Background(), sc); !errors.Is(err, ErrNoOutcome) {
		t.Fatalf("expected ErrNoOutcome, got %v", err)
	}
}
