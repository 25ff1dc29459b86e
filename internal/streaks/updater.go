package streaks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/coaching"
)

var ErrNoOutcome = errors.New("streaks: call has no completed_today outcome")

// Store is the transactional unit of work used to apply one outcome.
type Store interface {
	// ClaimOutcome marks the call's outcome as applied. It returns false when
	// the outcome was already applied.
	ClaimOutcome(ctx context.Context, scheduledCallID string, at time.Time) (bool, error)
	SaveActivityOutcome(ctx context.Context, dailyActivityID string, o coaching.ActivityOutcome) error
	// IncrementStreak adds one and raises best_streak in a single statement.
	IncrementStreak(ctx context.Context, userID string, at time.Time) (coaching.Streak, error)
	ResetStreak(ctx context.Context, userID string, at time.Time) (coaching.Streak, error)
	InsertCallRecord(ctx context.Context, r calls.CallRecord) (calls.CallRecord, error)
}

// Repository runs fn in one transaction; any error rolls back every write.
type Repository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

type Result struct {
	// Applied is false when a previous delivery already applied this outcome.
	Applied      bool            `json:"applied"`
	Completed    bool            `json:"completed"`
	Streak       coaching.Streak `json:"streak"`
	CallRecordID string          `json:"call_record_id,omitempty"`
}

// Updater applies a finished call's outcome to the daily activity and the
// user's streak, at most once per scheduled call.
type Updater struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewUpdater(repo Repository, log *slog.Logger) *Updater {
	if log == nil {
		log = slog.Default()
	}
	return &Updater{repo: repo, log: log, clock: time.Now}
}

func (u *Updater) WithClock(clock func() time.Time) *Updater {
	u.clock = clock
	return u
}

// Apply writes the call recap, adjusts the streak and appends a call record.
func (u *Updater) Apply(ctx context.Context, sc calls.ScheduledCall) (Result, error) {
	if sc.Commitment.CompletedToday == nil {
		return Result{}, ErrNoOutcome
	}
	completed := *sc.Commitment.CompletedToday
	now := u.clock().UTC()
	log := u.log.With("scheduled_call_id", sc.ID, "user_id", sc.UserID)

	res := Result{Completed: completed}
	err := u.repo.RunInTx(ctx, func(ctx context.Context, s Store) error {
		claimed, err := s.ClaimOutcome(ctx, sc.ID, now)
		if err != nil {
			return fmt.Errorf("claim outcome: %w", err)
		}
		if !claimed {
			return nil
		}

		if sc.DailyActivityID != "" {
			if err := s.SaveActivityOutcome(ctx, sc.DailyActivityID, activityOutcome(sc, completed, now)); err != nil {
				return fmt.Errorf("save activity outcome: %w", err)
			}
		}

		if completed {
			res.Streak, err = s.IncrementStreak(ctx, sc.UserID, now)
		} else {
			res.Streak, err = s.ResetStreak(ctx, sc.UserID, now)
		}
		if err != nil {
			return fmt.Errorf("update streak: %w", err)
		}

		rec, err := s.InsertCallRecord(ctx, calls.CallRecord{
			UserID: sc.UserID,
			Status: string(calls.StatusCompleted),
			Summary: calls.CallRecordSummary{
				Commitment:      sc.Commitment.Commitment,
				Confidence:      sc.Commitment.Confidence,
				Completed:       completed,
				ScheduledCallID: sc.ID,
			},
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("insert call record: %w", err)
		}
		res.CallRecordID = rec.ID
		res.Applied = true
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("streaks: %w", err)
	}

	if !res.Applied {
		log.Info("call outcome already applied")
		return res, nil
	}
	log.Info("call outcome applied", "completed", completed, "streak", res.Streak.Streak, "best_streak", res.Streak.BestStreak)
	return res, nil
}

func activityOutcome(sc calls.ScheduledCall, completed bool, now time.Time) coaching.ActivityOutcome {
	o := coaching.ActivityOutcome{
		Status: coaching.ActivityStatusPending,
		Recap: coaching.CallRecap{
			CallDate:            now,
			CompletedToday:      completed,
			Commitment:          sc.Commitment.Commitment,
			Confidence:          sc.Commitment.Confidence,
			TranscriptSummary:   sc.Summary,
			CallDurationSeconds: sc.DurationSeconds,
			CoachSlug:           sc.CoachSlug,
		},
		NextDayCommitment:    sc.Commitment.Commitment,
		CommitmentConfidence: sc.Commitment.Confidence,
		UpdatedAt:            now,
	}
	if completed {
		o.Status = coaching.ActivityStatusCompleted
		o.CompletedAt = &now
	}
	return o
}
