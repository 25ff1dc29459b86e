package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/coaching"
	"github.com/pablodelmoral/gritoncall/internal/streaks"
)

// RunInTx runs fn in a READ COMMITTED transaction. Every write inside is a
// single-row conditional or atomic update.
func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, s streaks.Store) error) error {
	return p.withTx(ctx, func(ctx context.Context, q querier) error {
		return fn(ctx, pgOutcomeTx{q: q})
	})
}

type pgOutcomeTx struct {
	q querier
}

func (t pgOutcomeTx) ClaimOutcome(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE scheduled_calls SET outcome_applied_at = $2
		WHERE id = $1 AND outcome_applied_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("claim outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t pgOutcomeTx) SaveActivityOutcome(ctx context.Context, id string, o coaching.ActivityOutcome) error {
	recap, err := json.Marshal(o.Recap)
	if err != nil {
		return fmt.Errorf("encode call recap: %w", err)
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE daily_activities
		SET status = $2, completed_at = $3, call_recap = $4::jsonb,
		    next_day_commitment = $5, commitment_confidence = $6, updated_at = $7
		WHERE id = $1`,
		id, o.Status, o.CompletedAt, string(recap), o.NextDayCommitment, o.CommitmentConfidence, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save activity outcome: %w", err)
	}
	return requireOneRow(res, fmt.Errorf("daily activity %s: %w", id, ErrNotFound))
}

func (t pgOutcomeTx) IncrementStreak(ctx context.Context, userID string, at time.Time) (coaching.Streak, error) {
	s := coaching.Streak{UserID: userID}
	err := t.q.QueryRowContext(ctx, `
		UPDATE users_public
		SET streak = streak + 1, best_streak = GREATEST(best_streak, streak + 1), updated_at = $2
		WHERE id = $1
		RETURNING streak, best_streak`, userID, at).Scan(&s.Streak, &s.BestStreak)
	if err != nil {
		return coaching.Streak{}, notFound(err, fmt.Errorf("user %s: %w", userID, ErrNotFound))
	}
	return s, nil
}

func (t pgOutcomeTx) ResetStreak(ctx context.Context, userID string, at time.Time) (coaching.Streak, error) {
	s := coaching.Streak{UserID: userID}
	err := t.q.QueryRowContext(ctx, `
		UPDATE users_public SET streak = 0, updated_at = $2
		WHERE id = $1
		RETURNING streak, best_streak`, userID, at).Scan(&s.Streak, &s.BestStreak)
	if err != nil {
		return coaching.Streak{}, notFound(err, fmt.Errorf("user %s: %w", userID, ErrNotFound))
	}
	return s, nil
}

func (t pgOutcomeTx) InsertCallRecord(ctx context.Context, r calls.CallRecord) (calls.CallRecord, error) {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return calls.CallRecord{}, fmt.Errorf("encode call summary: %w", err)
	}
	err = t.q.QueryRowContext(ctx, `
		INSERT INTO calls (user_id, status, summary_json, created_at)
		VALUES ($1, $2, $3::jsonb, $4)
		RETURNING id`, r.UserID, r.Status, string(summary), r.CreatedAt).Scan(&r.ID)
	if err != nil {
		return calls.CallRecord{}, fmt.Errorf("insert call record: %w", err)
	}
	return r, nil
}
