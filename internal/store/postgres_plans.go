package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/coaching"
	"github.com/pablodelmoral/gritoncall/internal/plans"
)

// --- plans ---

func (p *Postgres) ReplaceActivePlan(ctx context.Context, plan coaching.Plan, acts []coaching.DailyActivity) (coaching.Plan, error) {
	err := p.withTx(ctx, func(ctx context.Context, q querier) error {
		if _, err := q.ExecContext(ctx, `UPDATE plans SET status = 'replaced' WHERE user_id = $1 AND status = 'active'`, plan.UserID); err != nil {
			return fmt.Errorf("replace active plans: %w", err)
		}
		err := q.QueryRowContext(ctx, `
			INSERT INTO plans (user_id, monthly_goal, category, start_date, end_date, status,
			                   daily_time_minutes, current_level, preferred_time, created_at)
			VALUES ($1, $2, $3, $4::date, $5::date, $6, $7, $8, $9, $10)
			RETURNING id`,
			plan.UserID, plan.MonthlyGoal, plan.Category, plan.StartDate, plan.EndDate, plan.Status,
			plan.DailyTimeMinutes, plan.CurrentLevel, plan.PreferredTime, plan.CreatedAt,
		).Scan(&plan.ID)
		if err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		for _, a := range acts {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO daily_activities (plan_id, day_number, scheduled_date, title, description,
				                              duration_minutes, scheduled_time, week_number, week_theme,
				                              status, created_at, updated_at)
				VALUES ($1, $2, $3::date, $4, $5, $6, $7::time, $8, $9, $10, $11, $12)`,
				plan.ID, a.DayNumber, a.ScheduledDate, a.Title, a.Description,
				a.DurationMinutes, nullString(a.ScheduledTime), a.WeekNumber, a.WeekTheme,
				a.Status, a.CreatedAt, a.UpdatedAt,
			); err != nil {
				return fmt.Errorf("insert daily activity %d: %w", a.DayNumber, err)
			}
		}
		return nil
	})
	if err != nil {
		return coaching.Plan{}, err
	}
	return plan, nil
}

func (p *Postgres) GetActivePlan(ctx context.Context, userID string) (coaching.Plan, []coaching.DailyActivity, error) {
	var plan coaching.Plan
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, monthly_goal, category, to_char(start_date, 'YYYY-MM-DD'), to_char(end_date, 'YYYY-MM-DD'),
		       status, daily_time_minutes, current_level, preferred_time, created_at
		FROM plans WHERE user_id = $1 AND status = 'active'`, userID,
	).Scan(&plan.ID, &plan.UserID, &plan.MonthlyGoal, &plan.Category, &plan.StartDate, &plan.EndDate,
		&plan.Status, &plan.DailyTimeMinutes, &plan.CurrentLevel, &plan.PreferredTime, &plan.CreatedAt)
	if err != nil {
		return coaching.Plan{}, nil, notFound(err, plans.ErrNotFound)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, plan_id, day_number, to_char(scheduled_date, 'YYYY-MM-DD'), title, description,
		       duration_minutes, COALESCE(to_char(scheduled_time, 'HH24:MI:SS'), ''), week_number, week_theme,
		       status, target_reached, call_recap, next_day_commitment, commitment_confidence,
		       completed_at, created_at, updated_at
		FROM daily_activities WHERE plan_id = $1
		ORDER BY day_number`, plan.ID)
	if err != nil {
		return coaching.Plan{}, nil, fmt.Errorf("list daily activities: %w", err)
	}
	defer rows.Close()

	var acts []coaching.DailyActivity
	for rows.Next() {
		var (
			a     coaching.DailyActivity
			recap []byte
		)
		if err := rows.Scan(&a.ID, &a.PlanID, &a.DayNumber, &a.ScheduledDate, &a.Title, &a.Description,
			&a.DurationMinutes, &a.ScheduledTime, &a.WeekNumber, &a.WeekTheme,
			&a.Status, &a.TargetReached, &recap, &a.NextDayCommitment, &a.CommitmentConfidence,
			&a.CompletedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return coaching.Plan{}, nil, fmt.Errorf("scan daily activity: %w", err)
		}
		if len(recap) > 0 {
			var r coaching.CallRecap
			if err := json.Unmarshal(recap, &r); err == nil {
				a.CallRecap = &r
			}
		}
		acts = append(acts, a)
	}
	if err := rows.Err(); err != nil {
		return coaching.Plan{}, nil, err
	}
	return plan, acts, nil
}

func (p *Postgres) CompleteActivity(ctx context.Context, id string, level coaching.TargetLevel, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE daily_activities
		SET status = 'completed', target_reached = $2, completed_at = COALESCE(completed_at, $3), updated_at = $3
		WHERE id = $1`, id, level, at)
	if err != nil {
		return fmt.Errorf("complete activity: %w", err)
	}
	return requireOneRow(res, plans.ErrNotFound)
}

// --- users and coaches ---

func (p *Postgres) GetUser(ctx context.Context, id string) (coaching.User, error) {
	var (
		u     coaching.User
		phone *string
		coach *string
		prefs []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, display_name, phone_number, timezone, selected_coach_slug, call_preferences,
		       streak, best_streak, created_at, updated_at
		FROM users_public WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &phone, &u.Timezone, &coach, &prefs,
		&u.Streak, &u.BestStreak, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return coaching.User{}, notFound(err, ErrNotFound)
	}
	u.PhoneNumber = deref(phone)
	u.SelectedCoachSlug = deref(coach)
	if err := json.Unmarshal(prefs, &u.CallPreferences); err != nil {
		return coaching.User{}, fmt.Errorf("user %s call_preferences: %w", id, err)
	}
	return u, nil
}

func (p *Postgres) UpdateCallPreferences(ctx context.Context, userID string, prefs coaching.CallPreferences, at time.Time) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode call preferences: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE users_public SET call_preferences = $2::jsonb, updated_at = $3 WHERE id = $1`,
		userID, string(raw), at)
	if err != nil {
		return fmt.Errorf("update call preferences: %w", err)
	}
	return requireOneRow(res, ErrNotFound)
}

func (p *Postgres) ListCoaches(ctx context.Context) ([]coaching.CoachProfile, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT slug, display_name, system_prompt, voice_config, first_message, end_message, max_call_duration_seconds
		FROM coach_profiles ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list coaches: %w", err)
	}
	defer rows.Close()

	var out []coaching.CoachProfile
	for rows.Next() {
		c, err := scanCoach(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- reporting ---

func (p *Postgres) ListCallLogs(ctx context.Context, from, to time.Time, userID string) ([]calls.CallLog, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, COALESCE(scheduled_call_id::text, ''), user_id, provider_call_id, phone_number, coach_slug,
		       status, started_at, ended_at, duration_seconds, full_transcript, summary,
		       commitment, confidence, completed_today, cost_cents, COALESCE(end_reason, ''), error_details, created_at
		FROM call_logs
		WHERE created_at >= $1 AND created_at < $2 AND ($3 = '' OR user_id::text = $3)
		ORDER BY created_at`, from, to, userID)
	if err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}
	defer rows.Close()

	out := make([]calls.CallLog, 0)
	for rows.Next() {
		var (
			l       calls.CallLog
			details []byte
		)
		if err := rows.Scan(&l.ID, &l.ScheduledCallID, &l.UserID, &l.ProviderCallID, &l.PhoneNumber, &l.CoachSlug,
			&l.Status, &l.StartedAt, &l.EndedAt, &l.DurationSeconds, &l.FullTranscript, &l.Summary,
			&l.Commitment.Commitment, &l.Commitment.Confidence, &l.Commitment.CompletedToday,
			&l.CostCents, &l.EndReason, &details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call log: %w", err)
		}
		if len(details) > 0 {
			l.ErrorDetails = json.RawMessage(details)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
