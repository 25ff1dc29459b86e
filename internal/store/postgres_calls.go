package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/coaching"
	"github.com/pablodelmoral/gritoncall/internal/dispatch"
)

// --- scheduling ---

func (p *Postgres) ListCandidates(ctx context.Context, now time.Time) ([]coaching.Candidate, error) {
	lo := now.UTC().AddDate(0, 0, -1).Format(coaching.DateLayout)
	hi := now.UTC().AddDate(0, 0, 1).Format(coaching.DateLayout)

	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, display_name, daily_activity_id, to_char(activity_date, 'YYYY-MM-DD'),
		       phone_number, selected_coach_slug, timezone, call_preferences
		FROM call_scheduling_candidates
		WHERE activity_date BETWEEN $1::date AND $2::date
		ORDER BY user_id, activity_date`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []coaching.Candidate
	for rows.Next() {
		var (
			c     coaching.Candidate
			prefs []byte
		)
		if err := rows.Scan(&c.UserID, &c.DisplayName, &c.DailyActivityID, &c.ActivityDate,
			&c.PhoneNumber, &c.CoachSlug, &c.Timezone, &prefs); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.CallPreferences, err = coaching.DecodeCallPreferences(prefs)
		if err != nil {
			slog.WarnContext(ctx, "malformed call preferences", "user_id", c.UserID, "err", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) InsertScheduledCall(ctx context.Context, c calls.ScheduledCall) (calls.ScheduledCall, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO scheduled_calls (
			user_id, daily_activity_id, phone_number, coach_slug, timezone,
			scheduled_for, scheduled_date, status, attempt_number, max_attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8, $9, $10, $11, $11)
		RETURNING `+scheduledCallCols(""),
		c.UserID, c.DailyActivityID, c.PhoneNumber, c.CoachSlug, c.Timezone,
		c.ScheduledFor, c.ScheduledDate, c.Status, c.AttemptNumber, c.MaxAttempts, c.CreatedAt,
	)
	out, err := scanScheduledCall(row)
	if err != nil {
		if IsUniqueViolation(err) {
			return calls.ScheduledCall{}, calls.ErrAlreadyScheduled
		}
		return calls.ScheduledCall{}, fmt.Errorf("insert scheduled call: %w", err)
	}
	return out, nil
}

// --- dispatch ---

// ClaimDueCalls leases up to limit dispatchable rows. Rows locked by another
// claimer are skipped.
func (p *Postgres) ClaimDueCalls(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]dispatch.DueCall, error) {
	rows, err := p.db.QueryContext(ctx, `
		WITH due AS (
			SELECT id FROM scheduled_calls
			WHERE attempt_number <= max_attempts
			  AND scheduled_for <= $1
			  AND (status = 'pending' OR (status = 'failed' AND retry_after IS NOT NULL AND retry_after <= $1))
			  AND (dispatch_locked_until IS NULL OR dispatch_locked_until <= $1)
			ORDER BY scheduled_for
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		), claimed AS (
			UPDATE scheduled_calls sc SET dispatch_locked_until = $3
			FROM due WHERE sc.id = due.id
			RETURNING sc.*
		)
		SELECT `+scheduledCallCols("c.")+`,
		       cp.slug, cp.display_name, cp.system_prompt, cp.voice_config, cp.first_message, cp.end_message, cp.max_call_duration_seconds,
		       da.id, da.title, da.description
		FROM claimed c
		LEFT JOIN coach_profiles cp ON cp.slug = c.coach_slug
		LEFT JOIN daily_activities da ON da.id = c.daily_activity_id
		ORDER BY c.scheduled_for`, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claim due calls: %w", err)
	}
	defer rows.Close()

	var out []dispatch.DueCall
	for rows.Next() {
		var (
			sc                       calls.ScheduledCall
			coachSlug, coachName     *string
			coachPrompt, firstMsg    *string
			endMsg                   *string
			voice                    []byte
			maxDuration              *int
			actID, actTitle, actDesc *string
		)
		dest := scheduledCallDest(&sc)
		dest = append(dest, &coachSlug, &coachName, &coachPrompt, &voice, &firstMsg, &endMsg, &maxDuration, &actID, &actTitle, &actDesc)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan due call: %w", err)
		}

		dc := dispatch.DueCall{Call: sc}
		if coachSlug != nil {
			coach := coaching.CoachProfile{
				Slug:         *coachSlug,
				DisplayName:  deref(coachName),
				SystemPrompt: deref(coachPrompt),
				FirstMessage: deref(firstMsg),
				EndMessage:   deref(endMsg),
			}
			if maxDuration != nil {
				coach.MaxCallDurationSeconds = *maxDuration
			}
			if err := json.Unmarshal(voice, &coach.Voice); err != nil {
				return nil, fmt.Errorf("coach %s voice_config: %w", coach.Slug, err)
			}
			dc.Coach = &coach
		}
		if actID != nil {
			dc.Activity = &coaching.DailyActivity{
				ID:            *actID,
				Title:         deref(actTitle),
				Description:   deref(actDesc),
				ScheduledDate: sc.ScheduledDate,
			}
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

func scheduledCallDest(c *calls.ScheduledCall) []any {
	return []any{
		&c.ID, &c.UserID, &c.DailyActivityID, &c.PhoneNumber, &c.CoachSlug, &c.Timezone,
		&c.ScheduledFor, &c.ScheduledDate, &c.Status, &c.AttemptNumber, &c.MaxAttempts,
		&c.ProviderCallID, &c.ProviderAssistantID,
		&c.CallStartedAt, &c.CallEndedAt, &c.DurationSeconds, &c.Transcript, &c.Summary,
		&c.Commitment.Commitment, &c.Commitment.Confidence, &c.Commitment.CompletedToday,
		&c.ErrorMessage, &c.RetryAfter, &c.OutcomeAppliedAt, &c.CreatedAt, &c.UpdatedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (p *Postgres) ReleaseClaim(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE scheduled_calls SET dispatch_locked_until = NULL WHERE id = $1`, id)
	return err
}

func (p *Postgres) MarkCalling(ctx context.Context, id, assistantID, providerCallID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE scheduled_calls
		SET status = 'calling', provider_assistant_id = $2, provider_call_id = $3,
		    call_started_at = $4, dispatch_locked_until = NULL, updated_at = $4
		WHERE id = $1
		  AND (status = 'pending' OR (status = 'failed' AND provider_call_id IS DISTINCT FROM $3))`,
		id, assistantID, providerCallID, at)
	if err != nil {
		return fmt.Errorf("mark calling: %w", err)
	}
	return requireOneRow(res, calls.ErrStaleUpdate)
}

func (p *Postgres) MarkDispatchFailed(ctx context.Context, id string, f calls.Failure) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE scheduled_calls
		SET status = 'failed', error_message = $2, attempt_number = $3, retry_after = $4,
		    dispatch_locked_until = NULL, updated_at = $5
		WHERE id = $1 AND attempt_number = $6 AND status IN ('pending', 'failed')`,
		id, f.Reason, f.AttemptNumber, f.RetryAfter, f.At, f.ExpectedAttempt)
	if err != nil {
		return fmt.Errorf("mark dispatch failed: %w", err)
	}
	return requireOneRow(res, calls.ErrStaleUpdate)
}

func (p *Postgres) InsertCallLog(ctx context.Context, l calls.CallLog) (calls.CallLog, error) {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO call_logs (scheduled_call_id, user_id, provider_call_id, phone_number, coach_slug, status, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		nullString(l.ScheduledCallID), l.UserID, l.ProviderCallID, l.PhoneNumber, l.CoachSlug, l.Status, l.StartedAt, l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		return calls.CallLog{}, fmt.Errorf("insert call log: %w", err)
	}
	return l, nil
}

// --- reconcile ---

func (p *Postgres) InsertWebhookEvent(ctx context.Context, e calls.WebhookEvent) (calls.WebhookEvent, error) {
	if e.Headers == nil {
		e.Headers = map[string]string{}
	}
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return calls.WebhookEvent{}, fmt.Errorf("encode webhook headers: %w", err)
	}
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO webhook_events (event_type, source, provider_call_id, payload, headers, processed, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, false, $6)
		RETURNING id`,
		e.EventType, e.Source, nullString(e.ProviderCallID), string(e.Payload), string(headers), e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return calls.WebhookEvent{}, fmt.Errorf("insert webhook event: %w", err)
	}
	return e, nil
}

func (p *Postgres) MarkWebhookProcessed(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_events SET processed = true, processed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	return requireOneRow(res, ErrNotFound)
}

func (p *Postgres) FindByProviderCallID(ctx context.Context, providerCallID string) (calls.ScheduledCall, error) {
	if providerCallID == "" {
		return calls.ScheduledCall{}, calls.ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+scheduledCallCols("")+` FROM scheduled_calls WHERE provider_call_id = $1`, providerCallID)
	c, err := scanScheduledCall(row)
	if err != nil {
		return calls.ScheduledCall{}, notFound(err, calls.ErrNotFound)
	}
	return c, nil
}

func (p *Postgres) GetScheduledCall(ctx context.Context, id string) (calls.ScheduledCall, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+scheduledCallCols("")+` FROM scheduled_calls WHERE id = $1`, id)
	c, err := scanScheduledCall(row)
	if err != nil {
		return calls.ScheduledCall{}, notFound(err, calls.ErrNotFound)
	}
	return c, nil
}

func (p *Postgres) AttachProviderCall(ctx context.Context, id, providerCallID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE scheduled_calls SET provider_call_id = $2
		WHERE id = $1 AND (provider_call_id IS NULL OR provider_call_id = $2)`, id, providerCallID)
	if err != nil {
		return fmt.Errorf("attach provider call: %w", err)
	}
	return requireOneRow(res, calls.ErrStaleUpdate)
}

func (p *Postgres) MarkStarted(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE scheduled_calls
		SET status = 'calling', call_started_at = COALESCE(call_started_at, $2), updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'calling')`, id, at)
	if err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	return nil
}

func (p *Postgres) MarkEnded(ctx context.Context, id string, end calls.CallEnd) (calls.ScheduledCall, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE scheduled_calls
		SET status = 'completed', call_ended_at = $2, call_duration_seconds = $3,
		    transcript = $4, summary = $5,
		    commitment = COALESCE($6, commitment),
		    commitment_confidence = COALESCE($7, commitment_confidence),
		    completed_today = COALESCE($8, completed_today),
		    retry_after = NULL, dispatch_locked_until = NULL, updated_at = $2
		WHERE id = $1
		RETURNING `+scheduledCallCols(""),
		id, end.At, end.DurationSeconds, end.Transcript, end.Summary,
		end.Commitment.Commitment, end.Commitment.Confidence, end.Commitment.CompletedToday,
	)
	c, err := scanScheduledCall(row)
	if err != nil {
		return calls.ScheduledCall{}, notFound(err, calls.ErrNotFound)
	}
	return c, nil
}

func (p *Postgres) MarkFailed(ctx context.Context, id string, f calls.Failure) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE scheduled_calls
		SET status = 'failed', error_message = $2, attempt_number = $3, retry_after = $4,
		    dispatch_locked_until = NULL, updated_at = $5
		WHERE id = $1 AND status <> 'failed' AND attempt_number = $6`,
		id, f.Reason, f.AttemptNumber, f.RetryAfter, f.At, f.ExpectedAttempt)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireOneRow(res, calls.ErrStaleUpdate)
}

func (p *Postgres) SaveCommitment(ctx context.Context, id string, c calls.Commitment, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE scheduled_calls
		SET commitment = COALESCE($2, commitment),
		    commitment_confidence = COALESCE($3, commitment_confidence),
		    completed_today = COALESCE($4, completed_today),
		    updated_at = $5
		WHERE id = $1`, id, c.Commitment, c.Confidence, c.CompletedToday, at)
	if err != nil {
		return fmt.Errorf("save commitment: %w", err)
	}
	return requireOneRow(res, calls.ErrNotFound)
}

// UpdateCallLog touches no rows when no log exists for the provider call.
func (p *Postgres) UpdateCallLog(ctx context.Context, providerCallID string, u calls.CallLogUpdate) error {
	var cm calls.Commitment
	if u.Commitment != nil {
		cm = *u.Commitment
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE call_logs
		SET status = COALESCE(NULLIF($2, ''), status),
		    started_at = COALESCE(started_at, $3),
		    ended_at = COALESCE($4, ended_at),
		    duration_seconds = COALESCE($5, duration_seconds),
		    full_transcript = COALESCE($6, full_transcript),
		    summary = COALESCE($7, summary),
		    commitment = CASE WHEN $8::boolean THEN $9::text ELSE commitment END,
		    confidence = CASE WHEN $8::boolean THEN $10::integer ELSE confidence END,
		    completed_today = CASE WHEN $8::boolean THEN $11::boolean ELSE completed_today END,
		    cost_cents = COALESCE($12, cost_cents),
		    end_reason = COALESCE($13, end_reason),
		    error_details = COALESCE($14::jsonb, error_details)
		WHERE provider_call_id = $1`,
		providerCallID, string(u.Status), u.StartedAt, u.EndedAt, u.DurationSeconds,
		u.FullTranscript, u.Summary,
		u.Commitment != nil, cm.Commitment, cm.Confidence, cm.CompletedToday,
		u.CostCents, u.EndReason, jsonArg(u.ErrorDetails),
	)
	if err != nil {
		return fmt.Errorf("update call log: %w", err)
	}
	return nil
}
