package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/coaching"
	"github.com/pablodelmoral/gritoncall/pkg/utils"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres implements the scheduling, dispatch, reconcile, streak, plan and
// reporting repositories on database/sql.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) DB() *sql.DB { return p.db }

func (p *Postgres) withTx(ctx context.Context, fn func(ctx context.Context, q querier) error) error {
	return utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, tx)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scheduledCallCols lists scheduled_calls columns in scanScheduledCall order,
// qualified with prefix (e.g. "c.").
func scheduledCallCols(prefix string) string {
	cols := []string{
		"id", "user_id", "daily_activity_id", "phone_number", "coach_slug", "timezone",
		"scheduled_for", "to_char(%sscheduled_date, 'YYYY-MM-DD')", "status", "attempt_number", "max_attempts",
		"COALESCE(%sprovider_call_id, '')", "COALESCE(%sprovider_assistant_id, '')",
		"call_started_at", "call_ended_at", "call_duration_seconds", "transcript", "summary",
		"commitment", "commitment_confidence", "completed_today",
		"COALESCE(%serror_message, '')", "retry_after", "outcome_applied_at", "created_at", "updated_at",
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		if strings.Contains(c, "%s") {
			out[i] = fmt.Sprintf(c, prefix)
		} else {
			out[i] = prefix + c
		}
	}
	return strings.Join(out, ", ")
}

func scanScheduledCall(r rowScanner) (calls.ScheduledCall, error) {
	var c calls.ScheduledCall
	err := r.Scan(scheduledCallDest(&c)...)
	return c, err
}

func scanCoach(r rowScanner) (coaching.CoachProfile, error) {
	var (
		c     coaching.CoachProfile
		voice []byte
	)
	if err := r.Scan(&c.Slug, &c.DisplayName, &c.SystemPrompt, &voice, &c.FirstMessage, &c.EndMessage, &c.MaxCallDurationSeconds); err != nil {
		return coaching.CoachProfile{}, err
	}
	if err := json.Unmarshal(voice, &c.Voice); err != nil {
		return coaching.CoachProfile{}, fmt.Errorf("coach %s voice_config: %w", c.Slug, err)
	}
	return c, nil
}

// nullString maps "" to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// jsonArg passes raw JSON as text for a ::jsonb cast, or NULL when empty.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

func requireOneRow(res sql.Result, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel
	}
	return nil
}
