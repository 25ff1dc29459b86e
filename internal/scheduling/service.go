package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
)

// Repository is the persistence needed by the scan+schedule job.
//
// InsertScheduledCall must return calls.ErrAlreadyScheduled when a row for the
// same (user, scheduled date) exists.
type Repository interface {
	CandidateSource
	InsertScheduledCall(ctx context.Context, c calls.ScheduledCall) (calls.ScheduledCall, error)
}

// Result is the manifest returned by one scan+schedule run.
type Result struct {
	Checked   int      `json:"checked"`
	Scheduled int      `json:"scheduled"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Details   []Detail `json:"details"`
}

type Detail struct {
	UserID          string     `json:"user_id"`
	DailyActivityID string     `json:"daily_activity_id"`
	ScheduledCallID string     `json:"scheduled_call_id,omitempty"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
}

const (
	DetailScheduled = "scheduled"
	DetailDuplicate = "already_scheduled"
	DetailFailed    = "failed"
)

// Service turns eligible candidates into pending ScheduledCall rows.
type Service struct {
	repo        Repository
	scanner     *Scanner
	log         *slog.Logger
	maxAttempts int
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:        repo,
		scanner:     NewScanner(repo, log),
		log:         log,
		maxAttempts: calls.DefaultMaxAttempts,
		clock:       time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Run scans candidates at the current time and inserts one pending call per
// eligible candidate. Per-candidate insert errors are recorded, not returned.
func (s *Service) Run(ctx context.Context) (Result, error) {
	now := s.clock().UTC()

	eligible, rejected, err := s.scanner.Scan(ctx, now)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Checked: len(eligible) + len(rejected),
		Skipped: len(rejected),
		Details: make([]Detail, 0, len(eligible)),
	}

	for _, e := range eligible {
		c := e.Candidate
		row := calls.ScheduledCall{
			UserID:          c.UserID,
			DailyActivityID: c.DailyActivityID,
			PhoneNumber:     c.PhoneNumber,
			CoachSlug:       c.CoachSlug,
			Timezone:        e.Location.String(),
			ScheduledFor:    e.Slot.UTC(),
			ScheduledDate:   e.LocalDate,
			Status:          calls.StatusPending,
			AttemptNumber:   1,
			MaxAttempts:     s.maxAttempts,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		created, err := s.repo.InsertScheduledCall(ctx, row)
		switch {
		case errors.Is(err, calls.ErrAlreadyScheduled):
			s.log.Info("call already scheduled", "user_id", c.UserID, "date", e.LocalDate)
			res.Skipped++
			res.Details = append(res.Details, Detail{UserID: c.UserID, DailyActivityID: c.DailyActivityID, Status: DetailDuplicate})
			continue
		case err != nil:
			s.log.Error("schedule call failed", "user_id", c.UserID, "daily_activity_id", c.DailyActivityID, "err", err)
			res.Failed++
			res.Details = append(res.Details, Detail{UserID: c.UserID, DailyActivityID: c.DailyActivityID, Status: DetailFailed, Reason: err.Error()})
			continue
		}

		at := created.ScheduledFor
		res.Scheduled++
		res.Details = append(res.Details, Detail{
			UserID:          c.UserID,
			DailyActivityID: c.DailyActivityID,
			ScheduledCallID: created.ID,
			ScheduledFor:    &at,
			Status:          DetailScheduled,
		})
		s.log.Info("call scheduled", "user_id", c.UserID, "scheduled_call_id", created.ID, "scheduled_for", at)
	}

	s.log.Info("call scheduling complete", "checked", res.Checked, "scheduled", res.Scheduled, "failed", res.Failed)
	return res, nil
}
