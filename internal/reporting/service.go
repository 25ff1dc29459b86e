package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
// Implementations read the append-only call logs, never scheduled_calls.
type Repository interface {
	ListCallLogs(ctx context.Context, from, to time.Time, userID string) ([]calls.CallLog, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCallLogs(ctx, req.Range.From, req.Range.To, req.UserID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{UserID: req.UserID, Range: req.Range}
	for _, l := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += l.DurationSeconds
		out.TotalCostCents += l.CostCents
		switch l.Status {
		case calls.LogStatusCompleted:
			out.CompletedCalls++
			if done := l.Commitment.CompletedToday; done != nil {
				out.CommitmentsReported++
				if *done {
					out.CompletedToday++
				}
			}
		case calls.LogStatusFailed:
			out.FailedCalls++
			if out.FailureReasons == nil {
				out.FailureReasons = map[string]int{}
			}
			reason := l.EndReason
			if reason == "" {
				reason = "unknown"
			}
			out.FailureReasons[reason]++
		case calls.LogStatusInProgress:
			out.InProgressCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	if out.CommitmentsReported > 0 {
		out.CompletionRate = float64(out.CompletedToday) / float64(out.CommitmentsReported)
	}
	return out, nil
}
