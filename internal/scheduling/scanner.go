package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/coaching"
)

// CandidateSource reads the scheduling candidates view.
type CandidateSource interface {
	ListCandidates(ctx context.Context, now time.Time) ([]coaching.Candidate, error)
}

// Eligible is an accepted candidate annotated with its call slot.
type Eligible struct {
	Candidate coaching.Candidate
	Location  *time.Location
	LocalDate string
	Slot      time.Time
}

// Rejection explains why a candidate was not selected this tick.
type Rejection struct {
	Candidate coaching.Candidate
	Reason    string
}

// Evaluate decides whether c is due for a call at now.
// It is pure: a bad timezone falls back to UTC and bad preference data rejects.
func Evaluate(c coaching.Candidate, now time.Time) (Eligible, string, bool) {
	loc := coaching.ResolveLocation(c.Timezone)
	local := now.In(loc)
	day := coaching.DayName(local)
	localDate := local.Format(coaching.DateLayout)

	if c.ActivityDate != "" && c.ActivityDate != localDate {
		return Eligible{}, fmt.Sprintf("activity dated %s, local date is %s", c.ActivityDate, localDate), false
	}
	pref, ok := c.CallPreferences[day]
	if !ok {
		return Eligible{}, "no preferences for " + day, false
	}
	if !pref.Enabled {
		return Eligible{}, day + " not enabled", false
	}
	if !pref.Allows(local.Hour()) {
		return Eligible{}, fmt.Sprintf("hour %d not available", local.Hour()), false
	}

	return Eligible{
		Candidate: c,
		Location:  loc,
		LocalDate: localDate,
		Slot:      NextSlot(now, loc),
	}, "", true
}

// Scanner computes which candidates are due for a call right now.
type Scanner struct {
	source CandidateSource
	log    *slog.Logger
}

func NewScanner(source CandidateSource, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{source: source, log: log}
}

// Scan returns accepted candidates and the rejections. Only a failure to read
// the candidates view is returned as an error.
func (s *Scanner) Scan(ctx context.Context, now time.Time) ([]Eligible, []Rejection, error) {
	candidates, err := s.source.ListCandidates(ctx, now)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduling: list candidates: %w", err)
	}

	accepted := make([]Eligible, 0, len(candidates))
	var rejected []Rejection
	for _, c := range candidates {
		if c.UserID == "" || c.DailyActivityID == "" {
			s.log.Warn("skipping malformed candidate", "user_id", c.UserID, "daily_activity_id", c.DailyActivityID)
			rejected = append(rejected, Rejection{Candidate: c, Reason: "malformed candidate"})
			continue
		}
		e, reason, ok := Evaluate(c, now)
		if !ok {
			s.log.Debug("candidate not eligible", "user_id", c.UserID, "reason", reason)
			rejected = append(rejected, Rejection{Candidate: c, Reason: reason})
			continue
		}
		accepted = append(accepted, e)
	}
	return accepted, rejected, nil
}
