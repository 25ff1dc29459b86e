package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/coaching"
	"github.com/pablodelmoral/gritoncall/internal/dispatch"
	"github.com/pablodelmoral/gritoncall/internal/plans"
	"github.com/pablodelmoral/gritoncall/internal/streaks"

	"github.com/google/uuid"
)

// MemoryStore implements every repository in memory, with the same
// conditional-update semantics as Postgres. For tests and local runs.
type MemoryStore struct {
	mu sync.Mutex

	users      map[string]coaching.User
	coaches    map[string]coaching.CoachProfile
	plans      map[string]coaching.Plan
	activities map[string]coaching.DailyActivity
	scheduled  map[string]calls.ScheduledCall
	leases     map[string]time.Time
	callLogs   []calls.CallLog
	events     []calls.WebhookEvent
	records    []calls.CallRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      map[string]coaching.User{},
		coaches:    map[string]coaching.CoachProfile{},
		plans:      map[string]coaching.Plan{},
		activities: map[string]coaching.DailyActivity{},
		scheduled:  map[string]calls.ScheduledCall{},
		leases:     map[string]time.Time{},
	}
}

// PutUser inserts or replaces a user.
func (s *MemoryStore) PutUser(u coaching.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryStore) PutCoach(c coaching.CoachProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coaches[c.Slug] = c
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (coaching.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return coaching.User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) UpdateCallPreferences(ctx context.Context, userID string, prefs coaching.CallPreferences, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.CallPreferences = prefs
	u.UpdatedAt = at
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) GetActivity(ctx context.Context, id string) (coaching.DailyActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok {
		return coaching.DailyActivity{}, ErrNotFound
	}
	return a, nil
}

// ScheduledCalls returns every scheduled call, oldest slot first.
func (s *MemoryStore) ScheduledCalls() []calls.ScheduledCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calls.ScheduledCall, 0, len(s.scheduled))
	for _, c := range s.scheduled {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out
}

func (s *MemoryStore) CallLogs() []calls.CallLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]calls.CallLog(nil), s.callLogs...)
}

func (s *MemoryStore) WebhookEvents() []calls.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]calls.WebhookEvent(nil), s.events...)
}

func (s *MemoryStore) CallRecords() []calls.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]calls.CallRecord(nil), s.records...)
}

// --- scheduling ---

// ListCandidates mirrors the scheduling_candidates view: pending activities of
// active plans dated within a day of now (UTC) with no call for that date.
func (s *MemoryStore) ListCandidates(ctx context.Context, now time.Time) ([]coaching.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo := now.UTC().AddDate(0, 0, -1).Format(coaching.DateLayout)
	hi := now.UTC().AddDate(0, 0, 1).Format(coaching.DateLayout)

	var out []coaching.Candidate
	for _, a := range s.activities {
		if a.Status != coaching.ActivityStatusPending || a.ScheduledDate < lo || a.ScheduledDate > hi {
			continue
		}
		p, ok := s.plans[a.PlanID]
		if !ok || p.Status != coaching.PlanStatusActive {
			continue
		}
		u, ok := s.users[p.UserID]
		if !ok || u.PhoneNumber == "" || u.SelectedCoachSlug == "" {
			continue
		}
		if s.hasCallOnLocked(u.ID, a.ScheduledDate) {
			continue
		}
		out = append(out, coaching.Candidate{
			UserID:          u.ID,
			DisplayName:     u.DisplayName,
			DailyActivityID: a.ID,
			ActivityDate:    a.ScheduledDate,
			PhoneNumber:     u.PhoneNumber,
			CoachSlug:       u.SelectedCoachSlug,
			Timezone:        u.Timezone,
			CallPreferences: u.CallPreferences,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ActivityDate < out[j].ActivityDate
	})
	return out, nil
}

func (s *MemoryStore) hasCallOnLocked(userID, date string) bool {
	for _, c := range s.scheduled {
		if c.UserID == userID && c.ScheduledDate == date {
			return true
		}
	}
	return false
}

func (s *MemoryStore) InsertScheduledCall(ctx context.Context, c calls.ScheduledCall) (calls.ScheduledCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasCallOnLocked(c.UserID, c.ScheduledDate) {
		return calls.ScheduledCall{}, calls.ErrAlreadyScheduled
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.scheduled[c.ID] = c
	return c, nil
}

// --- dispatch ---

func (s *MemoryStore) ClaimDueCalls(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]dispatch.DueCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []calls.ScheduledCall
	for _, c := range s.scheduled {
		if !c.Dispatchable(now) {
			continue
		}
		if until, ok := s.leases[c.ID]; ok && until.After(now) {
			continue
		}
		due = append(due, c)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]dispatch.DueCall, 0, len(due))
	for _, c := range due {
		s.leases[c.ID] = now.Add(lease)
		dc := dispatch.DueCall{Call: c}
		if coach, ok := s.coaches[c.CoachSlug]; ok {
			dc.Coach = &coach
		}
		if a, ok := s.activities[c.DailyActivityID]; ok {
			dc.Activity = &a
		}
		out = append(out, dc)
	}
	return out, nil
}

func (s *MemoryStore) ReleaseClaim(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, id)
	return nil
}

func (s *MemoryStore) MarkCalling(ctx context.Context, id, assistantID, providerCallID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.scheduled[id]
	if !ok {
		return calls.ErrNotFound
	}
	fresh := c.Status == calls.StatusPending || (c.Status == calls.StatusFailed && c.ProviderCallID != providerCallID)
	if !fresh {
		return calls.ErrStaleUpdate
	}
	c.Status = calls.StatusCalling
	c.ProviderAssistantID = assistantID
	c.ProviderCallID = providerCallID
	c.CallStartedAt = &at
	c.UpdatedAt = at
	s.scheduled[id] = c
	delete(s.leases, id)
	return nil
}

func (s *MemoryStore) MarkDispatchFailed(ctx context.Context, id string, f calls.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.scheduled[id]
	if !ok {
		return calls.ErrNotFound
	}
	if c.AttemptNumber != f.ExpectedAttempt || (c.Status != calls.StatusPending && c.Status != calls.StatusFailed) {
		return calls.ErrStaleUpdate
	}
	s.scheduled[id] = f.Apply(c)
	delete(s.leases, id)
	return nil
}

func (s *MemoryStore) InsertCallLog(ctx context.Context, l calls.CallLog) (calls.CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	s.callLogs = append(s.callLogs, l)
	return l, nil
}

// --- reconcile ---

func (s *MemoryStore) InsertWebhookEvent(ctx context.Context, e calls.WebhookEvent) (calls.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.events = append(s.events, e)
	return e, nil
}

func (s *MemoryStore) MarkWebhookProcessed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Processed = true
			s.events[i].ProcessedAt = &at
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) FindByProviderCallID(ctx context.Context, providerCallID string) (calls.ScheduledCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if providerCallID == "" {
		return calls.ScheduledCall{}, calls.ErrNotFound
	}
	for _, c := range s.scheduled {
		if c.ProviderCallID == providerCallID {
			return c, nil
		}
	}
	return calls.ScheduledCall{}, calls.ErrNotFound
}

func (s *MemoryStore) GetScheduledCall(ctx context.Context, id string) (calls.ScheduledCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.scheduled[id]
	if !ok {
		return calls.ScheduledCall{}, calls.ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) AttachProviderCall(ctx context.Context, id, providerCallID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.scheduled[id]
	if !ok {
		return calls.ErrNotFound
	}
	if c.ProviderCallID != "" && c.ProviderCallID != providerCallID {
		return calls.ErrStaleUpdate
	}
	c.ProviderCallID = providerCallID
	s.scheduled[id] = c
	return nil
}

func (s *MemoryStore) MarkStarted(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.scheduled[id]
	if !ok {
		return calls.ErrNotFound
	}
	if c.Status != calls.StatusPending && c.Status != calls.StatusCalling {
		return nil
	}
	c.Status = calls.StatusCalling
	if c.CallStartedAt == nil {
		c.CallStartedAt = &at
	}
	c.UpdatedAt = at
	s.scheduled[id] = c
	return nil
}

func (s *MemoryStore) MarkEnded(ctx context.Context, id string, end calls.CallEnd) (calls.ScheduledCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.scheduled[id]
	if !ok {
		return calls.ScheduledCall{}, calls.ErrNotFound
	}
	at := end.At
	c.Status = calls.StatusCompleted
	c.CallEndedAt = &at
	c.DurationSeconds = end.DurationSeconds
	c.Transcript = end.Transcript
	c.Summary = end.Summary
	c.Commitment = end.Commitment.Over(c.Commitment)
	c.RetryAfter = nil
	c.UpdatedAt = at
	s.scheduled[id] = c
	delete(s.leases, id)
	return c, nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, f calls.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.scheduled[id]
	if !ok {
		return calls.ErrNotFound
	}
	if c.Status == calls.StatusFailed || c.AttemptNumber != f.ExpectedAttempt {
		return calls.ErrStaleUpdate
	}
	s.scheduled[id] = f.Apply(c)
	delete(s.leases, id)
	return nil
}

func (s *MemoryStore) SaveCommitment(ctx context.Context, id string, cm calls.Commitment, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.scheduled[id]
	if !ok {
		return calls.ErrNotFound
	}
	c.Commitment = cm.Over(c.Commitment)
	c.UpdatedAt = at
	s.scheduled[id] = c
	return nil
}

// UpdateCallLog is a no-op when no log exists for the provider call.
func (s *MemoryStore) UpdateCallLog(ctx context.Context, providerCallID string, u calls.CallLogUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.callLogs {
		l := &s.callLogs[i]
		if l.ProviderCallID != providerCallID {
			continue
		}
		if u.Status != "" {
			l.Status = u.Status
		}
		if u.StartedAt != nil && l.StartedAt == nil {
			l.StartedAt = u.StartedAt
		}
		if u.EndedAt != nil {
			l.EndedAt = u.EndedAt
		}
		if u.DurationSeconds != nil {
			l.DurationSeconds = *u.DurationSeconds
		}
		if u.FullTranscript != nil {
			l.FullTranscript = u.FullTranscript
		}
		if u.Summary != nil {
			l.Summary = u.Summary
		}
		if u.Commitment != nil {
			l.Commitment = *u.Commitment
		}
		if u.CostCents != nil {
			l.CostCents = *u.CostCents
		}
		if u.EndReason != nil {
			l.EndReason = *u.EndReason
		}
		if u.ErrorDetails != nil {
			l.ErrorDetails = u.ErrorDetails
		}
	}
	return nil
}

// --- streaks ---

// RunInTx holds the store lock for the whole unit of work and restores the
// previous state if fn fails.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx streaks.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	if err := fn(ctx, memTx{s: s}); err != nil {
		s.restoreLocked(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	users      map[string]coaching.User
	activities map[string]coaching.DailyActivity
	scheduled  map[string]calls.ScheduledCall
	records    []calls.CallRecord
}

func (s *MemoryStore) snapshotLocked() memSnapshot {
	return memSnapshot{
		users:      cloneMap(s.users),
		activities: cloneMap(s.activities),
		scheduled:  cloneMap(s.scheduled),
		records:    append([]calls.CallRecord(nil), s.records...),
	}
}

func (s *MemoryStore) restoreLocked(snap memSnapshot) {
	s.users = snap.users
	s.activities = snap.activities
	s.scheduled = snap.scheduled
	s.records = snap.records
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// memTx runs with MemoryStore.mu already held.
type memTx struct {
	s *MemoryStore
}

func (t memTx) ClaimOutcome(ctx context.Context, id string, at time.Time) (bool, error) {
	c, ok := t.s.scheduled[id]
	if !ok {
		return false, calls.ErrNotFound
	}
	if c.OutcomeAppliedAt != nil {
		return false, nil
	}
	c.OutcomeAppliedAt = &at
	t.s.scheduled[id] = c
	return true, nil
}

func (t memTx) SaveActivityOutcome(ctx context.Context, id string, o coaching.ActivityOutcome) error {
	a, ok := t.s.activities[id]
	if !ok {
		return fmt.Errorf("daily activity %s: %w", id, ErrNotFound)
	}
	recap := o.Recap
	a.Status = o.Status
	a.CompletedAt = o.CompletedAt
	a.CallRecap = &recap
	a.NextDayCommitment = o.NextDayCommitment
	a.CommitmentConfidence = o.CommitmentConfidence
	a.UpdatedAt = o.UpdatedAt
	t.s.activities[id] = a
	return nil
}

func (t memTx) IncrementStreak(ctx context.Context, userID string, at time.Time) (coaching.Streak, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return coaching.Streak{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.Streak++
	if u.Streak > u.BestStreak {
		u.BestStreak = u.Streak
	}
	u.UpdatedAt = at
	t.s.users[userID] = u
	return coaching.Streak{UserID: userID, Streak: u.Streak, BestStreak: u.BestStreak}, nil
}

func (t memTx) ResetStreak(ctx context.Context, userID string, at time.Time) (coaching.Streak, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return coaching.Streak{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.Streak = 0
	u.UpdatedAt = at
	t.s.users[userID] = u
	return coaching.Streak{UserID: userID, Streak: 0, BestStreak: u.BestStreak}, nil
}

func (t memTx) InsertCallRecord(ctx context.Context, r calls.CallRecord) (calls.CallRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	t.s.records = append(t.s.records, r)
	return r, nil
}

// --- plans ---

func (s *MemoryStore) ReplaceActivePlan(ctx context.Context, p coaching.Plan, acts []coaching.DailyActivity) (coaching.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.plans {
		if existing.UserID == p.UserID && existing.Status == coaching.PlanStatusActive {
			existing.Status = coaching.PlanStatusReplaced
			s.plans[id] = existing
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.plans[p.ID] = p
	for _, a := range acts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.PlanID = p.ID
		s.activities[a.ID] = a
	}
	return p, nil
}

func (s *MemoryStore) GetActivePlan(ctx context.Context, userID string) (coaching.Plan, []coaching.DailyActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plans {
		if p.UserID != userID || p.Status != coaching.PlanStatusActive {
			continue
		}
		var acts []coaching.DailyActivity
		for _, a := range s.activities {
			if a.PlanID == p.ID {
				acts = append(acts, a)
			}
		}
		sort.Slice(acts, func(i, j int) bool { return acts[i].DayNumber < acts[j].DayNumber })
		return p, acts, nil
	}
	return coaching.Plan{}, nil, plans.ErrNotFound
}

func (s *MemoryStore) CompleteActivity(ctx context.Context, id string, level coaching.TargetLevel, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok {
		return plans.ErrNotFound
	}
	a.Status = coaching.ActivityStatusCompleted
	a.TargetReached = &level
	if a.CompletedAt == nil {
		a.CompletedAt = &at
	}
	a.UpdatedAt = at
	s.activities[id] = a
	return nil
}

// --- reporting ---

func (s *MemoryStore) ListCallLogs(ctx context.Context, from, to time.Time, userID string) ([]calls.CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calls.CallLog, 0)
	for _, l := range s.callLogs {
		if userID != "" && l.UserID != userID {
			continue
		}
		if l.CreatedAt.Before(from) || !l.CreatedAt.Before(to) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *MemoryStore) ListCoaches(ctx context.Context) ([]coaching.CoachProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]coaching.CoachProfile, 0, len(s.coaches))
	for _, c := range s.coaches {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}
