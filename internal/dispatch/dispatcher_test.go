package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/coaching"
	"github.com/pablodelmoral/gritoncall/internal/telephony"
)

type fakeRepo struct {
	mu       sync.Mutex
	rows     map[string]*calls.ScheduledCall
	leased   map[string]time.Time
	coach    *coaching.CoachProfile
	activity *coaching.DailyActivity
	logs     []calls.CallLog
	released []string
}

func newFakeRepo(rows ...calls.ScheduledCall) *fakeRepo {
	r := &fakeRepo{
		rows:     map[string]*calls.ScheduledCall{},
		leased:   map[string]time.Time{},
		coach:    &coaching.CoachProfile{Slug: "stoic_monk", DisplayName: "Marcus", SystemPrompt: "You are Marcus.", Voice: coaching.VoiceConfig{VoiceID: "v1"}, MaxCallDurationSeconds: 300},
		activity: &coaching.DailyActivity{ID: "a1", Title: "Walk 10 minutes"},
	}
	for i := range rows {
		row := rows[i]
		r.rows[row.ID] = &row
	}
	return r
}

func (r *fakeRepo) ClaimDueCalls(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]DueCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*calls.ScheduledCall
	for _, row := range r.rows {
		if !row.Dispatchable(now) {
			continue
		}
		if until, ok := r.leased[row.ID]; ok && until.After(now) {
			continue
		}
		due = append(due, row)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]DueCall, 0, len(due))
	for _, row := range due {
		r.leased[row.ID] = now.Add(lease)
		out = append(out, DueCall{Call: *row, Coach: r.coach, Activity: r.activity})
	}
	return out, nil
}

func (r *fakeRepo) ReleaseClaim(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leased, id)
	r.released = append(r.released, id)
	return nil
}

func (r *fakeRepo) MarkCalling(ctx context.Context, id, assistantID, providerCallID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[id]
	row.Status = calls.StatusCalling
	row.ProviderAssistantID = assistantID
	row.ProviderCallID = providerCallID
	row.CallStartedAt = &at
	delete(r.leased, id)
	return nil
}

func (r *fakeRepo) MarkDispatchFailed(ctx context.Context, id string, f calls.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[id]
	if row.AttemptNumber != f.ExpectedAttempt {
		return calls.ErrStaleUpdate
	}
	*row = f.Apply(*row)
	delete(r.leased, id)
	return nil
}

func (r *fakeRepo) InsertCallLog(ctx context.Context, l calls.CallLog) (calls.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, l)
	return l, nil
}

func (r *fakeRepo) row(id string) calls.ScheduledCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[id]
}

type fakeProvider struct {
	mu         sync.Mutex
	fail       error
	assistants []telephony.AssistantRequest
	phoneCalls []telephony.PhoneCallRequest
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreateAssistant(ctx context.Context, req telephony.AssistantRequest) (telephony.Assistant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return telephony.Assistant{}, p.fail
	}
	p.assistants = append(p.assistants, req)
	return telephony.Assistant{ID: "asst_1"}, nil
}

func (p *fakeProvider) CreatePhoneCall(ctx context.Context, req telephony.PhoneCallRequest) (telephony.PhoneCall, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phoneCalls = append(p.phoneCalls, req)
	return telephony.PhoneCall{ID: "call_" + req.Metadata.ScheduledCallID}, nil
}

type denyLimiter struct{}

func (denyLimiter) Acquire(ctx context.Context) (func(), bool, error) { return nil, false, nil }

var t0 = time.Date(2024, 1, 1, 14, 15, 0, 0, time.UTC)

func pendingCall(id string) calls.ScheduledCall {
	return calls.ScheduledCall{
		ID:              id,
		UserID:          "u-" + id,
		DailyActivityID: "a1",
		PhoneNumber:     "+15555550100",
		CoachSlug:       "stoic_monk",
		Timezone:        "America/Toronto",
		ScheduledFor:    t0,
		ScheduledDate:   "2024-01-01",
		Status:          calls.StatusPending,
		AttemptNumber:   1,
		MaxAttempts:     3,
	}
}

func at(ts time.Time) func() time.Time { return func() time.Time { return ts } }

func TestDispatcher_PlacesDueCall(t *testing.T) {
	repo := newFakeRepo(pendingCall("sc1"))
	prov := &fakeProvider{}
	d := NewDispatcher(repo, prov, nil, Options{Assistant: AssistantSettings{ServerURL: "https://x.test/hook", Model: "gpt-4o-mini", Temperature: 0.7}}, nil).WithClock(at(t0))

	m, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.Checked != 1 || m.Dispatched != 1 || m.Failed != 0 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if m.Details[0].Status != OutcomeSuccess || m.Details[0].ProviderCallID != "call_sc1" {
		t.Fatalf("unexpected outcome: %+v", m.Details[0])
	}

	row := repo.row("sc1")
	if row.Status != calls.StatusCalling || row.ProviderCallID != "call_sc1" || row.ProviderAssistantID != "asst_1" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.CallStartedAt == nil || !row.CallStartedAt.Equal(t0) {
		t.Fatalf("expected call_started_at")
	}
	if len(repo.logs) != 1 || repo.logs[0].Status != calls.LogStatusInProgress || repo.logs[0].ProviderCallID != "call_sc1" {
		t.Fatalf("unexpected call logs: %+v", repo.logs)
	}

	prompt := prov.assistants[0].SystemPrompt
	flavor, _ := PickFlavor("stoic_monk", "u-sc1", "2024-01-01")
	if !strings.Contains(prompt, flavor) || !strings.Contains(prompt, `User committed to: "Walk 10 minutes"`) {
		t.Fatalf("prompt missing flavor or context:\n%s", prompt)
	}
	md := prov.phoneCalls[0].Metadata
	if md.ScheduledCallID != "sc1" || md.DailyActivityID != "a1" || md.ActivityTitle != "Walk 10 minutes" {
		t.Fatalf("unexpected metadata: %+v", md)
	}

	// Nothing left to do on the next tick.
	m, _ = d.Run(context.Background())
	if m.Checked != 0 {
		t.Fatalf("expected no due calls, got %+v", m)
	}
}

func TestDispatcher_FailureAndRetry(t *testing.T) {
	repo := newFakeRepo(pendingCall("sc1"))
	prov := &fakeProvider{fail: &telephony.APIError{Op: "vapi create assistant", StatusCode: http.StatusInternalServerError, Body: "boom"}}
	d := NewDispatcher(repo, prov, nil, Options{}, nil)

	m, err := d.WithClock(at(t0)).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.Failed != 1 || !strings.Contains(m.Details[0].Error, "status 500") {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	row := repo.row("sc1")
	if row.Status != calls.StatusFailed || row.AttemptNumber != 2 {
		t.Fatalf("expected failed attempt 2, got %+v", row)
	}
	if row.RetryAfter == nil || !row.RetryAfter.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected retry_after one hour out, got %v", row.RetryAfter)
	}
	if row.ErrorMessage == "" {
		t.Fatalf("expected error message")
	}

	if m, _ := d.WithClock(at(t0.Add(30 * time.Minute))).Run(context.Background()); m.Checked != 0 {
		t.Fatalf("row re-selected before retry_after: %+v", m)
	}

	prov.fail = nil
	m, _ = d.WithClock(at(t0.Add(61 * time.Minute))).Run(context.Background())
	if m.Dispatched != 1 {
		t.Fatalf("expected retry to dispatch, got %+v", m)
	}
	if got := repo.row("sc1"); got.Status != calls.StatusCalling || got.AttemptNumber != 2 {
		t.Fatalf("unexpected row after retry: %+v", got)
	}
}

func TestDispatcher_RetryBoundIsTerminal(t *testing.T) {
	sc := pendingCall("sc1")
	repo := newFakeRepo(sc)
	prov := &fakeProvider{fail: errors.New("network down")}
	d := NewDispatcher(repo, prov, nil, Options{}, nil)

	now := t0
	for i := 0; i < 3; i++ {
		m, _ := d.WithClock(at(now)).Run(context.Background())
		if m.Failed != 1 {
			t.Fatalf("attempt %d: expected failure, got %+v", i+1, m)
		}
		now = now.Add(2 * time.Hour)
	}

	row := repo.row("sc1")
	if row.Status != calls.StatusFailed || row.AttemptNumber != 4 || row.RetryAfter != nil {
		t.Fatalf("expected terminal failure, got %+v", row)
	}
	prov.fail = nil
	if m, _ := d.WithClock(at(now.Add(24 * time.Hour))).Run(context.Background()); m.Checked != 0 {
		t.Fatalf("terminal row was re-selected: %+v", m)
	}
}

func TestDispatcher_MissingCoachFailsWithoutProviderCall(t *testing.T) {
	repo := newFakeRepo(pendingCall("sc1"))
	repo.coach = nil
	prov := &fakeProvider{}

	m, _ := NewDispatcher(repo, prov, nil, Options{}, nil).WithClock(at(t0)).Run(context.Background())
	if m.Failed != 1 || m.Details[0].Error != "coach profile not found" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if len(prov.assistants) != 0 {
		t.Fatalf("provider should not be called")
	}
}

func TestDispatcher_DeferredWhenNoSlot(t *testing.T) {
	repo := newFakeRepo(pendingCall("sc1"))
	prov := &fakeProvider{}

	m, _ := NewDispatcher(repo, prov, denyLimiter{}, Options{}, nil).WithClock(at(t0)).Run(context.Background())
	if m.Deferred != 1 || m.Dispatched != 0 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if len(repo.released) != 1 || repo.row("sc1").Status != calls.StatusPending {
		t.Fatalf("expected claim released and row untouched")
	}
}

func TestDispatcher_ConcurrentBatch(t *testing.T) {
	var rows []calls.ScheduledCall
	for _, id := range []string{"sc1", "sc2", "sc3", "sc4", "sc5"} {
		rows = append(rows, pendingCall(id))
	}
	repo := newFakeRepo(rows...)
	prov := &fakeProvider{}

	m, err := NewDispatcher(repo, prov, nil, Options{BatchSize: 4, Concurrency: 3}, nil).WithClock(at(t0)).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.Checked != 4 || m.Dispatched != 4 {
		t.Fatalf("expected batch of four, got %+v", m)
	}
	if len(prov.phoneCalls) != 4 {
		t.Fatalf("expected four provider calls, got %d", len(prov.phoneCalls))
	}
}
