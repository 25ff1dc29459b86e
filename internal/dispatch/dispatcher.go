package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/coaching"
	"github.com/pablodelmoral/gritoncall/internal/telephony"

	"golang.org/x/sync/errgroup"
)

// DueCall is a claimed ScheduledCall joined with its coach and activity.
// Coach or Activity is nil when the join found nothing.
type DueCall struct {
	Call     calls.ScheduledCall
	Coach    *coaching.CoachProfile
	Activity *coaching.DailyActivity
}

// Repository is the persistence needed by the dispatcher.
//
// ClaimDueCalls selects dispatchable rows (see calls.ScheduledCall.Dispatchable)
// ordered by scheduled_for and leases them so overlapping runs skip them.
type Repository interface {
	ClaimDueCalls(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]DueCall, error)
	ReleaseClaim(ctx context.Context, scheduledCallID string) error
	MarkCalling(ctx context.Context, scheduledCallID, assistantID, providerCallID string, at time.Time) error
	MarkDispatchFailed(ctx context.Context, scheduledCallID string, f calls.Failure) error
	InsertCallLog(ctx context.Context, l calls.CallLog) (calls.CallLog, error)
}

type Options struct {
	Assistant   AssistantSettings
	BatchSize   int
	Concurrency int
	RetryDelay  time.Duration
	Lease       time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = calls.DefaultRetryDelay
	}
	if o.Lease <= 0 {
		o.Lease = 5 * time.Minute
	}
	return o
}

const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeDeferred = "deferred"
)

// Outcome is the result of one attempted row.
type Outcome struct {
	ScheduledCallID string `json:"scheduled_call_id"`
	UserID          string `json:"user_id"`
	Status          string `json:"status"`
	ProviderCallID  string `json:"provider_call_id,omitempty"`
	AttemptNumber   int    `json:"attempt_number"`
	Error           string `json:"error,omitempty"`
}

// Manifest is returned by one dispatch run.
type Manifest struct {
	Checked    int       `json:"checked"`
	Dispatched int       `json:"dispatched"`
	Failed     int       `json:"failed"`
	Deferred   int       `json:"deferred"`
	Details    []Outcome `json:"details"`
}

// Dispatcher places outbound calls for due ScheduledCall rows.
type Dispatcher struct {
	repo     Repository
	provider telephony.VoiceProvider
	limiter  Limiter
	opts     Options
	log      *slog.Logger
	clock    func() time.Time
}

func NewDispatcher(repo Repository, provider telephony.VoiceProvider, limiter Limiter, opts Options, log *slog.Logger) *Dispatcher {
	if limiter == nil {
		limiter = NoopLimiter{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		repo:     repo,
		provider: provider,
		limiter:  limiter,
		opts:     opts.withDefaults(),
		log:      log,
		clock:    time.Now,
	}
}

func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Run claims one batch of due calls and dispatches them. Only a failure to
// claim the batch is returned; per-row failures are in the manifest.
func (d *Dispatcher) Run(ctx context.Context) (Manifest, error) {
	now := d.clock().UTC()

	due, err := d.repo.ClaimDueCalls(ctx, now, d.opts.BatchSize, d.opts.Lease)
	if err != nil {
		return Manifest{}, fmt.Errorf("dispatch: claim due calls: %w", err)
	}

	outcomes := make([]Outcome, len(due))
	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for i, dc := range due {
		i, dc := i, dc
		g.Go(func() error {
			outcomes[i] = d.dispatchOne(ctx, dc, now)
			return nil
		})
	}
	_ = g.Wait()

	m := Manifest{Checked: len(due), Details: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeSuccess:
			m.Dispatched++
		case OutcomeFailed:
			m.Failed++
		case OutcomeDeferred:
			m.Deferred++
		}
	}
	d.log.Info("call dispatch complete", "checked", m.Checked, "dispatched", m.Dispatched, "failed", m.Failed, "deferred", m.Deferred)
	return m, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, dc DueCall, now time.Time) Outcome {
	sc := dc.Call
	log := d.log.With("scheduled_call_id", sc.ID, "user_id", sc.UserID, "attempt", sc.AttemptNumber)
	out := Outcome{ScheduledCallID: sc.ID, UserID: sc.UserID, AttemptNumber: sc.AttemptNumber}

	release, ok, err := d.limiter.Acquire(ctx)
	if err != nil || !ok {
		if err != nil {
			log.Warn("dispatch limiter unavailable", "err", err)
		}
		if rerr := d.repo.ReleaseClaim(ctx, sc.ID); rerr != nil {
			log.Warn("release claim failed", "err", rerr)
		}
		out.Status = OutcomeDeferred
		return out
	}
	defer release()

	providerCallID, assistantID, err := d.place(ctx, dc)
	if err != nil {
		log.Error("call dispatch failed", "err", err)
		f := sc.NextFailure(err.Error(), now, d.opts.RetryDelay)
		if merr := d.repo.MarkDispatchFailed(ctx, sc.ID, f); merr != nil {
			log.Error("record dispatch failure failed", "err", merr)
		}
		out.Status = OutcomeFailed
		out.Error = err.Error()
		return out
	}

	// The call is live at the provider from here on. Bookkeeping errors are
	// logged only; the webhook metadata fallback can still correlate it.
	if err := d.repo.MarkCalling(ctx, sc.ID, assistantID, providerCallID, now); err != nil {
		log.Error("mark calling failed", "provider_call_id", providerCallID, "err", err)
	}
	started := now
	if _, err := d.repo.InsertCallLog(ctx, calls.CallLog{
		ScheduledCallID: sc.ID,
		UserID:          sc.UserID,
		ProviderCallID:  providerCallID,
		PhoneNumber:     sc.PhoneNumber,
		CoachSlug:       sc.CoachSlug,
		Status:          calls.LogStatusInProgress,
		StartedAt:       &started,
		CreatedAt:       now,
	}); err != nil {
		log.Error("insert call log failed", "provider_call_id", providerCallID, "err", err)
	}

	log.Info("call initiated", "provider_call_id", providerCallID)
	out.Status = OutcomeSuccess
	out.ProviderCallID = providerCallID
	return out
}

var (
	errMissingCoach    = errors.New("coach profile not found")
	errMissingActivity = errors.New("daily activity not found")
)

// place creates the assistant and the outbound call.
func (d *Dispatcher) place(ctx context.Context, dc DueCall) (providerCallID, assistantID string, err error) {
	if dc.Coach == nil {
		return "", "", errMissingCoach
	}
	if dc.Activity == nil {
		return "", "", errMissingActivity
	}
	sc := dc.Call

	flavor, _ := PickFlavor(sc.CoachSlug, sc.UserID, flavorDate(sc, d.clock()))
	prompt := ComposePrompt(*dc.Coach, *dc.Activity, flavor)
	req := BuildAssistantRequest(d.opts.Assistant, *dc.Coach, prompt)

	assistant, err := d.provider.CreateAssistant(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("assistant creation failed: %w", err)
	}

	call, err := d.provider.CreatePhoneCall(ctx, telephony.PhoneCallRequest{
		AssistantID:    assistant.ID,
		CustomerNumber: sc.PhoneNumber,
		Metadata: telephony.CallMetadata{
			ScheduledCallID: sc.ID,
			UserID:          sc.UserID,
			DailyActivityID: sc.DailyActivityID,
			CoachSlug:       sc.CoachSlug,
			ActivityTitle:   dc.Activity.Title,
		},
	})
	if err != nil {
		return "", assistant.ID, fmt.Errorf("call initiation failed: %w", err)
	}
	return call.ID, assistant.ID, nil
}

// flavorDate is the call's own local date, so retries keep the same flavor.
func flavorDate(sc calls.ScheduledCall, now time.Time) string {
	if sc.ScheduledDate != "" {
		return sc.ScheduledDate
	}
	return now.In(coaching.ResolveLocation(sc.Timezone)).Format(coaching.DateLayout)
}
