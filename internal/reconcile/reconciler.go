package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/streaks"
	"github.com/pablodelmoral/gritoncall/internal/telephony"
)

const webhookSource = "vapi"

// Repository is the persistence needed by the reconciler. Every write is
// keyed by scheduled call id and writes absolute target state.
type Repository interface {
	InsertWebhookEvent(ctx context.Context, e calls.WebhookEvent) (calls.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, eventID string, at time.Time) error

	// FindByProviderCallID and GetScheduledCall return calls.ErrNotFound on no match.
	FindByProviderCallID(ctx context.Context, providerCallID string) (calls.ScheduledCall, error)
	GetScheduledCall(ctx context.Context, id string) (calls.ScheduledCall, error)
	AttachProviderCall(ctx context.Context, id, providerCallID string) error

	// MarkStarted moves pending/calling rows to calling and sets
	// call_started_at only when unset. Terminal rows are left alone.
	MarkStarted(ctx context.Context, id string, at time.Time) error
	// MarkEnded sets status completed, clears retry_after, and merges the
	// commitment over any fields already stored. It returns the updated row.
	MarkEnded(ctx context.Context, id string, end calls.CallEnd) (calls.ScheduledCall, error)
	// MarkFailed applies f unless the row is already failed or its attempt
	// number moved on, in which case it returns calls.ErrStaleUpdate.
	MarkFailed(ctx context.Context, id string, f calls.Failure) error
	SaveCommitment(ctx context.Context, id string, c calls.Commitment, at time.Time) error

	UpdateCallLog(ctx context.Context, providerCallID string, u calls.CallLogUpdate) error
}

// OutcomeApplier is the Streak/Activity Updater.
type OutcomeApplier interface {
	Apply(ctx context.Context, sc calls.ScheduledCall) (streaks.Result, error)
}

type Result struct {
	EventID         string              `json:"event_id"`
	Event           telephony.EventType `json:"event"`
	ProviderCallID  string              `json:"provider_call_id,omitempty"`
	ScheduledCallID string              `json:"scheduled_call_id,omitempty"`
	Handled         bool                `json:"handled"`
}

// Reconciler consumes provider lifecycle webhooks.
type Reconciler struct {
	repo       Repository
	outcomes   OutcomeApplier
	retryDelay time.Duration
	log        *slog.Logger
	clock      func() time.Time
}

func NewReconciler(repo Repository, outcomes OutcomeApplier, retryDelay time.Duration, log *slog.Logger) *Reconciler {
	if retryDelay <= 0 {
		retryDelay = calls.DefaultRetryDelay
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{repo: repo, outcomes: outcomes, retryDelay: retryDelay, log: log, clock: time.Now}
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Handle records the raw event and applies its state transition.
// Only a body that is not a JSON object, or cannot be recorded, is returned
// as an error; payloads with mistyped fields and handler failures are logged.
func (r *Reconciler) Handle(ctx context.Context, body []byte, headers map[string]string) (Result, error) {
	event, callID, err := telephony.PeekEnvelope(body)
	if err != nil {
		return Result{}, err
	}
	now := r.clock().UTC()
	log := r.log.With("event", string(event), "provider_call_id", callID)

	ev, err := r.repo.InsertWebhookEvent(ctx, calls.WebhookEvent{
		EventType:      string(event),
		Source:         webhookSource,
		ProviderCallID: callID,
		Payload:        json.RawMessage(body),
		Headers:        headers,
		CreatedAt:      now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("reconcile: record webhook event: %w", err)
	}
	res := Result{EventID: ev.ID, Event: event, ProviderCallID: callID}

	env, err := telephony.ParseEnvelope(body)
	if err != nil {
		log.Error("webhook payload not applied", "event_id", ev.ID, "err", err)
		r.markProcessed(ctx, ev.ID, log)
		return res, nil
	}

	sc, found := r.resolve(ctx, env, log)
	if found {
		res.ScheduledCallID = sc.ID
		log = log.With("scheduled_call_id", sc.ID, "user_id", sc.UserID)
	} else {
		log.Warn("no scheduled call found for webhook")
	}

	switch env.Event {
	case telephony.EventCallStarted:
		err = r.handleStarted(ctx, env, sc, found, now)
	case telephony.EventCallEnded:
		err = r.handleEnded(ctx, env, sc, found, now, log)
	case telephony.EventCallFailed:
		err = r.handleFailed(ctx, env, body, sc, found, now, log)
	case telephony.EventFunctionCall:
		err = r.handleFunctionCall(ctx, env, sc, found, now, log)
	default:
		log.Info("unhandled webhook event type")
	}
	if err != nil {
		log.Error("webhook handling failed", "err", err)
	} else {
		res.Handled = found && isModeled(env.Event)
	}

	r.markProcessed(ctx, ev.ID, log)
	return res, nil
}

func (r *Reconciler) markProcessed(ctx context.Context, eventID string, log *slog.Logger) {
	if err := r.repo.MarkWebhookProcessed(ctx, eventID, r.clock().UTC()); err != nil {
		log.Error("mark webhook processed failed", "event_id", eventID, "err", err)
	}
}

func isModeled(t telephony.EventType) bool {
	switch t {
	case telephony.EventCallStarted, telephony.EventCallEnded, telephony.EventCallFailed, telephony.EventFunctionCall:
		return true
	default:
		return false
	}
}

// resolve finds the scheduled call by provider call id, then falls back to
// metadata.scheduled_call_id and attaches the provider id to that row.
func (r *Reconciler) resolve(ctx context.Context, env telephony.Envelope, log *slog.Logger) (calls.ScheduledCall, bool) {
	callID := env.CallID()
	if callID != "" {
		sc, err := r.repo.FindByProviderCallID(ctx, callID)
		if err == nil {
			return sc, true
		}
		if !errors.Is(err, calls.ErrNotFound) {
			log.Error("lookup by provider call id failed", "err", err)
			return calls.ScheduledCall{}, false
		}
	}
	if env.Call == nil {
		return calls.ScheduledCall{}, false
	}

	id := env.Call.ScheduledCallID()
	if id == "" {
		return calls.ScheduledCall{}, false
	}
	sc, err := r.repo.GetScheduledCall(ctx, id)
	if err != nil {
		if !errors.Is(err, calls.ErrNotFound) {
			log.Error("lookup by metadata failed", "metadata_scheduled_call_id", id, "err", err)
		}
		return calls.ScheduledCall{}, false
	}
	if callID == "" {
		return sc, true
	}
	if sc.ProviderCallID != "" && sc.ProviderCallID != callID {
		// The row has moved on to another attempt.
		log.Warn("metadata points at a row owned by another provider call", "metadata_scheduled_call_id", id, "row_provider_call_id", sc.ProviderCallID)
		return calls.ScheduledCall{}, false
	}
	if sc.ProviderCallID == "" {
		if err := r.repo.AttachProviderCall(ctx, sc.ID, callID); err != nil {
			log.Error("attach provider call failed", "err", err)
		} else {
			sc.ProviderCallID = callID
		}
	}
	return sc, true
}

func (r *Reconciler) handleStarted(ctx context.Context, env telephony.Envelope, sc calls.ScheduledCall, found bool, now time.Time) error {
	var errs []error
	if found {
		if err := r.repo.MarkStarted(ctx, sc.ID, now); err != nil {
			errs = append(errs, fmt.Errorf("mark started: %w", err))
		}
	}
	if id := env.CallID(); id != "" {
		if err := r.repo.UpdateCallLog(ctx, id, calls.CallLogUpdate{Status: calls.LogStatusInProgress, StartedAt: &now}); err != nil {
			errs = append(errs, fmt.Errorf("update call log: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) handleEnded(ctx context.Context, env telephony.Envelope, sc calls.ScheduledCall, found bool, now time.Time, log *slog.Logger) error {
	if env.Call == nil {
		return errors.New("call.ended without call payload")
	}
	call := env.Call
	extracted := ExtractCommitment(call.Messages)
	commitment := extracted

	var errs []error
	if found {
		updated, err := r.repo.MarkEnded(ctx, sc.ID, calls.CallEnd{
			At:              now,
			DurationSeconds: call.DurationSeconds(),
			Transcript:      nonEmpty(call.Transcript),
			Summary:         nonEmpty(call.Summary),
			Commitment:      extracted,
		})
		if err != nil {
			return fmt.Errorf("mark ended: %w", err)
		}
		sc = updated
		commitment = updated.Commitment
	}

	duration := call.DurationSeconds()
	cost := call.CostCents()
	reason := call.EndedReason
	if call.ID != "" {
		if err := r.repo.UpdateCallLog(ctx, call.ID, calls.CallLogUpdate{
			Status:          calls.LogStatusCompleted,
			EndedAt:         &now,
			DurationSeconds: &duration,
			FullTranscript:  nonEmpty(call.Transcript),
			Summary:         nonEmpty(call.Summary),
			Commitment:      &commitment,
			CostCents:       &cost,
			EndReason:       &reason,
		}); err != nil {
			errs = append(errs, fmt.Errorf("update call log: %w", err))
		}
	}

	if found && r.outcomes != nil && sc.Commitment.CompletedToday != nil {
		res, err := r.outcomes.Apply(ctx, sc)
		if err != nil {
			errs = append(errs, fmt.Errorf("apply outcome: %w", err))
		} else if !res.Applied {
			log.Info("outcome already applied for this call")
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) handleFailed(ctx context.Context, env telephony.Envelope, body []byte, sc calls.ScheduledCall, found bool, now time.Time, log *slog.Logger) error {
	reason := "Call failed"
	if env.Call != nil && strings.TrimSpace(env.Call.EndedReason) != "" {
		reason = env.Call.EndedReason
	}

	var errs []error
	if found {
		f := sc.NextFailure(reason, now, r.retryDelay)
		if sc.Status == calls.StatusCompleted {
			// A completed call is never redialled.
			f.RetryAfter = nil
		}
		switch err := r.repo.MarkFailed(ctx, sc.ID, f); {
		case errors.Is(err, calls.ErrStaleUpdate):
			log.Info("call failure already recorded")
		case err != nil:
			errs = append(errs, fmt.Errorf("mark failed: %w", err))
		}
	}

	if id := env.CallID(); id != "" {
		if err := r.repo.UpdateCallLog(ctx, id, calls.CallLogUpdate{
			Status:       calls.LogStatusFailed,
			EndedAt:      &now,
			EndReason:    &reason,
			ErrorDetails: errorDetails(body),
		}); err != nil {
			errs = append(errs, fmt.Errorf("update call log: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) handleFunctionCall(ctx context.Context, env telephony.Envelope, sc calls.ScheduledCall, found bool, now time.Time, log *slog.Logger) error {
	if env.FunctionCall == nil || env.FunctionCall.Name != recordCommitment {
		log.Info("ignoring function call", "function", functionName(env))
		return nil
	}
	if !found {
		return nil
	}
	c := ParseCommitmentArgs(env.FunctionCall.ParametersJSON())
	if c.IsZero() {
		log.Warn("record_commitment carried no usable fields")
		return nil
	}
	if err := r.repo.SaveCommitment(ctx, sc.ID, c, now); err != nil {
		return fmt.Errorf("save commitment: %w", err)
	}
	return nil
}

func functionName(env telephony.Envelope) string {
	if env.FunctionCall == nil {
		return ""
	}
	return env.FunctionCall.Name
}

// errorDetails wraps the raw call object as {"call": ...}.
func errorDetails(body []byte) json.RawMessage {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil
	}
	call, ok := top["call"]
	if !ok {
		return nil
	}
	out, err := json.Marshal(map[string]json.RawMessage{"call": call})
	if err != nil {
		return nil
	}
	return out
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
