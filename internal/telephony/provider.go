package telephony

import (
	"context"
	"errors"
	"fmt"
)

// VoiceProvider defines the provider-agnostic interface used by the dispatcher.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Keep request/response types provider-agnostic; the adapter owns the wire format.
type VoiceProvider interface {
	Name() string

	CreateAssistant(ctx context.Context, req AssistantRequest) (Assistant, error)
	CreatePhoneCall(ctx context.Context, req PhoneCallRequest) (PhoneCall, error)
}

// ErrProvider is wrapped by every provider failure, including *APIError.
var ErrProvider = errors.New("telephony: provider request failed")

// APIError is a non-2xx response from the provider.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telephony: %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return ErrProvider }

// AssistantRequest describes one throwaway per-call assistant.
type AssistantRequest struct {
	Name string

	// ServerURL receives lifecycle webhooks for calls placed with this assistant.
	ServerURL            string
	ServerTimeoutSeconds int

	Model        string
	Temperature  float64
	SystemPrompt string
	Functions    []FunctionContract

	Voice Voice

	FirstMessage   string
	EndCallMessage string
	EndCallPhrases []string

	MaxDurationSeconds           int
	SilenceTimeoutSeconds        int
	ResponseDelaySeconds         float64
	LLMRequestDelaySeconds       float64
	NumWordsToInterruptAssistant int
	BackgroundSound              string
}

// Voice selects the TTS voice. Model, Stability and SimilarityBoost are optional.
type Voice struct {
	Provider        string
	VoiceID         string
	Model           string
	Stability       *float64
	SimilarityBoost *float64
}

// FunctionContract is a structured-output function the assistant may call.
// Parameters is a JSON schema object.
type FunctionContract struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Assistant struct {
	ID string `json:"id"`
}

type PhoneCallRequest struct {
	AssistantID    string
	CustomerNumber string
	Metadata       CallMetadata
}

// CallMetadata travels with the call and comes back on every webhook.
type CallMetadata struct {
	ScheduledCallID string `json:"scheduled_call_id"`
	UserID          string `json:"user_id"`
	DailyActivityID string `json:"daily_activity_id"`
	CoachSlug       string `json:"coach_slug"`
	ActivityTitle   string `json:"activity_title"`
}

type PhoneCall struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}
