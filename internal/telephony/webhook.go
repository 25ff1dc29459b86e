package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// EventType is the provider webhook event name.
type EventType string

const (
	EventCallStarted  EventType = "call.started"
	EventCallEnded    EventType = "call.ended"
	EventCallFailed   EventType = "call.failed"
	EventFunctionCall EventType = "function-call"
)

var ErrInvalidPayload = errors.New("telephony: invalid webhook payload")

// Envelope is the provider webhook body: {event, call, functionCall}.
// Unknown fields are ignored so new provider event shapes still parse.
type Envelope struct {
	Event        EventType            `json:"event"`
	Call         *CallPayload         `json:"call,omitempty"`
	FunctionCall *FunctionCallPayload `json:"functionCall,omitempty"`
}

// CallID returns the provider call id, or "" when the envelope carries no call.
func (e Envelope) CallID() string {
	if e.Call == nil {
		return ""
	}
	return e.Call.ID
}

type CallPayload struct {
	ID          string          `json:"id"`
	Duration    float64         `json:"duration"`
	Transcript  string          `json:"transcript"`
	Summary     string          `json:"summary"`
	Messages    []Message       `json:"messages"`
	Cost        float64         `json:"cost"`
	EndedReason string          `json:"endedReason"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// DurationSeconds rounds the reported duration to whole seconds.
func (c CallPayload) DurationSeconds() int {
	if c.Duration <= 0 {
		return 0
	}
	return int(math.Round(c.Duration))
}

// CostCents converts the provider's dollar cost to cents.
func (c CallPayload) CostCents() int64 {
	return int64(math.Round(c.Cost * 100))
}

// ScheduledCallID reads metadata.scheduled_call_id, tolerating absent or
// oddly typed metadata.
func (c CallPayload) ScheduledCallID() string {
	if len(c.Metadata) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(c.Metadata, &m); err != nil {
		return ""
	}
	id, _ := m["scheduled_call_id"].(string)
	return strings.TrimSpace(id)
}

// Message is one entry of the call's message list. Only function calls are modeled.
type Message struct {
	Role         string               `json:"role"`
	FunctionCall *FunctionCallMessage `json:"function_call,omitempty"`
}

// FunctionCallMessage carries the arguments either as a JSON-encoded string or
// as an inline object, depending on the provider version.
type FunctionCallMessage struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsJSON returns the arguments as raw JSON object bytes.
func (f FunctionCallMessage) ArgumentsJSON() []byte {
	return unquoteJSON(f.Arguments)
}

// FunctionCallPayload is the live function-call event body.
type FunctionCallPayload struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

// ParametersJSON returns the parameters as raw JSON object bytes.
func (f FunctionCallPayload) ParametersJSON() []byte {
	return unquoteJSON(f.Parameters)
}

// unquoteJSON unwraps a JSON string holding encoded JSON.
func unquoteJSON(raw json.RawMessage) []byte {
	b := []byte(strings.TrimSpace(string(raw)))
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		return []byte(s)
	}
	return b
}

// PeekEnvelope reads only the event name and call id from a webhook body.
// It fails only when the body is not a JSON object; fields of the wrong type
// read as empty.
func PeekEnvelope(body []byte) (EventType, string, error) {
	var raw struct {
		Event json.RawMessage            `json:"event"`
		Call  map[string]json.RawMessage `json:"call"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		var top map[string]json.RawMessage
		if err := json.Unmarshal(body, &top); err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		raw.Event = top["event"]
	}
	return EventType(strings.TrimSpace(rawString(raw.Event))), strings.TrimSpace(rawString(raw.Call["id"])), nil
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// ParseEnvelope decodes a webhook body. Only a body that is not a JSON object
// (or has wrongly typed envelope fields) is rejected.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	env.Event = EventType(strings.TrimSpace(string(env.Event)))
	return env, nil
}
