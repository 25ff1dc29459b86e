package telephony

import (
	"errors"
	"testing"
)

func TestParseEnvelope_CallEnded(t *testing.T) {
	body := []byte(`{
		"event": "call.ended",
		"call": {
			"id": "call_1",
			"duration": 184.6,
			"transcript": "hi",
			"summary": "went well",
			"cost": 0.125,
			"endedReason": "customer-ended-call",
			"metadata": {"scheduled_call_id": "sc1", "user_id": "u1"},
			"messages": [
				{"role": "assistant", "message": "hello"},
				{"role": "function_call", "function_call": {"name": "record_commitment", "arguments": "{\"commitment\":\"20 pushups\"}"}},
				{"role": "function_call", "function_call": {"name": "record_commitment", "arguments": {"confidence": 8}}}
			]
		}
	}`)

	env, err := ParseEnvelope(body)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if env.Event != EventCallEnded || env.CallID() != "call_1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Call.DurationSeconds() != 185 {
		t.Fatalf("expected rounded duration, got %d", env.Call.DurationSeconds())
	}
	if env.Call.CostCents() != 13 {
		t.Fatalf("expected 13 cents, got %d", env.Call.CostCents())
	}
	if env.Call.ScheduledCallID() != "sc1" {
		t.Fatalf("expected metadata scheduled_call_id")
	}
	if len(env.Call.Messages) != 3 || env.Call.Messages[0].FunctionCall != nil {
		t.Fatalf("unexpected messages: %+v", env.Call.Messages)
	}
	if got := string(env.Call.Messages[1].FunctionCall.ArgumentsJSON()); got != `{"commitment":"20 pushups"}` {
		t.Fatalf("unexpected string arguments: %s", got)
	}
	if got := string(env.Call.Messages[2].FunctionCall.ArgumentsJSON()); got != `{"confidence": 8}` {
		t.Fatalf("unexpected object arguments: %s", got)
	}
}

func TestParseEnvelope_UnknownEventStillParses(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"speech-update","status":"started"}`))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if env.Event != "speech-update" || env.CallID() != "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestParseEnvelope_RejectsNonObject(t *testing.T) {
	for _, body := range []string{``, `not json`, `[1,2]`, `{"event": 5}`} {
		if _, err := ParseEnvelope([]byte(body)); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("body %q: expected ErrInvalidPayload, got %v", body, err)
		}
	}
}

func TestCallPayload_ScheduledCallIDToleratesBadMetadata(t *testing.T) {
	cases := []string{``, `"str"`, `{"scheduled_call_id": 42}`}
	for _, m := range cases {
		c := CallPayload{Metadata: []byte(m)}
		if c.ScheduledCallID() != "" {
			t.Fatalf("metadata %q: expected empty id", m)
		}
	}
}

func TestPeekEnvelope(t *testing.T) {
	cases := []struct {
		body   string
		event  EventType
		callID string
	}{
		{`{"event":"call.ended","call":{"id":"call-1","duration":"185"}}`, EventCallEnded, "call-1"},
		{`{"event":" call.started ","call":"oops"}`, EventCallStarted, ""},
		{`{"event":5,"call":{"id":7}}`, "", ""},
		{`{}`, "", ""},
	}
	for _, tc := range cases {
		event, callID, err := PeekEnvelope([]byte(tc.body))
		if err != nil {
			t.Fatalf("body %s: unexpected err: %v", tc.body, err)
		}
		if event != tc.event || callID != tc.callID {
			t.Fatalf("body %s: got (%q, %q)", tc.body, event, callID)
		}
	}
	for _, body := range []string{``, `not json`, `[1,2]`} {
		if _, _, err := PeekEnvelope([]byte(body)); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("body %q: expected ErrInvalidPayload, got %v", body, err)
		}
	}
}
