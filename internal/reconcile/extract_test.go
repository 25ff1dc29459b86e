package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/pablodelmoral/gritoncall/internal/telephony"
)

func TestParseCommitmentArgs(t *testing.T) {
	cases := []struct {
		name       string
		raw        string
		commitment string
		confidence int
		completed  string
	}{
		{name: "full", raw: `{"commitment":" Run 3km ","confidence":8,"completed_today":true}`, commitment: "Run 3km", confidence: 8, completed: "true"},
		{name: "string numbers and bools", raw: `{"confidence":"6","completed_today":"false"}`, confidence: 6, completed: "false"},
		{name: "confidence out of range", raw: `{"confidence":11}`},
		{name: "fractional confidence", raw: `{"confidence":7.5}`},
		{name: "wrong shapes", raw: `{"commitment":5,"confidence":[1],"completed_today":"maybe"}`},
		{name: "nulls", raw: `{"commitment":null,"confidence":null,"completed_today":null}`},
		{name: "malformed", raw: `{"commitment":`},
		{name: "not an object", raw: `[1,2]`},
		{name: "empty", raw: ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseCommitmentArgs([]byte(tc.raw))
			if tc.commitment == "" && got.Commitment != nil {
				t.Fatalf("expected nil commitment, got %q", *got.Commitment)
			}
			if tc.commitment != "" && (got.Commitment == nil || *got.Commitment != tc.commitment) {
				t.Fatalf("commitment = %v, want %q", got.Commitment, tc.commitment)
			}
			if tc.confidence == 0 && got.Confidence != nil {
				t.Fatalf("expected nil confidence, got %d", *got.Confidence)
			}
			if tc.confidence != 0 && (got.Confidence == nil || *got.Confidence != tc.confidence) {
				t.Fatalf("confidence = %v, want %d", got.Confidence, tc.confidence)
			}
			switch tc.completed {
			case "":
				if got.CompletedToday != nil {
					t.Fatalf("expected nil completed_today, got %v", *got.CompletedToday)
				}
			default:
				if got.CompletedToday == nil || *got.CompletedToday != (tc.completed == "true") {
					t.Fatalf("completed_today = %v, want %s", got.CompletedToday, tc.completed)
				}
			}
		})
	}
}

func TestExtractCommitment_LaterCallsOverrideReportedFields(t *testing.T) {
	msgs := []telephony.Message{
		{Role: "function_call", FunctionCall: &telephony.FunctionCallMessage{Name: recordCommitment, Arguments: json.RawMessage(`"{\"commitment\":\"Walk\",\"confidence\":5}"`)}},
		{Role: "function_call", FunctionCall: &telephony.FunctionCallMessage{Name: "other_fn", Arguments: json.RawMessage(`{"confidence":1}`)}},
		{Role: "assistant"},
		{Role: "function_call", FunctionCall: &telephony.FunctionCallMessage{Name: recordCommitment, Arguments: json.RawMessage(`{"confidence":9,"completed_today":true}`)}},
		{Role: "function_call", FunctionCall: &telephony.FunctionCallMessage{Name: recordCommitment, Arguments: json.RawMessage(`"{broken"`)}},
	}
	got := ExtractCommitment(msgs)
	if got.Commitment == nil || *got.Commitment != "Walk" {
		t.Fatalf("commitment = %v", got.Commitment)
	}
	if got.Confidence == nil || *got.Confidence != 9 {
		t.Fatalf("confidence = %v", got.Confidence)
	}
	if got.CompletedToday == nil || !*got.CompletedToday {
		t.Fatalf("completed_today = %v", got.CompletedToday)
	}
}

func TestExtractCommitment_NoFunctionCalls(t *testing.T) {
	if got := ExtractCommitment([]telephony.Message{{Role: "user"}}); !got.IsZero() {
		t.Fatalf("expected zero commitment, got %+v", got)
	}
}
