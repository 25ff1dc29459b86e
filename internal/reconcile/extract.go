package reconcile

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pablodelmoral/gritoncall/internal/calls"
	"github.com/pablodelmoral/gritoncall/internal/telephony"
)

const recordCommitment = "record_commitment"

// ExtractCommitment scans a call's messages for record_commitment function
// calls. Later calls override the fields they report; malformed arguments
// contribute nothing.
func ExtractCommitment(msgs []telephony.Message) calls.Commitment {
	var out calls.Commitment
	for _, m := range msgs {
		if m.Role != "function_call" || m.FunctionCall == nil || m.FunctionCall.Name != recordCommitment {
			continue
		}
		out = ParseCommitmentArgs(m.FunctionCall.ArgumentsJSON()).Over(out)
	}
	return out
}

// ParseCommitmentArgs decodes record_commitment arguments field by field.
// A field that is missing or has the wrong shape is left nil.
func ParseCommitmentArgs(raw []byte) calls.Commitment {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return calls.Commitment{}
	}
	return calls.Commitment{
		Commitment:     stringField(fields["commitment"]),
		Confidence:     confidenceField(fields["confidence"]),
		CompletedToday: boolField(fields["completed_today"]),
	}
}

func stringField(raw json.RawMessage) *string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// confidenceField accepts an integral number or a numeric string within 1..10.
func confidenceField(raw json.RawMessage) *int {
	var f float64
	if json.Unmarshal(raw, &f) != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		f = n
	}
	if f != math.Trunc(f) || f < 1 || f > 10 {
		return nil
	}
	n := int(f)
	return &n
}

func boolField(raw json.RawMessage) *bool {
	if isNull(raw) {
		return nil
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return &b
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &v
}

func isNull(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	return v == "" || v == "null"
}
