package audit

import (
	"encoding/json"
	"time"
)

// Event is an immutable, append-only record of an operator action taken
// through the admin or job endpoints.
//
// Invariants:
// - Events are never updated or deleted.
// - Type and ActorSubject are required.
// - Recording is best-effort; callers never fail a request on audit errors.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorSubject and ActorRole come from the verified service token.
	ActorSubject string `json:"actor_subject" db:"actor_subject"`
	ActorRole    string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress    string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers (optional, depending on the event type).
	UserID   string `json:"user_id,omitempty" db:"user_id"`
	TargetID string `json:"target_id,omitempty" db:"target_id"`

	Message  string          `json:"message,omitempty" db:"message"`
	Metadata json.RawMessage `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTokenIssued        EventType = "token_issued"
	EventPlanSaved          EventType = "plan_saved"
	EventPreferencesUpdated EventType = "call_preferences_updated"
	EventActivityCompleted  EventType = "activity_completed"
	EventJobTriggered       EventType = "job_triggered"
)
