package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: no Update/Delete methods exist.
type Repository interface {
	AppendAuditEvent(ctx context.Context, e Event) error
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrInvalidEvent  = errors.New("audit: invalid event")
	ErrNotConfigured = errors.New("audit: repository not configured")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return ErrNotConfigured
	}
	if e.Type == "" || e.ActorSubject == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if len(e.Metadata) == 0 {
		e.Metadata = json.RawMessage(`{}`)
	}
	return s.repo.AppendAuditEvent(ctx, e)
}

// Actor identifies who performed an action.
type Actor struct {
	Subject string
	Role    string
	IP      string
}

// Record appends an event of type t on behalf of actor. metadata is marshalled
// to JSON; a nil metadata stores {}.
func (s *Service) Record(ctx context.Context, actor Actor, t EventType, userID, targetID, message string, metadata any) error {
	var raw json.RawMessage
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		raw = b
	}
	return s.Append(ctx, Event{
		Type:         t,
		ActorSubject: actor.Subject,
		ActorRole:    actor.Role,
		IPAddress:    actor.IP,
		UserID:       userID,
		TargetID:     targetID,
		Message:      message,
		Metadata:     raw,
	})
}
