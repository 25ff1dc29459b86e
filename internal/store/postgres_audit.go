package store

import (
	"context"
	"fmt"

	"github.com/pablodelmoral/gritoncall/internal/audit"
)

var _ audit.Repository = (*Postgres)(nil)

func (p *Postgres) AppendAuditEvent(ctx context.Context, e audit.Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, actor_subject, actor_role, ip_address, user_id, target_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Type), e.ActorSubject, e.ActorRole, e.IPAddress, e.UserID, e.TargetID, e.Message, jsonArg(e.Metadata), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
