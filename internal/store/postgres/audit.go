package postgres

import (
	"context"
	"database/sql"

	"servicecenter-platform/internal/audit"
)

// AuditRepo implements audit.Repository. Insert-only; the table carries no
// update or delete path.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Append(ctx context.Context, e audit.Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, case_id, agent_session_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type),
		nullStr(e.ActorUserID), nullStr(e.ActorRole), nullStr(e.IPAddress),
		nullStr(e.CaseID), nullStr(e.AgentSessionID),
		nullStr(e.Message), nullStr(e.Metadata),
		e.CreatedAt,
	)
	return err
}
