// Package postgres persists the service-center core in PostgreSQL via
// database/sql and the pgx stdlib driver.
//
// NOTE: This store assumes the following tables exist:
// - agent_sessions
// - agent_session_log (append-only, superseded rows soft-deleted)
// - cases
// - case_entries      (append-only, superseded rows soft-deleted)
// - case_queue        (one row per queued case; UNIQUE (case_id))
// - telephony_events  (immutable append-only)
// - audit_events      (immutable append-only)
package postgres

import (
	"database/sql"
	"time"
)

// Store bundles the repository implementations over one connection pool.
type Store struct {
	AgentSessions *AgentSessionRepo
	Cases         *CaseRepo
	Events        *EventLog
	Audit         *AuditRepo
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		AgentSessions: &AgentSessionRepo{db: db},
		Cases:         &CaseRepo{db: db},
		Events:        &EventLog{db: db},
		Audit:         &AuditRepo{db: db},
	}
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func strOf(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timeOf(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intOf(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}
