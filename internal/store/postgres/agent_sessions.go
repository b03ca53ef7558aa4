package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"servicecenter-platform/internal/agentsession"
	"servicecenter-platform/pkg/utils"
)

// AgentSessionRepo implements agentsession.Repository.
//
// ReplaceCurrentLog and EndSession lock the session row first, so the
// soft-delete-then-insert pair is serialized per session even without the
// service-level exclusive lock.
type AgentSessionRepo struct {
	db *sql.DB
}

func NewAgentSessionRepo(db *sql.DB) *AgentSessionRepo {
	return &AgentSessionRepo{db: db}
}

func (r *AgentSessionRepo) InsertSession(ctx context.Context, s agentsession.AgentSession) error {
	groups, err := json.Marshal(s.WorkGroups)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO agent_sessions (id, user_id, phone_device_id, automatically_assign_case, priority, work_groups, created_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	_, err = r.db.ExecContext(ctx, q,
		s.ID, s.UserID, s.PhoneDeviceID,
		s.AutomaticallyAssignCase, nullInt(s.Priority), groups,
		s.CreatedAt, nullTime(s.EndedAt),
	)
	return err
}

func (r *AgentSessionRepo) GetSession(ctx context.Context, sessionID string) (agentsession.AgentSession, error) {
	const q = `
SELECT id, user_id, phone_device_id, automatically_assign_case, priority, work_groups, created_at, ended_at
FROM agent_sessions
WHERE id = $1
`
	return scanSession(r.db.QueryRowContext(ctx, q, sessionID))
}

func (r *AgentSessionRepo) UpdateSession(ctx context.Context, s agentsession.AgentSession) error {
	groups, err := json.Marshal(s.WorkGroups)
	if err != nil {
		return err
	}
	const q = `
UPDATE agent_sessions
SET automatically_assign_case = $2, priority = $3, work_groups = $4, ended_at = $5
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		s.ID, s.AutomaticallyAssignCase, nullInt(s.Priority), groups, nullTime(s.EndedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return agentsession.ErrNotFound
	}
	return nil
}

func (r *AgentSessionRepo) EndSession(ctx context.Context, sessionID string) error {
	return utils.WithTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		var endedAt sql.NullTime
		err := tx.QueryRowContext(ctx,
			`SELECT ended_at FROM agent_sessions WHERE id = $1 FOR UPDATE`,
			sessionID,
		).Scan(&endedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return agentsession.ErrNotFound
		}
		if err != nil {
			return err
		}
		if endedAt.Valid {
			return agentsession.ErrSessionEnded
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_sessions SET ended_at = $2 WHERE id = $1`,
			sessionID, now,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE agent_session_log SET deleted_at = $2 WHERE session_id = $1 AND deleted_at IS NULL`,
			sessionID, now,
		)
		return err
	})
}

func (r *AgentSessionRepo) CurrentLog(ctx context.Context, sessionID string) (agentsession.LogEntry, bool, error) {
	const q = `
SELECT id, session_id, status, case_id, telephony_session_id, created_at, deleted_at
FROM agent_session_log
WHERE session_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT 1
`
	return scanLogEntry(r.db.QueryRowContext(ctx, q, sessionID))
}

func (r *AgentSessionRepo) ReplaceCurrentLog(ctx context.Context, sessionID string, next agentsession.LogEntry) error {
	return utils.WithTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM agent_sessions WHERE id = $1 FOR UPDATE`,
			sessionID,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return agentsession.ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_session_log SET deleted_at = $2 WHERE session_id = $1 AND deleted_at IS NULL`,
			sessionID, time.Now().UTC(),
		); err != nil {
			return err
		}
		const ins = `
INSERT INTO agent_session_log (id, session_id, status, case_id, telephony_session_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
		_, err = tx.ExecContext(ctx, ins,
			next.ID, next.SessionID, string(next.Status),
			nullStr(next.CaseID), nullStr(next.TelephonySessionID),
			next.CreatedAt,
		)
		return err
	})
}

func (r *AgentSessionRepo) CurrentLogForCase(ctx context.Context, caseID string) (agentsession.LogEntry, bool, error) {
	const q = `
SELECT id, session_id, status, case_id, telephony_session_id, created_at, deleted_at
FROM agent_session_log
WHERE case_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT 1
`
	return scanLogEntry(r.db.QueryRowContext(ctx, q, caseID))
}

func (r *AgentSessionRepo) ListOpenSessions(ctx context.Context) ([]agentsession.AgentSession, error) {
	const q = `
SELECT id, user_id, phone_device_id, automatically_assign_case, priority, work_groups, created_at, ended_at
FROM agent_sessions
WHERE ended_at IS NULL
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []agentsession.AgentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (agentsession.AgentSession, error) {
	var (
		s        agentsession.AgentSession
		priority sql.NullInt64
		groups   []byte
		endedAt  sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.PhoneDeviceID,
		&s.AutomaticallyAssignCase, &priority, &groups,
		&s.CreatedAt, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return agentsession.AgentSession{}, agentsession.ErrNotFound
	}
	if err != nil {
		return agentsession.AgentSession{}, err
	}
	if err := json.Unmarshal(groups, &s.WorkGroups); err != nil {
		return agentsession.AgentSession{}, err
	}
	s.Priority = intOf(priority)
	s.EndedAt = timeOf(endedAt)
	return s, nil
}

func scanLogEntry(row rowScanner) (agentsession.LogEntry, bool, error) {
	var (
		e         agentsession.LogEntry
		status    string
		caseID    sql.NullString
		telSess   sql.NullString
		deletedAt sql.NullTime
	)
	err := row.Scan(&e.ID, &e.SessionID, &status, &caseID, &telSess, &e.CreatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return agentsession.LogEntry{}, false, nil
	}
	if err != nil {
		return agentsession.LogEntry{}, false, err
	}
	e.Status = agentsession.Status(status)
	e.CaseID = strOf(caseID)
	e.TelephonySessionID = strOf(telSess)
	e.DeletedAt = timeOf(deletedAt)
	return e, true, nil
}
