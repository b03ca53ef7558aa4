package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"servicecenter-platform/internal/cases"
	"servicecenter-platform/pkg/utils"
)

// CaseRepo implements cases.Repository.
type CaseRepo struct {
	db *sql.DB
}

func NewCaseRepo(db *sql.DB) *CaseRepo {
	return &CaseRepo{db: db}
}

func (r *CaseRepo) InsertCase(ctx context.Context, c cases.Case) error {
	const q = `
INSERT INTO cases (id, source, started_at, closed_at, result_lead_id, result_appointment_id, garbage_reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	_, err := r.db.ExecContext(ctx, q,
		c.ID, string(c.Source),
		nullTime(c.StartedAt), nullTime(c.ClosedAt),
		nullStr(c.ResultLeadID), nullStr(c.ResultAppointmentID), nullStr(c.GarbageReason),
		c.CreatedAt,
	)
	return err
}

func (r *CaseRepo) GetCase(ctx context.Context, caseID string) (cases.Case, error) {
	const q = `
SELECT id, source, started_at, closed_at, result_lead_id, result_appointment_id, garbage_reason, created_at
FROM cases
WHERE id = $1
`
	return scanCase(r.db.QueryRowContext(ctx, q, caseID))
}

func (r *CaseRepo) UpdateCase(ctx context.Context, c cases.Case) error {
	const q = `
UPDATE cases
SET started_at = $2, closed_at = $3, result_lead_id = $4, result_appointment_id = $5, garbage_reason = $6
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID,
		nullTime(c.StartedAt), nullTime(c.ClosedAt),
		nullStr(c.ResultLeadID), nullStr(c.ResultAppointmentID), nullStr(c.GarbageReason),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return cases.ErrNotFound
	}
	return nil
}

func (r *CaseRepo) CurrentEntry(ctx context.Context, caseID string) (cases.Entry, bool, error) {
	const q = `
SELECT id, case_id, case_type, work_group, telephony_session_id, assigned_agent_session_id, created_at, deleted_at
FROM case_entries
WHERE case_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT 1
`
	return scanEntry(r.db.QueryRowContext(ctx, q, caseID))
}

func (r *CaseRepo) ReplaceCurrentEntry(ctx context.Context, caseID string, next cases.Entry) error {
	return utils.WithTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM cases WHERE id = $1 FOR UPDATE`,
			caseID,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return cases.ErrNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE case_entries SET deleted_at = $2 WHERE case_id = $1 AND deleted_at IS NULL`,
			caseID, time.Now().UTC(),
		); err != nil {
			return err
		}
		const ins = `
INSERT INTO case_entries (id, case_id, case_type, work_group, telephony_session_id, assigned_agent_session_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
		_, err = tx.ExecContext(ctx, ins,
			next.ID, next.CaseID, next.CaseType, next.WorkGroup,
			nullStr(next.TelephonySessionID), nullStr(next.AssignedAgentSessionID),
			next.CreatedAt,
		)
		return err
	})
}

func (r *CaseRepo) WasEverAssigned(ctx context.Context, caseID, sessionID string) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM case_entries
	WHERE case_id = $1 AND assigned_agent_session_id = $2
)
`
	var held bool
	if err := r.db.QueryRowContext(ctx, q, caseID, sessionID).Scan(&held); err != nil {
		return false, err
	}
	return held, nil
}

func (r *CaseRepo) Enqueue(ctx context.Context, q cases.QueueEntry) error {
	const ins = `
INSERT INTO case_queue (id, case_id, priority, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (case_id) DO NOTHING
`
	_, err := r.db.ExecContext(ctx, ins, q.ID, q.CaseID, nullInt(q.Priority), q.CreatedAt)
	return err
}

func (r *CaseRepo) Dequeue(ctx context.Context, caseID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM case_queue WHERE case_id = $1`, caseID)
	return err
}

func (r *CaseRepo) IsQueued(ctx context.Context, caseID string) (bool, error) {
	var queued bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM case_queue WHERE case_id = $1)`,
		caseID,
	).Scan(&queued)
	return queued, err
}

func (r *CaseRepo) ListQueue(ctx context.Context) ([]cases.QueueEntry, error) {
	const q = `
SELECT id, case_id, priority, created_at
FROM case_queue
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cases.QueueEntry
	for rows.Next() {
		var (
			qe       cases.QueueEntry
			priority sql.NullInt64
		)
		if err := rows.Scan(&qe.ID, &qe.CaseID, &priority, &qe.CreatedAt); err != nil {
			return nil, err
		}
		qe.Priority = intOf(priority)
		out = append(out, qe)
	}
	return out, rows.Err()
}

func (r *CaseRepo) AssignedOpenCaseIDs(ctx context.Context, sessionID string) ([]string, error) {
	const q = `
SELECT e.case_id
FROM case_entries e
JOIN cases c ON c.id = e.case_id
WHERE e.assigned_agent_session_id = $1 AND e.deleted_at IS NULL AND c.closed_at IS NULL
ORDER BY e.created_at
`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *CaseRepo) ListOpenAssignedCases(ctx context.Context) ([]cases.Case, error) {
	const q = `
SELECT c.id, c.source, c.started_at, c.closed_at, c.result_lead_id, c.result_appointment_id, c.garbage_reason, c.created_at
FROM cases c
JOIN case_entries e ON e.case_id = c.id
WHERE e.deleted_at IS NULL AND e.assigned_agent_session_id IS NOT NULL AND c.closed_at IS NULL
ORDER BY c.created_at
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cases.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCase(row rowScanner) (cases.Case, error) {
	var (
		c         cases.Case
		source    string
		startedAt sql.NullTime
		closedAt  sql.NullTime
		leadID    sql.NullString
		apptID    sql.NullString
		garbage   sql.NullString
	)
	err := row.Scan(&c.ID, &source, &startedAt, &closedAt, &leadID, &apptID, &garbage, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cases.Case{}, cases.ErrNotFound
	}
	if err != nil {
		return cases.Case{}, err
	}
	c.Source = cases.Source(source)
	c.StartedAt = timeOf(startedAt)
	c.ClosedAt = timeOf(closedAt)
	c.ResultLeadID = strOf(leadID)
	c.ResultAppointmentID = strOf(apptID)
	c.GarbageReason = strOf(garbage)
	return c, nil
}

func scanEntry(row rowScanner) (cases.Entry, bool, error) {
	var (
		e         cases.Entry
		telSess   sql.NullString
		sessionID sql.NullString
		deletedAt sql.NullTime
	)
	err := row.Scan(&e.ID, &e.CaseID, &e.CaseType, &e.WorkGroup, &telSess, &sessionID, &e.CreatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cases.Entry{}, false, nil
	}
	if err != nil {
		return cases.Entry{}, false, err
	}
	e.TelephonySessionID = strOf(telSess)
	e.AssignedAgentSessionID = strOf(sessionID)
	e.DeletedAt = timeOf(deletedAt)
	return e, true, nil
}
