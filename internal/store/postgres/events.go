package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"servicecenter-platform/internal/telephony"
)

// EventLog stores telephony events as jsonb payloads under a serial id,
// so the per-session total order is the insertion order. Events are never
// updated or deleted.
type EventLog struct {
	db *sql.DB
}

func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db}
}

func (l *EventLog) Append(ctx context.Context, ev telephony.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO telephony_events (session_id, kind, payload, occurred_at)
VALUES ($1, $2, $3, $4)
`
	_, err = l.db.ExecContext(ctx, q, ev.SessionID, string(ev.Kind), payload, ev.OccurredAt)
	return err
}

func (l *EventLog) EventHistory(ctx context.Context, sessionID string) ([]telephony.Event, error) {
	const q = `
SELECT payload
FROM telephony_events
WHERE session_id = $1
ORDER BY id
`
	rows, err := l.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telephony.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev telephony.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
