package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresLog stores records in the event_log table.
//
// Schema (see internal/database/migrations):
//
//	CREATE TABLE event_log (
//	    seq        BIGSERIAL PRIMARY KEY,
//	    id         UUID NOT NULL UNIQUE,
//	    store_id   TEXT NOT NULL,
//	    type       TEXT NOT NULL,
//	    payload    JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//
// seq gives a total append order; created_at alone can tie.
type PostgresLog struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db, now: time.Now}
}

const insertRecordSQL = `
INSERT INTO event_log (id, store_id, type, payload, created_at)
VALUES ($1, $2, $3, $4, $5)`

const recentRecordsSQL = `
SELECT id, store_id, type, payload, created_at
FROM event_log
WHERE store_id = $1 AND type = ANY($2)
ORDER BY seq DESC
LIMIT $3`

func (p *PostgresLog) Append(ctx context.Context, storeID, eventType string, payload any) (Record, error) {
	rec, err := newRecord(storeID, eventType, payload, p.now())
	if err != nil {
		return Record{}, err
	}

	_, err = p.db.ExecContext(ctx, insertRecordSQL,
		rec.ID, rec.StoreID, rec.Type, []byte(rec.Payload), rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("failed to insert event: %w", err)
	}

	return rec, nil
}

func (p *PostgresLog) Recent(ctx context.Context, storeID string, types []string, limit int) ([]Record, error) {
	if limit <= 0 || len(types) == 0 {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, recentRecordsSQL, storeID, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.StoreID, &rec.Type, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Payload = payload
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}

	return out, rows.Err()
}

// Close is a no-op; the pool is owned by the caller
func (p *PostgresLog) Close() error {
	return nil
}
