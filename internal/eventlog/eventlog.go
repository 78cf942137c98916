package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one immutable entry of the event log
type Record struct {
	ID        string          `json:"id"`
	StoreID   string          `json:"store_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the payload into v
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s record %s: %w", r.Type, r.ID, err)
	}
	return nil
}

// Log is an append-only store of typed records with a structured payload
type Log interface {
	// Append records an event. Records are never updated or deleted.
	Append(ctx context.Context, storeID, eventType string, payload any) (Record, error)

	// Recent returns up to limit records of the given types, most recent first.
	Recent(ctx context.Context, storeID string, types []string, limit int) ([]Record, error)

	Close() error
}

func newRecord(storeID, eventType string, payload any, now time.Time) (Record, error) {
	if storeID == "" {
		return Record{}, fmt.Errorf("store id is required")
	}
	if eventType == "" {
		return Record{}, fmt.Errorf("event type is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return Record{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		Type:      eventType,
		Payload:   body,
		CreatedAt: now.UTC(),
	}, nil
}

func typeSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

// recentFrom scans records newest-first and keeps the matching ones
func recentFrom(records []Record, storeID string, types []string, limit int) []Record {
	if limit <= 0 {
		return nil
	}

	want := typeSet(types)
	var out []Record
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		r := records[i]
		if r.StoreID == storeID && want[r.Type] {
			out = append(out, r)
		}
	}
	return out
}
