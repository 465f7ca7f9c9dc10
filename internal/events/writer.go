package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the encounter log.
const (
	TypeEncounterCreated = "encounter.created"
	TypeInitiativeRolled = "encounter.initiative"
	TypeActionResolved   = "encounter.action"
	TypeAttackPending    = "encounter.attack_pending"
	TypeEncounterEnded   = "encounter.ended"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one log row inside the caller's transaction, so a rolled back
// transition leaves no log behind.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, encounterID, actorID string, version int64, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO encounter_events(ts,type,encounter_id,actor_id,version,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, encounterID, actorID, version, string(data))
	return err
}
