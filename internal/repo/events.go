package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"questline/internal/domain"
)

const eventColumns = `id,ts,type,encounter_id,actor_id,version,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EncounterID, &e.ActorID, &e.Version, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListEncounterEvents returns the action log of one encounter, oldest first,
// starting after the cursor.
func (r Repo) ListEncounterEvents(ctx context.Context, encounterID string, cursor int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM encounter_events WHERE encounter_id=? AND id>? ORDER BY id ASC LIMIT ?`,
		encounterID, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, actorID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if actorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, actorID)
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM encounter_events WHERE %s ORDER BY id ASC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM encounter_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
