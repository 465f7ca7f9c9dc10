package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"questline/internal/combat"
	"questline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	// ErrNotFound carries the NOT_FOUND combat code so callers can surface it as-is.
	ErrNotFound = combat.ErrNotFound
	// ErrVersionMismatch means a compare-and-swap found a different version.
	ErrVersionMismatch = errors.New("version mismatch")
	// ErrOpenEncounterExists means the actor already has a pending or active encounter.
	ErrOpenEncounterExists = errors.New("open encounter exists")
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const encounterColumns = `id,actor_id,origin_quest_id,status,round,turn_cursor,version,combatants_json,conditions_json,expired_json,pending_attack_json,created_at,updated_at,dice_seed`

type scanner interface {
	Scan(dest ...any) error
}

func scanEncounter(row scanner) (domain.Encounter, error) {
	var (
		e                                 domain.Encounter
		quest, pending                    sql.NullString
		combatants, conditions, expiredJS string
	)
	err := row.Scan(&e.ID, &e.ActorID, &quest, &e.Status, &e.Round, &e.TurnCursor, &e.Version,
		&combatants, &conditions, &expiredJS, &pending, &e.CreatedAt, &e.UpdatedAt, &e.DiceSeed)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if quest.Valid {
		q := quest.String
		e.OriginQuestID = &q
	}
	if err := json.Unmarshal([]byte(combatants), &e.InitiativeOrder); err != nil {
		return e, fmt.Errorf("decode combatants of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(conditions), &e.Conditions); err != nil {
		return e, fmt.Errorf("decode conditions of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(expiredJS), &e.ExpiredConditions); err != nil {
		return e, fmt.Errorf("decode expired conditions of %s: %w", e.ID, err)
	}
	if pending.Valid && pending.String != "" {
		var p domain.PendingAttack
		if err := json.Unmarshal([]byte(pending.String), &p); err != nil {
			return e, fmt.Errorf("decode pending attack of %s: %w", e.ID, err)
		}
		e.PendingAttack = &p
	}
	return e, nil
}

type encodedEncounter struct {
	combatants, conditions, expired string
	pending                         any
}

func encodeEncounter(e domain.Encounter) (encodedEncounter, error) {
	var out encodedEncounter
	order := e.InitiativeOrder
	if order == nil {
		order = []domain.Combatant{}
	}
	conds := e.Conditions
	if conds == nil {
		conds = []domain.Condition{}
	}
	expired := e.ExpiredConditions
	if expired == nil {
		expired = []string{}
	}
	b, err := json.Marshal(order)
	if err != nil {
		return out, err
	}
	out.combatants = string(b)
	if b, err = json.Marshal(conds); err != nil {
		return out, err
	}
	out.conditions = string(b)
	if b, err = json.Marshal(expired); err != nil {
		return out, err
	}
	out.expired = string(b)
	if e.PendingAttack != nil {
		if b, err = json.Marshal(e.PendingAttack); err != nil {
			return out, err
		}
		out.pending = string(b)
	}
	return out, nil
}

// InsertEncounterTx stores a new encounter. The partial unique index on
// actor_id turns a racing second open encounter into ErrOpenEncounterExists.
func (r Repo) InsertEncounterTx(ctx context.Context, tx *sql.Tx, e domain.Encounter) error {
	enc, err := encodeEncounter(e)
	if err != nil {
		return fmt.Errorf("encode encounter: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO encounters(`+encounterColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ActorID, nullableStringPtr(e.OriginQuestID), e.Status, e.Round, e.TurnCursor, e.Version,
		enc.combatants, enc.conditions, enc.expired, enc.pending, e.CreatedAt, e.UpdatedAt, e.DiceSeed)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: encounters.actor_id") {
		return ErrOpenEncounterExists
	}
	return err
}

// UpdateEncounterCAS writes the whole aggregate if the stored version still
// equals expected, bumping it by one. e.Version must already be expected+1.
func (r Repo) UpdateEncounterCAS(ctx context.Context, tx *sql.Tx, e domain.Encounter, expected int64) error {
	if e.Version != expected+1 {
		return fmt.Errorf("encounter %s: new version %d does not follow %d", e.ID, e.Version, expected)
	}
	enc, err := encodeEncounter(e)
	if err != nil {
		return fmt.Errorf("encode encounter: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE encounters SET status=?, round=?, turn_cursor=?, version=version+1,
combatants_json=?, conditions_json=?, expired_json=?, pending_attack_json=?, updated_at=?
WHERE id=? AND version=?`,
		e.Status, e.Round, e.TurnCursor, enc.combatants, enc.conditions, enc.expired, enc.pending, e.UpdatedAt,
		e.ID, expected)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionMismatch
	}
	return nil
}

func (r Repo) GetEncounter(ctx context.Context, id string) (domain.Encounter, error) {
	return getEncounter(ctx, r.DB, id)
}

func getEncounter(ctx context.Context, q queryer, id string) (domain.Encounter, error) {
	return scanEncounter(q.QueryRowContext(ctx, `SELECT `+encounterColumns+` FROM encounters WHERE id=?`, id))
}

// OpenEncounter returns the actor's pending or active encounter.
func (r Repo) OpenEncounter(ctx context.Context, actorID string) (domain.Encounter, error) {
	return openEncounter(ctx, r.DB, actorID)
}

func (r Repo) OpenEncounterTx(ctx context.Context, tx *sql.Tx, actorID string) (domain.Encounter, error) {
	return openEncounter(ctx, tx, actorID)
}

func openEncounter(ctx context.Context, q queryer, actorID string) (domain.Encounter, error) {
	return scanEncounter(q.QueryRowContext(ctx, `SELECT `+encounterColumns+` FROM encounters
WHERE actor_id=? AND status IN ('pending','active') ORDER BY created_at DESC LIMIT 1`, actorID))
}

type EncounterFilters struct {
	ActorID string
	Status  string
	Limit   int
}

// ListEncounters returns encounters newest first.
func (r Repo) ListEncounters(ctx context.Context, f EncounterFilters) ([]domain.Encounter, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM encounters WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`, encounterColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
