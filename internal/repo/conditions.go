package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"questline/internal/combat"
	"questline/internal/domain"
)

// ConditionStore is the local condition source: the health collaborator pushes
// each actor's active conditions here and encounters read them back.
type ConditionStore struct {
	DB  *sql.DB
	Now func() time.Time
}

// ReplaceConditions swaps the actor's whole condition set in one transaction.
func (s ConditionStore) ReplaceConditions(ctx context.Context, actorID string, conds []domain.Condition) ([]domain.Condition, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, fmt.Errorf("actor id required")
	}
	seen := map[string]bool{}
	for _, c := range conds {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Source) == "" {
			return nil, fmt.Errorf("condition name and source are required")
		}
		if c.RoundsRemaining < 0 {
			return nil, fmt.Errorf("condition %s: rounds_remaining must not be negative", c.Key())
		}
		if seen[c.Key()] {
			return nil, fmt.Errorf("duplicate condition %s", c.Key())
		}
		seen[c.Key()] = true
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := now().UTC().Format(time.RFC3339)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM actor_conditions WHERE actor_id=?`, actorID); err != nil {
		return nil, err
	}
	for _, c := range conds {
		mods := c.StatModifiers
		if mods == nil {
			mods = map[string]int{}
		}
		payload, err := json.Marshal(mods)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO actor_conditions(actor_id,source,name,stat_modifiers_json,rounds_remaining,updated_at) VALUES (?,?,?,?,?,?)`,
			actorID, c.Source, c.Name, string(payload), c.RoundsRemaining, ts); err != nil {
			return nil, fmt.Errorf("insert condition %s: %w", c.Key(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.ActiveConditions(ctx, actorID)
}

// ActiveConditions returns the actor's conditions ordered by source and name.
func (s ConditionStore) ActiveConditions(ctx context.Context, actorID string) ([]domain.Condition, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT source,name,stat_modifiers_json,rounds_remaining FROM actor_conditions WHERE actor_id=? ORDER BY source ASC, name ASC`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Condition{}
	for rows.Next() {
		var (
			c    domain.Condition
			mods string
		)
		if err := rows.Scan(&c.Source, &c.Name, &mods, &c.RoundsRemaining); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mods), &c.StatModifiers); err != nil {
			return nil, fmt.Errorf("decode modifiers of %s: %w", c.Key(), err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// TotalStatModifiers sums the modifiers of the actor's active conditions.
func (s ConditionStore) TotalStatModifiers(ctx context.Context, actorID string) (map[string]int, error) {
	conds, err := s.ActiveConditions(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return combat.ApplyModifiers(conds), nil
}
