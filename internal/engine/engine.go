package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"questline/internal/combat"
	"questline/internal/config"
	"questline/internal/dice"
	"questline/internal/domain"
	"questline/internal/engine/auth"
	"questline/internal/events"
	"questline/internal/repo"
)

// ConditionSource supplies the actor's externally computed conditions.
type ConditionSource interface {
	ActiveConditions(ctx context.Context, actorID string) ([]domain.Condition, error)
	TotalStatModifiers(ctx context.Context, actorID string) (map[string]int, error)
}

// ConditionWriter is implemented by sources that accept pushed conditions.
type ConditionWriter interface {
	ReplaceConditions(ctx context.Context, actorID string, conds []domain.Condition) ([]domain.Condition, error)
}

// Narrator turns narrative hooks into prose.
type Narrator interface {
	Narrate(ctx context.Context, hooks []domain.NarrativeHook) (string, error)
}

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Conditions ConditionSource
	Narrator   Narrator
	Log        logrus.FieldLogger
	Now        func() time.Time
	// Seed draws the dice seed of a new encounter.
	Seed func() (int64, error)
}

func New(db *sql.DB, cfg *config.Config, log logrus.FieldLogger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{Now: time.Now},
		Config:     cfg,
		Conditions: repo.ConditionStore{DB: db},
		Log:        log,
		Now:        time.Now,
		Seed:       dice.NewSeed,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

func (e Engine) rules() combat.Rules {
	if e.Config == nil {
		return combat.DefaultRules()
	}
	return e.Config.Rules()
}

func (e Engine) seed() (int64, error) {
	if e.Seed != nil {
		return e.Seed()
	}
	return dice.NewSeed()
}

// Transition is the outcome of one mutating call.
type Transition struct {
	Encounter domain.Encounter
	Result    domain.ActionResult
}

// CreateEncounterOptions are parameters for starting an encounter.
type CreateEncounterOptions struct {
	ID            string
	ActorID       string
	OriginQuestID string
	Actor         combat.Sheet
	Enemies       []combat.Sheet
	Caller        auth.Caller
}

// CreateEncounter starts a pending encounter for the actor. Enemy initiative
// is rolled here; the actor's conditions are snapshotted from the source.
func (e Engine) CreateEncounter(ctx context.Context, opts CreateEncounterOptions) (domain.Encounter, error) {
	opts.ActorID = strings.TrimSpace(opts.ActorID)
	if opts.ActorID == "" {
		return domain.Encounter{}, combat.InvalidInput("actor_id", "actor_id is required")
	}
	if err := opts.Caller.CanActFor(opts.ActorID); err != nil {
		return domain.Encounter{}, err
	}
	var conds []domain.Condition
	if e.Conditions != nil {
		c, err := e.Conditions.ActiveConditions(ctx, opts.ActorID)
		if err != nil {
			e.log().WithError(err).WithField("actor_id", opts.ActorID).Warn("condition source unavailable, starting without conditions")
		} else {
			conds = c
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	var quest *string
	if q := strings.TrimSpace(opts.OriginQuestID); q != "" {
		quest = &q
	}
	now := e.now().UTC().Format(time.RFC3339)
	seed, err := e.seed()
	if err != nil {
		return domain.Encounter{}, err
	}
	enc, hooks, err := combat.NewEncounter(e.rules(), combat.NewEncounterParams{
		ID:            id,
		ActorID:       opts.ActorID,
		OriginQuestID: quest,
		Actor:         opts.Actor,
		Enemies:       opts.Enemies,
		Conditions:    conds,
		Seed:          dice.SeedFor(id, seed),
		Now:           now,
	})
	if err != nil {
		return domain.Encounter{}, err
	}
	enc.DiceSeed = seed

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Encounter{}, err
	}
	defer tx.Rollback()
	existing, err := e.Repo.OpenEncounterTx(ctx, tx, opts.ActorID)
	switch {
	case err == nil:
		return domain.Encounter{}, combat.Conflict(opts.ActorID, existing.ID)
	case !errors.Is(err, repo.ErrNotFound):
		return domain.Encounter{}, err
	}
	if err := e.Repo.InsertEncounterTx(ctx, tx, enc); err != nil {
		if errors.Is(err, repo.ErrOpenEncounterExists) {
			existing, rerr := e.Repo.OpenEncounterTx(ctx, tx, opts.ActorID)
			if rerr != nil {
				return domain.Encounter{}, combat.Conflict(opts.ActorID, "")
			}
			return domain.Encounter{}, combat.Conflict(opts.ActorID, existing.ID)
		}
		return domain.Encounter{}, fmt.Errorf("insert encounter: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeEncounterCreated, enc.ID, enc.ActorID, enc.Version, events.EventPayload{
		"enemies":         len(opts.Enemies),
		"conditions":      len(enc.Conditions),
		"origin_quest_id": opts.OriginQuestID,
		"hooks":           hooks,
	}); err != nil {
		return domain.Encounter{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Encounter{}, err
	}
	e.log().WithFields(logrus.Fields{"encounter_id": enc.ID, "actor_id": enc.ActorID, "enemies": len(opts.Enemies)}).Info("encounter created")
	return enc, nil
}

// ActiveCombat returns the actor's pending or active encounter, or nil, with
// the stat modifiers currently in effect.
func (e Engine) ActiveCombat(ctx context.Context, caller auth.Caller, actorID string) (*domain.Encounter, map[string]int, error) {
	if err := caller.CanActFor(actorID); err != nil {
		return nil, nil, err
	}
	enc, err := e.Repo.OpenEncounter(ctx, actorID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, nil, err
		}
		mods, err := e.Modifiers(ctx, caller, actorID)
		return nil, mods, err
	}
	return &enc, combat.ApplyModifiers(enc.Conditions), nil
}

// GetEncounter loads one encounter by id.
func (e Engine) GetEncounter(ctx context.Context, caller auth.Caller, id string) (domain.Encounter, error) {
	enc, err := e.Repo.GetEncounter(ctx, id)
	if err != nil {
		return domain.Encounter{}, err
	}
	if err := caller.CanActFor(enc.ActorID); err != nil {
		return domain.Encounter{}, err
	}
	return enc, nil
}

// ListEncounters lists encounters visible to the caller, newest first.
func (e Engine) ListEncounters(ctx context.Context, caller auth.Caller, f repo.EncounterFilters) ([]domain.Encounter, error) {
	if !caller.Has(auth.PermissionAdmin) {
		if f.ActorID == "" {
			f.ActorID = caller.ActorID
		}
		if err := caller.CanActFor(f.ActorID); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListEncounters(ctx, f)
}

// SubmitInitiative records the player's d20 and activates the encounter.
func (e Engine) SubmitInitiative(ctx context.Context, caller auth.Caller, id string, expectedVersion int64, roll int) (Transition, error) {
	return e.mutate(ctx, caller, id, expectedVersion, events.TypeInitiativeRolled, func(enc *domain.Encounter, env combat.Env) (combat.Resolution, error) {
		return combat.SubmitInitiative(enc, roll, env)
	})
}

// SubmitAction resolves one player action.
func (e Engine) SubmitAction(ctx context.Context, caller auth.Caller, req domain.ActionRequest) (Transition, error) {
	return e.mutate(ctx, caller, req.EncounterID, req.ExpectedVersion, events.TypeActionResolved, func(enc *domain.Encounter, env combat.Env) (combat.Resolution, error) {
		return combat.SubmitAction(enc, req, env)
	})
}

type operation func(enc *domain.Encounter, env combat.Env) (combat.Resolution, error)

// mutate runs one operation against a working copy and persists it with a
// compare-and-swap on the version the caller observed. Rejected operations
// leave the stored encounter untouched.
func (e Engine) mutate(ctx context.Context, caller auth.Caller, id string, expected int64, evtType string, op operation) (Transition, error) {
	current, err := e.Repo.GetEncounter(ctx, id)
	if err != nil {
		return Transition{}, err
	}
	if err := caller.CanActFor(current.ActorID); err != nil {
		return Transition{}, err
	}
	if current.Version != expected {
		return Transition{}, combat.StaleVersion(expected, current.Version)
	}

	work := current.Clone()
	res, err := op(&work, combat.Env{
		Rules:   e.rules(),
		Seed:    current.DiceSeed,
		Refresh: e.refresher(ctx, current.ActorID),
	})
	if err != nil {
		return Transition{}, err
	}
	if res.RefreshErr != nil {
		e.log().WithError(res.RefreshErr).WithField("actor_id", current.ActorID).Warn("condition refresh failed, keeping snapshot")
	}
	if !res.Changed {
		res.Result.Version = current.Version
		return Transition{Encounter: current, Result: res.Result}, nil
	}

	work.Version = expected + 1
	work.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if res.Result.AwaitingRoll != nil {
		evtType = events.TypeAttackPending
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Transition{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateEncounterCAS(ctx, tx, work, expected); err != nil {
		if errors.Is(err, repo.ErrVersionMismatch) {
			return Transition{}, e.staleVersion(ctx, id, expected)
		}
		return Transition{}, fmt.Errorf("update encounter: %w", err)
	}
	if err := e.Events.Append(ctx, tx, evtType, work.ID, work.ActorID, work.Version, events.EventPayload{
		"accepted": res.Result.Accepted,
		"hooks":    res.Result.NarrativeHooks,
		"round":    work.Round,
		"status":   work.Status,
	}); err != nil {
		return Transition{}, err
	}
	if work.Status.Terminal() && !current.Status.Terminal() {
		if err := e.Events.Append(ctx, tx, events.TypeEncounterEnded, work.ID, work.ActorID, work.Version, events.EventPayload{
			"outcome": combat.OutcomeOf(work.Status),
			"round":   work.Round,
		}); err != nil {
			return Transition{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Transition{}, err
	}

	res.Result.Version = work.Version
	e.log().WithFields(logrus.Fields{
		"encounter_id": work.ID,
		"actor_id":     work.ActorID,
		"version":      work.Version,
		"type":         evtType,
		"status":       work.Status,
	}).Info("encounter transition")
	res.Result.Narration = e.narrate(ctx, work.ID, res.Result.NarrativeHooks)
	return Transition{Encounter: work, Result: res.Result}, nil
}

func (e Engine) staleVersion(ctx context.Context, id string, expected int64) error {
	latest, err := e.Repo.GetEncounter(ctx, id)
	if err != nil {
		return combat.StaleVersion(expected, expected+1)
	}
	return combat.StaleVersion(expected, latest.Version)
}

// refresher fetches conditions at most once per request.
func (e Engine) refresher(ctx context.Context, actorID string) func() ([]domain.Condition, error) {
	if e.Conditions == nil {
		return nil
	}
	var (
		done  bool
		conds []domain.Condition
		err   error
	)
	return func() ([]domain.Condition, error) {
		if !done {
			conds, err = e.Conditions.ActiveConditions(ctx, actorID)
			done = true
		}
		return conds, err
	}
}

// narrate asks the narrator for prose. Failures are logged; the mechanical
// result has already been persisted.
func (e Engine) narrate(ctx context.Context, encounterID string, hooks []domain.NarrativeHook) string {
	if e.Narrator == nil || len(hooks) == 0 {
		return ""
	}
	timeout := 5 * time.Second
	if e.Config != nil {
		timeout = e.Config.NarrationTimeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	text, err := e.Narrator.Narrate(ctx, hooks)
	if err != nil {
		e.log().WithError(err).WithField("encounter_id", encounterID).Warn("narration failed")
		return ""
	}
	return text
}

// EncounterLog returns the action log of an encounter after the cursor.
func (e Engine) EncounterLog(ctx context.Context, caller auth.Caller, id string, cursor int64, limit int) ([]domain.Event, error) {
	if _, err := e.GetEncounter(ctx, caller, id); err != nil {
		return nil, err
	}
	return e.Repo.ListEncounterEvents(ctx, id, cursor, limit)
}

// ActorConditions lists the actor's conditions as the source reports them.
func (e Engine) ActorConditions(ctx context.Context, caller auth.Caller, actorID string) ([]domain.Condition, error) {
	if err := caller.CanActFor(actorID); err != nil {
		return nil, err
	}
	if e.Conditions == nil {
		return []domain.Condition{}, nil
	}
	return e.Conditions.ActiveConditions(ctx, actorID)
}

// Modifiers sums the actor's condition modifiers as the source reports them.
func (e Engine) Modifiers(ctx context.Context, caller auth.Caller, actorID string) (map[string]int, error) {
	if err := caller.CanActFor(actorID); err != nil {
		return nil, err
	}
	if e.Conditions == nil {
		return map[string]int{}, nil
	}
	return e.Conditions.TotalStatModifiers(ctx, actorID)
}

// ErrReadOnlySource is returned when conditions are pushed to a remote source.
var ErrReadOnlySource = errors.New("condition source is read-only")

// ReplaceConditions stores the actor's conditions in a writable source. Open
// encounters pick them up at their next round boundary.
func (e Engine) ReplaceConditions(ctx context.Context, caller auth.Caller, actorID string, conds []domain.Condition) ([]domain.Condition, error) {
	if err := caller.CanActFor(actorID); err != nil {
		return nil, err
	}
	w, ok := e.Conditions.(ConditionWriter)
	if !ok {
		return nil, ErrReadOnlySource
	}
	seen := map[string]bool{}
	for _, c := range conds {
		if seen[c.Key()] {
			return nil, combat.InvalidInput("conditions", "duplicate condition %s", c.Key())
		}
		seen[c.Key()] = true
		if c.RoundsRemaining < 0 {
			return nil, combat.InvalidInput("rounds_remaining", "condition %s has negative rounds_remaining", c.Key())
		}
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Source) == "" {
			return nil, combat.InvalidInput("conditions", "condition name and source are required")
		}
	}
	out, err := w.ReplaceConditions(ctx, actorID, conds)
	if err != nil {
		return nil, err
	}
	e.log().WithFields(logrus.Fields{"actor_id": actorID, "conditions": len(out)}).Info("conditions replaced")
	return out, nil
}
