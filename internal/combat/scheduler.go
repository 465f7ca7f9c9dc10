package combat

import (
	"questline/internal/dice"
	"questline/internal/domain"
)

// Env carries the per-request collaborators of a combat operation.
type Env struct {
	Rules Rules
	// Seed is mixed into the enemy dice seed alongside the encounter id and version.
	Seed int64
	// Refresh fetches the actor's current conditions. It is called at round
	// boundaries only and may be nil.
	Refresh func() ([]domain.Condition, error)
}

// Resolution is what a combat operation did to the working copy.
type Resolution struct {
	Result domain.ActionResult
	// Changed is false when nothing must be persisted.
	Changed bool
	// RefreshErr is the last condition refresh failure, if any. The snapshot
	// already attached to the encounter was kept.
	RefreshErr error
}

type turn struct {
	enc        *domain.Encounter
	env        Env
	roller     *dice.Roller
	hooks      []domain.NarrativeHook
	refreshErr error
}

func newTurn(enc *domain.Encounter, env Env) *turn {
	return &turn{
		enc:    enc,
		env:    env,
		roller: dice.New(dice.SeedFor(enc.ID, enc.Version, env.Seed)),
	}
}

func (t *turn) hook(h domain.NarrativeHook) {
	if h.Round == 0 {
		h.Round = t.enc.Round
	}
	t.hooks = append(t.hooks, h)
}

// settle recomputes the lifecycle status and reports whether it is terminal.
func (t *turn) settle() bool {
	status := ResolveOutcome(t.enc)
	if status != t.enc.Status {
		t.enc.Status = status
		if status.Terminal() {
			t.enc.PendingAttack = nil
			t.hook(domain.NarrativeHook{Actor: t.enc.Actor().Name, Kind: "encounter_ended", Outcome: OutcomeOf(status)})
		}
	}
	return t.enc.Status.Terminal()
}

// advance moves the cursor to the next living combatant, wrapping into a new
// round as often as needed. Dead combatants are skipped, never stopped on.
func (t *turn) advance() {
	order := t.enc.InitiativeOrder
	n := len(order)
	if n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		t.enc.TurnCursor++
		if t.enc.TurnCursor >= n {
			t.enc.TurnCursor = 0
			t.enc.Round++
			t.endOfRound()
		}
		if order[t.enc.TurnCursor].Alive() {
			return
		}
	}
}

func (t *turn) endOfRound() {
	kept, expired := OnRoundAdvance(t.enc.Conditions)
	for _, c := range expired {
		t.enc.ExpiredConditions = append(t.enc.ExpiredConditions, c.Key())
		t.hook(domain.NarrativeHook{Actor: t.enc.Actor().Name, Kind: "condition_expired", Text: c.Name})
	}
	t.enc.Conditions = kept
	if t.env.Refresh != nil {
		fresh, err := t.env.Refresh()
		if err != nil {
			t.refreshErr = err
		} else {
			t.enc.Conditions = MergeConditions(kept, fresh, t.enc.ExpiredConditions)
		}
	}
	t.hook(domain.NarrativeHook{Actor: t.enc.Actor().Name, Kind: "round_started"})
}

// runEnemies resolves enemy turns until the cursor reaches the actor or the
// encounter ends. A defending actor loses the bonus when its turn comes back.
func (t *turn) runEnemies() {
	order := t.enc.InitiativeOrder
	for guard := 0; guard < 2*len(order)+1; guard++ {
		if t.settle() {
			return
		}
		c := &order[t.enc.TurnCursor]
		if c.Side == domain.SideActor {
			c.Defending = false
			return
		}
		if c.Alive() {
			t.enemyTurn(t.enc.TurnCursor)
			if t.settle() {
				return
			}
		}
		t.advance()
	}
}

// finish ends the actor's turn: outcome first, then the scheduler and any
// enemy turns that follow.
func (t *turn) finish() {
	if t.settle() {
		return
	}
	t.advance()
	t.runEnemies()
}

func (t *turn) resolution(accepted bool) Resolution {
	hooks := t.hooks
	if hooks == nil {
		hooks = []domain.NarrativeHook{}
	}
	return Resolution{
		Result: domain.ActionResult{
			Accepted:       accepted,
			NarrativeHooks: hooks,
			EncounterEnded: t.enc.Status.Terminal(),
			Outcome:        OutcomeOf(t.enc.Status),
			Version:        t.enc.Version,
		},
		Changed:    true,
		RefreshErr: t.refreshErr,
	}
}
