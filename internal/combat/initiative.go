package combat

import (
	"sort"

	"questline/internal/domain"
)

// SubmitInitiative records the player's raw d20 for the actor, sorts the
// order and activates the encounter. When enemies lead the order their turns
// run immediately, so the returned working copy always waits on the actor or
// has ended.
func SubmitInitiative(enc *domain.Encounter, roll int, env Env) (Resolution, error) {
	if roll < 1 || roll > 20 {
		return Resolution{}, InvalidInput("roll", "initiative roll must be between 1 and 20, got %d", roll)
	}
	if enc.Status != domain.StatusPending {
		return Resolution{}, newError(CodeEncounterNotActive, "encounter %s is %s, not awaiting initiative", enc.ID, enc.Status)
	}
	idx := enc.ActorIndex()
	if idx < 0 || !enc.InitiativeOrder[idx].NeedsRoll {
		return Resolution{}, newError(CodeInvalidTurn, "encounter %s is not awaiting an actor roll", enc.ID)
	}

	t := newTurn(enc, env)
	actor := &enc.InitiativeOrder[idx]
	total := roll + actor.DexModifier
	actor.InitiativeScore = &total
	actor.NeedsRoll = false
	t.hook(domain.NarrativeHook{Actor: actor.Name, Kind: "initiative", Roll: intPtr(roll), Total: intPtr(total)})

	SortInitiative(enc.InitiativeOrder)
	enc.Status = domain.StatusActive
	enc.TurnCursor = 0
	t.runEnemies()
	return t.resolution(true), nil
}

// SortInitiative orders combatants by score, then dex modifier, both
// descending. Remaining ties keep insertion order, which puts enemies first.
func SortInitiative(order []domain.Combatant) {
	sort.SliceStable(order, func(i, j int) bool {
		si, sj := score(order[i]), score(order[j])
		if si != sj {
			return si > sj
		}
		return order[i].DexModifier > order[j].DexModifier
	})
}

func score(c domain.Combatant) int {
	if c.InitiativeScore == nil {
		return 0
	}
	return *c.InitiativeScore
}
