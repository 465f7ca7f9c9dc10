package combat

import (
	"strings"

	"questline/internal/domain"
)

// SubmitAction validates and applies one player action to the working copy.
// Rejected requests return an error and leave enc untouched. An attack that
// still needs a player die returns a Resolution with Accepted false and the
// roll it is waiting for.
func SubmitAction(enc *domain.Encounter, req domain.ActionRequest, env Env) (Resolution, error) {
	if enc.Status != domain.StatusActive {
		return Resolution{}, newError(CodeEncounterNotActive, "encounter %s is %s", enc.ID, enc.Status)
	}
	if enc.TurnCursor < 0 || enc.TurnCursor >= len(enc.InitiativeOrder) ||
		enc.InitiativeOrder[enc.TurnCursor].Side != domain.SideActor {
		return Resolution{}, newError(CodeInvalidTurn, "it is not %s's turn", enc.ActorID)
	}

	switch req.Kind {
	case domain.ActionAttack:
		return attack(enc, req, env)
	case domain.ActionMove:
		if req.TargetZone == nil || !req.TargetZone.Valid() {
			return Resolution{}, InvalidInput("target_zone", "move requires target_zone melee, near or far")
		}
		t := newTurn(enc, env)
		enc.PendingAttack = nil
		actor := enc.Actor()
		from := actor.Zone
		actor.Zone = *req.TargetZone
		t.hook(domain.NarrativeHook{Actor: actor.Name, Kind: "move", FromZone: from, ToZone: actor.Zone})
		t.finish()
		return t.resolution(true), nil
	case domain.ActionDefend:
		t := newTurn(enc, env)
		enc.PendingAttack = nil
		actor := enc.Actor()
		actor.Defending = true
		t.hook(domain.NarrativeHook{Actor: actor.Name, Kind: "defend"})
		t.finish()
		return t.resolution(true), nil
	case domain.ActionCustom:
		if req.RawText == nil || strings.TrimSpace(*req.RawText) == "" {
			return Resolution{}, InvalidInput("raw_text", "custom action requires raw_text")
		}
		t := newTurn(enc, env)
		enc.PendingAttack = nil
		t.hook(domain.NarrativeHook{Actor: enc.Actor().Name, Kind: "custom", Text: strings.TrimSpace(*req.RawText)})
		t.finish()
		return t.resolution(true), nil
	case domain.ActionFlee:
		actor := enc.Actor()
		if actor.Zone != domain.ZoneFar {
			return Resolution{}, newError(CodeOutOfRange, "fleeing requires zone far, actor is in %s", actor.Zone)
		}
		t := newTurn(enc, env)
		enc.PendingAttack = nil
		enc.Status = domain.StatusFled
		t.hook(domain.NarrativeHook{Actor: actor.Name, Kind: "flee", FromZone: actor.Zone})
		t.hook(domain.NarrativeHook{Actor: actor.Name, Kind: "encounter_ended", Outcome: domain.OutcomeFled})
		return t.resolution(true), nil
	default:
		return Resolution{}, InvalidInput("kind", "unknown action kind %q", req.Kind)
	}
}

func attack(enc *domain.Encounter, req domain.ActionRequest, env Env) (Resolution, error) {
	actor := enc.Actor()
	pending := enc.PendingAttack

	weaponName := actor.Weapon
	if pending != nil {
		weaponName = pending.Weapon
	}
	if req.Weapon != nil {
		if pending != nil && *req.Weapon != pending.Weapon {
			return Resolution{}, InvalidInput("weapon", "pending attack uses %s, not %s", pending.Weapon, *req.Weapon)
		}
		weaponName = *req.Weapon
	}
	w, ok := env.Rules.Weapon(weaponName)
	if !ok {
		return Resolution{}, InvalidInput("weapon", "unknown weapon %q", weaponName)
	}
	if w.Reach == domain.ReachMelee && actor.Zone != domain.ZoneMelee {
		return Resolution{}, newError(CodeOutOfRange, "%s needs zone melee, actor is in %s", w.Name, actor.Zone)
	}

	target, err := attackTarget(enc, req.Target, pending)
	if err != nil {
		return Resolution{}, err
	}
	foe := &enc.InitiativeOrder[target]
	if !inReach(w, *actor, *foe) {
		return Resolution{}, newError(CodeOutOfRange, "%s is in %s, out of reach of %s", foe.Name, foe.Zone, w.Name)
	}

	if req.AttackRoll != nil {
		if pending != nil {
			return Resolution{}, InvalidInput("attack_roll", "attack already rolled, submit damage_roll")
		}
		if *req.AttackRoll < 1 || *req.AttackRoll > 20 {
			return Resolution{}, InvalidInput("attack_roll", "attack roll must be between 1 and 20, got %d", *req.AttackRoll)
		}
	}
	if req.DamageRoll != nil {
		if req.AttackRoll == nil && pending == nil {
			return Resolution{}, InvalidInput("damage_roll", "damage_roll needs an attack roll first")
		}
		if *req.DamageRoll < 1 || *req.DamageRoll > w.DamageDie {
			return Resolution{}, InvalidInput("damage_roll", "damage roll must be between 1 and %d, got %d", w.DamageDie, *req.DamageRoll)
		}
	}
	if req.AttackRoll == nil && pending == nil {
		return awaiting(enc, domain.RollAttack, 20), nil
	}
	if req.DamageRoll == nil && pending != nil {
		return awaiting(enc, domain.RollDamage, w.DamageDie), nil
	}

	t := newTurn(enc, env)
	mods := ApplyModifiers(enc.Conditions)
	if pending == nil {
		roll := *req.AttackRoll
		total := roll + abilityModifier(*actor, w.Stat) + mods[w.Stat] + mods[domain.StatATK]
		if !hits(roll, total, foe.ArmorClass) {
			t.hook(domain.NarrativeHook{Actor: actor.Name, Kind: "attack_miss", Target: foe.Name, Roll: intPtr(roll), Total: intPtr(total)})
			t.finish()
			return t.resolution(true), nil
		}
		t.hook(domain.NarrativeHook{Actor: actor.Name, Kind: "attack_hit", Target: foe.Name, Roll: intPtr(roll), Total: intPtr(total)})
		if req.DamageRoll == nil {
			enc.PendingAttack = &domain.PendingAttack{Target: target, Weapon: w.Name, AttackRoll: roll, AttackTotal: total}
			res := t.resolution(false)
			res.Result.AwaitingRoll = &domain.AwaitingRoll{Kind: domain.RollDamage, Sides: w.DamageDie}
			return res, nil
		}
	}

	enc.PendingAttack = nil
	dmg := applyDamage(foe, *req.DamageRoll+abilityModifier(*actor, w.Stat)+mods[w.Stat]+mods[domain.StatDMG])
	t.hook(domain.NarrativeHook{Actor: actor.Name, Kind: "damage", Target: foe.Name, Damage: intPtr(dmg), Roll: intPtr(*req.DamageRoll)})
	if !foe.Alive() {
		t.hook(domain.NarrativeHook{Actor: foe.Name, Kind: "defeated"})
	}
	t.finish()
	return t.resolution(true), nil
}

// attackTarget resolves the index of the enemy being attacked. A pending
// attack pins its target; otherwise the first living enemy is the default.
func attackTarget(enc *domain.Encounter, requested *int, pending *domain.PendingAttack) (int, error) {
	if pending != nil {
		if requested != nil && *requested != pending.Target {
			return 0, InvalidInput("target", "pending attack targets %d, not %d", pending.Target, *requested)
		}
		return pending.Target, nil
	}
	if requested == nil {
		for i, c := range enc.InitiativeOrder {
			if c.Side == domain.SideEnemy && c.Alive() {
				return i, nil
			}
		}
		return 0, InvalidInput("target", "no living enemy to attack")
	}
	i := *requested
	if i < 0 || i >= len(enc.InitiativeOrder) {
		return 0, InvalidInput("target", "target %d is not in the initiative order", i)
	}
	c := enc.InitiativeOrder[i]
	if c.Side != domain.SideEnemy {
		return 0, InvalidInput("target", "%s is not an enemy", c.Name)
	}
	if !c.Alive() {
		return 0, InvalidInput("target", "%s is already down", c.Name)
	}
	return i, nil
}

// awaiting reports a needed player roll without touching the encounter.
func awaiting(enc *domain.Encounter, kind domain.RollKind, sides int) Resolution {
	return Resolution{Result: domain.ActionResult{
		Accepted:       false,
		NarrativeHooks: []domain.NarrativeHook{},
		Outcome:        OutcomeOf(enc.Status),
		AwaitingRoll:   &domain.AwaitingRoll{Kind: kind, Sides: sides},
		Version:        enc.Version,
	}}
}
