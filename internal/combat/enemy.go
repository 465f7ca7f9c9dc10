package combat

import "questline/internal/domain"

// enemyTurn runs the enemy policy for the combatant at idx: a melee enemy
// that is not engaged closes one zone, an enemy that can reach the actor
// attacks it, anything else waits. Enemy dice come from the turn's roller.
func (t *turn) enemyTurn(idx int) {
	e := &t.enc.InitiativeOrder[idx]
	actor := t.enc.Actor()
	w, ok := t.env.Rules.Weapon(e.Weapon)
	if !ok {
		w = Unarmed
	}
	if w.Reach == domain.ReachMelee && e.Zone != domain.ZoneMelee {
		from := e.Zone
		e.Zone = e.Zone.Toward(domain.ZoneMelee)
		t.hook(domain.NarrativeHook{Actor: e.Name, Kind: "move", FromZone: from, ToZone: e.Zone})
		return
	}
	if !inReach(w, *e, *actor) {
		t.hook(domain.NarrativeHook{Actor: e.Name, Kind: "wait", Target: actor.Name})
		return
	}

	mods := ApplyModifiers(t.enc.Conditions)
	roll := t.roller.D20()
	total := roll + abilityModifier(*e, w.Stat)
	ac := actor.ArmorClass + mods[domain.StatAC]
	if actor.Defending {
		ac += t.env.Rules.DefendBonus
	}
	if !hits(roll, total, ac) {
		t.hook(domain.NarrativeHook{Actor: e.Name, Kind: "attack_miss", Target: actor.Name, Roll: intPtr(roll), Total: intPtr(total)})
		return
	}
	die := w.DamageDie
	if die < 1 {
		die = 1
	}
	dmgRoll, _ := t.roller.Roll(die)
	dmg := applyDamage(actor, dmgRoll+abilityModifier(*e, w.Stat))
	t.hook(domain.NarrativeHook{Actor: e.Name, Kind: "attack_hit", Target: actor.Name, Roll: intPtr(roll), Total: intPtr(total)})
	t.hook(domain.NarrativeHook{Actor: e.Name, Kind: "damage", Target: actor.Name, Damage: intPtr(dmg)})
}

// inReach reports whether attacker can strike target with w. Melee needs both
// combatants engaged; ranged weapons reach every zone.
func inReach(w domain.Weapon, attacker, target domain.Combatant) bool {
	if w.Reach == domain.ReachRanged {
		return true
	}
	return attacker.Zone == domain.ZoneMelee && target.Zone == domain.ZoneMelee
}

// hits applies the natural 1 and natural 20 rules before comparing against ac.
func hits(natural, total, ac int) bool {
	switch natural {
	case 1:
		return false
	case 20:
		return true
	}
	return total >= ac
}

// applyDamage deals at least one point and never takes hp below zero. It
// returns the damage actually dealt.
func applyDamage(c *domain.Combatant, amount int) int {
	if amount < 1 {
		amount = 1
	}
	if amount > c.HP {
		amount = c.HP
	}
	c.HP -= amount
	return amount
}
