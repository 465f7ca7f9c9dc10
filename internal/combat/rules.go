// Package combat resolves turn-based encounters on a per-request working copy.
//
// Nothing here touches storage or the network. Callers load an encounter,
// clone it, run one operation from this package against the clone, and
// persist the result with a version check. Player dice results always come
// from the caller; only enemy dice are rolled here, from a seeded roller.
package combat

import (
	"strings"

	"questline/internal/domain"
)

// Unarmed is used when a combatant names no weapon.
var Unarmed = domain.Weapon{Name: "unarmed", Reach: domain.ReachMelee, DamageDie: 4, Stat: domain.StatSTR}

// Rules carries the tunable mechanics loaded from configuration.
type Rules struct {
	Weapons       map[string]domain.Weapon
	DefendBonus   int
	StartZone     domain.Zone
	EnemyZone     domain.Zone
	DefaultWeapon string
}

// DefaultRules returns the mechanics used when no configuration is supplied.
func DefaultRules() Rules {
	return Rules{
		Weapons: map[string]domain.Weapon{
			"longsword": {Name: "longsword", Reach: domain.ReachMelee, DamageDie: 8, Stat: domain.StatSTR},
			"dagger":    {Name: "dagger", Reach: domain.ReachMelee, DamageDie: 4, Stat: domain.StatDEX},
			"shortbow":  {Name: "shortbow", Reach: domain.ReachRanged, DamageDie: 6, Stat: domain.StatDEX},
			"claws":     {Name: "claws", Reach: domain.ReachMelee, DamageDie: 6, Stat: domain.StatSTR},
		},
		DefendBonus:   2,
		StartZone:     domain.ZoneNear,
		EnemyZone:     domain.ZoneMelee,
		DefaultWeapon: "longsword",
	}
}

// Weapon looks up a weapon by name. An empty name resolves to Unarmed.
func (r Rules) Weapon(name string) (domain.Weapon, bool) {
	name = strings.TrimSpace(name)
	if name == "" || name == Unarmed.Name {
		return Unarmed, true
	}
	w, ok := r.Weapons[name]
	if ok && w.Name == "" {
		w.Name = name
	}
	return w, ok
}

func abilityModifier(c domain.Combatant, stat string) int {
	if stat == domain.StatDEX {
		return c.DexModifier
	}
	return c.StrModifier
}
