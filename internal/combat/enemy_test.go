package combat

import (
	"testing"

	"questline/internal/dice"
	"questline/internal/domain"
)

// naturalEnemyRoll finds a seed whose first d20 for enc is neither a natural 1
// nor a natural 20, so the outcome depends on armor class alone.
func naturalEnemyRoll(t *testing.T, enc domain.Encounter) (int64, int) {
	t.Helper()
	for seed := int64(1); seed < 1000; seed++ {
		roll := dice.New(dice.SeedFor(enc.ID, enc.Version, seed)).D20()
		if roll > 1 && roll < 20 {
			return seed, roll
		}
	}
	t.Fatalf("no seed gives a plain d20")
	return 0, 0
}

func TestEnemyAttackRespectsDefendAndArmorConditions(t *testing.T) {
	seed, roll := naturalEnemyRoll(t, activeEncounter())

	cases := []struct {
		name      string
		ac        int
		defending bool
		acMod     int
		wantHit   bool
	}{
		{name: "total meets armor class", ac: roll, wantHit: true},
		{name: "defend lifts armor class above total", ac: roll, defending: true, wantHit: false},
		{name: "armor condition lifts armor class above total", ac: roll, acMod: 1, wantHit: false},
		{name: "armor penalty lets the attack land", ac: roll + 1, acMod: -1, wantHit: true},
		{name: "defend alone still hit", ac: roll - 2, defending: true, wantHit: true},
		{name: "defend and armor condition stack", ac: roll - 2, defending: true, acMod: 1, wantHit: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc := activeEncounter()
			hero := &enc.InitiativeOrder[0]
			hero.ArmorClass = tc.ac
			hero.Defending = tc.defending
			if tc.acMod != 0 {
				enc.Conditions = []domain.Condition{{Name: "steady", Source: "sleep", StatModifiers: map[string]int{domain.StatAC: tc.acMod}, RoundsRemaining: 2}}
			}

			tr := newTurn(&enc, Env{Rules: DefaultRules(), Seed: seed})
			tr.enemyTurn(1)

			var kind string
			for _, h := range tr.hooks {
				if h.Kind == "attack_hit" || h.Kind == "attack_miss" {
					kind = h.Kind
					if h.Roll == nil || *h.Roll != roll {
						t.Fatalf("expected natural %d, got %+v", roll, h)
					}
				}
			}
			if got := kind == "attack_hit"; got != tc.wantHit {
				t.Fatalf("expected hit=%v, got %q (roll %d vs ac %d)", tc.wantHit, kind, roll, tc.ac)
			}
			if tc.wantHit && enc.InitiativeOrder[0].HP >= 30 {
				t.Fatalf("hit dealt no damage")
			}
			if !tc.wantHit && enc.InitiativeOrder[0].HP != 30 {
				t.Fatalf("miss changed hp to %d", enc.InitiativeOrder[0].HP)
			}
		})
	}
}
