package combat

import (
	"strings"

	"questline/internal/dice"
	"questline/internal/domain"
)

// Sheet describes one combatant at encounter creation.
type Sheet struct {
	Name        string      `json:"name" yaml:"name"`
	HP          int         `json:"hp" yaml:"hp"`
	MaxHP       int         `json:"max_hp,omitempty" yaml:"max_hp"`
	ArmorClass  int         `json:"armor_class" yaml:"armor_class"`
	DexModifier int         `json:"dex_modifier,omitempty" yaml:"dex_modifier"`
	StrModifier int         `json:"str_modifier,omitempty" yaml:"str_modifier"`
	Weapon      string      `json:"weapon,omitempty" yaml:"weapon"`
	Zone        domain.Zone `json:"zone,omitempty" yaml:"zone"`
}

// NewEncounterParams collects everything needed to build a pending encounter.
type NewEncounterParams struct {
	ID            string
	ActorID       string
	OriginQuestID *string
	Actor         Sheet
	Enemies       []Sheet
	Conditions    []domain.Condition
	Seed          int64
	Now           string
}

// NewEncounter builds a pending encounter. Enemy initiative is rolled right
// away; the actor entry waits for the player's roll with NeedsRoll set and no
// score at all.
func NewEncounter(rules Rules, p NewEncounterParams) (domain.Encounter, []domain.NarrativeHook, error) {
	if strings.TrimSpace(p.ActorID) == "" {
		return domain.Encounter{}, nil, InvalidInput("actor_id", "actor_id is required")
	}
	if len(p.Enemies) == 0 {
		return domain.Encounter{}, nil, InvalidInput("enemies", "at least one enemy is required")
	}
	roller := dice.New(p.Seed)
	var hooks []domain.NarrativeHook
	order := make([]domain.Combatant, 0, len(p.Enemies)+1)
	for i, s := range p.Enemies {
		if s.Zone == "" {
			s.Zone = rules.EnemyZone
		}
		c, err := combatantFromSheet(rules, s, domain.SideEnemy, "enemies")
		if err != nil {
			return domain.Encounter{}, nil, err
		}
		if c.Name == "" {
			c.Name = "enemy-" + string(rune('a'+i%26))
		}
		roll := roller.D20()
		score := roll + c.DexModifier
		c.InitiativeScore = &score
		order = append(order, c)
		hooks = append(hooks, domain.NarrativeHook{Round: 1, Actor: c.Name, Kind: "initiative", Roll: intPtr(roll), Total: intPtr(score)})
	}
	actorSheet := p.Actor
	if actorSheet.Zone == "" {
		actorSheet.Zone = rules.StartZone
	}
	if actorSheet.Weapon == "" {
		actorSheet.Weapon = rules.DefaultWeapon
	}
	actor, err := combatantFromSheet(rules, actorSheet, domain.SideActor, "actor")
	if err != nil {
		return domain.Encounter{}, nil, err
	}
	if actor.Name == "" {
		actor.Name = p.ActorID
	}
	actor.NeedsRoll = true
	order = append(order, actor)

	conditions := make([]domain.Condition, 0, len(p.Conditions))
	for _, c := range p.Conditions {
		if c.RoundsRemaining < 0 {
			return domain.Encounter{}, nil, InvalidInput("conditions", "condition %s has negative rounds_remaining", c.Name)
		}
		conditions = append(conditions, c)
	}

	enc := domain.Encounter{
		ID:              p.ID,
		ActorID:         p.ActorID,
		OriginQuestID:   p.OriginQuestID,
		Status:          domain.StatusPending,
		Round:           1,
		TurnCursor:      0,
		Version:         1,
		InitiativeOrder: order,
		Conditions:      conditions,
		CreatedAt:       p.Now,
		UpdatedAt:       p.Now,
	}
	return enc, hooks, nil
}

func combatantFromSheet(rules Rules, s Sheet, side domain.Side, field string) (domain.Combatant, error) {
	if s.MaxHP == 0 {
		s.MaxHP = s.HP
	}
	if s.HP <= 0 {
		return domain.Combatant{}, InvalidInput(field, "%s hp must be positive", describe(s, side))
	}
	if s.HP > s.MaxHP {
		return domain.Combatant{}, InvalidInput(field, "%s hp %d exceeds max_hp %d", describe(s, side), s.HP, s.MaxHP)
	}
	if s.ArmorClass < 0 {
		return domain.Combatant{}, InvalidInput(field, "%s armor_class must not be negative", describe(s, side))
	}
	if !s.Zone.Valid() {
		return domain.Combatant{}, InvalidInput(field, "%s zone %q is not melee, near or far", describe(s, side), s.Zone)
	}
	if _, ok := rules.Weapon(s.Weapon); !ok {
		return domain.Combatant{}, InvalidInput(field, "%s wields unknown weapon %q", describe(s, side), s.Weapon)
	}
	return domain.Combatant{
		Name:        strings.TrimSpace(s.Name),
		Side:        side,
		HP:          s.HP,
		MaxHP:       s.MaxHP,
		ArmorClass:  s.ArmorClass,
		Zone:        s.Zone,
		DexModifier: s.DexModifier,
		StrModifier: s.StrModifier,
		Weapon:      s.Weapon,
	}, nil
}

func describe(s Sheet, side domain.Side) string {
	if s.Name != "" {
		return s.Name
	}
	return string(side)
}

// ResolveOutcome computes the lifecycle status implied by the combatants'
// hit points. A fled encounter stays fled and a pending one stays pending.
func ResolveOutcome(enc *domain.Encounter) domain.Status {
	if enc.Status != domain.StatusActive {
		return enc.Status
	}
	enemiesAlive := false
	for _, c := range enc.InitiativeOrder {
		switch c.Side {
		case domain.SideActor:
			if !c.Alive() {
				return domain.StatusDefeat
			}
		case domain.SideEnemy:
			if c.Alive() {
				enemiesAlive = true
			}
		}
	}
	if !enemiesAlive {
		return domain.StatusVictory
	}
	return domain.StatusActive
}

// OutcomeOf maps an encounter status to the outcome reported to callers.
func OutcomeOf(s domain.Status) domain.Outcome {
	switch s {
	case domain.StatusVictory:
		return domain.OutcomeVictory
	case domain.StatusDefeat:
		return domain.OutcomeDefeat
	case domain.StatusFled:
		return domain.OutcomeFled
	default:
		return domain.OutcomeNone
	}
}

func intPtr(v int) *int { return &v }
