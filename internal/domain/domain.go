package domain

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusVictory Status = "victory"
	StatusDefeat  Status = "defeat"
	StatusFled    Status = "fled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusVictory || s == StatusDefeat || s == StatusFled
}

type Side string

const (
	SideActor Side = "actor"
	SideEnemy Side = "enemy"
)

type Zone string

const (
	ZoneMelee Zone = "melee"
	ZoneNear  Zone = "near"
	ZoneFar   Zone = "far"
)

// Valid reports whether z is one of the three positioning zones.
func (z Zone) Valid() bool {
	return z == ZoneMelee || z == ZoneNear || z == ZoneFar
}

// Toward returns the zone one step closer to target.
func (z Zone) Toward(target Zone) Zone {
	order := map[Zone]int{ZoneMelee: 0, ZoneNear: 1, ZoneFar: 2}
	byIdx := []Zone{ZoneMelee, ZoneNear, ZoneFar}
	from, to := order[z], order[target]
	switch {
	case from < to:
		return byIdx[from+1]
	case from > to:
		return byIdx[from-1]
	default:
		return z
	}
}

type Reach string

const (
	ReachMelee  Reach = "melee"
	ReachRanged Reach = "ranged"
)

type Weapon struct {
	Name      string `json:"name" yaml:"name"`
	Reach     Reach  `json:"reach" yaml:"reach" enum:"melee,ranged"`
	DamageDie int    `json:"damage_die" yaml:"damage_die"`
	Stat      string `json:"stat" yaml:"stat" enum:"STR,DEX"`
}

type ActionKind string

const (
	ActionAttack ActionKind = "attack"
	ActionMove   ActionKind = "move"
	ActionDefend ActionKind = "defend"
	ActionCustom ActionKind = "custom"
	ActionFlee   ActionKind = "flee"
)

type Outcome string

const (
	OutcomeNone    Outcome = "none"
	OutcomeVictory Outcome = "victory"
	OutcomeDefeat  Outcome = "defeat"
	OutcomeFled    Outcome = "fled"
)

// Stat codes understood by the mechanics. Other codes are carried through untouched.
const (
	StatSTR = "STR"
	StatDEX = "DEX"
	StatAC  = "AC"
	StatATK = "ATK"
	StatDMG = "DMG"
)

type Combatant struct {
	Name            string `json:"name"`
	Side            Side   `json:"side" enum:"actor,enemy"`
	HP              int    `json:"hp"`
	MaxHP           int    `json:"max_hp"`
	ArmorClass      int    `json:"armor_class"`
	Zone            Zone   `json:"zone" enum:"melee,near,far"`
	InitiativeScore *int   `json:"initiative_score,omitempty"`
	DexModifier     int    `json:"dex_modifier"`
	StrModifier     int    `json:"str_modifier"`
	NeedsRoll       bool   `json:"needs_roll"`
	Weapon          string `json:"weapon"`
	Defending       bool   `json:"defending,omitempty"`
}

// Alive reports whether the combatant can still take turns.
func (c Combatant) Alive() bool { return c.HP > 0 }

type Condition struct {
	Name            string         `json:"name" yaml:"name"`
	Source          string         `json:"source" yaml:"source"`
	StatModifiers   map[string]int `json:"stat_modifiers" yaml:"stat_modifiers"`
	RoundsRemaining int            `json:"rounds_remaining" yaml:"rounds_remaining"`
}

// Key identifies a condition across refreshes from its source.
func (c Condition) Key() string { return c.Source + "/" + c.Name }

// PendingAttack is an accepted attack roll that still needs the player's damage roll.
type PendingAttack struct {
	Target      int    `json:"target"`
	Weapon      string `json:"weapon"`
	AttackRoll  int    `json:"attack_roll"`
	AttackTotal int    `json:"attack_total"`
}

type Encounter struct {
	ID                string         `json:"id"`
	ActorID           string         `json:"actor_id"`
	OriginQuestID     *string        `json:"origin_quest_id,omitempty"`
	Status            Status         `json:"status" enum:"pending,active,victory,defeat,fled"`
	Round             int            `json:"round"`
	TurnCursor        int            `json:"turn_cursor"`
	Version           int64          `json:"version"`
	InitiativeOrder   []Combatant    `json:"initiative_order"`
	Conditions        []Condition    `json:"conditions"`
	ExpiredConditions []string       `json:"expired_conditions,omitempty"`
	PendingAttack     *PendingAttack `json:"pending_attack,omitempty"`
	CreatedAt         string         `json:"created_at" format:"date-time"`
	UpdatedAt         string         `json:"updated_at" format:"date-time"`
	// DiceSeed is drawn once at creation; enemy dice derive from it, the id
	// and the version, so every stored transition can be replayed.
	DiceSeed int64 `json:"-"`
}

// ActorIndex returns the index of the actor entry, or -1.
func (e *Encounter) ActorIndex() int {
	for i, c := range e.InitiativeOrder {
		if c.Side == SideActor {
			return i
		}
	}
	return -1
}

// Actor returns the actor entry. It panics if the aggregate has none, which
// the store never persists.
func (e *Encounter) Actor() *Combatant {
	idx := e.ActorIndex()
	if idx < 0 {
		panic("encounter without actor combatant")
	}
	return &e.InitiativeOrder[idx]
}

// Clone returns a deep copy suitable as a per-request working copy.
func (e Encounter) Clone() Encounter {
	out := e
	if e.OriginQuestID != nil {
		q := *e.OriginQuestID
		out.OriginQuestID = &q
	}
	if e.InitiativeOrder != nil {
		out.InitiativeOrder = make([]Combatant, len(e.InitiativeOrder))
		for i, c := range e.InitiativeOrder {
			if c.InitiativeScore != nil {
				s := *c.InitiativeScore
				c.InitiativeScore = &s
			}
			out.InitiativeOrder[i] = c
		}
	}
	if e.Conditions != nil {
		out.Conditions = make([]Condition, len(e.Conditions))
		for i, c := range e.Conditions {
			if c.StatModifiers != nil {
				mods := make(map[string]int, len(c.StatModifiers))
				for k, v := range c.StatModifiers {
					mods[k] = v
				}
				c.StatModifiers = mods
			}
			out.Conditions[i] = c
		}
	}
	out.ExpiredConditions = append([]string(nil), e.ExpiredConditions...)
	if e.PendingAttack != nil {
		p := *e.PendingAttack
		out.PendingAttack = &p
	}
	return out
}

type ActionRequest struct {
	EncounterID     string     `json:"encounter_id"`
	ExpectedVersion int64      `json:"expected_version"`
	Kind            ActionKind `json:"kind" enum:"attack,move,defend,custom,flee"`
	TargetZone      *Zone      `json:"target_zone,omitempty"`
	RawText         *string    `json:"raw_text,omitempty"`
	Weapon          *string    `json:"weapon,omitempty"`
	Target          *int       `json:"target,omitempty"`
	AttackRoll      *int       `json:"attack_roll,omitempty"`
	DamageRoll      *int       `json:"damage_roll,omitempty"`
}

type RollKind string

const (
	RollAttack RollKind = "attack"
	RollDamage RollKind = "damage"
)

// AwaitingRoll tells the client which die the player still has to roll.
type AwaitingRoll struct {
	Kind  RollKind `json:"kind" enum:"attack,damage"`
	Sides int      `json:"sides"`
}

// NarrativeHook is a structured fact handed to the narrator; never prose.
type NarrativeHook struct {
	Round    int     `json:"round"`
	Actor    string  `json:"actor"`
	Kind     string  `json:"kind"`
	Target   string  `json:"target,omitempty"`
	Damage   *int    `json:"damage,omitempty"`
	Roll     *int    `json:"roll,omitempty"`
	Total    *int    `json:"total,omitempty"`
	FromZone Zone    `json:"from_zone,omitempty"`
	ToZone   Zone    `json:"to_zone,omitempty"`
	Text     string  `json:"text,omitempty"`
	Outcome  Outcome `json:"outcome,omitempty"`
}

type ActionResult struct {
	Accepted       bool            `json:"accepted"`
	NarrativeHooks []NarrativeHook `json:"narrative_hooks"`
	EncounterEnded bool            `json:"encounter_ended"`
	Outcome        Outcome         `json:"outcome" enum:"none,victory,defeat,fled"`
	AwaitingRoll   *AwaitingRoll   `json:"awaiting_roll,omitempty"`
	Version        int64           `json:"version"`
	Narration      string          `json:"narration,omitempty"`
}

// Event is one row of an encounter's action log.
type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	EncounterID string `json:"encounter_id"`
	ActorID     string `json:"actor_id"`
	Version     int64  `json:"version"`
	Payload     string `json:"payload_json"`
}
