package server

import (
	"encoding/json"

	"questline/internal/combat"
	"questline/internal/domain"
)

// Request payloads

type CreateEncounterRequest struct {
	ID            string         `json:"id,omitempty"`
	ActorID       string         `json:"actor_id"`
	OriginQuestID string         `json:"origin_quest_id,omitempty"`
	Actor         combat.Sheet   `json:"actor"`
	Enemies       []combat.Sheet `json:"enemies"`
}

type InitiativeRequest struct {
	Version int64 `json:"version"`
	Roll    int   `json:"roll"`
}

type ActionRequest struct {
	Version    int64             `json:"version"`
	Kind       domain.ActionKind `json:"kind" enum:"attack,move,defend,custom,flee"`
	TargetZone *domain.Zone      `json:"target_zone,omitempty" enum:"melee,near,far"`
	RawText    *string           `json:"raw_text,omitempty"`
	Weapon     *string           `json:"weapon,omitempty"`
	Target     *int              `json:"target,omitempty"`
	AttackRoll *int              `json:"attack_roll,omitempty"`
	DamageRoll *int              `json:"damage_roll,omitempty"`
}

type ReplaceConditionsRequest struct {
	Items []domain.Condition `json:"items"`
}

// Responses

type ActiveCombatResponse struct {
	Encounter *domain.Encounter `json:"encounter"`
	Modifiers map[string]int    `json:"modifiers"`
}

type EncounterListResponse struct {
	Items []domain.Encounter `json:"items"`
}

type ConditionListResponse struct {
	Items []domain.Condition `json:"items"`
}

type ModifiersResponse struct {
	Modifiers map[string]int `json:"modifiers"`
}

type EventResponse struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts" format:"date-time"`
	Type        string         `json:"type"`
	EncounterID string         `json:"encounter_id"`
	ActorID     string         `json:"actor_id"`
	Version     int64          `json:"version"`
	Payload     map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func (r ActionRequest) toDomain(encounterID string) domain.ActionRequest {
	return domain.ActionRequest{
		EncounterID:     encounterID,
		ExpectedVersion: r.Version,
		Kind:            r.Kind,
		TargetZone:      r.TargetZone,
		RawText:         r.RawText,
		Weapon:          r.Weapon,
		Target:          r.Target,
		AttackRoll:      r.AttackRoll,
		DamageRoll:      r.DamageRoll,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		TS:          e.TS,
		Type:        e.Type,
		EncounterID: e.EncounterID,
		ActorID:     e.ActorID,
		Version:     e.Version,
		Payload:     decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilEncounters(items []domain.Encounter) []domain.Encounter {
	if items == nil {
		return []domain.Encounter{}
	}
	return items
}

func nonNilConditions(items []domain.Condition) []domain.Condition {
	if items == nil {
		return []domain.Condition{}
	}
	return items
}

func nonNilModifiers(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
