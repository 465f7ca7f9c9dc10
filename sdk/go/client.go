package questlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Questline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set; servers
	// only honor it with the legacy header enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Sheet describes one combatant when starting an encounter.
type Sheet struct {
	Name        string `json:"name"`
	HP          int    `json:"hp"`
	MaxHP       int    `json:"max_hp,omitempty"`
	ArmorClass  int    `json:"armor_class"`
	DexModifier int    `json:"dex_modifier,omitempty"`
	StrModifier int    `json:"str_modifier,omitempty"`
	Weapon      string `json:"weapon,omitempty"`
	Zone        string `json:"zone,omitempty"`
}

// CreateEncounterRequest starts an encounter for an actor.
type CreateEncounterRequest struct {
	ID            string  `json:"id,omitempty"`
	ActorID       string  `json:"actor_id"`
	OriginQuestID string  `json:"origin_quest_id,omitempty"`
	Actor         Sheet   `json:"actor"`
	Enemies       []Sheet `json:"enemies"`
}

// Combatant is one entry of the initiative order.
type Combatant struct {
	Name            string `json:"name"`
	Side            string `json:"side"`
	HP              int    `json:"hp"`
	MaxHP           int    `json:"max_hp"`
	ArmorClass      int    `json:"armor_class"`
	Zone            string `json:"zone"`
	InitiativeScore *int   `json:"initiative_score,omitempty"`
	NeedsRoll       bool   `json:"needs_roll"`
	Weapon          string `json:"weapon"`
	Defending       bool   `json:"defending,omitempty"`
}

// Condition is a round-limited stat modifier.
type Condition struct {
	Name            string         `json:"name"`
	Source          string         `json:"source"`
	StatModifiers   map[string]int `json:"stat_modifiers"`
	RoundsRemaining int            `json:"rounds_remaining"`
}

// Encounter is the API encounter model.
type Encounter struct {
	ID              string      `json:"id"`
	ActorID         string      `json:"actor_id"`
	OriginQuestID   *string     `json:"origin_quest_id,omitempty"`
	Status          string      `json:"status"`
	Round           int         `json:"round"`
	TurnCursor      int         `json:"turn_cursor"`
	Version         int64       `json:"version"`
	InitiativeOrder []Combatant `json:"initiative_order"`
	Conditions      []Condition `json:"conditions"`
	CreatedAt       string      `json:"created_at"`
	UpdatedAt       string      `json:"updated_at"`
}

// Action is one player action. Version must be the last version observed.
type Action struct {
	Version    int64   `json:"version"`
	Kind       string  `json:"kind"`
	TargetZone *string `json:"target_zone,omitempty"`
	RawText    *string `json:"raw_text,omitempty"`
	Weapon     *string `json:"weapon,omitempty"`
	Target     *int    `json:"target,omitempty"`
	AttackRoll *int    `json:"attack_roll,omitempty"`
	DamageRoll *int    `json:"damage_roll,omitempty"`
}

// NarrativeHook is a structured fact about what happened.
type NarrativeHook struct {
	Round   int    `json:"round"`
	Actor   string `json:"actor"`
	Kind    string `json:"kind"`
	Target  string `json:"target,omitempty"`
	Damage  *int   `json:"damage,omitempty"`
	Text    string `json:"text,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

// AwaitingRoll names the die the player has to roll next.
type AwaitingRoll struct {
	Kind  string `json:"kind"`
	Sides int    `json:"sides"`
}

// ActionResult is the outcome of one action.
type ActionResult struct {
	Accepted       bool            `json:"accepted"`
	NarrativeHooks []NarrativeHook `json:"narrative_hooks"`
	EncounterEnded bool            `json:"encounter_ended"`
	Outcome        string          `json:"outcome"`
	AwaitingRoll   *AwaitingRoll   `json:"awaiting_roll,omitempty"`
	Version        int64           `json:"version"`
	Narration      string          `json:"narration,omitempty"`
}

// ActiveCombat is the actor's open encounter, if any, with current modifiers.
type ActiveCombat struct {
	Encounter *Encounter     `json:"encounter"`
	Modifiers map[string]int `json:"modifiers"`
}

// Event represents a log entry.
type Event struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Type        string         `json:"type"`
	EncounterID string         `json:"encounter_id"`
	ActorID     string         `json:"actor_id"`
	Version     int64          `json:"version"`
	Payload     map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error envelope's code, such
// as "stale_version", when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateEncounter starts an encounter.
func (c *Client) CreateEncounter(ctx context.Context, req CreateEncounterRequest) (Encounter, error) {
	var resp Encounter
	err := c.do(ctx, http.MethodPost, "v0/encounters", req, &resp)
	return resp, err
}

// GetEncounter fetches an encounter by id.
func (c *Client) GetEncounter(ctx context.Context, id string) (Encounter, error) {
	var resp Encounter
	err := c.do(ctx, http.MethodGet, "v0/encounters/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ActiveCombat returns the actor's pending or active encounter.
func (c *Client) ActiveCombat(ctx context.Context, actorID string) (ActiveCombat, error) {
	var resp ActiveCombat
	err := c.do(ctx, http.MethodGet, c.actorPath(actorID, "active-combat"), nil, &resp)
	return resp, err
}

// SubmitInitiative sends the actor's d20 roll.
func (c *Client) SubmitInitiative(ctx context.Context, id string, version int64, roll int) (Encounter, error) {
	var resp Encounter
	body := map[string]any{"version": version, "roll": roll}
	err := c.do(ctx, http.MethodPost, "v0/encounters/"+url.PathEscape(id)+"/initiative", body, &resp)
	return resp, err
}

// SubmitAction sends one action.
func (c *Client) SubmitAction(ctx context.Context, id string, action Action) (ActionResult, error) {
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, "v0/encounters/"+url.PathEscape(id)+"/actions", action, &resp)
	return resp, err
}

// EncounterLog lists log entries after the cursor.
func (c *Client) EncounterLog(ctx context.Context, id string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/encounters/" + url.PathEscape(id) + "/log"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ReplaceConditions pushes the actor's full condition list.
func (c *Client) ReplaceConditions(ctx context.Context, actorID string, conds []Condition) ([]Condition, error) {
	var resp struct {
		Items []Condition `json:"items"`
	}
	err := c.do(ctx, http.MethodPut, c.actorPath(actorID, "conditions"), map[string]any{"items": conds}, &resp)
	return resp.Items, err
}

// Conditions lists the actor's active conditions.
func (c *Client) Conditions(ctx context.Context, actorID string) ([]Condition, error) {
	var resp struct {
		Items []Condition `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.actorPath(actorID, "conditions"), nil, &resp)
	return resp.Items, err
}

// Modifiers returns the actor's summed stat modifiers.
func (c *Client) Modifiers(ctx context.Context, actorID string) (map[string]int, error) {
	var resp struct {
		Modifiers map[string]int `json:"modifiers"`
	}
	err := c.do(ctx, http.MethodGet, c.actorPath(actorID, "modifiers"), nil, &resp)
	return resp.Modifiers, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}

func (c *Client) actorPath(actorID, p string) string {
	return fmt.Sprintf("v0/actors/%s/%s", url.PathEscape(actorID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
