package questlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitActionSendsAuthAndBody(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":false,"narrative_hooks":[],"encounter_ended":false,"outcome":"none","awaiting_roll":{"kind":"damage","sides":8},"version":3}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok")
	roll := 17
	res, err := c.SubmitAction(context.Background(), "enc 1", Action{Version: 2, Kind: "attack", AttackRoll: &roll})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotAuth != "Bearer tok" || gotPath != "/v0/encounters/enc 1/actions" {
		t.Fatalf("unexpected request auth=%q path=%q", gotAuth, gotPath)
	}
	if gotBody["kind"] != "attack" || gotBody["attack_roll"] != float64(17) || gotBody["version"] != float64(2) {
		t.Fatalf("unexpected body %+v", gotBody)
	}
	if _, ok := gotBody["damage_roll"]; ok {
		t.Fatalf("unset rolls must be omitted: %+v", gotBody)
	}
	if res.AwaitingRoll == nil || res.AwaitingRoll.Sides != 8 || res.Version != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAPIErrorCarriesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Actor-Id") != "hero" {
			t.Errorf("missing actor header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"stale_version","message":"stale version: expected 1, current 2","details":{"current_version":"2"}}}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, ActorID: "hero"}
	_, err := c.SubmitInitiative(context.Background(), "enc-1", 1, 12)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "stale_version" || apiErr.Details["current_version"] != "2" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestActiveCombatNull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/actors/hero/active-combat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"encounter":null,"modifiers":{"STR":1}}`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, "tok").ActiveCombat(context.Background(), "hero")
	if err != nil {
		t.Fatal(err)
	}
	if got.Encounter != nil || got.Modifiers["STR"] != 1 {
		t.Fatalf("unexpected active combat %+v", got)
	}
}
