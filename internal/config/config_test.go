package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"questline/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	rules := cfg.Rules()
	w, ok := rules.Weapon("shortbow")
	if !ok || w.Reach != domain.ReachRanged || w.DamageDie != 6 || w.Name != "shortbow" {
		t.Fatalf("unexpected shortbow %+v", w)
	}
	if rules.DefendBonus != 2 || rules.StartZone != domain.ZoneNear || rules.EnemyZone != domain.ZoneMelee || rules.DefaultWeapon != "longsword" {
		t.Fatalf("unexpected rules %+v", rules)
	}
	if cfg.NarrationTimeout().Seconds() != 5 {
		t.Fatalf("unexpected narration timeout %s", cfg.NarrationTimeout())
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad reach":      "weapons:\n  spear:\n    reach: thrown\n    damage_die: 6\n    stat: STR\n",
		"bad die":        "weapons:\n  spear:\n    reach: melee\n    damage_die: 0\n    stat: STR\n",
		"bad stat":       "weapons:\n  spear:\n    reach: melee\n    damage_die: 6\n    stat: WIS\n",
		"unknown weapon": "weapons:\n  spear:\n    reach: melee\n    damage_die: 6\n    stat: STR\nactor:\n  default_weapon: axe\n",
		"bad zone":       "weapons:\n  spear:\n    reach: melee\n    damage_die: 6\n    stat: STR\nactor:\n  start_zone: space\n",
		"no weapons":     "defend_bonus: 1\n",
		"webhook url":    "weapons:\n  spear:\n    reach: melee\n    damage_die: 6\n    stat: STR\nwebhooks:\n  - events: [encounter.ended]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if len(cfg.Weapons) != 4 {
		t.Fatalf("expected default weapons, got %d", len(cfg.Weapons))
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	doc := "weapons:\n  staff:\n    reach: melee\n    damage_die: 6\n    stat: STR\nactor:\n  default_weapon: staff\ndefend_bonus: 3\n"
	if err := os.WriteFile(filepath.Join(dir, "questline.yml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if rules := cfg.Rules(); rules.DefaultWeapon != "staff" || rules.DefendBonus != 3 {
		t.Fatalf("unexpected rules %+v", rules)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("QUESTLINE_JWT_SECRET", "s3cret")
	t.Setenv("QUESTLINE_LOG_FORMAT", "json")
	t.Setenv("QUESTLINE_ALLOW_ACTOR_HEADER", "true")
	e, err := LoadEnv()
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if e.JWTSecret != "s3cret" || e.LogFormat != "json" || !e.AllowActorHeader || e.Narrator != "noop" || e.LogLevel != "info" {
		t.Fatalf("unexpected env %+v", e)
	}

	t.Setenv("QUESTLINE_NARRATOR", "webhook")
	if _, err := LoadEnv(); err == nil {
		t.Fatalf("expected webhook narrator without url to fail")
	}
	t.Setenv("QUESTLINE_NARRATOR", "oracle")
	if _, err := LoadEnv(); err == nil {
		t.Fatalf("expected unknown narrator to fail")
	}
}
