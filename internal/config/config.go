package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"questline/internal/combat"
	"questline/internal/domain"
)

// Config models questline.yml: the tunable combat rules plus outbound hooks.
type Config struct {
	Weapons map[string]WeaponConfig `yaml:"weapons"`
	Actor   struct {
		StartZone     domain.Zone `yaml:"start_zone"`
		DefaultWeapon string      `yaml:"default_weapon"`
	} `yaml:"actor"`
	Enemies struct {
		StartZone domain.Zone `yaml:"start_zone"`
	} `yaml:"enemies"`
	DefendBonus int `yaml:"defend_bonus"`
	Narration   struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"narration"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WeaponConfig struct {
	Reach     domain.Reach `yaml:"reach"`
	DamageDie int          `yaml:"damage_die"`
	Stat      string       `yaml:"stat"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config is internally consistent.
func (c *Config) Validate() error {
	if len(c.Weapons) == 0 {
		return fmt.Errorf("config.weapons is required")
	}
	for name, w := range c.Weapons {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.weapons contains an empty name")
		}
		if w.Reach != domain.ReachMelee && w.Reach != domain.ReachRanged {
			return fmt.Errorf("weapon %s: reach must be melee or ranged", name)
		}
		if w.DamageDie < 1 {
			return fmt.Errorf("weapon %s: damage_die must be at least 1", name)
		}
		if w.Stat != domain.StatSTR && w.Stat != domain.StatDEX {
			return fmt.Errorf("weapon %s: stat must be STR or DEX", name)
		}
	}
	if c.Actor.StartZone != "" && !c.Actor.StartZone.Valid() {
		return fmt.Errorf("config.actor.start_zone %q is not a zone", c.Actor.StartZone)
	}
	if c.Enemies.StartZone != "" && !c.Enemies.StartZone.Valid() {
		return fmt.Errorf("config.enemies.start_zone %q is not a zone", c.Enemies.StartZone)
	}
	if c.Actor.DefaultWeapon != "" && c.Actor.DefaultWeapon != combat.Unarmed.Name {
		if _, ok := c.Weapons[c.Actor.DefaultWeapon]; !ok {
			return fmt.Errorf("config.actor.default_weapon references unknown weapon %s", c.Actor.DefaultWeapon)
		}
	}
	if c.DefendBonus < 0 {
		return fmt.Errorf("config.defend_bonus must not be negative")
	}
	if c.Narration.TimeoutSeconds < 0 {
		return fmt.Errorf("config.narration.timeout_seconds must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Rules converts the config into combat mechanics.
func (c *Config) Rules() combat.Rules {
	rules := combat.DefaultRules()
	rules.Weapons = make(map[string]domain.Weapon, len(c.Weapons))
	for name, w := range c.Weapons {
		rules.Weapons[name] = domain.Weapon{Name: name, Reach: w.Reach, DamageDie: w.DamageDie, Stat: w.Stat}
	}
	rules.DefendBonus = c.DefendBonus
	if c.Actor.StartZone != "" {
		rules.StartZone = c.Actor.StartZone
	}
	if c.Enemies.StartZone != "" {
		rules.EnemyZone = c.Enemies.StartZone
	}
	rules.DefaultWeapon = c.Actor.DefaultWeapon
	return rules
}

// NarrationTimeout bounds a single narrator call.
func (c *Config) NarrationTimeout() time.Duration {
	if c.Narration.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Narration.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "questline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with questline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault falls back to Default when the workspace has no config file.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in rules.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `weapons:
  longsword:
    reach: melee
    damage_die: 8
    stat: STR
  dagger:
    reach: melee
    damage_die: 4
    stat: DEX
  shortbow:
    reach: ranged
    damage_die: 6
    stat: DEX
  claws:
    reach: melee
    damage_die: 6
    stat: STR

actor:
  start_zone: near
  default_weapon: longsword

enemies:
  start_zone: melee

defend_bonus: 2

narration:
  timeout_seconds: 5

webhooks: []
`
