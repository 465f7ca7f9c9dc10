package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds service settings that come from the process environment.
type Env struct {
	JWTSecret        string `env:"QUESTLINE_JWT_SECRET"`
	AllowActorHeader bool   `env:"QUESTLINE_ALLOW_ACTOR_HEADER" envDefault:"false"`
	LogLevel         string `env:"QUESTLINE_LOG_LEVEL"          envDefault:"info"`
	LogFormat        string `env:"QUESTLINE_LOG_FORMAT"         envDefault:"text"`
	Narrator         string `env:"QUESTLINE_NARRATOR"           envDefault:"noop"`
	NarratorURL      string `env:"QUESTLINE_NARRATOR_URL"`
	NarratorSecret   string `env:"QUESTLINE_NARRATOR_SECRET"`
	GeminiAPIKey     string `env:"QUESTLINE_GEMINI_API_KEY"`
	GeminiModel      string `env:"QUESTLINE_GEMINI_MODEL"       envDefault:"gemini-1.5-flash"`
	ConditionsURL    string `env:"QUESTLINE_CONDITIONS_URL"`
	ConditionsToken  string `env:"QUESTLINE_CONDITIONS_TOKEN"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnv parses Env and checks the narrator selection.
func LoadEnv() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	switch e.Narrator {
	case "noop", "":
	case "webhook":
		if e.NarratorURL == "" {
			return Env{}, fmt.Errorf("QUESTLINE_NARRATOR=webhook requires QUESTLINE_NARRATOR_URL")
		}
	case "gemini":
		if e.GeminiAPIKey == "" {
			return Env{}, fmt.Errorf("QUESTLINE_NARRATOR=gemini requires QUESTLINE_GEMINI_API_KEY")
		}
	default:
		return Env{}, fmt.Errorf("unknown narrator %q (want noop, webhook or gemini)", e.Narrator)
	}
	return e, nil
}
