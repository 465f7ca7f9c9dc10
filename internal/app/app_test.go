package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"questline/internal/conditions"
	"questline/internal/config"
	"questline/internal/logger"
	"questline/internal/narrative"
	"questline/internal/repo"
)

func TestOpenAndConfigure(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	ws, err := Open(ctx, root, logger.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()

	if _, err := os.Stat(filepath.Join(root, ".questline", "questline.db")); err != nil {
		t.Fatalf("db file missing: %v", err)
	}
	if ws.Config.DefendBonus != config.Default().DefendBonus {
		t.Fatalf("expected default rules, got %+v", ws.Config)
	}
	if _, ok := ws.Engine.Conditions.(repo.ConditionStore); !ok {
		t.Fatalf("expected local condition store, got %T", ws.Engine.Conditions)
	}

	if err := ws.Configure(ctx, config.Env{Narrator: "webhook", NarratorURL: "http://127.0.0.1:1/narrate", ConditionsURL: "http://127.0.0.1:1"}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if _, ok := ws.Engine.Narrator.(narrative.Webhook); !ok {
		t.Fatalf("expected webhook narrator, got %T", ws.Engine.Narrator)
	}
	if _, ok := ws.Engine.Conditions.(*conditions.HTTPSource); !ok {
		t.Fatalf("expected http condition source, got %T", ws.Engine.Conditions)
	}
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	root := t.TempDir()
	cfg := config.GenerateDefault()
	if err := os.WriteFile(config.Path(root), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	ws, err := Open(context.Background(), root, logger.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()
	if len(ws.Config.Weapons) == 0 {
		t.Fatalf("expected weapons from file")
	}
	// Reopening runs no further migrations.
	ws2, err := Open(context.Background(), root, logger.Discard())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ws2.Close()
}
