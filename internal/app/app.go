package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"questline/internal/conditions"
	"questline/internal/config"
	"questline/internal/db"
	"questline/internal/engine"
	"questline/internal/migrate"
	"questline/internal/narrative"
)

// Workspace is an opened, migrated store with the engine bound to it.
type Workspace struct {
	Root   string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine

	closers []io.Closer
}

// Open prepares the workspace directory, applies pending migrations and loads
// questline.yml, falling back to the built-in rules when the file is absent.
func Open(ctx context.Context, root string, log logrus.FieldLogger) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(root); err != nil {
		return nil, fmt.Errorf("ensure workspace: %w", err)
	}
	cfg, err := config.LoadOrDefault(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: root})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	before, err := migrate.Current(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	after, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if after > before && log != nil {
		log.WithFields(logrus.Fields{"from": before, "to": after}).Info("schema migrated")
	}
	return &Workspace{
		Root:    root,
		DB:      conn,
		Config:  cfg,
		Engine:  engine.New(conn, cfg, log),
		closers: []io.Closer{conn},
	}, nil
}

// Configure swaps in the narrator and condition source selected by env.
func (w *Workspace) Configure(ctx context.Context, env config.Env) error {
	switch env.Narrator {
	case "webhook":
		w.Engine.Narrator = narrative.Webhook{URL: env.NarratorURL, Secret: env.NarratorSecret}
	case "gemini":
		g, err := narrative.NewGemini(ctx, env.GeminiAPIKey, env.GeminiModel)
		if err != nil {
			return fmt.Errorf("gemini narrator: %w", err)
		}
		w.Engine.Narrator = g
		w.closers = append(w.closers, g)
	default:
		w.Engine.Narrator = narrative.Noop{}
	}
	if env.ConditionsURL != "" {
		w.Engine.Conditions = conditions.NewHTTPSource(env.ConditionsURL, env.ConditionsToken)
	}
	return nil
}

// Close releases the narrator client and the database, newest first.
func (w *Workspace) Close() error {
	var first error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
