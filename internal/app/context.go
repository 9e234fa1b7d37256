package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"agentsim/internal/catalog"
	"agentsim/internal/config"
	"agentsim/internal/db"
	"agentsim/internal/demo"
	"agentsim/internal/engine"
	"agentsim/internal/migrate"
	"agentsim/internal/store"
)

// App bundles the resolved config, catalog and engine shared by the CLI
// commands and the HTTP server.
type App struct {
	Config  *config.Config
	Catalog *catalog.Catalog
	Engine  *engine.Engine

	conn *sql.DB
}

// Bootstrap resolves config for the workspace, builds the agent catalog and
// wires the engine. The demo agents register first, then any profiles from
// the configured catalog file.
func Bootstrap(ctx context.Context, workspace string, log *slog.Logger) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	return bootstrap(ctx, cfg, log)
}

func bootstrap(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Catalog: catalog.New(),
	}
	if cfg.Catalog.Demo {
		conn, err := db.Open(db.Config{Workspace: cfg.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open demo database: %w", err)
		}
		a.conn = conn
		if err := migrate.Migrate(conn); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate demo database: %w", err)
		}
		if err := demo.Register(a.Catalog, conn); err != nil {
			a.Close()
			return nil, fmt.Errorf("register demo agents: %w", err)
		}
	}
	if path := cfg.CatalogPath(); path != "" {
		profiles, err := catalog.LoadFile(path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load catalog file: %w", err)
		}
		for _, p := range profiles {
			agent, err := catalog.NewAgent(p)
			if err != nil {
				a.Close()
				return nil, err
			}
			bindEcho(agent)
			if err := a.Catalog.Add(agent); err != nil {
				a.Close()
				return nil, err
			}
		}
	}
	a.Engine = engine.New(a.Catalog, store.New())
	a.Engine.Log = log
	return a, nil
}

// Close releases the demo database connection, if open.
func (a *App) Close() error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

// bindEcho attaches echo handlers to every tool of a file-declared profile.
// Declared agents have no Go implementation; echoing the arguments back keeps
// the full invoke/trace/export path usable for them.
func bindEcho(a *catalog.Agent) {
	for _, t := range a.Profile.Tools {
		name := t.Name
		_ = a.Bind(name, func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"tool": name, "echo": args}, nil
		})
	}
}
