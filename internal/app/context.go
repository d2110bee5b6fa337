// Package app wires a workspace together: database, config file and blob
// store, resolved the same way by the CLI and the server.
package app

import (
	"database/sql"
	"fmt"
	"os"

	"leaseline/internal/config"
	"leaseline/internal/db"
	"leaseline/internal/migrate"
	"leaseline/internal/storage"
)

// Context is everything a command needs to operate on a workspace.
type Context struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Store     *storage.FileStore
}

// Open prepares a workspace: the dot directory, the migrated database, the
// config file (seeded with defaults when missing) and the file store.
func Open(workspace string) (*Context, error) {
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workspace = wd
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := resolveConfig(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	storeDir := cfg.Storage.Dir
	if storeDir == "" {
		storeDir = db.FilesDir(workspace)
	}
	store, err := storage.NewFileStore(storeDir)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Context{Workspace: workspace, DB: conn, Config: cfg, Store: store}, nil
}

// resolveConfig loads the workspace config file, writing the default one on
// first use so operators have something to edit.
func resolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
		if err := config.Save(workspace, cfg); err != nil {
			return nil, fmt.Errorf("seed config: %w", err)
		}
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", config.Path(workspace), err)
	}
	return cfg, nil
}

// Close releases the database handle.
func (c *Context) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
