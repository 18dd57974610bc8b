package commands

import (
	"os"
	"path/filepath"

	"github.com/edge-vision/camctl/internal/config"
	"github.com/edge-vision/camctl/pkg/db"
	"github.com/edge-vision/camctl/pkg/errors"
	"github.com/edge-vision/camctl/pkg/lifecycle"
	"github.com/edge-vision/camctl/pkg/stage"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// FSM store (durable runs only)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	// Work directory (run and cleanup only)
	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}

// openRepository opens the run history database, creating its directory.
func openRepository(cfg *config.Config) (*db.Repository, error) {
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return nil, err
	}
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

// standardRegistry returns the lifecycle stages in declaration order.
func standardRegistry(opts lifecycle.Options) (*stage.Registry, error) {
	reg := stage.NewRegistry()
	if err := lifecycle.Register(reg, opts); err != nil {
		return nil, errors.Wrap(err, "stage registration failed")
	}
	return reg, nil
}

// selectStages resolves patterns; strict makes unmatched patterns fatal.
func selectStages(reg *stage.Registry, patterns []string, strict bool) (*stage.Selection, error) {
	var opts []stage.SelectOption
	if strict {
		opts = append(opts, stage.WithStrict())
	}
	return stage.Select(reg, patterns, opts...)
}
