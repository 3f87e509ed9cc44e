package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/joao-fontenele/artisanflow/internal/config"
	"github.com/joao-fontenele/artisanflow/internal/telemetry"
)

func main() {
	bootstrap := slog.New(slog.NewTextHandler(os.Stdout, nil))

	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		bootstrap.Error("usage: migrate <up|down|version|force N>")
		os.Exit(1)
	}

	cfg, err := config.Load(bootstrap)
	if err != nil {
		bootstrap.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.SlogLevel(), cfg.ServiceName+"-migrate")

	if cfg.PostgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	m, err := migrate.New(cfg.MigrationsPath, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to create migrate instance", "error", err, "path", cfg.MigrationsPath)
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	if err := run(m, args, logger); err != nil {
		logger.Error("migration command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func run(m *migrate.Migrate, args []string, logger *slog.Logger) error {
	switch args[0] {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no pending migrations")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("migrations applied successfully")

	case "down":
		err := m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to rollback")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("migration rolled back successfully")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied yet")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("current migration version", "version", version, "dirty", dirty)

	case "force":
		// Clears the dirty flag after a failed migration was fixed by hand.
		if len(args) < 2 {
			return errors.New("force requires a version")
		}
		var version int
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := m.Force(version); err != nil {
			return err
		}
		logger.Info("migration version forced", "version", version)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
