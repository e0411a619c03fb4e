package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/joao-fontenele/shoplite/internal/config"
)

const usage = "usage: migrate [-path url] [-steps n] <up|down|version|force VERSION>"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	path := flag.String("path", "file://migrations", "migration source URL")
	steps := flag.Int("steps", 1, "migrations to roll back with down")
	flag.Parse()

	if flag.NArg() < 1 {
		logger.Error(usage)
		os.Exit(1)
	}

	cfg := config.MustLoad(logger)
	if err := config.Require(map[string]string{"POSTGRES_URL": cfg.Postgres.URL}); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	m, err := migrate.New(*path, cfg.Postgres.URL)
	if err != nil {
		logger.Error("failed to open migrations", "source", *path, "error", err)
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	if err := run(logger, m, *steps, flag.Args()); err != nil {
		logger.Error("migrate failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, m *migrate.Migrate, steps int, args []string) error {
	switch args[0] {
	case "up":
		return report(logger, m.Up(), "migrations applied")

	case "down":
		return report(logger, m.Steps(-steps), "migrations rolled back", "steps", steps)

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied yet")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		return nil

	case "force":
		if len(args) < 2 {
			return errors.New(usage)
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return report(logger, m.Force(version), "migration version forced", "version", version)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// report treats ErrNoChange as success.
func report(logger *slog.Logger, err error, msg string, args ...any) error {
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("nothing to migrate")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info(msg, args...)
	return nil
}
