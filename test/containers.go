// Package test holds the container-backed integration suite. Run it with
// `go test -tags integration ./test/...`; Docker must be reachable.
package test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/joao-fontenele/shoplite/internal/telemetry"
)

const (
	postgresImage = "postgres:18-alpine"
	kafkaImage    = "confluentinc/confluent-local:7.8.0"
)

type PostgresSetup struct {
	ConnStr string
	cleanup func()
}

func (p *PostgresSetup) Cleanup() {
	p.cleanup()
}

// SetupPostgres starts a throwaway database with every migration applied.
func SetupPostgres(ctx context.Context, t *testing.T) *PostgresSetup {
	t.Helper()

	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("shoplite"),
		postgres.WithUsername("shoplite"),
		postgres.WithPassword("shoplite"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	terminate := func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err == nil {
		err = migrateUp(connStr)
	}
	if err != nil {
		terminate()
		t.Fatalf("prepare postgres: %v", err)
	}

	return &PostgresSetup{ConnStr: connStr, cleanup: terminate}
}

func migrateUp(connStr string) error {
	m, err := migrate.New(migrationsURL(), connStr)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// migrationsURL resolves migrations/ relative to this file so the suite runs
// from any working directory.
func migrationsURL() string {
	_, file, _, _ := runtime.Caller(0)
	return "file://" + filepath.Join(filepath.Dir(filepath.Dir(file)), "migrations")
}

// SetupKafka starts a single-node KRaft broker and returns its addresses.
func SetupKafka(ctx context.Context, t *testing.T) ([]string, func()) {
	t.Helper()

	container, err := kafka.Run(ctx, kafkaImage, kafka.WithClusterID("shoplite-it"))
	if err != nil {
		t.Fatalf("start kafka: %v", err)
	}
	terminate := func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate kafka: %v", err)
		}
	}

	brokers, err := container.Brokers(ctx)
	if err != nil {
		terminate()
		t.Fatalf("kafka brokers: %v", err)
	}
	return brokers, terminate
}

// DBWithSchema opens a pool whose connections all resolve tables in schema,
// the same way the services do.
func DBWithSchema(ctx context.Context, t *testing.T, connStr, schema string) *sql.DB {
	t.Helper()

	db, err := telemetry.OpenPostgres(ctx, connStr, schema)
	if err != nil {
		t.Fatalf("open %s database: %v", schema, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
