package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OpenPostgres opens an instrumented pool, verifies connectivity and pins the
// search_path of every connection to schema when it is set.
func OpenPostgres(ctx context.Context, dsn, schema string) (*sql.DB, error) {
	if schema != "" {
		var err error
		dsn, err = withSearchPath(dsn, schema)
		if err != nil {
			return nil, err
		}
	}

	db, err := otelsql.Open("postgres", dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return db, nil
}

// withSearchPath appends search_path as a connection option. Setting it with
// a one-off SET would only affect a single pooled connection.
func withSearchPath(dsn, schema string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		var err error
		dsn, err = pq.ParseURL(dsn)
		if err != nil {
			return "", fmt.Errorf("parse postgres url: %w", err)
		}
	}
	return fmt.Sprintf("%s options='-c search_path=%s'", dsn, schema), nil
}
