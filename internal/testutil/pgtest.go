// Package testutil provides the PostgreSQL fixture for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/migrations"
)

// Postgres returns a migrated database private to t. Every call gets its
// own schema, so tests may run in parallel against one server; the schema
// is dropped when t finishes.
//
// POSTGRES_URL selects an existing server. Without it, PGTEST_CONTAINER=1
// starts one postgres container shared by the package's tests; otherwise
// the test is skipped.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	base := serverURL(ctx, t)
	schema := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	admin, err := sql.Open("postgres", base)
	if err != nil {
		t.Fatalf("pgtest: open %s: %v", redactURL(base), err)
	}
	defer func() { _ = admin.Close() }()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("pgtest: create schema: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if db, err := sql.Open("postgres", base); err == nil {
			_, _ = db.ExecContext(ctx, "DROP SCHEMA "+schema+" CASCADE")
			_ = db.Close()
		}
	})

	scoped, err := withSearchPath(base, schema)
	if err != nil {
		t.Fatalf("pgtest: %v", err)
	}
	db, err := sql.Open("postgres", scoped)
	if err != nil {
		t.Fatalf("pgtest: open scoped connection: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	goose.SetLogger(goose.NopLogger())
	if err := migrations.Up(ctx, db); err != nil {
		t.Fatalf("pgtest: migrate: %v", err)
	}
	return db
}

var shared struct {
	once sync.Once
	url  string
	err  error
}

func serverURL(ctx context.Context, t *testing.T) string {
	t.Helper()
	if u := os.Getenv("POSTGRES_URL"); u != "" {
		return u
	}
	if os.Getenv("PGTEST_CONTAINER") != "1" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	// The container outlives individual tests; the testcontainers reaper
	// removes it when the test binary exits.
	shared.once.Do(func() {
		ctr, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("blocksmith_test"),
			postgres.WithUsername("blocksmith"),
			postgres.WithPassword("blocksmith"),
			postgres.BasicWaitStrategies(),
			testcontainers.WithEnv(map[string]string{"TZ": "UTC"}),
		)
		if err != nil {
			shared.err = err
			return
		}
		shared.url, shared.err = ctr.ConnectionString(ctx, "sslmode=disable")
	})
	if shared.err != nil {
		t.Skipf("pgtest: postgres container unavailable: %v", shared.err)
	}
	return shared.url
}

// withSearchPath pins new connections to schema. lib/pq passes unknown
// parameters through as session settings.
func withSearchPath(raw, schema string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "database"
	}
	return u.Redacted()
}
