// Package dbtest provides a shared PostgreSQL testcontainer and per-test
// schema isolation for storage package integration tests, adapted from the
// teacher's test/util database helpers to our migration-based client
// instead of ent's Schema.Create.
package dbtest

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// NewClient returns a *storage.Client backed by a fresh, migrated schema
// inside a shared PostgreSQL container (or CI_DATABASE_URL if set). The
// schema is dropped and the pool closed via t.Cleanup.
func NewClient(t *testing.T) *storage.Client {
	t.Helper()
	ctx := context.Background()

	baseConnStr := sharedDatabase(t)
	schemaName := generateSchemaName(t)

	admin, err := stdsql.Open("pgx", baseConnStr)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	_ = admin.Close()

	connStrWithSchema := addSearchPath(baseConnStr, schemaName)

	client, err := storage.NewClientFromDSN(ctx, connStrWithSchema)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		cleanup, err := stdsql.Open("pgx", baseConnStr)
		if err != nil {
			t.Logf("dbtest: could not connect to drop schema %s: %v", schemaName, err)
			return
		}
		defer cleanup.Close()
		if _, err := cleanup.ExecContext(context.Background(),
			fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName)); err != nil {
			t.Logf("dbtest: failed to drop schema %s: %v", schemaName, err)
		}
	})

	return client
}

func sharedDatabase(t *testing.T) string {
	t.Helper()
	if ciURL := os.Getenv("CI_DATABASE_URL"); ciURL != "" {
		t.Log("dbtest: using external PostgreSQL from CI_DATABASE_URL")
		return ciURL
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("dbtest: starting shared PostgreSQL testcontainer")

		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("get connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	require.NoError(t, containerErr, "failed to set up shared test container")
	return sharedConnStr
}

func generateSchemaName(t *testing.T) string {
	t.Helper()
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		t.Fatalf("dbtest: generate random suffix: %v", err)
	}
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(randomBytes))
}

func addSearchPath(connStr, schemaName string) string {
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", connStr, sep, schemaName)
}
