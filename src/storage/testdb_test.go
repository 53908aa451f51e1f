package storage

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"calsync/src/lib"
	"calsync/src/storage/storagetest"
)

// openIntegrationPool returns a migrated pool scoped to a fresh schema.
func openIntegrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pool, err := NewPool(ctx, lib.Config{DatabaseURL: storagetest.DatabaseURL(t, "storage")})
	if err != nil {
		t.Fatalf("open test DB pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := ApplyMigrations(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return pool
}
