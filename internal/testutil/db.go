package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kjannette/tethra-tap/internal/db"
	"github.com/kjannette/tethra-tap/internal/logger"
)

// SetupPool connects to TEST_DATABASE_URL and applies the schema. Tests are
// skipped when no database is configured.
func SetupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := db.Open(context.Background(), dsn, logger.Discard())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}
