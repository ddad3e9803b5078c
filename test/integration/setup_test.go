package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healz/reports/internal/domain/patient"
	"github.com/healz/reports/internal/platform/db"
)

// pool is shared by every test and migrated once in TestMain. Tests create
// their own patients so they do not see each other's rows.
var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := startPostgres(ctx)
	if errors.Is(err, errNoDocker) {
		fmt.Fprintln(os.Stderr, "skipping integration tests: docker not available")
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	pool, err = db.NewPool(ctx, connStr, 10, 1)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "create pool: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigrator(pool).Up(ctx); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func createTestPatient(t *testing.T, ctx context.Context, firstName, lastName string) *patient.Patient {
	t.Helper()
	p := &patient.Patient{FirstName: firstName, LastName: lastName}
	if err := patient.NewService(patient.NewRepoPG(pool)).CreatePatient(ctx, p); err != nil {
		t.Fatalf("create test patient: %v", err)
	}
	return p
}
