package testutil

import (
	"database/sql"
	"testing"

	"nbagames/pkg/migrations"
)

// OpenDB opens an in-memory sqlite db with schema applied, it is closed
// when the test finishes.
func OpenDB(t testing.TB, schema string) *sql.DB {
	t.Helper()
	db, err := migrations.OpenAndMigrateDB(schema, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
