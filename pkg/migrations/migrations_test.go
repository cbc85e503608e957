package migrations

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSchema = `CREATE TABLE IF NOT EXISTS item (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`

func TestOpenAndMigrateDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")

	db, err := OpenAndMigrateDB(testSchema, path)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO item (name) VALUES ('a')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// applying the schema twice keeps existing rows
	db, err = OpenAndMigrateDB(testSchema, path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM item").Scan(&count))
	require.Equal(t, 1, count)
}
