package sqlite

import (
	"fmt"
	"net/url"
	"testing"
)

// setupTestDB opens a migrated in-memory database private to the test.
// cache=shared lets the writer and reader pools see the same data; the
// escaped test name keeps parallel tests apart.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := open(fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", url.PathEscape(t.Name()), pragmas))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := RunMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return db
}
