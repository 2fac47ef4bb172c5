package testutil

import (
	"testing"

	"sfo-go/internal/database"
	"sfo-go/internal/sfo"
)

// NewTestHashStore creates a new in-memory SQLite hash store with schema applied.
// The store is automatically closed when the test completes.
func NewTestHashStore(t *testing.T) sfo.HashStore {
	t.Helper()

	store, err := database.NewSQLiteHashStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open hash store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
