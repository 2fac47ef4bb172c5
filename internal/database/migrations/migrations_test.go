package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	st, err := Up(db)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if !st.Current() || st.Version != 1 {
		t.Errorf("status = %+v, want current at version 1", st)
	}

	for _, table := range []string{"hash_records", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestCheck(t *testing.T) {
	t.Run("fresh database has no schema", func(t *testing.T) {
		db := openTestDB(t)
		defer db.Close()

		st, err := Check(db)
		if !errors.Is(err, ErrNoSchema) {
			t.Fatalf("Check() error = %v, want ErrNoSchema", err)
		}
		if st.Latest != 1 {
			t.Errorf("Latest = %d, want 1", st.Latest)
		}
	})

	t.Run("idempotent migration stays current", func(t *testing.T) {
		db := openTestDB(t)
		defer db.Close()

		for i := 0; i < 2; i++ {
			if _, err := Up(db); err != nil {
				t.Fatalf("Up() run %d error = %v", i+1, err)
			}
		}
		st, err := Check(db)
		if err != nil || !st.Current() {
			t.Errorf("Check() = %+v, %v", st, err)
		}
	})
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		st   Status
		want string
	}{
		{Status{Version: 1, Latest: 1}, "version 1"},
		{Status{Version: 1, Latest: 3}, "version 1, 2 behind"},
		{Status{Version: 4, Latest: 3}, "version 4, newer than this binary (3)"},
		{Status{Version: 2, Latest: 2, Dirty: true}, "version 2 (dirty)"},
	}
	for _, tt := range tests {
		if got := tt.st.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.st, got, tt.want)
		}
	}
}

func TestSchema_HashRecordPathUnique(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if _, err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	_, err := db.Exec("INSERT INTO hash_records (path, size) VALUES ('/inbox/a.txt', 1)")
	if err != nil {
		t.Fatalf("Failed to insert first record: %v", err)
	}

	// Same path again should fail due to the primary key
	_, err = db.Exec("INSERT INTO hash_records (path, size) VALUES ('/inbox/a.txt', 2)")
	if err == nil {
		t.Error("Expected primary key violation for duplicate path, but insert succeeded")
	}
}

func TestSchema_HashRecordDefaults(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if _, err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	if _, err := db.Exec("INSERT INTO hash_records (path, size) VALUES ('/inbox/b.txt', 10)"); err != nil {
		t.Fatalf("Failed to insert record: %v", err)
	}

	var partial, full string
	err := db.QueryRow("SELECT partial_hash, full_hash FROM hash_records WHERE path = ?", "/inbox/b.txt").Scan(&partial, &full)
	if err != nil {
		t.Fatalf("Failed to retrieve record: %v", err)
	}
	if partial != "" || full != "" {
		t.Errorf("hashes = (%q, %q), want empty defaults", partial, full)
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	return db
}
