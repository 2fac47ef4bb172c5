package shred

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sfo-go/internal/sfo"
	"sfo-go/internal/testutil"
)

func TestShredder_Delete(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("account 1234-5678 "), 10000)
	tests := []struct {
		name     string
		passes   int
		wantByte byte
	}{
		{"single pass leaves random data", 1, 0},
		{"second pass writes zeros", 2, 0x00},
		{"third pass writes ones", 3, 0xFF},
		{"passes wrap around", 6, 0xFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			path := testutil.WriteFile(t, filepath.Join(dir, "statement.txt"), content)
			// A second link keeps the inode readable after the file is removed.
			peek := filepath.Join(dir, "peek")
			if err := os.Link(path, peek); err != nil {
				t.Skipf("hard links unsupported: %v", err)
			}

			if err := New(nil).Delete(path, tt.passes); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if testutil.Exists(path) {
				t.Fatal("file still exists")
			}

			got, err := os.ReadFile(peek)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(content) {
				t.Fatalf("overwritten size = %d, want %d", len(got), len(content))
			}
			if bytes.Contains(got, []byte("account")) {
				t.Fatal("original content survived")
			}
			if tt.passes%3 == 1 {
				return
			}
			if want := bytes.Repeat([]byte{tt.wantByte}, len(content)); !bytes.Equal(got, want) {
				t.Errorf("last pass did not write %#x throughout", tt.wantByte)
			}
		})
	}
}

func TestShredder_EmptyFile(t *testing.T) {
	t.Parallel()
	path := testutil.WriteFile(t, filepath.Join(t.TempDir(), "empty"), nil)
	if err := New(nil).Delete(path, 3); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if testutil.Exists(path) {
		t.Error("file still exists")
	}
}

func TestShredder_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := New(nil)

	if err := s.Delete(filepath.Join(dir, "gone"), 1); !errors.Is(err, sfo.ErrFileVanished) {
		t.Errorf("Delete(missing) error = %v, want ErrFileVanished", err)
	}
	if err := s.Delete(dir, 1); err == nil {
		t.Error("Delete(directory) should fail")
	}
	if !testutil.Exists(dir) {
		t.Error("directory was removed")
	}
}
