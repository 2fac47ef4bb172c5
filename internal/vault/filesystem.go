package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sfo-go/internal/sfo"
)

// ObjectSuffix is appended to every object file in a FileSystemVault.
const ObjectSuffix = ".age"

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// It stores sealed objects as files in a directory structure:
//
//	<root>/
//	  objects/
//	    <id>.age
type FileSystemVault struct {
	name       string
	root       string
	objectsDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	objectsDir := filepath.Join(root, "objects")

	// Sealed files are private to the user.
	if err := os.MkdirAll(objectsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create objects directory: %w", err)
	}

	return &FileSystemVault{
		name:       name,
		root:       root,
		objectsDir: objectsDir,
	}, nil
}

func (v *FileSystemVault) objectPath(id string) string {
	return filepath.Join(v.objectsDir, id+ObjectSuffix)
}

// Put stores an object under id, replacing any previous object.
func (v *FileSystemVault) Put(id string, r io.Reader, size int64) error {
	if err := validID(id); err != nil {
		return err
	}
	return v.writeFile(v.objectPath(id), r, size)
}

// Get writes the object stored under id to w.
func (v *FileSystemVault) Get(id string, w io.Writer) error {
	if err := validID(id); err != nil {
		return err
	}
	return v.readFile(v.objectPath(id), w, id)
}

// Delete removes the object stored under id.
func (v *FileSystemVault) Delete(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := os.Remove(v.objectPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List returns the stored IDs in lexical order.
func (v *FileSystemVault) List() ([]string, error) {
	entries, err := os.ReadDir(v.objectsDir)
	if err != nil {
		return nil, fmt.Errorf("reading objects directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ObjectSuffix) || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ObjectSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.objectsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// readFile reads from the specified path and writes to w.
func (v *FileSystemVault) readFile(srcPath string, w io.Writer, id string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", sfo.ErrVaultObjectNotFound, id)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// validID rejects IDs that could escape the vault's namespace.
func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid vault object id: %q", id)
	}
	return nil
}

// Compile-time check that FileSystemVault implements sfo.Vault interface
var _ sfo.Vault = (*FileSystemVault)(nil)
