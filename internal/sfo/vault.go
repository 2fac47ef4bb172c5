package sfo

import "io"

// Vault stores sealed copies of sensitive files.
// Objects are opaque ciphertext identified by an ID chosen by the caller.
// All operations stream so large files are never held in memory.
type Vault interface {
	// Put stores an object. size is the number of bytes that will be read from r.
	Put(id string, r io.Reader, size int64) error

	// Get writes the object with the given ID to w.
	Get(id string, w io.Writer) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(id string) error

	// List returns the IDs of all stored objects in lexical order.
	List() ([]string, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
