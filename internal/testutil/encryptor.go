package testutil

import (
	"sfo-go/internal/encryption"
	"sfo-go/internal/sfo"
)

// NewTestEncryptor creates a new deterministic, reversible encryptor for testing.
func NewTestEncryptor() sfo.Encryptor {
	return encryption.NewTestEncryptor()
}
