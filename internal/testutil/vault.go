package testutil

import (
	"sfo-go/internal/sfo"
	"sfo-go/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() sfo.Vault {
	return vault.NewMemoryVault("test-vault")
}
