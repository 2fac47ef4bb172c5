package sfo

import "io"

// Encryptor seals sensitive files before they enter the vault.
// Sealing needs only the public key so the daemon runs unattended;
// opening requires the passphrase that protects the private key.
type Encryptor interface {
	// Setup generates the key pair once, protecting the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for one restore session.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
