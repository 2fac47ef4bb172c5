package encryption

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"sfo-go/internal/sfo"
)

// testHeader marks data sealed by TestEncryptor.
var testHeader = []byte("SFOENC\x00\x00")

// TestEncryptor is a reversible stand-in for AgeEncryptor that needs no keys.
// It prefixes plaintext with testHeader, so sealed bytes never hash like the
// original. It is always configured. After Setup, Unlock accepts only the
// passphrase given to Setup.
type TestEncryptor struct {
	mu         sync.Mutex
	passphrase string
	setupDone  bool
}

var _ sfo.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.setupDone {
		return ErrKeysExist
	}
	e.passphrase = passphrase
	e.setupDone = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (sfo.DecryptionContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.setupDone && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecryptionContext strips testHeader.
type TestDecryptionContext struct{}

var _ sfo.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("not sealed by TestEncryptor")
	}
	_, err := io.Copy(w, r)
	return err
}
