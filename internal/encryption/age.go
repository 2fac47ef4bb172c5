package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"sfo-go/internal/config"
	"sfo-go/internal/sfo"
)

var (
	// ErrKeysExist is returned by Setup when a key pair is already present.
	ErrKeysExist = errors.New("encryption keys already exist")

	// ErrWrongPassphrase is returned by Unlock when the passphrase does not open the private key.
	ErrWrongPassphrase = errors.New("wrong passphrase")
)

// AgeEncryptor seals files with filippo.io/age X25519 keys.
//
// The public key sits in plaintext next to the private key so the daemon can
// seal without a passphrase. The private key is itself an age file encrypted
// to a scrypt passphrase recipient. Additional recipients from config receive
// a copy of every file key, so another machine can open the vault too.
type AgeEncryptor struct {
	publicKeyPath  string
	privateKeyPath string
	extra          []age.Recipient

	mu    sync.Mutex
	owner age.Recipient
}

var _ sfo.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates an AgeEncryptor. It fails when a configured extra
// recipient is not a valid age public key.
func NewAgeEncryptor(cfg config.EncryptionConfig) (*AgeEncryptor, error) {
	e := &AgeEncryptor{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
	for _, s := range cfg.Recipients {
		r, err := age.ParseX25519Recipient(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", s, err)
		}
		e.extra = append(e.extra, r)
	}
	return e, nil
}

// Setup generates a key pair and stores the private half encrypted to passphrase.
// Existing keys are never replaced: files already in the vault would be lost.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	if e.IsConfigured() {
		return ErrKeysExist
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	var sealed bytes.Buffer
	if err := sealIdentity(&sealed, identity, passphrase); err != nil {
		return err
	}
	// Private key first: IsConfigured needs both files, and a crash between
	// the writes leaves nothing that looks usable.
	if err := writeKeyFile(e.privateKeyPath, sealed.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := writeKeyFile(e.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	e.mu.Lock()
	e.owner = identity.Recipient()
	e.mu.Unlock()
	return nil
}

func sealIdentity(w io.Writer, identity *age.X25519Identity, passphrase string) error {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating passphrase recipient: %w", err)
	}
	aw, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("encrypting private key: %w", err)
	}
	if _, err := io.WriteString(aw, identity.String()+"\n"); err != nil {
		return fmt.Errorf("encrypting private key: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("finalizing private key: %w", err)
	}
	return nil
}

// writeKeyFile writes data to a temp file beside path and renames it into place.
// It refuses to replace an existing file.
func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return ErrKeysExist
	}

	tmp, err := os.CreateTemp(dir, ".sfo-key-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Encrypt writes r to w encrypted to the owner key and every extra recipient.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	owner, err := e.ownerRecipient()
	if err != nil {
		return fmt.Errorf("loading public key: %w", err)
	}

	recipients := append([]age.Recipient{owner}, e.extra...)
	aw, err := age.Encrypt(w, recipients...)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(aw, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Unlock opens the private key with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (sfo.DecryptionContext, error) {
	sealed, err := os.ReadFile(e.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating passphrase identity: %w", err)
	}
	ar, err := age.Decrypt(bytes.NewReader(sealed), scrypt)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	identities, err := age.ParseIdentities(ar)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("private key file holds no identity")
	}
	return &AgeDecryptionContext{identities: identities}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.publicKeyPath, e.privateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// ownerRecipient returns the cached public key, reading it from disk on first use.
func (e *AgeEncryptor) ownerRecipient() (age.Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.owner != nil {
		return e.owner, nil
	}

	data, err := os.ReadFile(e.publicKeyPath)
	if err != nil {
		return nil, err
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("public key file %s is empty", e.publicKeyPath)
	}
	e.owner = recipients[0]
	return e.owner, nil
}

// NewIdentityDecryptionContext opens vault objects with an age identity file
// ("AGE-SECRET-KEY-1..." lines), as held by an extra recipient.
func NewIdentityDecryptionContext(r io.Reader) (*AgeDecryptionContext, error) {
	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("parsing identities: %w", err)
	}
	return &AgeDecryptionContext{identities: identities}, nil
}

// AgeDecryptionContext holds unlocked age identities.
type AgeDecryptionContext struct {
	identities []age.Identity
}

var _ sfo.DecryptionContext = (*AgeDecryptionContext)(nil)

// Decrypt writes the plaintext of the age file r to w.
func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	ar, err := age.Decrypt(r, c.identities...)
	if err != nil {
		return fmt.Errorf("opening sealed data: %w", err)
	}
	if _, err := io.Copy(w, ar); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
