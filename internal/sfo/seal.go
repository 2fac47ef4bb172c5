package sfo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func (o *Organizer) sealingEnabled() bool {
	return o.opts.SealSensitive && o.vault != nil && o.encryptor != nil && o.encryptor.IsConfigured()
}

// seal encrypts path into the vault and removes the plaintext.
// Encryption goes through a temp file so the vault receives an exact size.
func (o *Organizer) seal(path string, result *ClassificationResult, size int64) (*HistoryEntry, error) {
	id := o.idgen.New()

	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "sfo-seal-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := o.encryptor.Encrypt(src, tmp); err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	sealedSize, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("measuring ciphertext: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding ciphertext: %w", err)
	}
	if err := o.vault.Put(id, tmp, sealedSize); err != nil {
		return nil, fmt.Errorf("storing in vault: %w", err)
	}

	src.Close()
	if err := o.deleter.Delete(path, o.opts.SecureDeletePasses); err != nil {
		return nil, fmt.Errorf("removing plaintext: %w", err)
	}
	o.forget(path)

	entry, err := o.ledger.RecordVault(path, id, result.Category, result.Subcategory, size)
	if err != nil {
		o.logger.Error("recording history", "path", path, "vault_id", id, "error", err)
	}
	o.logger.Info("file sealed in vault", "path", path, "vault_id", id, "category", result.SuggestedFolder())
	o.notifier.Notify(Notification{
		Type:    NotifyOrganized,
		Title:   "Sensitive file secured",
		Message: filepath.Base(path),
		Path:    path,
	})
	return entry, nil
}

// Unseal decrypts vault object id into dest. dest must not exist.
func (o *Organizer) Unseal(id string, dest string, dc DecryptionContext) error {
	if o.vault == nil {
		return fmt.Errorf("no vault configured")
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("destination already exists: %s", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".sfo-unseal-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(o.vault.Get(id, pw))
	}()

	if err := dc.Decrypt(pr, tmp); err != nil {
		pr.CloseWithError(err)
		tmp.Close()
		return fmt.Errorf("decrypting %s: %w", id, err)
	}
	pr.Close()
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}

	success = true
	o.logger.Info("vault object restored", "vault_id", id, "dest", dest)
	return nil
}
