package encryption

import (
	"fmt"

	"sfo-go/internal/config"
	"sfo-go/internal/sfo"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (sfo.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		e, err := NewAgeEncryptor(cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
