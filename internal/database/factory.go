package database

import (
	"fmt"
	"os"
	"path/filepath"

	"sfo-go/internal/config"
	"sfo-go/internal/sfo"
)

// HashIndexFile is the database file name inside the store's data_dir.
const HashIndexFile = "hash_index.db"

// NewHashStoreFromConfig creates a HashStore implementation based on the store config type.
func NewHashStoreFromConfig(cfg config.StoreConfig) (sfo.HashStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteHashStore(filepath.Join(cfg.DataDir, HashIndexFile))
	case "memory", "":
		return NewSQLiteHashStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
