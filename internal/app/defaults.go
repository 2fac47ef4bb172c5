package app

import (
	"fmt"
	"os"
	"path/filepath"

	"sfo-go/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SFO_CONFIG_PATH: config file location (default: ~/.config/sfo.toml)
//   - SFO_HOME: base directory for sfo state (default: ~/.local/share/sfo)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// DefaultConfig returns a config rooted at the default base directory, with
// the watched and organized folders under the user's home.
func DefaultConfig() (*config.Config, error) {
	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}
	return config.NewConfig(baseDir, homeDir), nil
}

// getConfigPath returns the config file path, checking SFO_CONFIG_PATH env var first,
// then falling back to the default ~/.config/sfo.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("SFO_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "sfo.toml"), nil
}

// getBaseDir returns the base directory for sfo state, checking SFO_HOME env var first,
// then falling back to the XDG default ~/.local/share/sfo.
func getBaseDir() (string, error) {
	if path := os.Getenv("SFO_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "sfo"), nil
}
