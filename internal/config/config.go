package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	"sfo-go/internal/sfo"
)

// Config represents the main configuration for sfo.
type Config struct {
	BaseDir        string               `toml:"base_dir"`
	Watcher        WatcherConfig        `toml:"watcher"`
	Queue          QueueConfig          `toml:"queue"`
	Deduplication  DeduplicationConfig  `toml:"deduplication"`
	Classification ClassificationConfig `toml:"classification"`
	Organization   OrganizationConfig   `toml:"organization"`
	Security       SecurityConfig       `toml:"security"`
	Notifications  []NotifierConfig     `toml:"notifications"`
	API            APIConfig            `toml:"api"`
	Log            LogConfig            `toml:"log"`
}

// Duration is a time.Duration written as a string ("1s", "500ms") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// WatcherConfig controls which directories are watched and how events are gated.
type WatcherConfig struct {
	Directories    []string `toml:"directories"`
	Ignore         []string `toml:"ignore"`
	Recursive      bool     `toml:"recursive"`
	Debounce       Duration `toml:"debounce"`
	SettleInterval Duration `toml:"settle_interval"`
	SettleTimeout  Duration `toml:"settle_timeout"`
	StartupScan    bool     `toml:"startup_scan"`
	RescanSchedule string   `toml:"rescan_schedule,omitempty"` // cron expression; empty disables
}

// QueueConfig sizes the worker pool.
type QueueConfig struct {
	Workers    int      `toml:"workers"`
	MaxRetries int      `toml:"max_retries"`
	RetryDelay Duration `toml:"retry_delay"`
	Capacity   int      `toml:"capacity"`
}

// DeduplicationConfig controls duplicate detection.
type DeduplicationConfig struct {
	Enabled            bool        `toml:"enabled"`
	ChunkSize          int         `toml:"chunk_size"`
	DuplicateAction    string      `toml:"duplicate_action"` // "quarantine", "skip" or "delete"
	UsePartialHashOnly bool        `toml:"use_partial_hash_only"`
	IndexOrganized     bool        `toml:"index_organized"` // seed an empty index from the organized tree
	Store              StoreConfig `toml:"store"`

	// Perceptual matching of images that are not byte-identical.
	Perceptual          bool `toml:"perceptual"`
	PerceptualThreshold int  `toml:"perceptual_threshold"` // hamming distance out of 64 bits
}

// StoreConfig represents configuration for the hash index store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ClassificationConfig enables tiers and points at the rule file.
type ClassificationConfig struct {
	RulesPath      string           `toml:"rules_path"`
	EnableRules    bool             `toml:"enable_rules"`
	EnableMetadata bool             `toml:"enable_metadata"`
	EnableContent  bool             `toml:"enable_content"`
	MaxTextLength  int              `toml:"max_text_length"`
	Deep           ClassifierConfig `toml:"deep"`
	Fallback       ClassifierConfig `toml:"fallback"`
}

// ClassifierConfig configures an optional model-backed tier.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ClassifierConfig struct {
	Type      string   `toml:"type"`                  // "none" or "anthropic"
	Model     string   `toml:"model,omitempty"`       // anthropic model name
	APIKeyEnv string   `toml:"api_key_env,omitempty"` // environment variable holding the API key
	MaxTokens int      `toml:"max_tokens,omitempty"`
	Timeout   Duration `toml:"timeout"`
}

// OrganizationConfig controls where files end up.
type OrganizationConfig struct {
	BaseDirectory       string `toml:"base_directory"`
	QuarantineDirectory string `toml:"quarantine_directory"`
	UseDateFolders      bool   `toml:"use_date_folders"`
	ConflictStrategy    string `toml:"conflict_strategy"`
	HistoryPath         string `toml:"history_path"`
	HistoryMaxEntries   int    `toml:"history_max_entries"`
}

// SecurityConfig controls sealing of sensitive files.
type SecurityConfig struct {
	EnableVault        bool             `toml:"enable_vault"`
	SecureDeletePasses int              `toml:"secure_delete_passes"` // overwrites before a sealed plaintext is removed
	Vault              VaultConfig      `toml:"vault"`
	Encryption         EncryptionConfig `toml:"encryption"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	// S3Endpoint points at an S3-compatible service; it enables path-style addressing.
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	// Recipients are extra age public keys ("age1...") every sealed file is also encrypted to.
	Recipients []string `toml:"recipients,omitempty"`
}

// NotifierConfig configures one notification sink.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type NotifierConfig struct {
	Type   string   `toml:"type"`             // "log", "desktop" or "telegram"
	Events []string `toml:"events,omitempty"` // empty means every event

	// Telegram-specific fields (only used when Type == "telegram")
	TelegramTokenEnv string `toml:"telegram_token_env,omitempty"`
	TelegramChatID   int64  `toml:"telegram_chat_id,omitempty"`
}

// APIConfig controls the local HTTP control surface.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"` // e.g. "127.0.0.1:7788"; empty disables
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"` // "debug", "info", "warn" or "error"
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// DefaultIgnorePatterns are written into new configs.
var DefaultIgnorePatterns = []string{
	"*.tmp",
	"*.crdownload",
	"~$*",
	".DS_Store",
	"Thumbs.db",
	"*.part",
}

// NewConfig creates a Config with defaults. baseDir holds sfo's own state;
// homeDir is the user's home, used for the watched and organized folders.
func NewConfig(baseDir, homeDir string) *Config {
	organized := filepath.Join(homeDir, "Organized")
	return &Config{
		BaseDir: baseDir,
		Watcher: WatcherConfig{
			Directories:    []string{filepath.Join(homeDir, "Downloads")},
			Ignore:         append([]string(nil), DefaultIgnorePatterns...),
			Debounce:       Duration{time.Second},
			SettleInterval: Duration{500 * time.Millisecond},
			SettleTimeout:  Duration{30 * time.Second},
			StartupScan:    true,
		},
		Queue: QueueConfig{
			Workers:    4,
			MaxRetries: 3,
			RetryDelay: Duration{2 * time.Second},
			Capacity:   100,
		},
		Deduplication: DeduplicationConfig{
			Enabled:         true,
			ChunkSize:       4096,
			DuplicateAction: string(sfo.DuplicateQuarantine),
			IndexOrganized:  true,
			Store:           StoreConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},

			Perceptual:          true,
			PerceptualThreshold: 5,
		},
		Classification: ClassificationConfig{
			RulesPath:      filepath.Join(baseDir, "rules.yaml"),
			EnableRules:    true,
			EnableMetadata: true,
			EnableContent:  true,
			MaxTextLength:  2000,
			Deep:           ClassifierConfig{Type: "none"},
			Fallback:       ClassifierConfig{Type: "none"},
		},
		Organization: OrganizationConfig{
			BaseDirectory:       organized,
			QuarantineDirectory: filepath.Join(organized, ".quarantine"),
			UseDateFolders:      true,
			ConflictStrategy:    string(sfo.StrategyRename),
			HistoryPath:         filepath.Join(baseDir, "history.json"),
			HistoryMaxEntries:   1000,
		},
		Security: SecurityConfig{
			SecureDeletePasses: 3,
			Vault: VaultConfig{Type: "filesystem", Name: "vault", FSVaultRoot: filepath.Join(organized, "Vault")},
			Encryption: EncryptionConfig{
				Type:           "age",
				PublicKeyPath:  filepath.Join(baseDir, "keys", "sfo.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "sfo.key"),
			},
		},
		Notifications: []NotifierConfig{
			{Type: "log"},
			{Type: "desktop"},
		},
		Log: LogConfig{
			Dir:        filepath.Join(baseDir, "log"),
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Validate reports every problem found in cfg.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(c.Watcher.Directories) == 0 {
		add("watcher.directories: at least one directory is required")
	}
	if c.Watcher.Debounce.Duration < 0 {
		add("watcher.debounce: must not be negative")
	}
	if c.Watcher.RescanSchedule != "" {
		if _, err := cron.ParseStandard(c.Watcher.RescanSchedule); err != nil {
			add("watcher.rescan_schedule: %w", err)
		}
	}

	if c.Queue.Workers <= 0 {
		add("queue.workers: must be positive")
	}
	if c.Queue.MaxRetries < 0 {
		add("queue.max_retries: must not be negative")
	}

	if _, err := sfo.ParseDuplicateAction(c.Deduplication.DuplicateAction); err != nil {
		add("deduplication.duplicate_action: %w", err)
	}
	switch c.Deduplication.Store.Type {
	case "memory", "":
	case "sqlite":
		if c.Deduplication.Store.DataDir == "" {
			add("deduplication.store.data_dir: required for sqlite store")
		}
	default:
		add("deduplication.store.type: unknown store type %q", c.Deduplication.Store.Type)
	}
	if t := c.Deduplication.PerceptualThreshold; t < 0 || t > 64 {
		add("deduplication.perceptual_threshold: must be between 0 and 64, got %d", t)
	}

	for name, cc := range map[string]ClassifierConfig{"deep": c.Classification.Deep, "fallback": c.Classification.Fallback} {
		switch cc.Type {
		case "", "none", "anthropic":
		default:
			add("classification.%s.type: unknown classifier type %q", name, cc.Type)
		}
	}

	if c.Organization.BaseDirectory == "" {
		add("organization.base_directory: required")
	}
	if _, err := sfo.ParseConflictStrategy(c.Organization.ConflictStrategy); err != nil {
		add("organization.conflict_strategy: %w", err)
	}

	if p := c.Security.SecureDeletePasses; p < 0 || p > 7 {
		add("security.secure_delete_passes: must be between 0 and 7, got %d", p)
	}
	if c.Security.EnableVault {
		switch c.Security.Vault.Type {
		case "memory", "filesystem", "s3":
		default:
			add("security.vault.type: unknown vault type %q", c.Security.Vault.Type)
		}
		switch c.Security.Encryption.Type {
		case "", "age", "test":
		default:
			add("security.encryption.type: unknown encryption type %q", c.Security.Encryption.Type)
		}
	}

	for i, n := range c.Notifications {
		switch n.Type {
		case "log", "desktop":
		case "telegram":
			if n.TelegramChatID == 0 {
				add("notifications[%d].telegram_chat_id: required", i)
			}
		default:
			add("notifications[%d].type: unknown notifier type %q", i, n.Type)
		}
	}

	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
