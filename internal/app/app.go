// Package app wires configuration into a running organizer and exposes the
// operations the CLI needs.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"sfo-go/internal/api"
	"sfo-go/internal/classify"
	"sfo-go/internal/config"
	"sfo-go/internal/database"
	"sfo-go/internal/dedup"
	"sfo-go/internal/encryption"
	"sfo-go/internal/extract"
	"sfo-go/internal/fs"
	"sfo-go/internal/history"
	"sfo-go/internal/mover"
	"sfo-go/internal/notify"
	"sfo-go/internal/pipeline"
	"sfo-go/internal/queue"
	"sfo-go/internal/sfo"
	"sfo-go/internal/shred"
	"sfo-go/internal/vault"
	"sfo-go/internal/watch"
)

const apiShutdownTimeout = 5 * time.Second

// Options describe the CLI command the App is built for.
type Options struct {
	Operation string
	Args      string
	// Console also receives log lines. nil keeps logging in the log file only.
	Console io.Writer
}

// App is the application layer between the CLI and the Organizer.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and releases resources on Close.
type App struct {
	cfg       *config.Config
	op        *Operation
	clock     sfo.Clock
	logger    sfo.Logger
	logCloser io.Closer

	fsmgr     *fs.OSFilesystemManager
	store     sfo.HashStore
	index     *dedup.Index
	chain     *classify.Chain
	rules     *classify.RuleSet
	ledger    *history.Ledger
	vault     sfo.Vault
	encryptor sfo.Encryptor
	org       *sfo.Organizer

	indexReady bool
}

// New creates a fully wired App from cfg. The caller must call Close.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{cfg: cfg, clock: sfo.RealClock{}}
	a.op = NewOperation(opts.Operation, opts.Args, a.clock)

	slogger, closer, err := newLogger(cfg.Log, a.op.ID, opts.Console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a.logger = &slogAdapter{l: slogger}
	a.logCloser = closer

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.logger.Debug("operation started", "operation", a.op.Name, "args", a.op.Args)
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.cfg
	org := cfg.Organization

	excluded := []string{org.BaseDirectory, org.QuarantineDirectory}
	if cfg.Security.Vault.Type == "filesystem" {
		excluded = append(excluded, cfg.Security.Vault.FSVaultRoot)
	}
	a.fsmgr = fs.NewOSFilesystemManager(cfg.Watcher.Ignore, excluded...)

	var (
		index  sfo.DuplicateIndex
		images sfo.ImageIndex
	)
	if cfg.Deduplication.Enabled {
		store, err := database.NewHashStoreFromConfig(cfg.Deduplication.Store)
		if err != nil {
			return fmt.Errorf("creating hash store: %w", err)
		}
		a.store = store
		a.index = dedup.NewIndex(dedup.Options{
			ChunkSize:   cfg.Deduplication.ChunkSize,
			PartialOnly: cfg.Deduplication.UsePartialHashOnly,
		}, store, a.logger)
		index = a.index
		if cfg.Deduplication.Perceptual {
			images = dedup.NewImageIndex(cfg.Deduplication.PerceptualThreshold, a.logger)
		}
	}

	chain, rules, err := classify.NewChainFromConfig(cfg.Classification, extract.New(cfg.Classification.MaxTextLength), a.logger)
	if err != nil {
		return fmt.Errorf("creating classifier: %w", err)
	}
	a.chain, a.rules = chain, rules

	strategy, err := sfo.ParseConflictStrategy(org.ConflictStrategy)
	if err != nil {
		return err
	}
	mv := mover.New(mover.Options{
		BaseDir:        org.BaseDirectory,
		QuarantineDir:  org.QuarantineDirectory,
		UseDateFolders: org.UseDateFolders,
		Strategy:       strategy,
	}, a.clock, a.logger)

	ledger, err := history.Open(org.HistoryPath, org.HistoryMaxEntries, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	a.ledger = ledger

	enc, err := encryption.NewEncryptorFromConfig(cfg.Security.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	if cfg.Security.EnableVault {
		v, err := vault.NewVaultFromConfig(ctx, cfg.Security.Vault)
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		a.vault = v
		if !enc.IsConfigured() {
			a.logger.Warn("vault enabled but no keys exist; run 'sfo vault init'. Sensitive files are organized normally")
		}
	}

	notifier, err := notify.NewNotifierFromConfig(cfg.Notifications, a.logger)
	if err != nil {
		return fmt.Errorf("creating notifiers: %w", err)
	}

	dupAction, err := sfo.ParseDuplicateAction(cfg.Deduplication.DuplicateAction)
	if err != nil {
		return err
	}

	o, err := sfo.NewOrganizer(sfo.Deps{
		Index:      index,
		Images:     images,
		Classifier: chain,
		Mover:      mv,
		Ledger:     ledger,
		Vault:      a.vault,
		Encryptor:  enc,
		Filesystem: a.fsmgr,
		Notifier:   notifier,
		Deleter:    shred.New(a.logger),
		Logger:     a.logger,
		Clock:      a.clock,
		IDGen:      sfo.UUIDGenerator{},
	}, sfo.Options{
		DuplicateAction:    dupAction,
		SealSensitive:      cfg.Security.EnableVault,
		SecureDeletePasses: cfg.Security.SecureDeletePasses,
	})
	if err != nil {
		return err
	}
	a.org = o
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Organizer returns the wired organizer.
func (a *App) Organizer() *sfo.Organizer { return a.org }

// prepareIndex loads the persisted hash index and, when it is empty and
// configured to, seeds it from the organized tree.
func (a *App) prepareIndex(ctx context.Context) error {
	if a.index == nil || a.indexReady {
		return nil
	}
	n, err := a.index.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading hash index: %w", err)
	}
	if n == 0 && a.cfg.Deduplication.IndexOrganized {
		added, err := a.index.AddTree(ctx, a.cfg.Organization.BaseDirectory)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("indexing organized files: %w", err)
		}
		a.logger.Info("indexed organized files", "files", added)
	}
	a.indexReady = true
	return nil
}

// Run starts the watch pipeline and, if configured, the control API, and
// blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.prepareIndex(ctx); err != nil {
		return err
	}

	p, err := pipeline.New(a.pipelineConfig(), a.org, a.fsmgr, a.logger, a.clock, sfo.UUIDGenerator{})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}

	var srv *api.Server
	serveErr := make(chan error, 1)
	if a.cfg.API.Listen != "" {
		ln, err := net.Listen("tcp", a.cfg.API.Listen)
		if err != nil {
			return errors.Join(fmt.Errorf("listening on %s: %w", a.cfg.API.Listen, err), p.Stop())
		}
		srv = api.NewServer(a.org, a.ledger, p, a.logger)
		go func() { serveErr <- srv.Serve(ln) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("control API: %w", err)
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("control API shutdown", "error", err)
		}
		cancel()
	}
	return errors.Join(runErr, p.Stop())
}

func (a *App) pipelineConfig() pipeline.Config {
	w := a.cfg.Watcher
	q := a.cfg.Queue
	excluded := []string{a.cfg.Organization.BaseDirectory, a.cfg.Organization.QuarantineDirectory}
	return pipeline.Config{
		Watcher: watch.WatcherConfig{
			Roots:     w.Directories,
			Recursive: w.Recursive,
			Exclude:   excluded,
		},
		Gate: watch.GateConfig{
			Roots:          w.Directories,
			Ignore:         w.Ignore,
			Exclude:        excluded,
			Debounce:       w.Debounce.Duration,
			SettleInterval: w.SettleInterval.Duration,
			SettleTimeout:  w.SettleTimeout.Duration,
		},
		Queue: queue.Config{
			Workers:    q.Workers,
			Capacity:   q.Capacity,
			MaxRetries: q.MaxRetries,
			RetryDelay: q.RetryDelay.Duration,
		},
		StartupScan:    w.StartupScan,
		RescanSchedule: w.RescanSchedule,
	}
}

// PlannedMove is what organize would do with one file.
type PlannedMove struct {
	Path        string
	Result      *sfo.ClassificationResult
	Destination string
}

// PlanDirectory classifies every file in rawDir without touching anything.
func (a *App) PlanDirectory(ctx context.Context, rawDir string, recursive bool) ([]PlannedMove, error) {
	dir, err := a.fsmgr.Resolve(rawDir)
	if err != nil {
		return nil, fmt.Errorf("resolving directory: %w", err)
	}
	if !dir.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	files, err := a.fsmgr.FindFiles(dir, recursive)
	if err != nil {
		return nil, fmt.Errorf("finding files: %w", err)
	}

	plan := make([]PlannedMove, 0, len(files))
	for _, f := range files {
		result, dest, err := a.org.Preview(ctx, f.String())
		if err != nil {
			return plan, fmt.Errorf("%s: %w", f, err)
		}
		plan = append(plan, PlannedMove{Path: f.String(), Result: result, Destination: dest})
	}
	return plan, nil
}

// OrganizeDirectory organizes the files already in rawDir.
// Returns the number of files handled.
func (a *App) OrganizeDirectory(ctx context.Context, rawDir string, recursive bool) (int, error) {
	if err := a.prepareIndex(ctx); err != nil {
		return 0, err
	}
	n, err := a.org.ProcessDirectory(ctx, rawDir, recursive)
	a.op.Fail(err)
	return n, err
}

// Classify reports how one file would be classified and where it would go.
func (a *App) Classify(ctx context.Context, rawPath string) (*sfo.ClassificationResult, string, error) {
	p, err := a.fsmgr.Resolve(rawPath)
	if err != nil {
		return nil, "", fmt.Errorf("resolving path: %w", err)
	}
	if p.IsDir() {
		return nil, "", fmt.Errorf("%s is a directory", p)
	}
	return a.org.Preview(ctx, p.String())
}

// UndoLast reverts the newest undoable move.
func (a *App) UndoLast() (*sfo.HistoryEntry, error) {
	e, err := a.org.UndoLast()
	a.op.Fail(err)
	return e, err
}

// UndoByID reverts the move with the given history id.
func (a *App) UndoByID(id int64) (*sfo.HistoryEntry, error) {
	e, err := a.org.UndoByID(id)
	a.op.Fail(err)
	return e, err
}

// History returns up to limit entries matching query recorded since since, newest first.
func (a *App) History(limit int, query string, since time.Time) []*sfo.HistoryEntry {
	entries := a.ledger.Search(query, since)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// HistoryStats summarizes the ledger.
func (a *App) HistoryStats() history.Stats {
	return a.ledger.Stats()
}

// ClearHistory drops every history entry.
func (a *App) ClearHistory() error {
	return a.ledger.Clear()
}

// StatsReport is the data behind 'sfo stats'.
type StatsReport struct {
	History      history.Stats
	IndexEnabled bool
	Index        dedup.Stats
	// IndexSchema is set for the sqlite store.
	IndexSchema  string
}

// Stats loads the index and reports ledger and index counters.
func (a *App) Stats(ctx context.Context) (StatsReport, error) {
	r := StatsReport{History: a.ledger.Stats()}
	if a.index == nil {
		return r, nil
	}
	if err := a.prepareIndex(ctx); err != nil {
		return r, err
	}
	r.IndexEnabled = true
	r.Index = a.index.Stats()
	if s, ok := a.store.(*database.SQLiteHashStore); ok {
		r.IndexSchema = s.Schema().String()
	}
	return r, nil
}

// Duplicates scans rawDir for files with identical content.
func (a *App) Duplicates(ctx context.Context, rawDir string) ([]dedup.DuplicateGroup, error) {
	dir, err := a.fsmgr.Resolve(rawDir)
	if err != nil {
		return nil, fmt.Errorf("resolving directory: %w", err)
	}
	return dedup.FindDuplicates(ctx, dir.String(), dedup.Options{ChunkSize: a.cfg.Deduplication.ChunkSize}, a.logger)
}

// RuleSet returns the rule set, loading it from disk when the rule tier is disabled.
func (a *App) RuleSet() (*classify.RuleSet, error) {
	if a.rules != nil {
		return a.rules, nil
	}
	rs, err := classify.LoadRuleSet(a.cfg.Classification.RulesPath)
	if err != nil {
		return nil, err
	}
	a.rules = rs
	return rs, nil
}

// VaultInit generates the key pair that seals sensitive files.
func (a *App) VaultInit(passphrase string) error {
	if err := a.encryptor.Setup(passphrase); err != nil {
		a.op.Fail(err)
		return err
	}
	a.logger.Info("vault keys created", "public_key", a.cfg.Security.Encryption.PublicKeyPath)
	return nil
}

// VaultConfigured reports whether the vault keys exist.
func (a *App) VaultConfigured() bool {
	return a.encryptor.IsConfigured()
}

// VaultList returns the IDs of sealed objects.
func (a *App) VaultList() ([]string, error) {
	if a.vault == nil {
		return nil, fmt.Errorf("vault is disabled: set security.enable_vault")
	}
	return a.vault.List()
}

// VaultRestore decrypts vault object id into dest using passphrase.
func (a *App) VaultRestore(id, dest, passphrase string) error {
	if a.vault == nil {
		return fmt.Errorf("vault is disabled: set security.enable_vault")
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		a.op.Fail(err)
		return fmt.Errorf("unlocking private key: %w", err)
	}
	err = a.org.Unseal(id, dest, dc)
	a.op.Fail(err)
	return err
}

// VaultRestoreWithIdentity decrypts vault object id into dest using the age
// identity file at identityPath instead of the passphrase-protected key.
func (a *App) VaultRestoreWithIdentity(id, dest, identityPath string) error {
	if a.vault == nil {
		return fmt.Errorf("vault is disabled: set security.enable_vault")
	}
	f, err := os.Open(identityPath)
	if err != nil {
		return fmt.Errorf("opening identity file: %w", err)
	}
	defer f.Close()
	dc, err := encryption.NewIdentityDecryptionContext(f)
	if err != nil {
		return err
	}
	err = a.org.Unseal(id, dest, dc)
	a.op.Fail(err)
	return err
}

// Close releases the hash store and the log file.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing hash store: %w", err))
		}
	}
	if a.logger != nil && a.op != nil {
		a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status, "elapsed", a.op.Elapsed(a.clock))
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log: %w", err))
		}
	}
	return errors.Join(errs...)
}
