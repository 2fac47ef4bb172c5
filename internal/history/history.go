// Package history keeps the persisted log of organize operations and
// reverses moves on request.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sfo-go/internal/mover"
	"sfo-go/internal/sfo"
)

// DefaultMaxEntries is the ledger capacity when none is configured.
const DefaultMaxEntries = 1000

// ErrSourceOccupied is returned by undo when a file already sits at the original location.
var ErrSourceOccupied = errors.New("original location is occupied")

type ledgerFile struct {
	NextID  int64               `json:"next_id"`
	Entries []*sfo.HistoryEntry `json:"entries"`
}

// Ledger is a JSON-file backed sfo.Ledger. Every mutation rewrites the file.
type Ledger struct {
	path       string
	maxEntries int
	clock      sfo.Clock
	logger     sfo.Logger

	mu      sync.Mutex
	nextID  int64
	entries []*sfo.HistoryEntry // oldest first
}

var _ sfo.Ledger = (*Ledger)(nil)

// Open loads the ledger at path. A missing file yields an empty ledger;
// a file that cannot be parsed returns sfo.ErrLedgerCorrupt.
func Open(path string, maxEntries int, clock sfo.Clock, logger sfo.Logger) (*Ledger, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if clock == nil {
		clock = sfo.RealClock{}
	}
	l := &Ledger{
		path:       path,
		maxEntries: maxEntries,
		clock:      clock,
		logger:     sfo.With(logger, "component", "history"),
		nextID:     1,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return l, nil
	}

	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sfo.ErrLedgerCorrupt, path, err)
	}
	var maxID int64
	for _, e := range f.Entries {
		if e == nil {
			return nil, fmt.Errorf("%w: %s: null entry", sfo.ErrLedgerCorrupt, path)
		}
		if e.ID > maxID {
			maxID = e.ID
		}
	}
	l.entries = f.Entries
	l.nextID = f.NextID
	if l.nextID <= maxID {
		l.nextID = maxID + 1
	}
	return l, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// RecordMove appends a move. The size is read from dest.
func (l *Ledger) RecordMove(source, dest, category, subcategory string) (*sfo.HistoryEntry, error) {
	var size int64
	if info, err := os.Stat(dest); err == nil {
		size = info.Size()
	}
	return l.append(&sfo.HistoryEntry{
		Operation:   sfo.OperationMove,
		SourcePath:  source,
		DestPath:    dest,
		Category:    category,
		Subcategory: subcategory,
		FileSize:    size,
		CanUndo:     true,
	})
}

// RecordVault appends a vault sealing. Sealed files are restored through the
// vault, never by undo.
func (l *Ledger) RecordVault(source, vaultID, category, subcategory string, size int64) (*sfo.HistoryEntry, error) {
	return l.append(&sfo.HistoryEntry{
		Operation:   sfo.OperationVault,
		SourcePath:  source,
		DestPath:    vaultID,
		Category:    category,
		Subcategory: subcategory,
		FileSize:    size,
	})
}

func (l *Ledger) append(e *sfo.HistoryEntry) (*sfo.HistoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.ID = l.nextID
	e.Timestamp = l.clock.Now()
	l.nextID++
	l.entries = append(l.entries, e)

	if err := l.saveLocked(); err != nil {
		return nil, err
	}
	cp := *e
	return &cp, nil
}

// UndoLast reverses the newest undoable move.
func (l *Ledger) UndoLast() (*sfo.HistoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].CanUndo {
			return l.undoLocked(l.entries[i])
		}
	}
	return nil, sfo.ErrNothingToUndo
}

// UndoByID reverses the move with the given id.
func (l *Ledger) UndoByID(id int64) (*sfo.HistoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.ID != id {
			continue
		}
		if !e.CanUndo {
			return nil, fmt.Errorf("%w: %d", sfo.ErrEntryNotUndoable, id)
		}
		return l.undoLocked(e)
	}
	return nil, fmt.Errorf("%w: %d", sfo.ErrEntryNotFound, id)
}

func (l *Ledger) undoLocked(e *sfo.HistoryEntry) (*sfo.HistoryEntry, error) {
	if _, err := os.Stat(e.DestPath); errors.Is(err, os.ErrNotExist) {
		e.CanUndo = false
		if err := l.saveLocked(); err != nil {
			return nil, err
		}
		l.logger.Warn("organized file no longer exists", "id", e.ID, "path", e.DestPath)
		cp := *e
		return &cp, fmt.Errorf("%w: %s", sfo.ErrUndoTargetMissing, e.DestPath)
	}
	if _, err := os.Lstat(e.SourcePath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceOccupied, e.SourcePath)
	}

	if err := os.MkdirAll(filepath.Dir(e.SourcePath), 0755); err != nil {
		return nil, fmt.Errorf("recreating original directory: %w", err)
	}
	if err := mover.MoveFile(e.DestPath, e.SourcePath); err != nil {
		return nil, fmt.Errorf("moving file back: %w", err)
	}

	e.CanUndo = false
	if err := l.saveLocked(); err != nil {
		return nil, err
	}
	l.logger.Info("move reverted", "id", e.ID, "from", e.DestPath, "to", e.SourcePath)
	cp := *e
	return &cp, nil
}

// Recent returns up to n entries, newest first. n <= 0 returns all of them.
func (l *Ledger) Recent(n int) []*sfo.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]*sfo.HistoryEntry, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(out) < n; i-- {
		cp := *l.entries[i]
		out = append(out, &cp)
	}
	return out
}

// Search returns entries whose paths or category contain query
// (case-insensitive) and that were recorded at or after since.
// An empty query or a zero since disables that filter. Newest first.
func (l *Ledger) Search(query string, since time.Time) []*sfo.HistoryEntry {
	q := strings.ToLower(query)
	var out []*sfo.HistoryEntry
	for _, e := range l.Recent(0) {
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		if q != "" && !matches(e, q) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func matches(e *sfo.HistoryEntry, q string) bool {
	for _, field := range []string{e.SourcePath, e.DestPath, e.Category, e.Subcategory} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// CategoryCount is one row of Stats.ByCategory.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Stats summarizes the ledger.
type Stats struct {
	Total      int             `json:"total"`
	Undoable   int             `json:"undoable"`
	Vaulted    int             `json:"vaulted"`
	TotalBytes int64           `json:"total_bytes"`
	ByCategory []CategoryCount `json:"by_category"`
}

// Stats counts entries. ByCategory is ordered by count, then name.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{Total: len(l.entries)}
	counts := make(map[string]int)
	for _, e := range l.entries {
		if e.CanUndo {
			s.Undoable++
		}
		if e.Operation == sfo.OperationVault {
			s.Vaulted++
		}
		s.TotalBytes += e.FileSize
		counts[e.Category]++
	}
	for c, n := range counts {
		s.ByCategory = append(s.ByCategory, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		a, b := s.ByCategory[i], s.ByCategory[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Category < b.Category
	})
	return s
}

// Clear drops every entry. Ids keep increasing afterwards.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	return l.saveLocked()
}

func (l *Ledger) saveLocked() error {
	if over := len(l.entries) - l.maxEntries; over > 0 {
		l.entries = append([]*sfo.HistoryEntry(nil), l.entries[over:]...)
	}

	entries := l.entries
	if entries == nil {
		entries = []*sfo.HistoryEntry{}
	}
	data, err := json.MarshalIndent(ledgerFile{NextID: l.nextID, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp history file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing history: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing history: %w", err)
	}
	return nil
}
