package sfo

import "time"

// History operation kinds.
const (
	OperationMove  = "move"
	OperationVault = "vault"
)

// HistoryEntry is one recorded organize operation.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Operation   string    `json:"operation"`
	SourcePath  string    `json:"source_path"`
	DestPath    string    `json:"dest_path"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory,omitempty"`
	FileSize    int64     `json:"file_size"`
	CanUndo     bool      `json:"can_undo"`
}

// Ledger is the persisted, capacity-bounded log of organize operations.
type Ledger interface {
	RecordMove(source, dest, category, subcategory string) (*HistoryEntry, error)
	RecordVault(source, vaultID, category, subcategory string, size int64) (*HistoryEntry, error)
	UndoLast() (*HistoryEntry, error)
	UndoByID(id int64) (*HistoryEntry, error)
	Recent(n int) []*HistoryEntry
}
