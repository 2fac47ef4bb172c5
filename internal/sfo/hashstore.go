package sfo

// HashRecord is the persisted form of one indexed file.
// PartialHash and FullHash are empty until the index needed them.
type HashRecord struct {
	Path        string
	Size        int64
	PartialHash string
	FullHash    string
}

// HashStore persists the deduplication index across restarts.
type HashStore interface {
	// LoadHashRecords returns every stored record.
	LoadHashRecords() ([]*HashRecord, error)

	// PutHashRecord inserts or replaces the record for rec.Path.
	PutHashRecord(rec *HashRecord) error

	// DeleteHashRecord removes the record for path. Missing records are not an error.
	DeleteHashRecord(path string) error

	// RenameHashRecord moves the record at oldPath to newPath, replacing any
	// record already at newPath.
	RenameHashRecord(oldPath, newPath string) error

	// ClearHashRecords removes every record.
	ClearHashRecords() error

	Close() error
}
