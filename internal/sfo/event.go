package sfo

import "time"

// EventKind distinguishes how a path changed.
type EventKind int

const (
	EventCreated EventKind = iota
	EventModified
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	default:
		return "unknown"
	}
}

// WatchEvent is a raw filesystem change observed by the watcher.
type WatchEvent struct {
	Path       string
	Kind       EventKind
	ObservedAt time.Time
}
