package sfo

import (
	"context"
	"fmt"
)

// ConflictStrategy selects how a destination name collision is handled.
type ConflictStrategy string

const (
	StrategyRename     ConflictStrategy = "rename"
	StrategySkip       ConflictStrategy = "skip"
	StrategyOverwrite  ConflictStrategy = "overwrite"
	StrategyQuarantine ConflictStrategy = "quarantine"
	StrategyKeepNewer  ConflictStrategy = "keep_newer"
	StrategyKeepLarger ConflictStrategy = "keep_larger"
)

// ParseConflictStrategy validates a strategy name from configuration.
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch st := ConflictStrategy(s); st {
	case StrategyRename, StrategySkip, StrategyOverwrite, StrategyQuarantine, StrategyKeepNewer, StrategyKeepLarger:
		return st, nil
	case "":
		return StrategyRename, nil
	default:
		return "", fmt.Errorf("unknown conflict strategy: %q", s)
	}
}

// ConflictAction is what the mover should do with a file.
type ConflictAction string

const (
	ActionProceed    ConflictAction = "proceed"
	ActionSkip       ConflictAction = "skip"
	ActionOverwrite  ConflictAction = "overwrite"
	ActionQuarantine ConflictAction = "quarantine"
)

// ConflictDecision is the resolver's answer for one intended destination.
// FinalPath is empty for ActionSkip.
type ConflictDecision struct {
	Action    ConflictAction
	FinalPath string
}

// DuplicateAction selects what happens to a detected duplicate.
type DuplicateAction string

const (
	DuplicateQuarantine DuplicateAction = "quarantine"
	DuplicateSkip       DuplicateAction = "skip"
	DuplicateDelete     DuplicateAction = "delete"
)

// ParseDuplicateAction validates a duplicate action name from configuration.
func ParseDuplicateAction(s string) (DuplicateAction, error) {
	switch a := DuplicateAction(s); a {
	case DuplicateQuarantine, DuplicateSkip, DuplicateDelete:
		return a, nil
	case "":
		return DuplicateQuarantine, nil
	default:
		return "", fmt.Errorf("unknown duplicate action: %q", s)
	}
}

// MoveResult describes what the mover did with one file.
type MoveResult struct {
	Decision ConflictDecision
	DestPath string
	Moved    bool
}

// Mover places files into the organized tree.
type Mover interface {
	// Destination returns the intended path for source under the given classification,
	// before any conflict resolution.
	Destination(source string, result *ClassificationResult) string

	// Organize resolves conflicts and moves source into its category folder.
	Organize(ctx context.Context, source string, result *ClassificationResult) (*MoveResult, error)

	// QuarantineDuplicate moves a duplicate out of the way and returns its new path.
	QuarantineDuplicate(source string) (string, error)
}
