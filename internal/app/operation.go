package app

import (
	"time"

	"sfo-go/internal/sfo"
)

// Operation tracks one CLI command run. Its ID tags every log line the run writes.
type Operation struct {
	ID        string
	Name      string
	Args      string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation starts an operation at clock's current time.
func NewOperation(name, args string, clock sfo.Clock) *Operation {
	now := clock.Now().UTC()
	return &Operation{
		ID:        now.Format("20060102T150405Z") + "-" + sfo.ShortID(),
		Name:      name,
		Args:      args,
		StartedAt: now,
		Status:    "success",
	}
}

// Fail marks the operation as failed when err is non-nil.
func (op *Operation) Fail(err error) {
	if err != nil {
		op.Status = "error"
	}
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(clock sfo.Clock) time.Duration {
	return clock.Now().Sub(op.StartedAt)
}
