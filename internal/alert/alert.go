// Package alert is the side-channel for operational failures: systemic
// registry problems that operators need to see regardless of what the
// per-batch submitter notification says.
package alert

import (
	"context"
	"time"
)

// Alert is one operational event.
type Alert struct {
	Summary string    `json:"summary"`
	Detail  string    `json:"detail"`
	Time    time.Time `json:"time"`
}

// Alerter emits operational alerts. Emitting must never block batch
// processing; failures are the implementation's problem to log.
type Alerter interface {
	Emit(ctx context.Context, summary, detail string)
}

// Noop discards alerts. Used in tests and when no sink is configured.
type Noop struct{}

func (Noop) Emit(ctx context.Context, summary, detail string) {}
