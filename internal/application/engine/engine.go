// Package engine implements the reconciliation & enforcement core: one pass
// pulls broker-side state into the ledger, evaluates every live position
// against the user's active plan, and force-closes violators, recording the
// outcome for audit.
package engine

import (
	"errors"
	"time"

	"github.com/alejandrodnm/disciplina/internal/ports"
)

const defaultDealLookback = 7 * 24 * time.Hour

// ErrNoActivePlan aborts a cycle when the user has nothing to enforce.
// A configuration condition, not a crash: callers report it and move on.
var ErrNoActivePlan = errors.New("no active trading plan")

// Config holds the engine's tunables.
type Config struct {
	// DealLookback is how far back to ask the broker for historical deals
	// when reconciling. Defaults to seven days.
	DealLookback time.Duration
}

// Engine orchestrates reconcile + evaluate + compensating-close for one or
// more accounts. Safe for concurrent use; all state lives in the ledger.
type Engine struct {
	broker   ports.BrokerGateway
	ledger   ports.TradeLedger
	notifier ports.Notifier // optional, may be nil
	cfg      Config
	now      func() time.Time
}

// New creates an enforcement engine.
func New(broker ports.BrokerGateway, ledger ports.TradeLedger, notifier ports.Notifier, cfg Config) *Engine {
	if cfg.DealLookback <= 0 {
		cfg.DealLookback = defaultDealLookback
	}
	return &Engine{
		broker:   broker,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the evaluation clock. Tests use it to pin "now".
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}
