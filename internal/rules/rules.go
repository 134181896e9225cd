// Package rules implements the pure rule evaluator: position + plan +
// today's aggregate stats in, ordered violation list out. No I/O, no clock
// reads — the evaluation timestamp is threaded in explicitly so results are
// reproducible in tests.
package rules

import (
	"time"

	"github.com/alejandrodnm/disciplina/internal/domain"
)

// Evaluate returns the violations the position commits against the plan at
// the given instant. Checks run independently; several can fire for one
// position. Output order is fixed: session, symbol, trade count, daily loss.
//
// MaxRiskPercent is declared in the plan schema but not evaluated here: tying
// it to position sizing needs an account-equity feed the engine does not have
// yet, and there is no formula worth guessing at.
func Evaluate(pos domain.Position, plan domain.TradingPlan, stats domain.DailyStats, now time.Time) []domain.Violation {
	var violations []domain.Violation

	// Session window, UTC wall clock. End before start is an empty window.
	if !plan.InSession(now) {
		violations = append(violations, domain.ViolationSession)
	}

	if !plan.AllowsSymbol(pos.Symbol) {
		violations = append(violations, domain.ViolationSymbol)
	}

	// "Already over the limit" check: compares trades recorded today against
	// the cap without counting the position under evaluation. Kept as-is on
	// purpose — callers rely on the Nth trade of the day passing and the
	// N+1th being flagged.
	if stats.TradeCount >= plan.MaxTradesPerDay {
		violations = append(violations, domain.ViolationTradeCount)
	}

	if stats.DailyLoss <= -plan.MaxDailyLossPercent {
		violations = append(violations, domain.ViolationDailyLoss)
	}

	return violations
}
