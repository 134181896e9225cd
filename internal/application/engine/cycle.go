package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/disciplina/internal/domain"
	"github.com/alejandrodnm/disciplina/internal/rules"
	"github.com/cenkalti/backoff/v4"
)

const markRetries = 3

// RunCycle executes one enforcement pass over the account's live positions.
// Orchestrates: plan → daily stats → live positions → evaluate → close →
// flag. Side effects are strictly ordered: the ledger is never flagged
// before the broker confirms the corresponding close, so the ledger can't
// claim "closed by rule" while the broker still holds the position open.
func (e *Engine) RunCycle(ctx context.Context, userID, accountID string) (*domain.CycleResult, error) {
	metricCycles.Inc()
	now := e.now()
	result := &domain.CycleResult{}

	// 1. Configuration: nothing to enforce without an active plan.
	plan, ok, err := e.ledger.ActivePlan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engine.RunCycle: load plan: %w", err)
	}
	if !ok {
		return nil, ErrNoActivePlan
	}

	// 2. Today's aggregates, recomputed from the ledger every cycle.
	stats, err := e.dailyStats(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("engine.RunCycle: daily stats: %w", err)
	}

	// 3. Live positions are the enforcement target.
	positions, err := e.broker.ListOpenPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("engine.RunCycle: list positions: %w", err)
	}

	// 4. Judge and close. A failed close leaves the position open and
	// unflagged; the next cycle re-attempts naturally since it still
	// violates.
	for _, pos := range positions {
		result.Checked++
		metricChecked.Inc()

		violations := rules.Evaluate(pos, plan, stats, now)
		if len(violations) == 0 {
			continue
		}
		result.Violated++
		metricViolations.Inc()

		detail := domain.EnforcementDetail{
			TradeID:    pos.TradeID,
			Symbol:     pos.Symbol,
			Violations: violations,
		}

		if err := e.broker.ClosePosition(ctx, accountID, pos.TradeID); err != nil {
			metricCloseFailed.Inc()
			slog.Warn("enforcement close failed, will retry next cycle",
				"user", userID, "trade", pos.TradeID, "err", err)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("close %s failed: %v", pos.TradeID, err))
			result.Details = append(result.Details, detail)
			continue
		}
		metricClosed.Inc()

		reason := "Rule violation: " + domain.JoinViolations(violations)
		if err := e.markViolation(ctx, userID, pos.TradeID, violations, reason, now); err != nil {
			// Broker-side close succeeded but the ledger write did not, even
			// with retries. Surface it; reconciliation will observe the
			// broker-side close on a later cycle.
			slog.Error("ledger update failed after confirmed close",
				"user", userID, "trade", pos.TradeID, "err", err)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("flag %s failed after close: %v", pos.TradeID, err))
			result.Details = append(result.Details, detail)
			continue
		}

		detail.Closed = true
		result.Details = append(result.Details, detail)
		slog.Info("position auto-closed",
			"user", userID, "trade", pos.TradeID, "symbol", pos.Symbol,
			"violations", domain.JoinViolations(violations))
	}

	slog.Info("enforcement cycle complete",
		"user", userID, "checked", result.Checked, "violated", result.Violated)
	return result, nil
}

// Monitor runs reconcile-then-enforce as one unit. A sync failure degrades
// to a warning: enforcement still runs on whatever the broker reports live.
func (e *Engine) Monitor(ctx context.Context, userID, accountID string) (*domain.CycleResult, error) {
	synced, syncErr := e.Sync(ctx, userID, accountID)

	result, err := e.RunCycle(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	result.SyncedTrades = synced
	if syncErr != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("sync: %v", syncErr))
	}

	if e.notifier != nil {
		if err := e.notifier.CycleReport(ctx, userID, result); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
	return result, nil
}

// dailyStats scans today's ledger rows. DailyLoss sums realized profit over
// the calendar day; it comes out negative on losing days, which is what the
// loss-cap rule compares against.
func (e *Engine) dailyStats(ctx context.Context, userID string, now time.Time) (domain.DailyStats, error) {
	dayStart, dayEnd := domain.DayBounds(now)
	trades, err := e.ledger.TradesBetween(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return domain.DailyStats{}, err
	}

	stats := domain.DailyStats{TradeCount: len(trades)}
	for _, t := range trades {
		if t.Profit != nil {
			stats.DailyLoss += *t.Profit
		}
	}
	return stats, nil
}

// markViolation retries the post-close ledger write with exponential
// backoff. A confirmed broker close must not be dropped on a transient
// write error.
func (e *Engine) markViolation(ctx context.Context, userID, tradeID string, violations []domain.Violation, reason string, closedAt time.Time) error {
	op := func() error {
		return e.ledger.MarkViolation(ctx, userID, tradeID, violations, reason, closedAt)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), markRetries), ctx)
	return backoff.Retry(op, policy)
}
