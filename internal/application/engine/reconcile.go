package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/disciplina/internal/domain"
)

// Sync reconciles broker-reported state into the ledger and returns how many
// trades were touched. One-directional: broker facts overwrite ledger facts,
// never the reverse, and violation fields are left alone. Idempotent — a
// second run over the same broker snapshot writes nothing.
func (e *Engine) Sync(ctx context.Context, userID, accountID string) (int, error) {
	now := e.now()

	deals, err := e.broker.ListDeals(ctx, accountID, now.Add(-e.cfg.DealLookback), now)
	if err != nil {
		// Degraded sync: positions alone still keep the open set fresh.
		slog.Warn("sync: deal history unavailable, reconciling positions only",
			"user", userID, "err", err)
		deals = nil
	}

	positions, err := e.broker.ListOpenPositions(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("engine.Sync: list positions: %w", err)
	}

	synced, err := e.reconcile(ctx, userID, positions, deals)
	if err != nil {
		return synced, fmt.Errorf("engine.Sync: %w", err)
	}

	slog.Debug("sync complete", "user", userID, "deals", len(deals),
		"positions", len(positions), "touched", synced)
	return synced, nil
}

// reconcile merges positions ∪ deals into the ledger, deduplicated by ticket
// id. Deals sharing a ticket collapse into a single record first (the broker
// reports the entry and exit fills of one trade separately; close facts win),
// then live positions override — the open-position snapshot is fresher.
func (e *Engine) reconcile(ctx context.Context, userID string, positions []domain.Position, deals []domain.Deal) (int, error) {
	touched := 0

	apply := func(r domain.TradeRecord) error {
		changed, err := e.ledger.UpsertTrade(ctx, userID, r)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", r.TradeID, err)
		}
		if changed {
			touched++
			metricReconciled.Inc()
		}
		return nil
	}

	seenAsPosition := make(map[string]bool, len(positions))
	for _, p := range positions {
		seenAsPosition[p.TradeID] = true
	}

	merged := make(map[string]domain.Deal, len(deals))
	order := make([]string, 0, len(deals))
	for _, d := range deals {
		if prev, ok := merged[d.TradeID]; ok {
			merged[d.TradeID] = mergeDeals(prev, d)
			continue
		}
		merged[d.TradeID] = d
		order = append(order, d.TradeID)
	}

	for _, ticket := range order {
		if seenAsPosition[ticket] {
			continue
		}
		if err := apply(recordFromDeal(merged[ticket])); err != nil {
			return touched, err
		}
	}

	for _, p := range positions {
		if err := apply(recordFromPosition(p)); err != nil {
			return touched, err
		}
	}

	return touched, nil
}

// mergeDeals collapses two fills of the same ticket: open facts come from the
// entry fill, close facts from the exit fill. One write per ticket per sync,
// whatever order the broker lists the fills in.
func mergeDeals(a, b domain.Deal) domain.Deal {
	open, closed := a, b
	if a.ClosedAt != nil && b.ClosedAt == nil {
		open, closed = b, a
	}
	out := open
	if closed.ClosedAt != nil {
		out.ClosePrice = closed.ClosePrice
		out.Profit = closed.Profit
		out.ClosedAt = closed.ClosedAt
	}
	return out
}

func recordFromPosition(p domain.Position) domain.TradeRecord {
	profit := p.Profit
	return domain.TradeRecord{
		TradeID:      p.TradeID,
		Symbol:       p.Symbol,
		Side:         p.Side,
		Volume:       p.Volume,
		OpenPrice:    p.OpenPrice,
		Profit:       &profit,
		OpenedAt:     p.OpenedAt,
		IsOpen:       true,
		FollowsRules: true, // compliance is judged later, not at ingestion
	}
}

func recordFromDeal(d domain.Deal) domain.TradeRecord {
	r := domain.TradeRecord{
		TradeID:      d.TradeID,
		Symbol:       d.Symbol,
		Side:         d.Side,
		Volume:       d.Volume,
		OpenPrice:    d.OpenPrice,
		OpenedAt:     d.OpenedAt,
		IsOpen:       d.ClosedAt == nil,
		FollowsRules: true,
	}
	if d.ClosedAt != nil {
		closePrice, profit := d.ClosePrice, d.Profit
		r.ClosePrice = &closePrice
		r.Profit = &profit
		r.ClosedAt = d.ClosedAt
	}
	return r
}
