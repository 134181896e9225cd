package domain

import "time"

// Side is the direction of a broker position or deal.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Position is a currently open broker-reported holding.
type Position struct {
	TradeID      string // broker ticket id, unique per account
	Symbol       string
	Side         Side
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	Profit       float64 // unrealized, account currency
	OpenedAt     time.Time
}

// Deal is a historical broker-reported transaction, possibly closed.
type Deal struct {
	TradeID    string
	Symbol     string
	Side       Side
	Volume     float64
	OpenPrice  float64
	ClosePrice float64
	Profit     float64
	OpenedAt   time.Time
	ClosedAt   *time.Time // nil while the deal is still open broker-side
}

// TradeRecord is one row of the audit ledger. Created by reconciliation on
// first sighting of a broker ticket, mutated afterwards, never deleted.
type TradeRecord struct {
	TradeID         string
	Symbol          string
	Side            Side
	Volume          float64
	OpenPrice       float64
	ClosePrice      *float64
	Profit          *float64
	OpenedAt        time.Time
	ClosedAt        *time.Time
	IsOpen          bool
	FollowsRules    bool
	Violations      []Violation
	AutoClosed      bool
	AutoCloseReason string
}

// DailyStats is the per-day aggregate the rule evaluator judges against.
// Recomputed from the ledger every cycle, never cached across cycles.
type DailyStats struct {
	TradeCount int
	DailyLoss  float64 // cumulative realized P&L today; negative when losing
}

// DayBounds returns [start, end) of the calendar day containing t, in UTC.
// Evaluation-time boundary, not broker server time.
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
