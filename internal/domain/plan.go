package domain

import (
	"fmt"
	"time"
)

// TradingPlan is the set of limits enforced for one user. At most one plan
// per user is active at any time; the ledger guarantees the invariant.
type TradingPlan struct {
	ID                  int64
	UserID              string
	MaxTradesPerDay     int
	MaxRiskPercent      float64 // declared in the schema; not evaluated yet (no equity feed)
	AllowedSymbols      []string // empty means every symbol is allowed
	SessionStart        TimeOfDay
	SessionEnd          TimeOfDay
	MaxDailyLossPercent float64 // compared against a negative cumulative P&L
	IsActive            bool
}

// AllowsSymbol reports whether the plan's allow-list admits the symbol.
// Case-sensitive exact match; an empty list admits everything.
func (p TradingPlan) AllowsSymbol(symbol string) bool {
	if len(p.AllowedSymbols) == 0 {
		return true
	}
	for _, s := range p.AllowedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// InSession reports whether now falls inside the plan's session window on
// the evaluation day (UTC wall clock). An end before start is an empty
// same-day window, not an overnight session.
func (p TradingPlan) InSession(now time.Time) bool {
	m := minutesOfDay(now.UTC())
	return m >= p.SessionStart.Minutes() && m <= p.SessionEnd.Minutes()
}

// TimeOfDay is a wall-clock time with minute resolution, e.g. "09:00".
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses a strict zero-padded "HH:MM"; trailing characters
// are rejected.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("domain.ParseTimeOfDay: %q: %w", s, err)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

func (t TimeOfDay) Minutes() int   { return t.Hour*60 + t.Minute }
func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
