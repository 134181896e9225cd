package domain

// EnforcementDetail records what happened to one violating position during
// a cycle: which rules fired and whether the compensating close went through.
type EnforcementDetail struct {
	TradeID    string
	Symbol     string
	Violations []Violation
	Closed     bool // broker accepted the close; ledger flagged only when true
}

// CycleResult contains everything produced by one enforcement cycle.
type CycleResult struct {
	Checked      int
	Violated     int
	Details      []EnforcementDetail
	SyncedTrades int      // trades touched by the reconcile pre-step, if any
	Warnings     []string // partial failures the cycle survived
}
