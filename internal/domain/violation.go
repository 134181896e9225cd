package domain

import "strings"

// Violation is a named rule breach detected for a position at evaluation
// time. Closed set: the evaluator can only produce the constants below, so
// consumers can match exhaustively instead of parsing free-form strings.
type Violation string

const (
	ViolationSession    Violation = "OUTSIDE_SESSION"
	ViolationSymbol     Violation = "SYMBOL_NOT_ALLOWED"
	ViolationTradeCount Violation = "DAILY_TRADE_LIMIT"
	ViolationDailyLoss  Violation = "DAILY_LOSS_LIMIT"
)

// String returns the human-readable form used in reports and close reasons.
func (v Violation) String() string {
	switch v {
	case ViolationSession:
		return "Outside trading session"
	case ViolationSymbol:
		return "Symbol not allowed"
	case ViolationTradeCount:
		return "Daily trade limit exceeded"
	case ViolationDailyLoss:
		return "Daily loss limit exceeded"
	}
	return string(v)
}

// ParseViolation maps a stored code back to its enum member. Unknown codes
// round-trip as-is so old ledger rows never fail to load.
func ParseViolation(code string) Violation {
	return Violation(code)
}

// JoinViolations renders a violation list for display, comma separated.
func JoinViolations(vs []Violation) string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.String()
	}
	return strings.Join(names, ", ")
}

// JoinViolationCodes renders the stable enum codes, used for persistence.
func JoinViolationCodes(vs []Violation) string {
	codes := make([]string, len(vs))
	for i, v := range vs {
		codes[i] = string(v)
	}
	return strings.Join(codes, ",")
}

// SplitViolationCodes is the inverse of JoinViolationCodes.
func SplitViolationCodes(s string) []Violation {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	vs := make([]Violation, len(parts))
	for i, p := range parts {
		vs[i] = ParseViolation(p)
	}
	return vs
}
