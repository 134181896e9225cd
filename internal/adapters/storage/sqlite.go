package storage

// sqlite.go — the durable trade ledger.
//
// Estrategia:
//   - `plans`: historial completo de planes por usuario; como máximo una fila
//     activa por usuario (SavePlan desactiva la anterior en la misma tx).
//   - `trades`: una fila por ticket del broker (PK user_id+trade_id, UPSERT).
//     Nunca se borra — es el audit trail. La reconciliación solo toca los
//     campos mutables; los campos de violación pertenecen al enforcement.
//   - UpsertTrade compara los campos mutables antes de escribir: si el
//     snapshot del broker no cambió, no hay write → reconciliación idempotente.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/disciplina/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Planes de trading: historial completo, máximo uno activo por usuario
CREATE TABLE IF NOT EXISTS plans (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id                TEXT    NOT NULL,
    max_trades_per_day     INTEGER NOT NULL,
    max_risk_percent       REAL    NOT NULL DEFAULT 0,
    allowed_symbols        TEXT    NOT NULL DEFAULT '',
    session_start          TEXT    NOT NULL,
    session_end            TEXT    NOT NULL,
    max_daily_loss_percent REAL    NOT NULL,
    is_active              INTEGER NOT NULL DEFAULT 0,
    created_at             DATETIME NOT NULL
);

-- Un trade por ticket del broker; audit trail, nunca se borra
CREATE TABLE IF NOT EXISTS trades (
    user_id           TEXT NOT NULL,
    trade_id          TEXT NOT NULL,
    symbol            TEXT NOT NULL,
    side              TEXT NOT NULL,
    volume            REAL NOT NULL DEFAULT 0,
    open_price        REAL NOT NULL DEFAULT 0,
    close_price       REAL,
    profit            REAL,
    opened_at         DATETIME NOT NULL,
    closed_at         DATETIME,
    is_open           INTEGER NOT NULL DEFAULT 1,
    follows_rules     INTEGER NOT NULL DEFAULT 1,
    violations        TEXT NOT NULL DEFAULT '',
    auto_closed       INTEGER NOT NULL DEFAULT 0,
    auto_close_reason TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (user_id, trade_id)
);

CREATE INDEX IF NOT EXISTS idx_plans_active  ON plans(user_id, is_active);
CREATE INDEX IF NOT EXISTS idx_trades_opened ON trades(user_id, opened_at);
CREATE INDEX IF NOT EXISTS idx_trades_open   ON trades(user_id, is_open);
`

// SQLiteLedger implementa ports.TradeLedger usando SQLite (pure Go, sin CGo).
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger abre (o crea) la base de datos en la ruta dada y aplica
// el schema.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteLedger: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteLedger: apply schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

// Close cierra la conexión.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

// ─── Plans ───────────────────────────────────────────────────────────────────

// ActivePlan returns the user's active plan, or false when there is none.
func (s *SQLiteLedger) ActivePlan(ctx context.Context, userID string) (domain.TradingPlan, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, max_trades_per_day, max_risk_percent, allowed_symbols,
		       session_start, session_end, max_daily_loss_percent, is_active
		FROM plans WHERE user_id = ? AND is_active = 1
		ORDER BY id DESC LIMIT 1`, userID)

	plan, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return domain.TradingPlan{}, false, nil
	}
	if err != nil {
		return domain.TradingPlan{}, false, fmt.Errorf("storage.ActivePlan: %w", err)
	}
	return plan, true, nil
}

// SavePlan inserts the plan as the user's active one, deactivating any
// previous active plan in the same transaction.
func (s *SQLiteLedger) SavePlan(ctx context.Context, plan domain.TradingPlan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SavePlan: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE plans SET is_active = 0 WHERE user_id = ? AND is_active = 1`,
		plan.UserID,
	); err != nil {
		return fmt.Errorf("storage.SavePlan: deactivate previous: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plans
		  (user_id, max_trades_per_day, max_risk_percent, allowed_symbols,
		   session_start, session_end, max_daily_loss_percent, is_active, created_at)
		VALUES (?,?,?,?,?,?,?,1,?)`,
		plan.UserID, plan.MaxTradesPerDay, plan.MaxRiskPercent,
		strings.Join(plan.AllowedSymbols, ","),
		plan.SessionStart.String(), plan.SessionEnd.String(),
		plan.MaxDailyLossPercent, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("storage.SavePlan: insert: %w", err)
	}

	return tx.Commit()
}

// ─── Trades ──────────────────────────────────────────────────────────────────

// UpsertTrade inserts the record on first sighting of the broker ticket, or
// updates the mutable facts (closePrice, profit, closedAt, isOpen) when it
// already exists. Violation fields are never touched here — they belong to
// the enforcement cycle. Returns true when a row was written.
func (s *SQLiteLedger) UpsertTrade(ctx context.Context, userID string, r domain.TradeRecord) (bool, error) {
	existing, found, err := s.getTrade(ctx, userID, r.TradeID)
	if err != nil {
		return false, fmt.Errorf("storage.UpsertTrade: lookup %s: %w", r.TradeID, err)
	}

	if !found {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO trades
			  (user_id, trade_id, symbol, side, volume, open_price, close_price,
			   profit, opened_at, closed_at, is_open, follows_rules)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,1)`,
			userID, r.TradeID, r.Symbol, string(r.Side), r.Volume, r.OpenPrice,
			nullFloat(r.ClosePrice), nullFloat(r.Profit),
			r.OpenedAt.UTC(), nullTime(r.ClosedAt), boolToInt(r.IsOpen),
		)
		if err != nil {
			return false, fmt.Errorf("storage.UpsertTrade: insert %s: %w", r.TradeID, err)
		}
		return true, nil
	}

	if sameMutableFields(existing, r) {
		return false, nil // snapshot idéntico — no hay nada que escribir
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE trades SET close_price = ?, profit = ?, closed_at = ?, is_open = ?
		WHERE user_id = ? AND trade_id = ?`,
		nullFloat(r.ClosePrice), nullFloat(r.Profit), nullTime(r.ClosedAt),
		boolToInt(r.IsOpen), userID, r.TradeID,
	); err != nil {
		return false, fmt.Errorf("storage.UpsertTrade: update %s: %w", r.TradeID, err)
	}
	return true, nil
}

// MarkViolation flags the record after a broker-confirmed close.
func (s *SQLiteLedger) MarkViolation(ctx context.Context, userID, tradeID string, violations []domain.Violation, reason string, closedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades
		SET is_open = 0, follows_rules = 0, violations = ?, auto_closed = 1,
		    auto_close_reason = ?, closed_at = ?
		WHERE user_id = ? AND trade_id = ?`,
		domain.JoinViolationCodes(violations), reason, closedAt.UTC(), userID, tradeID,
	)
	if err != nil {
		return fmt.Errorf("storage.MarkViolation: %s: %w", tradeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.MarkViolation: %s: no such trade", tradeID)
	}
	return nil
}

// TradesBetween returns the user's trades with openedAt in [from, to).
func (s *SQLiteLedger) TradesBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.TradeRecord, error) {
	return s.queryTrades(ctx,
		`user_id = ? AND opened_at >= ? AND opened_at < ? ORDER BY opened_at`,
		userID, from.UTC(), to.UTC())
}

// OpenTrades returns the user's trades the ledger still considers open.
func (s *SQLiteLedger) OpenTrades(ctx context.Context, userID string) ([]domain.TradeRecord, error) {
	return s.queryTrades(ctx, `user_id = ? AND is_open = 1 ORDER BY opened_at`, userID)
}

// ─── Internals ───────────────────────────────────────────────────────────────

const tradeColumns = `trade_id, symbol, side, volume, open_price, close_price,
	profit, opened_at, closed_at, is_open, follows_rules, violations,
	auto_closed, auto_close_reason`

func (s *SQLiteLedger) getTrade(ctx context.Context, userID, tradeID string) (domain.TradeRecord, bool, error) {
	records, err := s.queryTrades(ctx, `user_id = ? AND trade_id = ?`, userID, tradeID)
	if err != nil {
		return domain.TradeRecord{}, false, err
	}
	if len(records) == 0 {
		return domain.TradeRecord{}, false, nil
	}
	return records[0], true, nil
}

func (s *SQLiteLedger) queryTrades(ctx context.Context, where string, args ...any) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryTrades: %w", err)
	}
	defer rows.Close()

	var records []domain.TradeRecord
	for rows.Next() {
		r, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryTrades: scan: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanTrade(rows *sql.Rows) (domain.TradeRecord, error) {
	var r domain.TradeRecord
	var side, violations string
	var closePrice, profit sql.NullFloat64
	var closedAt sql.NullString
	var isOpen, followsRules, autoClosed int

	err := rows.Scan(
		&r.TradeID, &r.Symbol, &side, &r.Volume, &r.OpenPrice, &closePrice,
		&profit, &r.OpenedAt, &closedAt, &isOpen, &followsRules, &violations,
		&autoClosed, &r.AutoCloseReason,
	)
	if err != nil {
		return r, err
	}

	r.Side = domain.Side(side)
	r.IsOpen = isOpen != 0
	r.FollowsRules = followsRules != 0
	r.AutoClosed = autoClosed != 0
	r.Violations = domain.SplitViolationCodes(violations)
	if closePrice.Valid {
		r.ClosePrice = &closePrice.Float64
	}
	if profit.Valid {
		r.Profit = &profit.Float64
	}
	if t := parseNullableTime(closedAt); t != nil {
		r.ClosedAt = t
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (domain.TradingPlan, error) {
	var p domain.TradingPlan
	var symbols, start, end string
	var active int

	err := row.Scan(&p.ID, &p.UserID, &p.MaxTradesPerDay, &p.MaxRiskPercent,
		&symbols, &start, &end, &p.MaxDailyLossPercent, &active)
	if err != nil {
		return p, err
	}

	if symbols != "" {
		p.AllowedSymbols = strings.Split(symbols, ",")
	}
	p.IsActive = active != 0
	if p.SessionStart, err = domain.ParseTimeOfDay(start); err != nil {
		return p, err
	}
	if p.SessionEnd, err = domain.ParseTimeOfDay(end); err != nil {
		return p, err
	}
	return p, nil
}

// sameMutableFields compara solo los campos que la reconciliación posee.
func sameMutableFields(a, b domain.TradeRecord) bool {
	return a.IsOpen == b.IsOpen &&
		sameFloat(a.ClosePrice, b.ClosePrice) &&
		sameFloat(a.Profit, b.Profit) &&
		sameTime(a.ClosedAt, b.ClosedAt)
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UTC().Equal(b.UTC())
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, _ := time.Parse(time.RFC3339, s.String)
	if t.IsZero() {
		t, _ = time.Parse("2006-01-02 15:04:05", s.String)
	}
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
