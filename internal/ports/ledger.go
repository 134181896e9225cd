package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/disciplina/internal/domain"
)

// TradeLedger es el almacén durable de trades y planes. Es la única fuente
// de verdad para isOpen y el estado de violaciones; los hechos del broker
// (precios, profit, cierre) se copian en una sola dirección broker → ledger.
type TradeLedger interface {
	// ActivePlan devuelve el plan activo del usuario, o false si no hay.
	ActivePlan(ctx context.Context, userID string) (domain.TradingPlan, bool, error)

	// SavePlan inserta un plan nuevo como activo, desactivando el anterior.
	SavePlan(ctx context.Context, plan domain.TradingPlan) error

	// TradesBetween devuelve los trades del usuario con openedAt en [from, to).
	TradesBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.TradeRecord, error)

	// OpenTrades devuelve los trades del usuario que siguen abiertos.
	OpenTrades(ctx context.Context, userID string) ([]domain.TradeRecord, error)

	// UpsertTrade inserta el record si el tradeId no existe para el usuario,
	// o actualiza solo los campos mutables (closePrice, profit, closedAt,
	// isOpen). Los campos de violación no se tocan. Devuelve true si la fila
	// cambió — la igualdad de campos corta la escritura, haciendo la
	// reconciliación idempotente.
	UpsertTrade(ctx context.Context, userID string, record domain.TradeRecord) (bool, error)

	// MarkViolation cierra el record en el ledger tras un close confirmado:
	// isOpen=false, followsRules=false, violations, autoClosed=true.
	MarkViolation(ctx context.Context, userID, tradeID string, violations []domain.Violation, reason string, closedAt time.Time) error

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
