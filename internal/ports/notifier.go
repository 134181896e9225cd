package ports

import (
	"context"

	"github.com/alejandrodnm/disciplina/internal/domain"
)

// Notifier presenta el resultado de cada ciclo al usuario.
type Notifier interface {
	// CycleReport muestra el resultado de un ciclo de enforcement.
	// En la implementación de consola, imprime una tabla de violaciones.
	CycleReport(ctx context.Context, userID string, result *domain.CycleResult) error
}
