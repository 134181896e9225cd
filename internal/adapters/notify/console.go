package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alejandrodnm/disciplina/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier escribiendo a stdout.
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador de consola.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// CycleReport imprime el resultado de un ciclo: una línea compacta si no
// hubo violaciones, tabla completa si el engine intentó algún cierre.
func (c *Console) CycleReport(_ context.Context, userID string, result *domain.CycleResult) error {
	now := time.Now().Format("15:04:05")

	if result.Violated == 0 {
		fmt.Fprintf(c.out, "[%s] %s: %d positions checked, all compliant (synced %d)\n",
			now, userID, result.Checked, result.SyncedTrades)
		c.printWarnings(result.Warnings)
		return nil
	}

	fmt.Fprintf(c.out, "\n[%s] %s: %d checked, %d in violation\n",
		now, userID, result.Checked, result.Violated)

	table := tablewriter.NewWriter(c.out)
	table.Header("Trade", "Symbol", "Violations", "Action")

	for _, d := range result.Details {
		action := "CLOSE FAILED — retry next cycle"
		if d.Closed {
			action = "auto-closed"
		}
		table.Append(d.TradeID, d.Symbol, domain.JoinViolations(d.Violations), action)
	}
	table.Render()

	c.printWarnings(result.Warnings)
	return nil
}

func (c *Console) printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(c.out, "  ⚠ %s\n", w)
	}
}
