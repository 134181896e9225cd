package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/disciplina/internal/domain"
)

// BrokerGateway talks to the broker connectivity provider for one account.
// It is the authority for the real-world position lifecycle; the engine only
// reads state from it and issues compensating closes.
type BrokerGateway interface {
	// ListOpenPositions returns every currently open position on the account.
	ListOpenPositions(ctx context.Context, accountID string) ([]domain.Position, error)

	// ListDeals returns historical deals in [from, to].
	ListDeals(ctx context.Context, accountID string, from, to time.Time) ([]domain.Deal, error)

	// ClosePosition asks the broker to flatten one position by ticket id.
	// A nil error means the broker accepted the close.
	ClosePosition(ctx context.Context, accountID, positionID string) error

	// ProvisionAccount creates and deploys a broker account from raw
	// credentials and returns its id. Outside the enforcement core; the
	// engine only ever consumes the resulting accountID.
	ProvisionAccount(ctx context.Context, creds AccountCredentials) (string, error)
}

// AccountCredentials is what the provisioning endpoint needs to attach a
// user's own broker login to the connectivity provider.
type AccountCredentials struct {
	Name     string
	Login    string
	Password string
	Server   string
	Platform string // "mt4" | "mt5"
}
