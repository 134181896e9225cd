package metaapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/alejandrodnm/disciplina/internal/domain"
	"github.com/alejandrodnm/disciplina/internal/ports"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://mt-client-api-v1.london.agiliumtrade.ai"

	// Rate limits por debajo de los límites documentados del proveedor.
	// Lecturas (positions/history): generosas. Trades: mucho más estrictas.
	readRatePerSec  = 10
	tradeRatePerSec = 2

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client es el HTTP client del proveedor de conectividad (estilo MetaApi)
// con rate limiting y retries. Implementa ports.BrokerGateway.
type Client struct {
	http         *http.Client
	baseURL      string
	token        string
	readLimiter  *rate.Limiter
	tradeLimiter *rate.Limiter
}

var _ ports.BrokerGateway = (*Client)(nil)

// NewClient crea un Client autenticado contra el base URL dado.
// Si baseURL está vacío, usa el endpoint de producción.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		token:        token,
		readLimiter:  rate.NewLimiter(readRatePerSec, 5),
		tradeLimiter: rate.NewLimiter(tradeRatePerSec, 1),
	}
}

// ListOpenPositions returns every open position on the account.
func (c *Client) ListOpenPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	url := fmt.Sprintf("%s/users/current/accounts/%s/positions", c.baseURL, accountID)

	var dtos []positionDTO
	if err := c.get(ctx, c.readLimiter, url, &dtos); err != nil {
		return nil, fmt.Errorf("metaapi.ListOpenPositions: %w", err)
	}

	positions := make([]domain.Position, 0, len(dtos))
	for _, dto := range dtos {
		positions = append(positions, dto.toDomain())
	}
	return positions, nil
}

// ListDeals returns historical deals in [from, to].
func (c *Client) ListDeals(ctx context.Context, accountID string, from, to time.Time) ([]domain.Deal, error) {
	url := fmt.Sprintf("%s/users/current/accounts/%s/history-deals/time/%s/%s",
		c.baseURL, accountID,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	var dtos []dealDTO
	if err := c.get(ctx, c.readLimiter, url, &dtos); err != nil {
		return nil, fmt.Errorf("metaapi.ListDeals: %w", err)
	}

	deals := make([]domain.Deal, 0, len(dtos))
	for _, dto := range dtos {
		if dto.skip() {
			continue // balance/credit operations, not trades
		}
		deals = append(deals, dto.toDomain())
	}
	return deals, nil
}

// ClosePosition asks the broker to flatten the position. A nil error means
// the provider accepted the close. The clientRequestId makes a retried
// submission idempotent provider-side.
func (c *Client) ClosePosition(ctx context.Context, accountID, positionID string) error {
	url := fmt.Sprintf("%s/users/current/accounts/%s/positions/%s/close",
		c.baseURL, accountID, positionID)

	body := closeRequestDTO{
		ActionType:      "POSITION_CLOSE_ID",
		PositionID:      positionID,
		ClientRequestID: uuid.New().String(),
	}

	var out closeResponseDTO
	if err := c.post(ctx, c.tradeLimiter, url, body, &out); err != nil {
		return fmt.Errorf("metaapi.ClosePosition: %s: %w", positionID, err)
	}
	if !out.accepted() {
		return fmt.Errorf("metaapi.ClosePosition: %s: rejected: %s", positionID, out.StringCode)
	}
	return nil
}

// ProvisionAccount creates and deploys a broker account, returning its id.
// Deployment is asynchronous provider-side; callers poll/list afterwards.
func (c *Client) ProvisionAccount(ctx context.Context, creds ports.AccountCredentials) (string, error) {
	createURL := fmt.Sprintf("%s/users/current/accounts", c.baseURL)

	var created struct {
		ID string `json:"id"`
	}
	req := provisionRequestDTO{
		Name:          creds.Name,
		Login:         creds.Login,
		Password:      creds.Password,
		Server:        creds.Server,
		Platform:      creds.Platform,
		TransactionID: uuid.New().String(),
	}
	if err := c.post(ctx, c.tradeLimiter, createURL, req, &created); err != nil {
		return "", fmt.Errorf("metaapi.ProvisionAccount: create: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("metaapi.ProvisionAccount: provider returned empty account id")
	}

	deployURL := fmt.Sprintf("%s/users/current/accounts/%s/deploy", c.baseURL, created.ID)
	var ignored struct{}
	if err := c.post(ctx, c.tradeLimiter, deployURL, struct{}{}, &ignored); err != nil {
		return "", fmt.Errorf("metaapi.ProvisionAccount: deploy %s: %w", created.ID, err)
	}

	return created.ID, nil
}

// ─── HTTP plumbing ───────────────────────────────────────────────────────────

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("auth-token", c.token)
		return c.http.Do(req)
	}, out)
}

// post hace un POST JSON con rate limiting y retries.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("auth-token", c.token)
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial y jitter.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by broker API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			if err == io.EOF {
				return nil // 204-style empty body
			}
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
