package metaapi

import (
	"strings"
	"time"

	"github.com/alejandrodnm/disciplina/internal/domain"
)

// Wire DTOs for the provider's REST API and their domain mapping. The
// provider speaks MetaTrader vocabulary (POSITION_TYPE_BUY, DEAL_TYPE_SELL);
// everything past this file speaks domain.Side.

type positionDTO struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Type         string    `json:"type"` // POSITION_TYPE_BUY | POSITION_TYPE_SELL
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"openPrice"`
	CurrentPrice float64   `json:"currentPrice"`
	Profit       float64   `json:"profit"`
	Time         time.Time `json:"time"`
}

func (d positionDTO) toDomain() domain.Position {
	return domain.Position{
		TradeID:      d.ID,
		Symbol:       d.Symbol,
		Side:         sideFromWire(d.Type),
		Volume:       d.Volume,
		OpenPrice:    d.OpenPrice,
		CurrentPrice: d.CurrentPrice,
		Profit:       d.Profit,
		OpenedAt:     d.Time.UTC(),
	}
}

type dealDTO struct {
	ID         string     `json:"id"`
	PositionID string     `json:"positionId"`
	Symbol     string     `json:"symbol"`
	Type       string     `json:"type"` // DEAL_TYPE_BUY | DEAL_TYPE_SELL | DEAL_TYPE_BALANCE...
	EntryType  string     `json:"entryType"` // DEAL_ENTRY_IN | DEAL_ENTRY_OUT
	Volume     float64    `json:"volume"`
	Price      float64    `json:"price"`
	Profit     float64    `json:"profit"`
	Time       time.Time  `json:"time"`
	DoneTime   *time.Time `json:"doneTime,omitempty"`
}

// skip filters non-trade operations (balance, credit, corrections).
func (d dealDTO) skip() bool {
	return d.Symbol == "" || !strings.HasPrefix(d.Type, "DEAL_TYPE_BUY") && !strings.HasPrefix(d.Type, "DEAL_TYPE_SELL")
}

func (d dealDTO) toDomain() domain.Deal {
	// The ticket that groups entry and exit is the position id; the deal's
	// own id only identifies the fill.
	ticket := d.PositionID
	if ticket == "" {
		ticket = d.ID
	}

	deal := domain.Deal{
		TradeID:   ticket,
		Symbol:    d.Symbol,
		Side:      sideFromWire(d.Type),
		Volume:    d.Volume,
		OpenPrice: d.Price,
		Profit:    d.Profit,
		OpenedAt:  d.Time.UTC(),
	}

	// An OUT entry is the closing fill: its price is the close price and its
	// timestamp the close time.
	if d.EntryType == "DEAL_ENTRY_OUT" {
		deal.ClosePrice = d.Price
		closedAt := d.Time.UTC()
		if d.DoneTime != nil {
			closedAt = d.DoneTime.UTC()
		}
		deal.ClosedAt = &closedAt
	}
	return deal
}

type closeRequestDTO struct {
	ActionType      string `json:"actionType"`
	PositionID      string `json:"positionId"`
	ClientRequestID string `json:"clientRequestId"`
}

type closeResponseDTO struct {
	NumericCode int    `json:"numericCode"`
	StringCode  string `json:"stringCode"`
	OrderID     string `json:"orderId"`
}

// accepted reports whether the provider took the trade action. The provider
// uses TRADE_RETCODE_DONE / 10009 for success; an empty code on a 2xx means
// the gateway variant that answers with just the order id.
func (r closeResponseDTO) accepted() bool {
	if r.StringCode != "" {
		return r.StringCode == "TRADE_RETCODE_DONE"
	}
	if r.NumericCode != 0 {
		return r.NumericCode == 10009
	}
	return true
}

type provisionRequestDTO struct {
	Name          string `json:"name"`
	Login         string `json:"login"`
	Password      string `json:"password"`
	Server        string `json:"server"`
	Platform      string `json:"platform"`
	TransactionID string `json:"transactionId"`
	MagicDefault  int    `json:"magic"`
}

func sideFromWire(t string) domain.Side {
	if strings.Contains(t, "SELL") {
		return domain.SideSell
	}
	return domain.SideBuy
}
