// Package payment talks to the external payment provider: it builds signed
// payment requests and authenticates the provider's asynchronous notifications.
package payment

import (
	"context"
	"net/url"
	"strconv"

	"checkout-service/internal/apperr"

	"github.com/shopspring/decimal"
)

// Trade statuses reported by the provider
const (
	TradeWaitBuyerPay = "WAIT_BUYER_PAY"
	TradeClosed       = "TRADE_CLOSED"
	TradeSuccess      = "TRADE_SUCCESS"
	TradeFinished     = "TRADE_FINISHED"
)

// Gateway is the provider boundary
type Gateway interface {
	RequestPayment(ctx context.Context, req Request) (*Form, error)
	// ParseAndAuthenticate rejects the callback before reading any field
	// unless its signature verifies.
	ParseAndAuthenticate(values url.Values) (*Notification, error)
}

// Request describes the order to be paid. Amount is in minor units.
type Request struct {
	OrderID int64
	Amount  int64
	Subject string
}

// Form is the opaque redirect artifact handed to the buyer's browser
type Form struct {
	Action string            `json:"action"`
	Fields map[string]string `json:"fields"`
	HTML   string            `json:"html"`
}

// Notification is an authenticated provider callback
type Notification struct {
	MerchantReference string
	OrderID           int64
	TradeNo           string
	NotifyID          string
	Amount            decimal.Decimal
	Status            string
}

// Paid reports whether the provider considers the trade settled
func (n *Notification) Paid() bool {
	return n.Status == TradeSuccess || n.Status == TradeFinished
}

// MatchesAmount compares the provider amount with a total in minor units exactly
func (n *Notification) MatchesAmount(total int64) bool {
	return n.Amount.Equal(decimal.New(total, -2))
}

// FormatAmount renders minor units as the provider's two-decimal string
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// ParseAmount reads a provider amount string
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperr.ErrInvalidArgument.WithDetail("amount %q", raw).Wrap(err)
	}
	if amount.IsNegative() {
		return decimal.Zero, apperr.ErrInvalidArgument.WithDetail("amount %q", raw)
	}
	return amount, nil
}

func parseOrderID(ref string) (int64, error) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.ErrOrderNotFound.WithDetail("merchant reference %q", ref)
	}
	return id, nil
}
