package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is a request to trade a symbol. A nil Price means a market order.
// Orders are immutable values created by the portfolio sizing logic.
type Order struct {
	Symbol      Symbol
	Quantity    decimal.Decimal
	Side        OrderSide
	Price       *decimal.Decimal
	SideEffect  SideEffect
	Type        OrderType
	TimeInForce TimeInForce
}

// NewMarketOrder builds a market order with the default margin side-effect
// policy and time in force.
func NewMarketOrder(symbol Symbol, quantity decimal.Decimal, side OrderSide) Order {
	return Order{
		Symbol:      symbol,
		Quantity:    quantity,
		Side:        side,
		SideEffect:  AutoBorrowRepay,
		Type:        Market,
		TimeInForce: GTC,
	}
}

// Fill is a single execution against an order. BaseQuantity and
// QuoteQuantity are net of commission on whichever leg the commission was
// charged against; the commission is never deducted twice.
type Fill struct {
	Symbol          Symbol
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
}

// BaseQuantity returns the base-asset quantity net of a base-asset commission.
func (f Fill) BaseQuantity() decimal.Decimal {
	if f.CommissionAsset == f.Symbol.BaseAsset {
		return f.Quantity.Sub(f.Commission)
	}
	return f.Quantity
}

// QuoteQuantity returns the notional net of a quote-asset commission.
func (f Fill) QuoteQuantity() decimal.Decimal {
	if f.CommissionAsset == f.Symbol.QuoteAsset {
		return f.Price.Mul(f.Quantity).Sub(f.Commission)
	}
	return f.Price.Mul(f.Quantity)
}

// Transaction is one executed order together with its fills.
type Transaction struct {
	ID           string
	Order        Order
	Fills        []Fill
	TransactTime time.Time
}

// NewTransaction validates and builds a transaction. A transaction must
// carry at least one fill and every fill must match the order's symbol.
func NewTransaction(order Order, fills []Fill, transactTime time.Time) (Transaction, error) {
	if len(fills) == 0 {
		return Transaction{}, fmt.Errorf("transaction for %s must have at least one fill", order.Symbol)
	}
	for _, fill := range fills {
		if !fill.Symbol.Equal(order.Symbol) {
			return Transaction{}, fmt.Errorf(
				"fill symbol %s does not match order symbol %s", fill.Symbol, order.Symbol)
		}
	}
	return Transaction{
		ID:           uuid.NewString(),
		Order:        order,
		Fills:        fills,
		TransactTime: transactTime,
	}, nil
}

// BaseQuantity sums the commission-adjusted base quantity over all fills.
func (t Transaction) BaseQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, fill := range t.Fills {
		total = total.Add(fill.BaseQuantity())
	}
	return total
}

// QuoteQuantity sums the commission-adjusted notional over all fills.
func (t Transaction) QuoteQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, fill := range t.Fills {
		total = total.Add(fill.QuoteQuantity())
	}
	return total
}

// AvgFillPrice is total quote quantity divided by total base quantity.
func (t Transaction) AvgFillPrice() decimal.Decimal {
	return t.QuoteQuantity().Div(t.BaseQuantity())
}

// SingleHedgeRatio is one leg's coefficient in the hedge basket.
type SingleHedgeRatio struct {
	Symbol     string
	HedgeRatio float64
}

// HedgeRatio is the per-asset coefficient vector normalizing a basket into
// a stationary spread; the first asset's coefficient is fixed to 1.0.
type HedgeRatio []SingleHedgeRatio
