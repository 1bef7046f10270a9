package portfolio

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/staarb/staarb/internal/domain"
)

// Position tracks one open/close cycle on a single symbol. Size is signed:
// buys contribute positively, sells negatively. The direction recorded on
// the first transaction is sticky; a later transaction tagged with the
// opposite direction closes the position.
type Position struct {
	id        string
	symbol    domain.Symbol
	size      decimal.Decimal
	direction domain.PositionDirection
	// directionSet distinguishes a fresh position from one whose first
	// transaction has landed.
	directionSet bool

	entryPrice decimal.Decimal
	entryTime  time.Time
	exitPrice  decimal.Decimal
	exitTime   time.Time
	pnl        decimal.Decimal
	isClosed   bool

	transactions []domain.Transaction
	// saved marks how many transactions have already been persisted.
	saved int
}

// NewPosition creates an empty position for a symbol.
func NewPosition(symbol domain.Symbol) *Position {
	return &Position{
		id:     uuid.NewString(),
		symbol: symbol,
	}
}

// ID returns the position's unique id.
func (p *Position) ID() string { return p.id }

// Symbol returns the traded symbol.
func (p *Position) Symbol() domain.Symbol { return p.symbol }

// Size returns the signed position size.
func (p *Position) Size() decimal.Decimal { return p.size }

// EntryPrice returns the size-weighted average entry price.
func (p *Position) EntryPrice() decimal.Decimal { return p.entryPrice }

// PnL returns the realized profit and loss. It is zero until the position
// closes and frozen afterwards.
func (p *Position) PnL() decimal.Decimal { return p.pnl }

// IsClosed reports whether the position has been closed.
func (p *Position) IsClosed() bool { return p.isClosed }

// Direction returns the recorded direction and whether it has been set.
func (p *Position) Direction() (domain.PositionDirection, bool) {
	return p.direction, p.directionSet
}

// Transactions returns the full transaction history in arrival order.
func (p *Position) Transactions() []domain.Transaction {
	out := make([]domain.Transaction, len(p.transactions))
	copy(out, p.transactions)
	return out
}

// Update applies one confirmed transaction tagged with its trade direction.
// A transaction matching the recorded direction scales into the position;
// a reversing transaction closes it.
func (p *Position) Update(tx domain.Transaction, direction domain.PositionDirection) error {
	if p.isClosed {
		return fmt.Errorf("position %s for %s is already closed", p.id, p.symbol)
	}
	if !tx.Order.Symbol.Equal(p.symbol) {
		return fmt.Errorf("transaction symbol %s does not match position symbol %s",
			tx.Order.Symbol, p.symbol)
	}
	// A base-asset commission can swallow the whole fill; such a
	// transaction carries no position change and has no exit price.
	if tx.BaseQuantity().IsZero() {
		return fmt.Errorf("transaction for %s nets to zero base quantity", p.symbol)
	}

	p.transactions = append(p.transactions, tx)

	if !p.directionSet {
		p.direction = direction
		p.directionSet = true
		p.entryTime = tx.TransactTime
	}

	signed := tx.BaseQuantity()
	if tx.Order.Side == domain.Sell {
		signed = signed.Neg()
	}

	if direction == p.direction {
		p.size = p.size.Add(signed)
		return p.recomputeEntryPrice()
	}

	exitPrice := tx.QuoteQuantity().Div(signed.Abs())
	return p.close(exitPrice, tx.TransactTime)
}

// recomputeEntryPrice derives the weighted average from the full entry
// history rather than updating incrementally, so repeated scale-ins stay
// numerically exact.
func (p *Position) recomputeEntryPrice() error {
	if p.size.IsZero() {
		return fmt.Errorf("position %s for %s has zero size after entry", p.id, p.symbol)
	}
	notional := decimal.Zero
	for _, tx := range p.transactions {
		notional = notional.Add(tx.QuoteQuantity())
	}
	p.entryPrice = notional.Div(p.size.Abs())
	return nil
}

// close locks in the realized pnl. The signed size makes the single
// formula correct for both directions.
func (p *Position) close(exitPrice decimal.Decimal, exitTime time.Time) error {
	if p.size.IsZero() {
		return fmt.Errorf("cannot close position %s for %s with zero size", p.id, p.symbol)
	}
	p.exitPrice = exitPrice
	p.exitTime = exitTime
	p.pnl = exitPrice.Sub(p.entryPrice).Mul(p.size)
	p.isClosed = true
	return nil
}

// Snapshot captures the position's state plus any transactions appended
// since the last MarkSaved call.
func (p *Position) Snapshot() domain.PositionSnapshot {
	unsaved := make([]domain.Transaction, len(p.transactions)-p.saved)
	copy(unsaved, p.transactions[p.saved:])
	return domain.PositionSnapshot{
		ID:              p.id,
		Symbol:          p.symbol,
		Size:            p.size,
		EntryPrice:      p.entryPrice,
		EntryTime:       p.entryTime,
		ExitPrice:       p.exitPrice,
		ExitTime:        p.exitTime,
		PnL:             p.pnl,
		IsClosed:        p.isClosed,
		NewTransactions: unsaved,
	}
}

// MarkSaved advances the persisted-transaction cursor to the present.
func (p *Position) MarkSaved() {
	p.saved = len(p.transactions)
}
