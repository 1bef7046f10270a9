package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSnapshot is an immutable view of a position taken after each
// mutation. NewTransactions holds only the transactions appended since the
// previous snapshot was persisted, so consumers can write incrementally.
type PositionSnapshot struct {
	ID              string
	Symbol          Symbol
	Size            decimal.Decimal
	EntryPrice      decimal.Decimal
	EntryTime       time.Time
	ExitPrice       decimal.Decimal
	ExitTime        time.Time
	PnL             decimal.Decimal
	IsClosed        bool
	NewTransactions []Transaction
}
