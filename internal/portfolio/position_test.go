package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/staarb/staarb/internal/domain"
)

func testSymbol() domain.Symbol {
	return domain.Symbol{Name: "BTCUSDC", BaseAsset: "BTC", QuoteAsset: "USDC"}
}

func mustTransaction(t *testing.T, side domain.OrderSide, price, qty string) domain.Transaction {
	t.Helper()
	symbol := testSymbol()
	order := domain.NewMarketOrder(symbol, decimal.RequireFromString(qty), side)
	fills := []domain.Fill{{
		Symbol:   symbol,
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString(qty),
	}}
	tx, err := domain.NewTransaction(order, fills, time.Now())
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	return tx
}

func TestPositionWeightedAverageEntry(t *testing.T) {
	pos := NewPosition(testSymbol())

	if err := pos.Update(mustTransaction(t, domain.Buy, "50000", "0.1"), domain.DirectionLong); err != nil {
		t.Fatalf("first entry: %v", err)
	}
	if !pos.Size().Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("size = %s, want 0.1", pos.Size())
	}
	if !pos.EntryPrice().Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("entry price = %s, want 50000", pos.EntryPrice())
	}

	if err := pos.Update(mustTransaction(t, domain.Buy, "60000", "0.1"), domain.DirectionLong); err != nil {
		t.Fatalf("second entry: %v", err)
	}
	// (50000*0.1 + 60000*0.1) / 0.2
	if !pos.EntryPrice().Equal(decimal.NewFromInt(55000)) {
		t.Fatalf("entry price after scale-in = %s, want 55000", pos.EntryPrice())
	}
	if !pos.Size().Equal(decimal.RequireFromString("0.2")) {
		t.Fatalf("size after scale-in = %s, want 0.2", pos.Size())
	}
}

func TestPositionCommissionNetEntry(t *testing.T) {
	pos := NewPosition(testSymbol())
	symbol := testSymbol()
	order := domain.NewMarketOrder(symbol, decimal.RequireFromString("0.1"), domain.Buy)
	fills := []domain.Fill{{
		Symbol:          symbol,
		Price:           decimal.NewFromInt(50000),
		Quantity:        decimal.RequireFromString("0.1"),
		Commission:      decimal.RequireFromString("0.001"),
		CommissionAsset: "BTC",
	}}
	tx, err := domain.NewTransaction(order, fills, time.Now())
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}

	if err := pos.Update(tx, domain.DirectionLong); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !pos.Size().Equal(decimal.RequireFromString("0.099")) {
		t.Fatalf("size = %s, want 0.099", pos.Size())
	}
	want := decimal.NewFromInt(5000).Div(decimal.RequireFromString("0.099"))
	if !pos.EntryPrice().Equal(want) {
		t.Fatalf("entry price = %s, want %s", pos.EntryPrice(), want)
	}
}

func TestPositionLongExitPnL(t *testing.T) {
	pos := NewPosition(testSymbol())

	if err := pos.Update(mustTransaction(t, domain.Buy, "50000", "0.1"), domain.DirectionLong); err != nil {
		t.Fatalf("entry: %v", err)
	}
	if err := pos.Update(mustTransaction(t, domain.Sell, "55000", "0.1"), domain.DirectionShort); err != nil {
		t.Fatalf("exit: %v", err)
	}

	if !pos.IsClosed() {
		t.Fatal("position must close on a reversing transaction")
	}
	// (55000 - 50000) * 0.1
	if !pos.PnL().Equal(decimal.NewFromInt(500)) {
		t.Fatalf("pnl = %s, want 500", pos.PnL())
	}
}

func TestPositionShortExitPnL(t *testing.T) {
	pos := NewPosition(testSymbol())

	if err := pos.Update(mustTransaction(t, domain.Sell, "50000", "0.1"), domain.DirectionShort); err != nil {
		t.Fatalf("entry: %v", err)
	}
	if !pos.Size().Equal(decimal.RequireFromString("-0.1")) {
		t.Fatalf("short size = %s, want -0.1", pos.Size())
	}

	if err := pos.Update(mustTransaction(t, domain.Buy, "45000", "0.1"), domain.DirectionLong); err != nil {
		t.Fatalf("exit: %v", err)
	}
	// (45000 - 50000) * -0.1
	if !pos.PnL().Equal(decimal.NewFromInt(500)) {
		t.Fatalf("short pnl = %s, want 500", pos.PnL())
	}
}

func TestPositionPnLFrozenAfterClose(t *testing.T) {
	pos := NewPosition(testSymbol())

	if err := pos.Update(mustTransaction(t, domain.Buy, "50000", "0.1"), domain.DirectionLong); err != nil {
		t.Fatalf("entry: %v", err)
	}
	if err := pos.Update(mustTransaction(t, domain.Sell, "55000", "0.1"), domain.DirectionShort); err != nil {
		t.Fatalf("exit: %v", err)
	}
	frozen := pos.PnL()

	if err := pos.Update(mustTransaction(t, domain.Buy, "60000", "0.1"), domain.DirectionLong); err == nil {
		t.Fatal("expected error updating a closed position")
	}
	if !pos.PnL().Equal(frozen) {
		t.Fatal("pnl must not change after close")
	}
}

func TestPositionSnapshotCursor(t *testing.T) {
	pos := NewPosition(testSymbol())

	if err := pos.Update(mustTransaction(t, domain.Buy, "50000", "0.1"), domain.DirectionLong); err != nil {
		t.Fatalf("entry: %v", err)
	}
	if got := len(pos.Snapshot().NewTransactions); got != 1 {
		t.Fatalf("first snapshot has %d new transactions, want 1", got)
	}
	pos.MarkSaved()
	if got := len(pos.Snapshot().NewTransactions); got != 0 {
		t.Fatalf("snapshot after save has %d new transactions, want 0", got)
	}

	if err := pos.Update(mustTransaction(t, domain.Buy, "51000", "0.1"), domain.DirectionLong); err != nil {
		t.Fatalf("second entry: %v", err)
	}
	if got := len(pos.Snapshot().NewTransactions); got != 1 {
		t.Fatalf("snapshot after second entry has %d new transactions, want 1", got)
	}
}

func TestPositionRejectsZeroBaseTransaction(t *testing.T) {
	pos := NewPosition(testSymbol())
	if err := pos.Update(mustTransaction(t, domain.Buy, "50000", "0.1"), domain.DirectionLong); err != nil {
		t.Fatalf("entry: %v", err)
	}

	symbol := testSymbol()
	order := domain.NewMarketOrder(symbol, decimal.RequireFromString("0.001"), domain.Sell)
	fills := []domain.Fill{{
		Symbol:          symbol,
		Price:           decimal.NewFromInt(50000),
		Quantity:        decimal.RequireFromString("0.001"),
		Commission:      decimal.RequireFromString("0.001"),
		CommissionAsset: "BTC",
	}}
	tx, err := domain.NewTransaction(order, fills, time.Now())
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}

	if err := pos.Update(tx, domain.DirectionShort); err == nil {
		t.Fatal("expected a commission-swallowed transaction to be rejected")
	}
	if pos.IsClosed() {
		t.Fatal("position must stay open after a rejected transaction")
	}
	if len(pos.Transactions()) != 1 {
		t.Fatalf("rejected transaction must not be recorded, history has %d", len(pos.Transactions()))
	}
}
