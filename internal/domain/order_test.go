package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func btcusdc() Symbol {
	return Symbol{
		Name:       "BTCUSDC",
		BaseAsset:  "BTC",
		QuoteAsset: "USDC",
		Filters: Filters{
			LotSize:  LotSizeFilter{MinQty: decimal.RequireFromString("0.0001"), StepSize: decimal.RequireFromString("0.0001")},
			Price:    PriceFilter{TickSize: decimal.RequireFromString("0.01")},
			Notional: NotionalFilter{MinNotional: decimal.NewFromInt(10)},
		},
	}
}

func TestFillCommissionInBase(t *testing.T) {
	fill := Fill{
		Symbol:          btcusdc(),
		Price:           decimal.NewFromInt(50000),
		Quantity:        decimal.RequireFromString("0.1"),
		Commission:      decimal.RequireFromString("0.001"),
		CommissionAsset: "BTC",
	}

	if got := fill.BaseQuantity(); !got.Equal(decimal.RequireFromString("0.099")) {
		t.Fatalf("base quantity = %s, want 0.099", got)
	}
	if got := fill.QuoteQuantity(); !got.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("quote quantity = %s, want 5000", got)
	}
}

func TestFillCommissionInQuote(t *testing.T) {
	fill := Fill{
		Symbol:          btcusdc(),
		Price:           decimal.NewFromInt(50000),
		Quantity:        decimal.RequireFromString("0.1"),
		Commission:      decimal.NewFromInt(5),
		CommissionAsset: "USDC",
	}

	if got := fill.BaseQuantity(); !got.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("base quantity = %s, want 0.1", got)
	}
	if got := fill.QuoteQuantity(); !got.Equal(decimal.NewFromInt(4995)) {
		t.Fatalf("quote quantity = %s, want 4995", got)
	}
}

func TestNewTransactionValidation(t *testing.T) {
	order := NewMarketOrder(btcusdc(), decimal.RequireFromString("0.1"), Buy)

	if _, err := NewTransaction(order, nil, time.Now()); err == nil {
		t.Fatal("expected error for a transaction without fills")
	}

	other := btcusdc()
	other.Name = "ETHUSDC"
	mismatched := []Fill{{Symbol: other, Price: decimal.NewFromInt(3000), Quantity: decimal.NewFromInt(1)}}
	if _, err := NewTransaction(order, mismatched, time.Now()); err == nil {
		t.Fatal("expected error for a fill on a different symbol")
	}
}

func TestTransactionAvgFillPrice(t *testing.T) {
	order := NewMarketOrder(btcusdc(), decimal.RequireFromString("0.3"), Buy)
	fills := []Fill{
		{Symbol: btcusdc(), Price: decimal.NewFromInt(50000), Quantity: decimal.RequireFromString("0.1")},
		{Symbol: btcusdc(), Price: decimal.NewFromInt(51000), Quantity: decimal.RequireFromString("0.2")},
	}

	tx, err := NewTransaction(order, fills, time.Now())
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	if tx.ID == "" {
		t.Fatal("transaction id not generated")
	}

	// (50000*0.1 + 51000*0.2) / 0.3
	want := decimal.NewFromInt(15200).Div(decimal.RequireFromString("0.3"))
	if got := tx.AvgFillPrice(); !got.Equal(want) {
		t.Fatalf("avg fill price = %s, want %s", got, want)
	}
}

func TestRoundStep(t *testing.T) {
	tests := []struct {
		value string
		step  string
		want  string
	}{
		{"0.12345", "0.001", "0.123"},
		{"0.12399", "0.001", "0.123"},
		{"5", "1", "5"},
		{"0.00009", "0.0001", "0"},
		{"7.7", "0", "7.7"},
	}

	for _, tt := range tests {
		got := RoundStep(decimal.RequireFromString(tt.value), decimal.RequireFromString(tt.step))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("RoundStep(%s, %s) = %s, want %s", tt.value, tt.step, got, tt.want)
		}
	}
}

func TestSymbolEqualByNameOnly(t *testing.T) {
	a := btcusdc()
	b := Symbol{Name: "BTCUSDC", BaseAsset: "XBT"}
	if !a.Equal(b) {
		t.Fatal("symbols with the same name must be interchangeable")
	}
}
