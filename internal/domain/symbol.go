package domain

import (
	"github.com/shopspring/decimal"
)

// LotSizeFilter constrains order quantities for a symbol.
type LotSizeFilter struct {
	MinQty   decimal.Decimal
	MaxQty   decimal.Decimal
	StepSize decimal.Decimal
}

// PriceFilter constrains order prices for a symbol.
type PriceFilter struct {
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
	TickSize decimal.Decimal
}

// NotionalFilter constrains order value (price x quantity) for a symbol.
type NotionalFilter struct {
	MinNotional decimal.Decimal
	MaxNotional decimal.Decimal
}

// Filters bundles the exchange trading rules for one symbol.
type Filters struct {
	LotSize  LotSizeFilter
	Price    PriceFilter
	Notional NotionalFilter
}

// Symbol is the exchange metadata for one traded pair. It is immutable
// after construction. Identity is the name alone: two Symbol values with
// the same name are interchangeable even if other fields differ, because
// exchange metadata is fetched once per symbol name.
type Symbol struct {
	Name           string
	BaseAsset      string
	QuoteAsset     string
	BasePrecision  int
	QuotePrecision int
	Filters        Filters
}

// Equal compares symbols by name only.
func (s Symbol) Equal(other Symbol) bool {
	return s.Name == other.Name
}

func (s Symbol) String() string {
	return s.Name
}

// RoundStep rounds value down to a multiple of step. Rounding is always
// toward zero so a filtered order can never exceed the requested size.
func RoundStep(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	return value.Sub(value.Mod(step))
}
