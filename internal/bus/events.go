package bus

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/staarb/staarb/internal/domain"
)

// Kind enumerates the closed set of event kinds carried on the bus.
type Kind uint8

const (
	KindMarketData Kind = iota + 1
	KindSignal
	KindOrderCreated
	KindTransactionClosed
	KindPosition
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindMarketData:
		return "market_data"
	case KindSignal:
		return "signal"
	case KindOrderCreated:
		return "order_created"
	case KindTransactionClosed:
		return "transaction_closed"
	case KindPosition:
		return "position"
	case KindSession:
		return "session"
	}
	return "unknown"
}

// Event is the value carried on the bus. Every event is stamped with the
// publish time (UTC) when not supplied explicitly.
type Event interface {
	Kind() Kind
	Time() time.Time
}

func stampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// MarketDataEvent carries a per-symbol price window. Symbols preserves the
// basket order the price matrix is built in; map iteration must never be
// used for anything order-sensitive.
type MarketDataEvent struct {
	Stamp   time.Time
	Symbols []string
	Data    map[string]domain.PriceSeries
}

// NewMarketDataEvent stamps and builds a market data event.
func NewMarketDataEvent(symbols []string, data map[string]domain.PriceSeries) MarketDataEvent {
	return MarketDataEvent{Stamp: time.Now().UTC(), Symbols: symbols, Data: data}
}

func (e MarketDataEvent) Kind() Kind      { return KindMarketData }
func (e MarketDataEvent) Time() time.Time { return e.Stamp }

// SignalEvent carries a strategy decision with the hedge ratio it was made
// under and the latest observed price per symbol.
type SignalEvent struct {
	Stamp      time.Time
	Signal     domain.Decision
	HedgeRatio domain.HedgeRatio
	Prices     map[string]decimal.Decimal
}

// NewSignalEvent stamps and builds a signal event.
func NewSignalEvent(signal domain.Decision, hr domain.HedgeRatio, prices map[string]decimal.Decimal) SignalEvent {
	return SignalEvent{Stamp: time.Now().UTC(), Signal: signal, HedgeRatio: hr, Prices: prices}
}

func (e SignalEvent) Kind() Kind      { return KindSignal }
func (e SignalEvent) Time() time.Time { return e.Stamp }

// OrderCreatedEvent carries one signal's full batch of filtered orders.
type OrderCreatedEvent struct {
	Stamp  time.Time
	Orders []domain.Order
}

// NewOrderCreatedEvent stamps and builds an order created event.
func NewOrderCreatedEvent(orders []domain.Order) OrderCreatedEvent {
	return OrderCreatedEvent{Stamp: time.Now().UTC(), Orders: orders}
}

func (e OrderCreatedEvent) Kind() Kind      { return KindOrderCreated }
func (e OrderCreatedEvent) Time() time.Time { return e.Stamp }

// TransactionClosedEvent confirms an executed transaction. Direction tags
// the trade direction (BUY=LONG, SELL=SHORT); position accounting uses it
// only to tell same-direction entries from reversing exits.
type TransactionClosedEvent struct {
	Stamp       time.Time
	Transaction domain.Transaction
	Direction   domain.PositionDirection
}

// NewTransactionClosedEvent stamps and builds a transaction closed event.
func NewTransactionClosedEvent(tx domain.Transaction, direction domain.PositionDirection) TransactionClosedEvent {
	return TransactionClosedEvent{Stamp: time.Now().UTC(), Transaction: tx, Direction: direction}
}

func (e TransactionClosedEvent) Kind() Kind      { return KindTransactionClosed }
func (e TransactionClosedEvent) Time() time.Time { return e.Stamp }

// PositionEvent carries a position snapshot after every mutation.
type PositionEvent struct {
	Stamp    time.Time
	Position domain.PositionSnapshot
}

// NewPositionEvent stamps and builds a position event.
func NewPositionEvent(snapshot domain.PositionSnapshot) PositionEvent {
	return PositionEvent{Stamp: time.Now().UTC(), Position: snapshot}
}

func (e PositionEvent) Kind() Kind      { return KindPosition }
func (e PositionEvent) Time() time.Time { return e.Stamp }

// SessionEvent announces a trading session at start.
type SessionEvent struct {
	Stamp       time.Time
	SessionID   string
	SessionType domain.SessionType
	Start       time.Time
	End         time.Time
}

// NewSessionEvent stamps and builds a session event. The session id
// combines the type, the session start and the creation timestamp.
func NewSessionEvent(sessionType domain.SessionType, start, end time.Time) SessionEvent {
	now := time.Now().UTC()
	id := string(sessionType) + "-" + start.UTC().Format("20060102") + "-" + now.Format("20060102T150405")
	return SessionEvent{Stamp: now, SessionID: id, SessionType: sessionType, Start: start, End: end}
}

func (e SessionEvent) Kind() Kind      { return KindSession }
func (e SessionEvent) Time() time.Time { return e.Stamp }
