package domain

// OrderSide represents buy or sell
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType represents the order type
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// TimeInForce represents order duration
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

// SideEffect is the margin side-effect policy attached to an order.
type SideEffect string

const (
	// AutoBorrowRepay borrows on shortfall and repays on the next gain.
	AutoBorrowRepay SideEffect = "AUTO_BORROW_REPAY"
	NoSideEffect    SideEffect = "NO_SIDE_EFFECT"
)

// PositionDirection is the direction a position was opened in.
type PositionDirection string

const (
	DirectionLong  PositionDirection = "LONG"
	DirectionShort PositionDirection = "SHORT"
)

// Decision is the output of the signal generator.
type Decision string

const (
	DecisionLong  Decision = "LONG"
	DecisionShort Decision = "SHORT"
	DecisionHold  Decision = "HOLD"
	DecisionExit  Decision = "EXIT"
)

// PositionStatus is the signal generator's confirmed position state.
type PositionStatus string

const (
	StatusIdle  PositionStatus = "IDLE"
	StatusLong  PositionStatus = "LONG"
	StatusShort PositionStatus = "SHORT"
)

// SessionType distinguishes backtest, live and paper trading sessions.
type SessionType string

const (
	SessionBacktest SessionType = "backtest"
	SessionLive     SessionType = "live"
	SessionPaper    SessionType = "paper"
)
