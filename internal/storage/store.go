package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/staarb/staarb/internal/bus"
	"github.com/staarb/staarb/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time   TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES sessions(id),
	symbol      TEXT NOT NULL,
	size        TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	entry_time  TEXT NOT NULL,
	exit_price  TEXT NOT NULL,
	exit_time   TEXT NOT NULL,
	pnl         TEXT NOT NULL,
	is_closed   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id            TEXT PRIMARY KEY,
	position_id   TEXT NOT NULL REFERENCES positions(id),
	transact_time TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	transaction_id TEXT PRIMARY KEY REFERENCES transactions(id),
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	type           TEXT NOT NULL,
	quantity       TEXT NOT NULL,
	price          TEXT,
	time_in_force  TEXT NOT NULL,
	side_effect    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	transaction_id   TEXT NOT NULL REFERENCES transactions(id),
	price            TEXT NOT NULL,
	quantity         TEXT NOT NULL,
	commission       TEXT NOT NULL,
	commission_asset TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_session ON positions(session_id);
CREATE INDEX IF NOT EXISTS idx_transactions_position ON transactions(position_id);
CREATE INDEX IF NOT EXISTS idx_fills_transaction ON fills(transaction_id);
`

// Store persists sessions, positions and their transaction chains to a
// SQLite database. Positions are upserted on every snapshot; transactions
// arrive incrementally and are inserted exactly once.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// sessionID is set by the session event and stamps every position.
	sessionID string
}

// Open opens or creates the database and applies the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "storage")),
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnSession records session metadata at session start.
func (s *Store) OnSession(ctx context.Context, ev bus.Event) error {
	se, ok := ev.(bus.SessionEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T on session handler", ev)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, type, start_time, end_time, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		se.SessionID, string(se.SessionType),
		se.Start.UTC().Format(time.RFC3339),
		se.End.UTC().Format(time.RFC3339),
		se.Stamp.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save session %s: %w", se.SessionID, err)
	}

	s.sessionID = se.SessionID
	s.logger.Info("session saved", zap.String("session_id", se.SessionID))
	return nil
}

// OnPosition upserts a position snapshot and appends its new transactions.
func (s *Store) OnPosition(ctx context.Context, ev bus.Event) error {
	pe, ok := ev.(bus.PositionEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T on position handler", ev)
	}
	if s.sessionID == "" {
		return fmt.Errorf("no session recorded before position %s", pe.Position.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	snapshot := pe.Position
	closed := 0
	if snapshot.IsClosed {
		closed = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO positions
		   (id, session_id, symbol, size, entry_price, entry_time,
		    exit_price, exit_time, pnl, is_closed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   size = excluded.size,
		   entry_price = excluded.entry_price,
		   exit_price = excluded.exit_price,
		   exit_time = excluded.exit_time,
		   pnl = excluded.pnl,
		   is_closed = excluded.is_closed`,
		snapshot.ID, s.sessionID, snapshot.Symbol.Name,
		snapshot.Size.String(), snapshot.EntryPrice.String(),
		snapshot.EntryTime.UTC().Format(time.RFC3339),
		snapshot.ExitPrice.String(),
		snapshot.ExitTime.UTC().Format(time.RFC3339),
		snapshot.PnL.String(), closed)
	if err != nil {
		return fmt.Errorf("save position %s: %w", snapshot.ID, err)
	}

	for _, transaction := range snapshot.NewTransactions {
		if err := saveTransaction(ctx, tx, snapshot.ID, transaction); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit position %s: %w", snapshot.ID, err)
	}
	return nil
}

func saveTransaction(ctx context.Context, tx *sql.Tx, positionID string, transaction domain.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (id, position_id, transact_time) VALUES (?, ?, ?)`,
		transaction.ID, positionID,
		transaction.TransactTime.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", transaction.ID, err)
	}

	order := transaction.Order
	var price any
	if order.Price != nil {
		price = order.Price.String()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders
		   (transaction_id, symbol, side, type, quantity, price, time_in_force, side_effect)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		transaction.ID, order.Symbol.Name, string(order.Side), string(order.Type),
		order.Quantity.String(), price, string(order.TimeInForce), string(order.SideEffect))
	if err != nil {
		return fmt.Errorf("save order for transaction %s: %w", transaction.ID, err)
	}

	for _, fill := range transaction.Fills {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO fills (transaction_id, price, quantity, commission, commission_asset)
			 VALUES (?, ?, ?, ?, ?)`,
			transaction.ID, fill.Price.String(), fill.Quantity.String(),
			fill.Commission.String(), fill.CommissionAsset)
		if err != nil {
			return fmt.Errorf("save fill for transaction %s: %w", transaction.ID, err)
		}
	}
	return nil
}

// SessionRow is one persisted session for reporting.
type SessionRow struct {
	ID        string
	Type      string
	StartTime time.Time
	EndTime   time.Time
	CreatedAt time.Time
}

// PositionRow is one persisted position for reporting.
type PositionRow struct {
	ID         string
	Symbol     string
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	PnL        decimal.Decimal
	IsClosed   bool
}

// Sessions lists all persisted sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]SessionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, start_time, end_time, created_at
		 FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var row SessionRow
		var start, end, created string
		if err := rows.Scan(&row.ID, &row.Type, &start, &end, &created); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if row.StartTime, err = time.Parse(time.RFC3339, start); err != nil {
			return nil, fmt.Errorf("parse session start: %w", err)
		}
		if row.EndTime, err = time.Parse(time.RFC3339, end); err != nil {
			return nil, fmt.Errorf("parse session end: %w", err)
		}
		if row.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
			return nil, fmt.Errorf("parse session created: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Positions lists a session's persisted positions in entry order.
func (s *Store) Positions(ctx context.Context, sessionID string) ([]PositionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, size, entry_price, exit_price, pnl, is_closed
		 FROM positions WHERE session_id = ? ORDER BY entry_time`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list positions for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		var row PositionRow
		var size, entry, exit, pnl string
		var closed int
		if err := rows.Scan(&row.ID, &row.Symbol, &size, &entry, &exit, &pnl, &closed); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if row.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("parse position size: %w", err)
		}
		if row.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("parse entry price: %w", err)
		}
		if row.ExitPrice, err = decimal.NewFromString(exit); err != nil {
			return nil, fmt.Errorf("parse exit price: %w", err)
		}
		if row.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("parse pnl: %w", err)
		}
		row.IsClosed = closed != 0
		out = append(out, row)
	}
	return out, rows.Err()
}
