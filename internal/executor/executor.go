package executor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/staarb/staarb/internal/bus"
	"github.com/staarb/staarb/internal/domain"
	"github.com/staarb/staarb/internal/exchange"
)

// Executor submits order batches to the exchange and turns the responses
// into confirmed transactions.
type Executor struct {
	client   exchange.Client
	eventBus *bus.Bus
	logger   *zap.Logger
}

// New creates an executor.
func New(client exchange.Client, eventBus *bus.Bus, logger *zap.Logger) *Executor {
	return &Executor{
		client:   client,
		eventBus: eventBus,
		logger:   logger.With(zap.String("component", "executor")),
	}
}

// OnOrderCreated handles an order batch event.
func (e *Executor) OnOrderCreated(ctx context.Context, ev bus.Event) error {
	oce, ok := ev.(bus.OrderCreatedEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T on order handler", ev)
	}
	return e.Execute(ctx, oce.Orders)
}

// Execute submits all orders concurrently, builds one transaction per
// response and publishes the closure events. Each event is tagged with the
// trade direction: LONG for a BUY order, SHORT for a SELL.
func (e *Executor) Execute(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return fmt.Errorf("cannot execute an empty order batch")
	}

	transactions, err := e.submitAll(ctx, orders)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, tx := range transactions {
		wg.Add(1)
		go func(tx domain.Transaction) {
			defer wg.Done()
			direction := domain.DirectionLong
			if tx.Order.Side == domain.Sell {
				direction = domain.DirectionShort
			}
			if err := e.eventBus.Publish(ctx, bus.NewTransactionClosedEvent(tx, direction)); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(tx)
	}
	wg.Wait()
	return firstErr
}

// submitAll sends every order concurrently and collects the transactions.
func (e *Executor) submitAll(ctx context.Context, orders []domain.Order) ([]domain.Transaction, error) {
	type result struct {
		tx  domain.Transaction
		err error
	}
	results := make(chan result, len(orders))
	for _, order := range orders {
		go func(o domain.Order) {
			tx, err := e.submit(ctx, o)
			results <- result{tx: tx, err: err}
		}(order)
	}

	transactions := make([]domain.Transaction, 0, len(orders))
	var firstErr error
	for range orders {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		transactions = append(transactions, r.tx)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return transactions, nil
}

func (e *Executor) submit(ctx context.Context, order domain.Order) (domain.Transaction, error) {
	resp, err := e.client.CreateMarginOrder(ctx, order)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("create order for %s: %w", order.Symbol, err)
	}

	tx, err := createTransaction(order, resp)
	if err != nil {
		return domain.Transaction{}, err
	}

	e.logger.Info("order executed",
		zap.String("symbol", order.Symbol.Name),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()),
		zap.String("avg_price", tx.AvgFillPrice().String()))
	return tx, nil
}

// createTransaction maps a raw response into a transaction. A response
// without fills is a protocol violation, not an empty trade.
func createTransaction(order domain.Order, resp *exchange.OrderResponse) (domain.Transaction, error) {
	if len(resp.Fills) == 0 {
		return domain.Transaction{}, fmt.Errorf("order response for %s has no fills", order.Symbol)
	}

	fills := make([]domain.Fill, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		fills = append(fills, domain.Fill{
			Symbol:          order.Symbol,
			Price:           f.Price,
			Quantity:        f.Quantity,
			Commission:      f.Commission,
			CommissionAsset: f.CommissionAsset,
		})
	}
	return domain.NewTransaction(order, fills, resp.TransactTime)
}
