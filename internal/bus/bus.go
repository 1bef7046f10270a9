package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler consumes one event. Handlers for the same kind run concurrently;
// a handler must not assume any ordering relative to its siblings.
type Handler func(ctx context.Context, ev Event) error

// Bus is an in-process publish/subscribe dispatcher over a closed set of
// event kinds. It is owned by the application root and injected into every
// component that publishes or subscribes; there is no global registry.
//
// Subscribe is meant for wiring at startup. Publish only reads the handler
// table, so steady-state dispatch takes no lock contention beyond the
// read lock.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	logger   *zap.Logger
}

// New creates an empty bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[Kind][]Handler),
		logger:   logger.With(zap.String("component", "bus")),
	}
}

// Subscribe registers a handler for an event kind. Multiple handlers per
// kind are allowed; invocation order is not guaranteed.
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Publish dispatches ev to every handler registered for its kind, runs
// them concurrently, and waits for all of them to settle. Publishing with
// zero subscribers is a silent no-op.
//
// A failing handler does not cancel its siblings; the first failure
// observed is returned once every handler has finished.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := b.handlers[ev.Kind()]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	b.logger.Debug("publishing event",
		zap.String("kind", ev.Kind().String()),
		zap.Int("handlers", len(handlers)))

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error

	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h(ctx, ev); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(handler)
	}
	wg.Wait()

	return firstErr
}
