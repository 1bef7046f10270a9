package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Bar is one closed kline delivered by the exchange stream.
type Bar struct {
	Symbol   string
	OpenTime time.Time
	Close    float64
}

// Handler receives closed bars in arrival order.
type Handler func(ctx context.Context, bar Bar) error

// Stream consumes the exchange's combined kline websocket feed and invokes
// the handler once per closed bar. In-progress bar updates are ignored.
type Stream struct {
	baseURL       string
	symbols       []string
	interval      string
	reconnectWait time.Duration
	logger        *zap.Logger
}

// New creates a kline stream for the given basket and interval.
func New(baseURL string, symbols []string, interval string, reconnectWait time.Duration, logger *zap.Logger) *Stream {
	return &Stream{
		baseURL:       baseURL,
		symbols:       symbols,
		interval:      interval,
		reconnectWait: reconnectWait,
		logger:        logger.With(zap.String("component", "stream")),
	}
}

func (s *Stream) endpoint() string {
	streams := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		streams = append(streams, strings.ToLower(symbol)+"@kline_"+s.interval)
	}
	return s.baseURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and dispatches bars until the context is cancelled. Lost
// connections are reestablished after the reconnect wait.
func (s *Stream) Run(ctx context.Context, handler Handler) error {
	for {
		if err := s.runOnce(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("stream disconnected", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectWait):
		}
	}
}

type klinePayload struct {
	Data struct {
		Symbol string `json:"s"`
		Kline  struct {
			OpenTime int64  `json:"t"`
			Close    string `json:"c"`
			Final    bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func (s *Stream) runOnce(ctx context.Context, handler Handler) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.endpoint(), nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	// Close the socket on cancellation so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.logger.Info("stream connected",
		zap.Strings("symbols", s.symbols),
		zap.String("interval", s.interval))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}

		var payload klinePayload
		if err := json.Unmarshal(message, &payload); err != nil {
			s.logger.Warn("malformed stream message", zap.Error(err))
			continue
		}
		if !payload.Data.Kline.Final {
			continue
		}

		closePrice, err := strconv.ParseFloat(payload.Data.Kline.Close, 64)
		if err != nil {
			s.logger.Warn("malformed close price",
				zap.String("symbol", payload.Data.Symbol), zap.Error(err))
			continue
		}

		bar := Bar{
			Symbol:   payload.Data.Symbol,
			OpenTime: time.UnixMilli(payload.Data.Kline.OpenTime).UTC(),
			Close:    closePrice,
		}
		if err := handler(ctx, bar); err != nil {
			return fmt.Errorf("handle bar for %s: %w", bar.Symbol, err)
		}
	}
}
