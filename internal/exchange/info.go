package exchange

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/staarb/staarb/internal/domain"
)

// InfoProvider caches exchange metadata and average prices in front of a
// Client. Symbol metadata never expires within a session; average prices
// expire quickly so sizing stays close to the market.
type InfoProvider struct {
	client   Client
	symbols  *gocache.Cache
	prices   *gocache.Cache
	logger   *zap.Logger
	priceTTL time.Duration
}

// NewInfoProvider creates a provider with the given average-price TTL.
func NewInfoProvider(client Client, priceTTL time.Duration, logger *zap.Logger) *InfoProvider {
	return &InfoProvider{
		client:   client,
		symbols:  gocache.New(gocache.NoExpiration, 0),
		prices:   gocache.New(priceTTL, 2*priceTTL),
		logger:   logger.With(zap.String("component", "exchange_info")),
		priceTTL: priceTTL,
	}
}

// Warm fetches and caches metadata for all given symbols in one request.
func (p *InfoProvider) Warm(ctx context.Context, symbols []string) error {
	infos, err := p.client.ExchangeInfo(ctx, symbols)
	if err != nil {
		return fmt.Errorf("fetch exchange info: %w", err)
	}
	for _, info := range infos {
		p.symbols.Set(info.Name, info, gocache.NoExpiration)
	}
	p.logger.Debug("exchange info cached", zap.Int("symbols", len(infos)))
	return nil
}

// Symbol returns cached metadata for one symbol, fetching it on a miss.
func (p *InfoProvider) Symbol(ctx context.Context, name string) (domain.Symbol, error) {
	if cached, found := p.symbols.Get(name); found {
		return cached.(domain.Symbol), nil
	}

	infos, err := p.client.ExchangeInfo(ctx, []string{name})
	if err != nil {
		return domain.Symbol{}, fmt.Errorf("fetch exchange info for %s: %w", name, err)
	}
	if len(infos) == 0 {
		return domain.Symbol{}, fmt.Errorf("unknown symbol %s", name)
	}
	p.symbols.Set(infos[0].Name, infos[0], gocache.NoExpiration)
	return infos[0], nil
}

// AvgPrice returns the average price for a symbol, cached for the TTL.
func (p *InfoProvider) AvgPrice(ctx context.Context, name string) (decimal.Decimal, error) {
	if cached, found := p.prices.Get(name); found {
		return cached.(decimal.Decimal), nil
	}

	price, err := p.client.AvgPrice(ctx, name)
	if err != nil {
		return decimal.Zero, err
	}
	p.prices.Set(name, price, p.priceTTL)
	return price, nil
}
