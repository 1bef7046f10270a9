package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/staarb/staarb/internal/config"
	"github.com/staarb/staarb/internal/domain"
)

// BinanceClient is a thin wrapper around the Binance spot/margin REST API.
type BinanceClient struct {
	cfg        *config.Config
	httpClient *http.Client
	baseURL    string
}

// NewBinanceClient creates a new Binance client
func NewBinanceClient(cfg *config.Config) *BinanceClient {
	return &BinanceClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		baseURL: cfg.BinanceBaseURL,
	}
}

// doRequest performs an HTTP request with the API key header. Signed
// requests get a timestamp and an HMAC-SHA256 signature over the query.
func (c *BinanceClient) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) (*http.Response, error) {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		mac := hmac.New(sha256.New, []byte(c.cfg.BinanceAPISecret))
		mac.Write([]byte(params.Encode()))
		params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	}

	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(params.Encode())
	} else if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.BinanceAPIKey)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	return c.httpClient.Do(req)
}

// parseResponse reads and unmarshals the response
func parseResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}

type rawFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	StepSize    string `json:"stepSize"`
	MinPrice    string `json:"minPrice"`
	MaxPrice    string `json:"maxPrice"`
	TickSize    string `json:"tickSize"`
	MinNotional string `json:"minNotional"`
	MaxNotional string `json:"maxNotional"`
}

type rawSymbol struct {
	Symbol             string      `json:"symbol"`
	BaseAsset          string      `json:"baseAsset"`
	QuoteAsset         string      `json:"quoteAsset"`
	BaseAssetPrecision int         `json:"baseAssetPrecision"`
	QuotePrecision     int         `json:"quoteAssetPrecision"`
	Filters            []rawFilter `json:"filters"`
}

// ExchangeInfo retrieves symbol metadata and trading filters.
func (c *BinanceClient) ExchangeInfo(ctx context.Context, symbols []string) ([]domain.Symbol, error) {
	params := url.Values{}
	if len(symbols) > 0 {
		encoded, err := json.Marshal(symbols)
		if err != nil {
			return nil, fmt.Errorf("encode symbols: %w", err)
		}
		params.Set("symbols", string(encoded))
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		Symbols []rawSymbol `json:"symbols"`
	}
	if err := parseResponse(resp, &result); err != nil {
		return nil, err
	}

	out := make([]domain.Symbol, 0, len(result.Symbols))
	for _, rs := range result.Symbols {
		symbol, err := convertSymbol(rs)
		if err != nil {
			return nil, err
		}
		out = append(out, symbol)
	}
	return out, nil
}

func convertSymbol(rs rawSymbol) (domain.Symbol, error) {
	symbol := domain.Symbol{
		Name:           rs.Symbol,
		BaseAsset:      rs.BaseAsset,
		QuoteAsset:     rs.QuoteAsset,
		BasePrecision:  rs.BaseAssetPrecision,
		QuotePrecision: rs.QuotePrecision,
	}
	for _, f := range rs.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			minQty, err := decimal.NewFromString(f.MinQty)
			if err != nil {
				return domain.Symbol{}, fmt.Errorf("parse lot filter for %s: %w", rs.Symbol, err)
			}
			maxQty, _ := decimal.NewFromString(f.MaxQty)
			step, err := decimal.NewFromString(f.StepSize)
			if err != nil {
				return domain.Symbol{}, fmt.Errorf("parse lot filter for %s: %w", rs.Symbol, err)
			}
			symbol.Filters.LotSize = domain.LotSizeFilter{MinQty: minQty, MaxQty: maxQty, StepSize: step}
		case "PRICE_FILTER":
			minPrice, _ := decimal.NewFromString(f.MinPrice)
			maxPrice, _ := decimal.NewFromString(f.MaxPrice)
			tick, err := decimal.NewFromString(f.TickSize)
			if err != nil {
				return domain.Symbol{}, fmt.Errorf("parse price filter for %s: %w", rs.Symbol, err)
			}
			symbol.Filters.Price = domain.PriceFilter{MinPrice: minPrice, MaxPrice: maxPrice, TickSize: tick}
		case "NOTIONAL", "MIN_NOTIONAL":
			minNotional, err := decimal.NewFromString(f.MinNotional)
			if err != nil {
				return domain.Symbol{}, fmt.Errorf("parse notional filter for %s: %w", rs.Symbol, err)
			}
			maxNotional, _ := decimal.NewFromString(f.MaxNotional)
			symbol.Filters.Notional = domain.NotionalFilter{MinNotional: minNotional, MaxNotional: maxNotional}
		}
	}
	return symbol, nil
}

// klinesPageLimit is the most rows /api/v3/klines returns per call.
const klinesPageLimit = 1000

// Klines retrieves historical close prices for one symbol. A time-range
// request pages through the endpoint, advancing past the last returned
// open time, until the range is exhausted.
func (c *BinanceClient) Klines(ctx context.Context, symbol string, req domain.KlineRequest) (domain.PriceSeries, error) {
	if req.Start.IsZero() {
		return c.klinesPage(ctx, symbol, req)
	}

	var series domain.PriceSeries
	cursor := req.Start
	for {
		page, err := c.klinesPage(ctx, symbol, domain.KlineRequest{
			Interval: req.Interval,
			Start:    cursor,
			End:      req.End,
			Limit:    klinesPageLimit,
		})
		if err != nil {
			return domain.PriceSeries{}, err
		}
		if page.Len() == 0 {
			break
		}
		series.Times = append(series.Times, page.Times...)
		series.Close = append(series.Close, page.Close...)
		if page.Len() < klinesPageLimit {
			break
		}
		cursor = page.Times[page.Len()-1].Add(time.Millisecond)
		if !req.End.IsZero() && !cursor.Before(req.End) {
			break
		}
	}
	return series, nil
}

// klinesPage issues one kline request.
func (c *BinanceClient) klinesPage(ctx context.Context, symbol string, req domain.KlineRequest) (domain.PriceSeries, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", req.Interval)
	if !req.Start.IsZero() {
		params.Set("startTime", strconv.FormatInt(req.Start.UnixMilli(), 10))
	}
	if !req.End.IsZero() {
		params.Set("endTime", strconv.FormatInt(req.End.UnixMilli(), 10))
	}
	if req.Limit > 0 {
		params.Set("limit", strconv.Itoa(req.Limit))
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return domain.PriceSeries{}, err
	}

	// Each kline row is a heterogeneous array: open time (ms) at index 0,
	// close price (string) at index 4.
	var rows [][]interface{}
	if err := parseResponse(resp, &rows); err != nil {
		return domain.PriceSeries{}, err
	}

	series := domain.PriceSeries{
		Times: make([]time.Time, 0, len(rows)),
		Close: make([]float64, 0, len(rows)),
	}
	for _, row := range rows {
		if len(row) < 5 {
			return domain.PriceSeries{}, fmt.Errorf("malformed kline row for %s", symbol)
		}
		openMs, ok := row[0].(float64)
		if !ok {
			return domain.PriceSeries{}, fmt.Errorf("malformed kline open time for %s", symbol)
		}
		closeStr, ok := row[4].(string)
		if !ok {
			return domain.PriceSeries{}, fmt.Errorf("malformed kline close for %s", symbol)
		}
		closePrice, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			return domain.PriceSeries{}, fmt.Errorf("parse kline close for %s: %w", symbol, err)
		}
		series.Times = append(series.Times, time.UnixMilli(int64(openMs)).UTC())
		series.Close = append(series.Close, closePrice)
	}
	return series, nil
}

// CreateMarginOrder submits a margin order and returns the raw response.
func (c *BinanceClient) CreateMarginOrder(ctx context.Context, order domain.Order) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol.Name)
	params.Set("side", string(order.Side))
	params.Set("type", string(order.Type))
	params.Set("quantity", order.Quantity.String())
	params.Set("sideEffectType", string(order.SideEffect))
	if order.Price != nil {
		params.Set("price", order.Price.String())
		params.Set("timeInForce", string(order.TimeInForce))
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/sapi/v1/margin/order", params, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		Symbol       string `json:"symbol"`
		OrderID      int64  `json:"orderId"`
		TransactTime int64  `json:"transactTime"`
		Status       string `json:"status"`
		Fills        []struct {
			Price           string `json:"price"`
			Qty             string `json:"qty"`
			Commission      string `json:"commission"`
			CommissionAsset string `json:"commissionAsset"`
		} `json:"fills"`
	}
	if err := parseResponse(resp, &result); err != nil {
		return nil, err
	}

	out := &OrderResponse{
		Symbol:       result.Symbol,
		OrderID:      result.OrderID,
		TransactTime: time.UnixMilli(result.TransactTime).UTC(),
		Status:       result.Status,
		Fills:        make([]FillData, 0, len(result.Fills)),
	}
	for _, f := range result.Fills {
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			return nil, fmt.Errorf("parse fill price for %s: %w", result.Symbol, err)
		}
		qty, err := decimal.NewFromString(f.Qty)
		if err != nil {
			return nil, fmt.Errorf("parse fill quantity for %s: %w", result.Symbol, err)
		}
		commission, err := decimal.NewFromString(f.Commission)
		if err != nil {
			return nil, fmt.Errorf("parse fill commission for %s: %w", result.Symbol, err)
		}
		out.Fills = append(out.Fills, FillData{
			Price:           price,
			Quantity:        qty,
			Commission:      commission,
			CommissionAsset: f.CommissionAsset,
		})
	}
	return out, nil
}

// MarginBalances retrieves the margin account's per-asset balances.
func (c *BinanceClient) MarginBalances(ctx context.Context) ([]AssetBalance, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/sapi/v1/margin/account", nil, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		UserAssets []struct {
			Asset    string `json:"asset"`
			Free     string `json:"free"`
			Locked   string `json:"locked"`
			Borrowed string `json:"borrowed"`
			Interest string `json:"interest"`
		} `json:"userAssets"`
	}
	if err := parseResponse(resp, &result); err != nil {
		return nil, err
	}

	out := make([]AssetBalance, 0, len(result.UserAssets))
	for _, ua := range result.UserAssets {
		free, err := decimal.NewFromString(ua.Free)
		if err != nil {
			return nil, fmt.Errorf("parse balance for %s: %w", ua.Asset, err)
		}
		locked, _ := decimal.NewFromString(ua.Locked)
		borrowed, _ := decimal.NewFromString(ua.Borrowed)
		interest, _ := decimal.NewFromString(ua.Interest)
		out = append(out, AssetBalance{
			Asset:    ua.Asset,
			Free:     free,
			Locked:   locked,
			Borrowed: borrowed,
			Interest: interest,
		})
	}
	return out, nil
}

// AvgPrice retrieves the current average price for a symbol.
func (c *BinanceClient) AvgPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v3/avgPrice", params, false)
	if err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Price string `json:"price"`
	}
	if err := parseResponse(resp, &result); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse avg price for %s: %w", symbol, err)
	}
	return price, nil
}

// Close releases the underlying HTTP connections.
func (c *BinanceClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
