package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/staarb/staarb/internal/config"
	"github.com/staarb/staarb/internal/domain"
)

func testClient(server *httptest.Server) *BinanceClient {
	return NewBinanceClient(&config.Config{
		BinanceAPIKey:    "test-key",
		BinanceAPISecret: "test-secret",
		BinanceBaseURL:   server.URL,
		HTTPTimeout:      time.Second,
	})
}

func TestExchangeInfoParsesFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "test-key" {
			t.Error("missing API key header")
		}
		fmt.Fprint(w, `{"symbols":[{
			"symbol":"BTCUSDC","baseAsset":"BTC","quoteAsset":"USDC",
			"baseAssetPrecision":8,"quoteAssetPrecision":8,
			"filters":[
				{"filterType":"LOT_SIZE","minQty":"0.00001","maxQty":"9000","stepSize":"0.00001"},
				{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000","tickSize":"0.01"},
				{"filterType":"NOTIONAL","minNotional":"5","maxNotional":"9000000"}
			]}]}`)
	}))
	defer server.Close()

	symbols, err := testClient(server).ExchangeInfo(context.Background(), []string{"BTCUSDC"})
	if err != nil {
		t.Fatalf("exchange info: %v", err)
	}
	if len(symbols) != 1 {
		t.Fatalf("expected one symbol, got %d", len(symbols))
	}

	s := symbols[0]
	if s.Name != "BTCUSDC" || s.BaseAsset != "BTC" || s.QuoteAsset != "USDC" {
		t.Fatalf("unexpected symbol %+v", s)
	}
	if !s.Filters.LotSize.StepSize.Equal(decimal.RequireFromString("0.00001")) {
		t.Errorf("step size = %s", s.Filters.LotSize.StepSize)
	}
	if !s.Filters.Price.TickSize.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("tick size = %s", s.Filters.Price.TickSize)
	}
	if !s.Filters.Notional.MinNotional.Equal(decimal.NewFromInt(5)) {
		t.Errorf("min notional = %s", s.Filters.Notional.MinNotional)
	}
}

func TestKlinesParsesRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDC" {
			t.Errorf("symbol = %s", got)
		}
		if got := r.URL.Query().Get("interval"); got != "1d" {
			t.Errorf("interval = %s", got)
		}
		fmt.Fprint(w, `[
			[1700000000000,"50000","50100","49900","50050","12.3",1700086399999,"0",1,"0","0","0"],
			[1700086400000,"50050","50500","50000","50400","10.1",1700172799999,"0",1,"0","0","0"]
		]`)
	}))
	defer server.Close()

	series, err := testClient(server).Klines(context.Background(), "BTCUSDC",
		domain.KlineRequest{Interval: "1d", Limit: 2})
	if err != nil {
		t.Fatalf("klines: %v", err)
	}

	if series.Len() != 2 {
		t.Fatalf("expected 2 bars, got %d", series.Len())
	}
	if series.Close[0] != 50050 || series.Close[1] != 50400 {
		t.Fatalf("closes = %v", series.Close)
	}
	if !series.Times[0].Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Fatalf("open time = %v", series.Times[0])
	}
}

func TestKlinesPaginatesTimeRanges(t *testing.T) {
	const dayMs = int64(24 * time.Hour / time.Millisecond)
	const startMs = int64(1700000000000)

	var starts []int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		from, err := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		if err != nil {
			t.Errorf("parse startTime: %v", err)
		}
		starts = append(starts, from)

		// The first page fills the endpoint's row cap, the second ends
		// the range.
		count := 1000
		if from != startMs {
			count = 2
		}
		var b strings.Builder
		b.WriteString("[")
		for i := 0; i < count; i++ {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, `[%d,"0","0","0","%d","0"]`, from+int64(i)*dayMs, i+1)
		}
		b.WriteString("]")
		fmt.Fprint(w, b.String())
	}))
	defer server.Close()

	series, err := testClient(server).Klines(context.Background(), "BTCUSDC", domain.KlineRequest{
		Interval: "1d",
		Start:    time.UnixMilli(startMs),
		End:      time.UnixMilli(startMs + 1500*dayMs),
	})
	if err != nil {
		t.Fatalf("klines: %v", err)
	}

	if series.Len() != 1002 {
		t.Fatalf("expected 1002 bars across two pages, got %d", series.Len())
	}
	if len(starts) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(starts))
	}
	if want := startMs + 999*dayMs + 1; starts[1] != want {
		t.Fatalf("second page startTime = %d, want %d", starts[1], want)
	}
	if !series.Times[1000].Equal(time.UnixMilli(startMs + 999*dayMs + 1).UTC()) {
		t.Fatalf("second page first open time = %v", series.Times[1000])
	}
}

func TestCreateMarginOrderSignsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sapi/v1/margin/order" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("signature") == "" || r.PostForm.Get("timestamp") == "" {
			t.Error("signed parameters missing")
		}
		if r.PostForm.Get("side") != "BUY" || r.PostForm.Get("type") != "MARKET" {
			t.Errorf("order params side=%s type=%s", r.PostForm.Get("side"), r.PostForm.Get("type"))
		}
		if r.PostForm.Get("timeInForce") != "" {
			t.Error("market order must not carry timeInForce")
		}
		fmt.Fprint(w, `{"symbol":"BTCUSDC","orderId":42,"transactTime":1700000000000,
			"status":"FILLED","fills":[
				{"price":"50000","qty":"0.1","commission":"0.0001","commissionAsset":"BTC"}
			]}`)
	}))
	defer server.Close()

	order := domain.NewMarketOrder(
		domain.Symbol{Name: "BTCUSDC", BaseAsset: "BTC", QuoteAsset: "USDC"},
		decimal.RequireFromString("0.1"), domain.Buy)
	resp, err := testClient(server).CreateMarginOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if resp.OrderID != 42 || resp.Status != "FILLED" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.Fills) != 1 || !resp.Fills[0].Price.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("unexpected fills %+v", resp.Fills)
	}
}

func TestMarginBalancesParsesAssets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"userAssets":[
			{"asset":"USDC","free":"1234.5","locked":"0","borrowed":"100","interest":"0"},
			{"asset":"BTC","free":"0.5","locked":"0","borrowed":"0","interest":"0"}
		]}`)
	}))
	defer server.Close()

	balances, err := testClient(server).MarginBalances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}
	if balances[0].Asset != "USDC" || !balances[0].Free.Equal(decimal.RequireFromString("1234.5")) {
		t.Fatalf("unexpected balance %+v", balances[0])
	}
	if !balances[0].Borrowed.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("borrowed = %s, want 100", balances[0].Borrowed)
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer server.Close()

	_, err := testClient(server).AvgPrice(context.Background(), "NOPEUSDC")
	if err == nil {
		t.Fatal("expected API error to surface")
	}
}
