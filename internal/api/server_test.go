package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"marketsim/internal/config"
	"marketsim/internal/market"
	"marketsim/internal/market/memstore"
)

func newTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *market.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := market.NewEngine(memstore.New(), logger, market.WithRand(rand.New(rand.NewSource(1))))
	if _, err := engine.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	srv := httptest.NewServer(New(cfg, logger, engine).Handler())
	t.Cleanup(srv.Close)
	return srv, engine
}

func doJSON(t *testing.T, method, url, token string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestStocksAndDetail(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	var list struct {
		Stocks []market.Stock `json:"stocks"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/stocks", "", nil, &list); code != http.StatusOK {
		t.Fatalf("list status %d", code)
	}
	if len(list.Stocks) == 0 {
		t.Fatalf("expected seeded stocks")
	}

	var energy struct {
		Stocks []market.Stock `json:"stocks"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/v1/stocks?sector=Energy", "", nil, &energy)
	for _, st := range energy.Stocks {
		if st.Sector != "energy" {
			t.Fatalf("sector filter leaked %s", st.Symbol)
		}
	}

	var detail market.Stock
	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/stocks/nimbus", "", nil, &detail); code != http.StatusOK {
		t.Fatalf("detail status %d", code)
	}
	if detail.Symbol != "NIMBUS" {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/stocks/NOPE", "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing stock status %d", code)
	}
}

func TestTradeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	var result market.TradeResult
	code := doJSON(t, http.MethodPost, srv.URL+"/v1/trades", "", map[string]any{"stock": "COBOLT", "side": "buy", "quantity": 100}, &result)
	if code != http.StatusOK {
		t.Fatalf("trade status %d", code)
	}
	if result.Stock.CurrentPrice <= result.PreviousPrice {
		t.Fatalf("buy should raise price: %+v", result)
	}

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{name: "bad side", body: map[string]any{"stock": "COBOLT", "side": "hold", "quantity": 1}, want: http.StatusBadRequest},
		{name: "zero quantity", body: map[string]any{"stock": "COBOLT", "side": "sell", "quantity": 0}, want: http.StatusBadRequest},
		{name: "unknown stock", body: map[string]any{"stock": "NOPE", "side": "buy", "quantity": 1}, want: http.StatusNotFound},
		{name: "over float", body: map[string]any{"stock": "COBOLT", "side": "buy", "quantity": 1_000_000_000}, want: http.StatusConflict},
		{name: "sell above total", body: map[string]any{"stock": "COBOLT", "side": "sell", "quantity": 101}, want: http.StatusConflict},
		{name: "unknown field", body: map[string]any{"stock": "COBOLT", "side": "buy", "quantity": 1, "price": 3}, want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		if code := doJSON(t, http.MethodPost, srv.URL+"/v1/trades", "", tc.body, nil); code != tc.want {
			t.Fatalf("%s: status got=%d want=%d", tc.name, code, tc.want)
		}
	}
}

func TestHistoryAndCompare(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	var series market.HistorySeries
	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/stocks/NIMBUS/history?timeframe=1D", "", nil, &series); code != http.StatusOK {
		t.Fatalf("history status %d", code)
	}
	if len(series.Points) != 24 || !series.Synthetic {
		t.Fatalf("unexpected series: %d points synthetic=%v", len(series.Points), series.Synthetic)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/stocks/NIMBUS/history?timeframe=2D", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad timeframe status %d", code)
	}

	var cmp market.Comparison
	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/compare?stocks=NIMBUS,COBOLT&timeframe=1W", "", nil, &cmp); code != http.StatusOK {
		t.Fatalf("compare status %d", code)
	}
	if len(cmp.Stocks) != 2 || len(cmp.Rows) != 7 {
		t.Fatalf("unexpected comparison: %d stocks %d rows", len(cmp.Stocks), len(cmp.Rows))
	}
	code := doJSON(t, http.MethodGet, srv.URL+"/v1/compare?stocks=NIMBUS,COBOLT,VECTRA,ZENITH", "", nil, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("too many series status %d", code)
	}
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{OperatorToken: "s3cret"})

	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/market/tick", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("missing token status %d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/market/tick", "wrong", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong token status %d", code)
	}
	var report market.TickReport
	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/market/tick", "s3cret", nil, &report); code != http.StatusOK {
		t.Fatalf("tick status %d", code)
	}
	if report.Updated == 0 {
		t.Fatalf("tick updated nothing: %+v", report)
	}
	var reset market.ResetReport
	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/market/reset", "s3cret", nil, &reset); code != http.StatusOK {
		t.Fatalf("reset status %d", code)
	}
	if reset.Reset != reset.Stocks {
		t.Fatalf("unexpected reset report %+v", reset)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/stocks", "", nil, nil); code != http.StatusOK {
		t.Fatalf("reads must stay open, status %d", code)
	}
}

func TestListStockEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})

	shares := int64(1000)
	in := market.NewStock{Symbol: "newco", CompanyName: "NewCo", Sector: "Technology", Price: 12.5, AvailableShares: &shares, TotalShares: shares}
	var out market.Stock
	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/stocks", "", in, &out); code != http.StatusCreated {
		t.Fatalf("list status %d", code)
	}
	if out.Symbol != "NEWCO" || out.DailyOpen != 12.5 || out.Sector != "technology" {
		t.Fatalf("unexpected listing %+v", out)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/stocks", "", in, nil); code != http.StatusConflict {
		t.Fatalf("duplicate status %d", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, config.Config{})
	if code := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz status %d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/market/tick", "", nil, nil); code != http.StatusOK {
		t.Fatalf("tick status %d", code)
	}
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"marketsim_history_entries_total", "marketsim_drift_tick_duration_seconds_count"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearerabc":    "",
	}
	for header, want := range tests {
		if got := bearerToken(header); got != want {
			t.Fatalf("header %q: got=%q want=%q", header, got, want)
		}
	}
}
