package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/aggregator"
	"price-feed-oracle/internal/alerts"
	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/ledger"
	"price-feed-oracle/internal/provider"
	"price-feed-oracle/internal/publisher"
	"price-feed-oracle/internal/scheduler"
	"price-feed-oracle/internal/sourceclient"
)

type fixedSource struct {
	prices map[string]*big.Int
}

func (s *fixedSource) Name() feed.Source { return feed.SourceCoinGecko }

func (s *fixedSource) FetchPrice(_ context.Context, symbol string) (feed.PriceReading, error) {
	price, ok := s.prices[symbol]
	if !ok {
		return feed.PriceReading{}, fmt.Errorf("no price for %s", symbol)
	}
	return feed.PriceReading{
		Symbol:    symbol,
		Price:     price,
		Decimals:  8,
		Source:    feed.SourceCoinGecko,
		Timestamp: time.Now().Unix(),
	}, nil
}

type fixedSentiment struct{}

func (s *fixedSentiment) FetchSentiment(_ context.Context, symbol string) (feed.SentimentReading, error) {
	if strings.ToUpper(symbol) != "BTC" {
		return feed.SentimentReading{}, fmt.Errorf("%w: no sentiment for %s", sourceclient.ErrNotFound, symbol)
	}
	return feed.SentimentReading{
		Symbol:      "BTC",
		UpPercent:   7400,
		DownPercent: 2600,
		NetScore:    4800,
		SampleSize:  1234,
		Source:      feed.SourceCoinGecko,
	}, nil
}

type fixedFearGreed struct{}

func (s *fixedFearGreed) FetchIndex(context.Context) (feed.FearGreedReading, error) {
	return feed.FearGreedReading{Score: 22, Zone: feed.ZoneExtremeFear, Source: feed.SourceAlternativeMe}, nil
}

func newTestServer(t *testing.T, led ledger.Ledger) *Server {
	t.Helper()
	logger := zerolog.Nop()

	src := &fixedSource{prices: map[string]*big.Int{
		"BTC": big.NewInt(5_000_000_000_000),
		"ETH": big.NewInt(300_000_000_000),
	}}
	agg := aggregator.New(aggregator.Options{
		Priority: aggregator.PriorityOffchainFirst,
		Enabled:  []feed.Source{feed.SourceCoinGecko},
	}, []provider.PriceSource{src}, nil, logger)

	alertStore := alerts.NewStore(led, nil, logger)
	pub := publisher.New(agg, led, nil, nil, publisher.Options{}, logger)
	sched := scheduler.New(func(context.Context, []string) {}, logger)

	return New(Options{
		Addr:            ":0",
		DefaultSymbols:  []string{"BTC", "ETH"},
		DefaultInterval: time.Minute,
		Decimals:        8,
	}, pub, sched, alertStore, led, Deps{
		Sentiment: &fixedSentiment{},
		FearGreed: &fixedFearGreed{},
	}, logger)
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealthzReportsLedgerReachability(t *testing.T) {
	led := ledger.NewMemory()
	srv := newTestServer(t, led)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy ledger should yield 200, got %d", rec.Code)
	}

	led.QueryErr = fmt.Errorf("rpc down")
	rec = doJSON(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unreachable ledger should yield 503, got %d", rec.Code)
	}
}

func TestPublishEndpointPartialFailure(t *testing.T) {
	srv := newTestServer(t, ledger.NewMemory())

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/publish", `{"symbols":["BTC","XYZ"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish returned %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Succeeded []map[string]string `json:"succeeded"`
		Failed    []map[string]string `json:"failed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Succeeded) != 1 || resp.Succeeded[0]["symbol"] != "BTC" {
		t.Fatalf("unexpected successes: %+v", resp.Succeeded)
	}
	if resp.Succeeded[0]["price"] != "50000" {
		t.Fatalf("price should render as exact decimal: %+v", resp.Succeeded[0])
	}
	if len(resp.Failed) != 1 || resp.Failed[0]["symbol"] != "XYZ" {
		t.Fatalf("unexpected failures: %+v", resp.Failed)
	}
}

func TestPublishEndpointDefaultsSymbols(t *testing.T) {
	srv := newTestServer(t, ledger.NewMemory())

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/publish", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("publish returned %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Succeeded []map[string]string `json:"succeeded"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Succeeded) != 2 {
		t.Fatalf("default symbols not published: %+v", resp.Succeeded)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	srv := newTestServer(t, ledger.NewMemory())

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/scheduler/start", `{"interval_ms":60000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start returned %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/scheduler/start", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("double start should yield 409, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/scheduler/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status returned %d", rec.Code)
	}
	var status struct {
		Running bool `json:"running"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if !status.Running {
		t.Fatalf("status should report running: %s", rec.Body)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/scheduler/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop returned %d", rec.Code)
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if status.Running {
		t.Fatal("status should report stopped after stop")
	}
}

func TestCreateAndListAlerts(t *testing.T) {
	srv := newTestServer(t, ledger.NewMemory())

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/alerts", `{
		"user_address": "0xabc",
		"asset": "BTC",
		"condition": "below",
		"threshold_price": "52500.00"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create alert returned %d: %s", rec.Code, rec.Body)
	}
	var created struct {
		AlertID string `json:"alert_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.AlertID == "" || created.Status != "ACTIVE" {
		t.Fatalf("unexpected create response: %s", rec.Body)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/alerts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list alerts returned %d", rec.Code)
	}
	var listed struct {
		Alerts []map[string]string `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listed.Alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(listed.Alerts))
	}
	alert := listed.Alerts[0]
	if alert["alert_id"] != created.AlertID || alert["threshold"] != "52500" || alert["condition"] != "BELOW" {
		t.Fatalf("unexpected alert row: %+v", alert)
	}
}

func TestSentimentEndpoint(t *testing.T) {
	srv := newTestServer(t, ledger.NewMemory())

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/sentiment/BTC", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sentiment returned %d: %s", rec.Code, rec.Body)
	}
	var reading feed.SentimentReading
	if err := json.Unmarshal(rec.Body.Bytes(), &reading); err != nil {
		t.Fatalf("decode sentiment: %v", err)
	}
	if reading.NetScore != 4800 {
		t.Fatalf("unexpected sentiment reading: %+v", reading)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sentiment/DOGE", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown symbol should yield 404, got %d", rec.Code)
	}
}

func TestFearGreedEndpoint(t *testing.T) {
	srv := newTestServer(t, ledger.NewMemory())

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/feargreed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("feargreed returned %d: %s", rec.Code, rec.Body)
	}
	var reading feed.FearGreedReading
	if err := json.Unmarshal(rec.Body.Bytes(), &reading); err != nil {
		t.Fatalf("decode feargreed: %v", err)
	}
	if reading.Score != 22 || reading.Zone != feed.ZoneExtremeFear {
		t.Fatalf("unexpected feargreed reading: %+v", reading)
	}
}

func TestCreateAlertRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, ledger.NewMemory())

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/alerts", `{
		"user_address": "0xabc",
		"asset": "BTC",
		"condition": "sideways",
		"threshold_price": "1"
	}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad condition should yield 400, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/alerts", `{
		"user_address": "0xabc",
		"asset": "BTC",
		"condition": "above",
		"threshold_price": "not-a-number"
	}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad threshold should yield 400, got %d", rec.Code)
	}
}
