package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dmik/perp_screener/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"

	FeedBybitStream      = "bybit-ws"
	FeedBybitTickers     = "bybit-tickers"
	FeedBybitInstruments = "bybit-instruments"
)

// BybitAdapter owns the three Bybit feeds: the public linear ticker stream,
// the bulk ticker poll, and the instruments-info poll that feeds the
// universe resolver and the funding-interval override table.
type BybitAdapter struct {
	baseURL string
	wsURL   string
	client  *http.Client

	sink     domain.TickerSink
	universe domain.UniverseSink
	feeds    domain.FeedMonitor
	logger   *zap.Logger
}

func NewBybitAdapter(baseURL, wsURL string, sink domain.TickerSink, universe domain.UniverseSink, feeds domain.FeedMonitor, logger *zap.Logger) *BybitAdapter {
	return &BybitAdapter{
		baseURL:  baseURL,
		wsURL:    wsURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		sink:     sink,
		universe: universe,
		feeds:    feeds,
		logger:   logger,
	}
}

// --- Payload shapes ---

type bybitTickerItem struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	FundingRate     string `json:"fundingRate"`
	Turnover24h     string `json:"turnover24h"`
	NextFundingTime string `json:"nextFundingTime"`
}

type bybitInstrumentItem struct {
	Symbol          string `json:"symbol"`
	Status          string `json:"status"`
	QuoteCoin       string `json:"quoteCoin"`
	ContractType    string `json:"contractType"`
	FundingInterval int    `json:"fundingInterval"` // minutes
}

// --- Poll feeds ---

// RunTickerPoll is the bulk ticker baseline: one REST snapshot per tick.
func (b *BybitAdapter) RunTickerPoll(ctx context.Context, every time.Duration) {
	pollLoop(ctx, FeedBybitTickers, every, b.feeds, b.logger, b.pollTickers)
}

// RunInstrumentPoll refreshes the Bybit universe and the override table.
func (b *BybitAdapter) RunInstrumentPoll(ctx context.Context, every time.Duration) {
	pollLoop(ctx, FeedBybitInstruments, every, b.feeds, b.logger, b.pollInstruments)
}

func (b *BybitAdapter) pollTickers(ctx context.Context) error {
	body, err := getBody(ctx, b.client, b.baseURL+"/v5/market/tickers?category=linear")
	if err != nil {
		return err
	}
	items, err := parseBybitTickers(body)
	if err != nil {
		return err
	}
	b.applyTickerItems(items)
	return nil
}

func (b *BybitAdapter) pollInstruments(ctx context.Context) error {
	body, err := getBody(ctx, b.client, b.baseURL+"/v5/market/instruments-info?category=linear&limit=1000")
	if err != nil {
		return err
	}
	universe, overrides, err := parseBybitInstruments(body)
	if err != nil {
		return err
	}
	b.universe.SetVenueUniverse(domain.VenueBybit, universe)
	b.sink.ReplaceFundingOverrides(overrides)
	return nil
}

func parseBybitTickers(body []byte) ([]bybitTickerItem, error) {
	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []bybitTickerItem `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit api error: %s", resp.RetMsg)
	}
	return resp.Result.List, nil
}

// parseBybitInstruments builds the venue universe (trading USDT linear
// perps) and the funding-interval override table (minutes -> hours).
func parseBybitInstruments(body []byte) (map[string]struct{}, map[string]float64, error) {
	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []bybitInstrumentItem `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, err
	}
	if resp.RetCode != 0 {
		return nil, nil, fmt.Errorf("bybit api error: %s", resp.RetMsg)
	}

	universe := make(map[string]struct{})
	overrides := make(map[string]float64)
	for _, item := range resp.Result.List {
		if item.Status != "Trading" || item.QuoteCoin != "USDT" || item.ContractType != "LinearPerpetual" {
			continue
		}
		ticker := domain.CanonicalFromBybit(item.Symbol)
		if ticker == "" {
			continue
		}
		universe[ticker] = struct{}{}
		if item.FundingInterval > 0 {
			overrides[ticker] = float64(item.FundingInterval) / 60
		}
	}
	return universe, overrides, nil
}

// applyTickerItems canonicalizes, filters against the common universe and
// mutates the store. Returns how many items were applied.
func (b *BybitAdapter) applyTickerItems(items []bybitTickerItem) int {
	applied := 0
	for _, item := range items {
		ticker := domain.CanonicalFromBybit(item.Symbol)
		if ticker == "" || !b.universe.Contains(ticker) {
			continue
		}
		t := domain.BybitTicker{
			Ticker:      ticker,
			MarkPrice:   floatPtr(item.MarkPrice),
			FundingRate: floatPtr(item.FundingRate),
			Turnover24h: floatPtr(item.Turnover24h),
		}
		if ms := msInt(item.NextFundingTime); ms > 0 {
			t.NextFundingMs = &ms
		}
		b.sink.ApplyBybitTicker(t)
		applied++
	}
	return applied
}

// --- Push feed ---

// RunTickerStream drives the public linear ticker websocket, reconnecting
// with a fixed backoff until the context is cancelled.
func (b *BybitAdapter) RunTickerStream(ctx context.Context) {
	feed := &wsFeed{
		name:        FeedBybitStream,
		url:         b.wsURL,
		pingMessage: []byte(`{"op":"ping"}`),
		subscribe:   b.subscribeTickers,
		handle:      b.handleStreamMessage,
		feeds:       b.feeds,
		logger:      b.logger,
	}
	feed.Run(ctx)
}

// subscribeTickers fetches the current linear symbol list and subscribes in
// chunks; Bybit caps args per subscription request.
func (b *BybitAdapter) subscribeTickers(ctx context.Context, conn *websocket.Conn) error {
	body, err := getBody(ctx, b.client, b.baseURL+"/v5/market/instruments-info?category=linear&limit=1000")
	if err != nil {
		return err
	}
	universe, _, err := parseBybitInstruments(body)
	if err != nil {
		return err
	}
	if len(universe) == 0 {
		return fmt.Errorf("no linear USDT instruments to subscribe")
	}

	args := make([]string, 0, len(universe))
	for ticker := range universe {
		args = append(args, "tickers."+ticker) // canonical == native for Bybit
	}

	for start := 0; start < len(args); start += subscribeChunkSize {
		end := start + subscribeChunkSize
		if end > len(args) {
			end = len(args)
		}
		msg := map[string]interface{}{"op": "subscribe", "args": args[start:end]}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		if end < len(args) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(subscribeChunkDelay):
			}
		}
	}
	return nil
}

func (b *BybitAdapter) handleStreamMessage(msg []byte) {
	var envelope struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		b.logger.Debug("bybit ws: malformed message", zap.Error(err))
		return
	}
	// Subscription acks and pongs have no topic.
	if !strings.HasPrefix(envelope.Topic, "tickers.") {
		return
	}

	var item bybitTickerItem
	if err := json.Unmarshal(envelope.Data, &item); err != nil {
		b.logger.Debug("bybit ws: malformed ticker", zap.String("topic", envelope.Topic), zap.Error(err))
		return
	}
	if b.applyTickerItems([]bybitTickerItem{item}) > 0 {
		b.feeds.StampUpdate(FeedBybitStream)
	}
}
