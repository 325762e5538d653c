package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dmik/perp_screener/internal/domain"
)

const (
	OKXBaseURL = "https://www.okx.com"
	OKXWSURL   = "wss://ws.okx.com:8443/ws/v5/public"

	FeedOKXStream      = "okx-ws"
	FeedOKXInstruments = "okx-instruments"
	FeedOKXFunding     = "okx-funding"
)

// OKXAdapter owns the three OKX feeds: the public tickers/mark-price stream,
// the SWAP instruments poll (universe), and the funding-rate poll. OKX
// reports 24h volume in base currency; the store converts it by mark price.
type OKXAdapter struct {
	baseURL string
	wsURL   string
	client  *http.Client

	sink     domain.TickerSink
	universe domain.UniverseSink
	feeds    domain.FeedMonitor
	logger   *zap.Logger
}

func NewOKXAdapter(baseURL, wsURL string, sink domain.TickerSink, universe domain.UniverseSink, feeds domain.FeedMonitor, logger *zap.Logger) *OKXAdapter {
	return &OKXAdapter{
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

type okxInstrumentItem struct {
	InstID string `json:"instId"`
	State  string `json:"state"`
}

type okxTickerItem struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	VolCcy24h string `json:"volCcy24h"` // base currency for USDT swaps
}

type okxMarkPriceItem struct {
	InstID string `json:"instId"`
	MarkPx string `json:"markPx"`
}

type okxFundingItem struct {
	InstID          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	FundingTime     string `json:"fundingTime"`
	NextFundingTime string `json:"nextFundingTime"`
}

func parseOKXData[T any](body []byte) ([]T, error) {
	var resp struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("okx api error %s: %s", resp.Code, resp.Msg)
	}
	var data []T
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// --- Poll feeds ---

// RunInstrumentPoll refreshes the OKX side of the universe from the live
// SWAP instrument list.
func (o *OKXAdapter) RunInstrumentPoll(ctx context.Context, every time.Duration) {
	pollLoop(ctx, FeedOKXInstruments, every, o.feeds, o.logger, o.pollInstruments)
}

// RunFundingPoll refreshes funding rates and settlement timestamps; interval
// inference runs off these in the store.
func (o *OKXAdapter) RunFundingPoll(ctx context.Context, every time.Duration) {
	pollLoop(ctx, FeedOKXFunding, every, o.feeds, o.logger, o.pollFunding)
}

func (o *OKXAdapter) pollInstruments(ctx context.Context) error {
	body, err := getBody(ctx, o.client, o.baseURL+"/api/v5/public/instruments?instType=SWAP")
	if err != nil {
		return err
	}
	items, err := parseOKXData[okxInstrumentItem](body)
	if err != nil {
		return err
	}
	o.universe.SetVenueUniverse(domain.VenueOKX, okxUniverse(items))
	return nil
}

func okxUniverse(items []okxInstrumentItem) map[string]struct{} {
	universe := make(map[string]struct{})
	for _, item := range items {
		if item.State != "live" {
			continue
		}
		if ticker := domain.CanonicalFromOKX(item.InstID); ticker != "" {
			universe[ticker] = struct{}{}
		}
	}
	return universe
}

func (o *OKXAdapter) pollFunding(ctx context.Context) error {
	body, err := getBody(ctx, o.client, o.baseURL+"/api/v5/public/funding-rate?instId=ANY")
	if err != nil {
		return err
	}
	items, err := parseOKXData[okxFundingItem](body)
	if err != nil {
		return err
	}
	o.applyFundingItems(items)
	return nil
}

func (o *OKXAdapter) applyFundingItems(items []okxFundingItem) int {
	applied := 0
	for _, item := range items {
		ticker := domain.CanonicalFromOKX(item.InstID)
		if ticker == "" || !o.universe.Contains(ticker) {
			continue
		}
		o.sink.ApplyOKXFunding(domain.OKXFunding{
			Ticker:        ticker,
			Rate:          floatPtr(item.FundingRate),
			FundingMs:     msInt(item.FundingTime),
			NextFundingMs: msInt(item.NextFundingTime),
		})
		applied++
	}
	return applied
}

// --- Push feed ---

// RunTickerStream drives the public websocket with tickers and mark-price
// subscriptions on one connection.
func (o *OKXAdapter) RunTickerStream(ctx context.Context) {
	feed := &wsFeed{
		name:        FeedOKXStream,
		url:         o.wsURL,
		pingMessage: []byte("ping"),
		subscribe:   o.subscribeChannels,
		handle:      o.handleStreamMessage,
		feeds:       o.feeds,
		logger:      o.logger,
	}
	feed.Run(ctx)
}

type okxSubArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

func (o *OKXAdapter) subscribeChannels(ctx context.Context, conn *websocket.Conn) error {
	body, err := getBody(ctx, o.client, o.baseURL+"/api/v5/public/instruments?instType=SWAP")
	if err != nil {
		return err
	}
	items, err := parseOKXData[okxInstrumentItem](body)
	if err != nil {
		return err
	}

	var args []okxSubArg
	for _, item := range items {
		if item.State != "live" || domain.CanonicalFromOKX(item.InstID) == "" {
			continue
		}
		args = append(args,
			okxSubArg{Channel: "tickers", InstID: item.InstID},
			okxSubArg{Channel: "mark-price", InstID: item.InstID})
	}
	if len(args) == 0 {
		return fmt.Errorf("no live USDT swaps to subscribe")
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

func (o *OKXAdapter) handleStreamMessage(msg []byte) {
	// Keepalive replies are bare text, not JSON.
	if string(msg) == "pong" {
		return
	}

	var envelope struct {
		Event string `json:"event"`
		Arg   struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		o.logger.Debug("okx ws: malformed message", zap.Error(err))
		return
	}
	// Subscribe acks and errors carry an event instead of data.
	if envelope.Event != "" || len(envelope.Data) == 0 {
		if envelope.Event == "error" {
			o.logger.Warn("okx ws: error event", zap.ByteString("msg", msg))
		}
		return
	}

	switch envelope.Arg.Channel {
	case "tickers":
		var items []okxTickerItem
		if err := json.Unmarshal(envelope.Data, &items); err != nil {
			o.logger.Debug("okx ws: malformed tickers", zap.Error(err))
			return
		}
		if o.applyTickerItems(items) > 0 {
			o.feeds.StampUpdate(FeedOKXStream)
		}
	case "mark-price":
		var items []okxMarkPriceItem
		if err := json.Unmarshal(envelope.Data, &items); err != nil {
			o.logger.Debug("okx ws: malformed mark price", zap.Error(err))
			return
		}
		if o.applyMarkPriceItems(items) > 0 {
			o.feeds.StampUpdate(FeedOKXStream)
		}
	}
}

func (o *OKXAdapter) applyTickerItems(items []okxTickerItem) int {
	applied := 0
	for _, item := range items {
		ticker := domain.CanonicalFromOKX(item.InstID)
		if ticker == "" || !o.universe.Contains(ticker) {
			continue
		}
		o.sink.ApplyOKXTicker(domain.OKXTicker{
			Ticker:     ticker,
			Last:       floatPtr(item.Last),
			BaseVolume: floatPtr(item.VolCcy24h),
		})
		applied++
	}
	return applied
}

func (o *OKXAdapter) applyMarkPriceItems(items []okxMarkPriceItem) int {
	applied := 0
	for _, item := range items {
		ticker := domain.CanonicalFromOKX(item.InstID)
		if ticker == "" || !o.universe.Contains(ticker) {
			continue
		}
		mark := floatPtr(item.MarkPx)
		if mark == nil {
			continue
		}
		o.sink.ApplyOKXMarkPrice(ticker, *mark)
		applied++
	}
	return applied
}
