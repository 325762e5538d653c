package domain

import "time"

type Venue string

const (
	VenueBybit Venue = "bybit"
	VenueOKX   Venue = "okx"
)

// DefaultBybitIntervalHours is assumed for Bybit instruments until the
// instruments-info override table says otherwise.
const DefaultBybitIntervalHours = 8.0

// Record is the mutable per-instrument state shared by all feed adapters.
// Nil fields have never been observed. Prices and funding rates are kept
// per venue because the venues update independently and at different rates.
type Record struct {
	Ticker string

	BybitMarkPrice   *float64
	BybitFundingRate *float64
	BybitVolume24h   *float64 // quote-denominated, as reported

	OKXMarkPrice   *float64
	OKXLastPrice   *float64
	OKXFundingRate *float64
	OKXVolume24h   *float64 // quote-denominated, converted
	OKXBaseVolume  *float64 // raw base-currency volume, kept for reconversion

	// Last observed next-settlement timestamps (ms), used only for
	// interval inference.
	BybitNextFundingMs int64
	OKXNextFundingMs   int64

	// Inferred/exact funding intervals. Bybit falls back to
	// DefaultBybitIntervalHours when nil; OKX stays unknown until observed.
	BybitIntervalHours *float64
	OKXIntervalHours   *float64
}

// Row is an immutable snapshot view of one record, combined with its
// derived metrics. Nil means "no data".
type Row struct {
	Ticker string `json:"ticker"`

	BybitPrice    *float64 `json:"bybit_price"`
	OKXPrice      *float64 `json:"okx_price"`
	BybitFunding  *float64 `json:"bybit_funding"`
	OKXFunding    *float64 `json:"okx_funding"`
	BybitVolume   *float64 `json:"bybit_volume"`
	OKXVolume     *float64 `json:"okx_volume"`
	BybitInterval *float64 `json:"bybit_interval_h"`
	OKXInterval   *float64 `json:"okx_interval_h"`

	PriceDivergence   *float64 `json:"price_divergence"`
	FundingDivergence *float64 `json:"funding_divergence"`
}

// FeedStatus reports one physical feed's health to the presentation boundary.
type FeedStatus struct {
	Name       string    `json:"name"`
	Healthy    bool      `json:"healthy"`
	LastUpdate time.Time `json:"last_update"`
}

// Snapshot is what the publisher emits: a consistent copy of all rows plus
// per-feed health at the time of publication.
type Snapshot struct {
	At    time.Time    `json:"at"`
	Rows  []Row        `json:"rows"`
	Feeds []FeedStatus `json:"feeds"`
}

// BybitTicker is one canonicalized item from the Bybit ticker feeds. Push
// deltas omit unchanged fields, so everything is nullable.
type BybitTicker struct {
	Ticker        string
	MarkPrice     *float64
	FundingRate   *float64
	Turnover24h   *float64
	NextFundingMs *int64
}

// OKXTicker is one canonicalized item from the OKX tickers channel.
type OKXTicker struct {
	Ticker     string
	Last       *float64
	BaseVolume *float64
}

// OKXFunding is one canonicalized item from the OKX funding-rate poll.
// FundingMs/NextFundingMs are 0 when absent from the payload.
type OKXFunding struct {
	Ticker        string
	Rate          *float64
	FundingMs     int64
	NextFundingMs int64
}
