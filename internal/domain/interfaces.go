package domain

// TickerSink receives normalized, already-canonicalized mutations from feed
// adapters. The instrument store implements it; adapter tests mock it.
type TickerSink interface {
	ApplyBybitTicker(t BybitTicker)
	ApplyOKXTicker(t OKXTicker)
	ApplyOKXMarkPrice(ticker string, markPrice float64)
	ApplyOKXFunding(f OKXFunding)

	// ReplaceFundingOverrides swaps the whole funding-interval override
	// table (canonical ticker -> hours). Overrides always win over
	// inferred intervals for the tickers they cover.
	ReplaceFundingOverrides(hours map[string]float64)
}

// UniverseSink tracks each venue's active instrument set. Only its
// implementation may delete store records.
type UniverseSink interface {
	SetVenueUniverse(venue Venue, tickers map[string]struct{})

	// Contains reports whether a ticker passes the current common-universe
	// filter. An empty universe imposes no constraint.
	Contains(ticker string) bool
}

// FeedMonitor records per-feed liveness for the presentation boundary.
type FeedMonitor interface {
	SetHealthy(feed string, healthy bool)
	StampUpdate(feed string)
}
