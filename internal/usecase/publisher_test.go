package usecase

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dmik/perp_screener/internal/domain"
)

func newTestPublisher(t *testing.T) (*Publisher, *Store) {
	t.Helper()
	s := NewStore()
	feeds := NewFeedBoard("bybit-ws", "okx-ws")
	p := NewPublisher(s, feeds, time.Second, zap.NewNop())
	p.timeNow = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return p, s
}

func TestPublisher_CoalescesOnDirty(t *testing.T) {
	p, s := newTestPublisher(t)
	ch, cancel := p.Subscribe()
	defer cancel()

	// Clean store: nothing published.
	if p.publishOnce() {
		t.Fatal("publishOnce on a clean store must emit nothing")
	}
	select {
	case <-ch:
		t.Fatal("no snapshot expected")
	default:
	}

	// Many mutations coalesce into one snapshot.
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "BTCUSDT", MarkPrice: f(100)})
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "BTCUSDT", MarkPrice: f(101)})
	if !p.publishOnce() {
		t.Fatal("dirty store must publish")
	}
	snap := <-ch
	if len(snap.Rows) != 1 || *snap.Rows[0].BybitPrice != 101 {
		t.Errorf("snapshot rows = %v, want one BTCUSDT at 101", snap.Rows)
	}

	// Flag cleared: the next tick is silent again.
	if p.publishOnce() {
		t.Error("second tick without mutations must emit nothing")
	}
}

func TestPublisher_SkipsSlowSubscriber(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := NewStore()
	p := NewPublisher(s, NewFeedBoard("bybit-ws"), time.Second, zap.New(core))
	ch, cancel := p.Subscribe()
	defer cancel()

	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "BTCUSDT", MarkPrice: f(100)})
	if !p.publishOnce() {
		t.Fatal("first publish must emit")
	}

	// The subscriber never drained its channel, so the next publish skips it
	// and records the skip.
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "BTCUSDT", MarkPrice: f(101)})
	if !p.publishOnce() {
		t.Fatal("second publish must still run for other subscribers")
	}

	snap := <-ch
	if *snap.Rows[0].BybitPrice != 100 {
		t.Errorf("pending snapshot price = %v, want the first published value 100", *snap.Rows[0].BybitPrice)
	}
	select {
	case <-ch:
		t.Fatal("skipped snapshot must not be delivered")
	default:
	}
	if got := logs.FilterMessage("subscriber busy, snapshot skipped").Len(); got != 1 {
		t.Errorf("skip log entries = %d, want 1", got)
	}
}

func TestFilterRows_CaseInsensitiveSubstring(t *testing.T) {
	rows := []domain.Row{{Ticker: "BTCUSDT"}, {Ticker: "ETHUSDT"}, {Ticker: "BCHUSDT"}}

	got := FilterRows(rows, "btc")
	if len(got) != 1 || got[0].Ticker != "BTCUSDT" {
		t.Errorf("filter btc = %v, want [BTCUSDT]", got)
	}

	got = FilterRows(rows, "  ")
	if len(got) != 3 {
		t.Errorf("blank filter must keep everything, got %v", got)
	}
}

func TestSortRows_MissingAlwaysLast(t *testing.T) {
	nan := math.NaN()
	rows := func() []domain.Row {
		return []domain.Row{
			{Ticker: "AUSDT", BybitPrice: f(5)},
			{Ticker: "BUSDT"},                   // missing
			{Ticker: "CUSDT", BybitPrice: f(1)},
			{Ticker: "DUSDT", BybitPrice: &nan}, // non-finite counts as missing
			{Ticker: "EUSDT", BybitPrice: f(3)},
		}
	}

	asc := rows()
	SortRows(asc, SortBybitPrice, true)
	wantAsc := []string{"CUSDT", "EUSDT", "AUSDT", "BUSDT", "DUSDT"}
	for i, w := range wantAsc {
		if asc[i].Ticker != w {
			t.Fatalf("asc order = %v, want %v", tickers(asc), wantAsc)
		}
	}

	desc := rows()
	SortRows(desc, SortBybitPrice, false)
	wantDesc := []string{"AUSDT", "EUSDT", "CUSDT", "BUSDT", "DUSDT"}
	for i, w := range wantDesc {
		if desc[i].Ticker != w {
			t.Fatalf("desc order = %v, want %v", tickers(desc), wantDesc)
		}
	}
}

func tickers(rows []domain.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Ticker
	}
	return out
}

func TestSortRows_DerivedColumn(t *testing.T) {
	rows := []domain.Row{
		{Ticker: "AUSDT", PriceDivergence: f(0.02)},
		{Ticker: "BUSDT", PriceDivergence: f(0.01)},
		{Ticker: "CUSDT"},
	}
	SortRows(rows, SortPriceDivergence, false)
	want := []string{"AUSDT", "BUSDT", "CUSDT"}
	for i, w := range want {
		if rows[i].Ticker != w {
			t.Fatalf("order = %v, want %v", tickers(rows), want)
		}
	}
}

func TestSortState_Toggle(t *testing.T) {
	var st SortState
	st.Toggle(SortOKXVolume)
	if st.Key != SortOKXVolume || !st.Asc {
		t.Fatalf("first toggle = %+v, want okx_volume ascending", st)
	}
	st.Toggle(SortOKXVolume)
	if st.Asc {
		t.Fatal("repeat toggle must flip to descending")
	}
	st.Toggle(SortPriceDivergence)
	if st.Key != SortPriceDivergence || !st.Asc {
		t.Fatalf("new key = %+v, want price_divergence ascending", st)
	}
}

func TestPublisher_QueryDoesNotConsumeDirty(t *testing.T) {
	p, s := newTestPublisher(t)
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "BTCUSDT", MarkPrice: f(100)})

	snap := p.Query("btc", SortBybitPrice, true)
	if len(snap.Rows) != 1 {
		t.Fatalf("query rows = %d, want 1", len(snap.Rows))
	}
	if len(snap.Feeds) != 2 {
		t.Fatalf("query feeds = %d, want 2", len(snap.Feeds))
	}
	if !p.publishOnce() {
		t.Error("query must leave the dirty flag for the next tick")
	}
}
