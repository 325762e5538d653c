package usecase

import (
	"reflect"
	"testing"
	"time"

	"github.com/dmik/perp_screener/internal/domain"
)

func findRow(t *testing.T, rows []domain.Row, ticker string) domain.Row {
	t.Helper()
	for _, r := range rows {
		if r.Ticker == ticker {
			return r
		}
	}
	t.Fatalf("row %s not found", ticker)
	return domain.Row{}
}

func TestStore_LazyCreationAndMerge(t *testing.T) {
	s := NewStore()

	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "BTCUSDT", MarkPrice: f(100)})
	s.ApplyOKXTicker(domain.OKXTicker{Ticker: "BTCUSDT", Last: f(100.5)})
	s.ApplyOKXMarkPrice("BTCUSDT", 101)

	rows := s.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected one record, got %d", len(rows))
	}
	row := rows[0]
	if row.BybitPrice == nil || *row.BybitPrice != 100 {
		t.Errorf("bybit price = %v, want 100", row.BybitPrice)
	}
	if row.OKXPrice == nil || *row.OKXPrice != 101 {
		t.Errorf("okx price = %v, want 101", row.OKXPrice)
	}
	if row.PriceDivergence == nil || *row.PriceDivergence != 0.01 {
		t.Errorf("price divergence = %v, want 0.01", row.PriceDivergence)
	}
}

func TestStore_DeltaLeavesPreviousFields(t *testing.T) {
	s := NewStore()
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "ETHUSDT", MarkPrice: f(3000), FundingRate: f(0.0001)})

	// A push delta carrying only the price must not clear funding.
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "ETHUSDT", MarkPrice: f(3001)})

	row := findRow(t, s.Rows(), "ETHUSDT")
	if row.BybitFunding == nil || *row.BybitFunding != 0.0001 {
		t.Errorf("funding = %v, want 0.0001 preserved", row.BybitFunding)
	}
	if *row.BybitPrice != 3001 {
		t.Errorf("price = %v, want 3001", *row.BybitPrice)
	}
}

func TestStore_VolumeReconversion(t *testing.T) {
	s := NewStore()

	// Base volume arrives before any price: conversion impossible.
	s.ApplyOKXTicker(domain.OKXTicker{Ticker: "BTCUSDT", BaseVolume: f(56.78)})
	if row := findRow(t, s.Rows(), "BTCUSDT"); row.OKXVolume != nil {
		t.Fatalf("quote volume = %v, want nil before any price", row.OKXVolume)
	}

	// Last price unlocks the fallback conversion.
	s.ApplyOKXTicker(domain.OKXTicker{Ticker: "BTCUSDT", Last: f(99)})
	row := findRow(t, s.Rows(), "BTCUSDT")
	if row.OKXVolume == nil || *row.OKXVolume != 56.78*99 {
		t.Errorf("quote volume = %v, want %v via last price", row.OKXVolume, 56.78*99)
	}

	// Mark price takes precedence and triggers reconversion on its own.
	s.ApplyOKXMarkPrice("BTCUSDT", 100)
	row = findRow(t, s.Rows(), "BTCUSDT")
	if row.OKXVolume == nil || *row.OKXVolume != 5678 {
		t.Errorf("quote volume = %v, want 5678 via mark price", row.OKXVolume)
	}
}

func TestStore_PollIdempotence(t *testing.T) {
	s := NewStore()
	payload := []domain.BybitTicker{
		{Ticker: "BTCUSDT", MarkPrice: f(100), FundingRate: f(0.0001), Turnover24h: f(1e9)},
		{Ticker: "ETHUSDT", MarkPrice: f(3000), FundingRate: f(0.0002), Turnover24h: f(5e8)},
	}

	for _, item := range payload {
		s.ApplyBybitTicker(item)
	}
	first := s.Rows()

	for _, item := range payload {
		s.ApplyBybitTicker(item)
	}
	second := s.Rows()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("applying the same payload twice changed the snapshot:\n%v\n%v", first, second)
	}
}

func TestStore_OverridePrecedenceAndRevert(t *testing.T) {
	s := NewStore()
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "BTCUSDT", MarkPrice: f(100)})

	// Default applies before anything is known.
	row := findRow(t, s.Rows(), "BTCUSDT")
	if row.BybitInterval == nil || *row.BybitInterval != 8 {
		t.Fatalf("interval = %v, want default 8", row.BybitInterval)
	}

	s.ReplaceFundingOverrides(map[string]float64{"BTCUSDT": 1})
	row = findRow(t, s.Rows(), "BTCUSDT")
	if *row.BybitInterval != 1 {
		t.Errorf("interval = %v, want override 1", *row.BybitInterval)
	}

	// A refresh without the ticker reverts to the default.
	s.ReplaceFundingOverrides(map[string]float64{})
	row = findRow(t, s.Rows(), "BTCUSDT")
	if *row.BybitInterval != 8 {
		t.Errorf("interval = %v, want 8 after override removal", *row.BybitInterval)
	}
}

func TestStore_IntervalInferenceFromStream(t *testing.T) {
	s := NewStore()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	hour := int64(time.Hour / time.Millisecond)

	next1 := base + 8*hour
	next2 := next1 + 4*hour
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "BTCUSDT", NextFundingMs: &next1})
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "BTCUSDT", NextFundingMs: &next2})

	row := findRow(t, s.Rows(), "BTCUSDT")
	if row.BybitInterval == nil || *row.BybitInterval != 4 {
		t.Errorf("interval = %v, want inferred 4", row.BybitInterval)
	}

	// Replayed stale timestamp must not corrupt the estimate.
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "BTCUSDT", NextFundingMs: &next1})
	row = findRow(t, s.Rows(), "BTCUSDT")
	if *row.BybitInterval != 4 {
		t.Errorf("interval = %v, want 4 after stale replay", *row.BybitInterval)
	}
}

func TestStore_OKXExactIntervalWinsOverDelta(t *testing.T) {
	s := NewStore()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	hour := int64(time.Hour / time.Millisecond)

	s.ApplyOKXFunding(domain.OKXFunding{Ticker: "BTCUSDT", Rate: f(0.0001), NextFundingMs: base + 8*hour})

	// Delta against the previous observation would say 8h; the settlement
	// pair in the payload says 4h and must win.
	s.ApplyOKXFunding(domain.OKXFunding{
		Ticker:        "BTCUSDT",
		Rate:          f(0.0001),
		FundingMs:     base + 12*hour,
		NextFundingMs: base + 16*hour,
	})

	row := findRow(t, s.Rows(), "BTCUSDT")
	if row.OKXInterval == nil || *row.OKXInterval != 4 {
		t.Errorf("okx interval = %v, want exact 4", row.OKXInterval)
	}
}

func TestStore_PruneAndDirty(t *testing.T) {
	s := NewStore()
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "BTCUSDT", MarkPrice: f(100)})
	s.ApplyBybitTicker(domain.BybitTicker{Ticker: "DOGEUSDT", MarkPrice: f(0.1)})

	if !s.TakeDirty() {
		t.Fatal("mutations must set the dirty flag")
	}
	if s.TakeDirty() {
		t.Fatal("TakeDirty must clear the flag")
	}

	s.Prune(func(ticker string) bool { return ticker == "BTCUSDT" })
	rows := s.Rows()
	if len(rows) != 1 || rows[0].Ticker != "BTCUSDT" {
		t.Errorf("rows after prune = %v, want only BTCUSDT", rows)
	}
	if !s.TakeDirty() {
		t.Error("prune must set the dirty flag")
	}

	// Unconstrained prune keeps everything but still dirties the store.
	s.Prune(nil)
	if len(s.Rows()) != 1 {
		t.Error("unconstrained prune must not delete records")
	}
	if !s.TakeDirty() {
		t.Error("unconstrained prune must set the dirty flag")
	}
}
