package usecase

import (
	"sort"
	"sync"

	"github.com/dmik/perp_screener/internal/domain"
)

// Store is the shared per-instrument state mutated by every feed adapter.
// Records are created lazily by whichever adapter first observes a ticker and
// deleted only by universe pruning; a feed going down leaves its fields stale
// rather than missing. Mutation is field-level, guarded by one mutex, and
// every successful ingestion sets the dirty flag consumed by the publisher.
type Store struct {
	mu        sync.Mutex
	records   map[string]*domain.Record
	overrides map[string]float64
	dirty     bool
}

func NewStore() *Store {
	return &Store{
		records:   make(map[string]*domain.Record),
		overrides: make(map[string]float64),
	}
}

func (s *Store) getOrCreateLocked(ticker string) *domain.Record {
	rec, ok := s.records[ticker]
	if !ok {
		rec = &domain.Record{Ticker: ticker}
		s.records[ticker] = rec
	}
	return rec
}

// ApplyBybitTicker merges one Bybit ticker item. Push deltas carry only the
// changed fields, so absent fields leave previous values untouched.
func (s *Store) ApplyBybitTicker(t domain.BybitTicker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreateLocked(t.Ticker)
	if t.MarkPrice != nil {
		rec.BybitMarkPrice = t.MarkPrice
	}
	if t.FundingRate != nil {
		rec.BybitFundingRate = t.FundingRate
	}
	if t.Turnover24h != nil {
		rec.BybitVolume24h = t.Turnover24h
	}
	if t.NextFundingMs != nil {
		if h, ok := InferHours(rec.BybitNextFundingMs, *t.NextFundingMs); ok {
			rec.BybitIntervalHours = &h
		}
		rec.BybitNextFundingMs = *t.NextFundingMs
	}
	s.dirty = true
}

// ApplyOKXTicker merges one OKX ticker item and redoes the base->quote
// volume conversion, since either input may have changed.
func (s *Store) ApplyOKXTicker(t domain.OKXTicker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreateLocked(t.Ticker)
	if t.Last != nil {
		rec.OKXLastPrice = t.Last
	}
	if t.BaseVolume != nil {
		rec.OKXBaseVolume = t.BaseVolume
	}
	s.reconvertLocked(rec)
	s.dirty = true
}

func (s *Store) ApplyOKXMarkPrice(ticker string, markPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreateLocked(ticker)
	rec.OKXMarkPrice = &markPrice
	s.reconvertLocked(rec)
	s.dirty = true
}

// ApplyOKXFunding merges one funding-rate item. An exact settlement pair in
// the payload wins over delta inference from successive observations.
func (s *Store) ApplyOKXFunding(f domain.OKXFunding) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreateLocked(f.Ticker)
	if f.Rate != nil {
		rec.OKXFundingRate = f.Rate
	}
	if h, ok := ExactHours(f.FundingMs, f.NextFundingMs); ok {
		rec.OKXIntervalHours = &h
	} else if h, ok := InferHours(rec.OKXNextFundingMs, f.NextFundingMs); ok {
		rec.OKXIntervalHours = &h
	}
	if f.NextFundingMs > 0 {
		rec.OKXNextFundingMs = f.NextFundingMs
	}
	s.dirty = true
}

// ReplaceFundingOverrides swaps the whole override table. A ticker dropped
// from the table reverts to its inferred interval or the Bybit default.
func (s *Store) ReplaceFundingOverrides(hours map[string]float64) {
	next := make(map[string]float64, len(hours))
	for t, h := range hours {
		next[t] = h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = next
	s.dirty = true
}

// Prune removes every record whose ticker fails keep and marks the store
// dirty. keep == nil means unconstrained: nothing is removed, but the store
// is still marked dirty so the next snapshot reflects the universe change.
// Only the universe resolver calls this.
func (s *Store) Prune(keep func(ticker string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep != nil {
		for ticker := range s.records {
			if !keep(ticker) {
				delete(s.records, ticker)
			}
		}
	}
	s.dirty = true
}

// TakeDirty reports whether any mutation happened since the last call and
// clears the flag.
func (s *Store) TakeDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dirty
	s.dirty = false
	return d
}

// Rows builds an immutable view of every record, derived metrics included,
// ordered by ticker. Row fields are value copies; callers never alias store
// internals.
func (s *Store) Rows() []domain.Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]domain.Row, 0, len(s.records))
	for _, rec := range s.records {
		row := domain.Row{
			Ticker:        rec.Ticker,
			BybitPrice:    cloneFloat(rec.BybitMarkPrice),
			OKXPrice:      cloneFloat(rec.OKXMarkPrice),
			BybitFunding:  cloneFloat(rec.BybitFundingRate),
			OKXFunding:    cloneFloat(rec.OKXFundingRate),
			BybitVolume:   cloneFloat(rec.BybitVolume24h),
			OKXVolume:     cloneFloat(rec.OKXVolume24h),
			BybitInterval: s.bybitIntervalLocked(rec),
			OKXInterval:   cloneFloat(rec.OKXIntervalHours),
		}
		row.PriceDivergence = PriceDivergence(row.BybitPrice, row.OKXPrice)
		row.FundingDivergence = FundingDivergence(row.BybitFunding, row.OKXFunding)
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Ticker < rows[j].Ticker })
	return rows
}

// bybitIntervalLocked resolves the effective Bybit interval:
// override > inferred > default.
func (s *Store) bybitIntervalLocked(rec *domain.Record) *float64 {
	if h, ok := s.overrides[rec.Ticker]; ok {
		return &h
	}
	if rec.BybitIntervalHours != nil {
		return cloneFloat(rec.BybitIntervalHours)
	}
	h := domain.DefaultBybitIntervalHours
	return &h
}

func (s *Store) reconvertLocked(rec *domain.Record) {
	if rec.OKXBaseVolume == nil {
		return
	}
	price := rec.OKXMarkPrice
	if price == nil {
		price = rec.OKXLastPrice
	}
	if price == nil {
		return
	}
	if q, ok := ConvertBaseVolume(*rec.OKXBaseVolume, *price); ok {
		rec.OKXVolume24h = &q
	}
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
