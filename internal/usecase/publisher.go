package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmik/perp_screener/internal/domain"
	"go.uber.org/zap"
)

// SortKey names a sortable snapshot column. Every numeric column, derived
// metrics included, is sortable.
type SortKey string

const (
	SortTicker            SortKey = "ticker"
	SortBybitPrice        SortKey = "bybit_price"
	SortOKXPrice          SortKey = "okx_price"
	SortBybitFunding      SortKey = "bybit_funding"
	SortOKXFunding        SortKey = "okx_funding"
	SortBybitVolume       SortKey = "bybit_volume"
	SortOKXVolume         SortKey = "okx_volume"
	SortBybitInterval     SortKey = "bybit_interval_h"
	SortOKXInterval       SortKey = "okx_interval_h"
	SortPriceDivergence   SortKey = "price_divergence"
	SortFundingDivergence SortKey = "funding_divergence"
)

var sortColumns = map[SortKey]func(domain.Row) *float64{
	SortBybitPrice:        func(r domain.Row) *float64 { return r.BybitPrice },
	SortOKXPrice:          func(r domain.Row) *float64 { return r.OKXPrice },
	SortBybitFunding:      func(r domain.Row) *float64 { return r.BybitFunding },
	SortOKXFunding:        func(r domain.Row) *float64 { return r.OKXFunding },
	SortBybitVolume:       func(r domain.Row) *float64 { return r.BybitVolume },
	SortOKXVolume:         func(r domain.Row) *float64 { return r.OKXVolume },
	SortBybitInterval:     func(r domain.Row) *float64 { return r.BybitInterval },
	SortOKXInterval:       func(r domain.Row) *float64 { return r.OKXInterval },
	SortPriceDivergence:   func(r domain.Row) *float64 { return r.PriceDivergence },
	SortFundingDivergence: func(r domain.Row) *float64 { return r.FundingDivergence },
}

// ValidSortKey reports whether s names a known column.
func ValidSortKey(s string) bool {
	if SortKey(s) == SortTicker {
		return true
	}
	_, ok := sortColumns[SortKey(s)]
	return ok
}

// SortState holds one consumer's sort selection. Toggle sets ascending on
// the first selection of a key and flips direction on repeat selections.
type SortState struct {
	Key SortKey
	Asc bool
}

func (s *SortState) Toggle(key SortKey) {
	if s.Key == key {
		s.Asc = !s.Asc
		return
	}
	s.Key = key
	s.Asc = true
}

// FilterRows keeps rows whose ticker contains filter, case-insensitively.
func FilterRows(rows []domain.Row, filter string) []domain.Row {
	f := strings.ToUpper(strings.TrimSpace(filter))
	if f == "" {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if strings.Contains(r.Ticker, f) {
			out = append(out, r)
		}
	}
	return out
}

// SortRows orders rows in place. Rows with a missing or non-finite value for
// the key always sort after rows with a real value, in both directions; ties
// and the missing tail stay in ticker order.
func SortRows(rows []domain.Row, key SortKey, asc bool) {
	column, ok := sortColumns[key]
	if !ok {
		sort.SliceStable(rows, func(i, j int) bool {
			if asc {
				return rows[i].Ticker < rows[j].Ticker
			}
			return rows[i].Ticker > rows[j].Ticker
		})
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := column(rows[i]), column(rows[j])
		aOK := a != nil && isFinite(*a)
		bOK := b != nil && isFinite(*b)
		switch {
		case aOK && bOK:
			if *a == *b {
				return rows[i].Ticker < rows[j].Ticker
			}
			if asc {
				return *a < *b
			}
			return *a > *b
		case aOK:
			return true
		case bOK:
			return false
		default:
			return rows[i].Ticker < rows[j].Ticker
		}
	})
}

// Publisher coalesces the unbounded mutation stream into a bounded-rate
// snapshot stream. On each tick it publishes only if the store is dirty;
// consumers that fall behind are skipped, never blocked on.
type Publisher struct {
	store    *Store
	feeds    *FeedBoard
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	subs   map[int]chan domain.Snapshot
	nextID int

	timeNow func() time.Time // For testing
}

func NewPublisher(store *Store, feeds *FeedBoard, interval time.Duration, logger *zap.Logger) *Publisher {
	return &Publisher{
		store:    store,
		feeds:    feeds,
		interval: interval,
		logger:   logger,
		subs:     make(map[int]chan domain.Snapshot),
		timeNow:  time.Now,
	}
}

// Subscribe registers a snapshot consumer. The returned cancel func must be
// called to release the channel.
func (p *Publisher) Subscribe() (<-chan domain.Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan domain.Snapshot, 1)
	p.subs[id] = ch

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

// publishOnce emits a snapshot if anything changed since the last tick.
func (p *Publisher) publishOnce() bool {
	if !p.store.TakeDirty() {
		return false
	}

	snap := domain.Snapshot{
		At:    p.timeNow(),
		Rows:  p.store.Rows(),
		Feeds: p.feeds.Statuses(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			// Slow consumer keeps its previous pending snapshot.
			p.logger.Debug("subscriber busy, snapshot skipped", zap.Int("subscriber", id))
		}
	}
	return true
}

// Query serves pull-style consumers: current rows after filter/sort, without
// touching the dirty flag.
func (p *Publisher) Query(filter string, key SortKey, asc bool) domain.Snapshot {
	rows := FilterRows(p.store.Rows(), filter)
	SortRows(rows, key, asc)
	return domain.Snapshot{
		At:    p.timeNow(),
		Rows:  rows,
		Feeds: p.feeds.Statuses(),
	}
}
