package usecase

import (
	"sync"
	"time"

	"github.com/dmik/perp_screener/internal/domain"
)

// FeedBoard tracks per-feed health flags and last successful update times.
// Push feeds report connected/disconnected; poll feeds report whether the
// last poll succeeded.
type FeedBoard struct {
	mu      sync.Mutex
	order   []string
	feeds   map[string]*feedEntry
	timeNow func() time.Time // For testing
}

type feedEntry struct {
	healthy    bool
	lastUpdate time.Time
}

func NewFeedBoard(names ...string) *FeedBoard {
	b := &FeedBoard{
		order:   append([]string(nil), names...),
		feeds:   make(map[string]*feedEntry, len(names)),
		timeNow: time.Now,
	}
	for _, n := range names {
		b.feeds[n] = &feedEntry{}
	}
	return b
}

func (b *FeedBoard) SetHealthy(feed string, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.feeds[feed]; ok {
		e.healthy = healthy
	}
}

func (b *FeedBoard) StampUpdate(feed string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.feeds[feed]; ok {
		e.lastUpdate = b.timeNow()
	}
}

// Statuses returns feed states in registration order.
func (b *FeedBoard) Statuses() []domain.FeedStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.FeedStatus, 0, len(b.order))
	for _, n := range b.order {
		e := b.feeds[n]
		out = append(out, domain.FeedStatus{Name: n, Healthy: e.healthy, LastUpdate: e.lastUpdate})
	}
	return out
}
