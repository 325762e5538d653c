package usecase

import (
	"sync"

	"github.com/dmik/perp_screener/internal/domain"
	"go.uber.org/zap"
)

// UniverseResolver tracks each venue's active instrument set and keeps the
// store restricted to their intersection. A venue whose listing feed has not
// yet answered has an empty set and imposes no constraint, so a listing
// hiccup never wipes the data set. This is the only component that deletes
// records.
type UniverseResolver struct {
	mu     sync.Mutex
	store  *Store
	venues map[domain.Venue]map[string]struct{}
	logger *zap.Logger
}

func NewUniverseResolver(store *Store, logger *zap.Logger) *UniverseResolver {
	return &UniverseResolver{
		store:  store,
		venues: make(map[domain.Venue]map[string]struct{}),
		logger: logger,
	}
}

// SetVenueUniverse replaces one venue's active set and synchronously prunes
// the store against the new common universe.
func (r *UniverseResolver) SetVenueUniverse(venue domain.Venue, tickers map[string]struct{}) {
	set := make(map[string]struct{}, len(tickers))
	for t := range tickers {
		set[t] = struct{}{}
	}

	// Prune under r.mu so concurrent refreshes apply their prunes in venue
	// update order. The store lock nests inside r.mu and nothing locks the
	// other way around.
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[venue] = set
	common := r.commonLocked()

	if common == nil {
		r.store.Prune(nil)
		r.logger.Debug("universe unconstrained", zap.String("venue", string(venue)))
		return
	}

	r.store.Prune(func(ticker string) bool {
		_, ok := common[ticker]
		return ok
	})
	r.logger.Info("universe updated",
		zap.String("venue", string(venue)),
		zap.Int("venue_size", len(set)),
		zap.Int("common_size", len(common)))
}

// Contains answers the common-universe filter adapters apply before mutating.
func (r *UniverseResolver) Contains(ticker string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	common := r.commonLocked()
	if common == nil {
		return true
	}
	_, ok := common[ticker]
	return ok
}

// commonLocked intersects every venue set that is non-empty. nil means no
// constraint.
func (r *UniverseResolver) commonLocked() map[string]struct{} {
	var common map[string]struct{}
	for _, set := range r.venues {
		if len(set) == 0 {
			continue
		}
		if common == nil {
			common = make(map[string]struct{}, len(set))
			for t := range set {
				common[t] = struct{}{}
			}
			continue
		}
		for t := range common {
			if _, ok := set[t]; !ok {
				delete(common, t)
			}
		}
	}
	return common
}
