package web

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dmik/perp_screener/internal/usecase"
)

// handleSnapshot serves the current rows after filter/sort. Query params:
// filter (substring on ticker), sort (column name), dir (asc|desc).
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	key := usecase.SortTicker
	if sortParam := q.Get("sort"); sortParam != "" {
		if !usecase.ValidSortKey(sortParam) {
			http.Error(w, "unknown sort key", http.StatusBadRequest)
			return
		}
		key = usecase.SortKey(sortParam)
	}
	asc := q.Get("dir") != "desc"

	snap := s.publisher.Query(q.Get("filter"), key, asc)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Error("Failed to encode snapshot", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.publisher.Query("", usecase.SortTicker, true)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap.Feeds); err != nil {
		s.logger.Error("Failed to encode health", zap.Error(err))
	}
}
