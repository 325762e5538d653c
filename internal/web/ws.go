package web

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dmik/perp_screener/internal/domain"
	"github.com/dmik/perp_screener/internal/usecase"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientControl is what a connected consumer may send: a new text filter
// and/or a sort toggle. Toggling the current key flips direction; a new key
// starts ascending.
type clientControl struct {
	Filter     *string `json:"filter"`
	ToggleSort *string `json:"toggleSort"`
}

// handleStream pushes every published snapshot to the client, shaped by the
// client's own filter and sort state.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	snapshots, cancel := s.publisher.Subscribe()
	defer cancel()

	var mu sync.Mutex
	filter := ""
	sortState := usecase.SortState{Key: usecase.SortTicker, Asc: true}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var c clientControl
			if err := conn.ReadJSON(&c); err != nil {
				return
			}
			mu.Lock()
			if c.Filter != nil {
				filter = *c.Filter
			}
			if c.ToggleSort != nil && usecase.ValidSortKey(*c.ToggleSort) {
				sortState.Toggle(usecase.SortKey(*c.ToggleSort))
			}
			mu.Unlock()
		}
	}()

	send := func(snap domain.Snapshot) error {
		mu.Lock()
		f, st := filter, sortState
		mu.Unlock()

		// Published rows are shared across subscribers; sort a copy.
		rows := append([]domain.Row(nil), snap.Rows...)
		rows = usecase.FilterRows(rows, f)
		usecase.SortRows(rows, st.Key, st.Asc)
		snap.Rows = rows
		return conn.WriteJSON(snap)
	}

	// Initial state so a client does not wait for the next mutation.
	if err := send(s.publisher.Query("", usecase.SortTicker, true)); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := send(snap); err != nil {
				return
			}
		}
	}
}
