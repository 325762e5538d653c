package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/dmik/perp_screener/internal/usecase"
)

// Server is the presentation boundary: it serves read-only snapshots and
// feed health over JSON, and streams published snapshots over a websocket.
type Server struct {
	router    *http.ServeMux
	server    *http.Server
	publisher *usecase.Publisher
	logger    *zap.Logger
}

func NewServer(port int, publisher *usecase.Publisher, logger *zap.Logger) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		publisher: publisher,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	s.router.HandleFunc("GET /api/health", s.handleHealth)
	s.router.HandleFunc("GET /ws", s.handleStream)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
