package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"snakeserver/internal/handle/message"
	"snakeserver/internal/session"
	"snakeserver/internal/stats"
	"snakeserver/internal/types"
)

const shutdownTimeout = 5 * time.Second

// Server accepts WebSocket connections and feeds their frames to the
// protocol handler.
type Server struct {
	r        *chi.Mux
	registry *session.Registry
	handler  *message.Handler
	stats    *stats.Counters
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*types.Client]struct{}
	wg      sync.WaitGroup
}

func NewServer(registry *session.Registry, handler *message.Handler, counters *stats.Counters) *Server {
	s := &Server{
		r:        chi.NewRouter(),
		registry: registry,
		handler:  handler,
		stats:    counters,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*types.Client]struct{}),
	}

	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(chimw.Recoverer)

	s.r.Get("/ws", s.ServeWS)
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	s.r.Method(http.MethodGet, "/stats", counters)

	return s
}

// Router exposes the router for tests.
func (s *Server) Router() chi.Router { return s.r }

// Run serves on addr until ctx is done, then stops accepting, closes every
// open connection and waits for their teardown.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("websocket server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.CloseAll()
	s.wg.Wait()
	log.Info().Msg("websocket server stopped")
	return err
}

// CloseAll closes every open connection with a going-away frame.
func (s *Server) CloseAll() {
	s.mu.Lock()
	clients := make([]*types.Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) addClient(c *types.Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *types.Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}
