// Package guibridge is the named, read-only interface spec.md §1 and §6
// describe as "any GUI/detail-viewer (a mere consumer of the event bus)".
// It exposes a small chi-routed HTTP server: GET /healthz, GET /v1/projects
// (a snapshot from the server container), GET /metrics (Prometheus), and
// GET /v1/events upgraded to a websocket one-way fan-out of every bus
// event — directly generalizing the teacher's internal/handler/ws
// "deliver events to a subscriber" pattern from chat delivery to bus
// observation. No Lance state mutates through this package.
package guibridge

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pedohorse/lance/internal/eventbus"
	"github.com/pedohorse/lance/internal/lanceserver"
	"github.com/pedohorse/lance/internal/metrics"
)

// Server is the GUI/detail-viewer bridge's HTTP server.
type Server struct {
	addr     string
	logger   *slog.Logger
	lance    *lanceserver.Server
	tap      *eventbus.ExternalTap
	upgrader websocket.Upgrader
	http     *http.Server
}

// New wires the chi router around an already-running Server container and
// event-bus tap.
func New(addr string, lance *lanceserver.Server, tap *eventbus.ExternalTap, logger *slog.Logger) *Server {
	s := &Server{
		addr:   addr,
		logger: logger,
		lance:  lance,
		tap:    tap,
		upgrader: websocket.Upgrader{
			// read-only event fan-out; no cross-origin state mutation is
			// reachable through this bridge.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/v1/projects", s.handleProjects)
	r.Get("/v1/events", s.handleEvents)
	r.Handle("/metrics", metrics.Handler())
	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	names := s.lance.Projects()
	w.Header().Set("Content-Type", "application/json")
	_ = writeJSONArray(w, names)
}

// handleEvents upgrades to a websocket and pumps every externally-tapped
// bus event to the client until it disconnects, the same pump-loop shape
// as the teacher's ws.WSHandler.ServeHTTP.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("guibridge: ws upgrade failed", "err", err)
		return
	}
	defer ws.Close()

	msgs, err := s.tap.Subscribe(r.Context())
	if err != nil {
		s.logger.Error("guibridge: tap subscribe failed", "err", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				s.logger.Warn("guibridge: ws send failed", "err", err)
				msg.Ack()
				return
			}
			msg.Ack()
		}
	}
}

// Start begins serving HTTP in the background; callers stop via Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("guibridge: http server stopped", "err", err)
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
