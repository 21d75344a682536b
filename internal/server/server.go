// Package server wires the coordinator's HTTP surface: the WebSocket
// signaling endpoint, a CORS-wrapped REST room introspection/administration
// endpoint, the health check, and (on its own listener) Prometheus metrics
// exposition. None of these are part of spec.md's core — they are the
// supplemented ambient surface a deployable process needs around it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/config"
	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
	"github.com/adityaadpandey/sfu-coordinator/internal/room"
	"github.com/adityaadpandey/sfu-coordinator/internal/signaling"
	"github.com/adityaadpandey/sfu-coordinator/internal/workerpool"
)

type Server struct {
	cfg *config.Config
	log *zap.Logger

	pool       *workerpool.Pool
	registry   *room.Registry
	hub        *signaling.Hub
	dispatcher *signaling.Dispatcher

	upgrader      websocket.Upgrader
	httpServer    *http.Server
	metricsServer *http.Server
}

// New builds the WorkerPool, Room Registry, and Signaling Dispatcher and
// wires them behind an HTTP mux. It does not start listening; call Start.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	workers, err := buildWorkers(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("build worker pool: %w", err)
	}
	pool := workerpool.New(workers, log)

	codecs := make([]engine.Codec, 0, len(cfg.WebRTC.RouterMediaCodecs))
	for _, c := range cfg.WebRTC.RouterMediaCodecs {
		codecs = append(codecs, engine.Codec{
			Kind: engine.MediaKind(c.Kind), MimeType: c.MimeType, ClockRate: c.ClockRate, Channels: c.Channels,
		})
	}
	registry := room.NewRegistry(pool, codecs, cfg.Server.MaxRooms, cfg.Server.MaxPeersPerRoom, log)
	hub := signaling.NewHub(log)

	transportOpts := engine.TransportOptions{
		EnableUDP:                       true,
		EnableTCP:                       false,
		PreferUDP:                       true,
		InitialAvailableOutgoingBitrate: cfg.WebRTC.InitialAvailableOutgoingBitrate,
		ListenIP:                        cfg.WebRTC.ListenIP,
		AnnouncedIP:                     cfg.WebRTC.AnnouncedIP,
	}
	dispatcher := signaling.NewDispatcher(registry, hub, transportOpts, cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst, log)

	s := &Server{
		cfg:        cfg,
		log:        log.Named("server"),
		pool:       pool,
		registry:   registry,
		hub:        hub,
		dispatcher: dispatcher,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/rooms", s.corsMiddleware(s.handleRoomsAPI))
	mux.HandleFunc("/api/rooms/", s.corsMiddleware(s.handleRoomAPI))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		s.metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: metricsMux}
	}

	return s, nil
}

func buildWorkers(cfg *config.Config, log *zap.Logger) ([]engine.Worker, error) {
	n := cfg.WebRTC.NumWorkers
	if n < 1 {
		n = 1
	}
	span := (cfg.WebRTC.RTCMaxPort - cfg.WebRTC.RTCMinPort + 1) / uint16(n)
	workers := make([]engine.Worker, 0, n)
	for i := 0; i < n; i++ {
		minPort := cfg.WebRTC.RTCMinPort + uint16(i)*span
		maxPort := minPort + span - 1
		if i == n-1 {
			maxPort = cfg.WebRTC.RTCMaxPort
		}
		w, err := engine.NewPionWorker(engine.PionWorkerConfig{
			ListenIP:    cfg.WebRTC.ListenIP,
			AnnouncedIP: cfg.WebRTC.AnnouncedIP,
			MinPort:     minPort,
			MaxPort:     maxPort,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// Start launches the signaling and metrics listeners in the background.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("signaling server stopped", zap.Error(err))
		}
	}()
	if s.metricsServer != nil {
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}
}

// Watch blocks until the WorkerPool reports a fatal worker death (spec.md
// §4.1) or ctx is canceled.
func (s *Server) Watch(ctx context.Context) error {
	return s.pool.Watch(ctx)
}

// Stop drains connections and shuts down both listeners and the worker pool.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("signaling server shutdown", zap.Error(err))
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.log.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	return s.pool.Close()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := signaling.NewClient(conn, s.log)
	s.dispatcher.HandleConnection(c)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"rooms":       s.registry.Len(),
		"connections": s.hub.Count(),
	})
}

// corsMiddleware allows cross-origin operator tooling (dashboards, CLIs) to
// call the REST introspection endpoints without a proxy. Origin handling
// reuses cfg.Server.AllowedOrigins, the same list the WebSocket upgrade path
// checks.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin(r))
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (s *Server) originAllowed(r *http.Request) bool {
	for _, o := range s.cfg.Server.AllowedOrigins {
		if o == "*" || o == r.Header.Get("Origin") {
			return true
		}
	}
	return false
}

func (s *Server) corsOrigin(r *http.Request) string {
	for _, o := range s.cfg.Server.AllowedOrigins {
		if o == "*" {
			return "*"
		}
	}
	return r.Header.Get("Origin")
}

// handleRoomsAPI is the flat collection endpoint: GET lists every room id
// currently in the registry. Creating a room over REST is intentionally not
// supported — room creation is exclusively a side effect of join-room
// (spec.md §4.2, P2), so a REST "create room" would contradict it.
func (s *Server) handleRoomsAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"rooms": s.registry.IDs()})
}

// handleRoomAPI is the per-room resource endpoint: GET returns its peer and
// producer summary, DELETE force-closes every peer in the room and tears
// down its Router.
func (s *Server) handleRoomAPI(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	if roomID == "" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.getRoomInfo(w, roomID)
	case http.MethodDelete:
		s.deleteRoom(w, r, roomID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) getRoomInfo(w http.ResponseWriter, roomID string) {
	rm, ok := s.registry.Lookup(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	peers := rm.Peers()
	peerIDs := make([]string, 0, len(peers))
	for _, p := range peers {
		peerIDs = append(peerIDs, p.ID())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"id":        rm.ID(),
		"peerCount": len(peerIDs),
		"peerIds":   peerIDs,
		"producers": rm.ListProducers(""),
	})
}

// deleteRoom force-closes every peer in the room (which tears down its
// transports, producers, and consumers and removes it from the Room) and
// then deletes the now-empty Room from the registry.
func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	rm, ok := s.registry.Lookup(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	for _, p := range rm.Peers() {
		p.Close(r.Context())
	}
	s.registry.Delete(roomID)
	w.WriteHeader(http.StatusNoContent)
}
