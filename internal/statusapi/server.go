// Package statusapi exposes a thin, read-only HTTP/WebSocket surface over a
// running engine: health, run status, and a live feed of artifact events,
// plus a Prometheus /metrics endpoint. It is an external collaborator per
// the runtime's port boundary — it observes artifact events through the
// Notifier port and never calls back into the engine or mutates any state.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// RunStatus is the read-only snapshot the /status endpoint serves.
type RunStatus struct {
	RunID        string    `json:"run_id"`
	Mode         string    `json:"mode"`
	Strategy     string    `json:"strategy"`
	BarsSeen     int64     `json:"bars_seen"`
	LastBarTs    time.Time `json:"last_bar_ts"`
	KillSwitch   bool      `json:"kill_switch_active"`
	StartedAt    time.Time `json:"started_at"`
}

// Client is one connected WebSocket subscriber to the artifact event feed.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Server is the status API. Config fields it is built from are supplied at
// composition-root wiring time; it never constructs its own engine.
type Server struct {
	mu     sync.RWMutex
	logger *zap.Logger
	router *mux.Router
	http   *http.Server

	status   RunStatus
	clients  map[string]*Client
	upgrader websocket.Upgrader

	registry      *prometheus.Registry
	eventsTotal   prometheus.Counter
	killSwitchGau prometheus.Gauge
}

// Config governs how the status API binds and reports.
type Config struct {
	Addr string
}

// NewServer builds a Server bound to cfg.Addr with /healthz, /status,
// /events (WebSocket), and /metrics registered.
func NewServer(logger *zap.Logger, cfg Config) *Server {
	s := &Server{
		logger:  logger,
		router:  mux.NewRouter(),
		clients: make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_runtime_artifact_events_total",
			Help: "Total artifact events observed by the status API.",
		}),
		killSwitchGau: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trading_runtime_kill_switch_active",
			Help: "1 if the risk kill switch is currently active, else 0.",
		}),
	}
	s.registry.MustRegister(s.eventsTotal, s.killSwitchGau)

	s.setupRoutes()

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}).Handler(s.router)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.handleEvents)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Start runs the HTTP server; it blocks until Stop is called or the server
// errors.
func (s *Server) Start() error {
	s.logger.Info("starting status api", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down, closing any open WebSocket
// connections first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
	return s.http.Shutdown(ctx)
}

// SetStatus updates the snapshot served by /status; the composition root
// calls this once per bar or on significant transitions.
func (s *Server) SetStatus(status RunStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	if status.KillSwitch {
		s.killSwitchGau.Set(1)
	} else {
		s.killSwitchGau.Set(0)
	}
}

// Emit implements ports.Notifier: every artifact event is counted and
// fanned out to connected WebSocket clients as JSON.
func (s *Server) Emit(ctx context.Context, event core.ArtifactEvent) error {
	s.eventsTotal.Inc()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("statusapi: marshal event: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- payload:
		default:
			s.logger.Warn("dropping event for slow status api client", zap.String("client_id", c.id))
		}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("encode status failed", zap.Error(err))
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{id: uuid.NewString(), conn: conn, send: make(chan []byte, 256)}
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	go s.writePump(client)
	go s.readPump(client)
}

// readPump only drains and discards incoming frames to detect disconnects;
// this is a read-only feed, so no inbound message is ever acted on.
func (s *Server) readPump(client *Client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.id)
		s.mu.Unlock()
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
