// Package openclaw implements the ClawGuard adapter for the OpenClaw agent
// runtime. The runtime's security plugin forwards each hook event over HTTP
// or a persistent WebSocket and applies the verdict it gets back.
package openclaw

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawguard/clawguard/internal/adapter"
	"github.com/clawguard/clawguard/internal/hooks"
)

// StatusFunc reports pipeline state for GET /v1/status.
type StatusFunc func() any

// newWSUpgrader creates a WebSocket upgrader. When allowAllOrigins is false,
// only same-origin requests are accepted.
func newWSUpgrader(allowAllOrigins bool) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowAllOrigins {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients don't send Origin
			}
			return strings.Contains(origin, r.Host)
		},
	}
}

// hookRequest is the body of POST /v1/hooks/{event}.
type hookRequest struct {
	Payload map[string]any `json:"payload"`
	Context map[string]any `json:"context"`
}

// wsFrame is one request on the WebSocket stream.
type wsFrame struct {
	ID      json.RawMessage `json:"id"`
	Event   string          `json:"event"`
	Payload map[string]any  `json:"payload"`
	Context map[string]any  `json:"context"`
}

// wsReply answers a wsFrame with the same id.
type wsReply struct {
	ID     json.RawMessage `json:"id"`
	Result *hooks.Result   `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Gateway serves OpenClaw hook events over HTTP and WebSocket and runs each
// one through the dispatcher.
type Gateway struct {
	mu         sync.RWMutex
	config     Config
	dispatcher adapter.Dispatcher
	status     StatusFunc
	conns      map[*websocket.Conn]struct{}
	wsUpgrader websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewGateway creates a new OpenClaw gateway adapter. status may be nil.
func NewGateway(cfg Config, d adapter.Dispatcher, status StatusFunc, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	g := &Gateway{
		config:     cfg,
		dispatcher: d,
		status:     status,
		conns:      make(map[*websocket.Conn]struct{}),
		wsUpgrader: newWSUpgrader(cfg.AllowAllOrigins),
		mux:        http.NewServeMux(),
		logger:     logger.With("component", "adapter.openclaw"),
	}
	g.registerRoutes()
	return g
}

func (g *Gateway) registerRoutes() {
	g.mux.HandleFunc("POST /v1/hooks/{event}", g.authRequired(g.handleHook))
	g.mux.HandleFunc("GET /v1/ws", g.authRequired(g.HandleWebSocket))
	g.mux.HandleFunc("GET /v1/status", g.authRequired(g.handleStatus))

	// Health is always public.
	g.mux.HandleFunc("GET /healthz", g.handleHealth)
}

// authRequired wraps a handler with bearer-token authentication. Without a
// configured token the handler is returned unwrapped.
func (g *Gateway) authRequired(next http.HandlerFunc) http.HandlerFunc {
	if g.config.AuthToken == "" {
		return next
	}
	want := []byte(g.config.AuthToken)

	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}
		got := []byte(strings.TrimPrefix(header, "Bearer "))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

// Name implements adapter.Adapter.
func (g *Gateway) Name() string { return "openclaw" }

// Handler returns the HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// Start implements adapter.Adapter. It blocks until the server stops.
func (g *Gateway) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:        g.config.Addr,
		Handler:     g.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	g.mu.Lock()
	g.httpServer = srv
	g.mu.Unlock()

	g.logger.Info("OpenClaw hook endpoint listening", "addr", g.config.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop implements adapter.Adapter. Open WebSocket streams are closed with a
// going-away frame before the HTTP server drains.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	for conn := range g.conns {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
		delete(g.conns, conn)
	}
	srv := g.httpServer
	g.mu.Unlock()

	if srv == nil {
		return nil
	}
	g.logger.Info("OpenClaw hook endpoint stopped")
	return srv.Shutdown(ctx)
}

// ConnectedClients implements adapter.Adapter.
func (g *Gateway) ConnectedClients() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) handleHook(w http.ResponseWriter, r *http.Request) {
	name := hooks.EventName(r.PathValue("event"))
	if !name.Known() {
		writeError(w, http.StatusNotFound, "unknown event: "+string(name))
		return
	}

	var req hookRequest
	body := http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := g.dispatch(name, req.Payload, req.Context)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, res)
}

func (g *Gateway) dispatch(name hooks.EventName, payload, hc map[string]any) (hooks.Result, error) {
	ev, err := TranslateEvent(name, payload)
	if err != nil {
		return hooks.Result{}, err
	}
	res := g.dispatcher.Dispatch(ev, TranslateContext(hc))
	if res.Block || res.Cancel {
		g.logger.Debug("event refused", "event", name, "decided_by", res.DecidedBy)
	}
	return res, nil
}

// HandleWebSocket upgrades a host connection and answers each frame in
// order on the same connection.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(g.config.MaxBodyBytes)

	g.mu.Lock()
	g.conns[conn] = struct{}{}
	g.mu.Unlock()

	g.logger.Debug("host connected", "remote", conn.RemoteAddr())
	go g.serveConn(conn)
}

func (g *Gateway) serveConn(conn *websocket.Conn) {
	defer func() {
		g.mu.Lock()
		delete(g.conns, conn)
		g.mu.Unlock()
		_ = conn.Close()
		g.logger.Debug("host disconnected", "remote", conn.RemoteAddr())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("host connection closed", "error", err)
			}
			return
		}

		var frame wsFrame
		reply := wsReply{}
		if err := json.Unmarshal(data, &frame); err != nil {
			reply.Error = "invalid JSON frame"
		} else {
			reply.ID = frame.ID
			res, err := g.dispatch(hooks.EventName(frame.Event), frame.Payload, frame.Context)
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply.Result = &res
			}
		}

		if err := conn.WriteJSON(reply); err != nil {
			g.logger.Debug("failed to write websocket reply", "error", err)
			return
		}
	}
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"adapter":           g.Name(),
		"connected_clients": g.ConnectedClients(),
	}
	if g.status != nil {
		resp["pipeline"] = g.status()
	}
	writeJSON(w, resp)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

var _ adapter.Adapter = (*Gateway)(nil)
