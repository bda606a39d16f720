// Gateway module - HTTP server and session wiring
// Uses dependency injection for all shared state; no package globals

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mxchat/mxgate/pkg/config"
	"github.com/mxchat/mxgate/storage"
)

// Gateway owns the session registry, the conversation history table and
// the relay, and serves the duplex endpoint plus the secondary HTTP
// surface. One instance per process, constructed explicitly and passed
// where needed.
type Gateway struct {
	cfg      config.GatewayConfig
	profiles *config.Store
	registry *SessionRegistry
	history  *History
	relay    *Relay
	store    *storage.Storage
	server   *http.Server
}

// New creates a Gateway around the given profile store. store may be nil
// to disable the event log.
func New(cfg config.GatewayConfig, profiles *config.Store, store *storage.Storage) *Gateway {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = config.DefaultGatewayPort
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.UpstreamConnectTimeout == 0 {
		cfg.UpstreamConnectTimeout = 30 * time.Second
	}
	if cfg.UpstreamReadTimeout == 0 {
		cfg.UpstreamReadTimeout = 60 * time.Second
	}
	if cfg.MaxBodyChat == 0 {
		cfg.MaxBodyChat = 2 * 1024 * 1024
	}
	if cfg.Sender == "" {
		cfg.Sender = "MXChat"
	}

	g := &Gateway{
		cfg:      cfg,
		profiles: profiles,
		registry: NewSessionRegistry(cfg.SendTimeout),
		history:  NewHistory(cfg.HistoryLimit, cfg.HistoryClients),
		store:    store,
	}
	g.relay = NewRelay(profiles, g.history, g.registry, &g.cfg)
	if store != nil {
		g.relay.SetEventRecorder(store)
	}

	// Keep an audit trail of every configuration change, whichever
	// surface triggered it
	profiles.RegisterListener(g.onConfigChange)

	return g
}

func (g *Gateway) onConfigChange(p config.ModelProfile) {
	if p.IsZero() {
		log.Printf("[Config] Active profile cleared (selection does not resolve)")
		return
	}
	log.Printf("[Config] Active profile: model=%s url=%s", p.Model, p.URL)
}

// Config returns the gateway configuration.
func (g *Gateway) Config() config.GatewayConfig { return g.cfg }

// Registry exposes the session registry.
func (g *Gateway) Registry() *SessionRegistry { return g.registry }

// History exposes the conversation history table.
func (g *Gateway) History() *History { return g.history }

// PublishToAll delivers a frame to every connected session. This and
// PublishToSession are the only entry points the host application's
// execution nodes use to inject content into the outbound stream.
func (g *Gateway) PublishToAll(frame Frame) {
	g.registry.Broadcast(frame)
}

// PublishToSession delivers a frame to one session.
func (g *Gateway) PublishToSession(sessionID string, frame Frame) error {
	return g.registry.SendTo(sessionID, frame)
}

// Handler builds the route table. Split out from Start so tests can
// mount it on httptest servers.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/ws", g.HandleWebSocket)
	mux.HandleFunc("/chat", g.handleChat)
	mux.HandleFunc("/update_config", g.handleUpdateConfigHTTP)
	mux.HandleFunc("/stats", g.handleStats)
	mux.HandleFunc("/events", g.handleEvents)

	return g.addCORS(mux)
}

// Start binds the listener and serves until Stop. Failure to bind is the
// only fatal condition in the gateway.
func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)
	g.server = &http.Server{
		Addr:         addr,
		Handler:      g.Handler(),
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
		IdleTimeout:  g.cfg.IdleTimeout,
	}
	log.Printf("Gateway listening on %s", addr)
	return g.server.ListenAndServe()
}

func (g *Gateway) Stop() {
	if g.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := g.server.Shutdown(ctx); err != nil {
			log.Printf("Gateway graceful shutdown failed: %v", err)
			g.server.Close()
		}
	}
}

// addCORS wraps a handler with permissive CORS headers; the workflow
// host's frontend is served from a different origin.
func (g *Gateway) addCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with proper Content-Type header
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] Failed to encode JSON response: %v", err)
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
