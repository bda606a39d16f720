// Secondary HTTP surface - NDJSON chat streaming and configuration
// endpoints for clients without a live duplex connection

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/mxchat/mxgate/pkg/config"
	"github.com/mxchat/mxgate/storage"
)

// httpChatRequest is the POST /chat body.
type httpChatRequest struct {
	Text     string `json:"text"`
	Mode     string `json:"mode"`
	ClientID string `json:"clientId"`
}

// httpConfigRequest is the POST /update_config body.
type httpConfigRequest struct {
	Datasets      *[]config.ModelProfile `json:"datasets"`
	SelectedModel *string                `json:"selected_model"`
}

// handleChat streams the relay response as application/x-ndjson: one
// JSON object per line, matching the delta objects the websocket relay
// emits, with a single {"error": ...} line on failure.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyChat)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Read error", http.StatusBadRequest)
		return
	}

	var req httpChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Parse error: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.Mode != "" && req.Mode != ModeChat {
		http.Error(w, "only chat mode is supported", http.StatusBadRequest)
		return
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = "default"
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	enc := json.NewEncoder(w)
	emit := func(d Delta) error {
		line := ChatData{
			Text:             d.Text,
			ReasoningContent: d.Reasoning,
			IsUser:           false,
			Sender:           g.cfg.Sender,
			Mode:             ModeChat,
			Format:           "markdown",
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	msg := &ChatMessage{Text: req.Text, Mode: ModeChat}
	if err := g.relay.Stream(r.Context(), clientID, msg, emit); err != nil {
		var re *RelayError
		if !errors.As(err, &re) {
			if errors.Is(err, context.Canceled) {
				return // client went away mid-stream
			}
			re = relayErr(ErrClassProtocol, err)
		}
		log.Printf("[Relay] http client=%s: %v", clientID, err)
		_ = enc.Encode(map[string]string{"error": re.Message()})
		flusher.Flush()
	}
}

// handleUpdateConfigHTTP replaces the profile configuration. The caller
// has no session to reply to, so the change is answered over HTTP and
// the config_updated frame is broadcast to every open session.
func (g *Gateway) handleUpdateConfigHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyChat)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Read error", http.StatusBadRequest)
		return
	}

	var req httpConfigRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Parse error: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Datasets == nil || req.SelectedModel == nil {
		http.Error(w, "datasets and selected_model are required", http.StatusBadRequest)
		return
	}

	snap, err := g.profiles.Update(*req.Datasets, *req.SelectedModel)
	if err != nil {
		var pe *config.PersistError
		status := http.StatusBadRequest
		if errors.As(err, &pe) {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}

	g.recordEvent("config_update", "http", "selected="+snap.SelectedModel)
	g.PublishToAll(configUpdatedFrame(snap))

	writeJSON(w, map[string]interface{}{
		"status":  "success",
		"message": "configuration updated",
		"config":  snap,
	})
}

// handleEvents returns recent event-log entries, optionally filtered by
// kind, newest first.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		writeJSON(w, map[string]interface{}{"status": "ok", "events": []struct{}{}})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := g.store.RecentEvents(r.URL.Query().Get("kind"), limit)
	if err != nil {
		http.Error(w, "error reading events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []storage.Event{}
	}
	writeJSON(w, map[string]interface{}{"status": "ok", "events": events})
}

// handleStats reports event-log counters plus live gateway gauges.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]int{
		"sessions": g.registry.Count(),
		"clients":  g.history.Clients(),
		"relays":   g.relay.Active(),
	}
	if g.store != nil {
		counts, err := g.store.Stats()
		if err != nil {
			http.Error(w, "error getting stats", http.StatusInternalServerError)
			return
		}
		for k, v := range counts {
			stats[k] = v
		}
	}

	writeJSON(w, map[string]interface{}{"status": "ok", "stats": stats})
}
