// WebSocket handler - one duplex connection per client

package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// wsTransport adapts a coder/websocket connection to the registry's
// Transport. The write mutex is required: the connection is not safe for
// concurrent writes.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

// HandleWebSocket upgrades the request and runs the session until the
// transport closes.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		log.Printf("[WS] Accept error: %v", err)
		return
	}
	conn.SetReadLimit(4 * 1024 * 1024)

	sid := r.URL.Query().Get("clientId")
	if sid == "" {
		sid = uuid.NewString()
	}

	g.handleSession(r.Context(), sid, conn)
}

// handleSession registers the session, sends the initial status and
// configuration frames, then dispatches inbound frames until the
// connection closes. The session is unregistered exactly once on exit,
// whichever code path gets there first.
func (g *Gateway) handleSession(ctx context.Context, sid string, conn *websocket.Conn) {
	t := &wsTransport{conn: conn}
	g.registry.Register(sid, t)
	defer g.registry.Unregister(sid, t)

	log.Printf("[WS] Session %s connected (%d live)", sid, g.registry.Count())

	if err := g.registry.SendTo(sid, statusFrame(sid, g.relay.Active())); err != nil {
		return
	}
	if err := g.registry.SendTo(sid, configUpdatedFrame(g.profiles.Snapshot())); err != nil {
		return
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				log.Printf("[WS] Session %s closed", sid)
			} else {
				log.Printf("[WS] Session %s read error: %v", sid, err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		g.dispatch(sid, data)
	}
}

// dispatch routes one inbound frame to its handler. Malformed frames are
// logged and skipped; a handler panic is recovered and reported to the
// session as a best-effort error frame. Neither terminates the
// connection.
func (g *Gateway) dispatch(sid string, data []byte) {
	in, err := ParseInbound(data)
	if err != nil {
		log.Printf("[WS] %s: %v", sid, err)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[WS] Handler panic for %s: %v", sid, rec)
			_ = g.registry.SendTo(sid, Frame{Type: FrameChatMessage, Data: ChatData{
				Error:  "internal error handling message",
				Sender: g.cfg.Sender,
			}})
		}
	}()

	switch m := in.(type) {
	case *ChatMessage:
		// Asynchronous: a slow upstream must not stall this session's
		// dispatch loop
		go g.relay.Relay(sid, sid, m)

	case *UpdateConfig:
		g.handleUpdateConfig(sid, m)

	case *SelectConfig:
		g.handleSelectConfig(sid, m)

	case *InitialConfigRequest:
		_ = g.registry.SendTo(sid, configUpdatedFrame(g.profiles.Snapshot()))

	case *ModeChange:
		log.Printf("[WS] %s mode changed to %q", sid, m.Mode)
		_ = g.registry.SendTo(sid, Frame{Type: FrameModeChanged, Data: ModeChangedData{Mode: m.Mode}})

	case *ClientLog:
		log.Printf("[WS] Client log from %s: %s", sid, m.Message)
		g.recordEvent("client_log", sid, m.Message)
	}
}

func (g *Gateway) handleUpdateConfig(sid string, m *UpdateConfig) {
	snap, err := g.profiles.Update(m.Datasets, m.SelectedModel)
	if err != nil {
		log.Printf("[Config] Update from %s failed: %v", sid, err)
		_ = g.registry.SendTo(sid, configErrorFrame(err.Error()))
		return
	}
	g.recordEvent("config_update", sid, "selected="+snap.SelectedModel)
	_ = g.registry.SendTo(sid, configUpdatedFrame(snap))
}

func (g *Gateway) handleSelectConfig(sid string, m *SelectConfig) {
	snap, err := g.profiles.SelectActive(m.SelectedModel)
	if err != nil {
		log.Printf("[Config] Select %q from %s failed: %v", m.SelectedModel, sid, err)
		_ = g.registry.SendTo(sid, configErrorFrame("invalid model selection"))
		return
	}
	g.recordEvent("config_select", sid, "selected="+snap.SelectedModel)
	_ = g.registry.SendTo(sid, Frame{Type: FrameConfigUpdated, Data: ConfigUpdatedData{
		Success:       true,
		Config:        &snap,
		SelectedModel: snap.SelectedModel,
	}})
}

func (g *Gateway) recordEvent(kind, session, detail string) {
	if g.store == nil {
		return
	}
	if err := g.store.RecordEvent(kind, session, detail); err != nil {
		log.Printf("[WARN] Record event %s failed: %v", kind, err)
	}
}
