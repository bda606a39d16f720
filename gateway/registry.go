// Session registry - live duplex connections keyed by session id

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrSessionNotFound is returned by SendTo for an unknown session id.
var ErrSessionNotFound = fmt.Errorf("session not found")

// Transport is one session's outbound channel. Writes must be safe for
// concurrent use; Close must be idempotent enough to call on replace.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	Close() error
}

// SessionRegistry tracks one transport per live session. Register,
// Unregister and the send operations may be called from any goroutine.
type SessionRegistry struct {
	mu          sync.RWMutex
	sessions    map[string]Transport
	sendTimeout time.Duration
}

func NewSessionRegistry(sendTimeout time.Duration) *SessionRegistry {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &SessionRegistry{
		sessions:    make(map[string]Transport),
		sendTimeout: sendTimeout,
	}
}

// Register adds a session, replacing any existing entry for the same
// id. A reused id never merges with the prior connection. The replaced
// transport is closed off this goroutine: its close handshake can block
// on a stale peer, and the new session's handshake frames must not wait
// on it.
func (r *SessionRegistry) Register(id string, t Transport) {
	r.mu.Lock()
	prev := r.sessions[id]
	r.sessions[id] = t
	r.mu.Unlock()

	if prev != nil {
		log.Printf("[WS] Session %s replaced, closing previous transport", id)
		go prev.Close()
	}
}

// Unregister removes the session only while id still maps to t. Cleanup
// of a replaced connection is a no-op here, so it can never tear down
// the replacement entry. No-op when absent, so multiple close paths can
// all call it safely.
func (r *SessionRegistry) Unregister(id string, t Transport) {
	r.mu.Lock()
	cur, ok := r.sessions[id]
	if ok && cur == t {
		delete(r.sessions, id)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		_ = t.Close()
	}
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SendTo delivers one frame to a single session. It returns
// ErrSessionNotFound for an unknown id; a transport-level write failure
// removes that session but is not raised past the registry boundary.
func (r *SessionRegistry) SendTo(id string, frame Frame) error {
	r.mu.RLock()
	t, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	r.send(id, t, frame)
	return nil
}

// Broadcast delivers one frame to every registered session,
// best-effort. A failure on one session never aborts delivery to the
// others.
func (r *SessionRegistry) Broadcast(frame Frame) {
	r.mu.RLock()
	targets := make(map[string]Transport, len(r.sessions))
	for id, t := range r.sessions {
		targets[id] = t
	}
	r.mu.RUnlock()

	for id, t := range targets {
		r.send(id, t, frame)
	}
}

func (r *SessionRegistry) send(id string, t Transport, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[WS] Marshal frame for %s failed: %v", id, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
	defer cancel()
	if err := t.Write(ctx, data); err != nil {
		log.Printf("[WS] Write to %s failed, removing session: %v", id, err)
		r.Unregister(id, t)
	}
}
