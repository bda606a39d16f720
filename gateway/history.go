// Conversation history - bounded sliding window per client

package gateway

import (
	"container/list"
	"log"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Turn is one conversation entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History keeps a sliding window of turns per client id. Each window is
// capped at limit turns (oldest discarded first). Client entries
// themselves are bounded by an LRU policy: when more than capacity
// clients have windows, the least recently touched client is evicted
// wholesale.
type History struct {
	mu       sync.Mutex
	limit    int
	capacity int
	clients  map[string]*list.Element
	order    *list.List // front = most recently used
}

type clientWindow struct {
	id    string
	turns []Turn
}

func NewHistory(limit, capacity int) *History {
	if limit <= 0 {
		limit = 10
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &History{
		limit:    limit,
		capacity: capacity,
		clients:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Append adds a turn to the client's window, truncating to the last
// limit entries, and returns a copy of the resulting window.
func (h *History) Append(clientID, role, content string) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	w := h.touch(clientID)
	w.turns = append(w.turns, Turn{Role: role, Content: content})
	if len(w.turns) > h.limit {
		w.turns = w.turns[len(w.turns)-h.limit:]
	}
	return append([]Turn(nil), w.turns...)
}

// Window returns a copy of the client's current window without
// affecting recency.
func (h *History) Window(clientID string) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	el, ok := h.clients[clientID]
	if !ok {
		return nil
	}
	w := el.Value.(*clientWindow)
	return append([]Turn(nil), w.turns...)
}

// Clients returns the number of tracked client windows.
func (h *History) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// touch returns the client's window, creating it lazily, marking it most
// recently used, and evicting the LRU client beyond capacity.
func (h *History) touch(clientID string) *clientWindow {
	if el, ok := h.clients[clientID]; ok {
		h.order.MoveToFront(el)
		return el.Value.(*clientWindow)
	}

	w := &clientWindow{id: clientID}
	h.clients[clientID] = h.order.PushFront(w)

	for len(h.clients) > h.capacity {
		oldest := h.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*clientWindow)
		h.order.Remove(oldest)
		delete(h.clients, evicted.id)
		log.Printf("[History] Evicted idle client %s (%d turns)", evicted.id, len(evicted.turns))
	}
	return w
}

// Tokens estimates the token count of the client's window, used for
// status reporting and relay logging.
func (h *History) Tokens(clientID string) int {
	total := 0
	for _, t := range h.Window(clientID) {
		total += countTokens(t.Content)
	}
	return total
}

var (
	tokenizer     *tiktoken.Tiktoken
	tokenizerErr  error
	tokenizerOnce sync.Once
)

// countTokens estimates tokens with the cl100k_base BPE, falling back to
// a byte heuristic when the encoding fails to load.
func countTokens(text string) int {
	if text == "" {
		return 0
	}

	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = tiktoken.GetEncoding("cl100k_base")
		if tokenizerErr != nil {
			log.Printf("[WARN] Failed to load tiktoken tokenizer: %v", tokenizerErr)
		}
	})

	if tokenizer != nil {
		if n := len(tokenizer.Encode(text, nil, nil)); n > 0 {
			return n
		}
		return 1
	}

	// Rough estimate: ASCII ~4 chars/token, non-ASCII (CJK) ~1.5 token/char
	ascii, nonASCII := 0, 0
	for _, b := range []byte(text) {
		if b <= 0x7f {
			ascii++
		} else {
			nonASCII++
		}
	}
	n := ascii/4 + nonASCII*3/2
	if n == 0 {
		n = 1
	}
	return n
}
