package display

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/pistelink/internal/box"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 1 << 10
	sendBuffer     = 32
)

// Message is one push to websocket viewers.
type Message struct {
	Type   string     `json:"type"`
	Group  Group      `json:"group,omitempty"`
	State  *box.State `json:"state,omitempty"`
	Sound  bool       `json:"sound,omitempty"`
	ForMS  int64      `json:"for_ms,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub fans display and sound pushes out to websocket viewers. The last full
// box push is replayed to each new viewer. A viewer that cannot keep up is
// disconnected; pushes never block the caller.
type Hub struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
	last []byte
}

func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{subs: make(map[*subscriber]struct{})}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) DisplayBox(s box.State) {
	st := s
	h.publish(Message{Type: "box", State: &st}, true)
}

func (h *Hub) Update(g Group, s box.State) {
	st := s
	h.publish(Message{Type: "update", Group: g, State: &st}, false)
}

func (h *Hub) SoundOn() {
	h.publish(Message{Type: "sound", Sound: true}, false)
}

func (h *Hub) SoundOnFor(d time.Duration) {
	h.publish(Message{Type: "sound", Sound: true, ForMS: d.Milliseconds()}, false)
}

func (h *Hub) SoundOff() {
	h.publish(Message{Type: "sound", Sound: false}, false)
}

func (h *Hub) publish(msg Message, keep bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("display.Hub marshal failed")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if keep {
		h.last = data
	}
	for sub := range h.subs {
		select {
		case sub.send <- data:
		default:
			log.Warn().Str("remote", sub.conn.RemoteAddr().String()).Msg("display.Hub viewer too slow, dropping")
			delete(h.subs, sub)
			sub.close()
		}
	}
}

// ServeHTTP upgrades the request and streams pushes until the viewer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("display.Hub upgrade failed")
		return
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	if h.last != nil {
		sub.send <- h.last
	}
	h.mu.Unlock()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("display.Hub viewer joined")

	go h.writePump(sub)
	h.readPump(sub)
}

// readPump discards client frames; it exists to process pongs and notice
// the close.
func (h *Hub) readPump(sub *subscriber) {
	defer h.remove(sub)
	sub.conn.SetReadLimit(maxMessageSize)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()
	for {
		select {
		case data, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		sub.close()
	}
	h.mu.Unlock()
	log.Debug().Str("remote", sub.conn.RemoteAddr().String()).Msg("display.Hub viewer left")
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.close()
	}
}
