package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"recruitflow/internal/domain"
)

// Hub fans notifications out to connected websocket subscribers, keyed
// by user id. Delivery is best-effort: a slow or dead connection is
// dropped, never waited on.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Subscribe upgrades the request and registers the connection under
// userID until the peer goes away.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	h.add(userID, conn)
	log.Debug().Str("user_id", userID).Msg("notification subscriber connected")

	go func() {
		defer func() {
			h.remove(userID, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

// Publish pushes a notification to every live subscriber of its user.
// Failures only drop the failing connection; the caller never sees them.
func (h *Hub) Publish(n domain.Notification) {
	h.mu.RLock()
	subs := make([]*websocket.Conn, 0, len(h.conns[n.UserID]))
	for c := range h.conns[n.UserID] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	for _, c := range subs {
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteJSON(n); err != nil {
			log.Debug().Err(err).Str("user_id", n.UserID).Msg("dropping notification subscriber")
			h.remove(n.UserID, c)
			_ = c.Close()
		}
	}
}

// Subscribers reports how many connections a user currently has.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

func (h *Hub) add(userID string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][c] = struct{}{}
}

func (h *Hub) remove(userID string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], c)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}
