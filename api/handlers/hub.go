package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/linesmerrill/bloodbond-api/api"
	"github.com/linesmerrill/bloodbond-api/models"
)

// Permission states a client reports for its local notification API
const (
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
	PermissionDefault = "default"
)

const writeWait = 10 * time.Second

// clientFrame is what a connected client sends, e.g. {"event":"permission","state":"granted"}
type clientFrame struct {
	Event string `json:"event"`
	State string `json:"state"`
}

type hubClient struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	permission string
}

func (c *hubClient) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Hub tracks each user's open notification sockets and shows notifications on the ones
// whose local permission is granted. A user may have several tabs or devices connected.
type Hub struct {
	upgrader websocket.Upgrader
	mutex    sync.Mutex
	clients  map[string]map[*hubClient]struct{}
}

// NewHub returns an empty hub
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]map[*hubClient]struct{}),
	}
}

// HandleNotificationsWebSocket upgrades an authenticated request. The client may pass its
// initial permission state as ?permission=granted.
func (h *Hub) HandleNotificationsWebSocket(w http.ResponseWriter, r *http.Request) {
	caller, ok := api.CallerFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnw("websocket upgrade error", "error", err)
		return
	}

	c := &hubClient{conn: conn, permission: normalizePermission(r.URL.Query().Get("permission"))}
	h.add(caller.UserID, c)
	zap.S().Debugw("user connected to /ws/notifications", "userId", caller.UserID, "permission", c.permission)

	defer func() {
		h.remove(caller.UserID, c)
		conn.Close()
		zap.S().Debugw("user disconnected from /ws/notifications", "userId", caller.UserID)
	}()

	for {
		var f clientFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event == "permission" {
			h.mutex.Lock()
			c.permission = normalizePermission(f.State)
			h.mutex.Unlock()
		}
	}
}

func normalizePermission(s string) string {
	switch s {
	case PermissionGranted, PermissionDenied:
		return s
	default:
		return PermissionDefault
	}
}

func (h *Hub) add(userID string, c *hubClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*hubClient]struct{})
	}
	h.clients[userID][c] = struct{}{}
}

func (h *Hub) remove(userID string, c *hubClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.clients[userID], c)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// granted returns the user's clients that may show a notification
func (h *Hub) granted(userID string) []*hubClient {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	var out []*hubClient
	for c := range h.clients[userID] {
		if c.permission == PermissionGranted {
			out = append(out, c)
		}
	}
	return out
}

// PermissionGranted reports whether any of the user's connected clients granted notifications
func (h *Hub) PermissionGranted(userID string) bool {
	return len(h.granted(userID)) > 0
}

// Notify shows n on every granted client of n.UserID. It fails only if no client took it.
func (h *Hub) Notify(ctx context.Context, n models.Notification) error {
	clients := h.granted(n.UserID)
	if len(clients) == 0 {
		return fmt.Errorf("%w: no connected client for user %s", models.ErrUnavailable, n.UserID)
	}

	delivered := 0
	for _, c := range clients {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.write(map[string]interface{}{
			"event": "new_notification",
			"data":  n,
		})
		if err != nil {
			zap.S().Warnw("error sending notification to user", "userId", n.UserID, "error", err)
			h.remove(n.UserID, c)
			c.conn.Close()
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("%w: notification not delivered to user %s", models.ErrUnavailable, n.UserID)
	}
	return nil
}

// Connected returns the number of open sockets for userID
func (h *Hub) Connected(userID string) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients[userID])
}
