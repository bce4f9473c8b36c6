package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chatforge/engine/services/bot/eventbus"
	"github.com/chatforge/engine/services/bot/facade"
	"github.com/chatforge/engine/services/engine/middleware"
)

// upgrader is shared across both WebSocket routes. CheckOrigin is
// permissive since the engine is deployed as a single-tenant host behind
// its own auth, not served cross-origin to untrusted browsers.
var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// sendJSON writes v to ws and logs (without failing the caller) if the
// write fails, treating a write error as "subscriber gone".
func sendJSON(ws *websocket.Conn, v interface{}) error {
	if err := ws.WriteJSON(v); err != nil {
		slog.Warn("handlers: websocket write failed", "err", err)
		return err
	}
	return nil
}

// StatusStream implements GET /ws/status: a push-only stream of every
// status transition for bots owned by the authenticated caller.
func StatusStream(bus *eventbus.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("handlers: status stream upgrade failed", "err", err)
			return
		}
		defer ws.Close()

		msgs, unsubscribe := bus.SubscribeStatus(userID)
		defer unsubscribe()

		go drainClientReads(ws)

		for msg := range msgs {
			if sendJSON(ws, msg) != nil {
				return
			}
		}
	}
}

// LogStream implements GET /ws/bots/:id/logs: a push-only stream of log
// lines for one bot, gated on the caller owning it.
func LogStream(fc *facade.Facade, bus *eventbus.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		botID := c.Param("id")

		if _, err := fc.IsRunning(c.Request.Context(), userID, botID); err != nil {
			writeError(c, err)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("handlers: log stream upgrade failed", "err", err)
			return
		}
		defer ws.Close()

		msgs, unsubscribe := bus.SubscribeLogs(botID)
		defer unsubscribe()

		go drainClientReads(ws)

		for msg := range msgs {
			if sendJSON(ws, msg) != nil {
				return
			}
		}
	}
}

// drainClientReads discards anything the client sends, so gorilla's
// internal ping/pong handling keeps running and a closed connection is
// detected promptly instead of only on the next write.
func drainClientReads(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
