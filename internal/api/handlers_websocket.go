package api

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// newUpgrader accepts connections whose Origin is in allowed; "*" allows any.
func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(allowed, "*") {
				return true
			}
			return slices.Contains(allowed, origin)
		},
	}
}

// handleEvents handles GET /api/v1/ws/events
func (s *Server) handleEvents(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return nil // the upgrader has already written the response
	}

	client := &Client{
		hub:  s.wsHub,
		conn: ws,
		send: make(chan []byte, 256),
	}

	if !s.wsHub.Register(client) {
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		return ws.Close()
	}

	go client.writePump()
	go client.readPump()

	return nil
}

// getWebSocketStats handles GET /api/v1/ws/stats
func (s *Server) getWebSocketStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connected_clients": s.wsHub.ClientCount(),
		"bus_subscribers":   s.cluster.Bus().Subscribers(),
		"status":            "operational",
	})
}
