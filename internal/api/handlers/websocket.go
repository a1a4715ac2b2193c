package handlers

import (
	"visaconnect-relay/internal/websocket"

	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	relay *websocket.Relay
}

func NewWSHandler(relay *websocket.Relay) *WSHandler {
	return &WSHandler{relay: relay}
}

// HandleWebSocket godoc
// @Summary WebSocket connection
// @Description Opens the realtime relay socket. The client authenticates with an "authenticate" frame carrying its bearer token.
// @Tags websocket
// @Success 101 "Switching Protocols - WebSocket connection established"
// @Failure 403 "Origin not allowed"
// @Router /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	h.relay.ServeWS(c.Writer, c.Request)
}
