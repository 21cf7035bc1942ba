package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/collab-signaling/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// SignalingHandler upgrades HTTP connections into signaling sessions.
// Sessions start unauthenticated; identity and room binding happen over
// the wire protocol's auth message, not at upgrade time.
type SignalingHandler struct {
	Signal *signaling.Server
	Log    *zap.Logger
}

func (h *SignalingHandler) HandleSignaling(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	h.Signal.Register(conn)
}
