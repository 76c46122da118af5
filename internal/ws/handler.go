package ws

import (
	"net/http"
	"strings"

	"resource_wars/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSHandler поднимает websocket и отдает соединение шлюзу
type WSHandler struct {
	Gateway  *Gateway
	upgrader websocket.Upgrader
}

// NewWSHandler - пустой список origins разрешает любой источник
func NewWSHandler(gw *Gateway, allowedOrigins []string) *WSHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return &WSHandler{
		Gateway: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

func (h *WSHandler) HandleWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("ws upgrade failed", "error", err, "origin", c.Request.Header.Get("Origin"))
			return
		}

		client := NewClient(conn, h.Gateway)
		logger.Debug("ws connected", "conn_id", client.ID, "remote", c.ClientIP())
		go client.Run()
	}
}
