package handlers

import (
  "context"
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"
  "github.com/gorilla/websocket"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/requestdata"
  "github.com/teachsketch-org/teachsketch-backend/internal/socket"
)

var upgrader = websocket.Upgrader{
  CheckOrigin: func(r *http.Request) bool {
    return true
  },
}

func WsHandler(hub *socket.Hub, log *logger.Logger) gin.HandlerFunc {
  return func(c *gin.Context) {
    ctx := c.Request.Context()

    rd := requestdata.GetRequestData(ctx)
    if rd == nil || rd.UserID == uuid.Nil {
      c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
      return
    }
    conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
    if err != nil {
      log.Warn("Failed to upgrade to websocket", "error", err)
      return
    }
    client := socket.NewClient(conn, hub, log)

    // Every connection starts on its owner's channel; session channels are
    // joined via inbound subscribe actions as the UI opens conversations.
    hub.Subscribe(client, []string{socket.UserChannel(rd.UserID)})

    // The request context ends when this handler returns, which would kill
    // the pump loops while the socket is still open. The connection gets
    // its own lifetime, tied to the read loop.
    connCtx, cancel := context.WithCancel(context.Background())
    go func() {
      defer cancel()
      client.Run(connCtx)
    }()
  }
}
