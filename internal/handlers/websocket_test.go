package handlers

import (
  "context"
  "net/http/httptest"
  "strings"
  "testing"
  "time"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"
  "github.com/gorilla/websocket"
  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/requestdata"
  "github.com/teachsketch-org/teachsketch-backend/internal/socket"
)

func dialWs(t *testing.T, hub *socket.Hub, userID uuid.UUID) *websocket.Conn {
  t.Helper()
  gin.SetMode(gin.TestMode)
  log, err := logger.New("development")
  require.NoError(t, err)

  router := gin.New()
  router.GET("/ws", func(c *gin.Context) {
    ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{UserID: userID})
    c.Request = c.Request.WithContext(ctx)
    WsHandler(hub, log)(c)
  })

  srv := httptest.NewServer(router)
  t.Cleanup(srv.Close)

  wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
  conn, resp, dErr := websocket.DefaultDialer.Dial(wsURL, nil)
  require.NoError(t, dErr)
  if resp != nil {
    resp.Body.Close()
  }
  t.Cleanup(func() { conn.Close() })
  return conn
}

func TestWsHandler_ConnectionOutlivesUpgradeHandler(t *testing.T) {
  log, err := logger.New("development")
  require.NoError(t, err)
  hub := socket.NewHub(log)
  userID := uuid.New()

  conn := dialWs(t, hub, userID)

  // The upgrade handler returned as soon as the pumps started. A broadcast
  // after that point must still reach the socket.
  time.Sleep(50 * time.Millisecond)
  hub.BroadcastGlobal(context.Background(), socket.Message{
    Channel: socket.UserChannel(userID),
    Event:   socket.EventMessageAppended,
  })

  require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
  var msg socket.Message
  require.NoError(t, conn.ReadJSON(&msg))
  assert.Equal(t, socket.EventMessageAppended, msg.Event)
  assert.Equal(t, socket.UserChannel(userID), msg.Channel)
}
