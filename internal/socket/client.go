package socket

import (
  "context"
  "encoding/json"
  "net"
  "time"

  "github.com/google/uuid"
  "github.com/gorilla/websocket"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
)

type InboundMessage struct {
  Action  string `json:"action,omitempty"`  // "subscribe" | "unsubscribe"
  Channel string `json:"channel,omitempty"`
}

const (
  OutboundChanBuffer = 256

  writeWait  = 10 * time.Second
  pongWait   = 60 * time.Second
  pingPeriod = (pongWait * 9) / 10
)

type Client struct {
  ID       uuid.UUID
  Conn     *websocket.Conn
  Hub      *Hub
  Log      *logger.Logger
  Outbound chan Message
}

func NewClient(conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
  return &Client{
    ID:       uuid.New(),
    Conn:     conn,
    Hub:      hub,
    Log:      log.With("component", "SocketClient"),
    Outbound: make(chan Message, OutboundChanBuffer),
  }
}

// Run drives both pump loops until the connection dies or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
  go c.writeLoop(ctx)
  c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) {
  defer c.close()

  c.Conn.SetReadLimit(1 << 20) // 1 MiB
  _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
  c.Conn.SetPongHandler(func(string) error {
    _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
    return nil
  })

  for {
    select {
    case <-ctx.Done():
      return

    default:
      _, data, err := c.Conn.ReadMessage()
      if err != nil {
        if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
          c.Log.Debug("websocket read error, closing client", "error", err)
          return
        }
        continue
      }

      var inbound InboundMessage
      if err := json.Unmarshal(data, &inbound); err != nil {
        c.Log.Debug("failed to unmarshal inbound message", "error", err, "raw", string(data))
        continue
      }

      switch inbound.Action {
      case "subscribe":
        if inbound.Channel != "" {
          c.Hub.Subscribe(c, []string{inbound.Channel})
          c.Log.Debug("client subscribed", "client", c.ID, "channel", inbound.Channel)
        }
      case "unsubscribe":
        if inbound.Channel != "" {
          c.Hub.UnsubscribeFromChannel(c, inbound.Channel)
          c.Log.Debug("client unsubscribed", "client", c.ID, "channel", inbound.Channel)
        }
      default:
        c.Log.Debug("unknown inbound action", "action", inbound.Action)
      }
    }
  }
}

func (c *Client) writeLoop(ctx context.Context) {
  ticker := time.NewTicker(pingPeriod)
  defer func() {
    ticker.Stop()
    c.close()
  }()

  for {
    select {
    case <-ctx.Done():
      return

    case msg, ok := <-c.Outbound:
      _ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
      if !ok {
        _ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
        return
      }
      if err := c.Conn.WriteJSON(msg); err != nil {
        c.Log.Debug("websocket write error, closing client", "error", err)
        return
      }

    case <-ticker.C:
      _ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
      if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
        return
      }
    }
  }
}

func (c *Client) close() {
  c.Hub.Unsubscribe(c)
  _ = c.Conn.Close()
}
