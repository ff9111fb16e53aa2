package socket

import (
  "context"
  "testing"

  "github.com/google/uuid"
  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
)

func newTestHub(t *testing.T) *Hub {
  t.Helper()
  log, err := logger.New("development")
  require.NoError(t, err)
  return NewHub(log)
}

func newTestClient(t *testing.T, hub *Hub) *Client {
  t.Helper()
  return &Client{
    ID:       uuid.New(),
    Hub:      hub,
    Outbound: make(chan Message, OutboundChanBuffer),
  }
}

func drain(c *Client) []Message {
  var msgs []Message
  for {
    select {
    case m := <-c.Outbound:
      msgs = append(msgs, m)
    default:
      return msgs
    }
  }
}

func TestHub_BroadcastReachesOnlySubscribedChannel(t *testing.T) {
  hub := newTestHub(t)
  subscribed := newTestClient(t, hub)
  other := newTestClient(t, hub)

  hub.Subscribe(subscribed, []string{"user:abc"})
  hub.Subscribe(other, []string{"user:def"})

  hub.BroadcastGlobal(context.Background(), Message{Channel: "user:abc", Event: EventSessionUpdated})

  got := drain(subscribed)
  require.Len(t, got, 1)
  assert.Equal(t, EventSessionUpdated, got[0].Event)
  assert.Empty(t, drain(other))
}

func TestHub_UnsubscribeFromChannelStopsDelivery(t *testing.T) {
  hub := newTestHub(t)
  client := newTestClient(t, hub)

  hub.Subscribe(client, []string{"session:1", "session:2"})
  hub.UnsubscribeFromChannel(client, "session:1")

  hub.BroadcastGlobal(context.Background(), Message{Channel: "session:1", Event: EventMessageAppended})
  hub.BroadcastGlobal(context.Background(), Message{Channel: "session:2", Event: EventMessageAppended})

  got := drain(client)
  require.Len(t, got, 1)
  assert.Equal(t, "session:2", got[0].Channel)
}

func TestHub_UnsubscribeRemovesAllChannels(t *testing.T) {
  hub := newTestHub(t)
  client := newTestClient(t, hub)

  hub.Subscribe(client, []string{"user:abc", "session:1"})
  hub.Unsubscribe(client)

  hub.BroadcastGlobal(context.Background(), Message{Channel: "user:abc", Event: EventProfileUpdated})
  hub.BroadcastGlobal(context.Background(), Message{Channel: "session:1", Event: EventMessageAppended})

  assert.Empty(t, drain(client))
}

func TestHub_FullOutboundBufferDropsInsteadOfBlocking(t *testing.T) {
  hub := newTestHub(t)
  client := &Client{ID: uuid.New(), Hub: hub, Outbound: make(chan Message, 1)}

  hub.Subscribe(client, []string{"user:abc"})
  hub.BroadcastGlobal(context.Background(), Message{Channel: "user:abc", Event: "first"})
  hub.BroadcastGlobal(context.Background(), Message{Channel: "user:abc", Event: "second"})

  got := drain(client)
  require.Len(t, got, 1)
  assert.Equal(t, "first", got[0].Event)
}

func TestHubNotifier_MessageAppendedNamesBothStaleViews(t *testing.T) {
  hub := newTestHub(t)
  client := newTestClient(t, hub)
  ownerID := uuid.New()
  sessionID := uuid.New()

  hub.Subscribe(client, []string{UserChannel(ownerID)})
  NewHubNotifier(hub).MessageAppended(context.Background(), ownerID, sessionID)

  got := drain(client)
  require.Len(t, got, 1)
  payload, ok := got[0].Payload.(map[string]interface{})
  require.True(t, ok)
  stale, ok := payload["staleViews"].([]string)
  require.True(t, ok)
  assert.Contains(t, stale, "chatMessages:"+sessionID.String())
  assert.Contains(t, stale, "userSessions:"+ownerID.String())
}
