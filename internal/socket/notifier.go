package socket

import (
  "context"

  "github.com/google/uuid"
)

// Event names the UI keys cache invalidation on.
const (
  EventMessageAppended = "message_appended"
  EventSessionUpdated  = "session_updated"
  EventProfileUpdated  = "profile_updated"
)

func UserChannel(userID uuid.UUID) string {
  return "user:" + userID.String()
}

func SessionChannel(sessionID uuid.UUID) string {
  return "session:" + sessionID.String()
}

// HubNotifier satisfies services.Notifier by pushing invalidation events
// through the hub. Readers must treat both named views as stale on receipt.
type HubNotifier struct {
  hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
  return &HubNotifier{hub: hub}
}

func (n *HubNotifier) MessageAppended(ctx context.Context, ownerID, sessionID uuid.UUID) {
  payload := map[string]interface{}{
    "userID":    ownerID.String(),
    "sessionID": sessionID.String(),
    "staleViews": []string{
      "chatMessages:" + sessionID.String(),
      "userSessions:" + ownerID.String(),
    },
  }
  n.hub.BroadcastGlobal(ctx, Message{Channel: SessionChannel(sessionID), Event: EventMessageAppended, Payload: payload})
  n.hub.BroadcastGlobal(ctx, Message{Channel: UserChannel(ownerID), Event: EventMessageAppended, Payload: payload})
}

func (n *HubNotifier) SessionUpdated(ctx context.Context, ownerID, sessionID uuid.UUID) {
  payload := map[string]interface{}{
    "userID":    ownerID.String(),
    "sessionID": sessionID.String(),
    "staleViews": []string{
      "userSessions:" + ownerID.String(),
    },
  }
  n.hub.BroadcastGlobal(ctx, Message{Channel: UserChannel(ownerID), Event: EventSessionUpdated, Payload: payload})
}

func (n *HubNotifier) ProfileUpdated(ctx context.Context, userID uuid.UUID) {
  payload := map[string]interface{}{
    "userID": userID.String(),
    "staleViews": []string{
      "userProfile:" + userID.String(),
    },
  }
  n.hub.BroadcastGlobal(ctx, Message{Channel: UserChannel(userID), Event: EventProfileUpdated, Payload: payload})
}
