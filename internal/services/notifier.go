package services

import (
  "context"

  "github.com/google/uuid"
)

// Notifier pushes cache invalidation events to connected clients after a
// write commits. Implementations must not block the calling goroutine.
type Notifier interface {
  MessageAppended(ctx context.Context, ownerID, sessionID uuid.UUID)
  SessionUpdated(ctx context.Context, ownerID, sessionID uuid.UUID)
  ProfileUpdated(ctx context.Context, userID uuid.UUID)
}

// NopNotifier is used when the hub is disabled.
type NopNotifier struct{}

func (NopNotifier) MessageAppended(ctx context.Context, ownerID, sessionID uuid.UUID) {}
func (NopNotifier) SessionUpdated(ctx context.Context, ownerID, sessionID uuid.UUID)  {}
func (NopNotifier) ProfileUpdated(ctx context.Context, userID uuid.UUID)              {}
