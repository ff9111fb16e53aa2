package services

import (
  "context"
  "encoding/json"
  "sync"
  "testing"

  "github.com/glebarez/sqlite"
  "github.com/google/uuid"
  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"
  "gorm.io/gorm"

  "github.com/teachsketch-org/teachsketch-backend/internal/repos"
  "github.com/teachsketch-org/teachsketch-backend/internal/requestdata"
  "github.com/teachsketch-org/teachsketch-backend/internal/types"
)

type appendEvent struct {
  OwnerID   uuid.UUID
  SessionID uuid.UUID
}

type recordingNotifier struct {
  mu       sync.Mutex
  appended []appendEvent
}

func (n *recordingNotifier) MessageAppended(ctx context.Context, ownerID, sessionID uuid.UUID) {
  n.mu.Lock()
  defer n.mu.Unlock()
  n.appended = append(n.appended, appendEvent{OwnerID: ownerID, SessionID: sessionID})
}

func (n *recordingNotifier) SessionUpdated(ctx context.Context, ownerID, sessionID uuid.UUID) {}

func (n *recordingNotifier) ProfileUpdated(ctx context.Context, userID uuid.UUID) {}

func (n *recordingNotifier) events() []appendEvent {
  n.mu.Lock()
  defer n.mu.Unlock()
  return append([]appendEvent(nil), n.appended...)
}

// openTestDB gives each test its own in-memory database. The Postgres
// column defaults in the model tags do not translate to sqlite, so the
// schema is written out by hand.
func openTestDB(t *testing.T) *gorm.DB {
  t.Helper()
  db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
  require.NoError(t, err)
  sqlDB, err := db.DB()
  require.NoError(t, err)
  sqlDB.SetMaxOpenConns(1)

  for _, ddl := range []string{
    `CREATE TABLE chat_session (
      id text primary key,
      user_id text not null,
      category text not null,
      title text,
      created_at datetime,
      updated_at datetime,
      deleted_at datetime
    )`,
    `CREATE TABLE chat_message (
      id text primary key,
      session_id text not null,
      role text not null,
      kind text not null,
      contents text,
      asset_url text,
      generation_ref text,
      meta text,
      created_at datetime,
      updated_at datetime,
      deleted_at datetime
    )`,
  } {
    require.NoError(t, db.Exec(ddl).Error)
  }
  return db
}

func newDBChatService(t *testing.T, genai *fakeGenAI, notifier *recordingNotifier) (*chatService, *gorm.DB) {
  t.Helper()
  db := openTestDB(t)
  log := newTestLogger(t)
  return &chatService{
    db:              db,
    log:             log.With("service", "ChatService"),
    chatSessionRepo: repos.NewChatSessionRepo(db, log),
    chatMessageRepo: repos.NewChatMessageRepo(db, log),
    genaiService:    genai,
    fetcherService:  &fakeFetcher{imageData: []byte("png-bytes"), imageMime: "image/png"},
    bucketService:   &fakeBucket{},
    notifier:        notifier,
    sessionLock:     make(map[uuid.UUID]*sessionLockEntry),
  }, db
}

func seedSession(t *testing.T, cs *chatService, userID uuid.UUID) *types.ChatSession {
  t.Helper()
  session, err := cs.chatSessionRepo.CreateSession(context.Background(), nil, &types.ChatSession{
    ID:       uuid.New(),
    UserID:   userID,
    Category: types.SessionCategoryImage,
    Title:    "draw a dog",
  })
  require.NoError(t, err)
  return session
}

func TestAppendMessage_NotifiesOwnerAndSessionAfterCommit(t *testing.T) {
  notifier := &recordingNotifier{}
  cs, db := newDBChatService(t, &fakeGenAI{}, notifier)
  userID := uuid.New()
  session := seedSession(t, cs, userID)

  _, err := cs.appendMessage(context.Background(), session, &types.ChatMessage{
    Role:     types.MessageRoleUser,
    Kind:     types.MessageKindText,
    Contents: "hello",
  })
  require.NoError(t, err)

  events := notifier.events()
  require.Len(t, events, 1)
  assert.Equal(t, userID, events[0].OwnerID)
  assert.Equal(t, session.ID, events[0].SessionID)

  // A failed insert must not announce anything.
  require.NoError(t, db.Exec(`DROP TABLE chat_message`).Error)
  _, err = cs.appendMessage(context.Background(), session, &types.ChatMessage{
    Role:     types.MessageRoleUser,
    Kind:     types.MessageKindText,
    Contents: "lost",
  })
  require.Error(t, err)
  assert.Len(t, notifier.events(), 1)
}

func TestAppendMessage_SessionUpdatedAtNeverMovesBackwards(t *testing.T) {
  notifier := &recordingNotifier{}
  cs, _ := newDBChatService(t, &fakeGenAI{}, notifier)
  session := seedSession(t, cs, uuid.New())

  prev := session.UpdatedAt
  for i := 0; i < 5; i++ {
    _, err := cs.appendMessage(context.Background(), session, &types.ChatMessage{
      Role:     types.MessageRoleUser,
      Kind:     types.MessageKindText,
      Contents: "ping",
    })
    require.NoError(t, err)

    fresh, gErr := cs.chatSessionRepo.GetSessionByID(context.Background(), nil, session.ID)
    require.NoError(t, gErr)
    assert.False(t, fresh.UpdatedAt.Before(prev), "updated_at moved backwards on append %d", i)
    prev = fresh.UpdatedAt
  }
  assert.Len(t, notifier.events(), 5)
}

func TestSendUserMessage_PersistsTurnItemsWithMeta(t *testing.T) {
  notifier := &recordingNotifier{}
  genai := &fakeGenAI{
    classifyAnswer: true,
    imageResult:    ImageResult{URL: "https://oaidalleapiprodscus.blob.core.windows.net/img.png", MimeType: "image/png"},
    responseResult: ResponseResult{ID: "resp_db_1", Text: "Here is a dog."},
  }
  cs, _ := newDBChatService(t, genai, notifier)
  userID := uuid.New()
  session := seedSession(t, cs, userID)
  ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: userID})

  appended, err := cs.SendUserMessage(ctx, session.ID, "draw a dog")
  require.NoError(t, err)
  require.Len(t, appended, 3)

  stored, gErr := cs.chatMessageRepo.GetBySessionID(ctx, nil, session.ID)
  require.NoError(t, gErr)
  require.Len(t, stored, 3)

  var image *types.ChatMessage
  for _, msg := range stored {
    if msg.Kind == types.MessageKindImage {
      image = msg
    }
  }
  require.NotNil(t, image)
  assert.Equal(t, "resp_db_1", image.GenerationRef)

  var meta types.MessageMeta
  require.NoError(t, json.Unmarshal(image.Meta, &meta))
  assert.Equal(t, "image/png", meta.MimeType)
  assert.Equal(t, "generated.png", meta.AssetName)
  assert.False(t, meta.Inline)

  // One invalidation per appended row, all keyed to this owner and session.
  events := notifier.events()
  require.Len(t, events, 3)
  for _, ev := range events {
    assert.Equal(t, userID, ev.OwnerID)
    assert.Equal(t, session.ID, ev.SessionID)
  }
}

func TestAppendTurnItem_InlinePayloadFlaggedInMeta(t *testing.T) {
  notifier := &recordingNotifier{}
  cs, _ := newDBChatService(t, &fakeGenAI{}, notifier)
  session := seedSession(t, cs, uuid.New())

  msg, err := cs.appendTurnItem(context.Background(), session, types.TurnItem{
    Kind:     types.MessageKindImage,
    ImageURL: "data:image/png;base64,cG5nLWJ5dGVz",
    MimeType: "image/png",
  }, "resp_inline")
  require.NoError(t, err)

  var meta types.MessageMeta
  require.NoError(t, json.Unmarshal(msg.Meta, &meta))
  assert.True(t, meta.Inline)
  assert.Equal(t, "image/png", meta.MimeType)
}

func TestSessionLockMapShrinksWhenIdle(t *testing.T) {
  cs := newTestChatService(t, &fakeGenAI{}, &fakeFetcher{}, &fakeBucket{})
  sessionID := uuid.New()

  unlock := cs.lockSession(sessionID)
  cs.sessionMu.Lock()
  assert.Len(t, cs.sessionLock, 1)
  cs.sessionMu.Unlock()
  unlock()

  cs.sessionMu.Lock()
  assert.Empty(t, cs.sessionLock, "released sessions must not linger in the lock map")
  cs.sessionMu.Unlock()

  var wg sync.WaitGroup
  for i := 0; i < 8; i++ {
    wg.Add(1)
    go func() {
      defer wg.Done()
      done := cs.lockSession(sessionID)
      done()
    }()
  }
  wg.Wait()

  cs.sessionMu.Lock()
  assert.Empty(t, cs.sessionLock)
  cs.sessionMu.Unlock()
}
