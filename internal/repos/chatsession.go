package repos

import (
  "context"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/types"
)

type ChatSessionRepo interface {
  CreateSession(ctx context.Context, tx *gorm.DB, session *types.ChatSession) (*types.ChatSession, error)
  GetSessionByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatSession, error)
  GetUserSessions(ctx context.Context, tx *gorm.DB, userID uuid.UUID, category string) ([]*types.ChatSession, error)
  UpdateTitle(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string) error
  TouchUpdatedAt(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
}

type chatSessionRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewChatSessionRepo(db *gorm.DB, baseLog *logger.Logger) ChatSessionRepo {
  return &chatSessionRepo{
    db:  db,
    log: baseLog.With("repo", "ChatSessionRepo"),
  }
}

func (csr *chatSessionRepo) CreateSession(ctx context.Context, tx *gorm.DB, session *types.ChatSession) (*types.ChatSession, error) {
  if tx == nil {
    tx = csr.db
  }
  if session.ID == uuid.Nil {
    session.ID = uuid.New()
  }
  if err := tx.WithContext(ctx).Create(session).Error; err != nil {
    csr.log.Error("failed to create chat session", "error", err)
    return nil, err
  }
  return session, nil
}

func (csr *chatSessionRepo) GetSessionByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatSession, error) {
  if tx == nil {
    tx = csr.db
  }
  var s types.ChatSession
  if err := tx.WithContext(ctx).
    Where("id = ?", id).
    First(&s).Error; err != nil {
    return nil, err
  }
  return &s, nil
}

// GetUserSessions returns the sidebar list: most recently active first. An
// empty category returns sessions of every category.
func (csr *chatSessionRepo) GetUserSessions(ctx context.Context, tx *gorm.DB, userID uuid.UUID, category string) ([]*types.ChatSession, error) {
  if tx == nil {
    tx = csr.db
  }
  q := tx.WithContext(ctx).Where("user_id = ?", userID)
  if category != "" {
    q = q.Where("category = ?", category)
  }
  var sessions []*types.ChatSession
  if err := q.Order("updated_at DESC").Find(&sessions).Error; err != nil {
    csr.log.Error("failed to get user sessions", "error", err)
    return nil, err
  }
  return sessions, nil
}

func (csr *chatSessionRepo) UpdateTitle(ctx context.Context, tx *gorm.DB, id uuid.UUID, title string) error {
  if tx == nil {
    tx = csr.db
  }
  if err := tx.WithContext(ctx).
    Model(&types.ChatSession{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{"title": title, "updated_at": time.Now()}).Error; err != nil {
    csr.log.Error("failed to update chat session title", "error", err)
    return err
  }
  return nil
}

func (csr *chatSessionRepo) TouchUpdatedAt(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
  if tx == nil {
    tx = csr.db
  }
  if err := tx.WithContext(ctx).
    Model(&types.ChatSession{}).
    Where("id = ?", id).
    Update("updated_at", at).Error; err != nil {
    csr.log.Error("failed to touch chat session updated_at", "error", err)
    return err
  }
  return nil
}
