package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/types"
)

type UserTokenRepo interface {
  Create(ctx context.Context, tx *gorm.DB, userTokens []*types.UserToken) ([]*types.UserToken, error)
  GetByUserIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.UserToken, error)
  GetByAccessTokens(ctx context.Context, tx *gorm.DB, accessTokens []string) ([]*types.UserToken, error)
  GetByRefreshTokens(ctx context.Context, tx *gorm.DB, refreshTokens []string) ([]*types.UserToken, error)
  FullDeleteByTokens(ctx context.Context, tx *gorm.DB, userTokens []*types.UserToken) error
}

type userTokenRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewUserTokenRepo(db *gorm.DB, baseLog *logger.Logger) UserTokenRepo {
  return &userTokenRepo{
    db:  db,
    log: baseLog.With("repo", "UserTokenRepo"),
  }
}

func (utr *userTokenRepo) Create(ctx context.Context, tx *gorm.DB, userTokens []*types.UserToken) ([]*types.UserToken, error) {
  if tx == nil {
    tx = utr.db
  }
  if len(userTokens) == 0 {
    return userTokens, nil
  }
  for _, ut := range userTokens {
    if ut.ID == uuid.Nil {
      ut.ID = uuid.New()
    }
  }
  if err := tx.WithContext(ctx).Create(&userTokens).Error; err != nil {
    utr.log.Error("failed to create user tokens", "error", err)
    return nil, err
  }
  return userTokens, nil
}

func (utr *userTokenRepo) GetByUserIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.UserToken, error) {
  if tx == nil {
    tx = utr.db
  }
  var tokens []*types.UserToken
  if err := tx.WithContext(ctx).
    Where("user_id IN ?", userIDs).
    Find(&tokens).Error; err != nil {
    utr.log.Error("failed to get user tokens by user ids", "error", err)
    return nil, err
  }
  return tokens, nil
}

func (utr *userTokenRepo) GetByAccessTokens(ctx context.Context, tx *gorm.DB, accessTokens []string) ([]*types.UserToken, error) {
  if tx == nil {
    tx = utr.db
  }
  var tokens []*types.UserToken
  if err := tx.WithContext(ctx).
    Where("access_token IN ?", accessTokens).
    Find(&tokens).Error; err != nil {
    utr.log.Error("failed to get user tokens by access tokens", "error", err)
    return nil, err
  }
  return tokens, nil
}

func (utr *userTokenRepo) GetByRefreshTokens(ctx context.Context, tx *gorm.DB, refreshTokens []string) ([]*types.UserToken, error) {
  if tx == nil {
    tx = utr.db
  }
  var tokens []*types.UserToken
  if err := tx.WithContext(ctx).
    Where("refresh_token IN ?", refreshTokens).
    Find(&tokens).Error; err != nil {
    utr.log.Error("failed to get user tokens by refresh tokens", "error", err)
    return nil, err
  }
  return tokens, nil
}

func (utr *userTokenRepo) FullDeleteByTokens(ctx context.Context, tx *gorm.DB, userTokens []*types.UserToken) error {
  if tx == nil {
    tx = utr.db
  }
  if len(userTokens) == 0 {
    return nil
  }
  ids := make([]uuid.UUID, 0, len(userTokens))
  for _, ut := range userTokens {
    if ut != nil {
      ids = append(ids, ut.ID)
    }
  }
  if err := tx.WithContext(ctx).
    Unscoped().
    Where("id IN ?", ids).
    Delete(&types.UserToken{}).Error; err != nil {
    utr.log.Error("failed to delete user tokens", "error", err)
    return err
  }
  return nil
}
