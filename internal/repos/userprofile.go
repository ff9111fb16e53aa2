package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/types"
)

type UserProfileRepo interface {
  Create(ctx context.Context, tx *gorm.DB, profile *types.UserProfile) (*types.UserProfile, error)
  GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.UserProfile, error)
  Update(ctx context.Context, tx *gorm.DB, profile *types.UserProfile) (*types.UserProfile, error)
}

type userProfileRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewUserProfileRepo(db *gorm.DB, baseLog *logger.Logger) UserProfileRepo {
  return &userProfileRepo{
    db:  db,
    log: baseLog.With("repo", "UserProfileRepo"),
  }
}

func (upr *userProfileRepo) Create(ctx context.Context, tx *gorm.DB, profile *types.UserProfile) (*types.UserProfile, error) {
  if tx == nil {
    tx = upr.db
  }
  if profile.ID == uuid.Nil {
    profile.ID = uuid.New()
  }
  if err := tx.WithContext(ctx).Create(profile).Error; err != nil {
    upr.log.Error("failed to create user profile", "error", err)
    return nil, err
  }
  return profile, nil
}

func (upr *userProfileRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.UserProfile, error) {
  if tx == nil {
    tx = upr.db
  }
  var p types.UserProfile
  if err := tx.WithContext(ctx).
    Where("user_id = ?", userID).
    First(&p).Error; err != nil {
    return nil, err
  }
  return &p, nil
}

func (upr *userProfileRepo) Update(ctx context.Context, tx *gorm.DB, profile *types.UserProfile) (*types.UserProfile, error) {
  if tx == nil {
    tx = upr.db
  }
  if err := tx.WithContext(ctx).Save(profile).Error; err != nil {
    upr.log.Error("failed to update user profile", "error", err)
    return nil, err
  }
  return profile, nil
}
