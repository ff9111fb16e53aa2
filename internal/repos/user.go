package repos

import (
  "context"
  "fmt"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/requestdata"
  "github.com/teachsketch-org/teachsketch-backend/internal/types"
)

type UserRepo interface {
  Create(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error)
  GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error)
  GetByEmails(ctx context.Context, tx *gorm.DB, userEmails []string) ([]*types.User, error)
  EmailExists(ctx context.Context, tx *gorm.DB, userEmail string) (bool, error)
  GetMe(ctx context.Context, tx *gorm.DB) (*types.User, error)
}

type userRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
  return &userRepo{
    db:  db,
    log: baseLog.With("repo", "UserRepo"),
  }
}

func (ur *userRepo) Create(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error) {
  if tx == nil {
    tx = ur.db
  }
  if len(users) == 0 {
    return users, nil
  }
  for _, u := range users {
    if u.ID == uuid.Nil {
      u.ID = uuid.New()
    }
  }
  if err := tx.WithContext(ctx).Create(&users).Error; err != nil {
    ur.log.Error("failed to create users", "error", err)
    return nil, err
  }
  return users, nil
}

func (ur *userRepo) GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error) {
  if tx == nil {
    tx = ur.db
  }
  var users []*types.User
  if err := tx.WithContext(ctx).
    Where("id IN ?", userIDs).
    Find(&users).Error; err != nil {
    ur.log.Error("failed to get users by ids", "error", err)
    return nil, err
  }
  return users, nil
}

func (ur *userRepo) GetByEmails(ctx context.Context, tx *gorm.DB, userEmails []string) ([]*types.User, error) {
  if tx == nil {
    tx = ur.db
  }
  var users []*types.User
  if err := tx.WithContext(ctx).
    Where("email IN ?", userEmails).
    Find(&users).Error; err != nil {
    ur.log.Error("failed to get users by emails", "error", err)
    return nil, err
  }
  return users, nil
}

func (ur *userRepo) EmailExists(ctx context.Context, tx *gorm.DB, userEmail string) (bool, error) {
  if tx == nil {
    tx = ur.db
  }
  var count int64
  if err := tx.WithContext(ctx).
    Model(&types.User{}).
    Where("email = ?", userEmail).
    Count(&count).Error; err != nil {
    ur.log.Error("failed to count users by email", "error", err)
    return false, err
  }
  return count > 0, nil
}

func (ur *userRepo) GetMe(ctx context.Context, tx *gorm.DB) (*types.User, error) {
  if tx == nil {
    tx = ur.db
  }
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    return nil, fmt.Errorf("no user id in request data")
  }
  var u types.User
  if err := tx.WithContext(ctx).
    Where("id = ?", rd.UserID).
    First(&u).Error; err != nil {
    return nil, err
  }
  return &u, nil
}
