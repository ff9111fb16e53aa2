package services

import (
  "context"
  "errors"
  "fmt"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/normalization"
  "github.com/teachsketch-org/teachsketch-backend/internal/repos"
  "github.com/teachsketch-org/teachsketch-backend/internal/requestdata"
  "github.com/teachsketch-org/teachsketch-backend/internal/types"
)

type UpdateProfileInput struct {
  DisplayName     *string `json:"displayName,omitempty"`
  AffiliationType *string `json:"affiliationType,omitempty"`
}

type ProfileService interface {
  GetMyProfile(ctx context.Context) (*types.UserProfile, error)
  UpdateMyProfile(ctx context.Context, input UpdateProfileInput) (*types.UserProfile, error)
}

type profileService struct {
  db              *gorm.DB
  log             *logger.Logger
  userRepo        repos.UserRepo
  userProfileRepo repos.UserProfileRepo
  avatarService   AvatarService
  notifier        Notifier
}

func NewProfileService(
  db *gorm.DB,
  log *logger.Logger,
  userRepo repos.UserRepo,
  userProfileRepo repos.UserProfileRepo,
  avatarService AvatarService,
  notifier Notifier,
) ProfileService {
  serviceLog := log.With("service", "ProfileService")
  return &profileService{
    db:              db,
    log:             serviceLog,
    userRepo:        userRepo,
    userProfileRepo: userProfileRepo,
    avatarService:   avatarService,
    notifier:        notifier,
  }
}

func (ps *profileService) GetMyProfile(ctx context.Context) (*types.UserProfile, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    ps.log.Warn("No Request Data found in context, Cannot proceed.")
    return nil, fmt.Errorf("No Request Data found in context.")
  }
  profile, err := ps.userProfileRepo.GetByUserID(ctx, nil, rd.UserID)
  if err == nil {
    return profile, nil
  }
  if !errors.Is(err, gorm.ErrRecordNotFound) {
    ps.log.Warn("Failed to fetch profile, Cannot proceed. Returning error.", "error", err)
    return nil, fmt.Errorf("Failed to fetch profile: %w", err)
  }

  // Accounts created before profiles existed get one lazily.
  ps.log.Info("No profile found for user, creating one now...", "userID", rd.UserID)
  me, mErr := ps.userRepo.GetMe(ctx, nil)
  if mErr != nil {
    ps.log.Warn("Failed to load user for lazy profile creation, Cannot proceed. Returning error.", "error", mErr)
    return nil, fmt.Errorf("Failed to load user for profile creation: %w", mErr)
  }
  fresh := &types.UserProfile{
    ID:              uuid.New(),
    UserID:          me.ID,
    DisplayName:     fmt.Sprintf("%s %s", me.FirstName, me.LastName),
    AffiliationType: types.AffiliationHome,
  }
  if aErr := ps.avatarService.CreateAndUploadProfileAvatar(ctx, fresh); aErr != nil {
    ps.log.Warn("Failed to create and upload avatar for lazy profile, Cannot proceed. Returning error.", "error", aErr)
    return nil, fmt.Errorf("Failed to create and upload profile avatar: %w", aErr)
  }
  created, cErr := ps.userProfileRepo.Create(ctx, nil, fresh)
  if cErr != nil {
    ps.log.Warn("Failed to create lazy profile, Cannot proceed. Returning error.", "error", cErr)
    return nil, fmt.Errorf("Failed to create profile: %w", cErr)
  }
  return created, nil
}

func (ps *profileService) UpdateMyProfile(ctx context.Context, input UpdateProfileInput) (*types.UserProfile, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    ps.log.Warn("No Request Data found in context, Cannot proceed.")
    return nil, fmt.Errorf("No Request Data found in context.")
  }
  profile, err := ps.GetMyProfile(ctx)
  if err != nil {
    return nil, err
  }

  input.DisplayName = normalization.ParseInputStringPtr(input.DisplayName)
  input.AffiliationType = normalization.ParseInputStringPtr(input.AffiliationType)

  displayNameChanged := false
  if input.DisplayName != nil {
    name := *input.DisplayName
    if name == "" {
      return nil, fmt.Errorf("display name cannot be empty")
    }
    if name != profile.DisplayName {
      profile.DisplayName = name
      displayNameChanged = true
    }
  }
  if input.AffiliationType != nil {
    affiliation := *input.AffiliationType
    switch affiliation {
    case types.AffiliationSchool, types.AffiliationAcademy, types.AffiliationTherapy, types.AffiliationHome:
      profile.AffiliationType = affiliation
    default:
      return nil, fmt.Errorf("invalid affiliation type: '%s'", affiliation)
    }
  }

  // Initials come from the display name, so a rename gets a fresh avatar.
  if displayNameChanged {
    if aErr := ps.avatarService.CreateAndUploadProfileAvatar(ctx, profile); aErr != nil {
      ps.log.Warn("Failed to regenerate avatar after rename, keeping previous avatar.", "error", aErr)
    }
  }

  updated, uErr := ps.userProfileRepo.Update(ctx, nil, profile)
  if uErr != nil {
    ps.log.Warn("Failed to update profile, Cannot proceed. Returning error.", "error", uErr)
    return nil, fmt.Errorf("Failed to update profile: %w", uErr)
  }
  ps.notifier.ProfileUpdated(ctx, rd.UserID)
  return updated, nil
}
