package services

import (
  "bytes"
  "context"
  "testing"

  "github.com/google/uuid"
  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"
  "gorm.io/gorm"

  "github.com/teachsketch-org/teachsketch-backend/internal/requestdata"
  "github.com/teachsketch-org/teachsketch-backend/internal/types"
)

type fakeProfileRepo struct {
  profile     *types.UserProfile
  lastUpdated *types.UserProfile
}

func (f *fakeProfileRepo) Create(ctx context.Context, tx *gorm.DB, profile *types.UserProfile) (*types.UserProfile, error) {
  f.profile = profile
  return profile, nil
}

func (f *fakeProfileRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.UserProfile, error) {
  if f.profile == nil {
    return nil, gorm.ErrRecordNotFound
  }
  return f.profile, nil
}

func (f *fakeProfileRepo) Update(ctx context.Context, tx *gorm.DB, profile *types.UserProfile) (*types.UserProfile, error) {
  f.lastUpdated = profile
  return profile, nil
}

type fakeAvatarService struct {
  calls int
}

func (f *fakeAvatarService) CreateAndUploadProfileAvatar(ctx context.Context, profile *types.UserProfile) error {
  f.calls++
  return nil
}

func (f *fakeAvatarService) GenerateProfileAvatar(ctx context.Context, profile *types.UserProfile) (bytes.Buffer, error) {
  return bytes.Buffer{}, nil
}

func newTestProfileService(t *testing.T, repo *fakeProfileRepo, avatars *fakeAvatarService) (ProfileService, context.Context) {
  t.Helper()
  userID := uuid.New()
  repo.profile = &types.UserProfile{
    ID:              uuid.New(),
    UserID:          userID,
    DisplayName:     "Jordan Lee",
    AffiliationType: types.AffiliationHome,
  }
  ps := &profileService{
    log:             newTestLogger(t).With("service", "ProfileService"),
    userProfileRepo: repo,
    avatarService:   avatars,
    notifier:        NopNotifier{},
  }
  ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: userID})
  return ps, ctx
}

func strPtr(s string) *string {
  return &s
}

func TestUpdateMyProfile_NormalizesOptionalFields(t *testing.T) {
  repo := &fakeProfileRepo{}
  avatars := &fakeAvatarService{}
  ps, ctx := newTestProfileService(t, repo, avatars)

  updated, err := ps.UpdateMyProfile(ctx, UpdateProfileInput{
    DisplayName:     strPtr("  Casey   Kim  "),
    AffiliationType: strPtr(" school "),
  })
  require.NoError(t, err)
  assert.Equal(t, "Casey Kim", updated.DisplayName)
  assert.Equal(t, types.AffiliationSchool, updated.AffiliationType)
  assert.Equal(t, 1, avatars.calls, "a rename regenerates the avatar")
  require.NotNil(t, repo.lastUpdated)
  assert.Equal(t, "Casey Kim", repo.lastUpdated.DisplayName)
}

func TestUpdateMyProfile_WhitespaceOnlyNameRejected(t *testing.T) {
  repo := &fakeProfileRepo{}
  avatars := &fakeAvatarService{}
  ps, ctx := newTestProfileService(t, repo, avatars)

  _, err := ps.UpdateMyProfile(ctx, UpdateProfileInput{DisplayName: strPtr("   ")})
  require.Error(t, err)
  assert.Nil(t, repo.lastUpdated)
}

func TestUpdateMyProfile_NilFieldsLeaveProfileAlone(t *testing.T) {
  repo := &fakeProfileRepo{}
  avatars := &fakeAvatarService{}
  ps, ctx := newTestProfileService(t, repo, avatars)

  updated, err := ps.UpdateMyProfile(ctx, UpdateProfileInput{})
  require.NoError(t, err)
  assert.Equal(t, "Jordan Lee", updated.DisplayName)
  assert.Equal(t, types.AffiliationHome, updated.AffiliationType)
  assert.Zero(t, avatars.calls)
}
