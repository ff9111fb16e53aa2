package services

import (
  "context"
  "fmt"
  "time"

  "golang.org/x/crypto/bcrypt"
  "gorm.io/gorm"

  "github.com/golang-jwt/jwt/v5"
  "github.com/google/uuid"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/normalization"
  "github.com/teachsketch-org/teachsketch-backend/internal/repos"
  "github.com/teachsketch-org/teachsketch-backend/internal/requestdata"
  "github.com/teachsketch-org/teachsketch-backend/internal/types"
  "github.com/teachsketch-org/teachsketch-backend/internal/utils"
)

type JWTClaims struct {
  jwt.RegisteredClaims
}

type AuthService interface {
  RegisterUser(ctx context.Context, user *types.User) error
  Login(ctx context.Context, email, password string) (string, string, error)
  Refresh(ctx context.Context) (string, string, error)
  Logout(ctx context.Context) error

  SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)

  GetAccessTTL() time.Duration
}

type authService struct {
  db              *gorm.DB
  log             *logger.Logger
  userRepo        repos.UserRepo
  userProfileRepo repos.UserProfileRepo
  userTokenRepo   repos.UserTokenRepo
  avatarService   AvatarService
  jwtSecretKey    string
  accessTTL       time.Duration
  refreshTTL      time.Duration
}

func NewAuthService(
  db *gorm.DB,
  log *logger.Logger,
  userRepo repos.UserRepo,
  userProfileRepo repos.UserProfileRepo,
  userTokenRepo repos.UserTokenRepo,
  avatarService AvatarService,
  jwtSecretKey string,
  accessTTL time.Duration,
  refreshTTL time.Duration,
) AuthService {
  serviceLog := log.With("service", "AuthService")
  return &authService{
    db:              db,
    log:             serviceLog,
    userRepo:        userRepo,
    userProfileRepo: userProfileRepo,
    userTokenRepo:   userTokenRepo,
    avatarService:   avatarService,
    jwtSecretKey:    jwtSecretKey,
    accessTTL:       accessTTL,
    refreshTTL:      refreshTTL,
  }
}

//----------------------------------------------------------------------------------------------------------------------
// RegisterUser
//----------------------------------------------------------------------------------------------------------------------

func (as *authService) RegisterUser(ctx context.Context, user *types.User) error {
  as.log.Info("Starting Register User now...")

  //1) Normalize User Fields
  utils.NormalizeUserFields(ctx, user)

  //2) Checks on user fields
  if vErr := utils.InputValidation(ctx, "registration", as.userRepo, as.log, user, "", ""); vErr != nil {
    return vErr
  }

  //3) Hash Password
  if hErr := utils.HashPassword(ctx, as.log, user); hErr != nil {
    return hErr
  }

  //4) Transaction Body
  return as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    user.ID = uuid.New()
    createdUsers, ucErr := as.userRepo.Create(ctx, tx, []*types.User{user})
    if ucErr != nil {
      as.log.Warn("Failure from AuthService -> UserRepo to create final user", "error", ucErr)
      return fmt.Errorf("Failure to create user: %w", ucErr)
    }
    if len(createdUsers) == 0 {
      as.log.Warn("Failure to actually create user from AuthService")
      return fmt.Errorf("Failure to create user in DB")
    }

    //5) Create Profile With Generated Avatar
    profile := &types.UserProfile{
      ID:              uuid.New(),
      UserID:          user.ID,
      DisplayName:     fmt.Sprintf("%s %s", user.FirstName, user.LastName),
      AffiliationType: types.AffiliationHome,
    }
    if aErr := as.avatarService.CreateAndUploadProfileAvatar(ctx, profile); aErr != nil {
      as.log.Warn("Failure to create and upload avatar for new profile, Cannot proceed further. Returning error", "error", aErr)
      return fmt.Errorf("Failure to create and upload profile avatar: %w", aErr)
    }
    if _, pErr := as.userProfileRepo.Create(ctx, tx, profile); pErr != nil {
      as.log.Warn("Failure to create profile for new user, Cannot proceed further. Returning error", "error", pErr)
      return fmt.Errorf("Failure to create user profile: %w", pErr)
    }
    return nil
  })
}

//----------------------------------------------------------------------------------------------------------------------
// Login, Refresh, Logout
//----------------------------------------------------------------------------------------------------------------------

func (as *authService) Login(ctx context.Context, userEmail, userPassword string) (string, string, error) {
  //1) Normalize Input
  email := normalization.ParseInputString(userEmail)
  password := normalization.ParseInputString(userPassword)

  //2) Input Validations
  if vErr := utils.InputValidation(ctx, "login", as.userRepo, as.log, &types.User{}, email, password); vErr != nil {
    return "", "", vErr
  }

  //3) Find User By Email
  users, uSErr := as.userRepo.GetByEmails(ctx, nil, []string{email})
  if uSErr != nil {
    as.log.Warn("Failure to retrieve user by email, Cannot proceed. Returning error.", "error", uSErr)
    return "", "", fmt.Errorf("error retrieving user by email: %w", uSErr)
  }
  if len(users) == 0 {
    as.log.Warn("Invalid email, no users returned", "len(users)", len(users))
    return "", "", fmt.Errorf("invalid email, no users returned")
  }
  user := users[0]
  if hErr := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); hErr != nil {
    as.log.Warn("Invalid password, user password and hash dont match, Cannot proceed. Returning error.", "error", hErr)
    return "", "", fmt.Errorf("invalid password, user password and hash dont match: %w", hErr)
  }

  //4) Issue Tokens
  var accessToken string
  var refreshToken string
  if err := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    foundTokens, fTErr := as.userTokenRepo.GetByUserIDs(ctx, tx, []uuid.UUID{user.ID})
    if fTErr != nil {
      as.log.Warn("Failed to check whether user already has user tokens, Cannot proceed. Returning error.", "error", fTErr)
      return fmt.Errorf("Failed to check whether user already has user tokens: %w", fTErr)
    }
    var expired []*types.UserToken
    for _, tok := range foundTokens {
      if tok != nil && tok.ExpiresAt.Before(time.Now()) {
        expired = append(expired, tok)
      }
    }
    if len(expired) > 0 {
      if dTErr := as.userTokenRepo.FullDeleteByTokens(ctx, tx, expired); dTErr != nil {
        as.log.Warn("Failed to delete expired user tokens, Cannot proceed. Returning error.", "error", dTErr)
        return fmt.Errorf("Failed to delete expired user tokens: %w", dTErr)
      }
    }
    tok, genErr := as.generateAccessToken(ctx, user)
    if genErr != nil {
      as.log.Warn("Generate Access Token Error, Cannot proceed. Returning error.", "error", genErr)
      return fmt.Errorf("Generate Access Token Error: %w", genErr)
    }
    accessToken = tok
    refreshToken = uuid.New().String()
    expiresAt := time.Now().Add(as.refreshTTL)
    userToken := types.UserToken{
      ID:           uuid.New(),
      UserID:       user.ID,
      AccessToken:  accessToken,
      RefreshToken: refreshToken,
      ExpiresAt:    expiresAt,
    }
    _, cTErr := as.userTokenRepo.Create(ctx, tx, []*types.UserToken{&userToken})
    if cTErr != nil {
      as.log.Warn("Create User Token Error, Cannot proceed. Returning error.", "error", cTErr)
      return fmt.Errorf("Create User Token Error: %w", cTErr)
    }
    return nil
  }); err != nil {
    return "", "", err
  }
  return accessToken, refreshToken, nil
}

func (as *authService) Refresh(ctx context.Context) (string, string, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil {
    as.log.Warn("No Request Data found in context, Cannot proceed", "requestdata", rd)
    return "", "", fmt.Errorf("No Request Data found in context.")
  }
  if rd.RefreshToken == "" {
    as.log.Warn("RefreshToken in Request Data in context is an empty string, Cannot proceed", "refreshtoken", rd.RefreshToken)
    return "", "", fmt.Errorf("RefreshToken in Request Data in context is an empty string.")
  }

  var accessToken string
  var newRefreshTokenStr string
  err := as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    foundTokens, fTErr := as.userTokenRepo.GetByRefreshTokens(ctx, tx, []string{rd.RefreshToken})
    if fTErr != nil {
      as.log.Warn("Error fetching refresh token, Cannot proceed. Returning error.", "error", fTErr)
      return fmt.Errorf("Error fetching refresh token: %w", fTErr)
    }
    if len(foundTokens) == 0 || foundTokens[0] == nil {
      as.log.Warn("No user token found for the given refresh token, Cannot proceed.")
      return fmt.Errorf("No user token found for the given refresh token.")
    }
    existingToken := foundTokens[0]

    if existingToken.ExpiresAt.Before(time.Now()) {
      if dTErr := as.userTokenRepo.FullDeleteByTokens(ctx, tx, []*types.UserToken{existingToken}); dTErr != nil {
        as.log.Warn("Refresh token expired, error deleting expired refresh token, Cannot proceed. Returning error.", "error", dTErr)
        return fmt.Errorf("Refresh token expired, error deleting: %w", dTErr)
      }
      as.log.Warn("Refresh Token Expired, Cannot proceed.")
      return fmt.Errorf("Refresh Token Expired.")
    }
    users, uErr := as.userRepo.GetByIDs(ctx, tx, []uuid.UUID{existingToken.UserID})
    if uErr != nil {
      as.log.Warn("Failed to load user for refresh, Cannot proceed. Returning error.", "error", uErr)
      return fmt.Errorf("Failed to load user for refresh: %w", uErr)
    }
    if len(users) == 0 {
      as.log.Warn("No user found for the given refresh token, Cannot proceed.", "len(users)", len(users))
      return fmt.Errorf("No user found for the given refresh token.")
    }
    user := users[0]
    tok, genErr := as.generateAccessToken(ctx, user)
    if genErr != nil {
      as.log.Warn("Failed to generate new access token, Cannot proceed. Returning error.", "error", genErr)
      return fmt.Errorf("Failed to generate new access token: %w", genErr)
    }
    accessToken = tok
    newRefreshTokenStr = uuid.New().String()
    newExpiresAt := time.Now().Add(as.refreshTTL)
    newUserToken := types.UserToken{
      ID:           uuid.New(),
      UserID:       user.ID,
      AccessToken:  tok,
      RefreshToken: newRefreshTokenStr,
      ExpiresAt:    newExpiresAt,
    }
    _, cErr := as.userTokenRepo.Create(ctx, tx, []*types.UserToken{&newUserToken})
    if cErr != nil {
      as.log.Warn("Failed to create new user token, Cannot proceed. Returning error.", "error", cErr)
      return fmt.Errorf("Failed to create new user token: %w", cErr)
    }
    if dErr := as.userTokenRepo.FullDeleteByTokens(ctx, tx, []*types.UserToken{existingToken}); dErr != nil {
      as.log.Warn("Failed to remove old refresh token, Cannot proceed. Returning error.", "error", dErr)
      return fmt.Errorf("Failed to remove old refresh token: %w", dErr)
    }
    return nil
  })
  if err != nil {
    as.log.Warn("Failed transaction, Cannot proceed. Returning error.", "error", err)
    return "", "", err
  }
  return accessToken, newRefreshTokenStr, nil
}

func (as *authService) Logout(ctx context.Context) error {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil {
    as.log.Warn("No Request Data found in context, Cannot proceed.", "requestdata", rd)
    return fmt.Errorf("No Request Data found in context.")
  }
  if rd.TokenString == "" {
    as.log.Warn("TokenString in Request Data is an empty string, Cannot proceed.", "tokenstring", rd.TokenString)
    return fmt.Errorf("TokenString in RequestData is an empty string.")
  }
  return as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    foundTokens, fTErr := as.userTokenRepo.GetByAccessTokens(ctx, tx, []string{rd.TokenString})
    if fTErr != nil {
      as.log.Warn("Error finding user token from token string, Cannot proceed. Returning error.", "error", fTErr)
      return fmt.Errorf("Error finding user token from token string: %w", fTErr)
    }
    if len(foundTokens) == 0 || foundTokens[0] == nil {
      as.log.Warn("No user token found for the given token string, Cannot proceed.")
      return fmt.Errorf("No user token found for the given token string.")
    }
    if tDErr := as.userTokenRepo.FullDeleteByTokens(ctx, tx, []*types.UserToken{foundTokens[0]}); tDErr != nil {
      as.log.Warn("Error deleting user token, Cannot proceed. Returning error.", "error", tDErr)
      return fmt.Errorf("Error deleting user token: %w", tDErr)
    }
    return nil
  })
}

//----------------------------------------------------------------------------------------------------------------------
// Token Helpers
//----------------------------------------------------------------------------------------------------------------------

func (as *authService) generateAccessToken(ctx context.Context, user *types.User) (string, error) {
  claims := JWTClaims{
    RegisteredClaims: jwt.RegisteredClaims{
      Subject:   user.ID.String(),
      ExpiresAt: jwt.NewNumericDate(time.Now().Add(as.accessTTL)),
      IssuedAt:  jwt.NewNumericDate(time.Now()),
    },
  }
  token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
  return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
  if tokenString == "" {
    return ctx, nil
  }
  parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
    return []byte(as.jwtSecretKey), nil
  })
  if err != nil {
    return ctx, fmt.Errorf("failed to parse token: %w", err)
  }
  claims, ok := parsedToken.Claims.(*JWTClaims)
  if !ok || !parsedToken.Valid {
    return ctx, fmt.Errorf("invalid or expired JWT token")
  }
  userID, err := uuid.Parse(claims.Subject)
  if err != nil {
    return ctx, fmt.Errorf("invalid user ID in token: %w", err)
  }
  var refreshTokenStr string
  foundTokens, fTErr := as.userTokenRepo.GetByAccessTokens(ctx, nil, []string{tokenString})
  if fTErr != nil {
    as.log.Warn("Error fetching user token by access token, Cannot proceed. Returning error.", "error", fTErr)
    return ctx, fmt.Errorf("Failed to fetch user token by access token: %w", fTErr)
  }
  if len(foundTokens) == 0 || foundTokens[0] == nil {
    return ctx, fmt.Errorf("no user token found for the given access token")
  }
  refreshTokenStr = foundTokens[0].RefreshToken
  rd := &requestdata.RequestData{
    TokenString:  tokenString,
    RefreshToken: refreshTokenStr,
    UserID:       userID,
  }
  return requestdata.WithRequestData(ctx, rd), nil
}

func (as *authService) GetAccessTTL() time.Duration {
  return as.accessTTL
}
