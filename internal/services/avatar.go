package services

import (
  "bytes"
  "context"
  "encoding/json"
  "fmt"
  "image/color"
  "math/rand"
  "os"
  "strings"

  "github.com/fogleman/gg"
  "github.com/golang/freetype/truetype"
  "golang.org/x/image/font"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/types"
)

// AvatarService renders the round initials avatar every profile gets on
// creation and pushes it into the bucket.
type AvatarService interface {
  CreateAndUploadProfileAvatar(ctx context.Context, profile *types.UserProfile) error
  GenerateProfileAvatar(ctx context.Context, profile *types.UserProfile) (bytes.Buffer, error)
}

type avatarService struct {
  log           *logger.Logger
  bucketService BucketService
  bgColors      []color.NRGBA
  fontFace      font.Face
}

var defaultAvatarColors = []color.NRGBA{
  {R: 0x4C, G: 0x6E, B: 0xF5, A: 0xFF},
  {R: 0x12, G: 0xB8, B: 0x86, A: 0xFF},
  {R: 0xF7, G: 0x67, B: 0x07, A: 0xFF},
  {R: 0xAE, G: 0x3E, B: 0xC9, A: 0xFF},
  {R: 0xE6, G: 0x49, B: 0x80, A: 0xFF},
  {R: 0x22, G: 0xB8, B: 0xCF, A: 0xFF},
}

func NewAvatarService(log *logger.Logger, bucketService BucketService) (AvatarService, error) {
  serviceLog := log.With("service", "AvatarService")

  //1) Get Avatar Colors (optional override)
  bgColors := defaultAvatarColors
  colorsJSONPath := os.Getenv("AVATAR_COLORS_JSON_PATH")
  if colorsJSONPath != "" {
    serviceLog.Info("Loading avatar colors from JSON file", "path", colorsJSONPath)
    loaded, err := loadColorsFromFile(colorsJSONPath)
    if err != nil {
      return nil, fmt.Errorf("could not load avatar colors: %w", err)
    }
    bgColors = loaded
  }

  //2) Get Font
  fontPath := os.Getenv("AVATAR_FONT")
  if fontPath == "" {
    return nil, fmt.Errorf("env var AVATAR_FONT is empty")
  }
  serviceLog.Info("Loading avatar font from TTF file", "font", fontPath)
  face, err := loadFontFace(fontPath, 206)
  if err != nil {
    return nil, fmt.Errorf("could not load avatar font: %w", err)
  }

  return &avatarService{
    log:           serviceLog,
    bucketService: bucketService,
    bgColors:      bgColors,
    fontFace:      face,
  }, nil
}

func (as *avatarService) CreateAndUploadProfileAvatar(ctx context.Context, profile *types.UserProfile) error {
  buf, err := as.GenerateProfileAvatar(ctx, profile)
  if err != nil {
    return err
  }
  bucketKey := fmt.Sprintf("profile_avatars/%s.png", profile.UserID.String())
  if err := as.bucketService.UploadFile(ctx, bucketKey, "image/png", bytes.NewReader(buf.Bytes())); err != nil {
    return fmt.Errorf("failed to upload profile avatar: %w", err)
  }
  profile.AvatarBucketKey = bucketKey
  profile.AvatarURL = as.bucketService.GetPublicURL(bucketKey)
  return nil
}

func (as *avatarService) GenerateProfileAvatar(ctx context.Context, profile *types.UserProfile) (bytes.Buffer, error) {
  const size = 512

  dc := gg.NewContext(size, size)

  // Circular mask so final image is round
  dc.DrawCircle(float64(size)/2, float64(size)/2, float64(size)/2)
  dc.Clip()

  base := as.bgColors[rand.Intn(len(as.bgColors))]
  dc.SetColor(base)
  dc.DrawRectangle(0, 0, float64(size), float64(size))
  dc.Fill()

  initials := computeInitials(profile.DisplayName)

  dc.SetFontFace(as.fontFace)
  tw, th := dc.MeasureString(initials)
  cx, cy := float64(size)/2, float64(size)/2

  dc.SetColor(color.White)
  dc.DrawString(initials, cx-(tw/2)+5, cy+(th/2)-10)

  var buf bytes.Buffer
  if err := dc.EncodePNG(&buf); err != nil {
    return buf, fmt.Errorf("failed to encode PNG: %w", err)
  }
  return buf, nil
}

//----------------------------------------------------------------------------------------
// Helpers
//----------------------------------------------------------------------------------------

func computeInitials(displayName string) string {
  parts := strings.Fields(displayName)
  switch len(parts) {
  case 0:
    return "??"
  case 1:
    if len(parts[0]) > 1 {
      return strings.ToUpper(parts[0][:1])
    }
    return strings.ToUpper(parts[0])
  }
  return strings.ToUpper(parts[0][:1]) + strings.ToUpper(parts[len(parts)-1][:1])
}

func loadColorsFromFile(jsonPath string) ([]color.NRGBA, error) {
  data, err := os.ReadFile(jsonPath)
  if err != nil {
    return nil, fmt.Errorf("read file error: %w", err)
  }
  var colors []color.NRGBA
  if err := json.Unmarshal(data, &colors); err != nil {
    return nil, fmt.Errorf("json unmarshal error: %w", err)
  }
  if len(colors) == 0 {
    return nil, fmt.Errorf("avatar colors file is empty")
  }
  return colors, nil
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
  fontBytes, err := os.ReadFile(fontPath)
  if err != nil {
    return nil, fmt.Errorf("failed to read font file: %w", err)
  }
  parsedFont, err := truetype.Parse(fontBytes)
  if err != nil {
    return nil, fmt.Errorf("failed to parse TTF: %w", err)
  }
  face := truetype.NewFace(parsedFont, &truetype.Options{
    Size:    size,
    DPI:     72,
    Hinting: font.HintingNone,
  })
  return face, nil
}
