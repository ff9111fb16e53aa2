package services

import (
  "bytes"
  "context"
  "fmt"
  "io"
  "strings"
  "time"

  "cloud.google.com/go/storage"
  "google.golang.org/api/option"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/types"
  "github.com/teachsketch-org/teachsketch-backend/internal/utils"
)

// MaxUploadBytes caps user uploads and captured assets at 10 MB.
const MaxUploadBytes = 10 << 20

// UploadResult is what callers embed into a message's asset_url.
type UploadResult struct {
  AssetURL    string `json:"assetURL"`
  AssetName   string `json:"assetName"`
  StoragePath string `json:"storagePath"`
}

type BucketService interface {
  // UploadFile writes bytes at key with no-overwrite semantics: an existing
  // object at that key is an error, never a silent replace.
  UploadFile(ctx context.Context, key, contentType string, r io.Reader) error
  // UploadGenerated namespaces the object under the per-kind folder with a
  // timestamp-prefixed name and returns the durable public URL.
  UploadGenerated(ctx context.Context, kind, name string, data []byte, contentType string) (UploadResult, error)
  GetPublicURL(key string) string
}

type bucketService struct {
  log        *logger.Logger
  client     *storage.Client
  bucketName string
  now        func() time.Time
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
  serviceLog := log.With("service", "BucketService")
  bucketName := utils.GetEnv("GCS_BUCKET_NAME", "", serviceLog)
  if bucketName == "" {
    return nil, fmt.Errorf("missing GCS_BUCKET_NAME environment variable")
  }
  credsFile := utils.GetEnv("GCS_CREDENTIALS_FILE", "", serviceLog)

  var opts []option.ClientOption
  if credsFile != "" {
    opts = append(opts, option.WithCredentialsFile(credsFile))
  }
  client, err := storage.NewClient(context.Background(), opts...)
  if err != nil {
    serviceLog.Error("Failed to create GCS client", "error", err)
    return nil, fmt.Errorf("failed to create GCS client: %w", err)
  }
  return &bucketService{
    log:        serviceLog,
    client:     client,
    bucketName: bucketName,
    now:        time.Now,
  }, nil
}

func (bs *bucketService) UploadFile(ctx context.Context, key, contentType string, r io.Reader) error {
  obj := bs.client.Bucket(bs.bucketName).Object(key)
  w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
  w.ContentType = contentType
  w.CacheControl = "public, max-age=3600"

  if _, err := io.Copy(w, r); err != nil {
    _ = w.Close()
    bs.log.Warn("failed to write object", "key", key, "error", err)
    return fmt.Errorf("failed to write object %q: %w", key, err)
  }
  if err := w.Close(); err != nil {
    bs.log.Warn("failed to finalize object", "key", key, "error", err)
    return fmt.Errorf("failed to finalize object %q: %w", key, err)
  }
  return nil
}

func (bs *bucketService) UploadGenerated(ctx context.Context, kind, name string, data []byte, contentType string) (UploadResult, error) {
  var out UploadResult

  if len(data) == 0 {
    return out, fmt.Errorf("refusing to upload an empty asset")
  }
  if len(data) > MaxUploadBytes {
    return out, fmt.Errorf("asset of %d bytes exceeds the %d byte limit", len(data), MaxUploadBytes)
  }
  key, assetName, err := GeneratedObjectKey(kind, name, bs.now())
  if err != nil {
    return out, err
  }
  if err := bs.UploadFile(ctx, key, contentType, bytes.NewReader(data)); err != nil {
    return out, err
  }
  return UploadResult{
    AssetURL:    bs.GetPublicURL(key),
    AssetName:   assetName,
    StoragePath: key,
  }, nil
}

func (bs *bucketService) GetPublicURL(key string) string {
  return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucketName, key)
}

// GeneratedObjectKey builds the namespaced, collision-resistant storage path
// for a generated asset: generated/{imgs|docs}/{unixmilli}_{name}.
func GeneratedObjectKey(kind, name string, at time.Time) (key, assetName string, err error) {
  var folder string
  switch kind {
  case types.MessageKindImage:
    folder = "imgs"
  case types.MessageKindDocument:
    folder = "docs"
  default:
    return "", "", fmt.Errorf("unsupported asset kind: %q", kind)
  }
  assetName = fmt.Sprintf("%d_%s", at.UnixMilli(), name)
  return fmt.Sprintf("generated/%s/%s", folder, assetName), assetName, nil
}

// SniffUploadKind maps a user upload to a message kind. Only PNG images and
// PDF documents are supported.
func SniffUploadKind(fileName, contentType string) (string, error) {
  ct := strings.ToLower(contentType)
  fn := strings.ToLower(fileName)
  switch {
  case ct == "application/pdf" || strings.HasSuffix(fn, ".pdf"):
    return types.MessageKindDocument, nil
  case strings.HasPrefix(ct, "image/") || strings.HasSuffix(fn, ".png"):
    return types.MessageKindImage, nil
  }
  return "", fmt.Errorf("unsupported file type: %q (%s)", fileName, contentType)
}
