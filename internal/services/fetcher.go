package services

import (
  "bytes"
  "context"
  "encoding/json"
  "fmt"
  "io"
  "net/http"
  "strings"
  "time"

  "github.com/disintegration/imaging"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/utils"
)

// AssetFetcherService captures remotely hosted generation outputs before
// their upstream URLs expire. Images go through the same-origin relay proxy
// first (browser-equivalent path, retried), then fall back to a direct fetch.
type AssetFetcherService interface {
  FetchImage(ctx context.Context, url string) ([]byte, string, error)
  FetchDocument(ctx context.Context, url string) ([]byte, string, error)
}

type outcomeKind int

const (
  outcomeOK outcomeKind = iota
  outcomeRetryable
  outcomeFatal
)

// fetchOutcome threads the retry/fallback decision through the attempt loop
// instead of nesting error handling.
type fetchOutcome struct {
  kind   outcomeKind
  data   []byte
  mime   string
  reason error
}

type assetFetcherService struct {
  log         *logger.Logger
  client      *http.Client
  proxyURL    string
  maxAttempts int
  baseDelay   time.Duration
  sleep       func(time.Duration)
}

func NewAssetFetcherService(log *logger.Logger) (AssetFetcherService, error) {
  serviceLog := log.With("service", "AssetFetcherService")
  proxyURL := utils.GetEnv("RELAY_PROXY_URL", "http://localhost:8080/api/download-image", serviceLog)
  maxAttempts := utils.GetEnvAsInt("ASSET_FETCH_MAX_ATTEMPTS", 3, serviceLog)
  baseDelayMs := utils.GetEnvAsInt("ASSET_FETCH_BASE_DELAY_MS", 500, serviceLog)
  timeoutSec := utils.GetEnvAsInt("ASSET_FETCH_TIMEOUT_SECONDS", 30, serviceLog)

  return &assetFetcherService{
    log:         serviceLog,
    client:      &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
    proxyURL:    proxyURL,
    maxAttempts: maxAttempts,
    baseDelay:   time.Duration(baseDelayMs) * time.Millisecond,
    sleep:       time.Sleep,
  }, nil
}

func (fs *assetFetcherService) FetchImage(ctx context.Context, url string) ([]byte, string, error) {
  var proxyErr error

  delay := fs.baseDelay
proxy:
  for attempt := 1; attempt <= fs.maxAttempts; attempt++ {
    outcome := fs.attemptProxy(ctx, url)
    switch outcome.kind {
    case outcomeOK:
      return outcome.data, outcome.mime, nil
    case outcomeFatal:
      // 4xx from the relay never succeeds on retry
      fs.log.Warn("proxy fetch failed terminally", "url", url, "error", outcome.reason)
      proxyErr = outcome.reason
      break proxy
    case outcomeRetryable:
      fs.log.Warn("proxy fetch attempt failed", "url", url, "attempt", attempt, "error", outcome.reason)
      proxyErr = outcome.reason
      if attempt < fs.maxAttempts {
        fs.sleep(delay)
        delay *= 2
      }
    }
  }

  data, mime, directErr := fs.fetchDirect(ctx, url)
  if directErr == nil {
    return data, mime, nil
  }
  return nil, "", fmt.Errorf("image fetch failed: proxy: %v; direct: %v", proxyErr, directErr)
}

func (fs *assetFetcherService) attemptProxy(ctx context.Context, url string) fetchOutcome {
  body, err := json.Marshal(map[string]string{"url": url})
  if err != nil {
    return fetchOutcome{kind: outcomeFatal, reason: err}
  }
  req, err := http.NewRequestWithContext(ctx, http.MethodPost, fs.proxyURL, bytes.NewReader(body))
  if err != nil {
    return fetchOutcome{kind: outcomeFatal, reason: err}
  }
  req.Header.Set("Content-Type", "application/json")

  resp, err := fs.client.Do(req)
  if err != nil {
    return fetchOutcome{kind: outcomeRetryable, reason: err}
  }
  defer resp.Body.Close()

  if resp.StatusCode >= 400 && resp.StatusCode < 500 {
    respBytes, _ := io.ReadAll(resp.Body)
    return fetchOutcome{kind: outcomeFatal, reason: fmt.Errorf("relay proxy HTTP %d: %s", resp.StatusCode, string(respBytes))}
  }
  if resp.StatusCode < 200 || resp.StatusCode > 299 {
    respBytes, _ := io.ReadAll(resp.Body)
    return fetchOutcome{kind: outcomeRetryable, reason: fmt.Errorf("relay proxy HTTP %d: %s", resp.StatusCode, string(respBytes))}
  }

  data, err := io.ReadAll(resp.Body)
  if err != nil {
    return fetchOutcome{kind: outcomeRetryable, reason: fmt.Errorf("failed to read relay proxy body: %w", err)}
  }
  mime := resp.Header.Get("Content-Type")
  if reason := validateImagePayload(data, mime); reason != nil {
    return fetchOutcome{kind: outcomeRetryable, reason: reason}
  }
  return fetchOutcome{kind: outcomeOK, data: data, mime: mime}
}

func (fs *assetFetcherService) fetchDirect(ctx context.Context, url string) ([]byte, string, error) {
  req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
  if err != nil {
    return nil, "", err
  }
  resp, err := fs.client.Do(req)
  if err != nil {
    return nil, "", err
  }
  defer resp.Body.Close()

  if resp.StatusCode < 200 || resp.StatusCode > 299 {
    return nil, "", fmt.Errorf("direct fetch HTTP %d", resp.StatusCode)
  }
  data, err := io.ReadAll(resp.Body)
  if err != nil {
    return nil, "", err
  }
  mime := resp.Header.Get("Content-Type")
  if reason := validateImagePayload(data, mime); reason != nil {
    return nil, "", reason
  }
  return data, mime, nil
}

func (fs *assetFetcherService) FetchDocument(ctx context.Context, url string) ([]byte, string, error) {
  req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
  if err != nil {
    return nil, "", err
  }
  resp, err := fs.client.Do(req)
  if err != nil {
    fs.log.Warn("document fetch failed", "url", url, "error", err)
    return nil, "", err
  }
  defer resp.Body.Close()

  if resp.StatusCode < 200 || resp.StatusCode > 299 {
    return nil, "", fmt.Errorf("document fetch HTTP %d", resp.StatusCode)
  }
  data, err := io.ReadAll(resp.Body)
  if err != nil {
    return nil, "", err
  }
  if len(data) == 0 {
    return nil, "", fmt.Errorf("document fetch returned an empty body")
  }
  return data, resp.Header.Get("Content-Type"), nil
}

// validateImagePayload rejects empty bodies, non-image content kinds, and
// payloads that do not decode as an image. A passing transport status with a
// broken payload is still a failed fetch.
func validateImagePayload(data []byte, mime string) error {
  if len(data) == 0 {
    return fmt.Errorf("image fetch returned an empty body")
  }
  if !strings.HasPrefix(mime, "image/") {
    return fmt.Errorf("image fetch returned content type %q", mime)
  }
  if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
    return fmt.Errorf("image payload does not decode: %w", err)
  }
  return nil
}
