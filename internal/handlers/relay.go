package handlers

import (
  "context"
  "fmt"
  "io"
  "net/http"
  "net/url"
  "strconv"
  "strings"
  "time"

  "github.com/gin-gonic/gin"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/utils"
)

// defaultAllowedHosts are the generation-provider storage hosts the relay
// will fetch from. Anything else is rejected before any outbound request.
var defaultAllowedHosts = []string{
  "oaidalleapiprodscus.blob.core.windows.net",
  "dalleprodscus.blob.core.windows.net",
}

type RelayHandler struct {
  log          *logger.Logger
  client       *http.Client
  allowedHosts []string
  fetchTimeout time.Duration
}

func NewRelayHandler(log *logger.Logger) *RelayHandler {
  handlerLog := log.With("handler", "RelayHandler")
  allowed := append([]string{}, defaultAllowedHosts...)
  if extra := utils.GetEnv("ASSET_ALLOWED_HOSTS", "", handlerLog); extra != "" {
    for _, host := range strings.Split(extra, ",") {
      if host = strings.TrimSpace(host); host != "" {
        allowed = append(allowed, host)
      }
    }
  }
  timeout := time.Duration(utils.GetEnvAsInt("RELAY_FETCH_TIMEOUT_SECONDS", 30, handlerLog)) * time.Second
  return &RelayHandler{
    log:          handlerLog,
    client:       &http.Client{Timeout: timeout},
    allowedHosts: allowed,
    fetchTimeout: timeout,
  }
}

// Handle serves every method on the relay route so wrong methods get a 405
// instead of gin's default 404.
func (rh *RelayHandler) Handle(c *gin.Context) {
  rh.setCORSHeaders(c)
  switch c.Request.Method {
  case http.MethodOptions:
    c.Status(http.StatusOK)
  case http.MethodPost:
    rh.downloadImage(c)
  default:
    c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
  }
}

func (rh *RelayHandler) downloadImage(c *gin.Context) {
  var req struct {
    URL string `json:"url"`
  }
  if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
    c.JSON(http.StatusBadRequest, gin.H{"error": "Missing url"})
    return
  }
  parsed, pErr := url.Parse(req.URL)
  if pErr != nil || parsed.Host == "" {
    c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid url"})
    return
  }
  if !rh.hostAllowed(parsed.Host) {
    rh.log.Warn("Rejected relay request for unauthorized host", "host", parsed.Host)
    c.JSON(http.StatusBadRequest, gin.H{"error": "Unauthorized domain"})
    return
  }

  ctx, cancel := context.WithTimeout(c.Request.Context(), rh.fetchTimeout)
  defer cancel()

  outbound, rErr := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
  if rErr != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid url", "details": rErr.Error()})
    return
  }
  resp, fErr := rh.client.Do(outbound)
  if fErr != nil {
    status := http.StatusBadGateway
    if ctx.Err() != nil {
      status = http.StatusGatewayTimeout
    }
    c.JSON(status, gin.H{"error": "Failed to fetch image", "details": fErr.Error()})
    return
  }
  defer resp.Body.Close()

  if resp.StatusCode < 200 || resp.StatusCode > 299 {
    c.JSON(resp.StatusCode, gin.H{"error": "Failed to fetch image", "details": fmt.Sprintf("upstream status %d", resp.StatusCode)})
    return
  }
  contentType := resp.Header.Get("Content-Type")
  if !strings.HasPrefix(contentType, "image/") {
    c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content type", "details": contentType})
    return
  }
  body, bErr := io.ReadAll(resp.Body)
  if bErr != nil {
    c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch image", "details": bErr.Error()})
    return
  }

  c.Header("Content-Length", strconv.Itoa(len(body)))
  c.Header("Cache-Control", "public, max-age=3600")
  c.Data(http.StatusOK, contentType, body)
}

func (rh *RelayHandler) hostAllowed(host string) bool {
  for _, allowed := range rh.allowedHosts {
    if strings.Contains(host, allowed) {
      return true
    }
  }
  return false
}

func (rh *RelayHandler) setCORSHeaders(c *gin.Context) {
  c.Header("Access-Control-Allow-Origin", "*")
  c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
  c.Header("Access-Control-Allow-Headers", "Content-Type")
}
