package middleware

import (
  "net/http"
  "strings"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/teachsketch-org/teachsketch-backend/internal/errordata"
  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/requestdata"
  "github.com/teachsketch-org/teachsketch-backend/internal/services"
)

type AuthMiddleware struct {
  log         *logger.Logger
  authService services.AuthService
}

func NewAuthMiddleware(log *logger.Logger, authService services.AuthService) *AuthMiddleware {
  middlewareLogger := log.With("Middleware", "AuthMiddleware")
  return &AuthMiddleware{log: middlewareLogger, authService: authService}
}

// AttachErrorData installs a per-request error detail carrier so services
// can surface a user-facing message next to the generic error.
func AttachErrorData() gin.HandlerFunc {
  return func(c *gin.Context) {
    c.Request = c.Request.WithContext(errordata.WithErrorData(c.Request.Context()))
    c.Next()
  }
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
  return func(c *gin.Context) {
    tokenString := extractTokenFromAll(c)
    am.log.Debug("TokenString:", "tokenstring", tokenString)
    if tokenString == "" {
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
      return
    }
    ctx, err := am.authService.SetContextFromToken(c.Request.Context(), tokenString)
    if err != nil {
      c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
      return
    }
    c.Request = c.Request.WithContext(ctx)
    rd := requestdata.GetRequestData(ctx)
    if rd == nil || rd.UserID == uuid.Nil {
      c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden - invalid user id"})
      return
    }
    c.Next()
  }
}

func extractTokenFromAll(c *gin.Context) string {
  if qToken := c.Query("token"); qToken != "" {
    return qToken
  }
  authHeader := c.GetHeader("Authorization")
  if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
    return authHeader[7:]
  }
  return ""
}
