package server

import (
  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"

  "github.com/teachsketch-org/teachsketch-backend/internal/handlers"
  "github.com/teachsketch-org/teachsketch-backend/internal/middleware"
)

type RouterConfig struct {
  AuthHandler    *handlers.AuthHandler
  AuthMiddleware *middleware.AuthMiddleware
  ProfileHandler *handlers.ProfileHandler
  ChatHandler    *handlers.ChatHandler
  RelayHandler   *handlers.RelayHandler
  WsHandler      gin.HandlerFunc
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  //-----------------------------------------
  // Cors Setup
  //-----------------------------------------
  router.Use(cors.New(cors.Config{
    AllowOrigins: []string{
      "http://localhost:3000",
      "http://localhost:5173",
      "https://teachsketch.app",
      "https://www.teachsketch.app",
    },
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))
  router.Use(middleware.AttachErrorData())

  //-----------------------------------------
  // Health Routes
  //-----------------------------------------
  router.GET("/healthz", handlers.Healthz)

  //-----------------------------------------
  // Public Routes
  //-----------------------------------------
  api := router.Group("/api")
  {
    api.POST("/register", cfg.AuthHandler.Register)
    api.POST("/login", cfg.AuthHandler.Login)
    // Same-origin relay for the browser client; handles its own CORS and
    // method policy so wrong methods get a 405.
    api.Any("/download-image", cfg.RelayHandler.Handle)
  }

  //------------------------------------------
  // Protected Routes
  //------------------------------------------
  protected := api.Group("/")
  protected.Use(cfg.AuthMiddleware.RequireAuth())
  protected.POST("/refresh", cfg.AuthHandler.Refresh)
  protected.POST("/logout", cfg.AuthHandler.Logout)
  protected.GET("/ws", cfg.WsHandler)

  //Profile
  protected.GET("/profile", cfg.ProfileHandler.GetMyProfile)
  protected.PATCH("/profile", cfg.ProfileHandler.UpdateMyProfile)

  //Sessions + Messages
  protected.POST("/sessions", cfg.ChatHandler.CreateSession)
  protected.GET("/sessions", cfg.ChatHandler.ListSessions)
  protected.PATCH("/sessions/:sessionID", cfg.ChatHandler.RenameSession)
  protected.GET("/sessions/:sessionID/messages", cfg.ChatHandler.GetSessionMessages)
  protected.POST("/sessions/:sessionID/messages", cfg.ChatHandler.SendMessage)
  protected.POST("/sessions/:sessionID/files", cfg.ChatHandler.SendFile)

  return router
}
