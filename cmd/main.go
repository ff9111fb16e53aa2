package main

import (
  "fmt"
  "os"
  "time"

  "github.com/teachsketch-org/teachsketch-backend/internal/db"
  "github.com/teachsketch-org/teachsketch-backend/internal/handlers"
  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/middleware"
  "github.com/teachsketch-org/teachsketch-backend/internal/repos"
  "github.com/teachsketch-org/teachsketch-backend/internal/server"
  "github.com/teachsketch-org/teachsketch-backend/internal/services"
  "github.com/teachsketch-org/teachsketch-backend/internal/socket"
  "github.com/teachsketch-org/teachsketch-backend/internal/utils"
)

func main() {
  // Logger Setup
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Environment Variables
  log.Info("Attempting to load environment variables for Main now...")
  jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
  accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
  refreshTokenTTL := utils.GetEnvAsInt("REFRESH_TOKEN_TTL", 86400, log)
  redisAddress := utils.GetEnv("REDIS_ADDRESS", "localhost:6379", log)
  redisPassword := utils.GetEnv("REDIS_PASSWORD", "", log)
  log.Debug("Environment variables loaded for Main :)",
    "accessTokenTTL", accessTokenTTL,
    "refreshTokenTTL", refreshTokenTTL,
    "redisAddress", redisAddress,
  )

  // Postgres Setup
  log.Info("Setting Up Postgres from Main now...")
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("Fatal error: Cannot init Postgres", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Warn("Postgres auto migration failed", "error", err)
  }
  thePG := postgresService.DB()
  log.Info("Postgres Setup From Main Successful :)")

  // Repositories Setup
  log.Info("Setting Up Repositories from Main now...")
  userRepo := repos.NewUserRepo(thePG, log)
  userTokenRepo := repos.NewUserTokenRepo(thePG, log)
  userProfileRepo := repos.NewUserProfileRepo(thePG, log)
  chatSessionRepo := repos.NewChatSessionRepo(thePG, log)
  chatMessageRepo := repos.NewChatMessageRepo(thePG, log)
  log.Info("Repositories Set Up From Main Successful :)")

  // Websocket Setup
  log.Info("Setting Up Websocket Hub From Main Now :)")
  wsHub := socket.NewHub(log)
  log.Info("Websocket Hub Set Up From Main Successful :)")

  // Redis PubSub
  log.Info("Setting Up Redis PubSub From Main Now :)")
  redisChanName := "teachsketch_hub_broadcast"
  redisPubSub, err := socket.NewRedisPubSub(log, redisAddress, redisPassword, redisChanName)
  if err != nil {
    log.Warn("Failed to init redis pubsub", "error", err)
  } else {
    if err := redisPubSub.StartSubscriber(wsHub); err != nil {
      log.Warn("Failed to subscribe to Redis pub/sub", "error", err)
    } else {
      wsHub.SetRedisPubSub(redisPubSub)
      log.Info("Redis pubsub is active!")
    }
  }

  // Services Setup
  log.Info("Setting up Services from Main now...")
  bucketService, err := services.NewBucketService(log)
  if err != nil {
    log.Error("Fatal error: Cannot init BucketService", "error", err)
    os.Exit(1)
  }
  avatarService, err := services.NewAvatarService(log, bucketService)
  if err != nil {
    log.Error("Fatal error: Cannot init AvatarService", "error", err)
    os.Exit(1)
  }
  genaiService, err := services.NewGenAIService(log)
  if err != nil {
    log.Error("Fatal error: Cannot init GenAIService", "error", err)
    os.Exit(1)
  }
  fetcherService, err := services.NewAssetFetcherService(log)
  if err != nil {
    log.Error("Fatal error: Cannot init AssetFetcherService", "error", err)
    os.Exit(1)
  }
  notifier := socket.NewHubNotifier(wsHub)
  authService := services.NewAuthService(thePG, log, userRepo, userProfileRepo, userTokenRepo, avatarService, jwtSecretKey, time.Duration(accessTokenTTL)*time.Second, time.Duration(refreshTokenTTL)*time.Second)
  profileService := services.NewProfileService(thePG, log, userRepo, userProfileRepo, avatarService, notifier)
  chatService := services.NewChatService(thePG, log, chatSessionRepo, chatMessageRepo, genaiService, fetcherService, bucketService, notifier)
  log.Info("Services Set Up From Main Successful :)")

  //  Handler Setup
  log.Info("Setting Up Handlers from Main now...")
  authHandler := handlers.NewAuthHandler(authService)
  profileHandler := handlers.NewProfileHandler(profileService)
  chatHandler := handlers.NewChatHandler(chatService)
  relayHandler := handlers.NewRelayHandler(log)
  wsHandler := handlers.WsHandler(wsHub, log)
  log.Info("Handlers Set Up From Main Successful :)")

  // MiddleWare Setup
  log.Info("Setting Up Middleware from Main now...")
  authMiddleware := middleware.NewAuthMiddleware(log, authService)
  log.Info("Middleware Set Up From Main Successful :)")

  // Router Setup
  log.Info("Setting Up Router from Main now...")
  router := server.NewRouter(server.RouterConfig{
    AuthHandler:    authHandler,
    AuthMiddleware: authMiddleware,
    ProfileHandler: profileHandler,
    ChatHandler:    chatHandler,
    RelayHandler:   relayHandler,
    WsHandler:      wsHandler,
  })
  log.Info("Router Set Up From Main Successful :)")

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Warn("Server failed", "error", err)
  }

  // On Shutdown
  if redisPubSub != nil {
    redisPubSub.Stop()
  }
}
