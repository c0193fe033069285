package server

import (
	"context"
	"strings"
	"time"

	"anoa.com/taskhub/internal/config"
	"anoa.com/taskhub/internal/middleware"

	notiHttp "anoa.com/taskhub/internal/modules/notification/delivery/http"
	notifRepo "anoa.com/taskhub/internal/modules/notification/repository"
	notifService "anoa.com/taskhub/internal/modules/notification/service"

	projectRepo "anoa.com/taskhub/internal/modules/project/repository"

	realtimeHttp "anoa.com/taskhub/internal/modules/realtime/delivery/http"
	"anoa.com/taskhub/internal/modules/realtime/hub"
	"anoa.com/taskhub/internal/modules/realtime/presence"
	"anoa.com/taskhub/internal/modules/realtime/ratelimit"
	realtimeService "anoa.com/taskhub/internal/modules/realtime/service"

	taskRepo "anoa.com/taskhub/internal/modules/task/repository"

	tokenHttp "anoa.com/taskhub/internal/modules/token/delivery/http"
	tokenService "anoa.com/taskhub/internal/modules/token/service"

	userRepo "anoa.com/taskhub/internal/modules/user/repository"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Server struct {
	engine      *gin.Engine
	gateway     *realtimeService.Gateway
	db          *gorm.DB
	redisClient *redis.Client
}

// NewServer wires the gateway stack. When redisClient is nil every
// cross-process concern (fan-out bridge, presence, rate limiting, token
// cache) falls back to its in-process implementation; fine for a single
// instance, required for tests.
func NewServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) *Server {
	users := userRepo.NewUserRepository(db)
	projects := projectRepo.NewProjectRepository(db)
	tasks := taskRepo.NewTaskRepository(db)
	notifications := notifRepo.NewNotificationRepository(db)

	var (
		resultCache tokenService.ResultCache
		revocations tokenService.RevocationList
		limiter     ratelimit.Limiter
		presenceSt  presence.Store
		bridge      *hub.Bridge
	)
	if redisClient != nil {
		resultCache = tokenService.NewRedisResultCache(redisClient)
		revocations = tokenService.NewRedisRevocationList(redisClient)
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitWindow, cfg.RateLimitMax)
		presenceSt = presence.NewRedisStore(redisClient, cfg.PresenceTTL)
		bridge = hub.NewBridge(redisClient)
	} else {
		resultCache = tokenService.NewMemoryResultCache()
		revocations = tokenService.NewMemoryRevocationList()
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitWindow, cfg.RateLimitMax)
		presenceSt = presence.NewMemoryStore(cfg.PresenceTTL)
	}

	validator := tokenService.NewValidator(cfg.JWTSecret, users, resultCache, revocations, cfg.TokenCacheTTL)

	h := hub.New(bridge)
	if bridge != nil {
		bridge.Start(context.Background())
	}

	notificationSvc := notifService.NewNotificationService(notifications, projects, tasks, h)

	gateway := realtimeService.NewGateway(h, presenceSt, notificationSvc, projects, tasks, realtimeService.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		OutboundQueueSize: cfg.OutboundQueueSize,
		WorkerPoolSize:    cfg.WorkerPoolSize,
	})

	gatewayHandler := realtimeHttp.NewGatewayHandler(gateway, validator, limiter, cfg.AllowAnonymous)
	notificationHandler := notiHttp.NewNotificationHandler(notificationSvc, gateway)
	tokenHandler := tokenHttp.NewTokenHandler(validator)

	router := gin.New()

	setupCORS(router, cfg.AllowedOrigins)

	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	authMiddleware := middleware.NewAuthMiddleware(validator)

	// Websocket endpoints run their own handshake auth: the close code
	// carries the rejection, not an HTTP status.
	ws := router.Group("/ws")
	{
		ws.GET("/notifications", gatewayHandler.HandleNotifications)
		ws.GET("/projects/:project_id", gatewayHandler.HandleRoom)
	}

	api := router.Group("/api")

	internal := api.Group("/internal")
	internal.Use(middleware.RequireInternalKey(cfg.InternalAPIKey))
	{
		internal.POST("/events", notificationHandler.PublishEvent)
	}

	protected := api.Group("")
	protected.Use(authMiddleware.RequireAuth())
	{
		protected.GET("/notifications", notificationHandler.ListNotifications)
		protected.GET("/notifications/unread-count", notificationHandler.GetUnreadCount)
		protected.PUT("/notifications/:id/read", notificationHandler.MarkAsRead)
		protected.PUT("/notifications/read-all", notificationHandler.MarkAllAsRead)
		protected.POST("/auth/logout", tokenHandler.Logout)
	}

	return &Server{
		engine:      router,
		gateway:     gateway,
		db:          db,
		redisClient: redisClient,
	}
}

func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) Shutdown() {
	s.gateway.Shutdown()
}

func setupCORS(router *gin.Engine, allowedOrigins string) {
	var origins []string
	if allowedOrigins != "" {
		origins = strings.Split(allowedOrigins, ",")
	} else {
		origins = []string{"http://localhost:3000"}
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Internal-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}
