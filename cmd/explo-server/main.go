package main

import (
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/staryskies/explo/internal/api/handlers"
	"github.com/staryskies/explo/internal/api/middleware"
	"github.com/staryskies/explo/internal/config"
	"github.com/staryskies/explo/internal/crypto"
	"github.com/staryskies/explo/internal/database"
	"github.com/staryskies/explo/internal/session/runtime"
	"github.com/staryskies/explo/internal/store"
	"github.com/staryskies/explo/internal/websocket"
	"github.com/staryskies/explo/pkg/logger"
)

func main() {
	// A missing .env is fine; the environment still wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Infof("Opening database: %s", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	jwtManager, err := crypto.NewJWTManager(cfg.MasterSecret, cfg.TokenTTL)
	if err != nil {
		logger.Errorf("Failed to create JWT manager: %v", err)
		os.Exit(1)
	}

	logger.Infof("Initializing socket.io server...")
	socketIOServer := websocket.NewSocketIOServer(jwtManager)
	defer socketIOServer.Close()

	squads := runtime.NewManager(store.New(db.DB), socketIOServer, cfg.SquadCapacity)
	socketIOServer.SetRuntime(squads)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	router.Use(middleware.LoggingMiddleware())

	router.GET("/", func(c *gin.Context) {
		c.String(200, "Explo squad server")
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := handlers.NewAuthHandler(db.DB, jwtManager)
	squadHandler := handlers.NewSquadHandler(squads)
	messageHandler := handlers.NewMessageHandler(squads)

	v1 := router.Group("/v1")
	{
		v1.POST("/auth/guest", authHandler.PostGuest)
		v1.POST("/auth/register", authHandler.PostRegister)
		v1.POST("/auth/login", authHandler.PostLogin)
	}

	protected := v1.Group("")
	protected.Use(middleware.AuthMiddleware(jwtManager))
	{
		protected.POST("/squads", squadHandler.CreateSquad)
		protected.POST("/squads/join", squadHandler.JoinSquad)
		protected.POST("/squads/leave", squadHandler.LeaveSquad)
		protected.GET("/squads/:id", squadHandler.GetSquad)
		protected.POST("/squads/:id/state", squadHandler.PostGameState)

		protected.GET("/messages", messageHandler.ListMessages)
		protected.POST("/messages", messageHandler.PostMessage)
	}

	// socket.io transport endpoint
	router.Any("/v1/updates/*any", socketIOServer.HandleSocketIO())

	logger.Infof("Listening on %s", cfg.Addr)
	if err := router.Run(cfg.Addr); err != nil {
		logger.Errorf("Server error: %v", err)
		os.Exit(1)
	}
}
