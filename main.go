package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-backend/internal/auth"
	"chat-backend/internal/config"
	"chat-backend/internal/db"
	"chat-backend/internal/handlers"
	"chat-backend/internal/logging"
	"chat-backend/internal/middleware"
	"chat-backend/internal/notify"
	"chat-backend/internal/observability"
	"chat-backend/internal/rabbitmq"
	"chat-backend/internal/repositories"
	"chat-backend/internal/services"
	"chat-backend/internal/storage"
	"chat-backend/internal/telemetry"
	"chat-backend/internal/ws"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.Env, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	files, err := storage.NewLocalStore(cfg.StorageDir, cfg.PublicBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare storage")
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("JWT_SECRET is required")
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Env)

	store := repositories.NewSQLStore(database)
	hub := ws.NewHub()

	fanOut := notify.NewFanOut(store.Users(), store.Groups(), store.Messages(), pushDispatcher(cfg), notify.Options{
		Timeout:     cfg.PushTimeout,
		Concurrency: cfg.PushConcurrency,
	})

	accountService := services.NewAccountService(store, files, issuer)
	messageService := services.NewMessageService(store, files, hub, fanOut)
	groupService := services.NewGroupService(store, files, hub)
	conversationService := services.NewConversationService(store, files)

	accountHandler := handlers.NewAccountHandler(accountService, audit)
	messageHandler := handlers.NewMessageHandler(messageService, audit)
	groupHandler := handlers.NewGroupHandler(groupService, audit)
	conversationHandler := handlers.NewConversationHandler(conversationService)
	wsHandler := ws.NewHandler(hub, accountService, store.Groups())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "X-Request-Id", "X-Device-Id")
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static("/storage", files.Root())

	router.POST("/register", accountHandler.Register)
	router.POST("/login", accountHandler.Login)

	authed := router.Group("/")
	authed.Use(middleware.AuthMiddleware(accountService))

	authed.POST("/logout", accountHandler.Logout)
	authed.GET("/user", accountHandler.Show)
	authed.PUT("/user", accountHandler.Update)
	authed.POST("/user/fcm-token", accountHandler.PushToken)
	authed.POST("/user/avatar", accountHandler.Avatar)
	authed.GET("/users", accountHandler.Users)

	authed.GET("/conversations", conversationHandler.Index)

	authed.GET("/messages/user/:id", messageHandler.ByUser)
	authed.GET("/messages/group/:id", messageHandler.ByGroup)
	authed.GET("/messages/:id/older", messageHandler.Older)
	authed.POST("/messages", messageHandler.Store)
	authed.DELETE("/messages/:id", messageHandler.Destroy)
	authed.POST("/messages/user/:id/read", messageHandler.ReadUser)
	authed.POST("/messages/group/:id/read", messageHandler.ReadGroup)

	authed.GET("/groups", groupHandler.ListGroups)
	authed.POST("/groups", groupHandler.CreateGroup)
	authed.PUT("/groups/:id", groupHandler.UpdateGroup)
	authed.DELETE("/groups/:id", groupHandler.DeleteGroup)

	router.GET("/ws", wsHandler.HandleUser)
	router.GET("/ws/groups/:id", wsHandler.HandleGroup)

	handlers.RegisterDebugRoutes(authed, audit, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
}

// pushDispatcher routes Expo tokens to the Expo API and everything else to FCM
// when a service account is available.
func pushDispatcher(cfg config.Config) notify.Dispatcher {
	client := resty.New().SetTimeout(cfg.PushTimeout)
	dispatcher := notify.Dispatcher{Expo: notify.NewExpoSender(client, cfg.ExpoPushURL)}

	account, err := notify.LoadServiceAccount(cfg.FirebaseServiceAccountPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.FirebaseServiceAccountPath).Msg("fcm disabled: service account unavailable")
		return dispatcher
	}
	dispatcher.FCM = notify.NewFCMSender(client, cfg.FirebaseProjectID, account)
	return dispatcher
}
