package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"realtime-service/internal/auth"
	"realtime-service/internal/config"
	"realtime-service/internal/db"
	grpcclient "realtime-service/internal/grpc"
	"realtime-service/internal/handlers"
	"realtime-service/internal/logger"
	"realtime-service/internal/middleware"
	"realtime-service/internal/observability"
	"realtime-service/internal/rabbitmq"
	"realtime-service/internal/relay"
	"realtime-service/internal/repositories"
	"realtime-service/internal/telemetry"
	"realtime-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLog, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer appLog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Otel.Endpoint, cfg.Otel.ServiceName)
	if err != nil {
		appLog.Warn("tracing disabled", "error", err)
	}

	database, err := db.Connect(cfg.DB, appLog)
	if err != nil {
		appLog.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	verifier, closeVerifier, err := buildVerifier(cfg.Auth)
	if err != nil {
		appLog.Error("failed to build token verifier", "mode", cfg.Auth.Mode, "error", err)
		os.Exit(1)
	}
	defer closeVerifier()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, appLog)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditKey, cfg.Otel.ServiceName, cfg.Environment, appLog)
	appLog.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))

	messageRepo := repositories.NewMessageRepo(database)
	notificationRepo := repositories.NewNotificationRepo(database)

	registry := ws.NewRegistry()
	router := ws.NewRouter(registry, messageRepo, notificationRepo, appLog.With("component", "router"))
	notifier := ws.NewNotifier(registry, appLog.With("component", "notifier"))

	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		notificationRelay := relay.NewRedisRelay(client, cfg.Redis.Channel, uuid.NewString(), appLog.With("component", "relay"))
		notifier.WithRelay(notificationRelay)
		go func() {
			if err := notificationRelay.Run(ctx, notifier.DeliverLocal); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("relay stopped", "error", err)
			}
		}()
	}

	wsHandler := ws.NewHandler(registry, ws.NewAuthenticator(verifier), router, audit, appLog.With("component", "ws"), ws.HandlerConfig{
		WriteTimeout:    cfg.WS.WriteTimeout,
		PongWait:        cfg.WS.PongWait,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
	})
	messageHandler := handlers.NewMessageHandler(messageRepo, appLog)
	notificationHandler := handlers.NewNotificationHandler(notificationRepo, notifier, audit, appLog)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(cfg.Otel.ServiceName))
	engine.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": registry.Len()})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.GET("/ws", wsHandler.Handle)

	engine.GET("/messages/:peer_id", authMiddleware, messageHandler.GetConversation)
	engine.GET("/notifications", authMiddleware, notificationHandler.ListNotifications)
	engine.PATCH("/notifications/:id/read", authMiddleware, notificationHandler.MarkRead)
	engine.POST("/internal/notifications", middleware.InternalTokenMiddleware(cfg.Internal.Token), notificationHandler.CreateNotifications)

	handlers.RegisterDebugRoutes(engine, audit, registry, cfg.Debug.Enabled)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLog.Info("realtime service listening", "addr", srv.Addr, "auth_mode", cfg.Auth.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("graceful shutdown failed", "error", err)
	}
	// Hijacked sockets are invisible to srv.Shutdown; drain them before the
	// database and publisher are closed by the deferred calls above.
	if err := wsHandler.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("websocket drain incomplete", "error", err)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			appLog.Warn("tracer shutdown failed", "error", err)
		}
	}
}

// buildVerifier picks the token verifier for the configured auth mode. The
// returned close func releases the gRPC connection when one was opened.
func buildVerifier(cfg config.AuthConfig) (ws.TokenVerifier, func(), error) {
	if cfg.Mode != config.AuthModeGRPC {
		return auth.NewJWTVerifier([]byte(cfg.JWTSecret)), func() {}, nil
	}

	conn, err := grpc.Dial(cfg.GRPCAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, nil, err
	}
	client, err := grpcclient.NewAuthClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return client, func() { conn.Close() }, nil
}
