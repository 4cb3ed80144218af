package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"tradechat/internal/backend"
	"tradechat/internal/chat"
	"tradechat/internal/config"
	"tradechat/internal/handlers"
	"tradechat/internal/middleware"
	"tradechat/internal/observability"
	"tradechat/internal/payment"
	"tradechat/internal/rabbitmq"
	"tradechat/internal/realtime"
	"tradechat/internal/state"
	"tradechat/internal/telemetry"
	"tradechat/internal/trade"
	"tradechat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}

	logger := newLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.AppName)
	if err != nil {
		logger.Fatal().Err(err).Msg("init tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	appState, err := state.Load(cfg.State.Path)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.State.Path).Msg("state load failed, starting fresh")
		appState = state.State{}
	}
	container := state.NewContainer(appState)

	store, err := realtime.Dial(ctx, cfg.Realtime.URL, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("url", cfg.Realtime.URL).Msg("connect realtime store")
	}
	defer store.Close()

	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.RequestsPerSecond, logger)

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	logger.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Msg("event publisher ready")

	audit := telemetry.NewAuditEmitter(publisher, "audit.tradechat", cfg.AppName, cfg.Telemetry.Environment, logger)

	hub := ws.NewHub(logger)

	manager := chat.NewManager(chat.Config{
		Store:    store,
		Mirror:   backendClient,
		PageSize: cfg.Realtime.PageSize,
		Logger:   logger,
	})
	defer manager.CloseAll()

	provider := payment.NewProvider(func() *payment.Gateway {
		return payment.NewGateway(cfg.Payment.BaseURL, cfg.Payment.KeyID, cfg.Payment.KeySecret, logger)
	})
	broker := payment.NewBroker(logger)

	orchestrator := trade.NewOrchestrator(trade.Config{
		Backend:     backendClient,
		Checkout:    broker,
		Provider:    provider,
		Notifier:    hub,
		Balances:    container,
		Events:      publisher,
		Logger:      logger,
		SettleDelay: cfg.Payment.SettleDelay,
		ReopenDelay: cfg.Payment.ReopenDelay,
	})

	chatHandler := handlers.NewChatHandler(manager, hub, container)
	tradeHandler := handlers.NewTradeHandler(orchestrator, broker, hub, audit, logger)
	chatWS := ws.NewChatWebSocketHandler(hub, manager, cfg.Auth.JWTSecretKey)
	notifyWS := ws.NewNotificationWebSocketHandler(hub, cfg.Auth.JWTSecretKey)

	if cfg.Telemetry.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.AppName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.Auth(cfg.Auth.JWTSecretKey)

	router.POST("/chats/start", authMiddleware, chatHandler.StartChat)
	router.GET("/chats/:conversation_id/state", authMiddleware, chatHandler.GetState)
	router.POST("/chats/:conversation_id/messages", authMiddleware, chatHandler.PostMessage)
	router.POST("/chats/:conversation_id/messages/older", authMiddleware, chatHandler.LoadOlder)
	router.POST("/chats/:conversation_id/read", authMiddleware, chatHandler.MarkRead)
	router.DELETE("/chats/:conversation_id", authMiddleware, chatHandler.CloseChat)

	router.POST("/trades", authMiddleware, tradeHandler.StartPurchase)
	router.POST("/payments/:order_id/callback", authMiddleware, tradeHandler.PaymentCallback)
	router.POST("/payments/:order_id/dismiss", authMiddleware, tradeHandler.PaymentDismiss)

	router.GET("/ws/chats/:conversation_id", chatWS.Handle)
	router.GET("/ws/notifications", notifyWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handlers.RegisterDebugRoutes(router, audit, cfg.Telemetry.Environment != "production")

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown")
	}

	if err := state.Save(cfg.State.Path, container.State()); err != nil {
		logger.Warn().Err(err).Str("path", cfg.State.Path).Msg("state save failed")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", "tradechat").Logger()
}
