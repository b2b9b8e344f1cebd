package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peersupport-chat/api"
	"peersupport-chat/internal/auth"
	"peersupport-chat/internal/config"
	"peersupport-chat/internal/handler"
	"peersupport-chat/internal/messaging"
	"peersupport-chat/internal/middleware"
	"peersupport-chat/internal/observability"
	"peersupport-chat/internal/repository/postgres"
	"peersupport-chat/internal/service"
	"peersupport-chat/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting community chat server",
		slog.String("environment", cfg.Environment),
		slog.String("broadcast_backend", cfg.BroadcastBackend))

	connCtx, connCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer connCancel()

	db, err := config.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.PingContext(connCtx); err != nil {
		slog.Error("database ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := config.EnsureSchema(connCtx, db); err != nil {
		slog.Error("schema bootstrap failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to postgresql")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub()
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("hub error", slog.String("error", err.Error()))
		}
	}()
	slog.Info("room hub started")

	// Local fan-out by default. With the broker every instance, this one
	// included, receives the frame from its own queue.
	var (
		fanout websocket.Fanout = hub
		broker handler.Broker
	)
	if cfg.UsesBroker() {
		rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
		rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
		rmqCancel()
		if err != nil {
			slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rmq.Close()

		if err := messaging.NewBroadcastConsumer(rmq, hub).Start(ctx); err != nil {
			slog.Error("failed to start broadcast consumer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fanout = rmq
		broker = rmq
		slog.Info("broadcast backplane started", slog.String("exchange", messaging.BroadcastExchange))
	}

	tokens := auth.NewTokenService(cfg.TokenConfig())
	userRepo := postgres.NewUserRepository(db)
	messageRepo := postgres.NewMessageRepository(db)
	chatService := service.NewChatService(messageRepo, userRepo, tokens, websocket.NewRoomBroadcaster(fanout))

	opts := []websocket.DispatcherOption{websocket.WithSendTimeout(cfg.SendTimeout)}
	if cfg.SendRatePerSec > 0 {
		opts = append(opts, websocket.WithLimiter(middleware.NewRateLimiter(ctx, cfg.SendRatePerSec, cfg.SendBurst)))
	}
	dispatcher := websocket.NewDispatcher(hub, chatService, opts...)

	polls := websocket.NewPollManager(dispatcher, cfg.PollWait, cfg.PollSessionTTL)
	go polls.Run(ctx)

	origins := middleware.ParseOrigins(cfg.AllowedOrigins)
	wsHandler := handler.NewWebSocketHandler(dispatcher, origins)
	pollHandler := handler.NewPollingHandler(polls, cfg.PollWait)
	communityHandler := handler.NewCommunityHandler(chatService)

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestContext)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS(origins))
	r.Use(middleware.Metrics())

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(db, broker))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.OpenAPI)
	})

	r.Get("/ws", wsHandler.HandleConnection)

	r.Post("/poll", pollHandler.Open)
	r.Get("/poll/{sid}", pollHandler.Poll)
	r.Post("/poll/{sid}", pollHandler.Submit)
	r.Delete("/poll/{sid}", pollHandler.Close)

	r.Route("/api/v1", func(r chi.Router) {
		apiLimiter := middleware.NewRateLimiter(ctx, 20, 50)

		r.Use(middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig()))
		r.Use(middleware.Auth(tokens))
		r.Use(apiLimiter.Middleware())

		r.Get("/communities/{communityId}/messages", communityHandler.GetMessages)
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Long polls hold the response open for up to PollWait
		WriteTimeout: cfg.PollWait + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("chat server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	// Stops the hub, poll reaper, limiters and broker consumer
	cancel()
	<-hubDone

	slog.Info("server stopped gracefully")
}
