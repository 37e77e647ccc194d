package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"staffchat/infrastructure/db"
	"staffchat/infrastructure/logging"
	"staffchat/infrastructure/scheduler"
	"staffchat/infrastructure/ws"
	"staffchat/internal/config"
	httpHandler "staffchat/internal/delivery/http"
	"staffchat/internal/delivery/websocket"
	"staffchat/internal/repository"
	"staffchat/internal/repository/sqlite"
	"staffchat/internal/typing"
	"staffchat/internal/unread"
	"staffchat/internal/usecase"
	"staffchat/pkg/jwt"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type stores struct {
	messageRepo    repository.MessageRepository
	groupRepo      repository.GroupRepository
	userRepo       repository.UserRepository
	readMarkerRepo repository.ReadMarkerRepository
	pinger         usecase.StorePinger
	close          func(ctx context.Context) error
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		sqliteDb, err := db.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to SQLite", zap.String("path", cfg.SQLitePath))
		return &stores{
			messageRepo:    sqlite.NewMessageRepository(sqliteDb.DB),
			groupRepo:      sqlite.NewGroupRepository(sqliteDb.DB),
			userRepo:       sqlite.NewUserRepository(sqliteDb.DB),
			readMarkerRepo: sqlite.NewReadMarkerRepository(sqliteDb.DB),
			pinger:         sqliteDb,
			close:          sqliteDb.Close,
		}, nil
	}

	mongoDb, err := db.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase))
	return &stores{
		messageRepo:    repository.NewMessageRepository(*mongoDb.DB),
		groupRepo:      repository.NewGroupRepository(*mongoDb.DB),
		userRepo:       repository.NewUserRepository(*mongoDb.DB),
		readMarkerRepo: repository.NewReadMarkerRepository(*mongoDb.DB),
		pinger:         mongoDb,
		close:          mongoDb.Close,
	}, nil
}

func newHub(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ws.IHub, func() error, error) {
	memHub := ws.NewHub(logger, cfg.MaxSendFailures)
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory hub (single server)")
		return memHub, func() error { return nil }, nil
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("using Redis hub", zap.String("addr", cfg.RedisAddr), zap.String("server", cfg.ServerID))
	return ws.NewRedisHub(memHub, redisClient, cfg.ServerID, logger), redisClient.Close, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := st.close(closeCtx); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	hub, closeHub, err := newHub(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeHub()

	var jwtManager *jwt.JWTManager
	if cfg.JWTSecret != "" {
		jwtManager = jwt.NewJWTManager(cfg.JWTSecret, 15*time.Minute)
	} else {
		logger.Warn("JWT_SECRET not set: the HTTP API is disabled and websocket identity is not verified")
	}

	// Initialize use cases
	health := usecase.NewHealth(st.pinger, logger)
	tracker := unread.NewTracker()
	messageUc := usecase.NewMessageUsecase(st.messageRepo, st.groupRepo, tracker, hub, health, usecase.MessageOptions{
		MaxTextLength: cfg.MaxTextLength,
		StoreTimeout:  cfg.StoreTimeout,
		HistoryLimit:  cfg.HistoryLimit,
	}, logger)
	unreadUc := usecase.NewUnreadUsecase(st.messageRepo, st.groupRepo, st.readMarkerRepo, tracker, hub, health, cfg.StoreTimeout, logger)
	typingUc := usecase.NewTypingUsecase(typing.NewManager(cfg.TypingTTL), st.groupRepo, st.userRepo, hub, cfg.StoreTimeout, logger)

	// Initialize handlers
	websocketH := websocket.NewWebsocketHandler(hub, messageUc, unreadUc, typingUc, jwtManager, websocket.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		RequireAuth:    cfg.RequireAuth,
		SendBufferSize: cfg.SendBufferSize,
	}, logger)
	hub.OnClientUnregister(websocketH.HandleUnregisterClient)
	httpH := httpHandler.NewHttpHandler(messageUc, unreadUc, hub, health, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(httpHandler.RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(httpHandler.CORS(cfg.AllowedOrigin))
	httpHandler.MapHttpRoutes(router, httpH, websocketH, httpHandler.NewAuthMiddleware(jwtManager))

	sched, err := scheduler.NewScheduler(logger)
	if err != nil {
		return err
	}
	if err := sched.Every("typing-sweep", cfg.TypingSweep, func(ctx context.Context) {
		if n := typingUc.Sweep(ctx); n > 0 {
			logger.Debug("typing signals expired", zap.Int("count", n))
		}
	}); err != nil {
		return err
	}
	if err := sched.Every("store-health", cfg.HealthInterval, func(ctx context.Context) {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := health.Check(checkCtx); err != nil {
			logger.Debug("store health check failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("HTTP server is running", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
