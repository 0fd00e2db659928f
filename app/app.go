package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/liveplay/engine/apperrors"
	"github.com/liveplay/engine/cache"
	"github.com/liveplay/engine/config"
	"github.com/liveplay/engine/database"
	commonevents "github.com/liveplay/engine/events"
	internalevents "github.com/liveplay/engine/internal/events"
	"github.com/liveplay/engine/internal/handler"
	"github.com/liveplay/engine/internal/ledger"
	"github.com/liveplay/engine/internal/projector"
	"github.com/liveplay/engine/internal/ratelimit"
	"github.com/liveplay/engine/internal/reconcile"
	"github.com/liveplay/engine/internal/repository"
	"github.com/liveplay/engine/internal/service"
	"github.com/liveplay/engine/internal/session"
	"github.com/liveplay/engine/logger"
	"github.com/liveplay/engine/models"
	"github.com/liveplay/engine/natsjetstream"
)

type App struct {
	cfg        *config.Config
	logger     *logger.Logger
	db         *database.DynamoDBClient
	redis      *cache.RedisClient
	natsClient *natsjetstream.Client

	engineService   service.EngineService
	board           *projector.Projector
	gate            *ratelimit.Gate
	eventPublisher  *internalevents.EventPublisher
	eventSubscriber *internalevents.EventSubscriber
	httpServer      *http.Server

	cleanup []func() error
}

func New(ctx context.Context, cfg *config.Config) (*App, *apperrors.AppError) {
	app := &App{
		cfg:     cfg,
		cleanup: make([]func() error, 0),
	}

	if err := app.initLogger(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternalServer, "failed to init logger")
	}

	if err := app.initDatabase(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternalServer, "failed to init database")
	}

	if err := app.initRedis(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternalServer, "failed to init redis client")
	}

	if appErr := app.initNATS(ctx); appErr != nil {
		return nil, appErr
	}

	if appErr := app.initEngine(ctx); appErr != nil {
		return nil, appErr
	}

	if err := app.initSubscriber(ctx); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternalServer, "failed to init event subscriber")
	}

	app.initHTTP()

	return app, nil
}

func (a *App) initLogger() error {
	if a.cfg.Server.Environment == "development" {
		a.logger = logger.Development("engine")
	} else {
		a.logger = logger.New(logger.Config{ServiceName: "engine", Level: a.cfg.Server.LogLevel})
	}
	return nil
}

func (a *App) initDatabase() error {
	db, err := database.NewDynamoDBClient(a.cfg)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	redisClient, err := cache.NewRedisClient(a.cfg.Redis)
	if err != nil {
		return err
	}
	if err := redisClient.Ping(ctx); err != nil {
		return err
	}

	a.redis = redisClient
	a.cleanup = append(a.cleanup, redisClient.Close)
	return nil
}

func (a *App) initNATS(ctx context.Context) *apperrors.AppError {
	natsClient, appErr := natsjetstream.NewClient(&natsjetstream.Config{
		URL:           a.cfg.NATS.URL,
		MaxReconnect:  a.cfg.NATS.MaxReconnect,
		ReconnectWait: time.Duration(a.cfg.NATS.ReconnectWaitSeconds) * time.Second,
		Timeout:       time.Duration(a.cfg.NATS.TimeoutSeconds) * time.Second,
	})
	if appErr != nil {
		return appErr
	}

	a.natsClient = natsClient

	stream := jetstream.StreamConfig{
		Name:     commonevents.LedgerEventsStream,
		Subjects: []string{commonevents.LedgerEventsWildcard},
	}

	if _, err := a.natsClient.JetStream().CreateOrUpdateStream(ctx, stream); err != nil {
		a.logger.Error("Failed to create stream",
			"error", err,
			"stream", stream.Name,
		)
		return apperrors.Wrap(err, apperrors.CodeInternalServer, "failed to create jetstream event stream")
	}
	a.logger.Info("Stream ready", "stream", stream.Name)

	a.cleanup = append(a.cleanup, natsClient.Close)

	return nil
}

func (a *App) initEngine(ctx context.Context) *apperrors.AppError {
	sessionRepo := repository.NewSessionRepository(a.db)
	participantRepo := repository.NewParticipantRepository(a.db)
	eventRepo := repository.NewEventRepository(a.db)
	transactionRepo := database.NewTransactionRepository(a.db)

	ledgerStore := repository.NewLedgerStore(a.db, eventRepo, participantRepo, transactionRepo)
	commitLedger := ledger.New(ledgerStore, ledger.Config{
		MaxAttempts: a.cfg.Engine.CommitMaxAttempts,
		BackoffBase: a.cfg.Engine.CommitBackoffBase,
	}, a.logger)

	authority := session.NewAuthority(sessionRepo, a.cfg.Engine.ConfigCacheTTL, a.logger)

	board := projector.New(a.redis, a.cfg.Engine.RecentFeedSize, a.cfg.Engine.LeaderboardTTL, a.logger)
	reconciler := reconcile.New(sessionRepo, participantRepo, eventRepo, board, a.logger)

	gate := ratelimit.NewGate(
		ratelimit.NewRedisCounter(a.redis),
		ratelimit.LimitSpec{Limit: a.cfg.Engine.SourceRateLimit, Window: a.cfg.Engine.SourceRateWindow},
		ratelimit.LimitSpec{Limit: a.cfg.Engine.FailureRateLimit, Window: a.cfg.Engine.FailureRateWindow},
		a.logger,
	)
	a.gate = gate

	a.eventPublisher = internalevents.NewEventPublisher(a.natsClient, a.logger)
	a.board = board

	a.engineService = service.NewEngineService(
		authority,
		sessionRepo,
		participantRepo,
		eventRepo,
		commitLedger,
		board,
		reconciler,
		a.eventPublisher,
		gate,
		models.ScoringParams{
			BasePoints:        a.cfg.Engine.DefaultBasePoints,
			TimeBonusMax:      a.cfg.Engine.DefaultTimeBonusMax,
			StreakMultipliers: a.cfg.Engine.DefaultStreakTable,
		},
		a.logger,
	)

	return nil
}

func (a *App) initSubscriber(ctx context.Context) error {
	a.eventSubscriber = internalevents.NewEventSubscriber(a.natsClient, a.board, a.logger)
	return a.eventSubscriber.Start(ctx)
}

func (a *App) initHTTP() {
	engineHandler := handler.NewEngineHandler(a.engineService, a.logger)

	checks := map[string]handler.HealthCheck{
		"redis": a.redis.Ping,
		"dynamodb": func(ctx context.Context) error {
			_, err := a.db.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
				TableName: aws.String(a.db.Table()),
			})
			return err
		},
		"nats": func(ctx context.Context) error {
			if !a.natsClient.IsConnected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		},
	}

	router := handler.NewRouter(engineHandler, a.gate, checks, a.logger)

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.HTTPPort),
		Handler: router,
	}
}

func (a *App) Start() *apperrors.AppError {
	go func() {
		a.logger.Info("HTTP server listening", "port", a.cfg.Server.HTTPPort)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatal("Failed to serve", "error", err)
		}
	}()

	a.logger.Info("Application started successfully")

	return nil
}

func (a *App) Stop() *apperrors.AppError {
	a.logger.Info("Stopping application...")

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Error("HTTP shutdown error", "error", err)
		}
	}

	for _, cleanup := range a.cleanup {
		if err := cleanup(); err != nil {
			a.logger.Error("Cleanup error", "error", err)
		}
	}

	a.logger.Info("Application stopped")
	return nil
}
