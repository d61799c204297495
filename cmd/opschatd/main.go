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

	"github.com/joho/godotenv"

	authsvc "opschat/internal/app/services/auth"
	chatsvc "opschat/internal/app/services/chat"
	"opschat/internal/infra/broker/kafka"
	"opschat/internal/infra/config"
	"opschat/internal/infra/db/mongo"
	"opschat/internal/infra/db/scylla"
	ginserver "opschat/internal/infra/http/gin"
	"opschat/internal/infra/hub"
	"opschat/internal/infra/obs"
	"opschat/internal/infra/security"
	"opschat/internal/infra/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("opschatd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("opschatd stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	mongoClient, err := mongo.New(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Close(closeCtx); err != nil {
			logger.Warn("mongo disconnect failed", "error", err)
		}
	}()
	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	err = mongoClient.Ping(pingCtx)
	cancelPing()
	if err != nil {
		return err
	}
	logger.Info("mongo connected", "db", cfg.MongoDB)

	conversations := mongo.NewConversationStore(mongoClient, logger)
	users := mongo.NewUserRepository(mongoClient)
	sessions := mongo.NewSessionStore(mongoClient)
	for _, ensure := range []func(context.Context) error{
		conversations.EnsureIndexes,
		users.EnsureIndexes,
		sessions.EnsureIndexes,
	} {
		if err := ensure(ctx); err != nil {
			logger.Warn("mongo index setup failed", "error", err)
		}
	}

	scyllaSession, err := scylla.NewSession(cfg, logger)
	if err != nil {
		return err
	}
	defer scyllaSession.Close()
	messages := scylla.NewMessageStore(scyllaSession, logger)

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
	if err != nil {
		return err
	}
	defer producer.Close()
	events := kafka.NewEventPublisher(producer, cfg.KafkaTopicPrefix, logger)

	var uploader s3.Uploader
	if client, err := s3.NewClient(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger); err != nil {
		logger.Warn("s3 uploader unavailable, uploads will be refused", "error", err)
		uploader = s3.NoopUploader{}
	} else {
		uploader = client
	}

	chatService := &chatsvc.Service{
		Conversations: conversations,
		Messages:      messages,
		Events:        events,
		Logger:        logger,
		PageSize:      cfg.MessagePageSize,
	}
	authService := &authsvc.Service{
		Users:      users,
		Sessions:   sessions,
		Passwords:  security.BcryptHasher{},
		Tokens:     security.RandomTokenGenerator{},
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}

	pushHub := hub.New(logger)
	relay := kafka.NewRelay(pushHub, logger)
	consumerCfg, err := kafka.ConsumerConfig(cfg.KafkaVersion)
	if err != nil {
		return err
	}
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, consumerCfg, relay, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()
	go func() {
		topic := kafka.TopicName(cfg.KafkaTopicPrefix)
		if err := consumer.Run(ctx, []string{topic}); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event relay stopped", "error", err, "topic", topic)
		}
	}()

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.NewHealthHandlers(func() error {
		readyCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return mongoClient.Ping(readyCtx)
	}), ginserver.Handlers{
		Auth:           ginserver.AuthHandler{Service: authService, Logger: logger},
		Chat:           ginserver.ChatHandler{Service: chatService, Logger: logger, PageSize: cfg.MessagePageSize},
		Upload:         ginserver.UploadHandler{Uploader: uploader, Logger: logger},
		WS:             ginserver.NewWSHandler(pushHub, chatService, logger),
		AuthMiddleware: ginserver.AuthMiddleware{Service: authService, Logger: logger}.Handle,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
