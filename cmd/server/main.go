package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/config"
	"github.com/smsregister/smsregister/internal/handlers"
	"github.com/smsregister/smsregister/internal/middleware"
	"github.com/smsregister/smsregister/internal/repository"
	"github.com/smsregister/smsregister/internal/service"
	"github.com/smsregister/smsregister/internal/sms"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Log.Level).Warn("Unknown log level, using info")
	}

	clock := clockwork.NewRealClock()
	ctx := context.Background()

	var dynamoClient *dynamodb.Client
	if cfg.Storage.AccountBackend == "dynamodb" || cfg.Storage.VerificationBackend == "dynamodb" {
		dynamoClient, err = initDynamoDB(ctx, cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize DynamoDB")
		}
		if cfg.DynamoDB.CreateTable {
			if err := repository.EnsureTable(ctx, dynamoClient, cfg.DynamoDB.TableName, logger); err != nil {
				logger.WithError(err).Fatal("Failed to prepare DynamoDB table")
			}
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Endpoint != "" {
		redisClient, err = initRedis(ctx, cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Redis")
		}
		defer redisClient.Close()
	}

	// Initialize repositories
	var accountStore repository.AccountStore
	switch cfg.Storage.AccountBackend {
	case "dynamodb":
		accountStore = repository.NewAccountRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	default:
		logger.Warn("Using in-memory account store, data is lost on restart")
		accountStore = repository.NewMemoryAccountStore()
	}

	var verificationStore repository.VerificationStore
	switch cfg.Storage.VerificationBackend {
	case "redis":
		verificationStore = repository.NewRedisVerificationRepository(redisClient, cfg.Verification.Retention, logger)
	case "dynamodb":
		verificationStore = repository.NewVerificationRepository(dynamoClient, cfg.DynamoDB.TableName, cfg.Verification.Retention, logger)
	default:
		verificationStore = repository.NewMemoryVerificationStore()
	}

	var sender sms.Sender
	switch cfg.SMS.Provider {
	case "sens":
		sender = sms.NewSENSClient(&cfg.SMS, clock, logger)
	default:
		logger.Warn("SMS dry run enabled, verification codes are logged instead of sent")
		sender = sms.NewDryRunSender(cfg.SMS.MessageText, logger)
	}

	var limiter service.RateLimiter = service.NoopRateLimiter{}
	if redisClient != nil {
		limiter = service.NewRedisRateLimiter(redisClient, cfg.SMS.SendLimit, cfg.SMS.SendWindow, logger)
	}

	// Initialize services
	jwtService, err := service.NewJWTService(&cfg.JWT, clock, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	verificationService := service.NewVerificationService(verificationStore, accountStore, sender, limiter, clock, &cfg.SMS, logger)
	authService := service.NewAuthService(
		verificationService,
		accountStore,
		service.NewBcryptHasher(cfg.Password.BcryptCost),
		jwtService,
		clock,
		logger,
	)

	router := handlers.NewRouter(
		handlers.NewAccountHandlers(verificationService, authService, logger),
		handlers.NewAuthHandlers(authService, jwtService, logger),
		middleware.NewAuthMiddleware(jwtService, logger),
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func initDynamoDB(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
	})
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}
