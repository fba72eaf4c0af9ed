package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	DynamoDB     DynamoDBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Verification VerificationConfig
	SMS          SMSConfig
	Password     PasswordConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StorageConfig selects the account and verification backends.
// Accepted values: "dynamodb", "memory" (accounts) and additionally "redis" (verifications).
type StorageConfig struct {
	AccountBackend      string
	VerificationBackend string
}

type DynamoDBConfig struct {
	Endpoint    string
	Region      string
	TableName   string
	CreateTable bool
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey     string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

type VerificationConfig struct {
	// Retention is how long a verification record is kept physically.
	// It must stay well above the 5 minute validity window.
	Retention time.Duration
}

type SMSConfig struct {
	Provider    string
	BaseURL     string
	AccessKey   string
	SecretKey   string
	ServiceID   string
	Sender      string
	Timeout     time.Duration
	SendLimit   int
	SendWindow  time.Duration
	MessageText string
}

type PasswordConfig struct {
	BcryptCost int
}

type LogConfig struct {
	Level string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real env vars win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	accountBackend := strings.ToLower(getEnv("STORAGE_BACKEND", "dynamodb"))

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Storage: StorageConfig{
			AccountBackend:      accountBackend,
			VerificationBackend: strings.ToLower(getEnv("VERIFICATION_BACKEND", accountBackend)),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:    getEnv("DYNAMODB_ENDPOINT", ""),
			Region:      getEnv("DYNAMODB_REGION", "ap-northeast-2"),
			TableName:   getEnv("DYNAMODB_TABLE_NAME", "SmsRegisterTable"),
			CreateTable: getEnvAsBool("DYNAMODB_CREATE_TABLE", false),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", ""),
			AccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 5*time.Minute),
			RefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 24*time.Hour),
		},
		Verification: VerificationConfig{
			Retention: getEnvAsDuration("VERIFICATION_RETENTION", 24*time.Hour),
		},
		SMS: SMSConfig{
			Provider:    strings.ToLower(getEnv("SMS_PROVIDER", "dryrun")),
			BaseURL:     getEnv("SMS_BASE_URL", "https://sens.apigw.ntruss.com"),
			AccessKey:   getEnv("SMS_ACCESS_KEY", ""),
			SecretKey:   getEnv("SMS_SECRET_KEY", ""),
			ServiceID:   getEnv("SMS_SERVICE_ID", ""),
			Sender:      getEnv("SMS_SENDER", ""),
			Timeout:     getEnvAsDuration("SMS_TIMEOUT", 5*time.Second),
			SendLimit:   getEnvAsInt("SMS_SEND_LIMIT", 5),
			SendWindow:  getEnvAsDuration("SMS_SEND_WINDOW", 10*time.Minute),
			MessageText: getEnv("SMS_MESSAGE_TEXT", "[SMS Register] Your verification code is [%d]."),
		},
		Password: PasswordConfig{
			BcryptCost: getEnvAsInt("BCRYPT_COST", 10),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	switch c.Storage.AccountBackend {
	case "dynamodb", "memory":
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.AccountBackend)
	}

	switch c.Storage.VerificationBackend {
	case "dynamodb", "memory":
	case "redis":
		if c.Redis.Endpoint == "" {
			return fmt.Errorf("REDIS_ENDPOINT is required when VERIFICATION_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported VERIFICATION_BACKEND %q", c.Storage.VerificationBackend)
	}

	switch c.SMS.Provider {
	case "dryrun":
	case "sens":
		if c.SMS.AccessKey == "" || c.SMS.SecretKey == "" || c.SMS.ServiceID == "" || c.SMS.Sender == "" {
			return fmt.Errorf("SMS_ACCESS_KEY, SMS_SECRET_KEY, SMS_SERVICE_ID and SMS_SENDER are required when SMS_PROVIDER=sens")
		}
	default:
		return fmt.Errorf("unsupported SMS_PROVIDER %q", c.SMS.Provider)
	}

	if c.SMS.Timeout <= 0 {
		return fmt.Errorf("SMS_TIMEOUT must be positive")
	}

	if c.SMS.SendLimit > 0 && c.SMS.SendWindow <= 0 {
		return fmt.Errorf("SMS_SEND_WINDOW must be positive when SMS_SEND_LIMIT is set")
	}

	if c.Verification.Retention < 10*time.Minute {
		return fmt.Errorf("VERIFICATION_RETENTION must be at least 10m")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
