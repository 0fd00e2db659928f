package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AWS      AWSConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Server   ServerConfig
	Engine   EngineConfig
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

type DynamoDBConfig struct {
	TableName        string
	MaxRetries       int
	UseLocalEndpoint bool
}

type RedisConfig struct {
	Address  string
	Password string
}

type NATSConfig struct {
	URL                  string
	MaxReconnect         int
	ReconnectWaitSeconds int
	TimeoutSeconds       int
}

type ServerConfig struct {
	HTTPPort    int
	Environment string
	LogLevel    string
}

type EngineConfig struct {
	CommitMaxAttempts   int
	CommitBackoffBase   time.Duration
	ConfigCacheTTL      time.Duration
	RecentFeedSize      int
	LeaderboardTTL      time.Duration
	SourceRateLimit     int64
	SourceRateWindow    time.Duration
	FailureRateLimit    int64
	FailureRateWindow   time.Duration
	DefaultBasePoints   int
	DefaultTimeBonusMax int
	DefaultStreakTable  []float64
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")
	viper.AddConfigPath(configPath)

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LIVEPLAY")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Env-only deployments run without a config file.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("AWS.Region", "eu-west-1")
	viper.SetDefault("DynamoDB.TableName", "liveplay")
	viper.SetDefault("DynamoDB.MaxRetries", 3)
	viper.SetDefault("Redis.Address", "localhost:6379")
	viper.SetDefault("NATS.URL", "nats://localhost:4222")
	viper.SetDefault("NATS.MaxReconnect", 10)
	viper.SetDefault("NATS.ReconnectWaitSeconds", 2)
	viper.SetDefault("NATS.TimeoutSeconds", 5)
	viper.SetDefault("Server.HTTPPort", 8080)
	viper.SetDefault("Server.Environment", "development")
	viper.SetDefault("Server.LogLevel", "info")
	viper.SetDefault("Engine.CommitMaxAttempts", 4)
	viper.SetDefault("Engine.CommitBackoffBase", 25*time.Millisecond)
	viper.SetDefault("Engine.ConfigCacheTTL", 2*time.Second)
	viper.SetDefault("Engine.RecentFeedSize", 25)
	viper.SetDefault("Engine.LeaderboardTTL", 7*24*time.Hour)
	viper.SetDefault("Engine.SourceRateLimit", 60)
	viper.SetDefault("Engine.SourceRateWindow", time.Minute)
	viper.SetDefault("Engine.FailureRateLimit", 10)
	viper.SetDefault("Engine.FailureRateWindow", time.Minute)
	viper.SetDefault("Engine.DefaultBasePoints", 100)
	viper.SetDefault("Engine.DefaultTimeBonusMax", 50)
	viper.SetDefault("Engine.DefaultStreakTable", []float64{1.0, 1.2, 1.5, 2.0, 2.5, 3.0})
}
