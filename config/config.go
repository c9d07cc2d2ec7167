package config

import (
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"aster-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`

	// PostgreSQL
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"aster"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Kafka Producer (engine events)
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"account-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Kafka Consumer (upstream account changes invalidate cached clusters)
	KafkaAccountChangesTopic string `env:"KAFKA_ACCOUNT_CHANGES_TOPIC" env-default:"account-changes"`
	KafkaConsumerGroup       string `env:"KAFKA_CONSUMER_GROUP" env-default:"aster-consumer"`
	KafkaConsumerEnabled     bool   `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Matching
	MatchThreshold         float64 `env:"MATCH_THRESHOLD" env-default:"0.5"`
	MatchWeightName        float64 `env:"MATCH_WEIGHT_NAME" env-default:"0.35"`
	MatchWeightDomain      float64 `env:"MATCH_WEIGHT_DOMAIN" env-default:"0.20"`
	MatchWeightIndustry    float64 `env:"MATCH_WEIGHT_INDUSTRY" env-default:"0.15"`
	MatchWeightDescription float64 `env:"MATCH_WEIGHT_DESCRIPTION" env-default:"0.15"`
	MatchWeightTags        float64 `env:"MATCH_WEIGHT_TAGS" env-default:"0.10"`
	MatchWeightPhone       float64 `env:"MATCH_WEIGHT_PHONE" env-default:"0.05"`
	// Bucketing is an approximation: accounts with no shared domain whose
	// names diverge in the first characters are never compared. Off unless
	// the population is too large for full pairwise scoring.
	MatchBucketingEnabled bool `env:"MATCH_BUCKETING_ENABLED" env-default:"false"`

	// Registry
	RegistryRefreshInterval time.Duration `env:"REGISTRY_REFRESH_INTERVAL" env-default:"5m"`

	// Merging
	MergeLockWaitTimeout time.Duration `env:"MERGE_LOCK_WAIT_TIMEOUT" env-default:"5s"`
	AutoCleanupEnabled   bool          `env:"AUTO_CLEANUP_ENABLED" env-default:"false"`
	AutoCleanupThreshold float64       `env:"AUTO_CLEANUP_THRESHOLD" env-default:"0.9"`
}

// Load reads configuration from the environment, sourcing a .env file if present
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
