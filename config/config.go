package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string `env:"APP_NAME" env-default:"zibridge"`
	Version                       string `env:"APP_VERSION" env-default:"dev"`
	Port                          int    `env:"PORT" env-default:"3000"`
	LogLevel                      string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool   `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int    `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"120"`
	HttpServerReadTimeoutSeconds  int    `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int    `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int    `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int    `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	StartupMaxAttempts            int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver, postgres or sqlite
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"zibridge"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// SQLite file when DB_DRIVER=sqlite
	DatabasePath string `env:"DB_PATH" env-default:"zibridge.db"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path, empty uses the embedded migrations
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:""`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Blob store backend: memory, fs or s3
	BlobDriver string `env:"BLOB_DRIVER" env-default:"fs"`
	BlobRoot   string `env:"BLOB_ROOT" env-default:"data"`
	// S3 or MinIO bucket
	S3Bucket         string `env:"S3_BUCKET" env-default:""`
	S3Region         string `env:"S3_REGION" env-default:"us-east-1"`
	S3Endpoint       string `env:"S3_ENDPOINT" env-default:""`
	S3AccessKey      string `env:"S3_ACCESS_KEY" env-default:""`
	S3SecretKey      string `env:"S3_SECRET_KEY" env-default:""`
	S3ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE" env-default:"true"`

	// Graph store: memory, or a Bolt URI for Neo4j/Memgraph
	GraphURI      string `env:"GRAPH_URI" env-default:"memory"`
	GraphUsername string `env:"GRAPH_USERNAME" env-default:""`
	GraphPassword string `env:"GRAPH_PASSWORD" env-default:""`

	// Redis, used for cross-process project locks. Disabled when host is empty.
	RedisHost      string `env:"REDIS_HOST" env-default:""`
	RedisPort      int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword  string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB        int    `env:"REDIS_DB" env-default:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" env-default:"zibridge:lock:"`

	// Kafka lifecycle events. Disabled when brokers is empty.
	KafkaBrokers     string `env:"KAFKA_BROKERS" env-default:""`
	KafkaEventsTopic string `env:"KAFKA_EVENTS_TOPIC" env-default:"zibridge-events"`

	// Tracing
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:""`
	OTLPProtocol string `env:"OTEL_EXPORTER_OTLP_PROTOCOL" env-default:"http"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"`

	// Sources
	HubSpotToken   string `env:"HUBSPOT_TOKEN" env-default:""`
	HubSpotBaseURL string `env:"HUBSPOT_BASE_URL" env-default:""`
	SourcePath     string `env:"SOURCE_PATH" env-default:""`

	// Workers
	SyncWorkers    int `env:"SYNC_WORKERS" env-default:"4"`
	RestoreWorkers int `env:"RESTORE_WORKERS" env-default:"4"`
	FlushSize      int `env:"SNAPSHOT_FLUSH_SIZE" env-default:"500"`
}

// Load reads an optional .env file (or the given files) and then the
// environment. Variables already set win over the file.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return &cfg, nil
}
