package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds shared runtime configuration for the feeder, monitor, and
// requeuer services.
type Config struct {
	Env       string
	AdminAddr string
	LogLevel  string

	// Blob store selection. "s3" in production, "redis" for local runs.
	StoreBackend  string
	S3Region      string
	S3Endpoint    string
	S3PathStyle   bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Catalog and ledger locations.
	CatalogBucket    string
	CatalogPrefix    string
	CatalogPattern   string
	LedgerObjectName string

	// Attempt log location.
	LogsBucket string
	LogsPrefix string

	// Compute backend.
	BatchQueue         string
	BatchJobDefinition string
	OutputBucket       string
	DebugBucket        string

	// Submission policy.
	MaxActiveJobs       int
	GranuleSubmitCount  int
	MaxInternalAttempts int

	// Queues.
	RetryQueueURL      string
	DeadLetterQueueURL string
	MonitorQueueURL    string

	// Loop cadence.
	FeederSchedule   string
	PollInterval     time.Duration
	ReceiveWait      time.Duration
	ReceiveBatchSize int
}

// Load reads configuration from environment variables with sane defaults for
// local development.
func Load() Config {
	return Config{
		Env:       getEnv("APP_ENV", "dev"),
		AdminAddr: getEnv("ADMIN_ADDR", ":9090"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),

		StoreBackend:  getEnv("STORE_BACKEND", "s3"),
		S3Region:      getEnv("S3_REGION", "us-west-2"),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3PathStyle:   getEnvBool("S3_PATH_STYLE", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		CatalogBucket:    getEnv("CATALOG_BUCKET", ""),
		CatalogPrefix:    getEnv("CATALOG_PREFIX", "inventory"),
		CatalogPattern:   getEnv("CATALOG_PATTERN", `.*granule.*\.parquet$`),
		LedgerObjectName: getEnv("LEDGER_OBJECT_NAME", "progress.ndjson"),

		LogsBucket: getEnv("LOGS_BUCKET", ""),
		LogsPrefix: getEnv("LOGS_PREFIX", "logs"),

		BatchQueue:         getEnv("BATCH_QUEUE_NAME", ""),
		BatchJobDefinition: getEnv("BATCH_JOB_DEFINITION_NAME", ""),
		OutputBucket:       getEnv("OUTPUT_BUCKET", ""),
		DebugBucket:        getEnv("DEBUG_BUCKET", ""),

		MaxActiveJobs:       getEnvInt("MAX_ACTIVE_JOBS", 10000),
		GranuleSubmitCount:  getEnvInt("GRANULE_SUBMIT_COUNT", 5000),
		MaxInternalAttempts: getEnvInt("MAX_INTERNAL_ATTEMPTS", 3),

		RetryQueueURL:      getEnv("RETRY_QUEUE_URL", ""),
		DeadLetterQueueURL: getEnv("DLQ_URL", ""),
		MonitorQueueURL:    getEnv("MONITOR_QUEUE_URL", ""),

		FeederSchedule:   getEnv("FEEDER_SCHEDULE", "@every 5m"),
		PollInterval:     getEnvDuration("POLL_INTERVAL", 5*time.Second),
		ReceiveWait:      getEnvDuration("RECEIVE_WAIT", 10*time.Second),
		ReceiveBatchSize: getEnvInt("RECEIVE_BATCH_SIZE", 10),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
