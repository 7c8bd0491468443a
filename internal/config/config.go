package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Postgres   PostgresConfig
	GPU        GPUConfig
	Session    SessionConfig
	Reconciler ReconcilerConfig
	Health     HealthConfig
	Worker     WorkerConfig
	Metrics    MetricsConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	Addr     string
	User     string
	Password string
	Database string
}

// GPUConfig configures the provisioning API client.
type GPUConfig struct {
	APIKey         string
	GraphQLURL     string
	RESTURL        string
	GPUType        string
	TemplateID     string
	BidPerGPUHour  float64
	AllowAutoSetup bool // whether create-endpoint is permitted on this account
	RequestTimeout time.Duration
}

type SessionConfig struct {
	InputTimeout        time.Duration // waiting for the first unit of work
	ProcessingTimeout   time.Duration // per dispatched unit of work
	ReadinessPoll       time.Duration
	ReadinessTimeout    time.Duration
	ServiceReadyPoll    time.Duration
	ServiceReadyTimeout time.Duration
	ServiceProbeTimeout time.Duration
}

type ReconcilerConfig struct {
	Interval time.Duration
}

type HealthConfig struct {
	ProbeTimeout       time.Duration
	DegradedQueueDepth int
	DegradedLatencyMs  float64
}

type WorkerConfig struct {
	Concurrency int
}

type MetricsConfig struct {
	Addr string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         getEnv("SERVER_ADDR", ":8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Addr:     getEnv("POSTGRES_ADDR", "localhost:5432"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "aimex"),
		},
		GPU: GPUConfig{
			APIKey:         getEnv("GPU_API_KEY", ""),
			GraphQLURL:     getEnv("GPU_GRAPHQL_URL", "https://api.runpod.io/graphql"),
			RESTURL:        getEnv("GPU_REST_URL", "https://api.runpod.ai/v2"),
			GPUType:        getEnv("GPU_TYPE", "NVIDIA GeForce RTX 4090"),
			TemplateID:     getEnv("GPU_TEMPLATE_ID", ""),
			BidPerGPUHour:  getFloatEnv("GPU_BID_PER_HOUR", 0.3),
			AllowAutoSetup: getBoolEnv("GPU_ALLOW_AUTO_SETUP", false),
			RequestTimeout: getDurationEnv("GPU_REQUEST_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			InputTimeout:        getDurationEnv("SESSION_INPUT_TIMEOUT", 15*time.Minute),
			ProcessingTimeout:   getDurationEnv("SESSION_PROCESSING_TIMEOUT", 10*time.Minute),
			ReadinessPoll:       getDurationEnv("SESSION_READINESS_POLL", 10*time.Second),
			ReadinessTimeout:    getDurationEnv("SESSION_READINESS_TIMEOUT", 300*time.Second),
			ServiceReadyPoll:    getDurationEnv("SESSION_SERVICE_READY_POLL", 20*time.Second),
			ServiceReadyTimeout: getDurationEnv("SESSION_SERVICE_READY_TIMEOUT", 240*time.Second),
			ServiceProbeTimeout: getDurationEnv("SESSION_SERVICE_PROBE_TIMEOUT", 15*time.Second),
		},
		Reconciler: ReconcilerConfig{
			Interval: getDurationEnv("RECONCILER_INTERVAL", 60*time.Second),
		},
		Health: HealthConfig{
			ProbeTimeout:       getDurationEnv("HEALTH_PROBE_TIMEOUT", 15*time.Second),
			DegradedQueueDepth: getIntEnv("HEALTH_DEGRADED_QUEUE_DEPTH", 10),
			DegradedLatencyMs:  getFloatEnv("HEALTH_DEGRADED_LATENCY_MS", 30000),
		},
		Worker: WorkerConfig{
			Concurrency: getIntEnv("WORKER_CONCURRENCY", 5),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
