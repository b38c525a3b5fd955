// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted for the LLM and embedding backends.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogleAI  = "googleai"
	ProviderBedrock   = "bedrock"
	ProviderVoyage    = "voyage"
)

// Vector store names accepted for KINTEL_VECTOR_STORE.
const (
	StoreSurrealDB = "surrealdb"
	StoreMemory    = "memory"
)

// Broker names accepted for KINTEL_BROKER.
const (
	BrokerRedis  = "redis"
	BrokerKafka  = "kafka"
	BrokerMemory = "memory"
)

// Config holds all configuration values.
type Config struct {
	// Vector store backend
	VectorStore string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Embeddings
	EmbedProvider  string
	EmbedModel     string
	EmbedDimension int

	// Generation
	LLMProvider string
	LLMModel    string

	// Provider credentials and endpoints
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	VoyageAPIKey    string
	VoyageAPIURL    string
	AWSRegion       string

	// Extraction
	UnstructuredAPIURL string
	UnstructuredAPIKey string

	// Reranking
	CohereAPIKey   string
	CohereModel    string
	CohereEndpoint string

	// Task queue
	Broker            string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaGroup        string
	QueueName         string
	ResultTTL         time.Duration
	StatusProbe       time.Duration
	WorkerConcurrency int
	WorkerName        string

	// HTTP
	ServerAddr string
	UploadDir  string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables. A .env file in the
// working directory and the YAML file named by KINTEL_CONFIG are applied
// first; variables already present in the environment always win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if path := os.Getenv("KINTEL_CONFIG"); path != "" {
		if err := applyFile(path); err != nil {
			return Config{}, err
		}
	}

	return Config{
		VectorStore: getEnv("KINTEL_VECTOR_STORE", StoreSurrealDB),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "kintel"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "documents"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		EmbedProvider:  getEnv("KINTEL_EMBED_PROVIDER", ProviderGoogleAI),
		EmbedModel:     getEnv("KINTEL_EMBED_MODEL", "embedding-001"),
		EmbedDimension: getEnvInt("KINTEL_EMBED_DIMENSION", 768),

		LLMProvider: getEnv("KINTEL_LLM_PROVIDER", ProviderGoogleAI),
		LLMModel:    getEnv("KINTEL_LLM_MODEL", "gemini-1.5-flash"),

		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		VoyageAPIKey:    getEnv("VOYAGE_API_KEY", ""),
		VoyageAPIURL:    getEnv("VOYAGE_API_URL", "https://api.voyageai.com/v1/embeddings"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		UnstructuredAPIURL: getEnv("UNSTRUCTURED_API_URL", "https://api.unstructuredapp.io"),
		UnstructuredAPIKey: getEnv("UNSTRUCTURED_API_KEY", ""),

		CohereAPIKey:   getEnv("COHERE_API_KEY", ""),
		CohereModel:    getEnv("COHERE_RERANK_MODEL", "rerank-english-v2.0"),
		CohereEndpoint: getEnv("COHERE_API_URL", "https://api.cohere.ai"),

		Broker:            getEnv("KINTEL_BROKER", BrokerRedis),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		KafkaBrokers:      splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "kintel.ingest"),
		KafkaGroup:        getEnv("KAFKA_GROUP", "kintel-workers"),
		QueueName:         getEnv("KINTEL_QUEUE", "ingest"),
		ResultTTL:         getEnvDuration("KINTEL_RESULT_TTL", 24*time.Hour),
		StatusProbe:       getEnvDuration("KINTEL_STATUS_PROBE_TIMEOUT", time.Second),
		WorkerConcurrency: getEnvInt("KINTEL_WORKER_CONCURRENCY", 4),
		WorkerName:        getEnv("KINTEL_WORKER_NAME", hostname()),

		ServerAddr: getEnv("KINTEL_SERVER_ADDR", ":8080"),
		UploadDir:  getEnv("KINTEL_UPLOAD_DIR", os.TempDir()),

		LogFile:  getEnv("KINTEL_LOG_FILE", "/tmp/kintel.log"),
		LogLevel: parseLogLevel(getEnv("KINTEL_LOG_LEVEL", "INFO")),
	}, nil
}

// applyFile reads a flat YAML mapping of variable names to values and exports
// every entry not already set in the environment.
func applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var values map[string]string
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for key, val := range values {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
		slog.Warn("ignoring invalid integer", "key", key, "value", val)
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration", "key", key, "value", val)
	}
	return defaultVal
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "worker"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
