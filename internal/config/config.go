package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Briefly server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AI       AIConfig
	Queue    QueueConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Gemini           GeminiConfig
	OpenAI           OpenAIConfig
}

type GeminiConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

// QueueConfig controls the durable job queue's retry and retention policy.
type QueueConfig struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	FailedRetention int
	Concurrency     int
	// VisibilityTimeout is how long a checked-out job may sit unacked
	// before it is reclaimed for another worker.
	VisibilityTimeout time.Duration
	// DedupeTTL caps how long an in-flight dedupe claim can block
	// re-enqueueing the same task.
	DedupeTTL time.Duration
}

// PipelineConfig holds the knobs the stage functions read.
type PipelineConfig struct {
	ChunkSize           int
	CoherenceTopK       int
	SimilarityThreshold float64
	ContradictionCutoff float64
	FetchTimeout        time.Duration
	// StageTimeout bounds one stage attempt end to end, including its
	// store calls. Zero disables the deadline.
	StageTimeout time.Duration
}

var validProviders = map[string]bool{
	"gemini": true,
	"openai": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("BRIEFLY_PORT", 8080),
			Env:  envString("BRIEFLY_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			Gemini: GeminiConfig{
				APIKey:         os.Getenv("GEMINI_API_KEY"),
				BaseURL:        envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
				Model:          envString("GEMINI_MODEL", "gemini-pro"),
				EmbeddingModel: envString("GEMINI_EMBEDDING_MODEL", "embedding-001"),
			},
			OpenAI: OpenAIConfig{
				APIKey:         os.Getenv("OPENAI_API_KEY"),
				BaseURL:        envString("OPENAI_BASE_URL", "https://api.openai.com"),
				Model:          envString("OPENAI_MODEL", "gpt-4o-mini"),
				EmbeddingModel: envString("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			},
		},
		Queue: QueueConfig{
			MaxAttempts:       envInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffBase:       envDuration("QUEUE_BACKOFF_BASE", time.Second),
			FailedRetention:   envInt("QUEUE_FAILED_RETENTION", 1000),
			Concurrency:       envInt("WORKER_CONCURRENCY", 4),
			VisibilityTimeout: envDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
			DedupeTTL:         envDuration("QUEUE_DEDUPE_TTL", time.Hour),
		},
		Pipeline: PipelineConfig{
			ChunkSize:           envInt("PIPELINE_CHUNK_SIZE", 250),
			CoherenceTopK:       envInt("COHERENCE_TOP_K", 3),
			SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", 0.7),
			ContradictionCutoff: envFloat("CONTRADICTION_CUTOFF", 0.8),
			FetchTimeout:        envDuration("FETCH_TIMEOUT", 30*time.Second),
			StageTimeout:        envDuration("STAGE_TIMEOUT", 2*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of gemini, openai; got %q", c.AI.Provider)
	}

	if c.AI.Provider == "gemini" && c.AI.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Queue.Concurrency)
	}

	if c.Pipeline.SimilarityThreshold < 0 || c.Pipeline.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be between 0 and 1, got %g", c.Pipeline.SimilarityThreshold)
	}
	if c.Pipeline.ChunkSize < 1 {
		return fmt.Errorf("PIPELINE_CHUNK_SIZE must be at least 1, got %d", c.Pipeline.ChunkSize)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
