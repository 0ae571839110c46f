package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the news RAG backend.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Session   SessionConfig   `mapstructure:"session"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Listen      string `mapstructure:"listen"`
	Environment string `mapstructure:"environment"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Addr) == "" {
		return errors.New("redis.addr required")
	}
	return nil
}

// QdrantConfig contains vector store settings.
type QdrantConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	Collection     string        `mapstructure:"collection"`
	VectorSize     int           `mapstructure:"vector_size"`
	TopK           int           `mapstructure:"top_k"`
	ScoreThreshold float32       `mapstructure:"score_threshold"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

func (q QdrantConfig) Validate() error {
	if strings.TrimSpace(q.URL) == "" {
		return errors.New("qdrant.url required")
	}
	if strings.TrimSpace(q.Collection) == "" {
		return errors.New("qdrant.collection required")
	}
	if q.VectorSize <= 0 {
		return errors.New("qdrant.vector_size must be > 0")
	}
	return nil
}

// GeminiConfig contains settings for the embedding and generation models.
type GeminiConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	GenerationModel string        `mapstructure:"generation_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	TopP            float64       `mapstructure:"top_p"`
	TopK            int           `mapstructure:"top_k"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (g GeminiConfig) Validate() error {
	if strings.TrimSpace(g.APIKey) == "" {
		return errors.New("gemini.api_key required")
	}
	return nil
}

// SessionConfig contains chat session cache settings.
type SessionConfig struct {
	TTLSeconds        int `mapstructure:"ttl_seconds"`
	HistoryTTLSeconds int `mapstructure:"history_ttl_seconds"`
}

// TTL returns the session metadata expiry as a duration.
func (s SessionConfig) TTL() time.Duration { return time.Duration(s.TTLSeconds) * time.Second }

// HistoryTTL returns the history list expiry as a duration.
func (s SessionConfig) HistoryTTL() time.Duration {
	return time.Duration(s.HistoryTTLSeconds) * time.Second
}

// IngestionConfig contains feed ingestion settings.
type IngestionConfig struct {
	Feeds          []string      `mapstructure:"feeds"`
	MaxPerFeed     int           `mapstructure:"max_per_feed"`
	MaxArticles    int           `mapstructure:"max_articles"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchInterval  time.Duration `mapstructure:"batch_interval"`
	FetchAttempts  int           `mapstructure:"fetch_attempts"`
	FetchBackoff   time.Duration `mapstructure:"fetch_backoff"`
	ContentCeiling int           `mapstructure:"content_ceiling"`
}

func (i IngestionConfig) Validate() error {
	if len(i.Feeds) == 0 {
		return errors.New("ingestion.feeds required")
	}
	return nil
}

// LoadConfig loads config from the given file, or from config.json found in
// the usual search paths when path is empty. NEWSRAG_* environment variables
// override file values (e.g. NEWSRAG_GEMINI_API_KEY).
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.listen", ":8080")
	viper.SetDefault("general.environment", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.timeout", 5*time.Second)
	viper.SetDefault("qdrant.url", "http://localhost:6333")
	viper.SetDefault("qdrant.collection", "news_articles")
	viper.SetDefault("qdrant.vector_size", 768)
	viper.SetDefault("qdrant.top_k", 5)
	viper.SetDefault("qdrant.score_threshold", 0.3)
	viper.SetDefault("qdrant.timeout", 15*time.Second)
	viper.SetDefault("gemini.generation_model", "gemini-1.5-flash")
	viper.SetDefault("gemini.embedding_model", "text-embedding-004")
	viper.SetDefault("gemini.temperature", 0.7)
	viper.SetDefault("gemini.top_p", 0.9)
	viper.SetDefault("gemini.top_k", 40)
	viper.SetDefault("gemini.max_output_tokens", 1024)
	viper.SetDefault("gemini.timeout", 30*time.Second)
	viper.SetDefault("session.ttl_seconds", 3600)
	viper.SetDefault("session.history_ttl_seconds", 7200)
	viper.SetDefault("ingestion.max_per_feed", 20)
	viper.SetDefault("ingestion.max_articles", 50)
	viper.SetDefault("ingestion.batch_size", 10)
	viper.SetDefault("ingestion.batch_interval", time.Second)
	viper.SetDefault("ingestion.fetch_attempts", 3)
	viper.SetDefault("ingestion.fetch_backoff", 2*time.Second)
	viper.SetDefault("ingestion.content_ceiling", 8000)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("NEWSRAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Environment-only deployments have no file; anything else is fatal.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Qdrant.Validate(); err != nil {
		panic(err)
	}
	return &config
}
