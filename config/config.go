package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the tutoring backend
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required")
	}
	return nil
}

// LLMConfig contains generation provider settings, including the
// credential pool cycled through on rate limits.
type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	CompletionModel   string        `mapstructure:"completion_model"`
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Credentials       []string      `mapstructure:"credentials"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
	UsageResetCron    string        `mapstructure:"usage_reset_cron"`
}

func (l LLMConfig) Validate() error {
	if len(l.Credentials) == 0 && os.Getenv("TUTORLOOP_LLM_API_KEY") == "" {
		return fmt.Errorf("llm.credentials required (or TUTORLOOP_LLM_API_KEY)")
	}
	if strings.TrimSpace(l.CompletionModel) == "" {
		return fmt.Errorf("llm.completion_model is required")
	}
	if strings.TrimSpace(l.EmbeddingModel) == "" {
		return fmt.Errorf("llm.embedding_model is required")
	}
	return nil
}

// RetrievalConfig controls passage retrieval, curriculum ranking and
// the uncertainty gate.
type RetrievalConfig struct {
	TopK                int     `mapstructure:"top_k"`
	FloorSimilarity     float64 `mapstructure:"floor_similarity"`
	CurriculumBoost     float64 `mapstructure:"curriculum_boost"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	ContextBudget       int     `mapstructure:"context_budget"`
	HistoryWindow       int     `mapstructure:"history_window"`
	FallbackTopN        int     `mapstructure:"fallback_top_n"`
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions"`
}

// Normalize applies defaults for unset retrieval values.
func (r RetrievalConfig) Normalize() RetrievalConfig {
	if r.TopK <= 0 {
		r.TopK = 5
	}
	if r.FloorSimilarity <= 0 {
		r.FloorSimilarity = 0.3
	}
	if r.CurriculumBoost <= 0 {
		r.CurriculumBoost = 0.15
	}
	if r.ConfidenceThreshold <= 0 {
		r.ConfidenceThreshold = 0.6
	}
	if r.ContextBudget <= 0 {
		r.ContextBudget = 6000
	}
	if r.HistoryWindow <= 0 {
		r.HistoryWindow = 6
	}
	if r.FallbackTopN <= 0 {
		r.FallbackTopN = 3
	}
	if r.EmbeddingDimensions <= 0 {
		r.EmbeddingDimensions = 1536
	}
	return r
}

func (r RetrievalConfig) Validate() error {
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 2 {
		return fmt.Errorf("retrieval.confidence_threshold out of range")
	}
	if r.FloorSimilarity < 0 || r.FloorSimilarity >= 1 {
		return fmt.Errorf("retrieval.floor_similarity must be in [0,1)")
	}
	return nil
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("server.address", ":10002")
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.temperature", 0.4)
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.timeout", "8s")
	viper.SetDefault("llm.rate_limit_cooldown", "60s")
	viper.SetDefault("llm.usage_reset_cron", "@daily")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.metrics_port", 9090)

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("TUTORLOOP")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (TUTORLOOP_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Retrieval = config.Retrieval.Normalize()

	if err := config.Server.Validate(); err != nil {
		panic(err)
	}
	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Retrieval.Validate(); err != nil {
		panic(err)
	}
	return &config
}
