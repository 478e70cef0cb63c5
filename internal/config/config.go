package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all talefold configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	LLM      LLMConfig      `toml:"llm"`
	Engine   EngineConfig   `toml:"engine"`
}

type ServerConfig struct {
	Bind    string `toml:"bind" env:"TALEFOLD_BIND"`
	Port    int    `toml:"port" env:"TALEFOLD_PORT"`
	LogFile string `toml:"log_file" env:"TALEFOLD_LOG_FILE"` // empty = stderr
}

type DatabaseConfig struct {
	Path string `toml:"path" env:"TALEFOLD_DB"`
}

// RedisConfig enables the Redis checkpoint store when Addr is set.
type RedisConfig struct {
	Addr       string `toml:"addr" env:"TALEFOLD_REDIS_ADDR"`
	Password   string `toml:"password" env:"TALEFOLD_REDIS_PASSWORD"`
	DB         int    `toml:"db" env:"TALEFOLD_REDIS_DB"`
	Prefix     string `toml:"prefix"`
	TTLSeconds int    `toml:"ttl_seconds"` // 0 = snapshots never expire
}

type LLMConfig struct {
	Provider    string  `toml:"provider" env:"TALEFOLD_LLM_PROVIDER"` // "openai", "ollama"
	Model       string  `toml:"model" env:"TALEFOLD_LLM_MODEL"`
	APIKey      string  `toml:"api_key" env:"OPENAI_API_KEY"`
	OllamaURL   string  `toml:"ollama_url"`
	OllamaModel string  `toml:"ollama_model"`
	Temperature float64 `toml:"temperature"`
	// MaxTokens caps completion length per call; JudgeTimeout (seconds)
	// bounds one full judging pass.
	MaxTokens    int `toml:"max_tokens"`
	JudgeTimeout int `toml:"judge_timeout"`
}

// EngineConfig tunes the relevance pipeline and decay defaults.
type EngineConfig struct {
	TopicDecayThreshold   int     `toml:"topic_decay_threshold"`
	ConceptDecayThreshold int     `toml:"concept_decay_threshold"`
	RepetitionPenaltyBase float64 `toml:"repetition_penalty_base"`
	MetadataWeight        float64 `toml:"metadata_weight"`
	SemanticWeight        float64 `toml:"semantic_weight"`
	MinRelevance          float64 `toml:"min_relevance"`
	StoryLimit            int     `toml:"story_limit"`
	JudgeConcurrency      int     `toml:"judge_concurrency"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Redis: RedisConfig{
			Prefix: "talefold",
		},
		LLM: LLMConfig{
			Provider:     "openai",
			Model:        "gpt-4o-mini",
			Temperature:  0.3,
			MaxTokens:    2048,
			JudgeTimeout: 20,
		},
		Engine: EngineConfig{
			TopicDecayThreshold:   3,
			ConceptDecayThreshold: 5,
			RepetitionPenaltyBase: 2.0,
			MetadataWeight:        0.3,
			SemanticWeight:        0.7,
			MinRelevance:          1.0,
			StoryLimit:            3,
			JudgeConcurrency:      4,
		},
	}
}

// Load builds the effective config: defaults, then the TOML file (if it
// exists), then environment overrides. A .env file in the working
// directory is read first so OPENAI_API_KEY and friends can live there.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
