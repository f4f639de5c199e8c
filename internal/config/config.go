package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	LLM       LLMConfig
	Memory    MemoryConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// WriteTimeout bounds a whole request, including LLM calls.
	WriteTimeout time.Duration
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL string
}

// JWTConfig only carries the verification secret; tokens are issued elsewhere.
type JWTConfig struct {
	AccessSecret string
	Issuer       string
}

type LLMConfig struct {
	Provider       string
	APIKey         string
	Model          string
	EmbeddingModel string
	BaseURL        string
	MaxTokens      int
}

// MemoryConfig holds the working-memory windows and retrieval tuning.
type MemoryConfig struct {
	EpisodeWindowDays   int
	NegativeWindowDays  int
	EmbeddingDimension  int
	SimilarityThreshold float64
	SearchLimit         int
	BackfillBatch       int
	ShortTermMaxMsgs    int
	ShortTermTTL        time.Duration
}

func (c MemoryConfig) EpisodeWindow() time.Duration {
	return time.Duration(c.EpisodeWindowDays) * 24 * time.Hour
}

func (c MemoryConfig) NegativeWindow() time.Duration {
	return time.Duration(c.NegativeWindowDays) * 24 * time.Hour
}

type RateLimitConfig struct {
	MaxRequests int
	WindowSec   int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
			Issuer:       k.String("jwt.issuer"),
		},
		LLM: LLMConfig{
			Provider:       k.String("llm.provider"),
			APIKey:         k.String("llm.api.key"),
			Model:          k.String("llm.model"),
			EmbeddingModel: k.String("llm.embedding.model"),
			BaseURL:        k.String("llm.base.url"),
			MaxTokens:      k.Int("llm.max.tokens"),
		},
		Memory: MemoryConfig{
			EpisodeWindowDays:   k.Int("memory.episode.window.days"),
			NegativeWindowDays:  k.Int("memory.negative.window.days"),
			EmbeddingDimension:  k.Int("memory.embedding.dimension"),
			SimilarityThreshold: k.Float64("memory.similarity.threshold"),
			SearchLimit:         k.Int("memory.search.limit"),
			BackfillBatch:       k.Int("memory.backfill.batch"),
			ShortTermMaxMsgs:    k.Int("memory.shortterm.max.msgs"),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: k.Int("ratelimit.max.requests"),
			WindowSec:   k.Int("ratelimit.window.sec"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	if origins := k.String("cors.allowed.origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}

	applyDefaults(cfg)

	// Parse durations
	ttlStr := k.String("memory.shortterm.ttl")
	if ttlStr == "" {
		ttlStr = "1h"
	}
	cfg.Memory.ShortTermTTL, err = time.ParseDuration(ttlStr)
	if err != nil {
		return nil, fmt.Errorf("parsing short-term memory ttl: %w", err)
	}

	writeTimeout := k.String("server.write.timeout")
	if writeTimeout == "" {
		writeTimeout = "90s"
	}
	cfg.Server.WriteTimeout, err = time.ParseDuration(writeTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing server write timeout: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "symptomtracker"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "symptomtracker"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "symptomtracker"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.EmbeddingModel == "" {
		cfg.LLM.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.Memory.EpisodeWindowDays == 0 {
		cfg.Memory.EpisodeWindowDays = 14
	}
	if cfg.Memory.NegativeWindowDays == 0 {
		cfg.Memory.NegativeWindowDays = 7
	}
	if cfg.Memory.EmbeddingDimension == 0 {
		cfg.Memory.EmbeddingDimension = 1536
	}
	if cfg.Memory.SimilarityThreshold == 0 {
		cfg.Memory.SimilarityThreshold = 0.7
	}
	if cfg.Memory.SearchLimit == 0 {
		cfg.Memory.SearchLimit = 5
	}
	if cfg.Memory.BackfillBatch == 0 {
		cfg.Memory.BackfillBatch = 20
	}
	if cfg.Memory.ShortTermMaxMsgs == 0 {
		cfg.Memory.ShortTermMaxMsgs = 20
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 30
	}
	if cfg.RateLimit.WindowSec == 0 {
		cfg.RateLimit.WindowSec = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
