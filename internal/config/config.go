package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all settings for the service, sourced from environment
// variables with an optional .env file for local development.
type Config struct {
	Host        string `mapstructure:"HOST"`
	Port        string `mapstructure:"PORT"`
	Environment string `mapstructure:"ENVIRONMENT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	CorsOrigins []string `mapstructure:"CORS_ORIGINS"`

	OpenRouterApiKey        string `mapstructure:"OPENROUTER_API_KEY"`
	OpenRouterApiURL        string `mapstructure:"OPENROUTER_API_URL"`
	OpenRouterModel         string `mapstructure:"OPENROUTER_MODEL"`
	OpenRouterFallbackModel string `mapstructure:"OPENROUTER_FALLBACK_MODEL"`
	SiteURL                 string `mapstructure:"SITE_URL"`
	SiteName                string `mapstructure:"SITE_NAME"`

	PgHost        string `mapstructure:"POSTGRES_HOST"`
	PgPort        string `mapstructure:"POSTGRES_PORT"`
	PgUser        string `mapstructure:"POSTGRES_USER"`
	PgPassword    string `mapstructure:"POSTGRES_PASSWORD"`
	PgName        string `mapstructure:"POSTGRES_DB"`
	PgMaxOpenConn int    `mapstructure:"POSTGRES_MAX_OPEN_CONNS"`

	RedisEnabled  bool   `mapstructure:"REDIS_ENABLED"`
	RedisHost     string `mapstructure:"REDIS_HOST"`
	RedisPort     string `mapstructure:"REDIS_PORT"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	CacheEnabled    bool `mapstructure:"CACHE_ENABLED"`
	CacheTTLSeconds int  `mapstructure:"CACHE_TTL_SECONDS"`

	RateLimitEnabled       bool `mapstructure:"RATE_LIMIT_ENABLED"`
	RateLimitRequests      int  `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindowSeconds int  `mapstructure:"RATE_LIMIT_WINDOW_SECONDS"`

	MaxConversationHistory int     `mapstructure:"MAX_CONVERSATION_HISTORY"`
	MaxTokens              int     `mapstructure:"MAX_TOKENS"`
	Temperature            float64 `mapstructure:"TEMPERATURE"`

	KnowledgebasePath    string `mapstructure:"KNOWLEDGEBASE_PATH"`
	KnowledgebaseVersion string `mapstructure:"KNOWLEDGEBASE_VERSION"`

	RequestTimeoutSeconds int `mapstructure:"REQUEST_TIMEOUT"`
}

// CacheTTL returns the response cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// RequestTimeout returns the upstream request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("CORS_ORIGINS", []string{
		"http://localhost:5173",
		"http://localhost:3000",
		"https://www.bigfat.ai",
		"https://bigfat.ai",
	})

	v.SetDefault("OPENROUTER_API_URL", "https://openrouter.ai/api/v1/chat/completions")
	v.SetDefault("OPENROUTER_MODEL", "anthropic/claude-3-haiku")
	v.SetDefault("OPENROUTER_FALLBACK_MODEL", "openai/gpt-3.5-turbo")
	v.SetDefault("SITE_URL", "https://www.bigfat.ai")
	v.SetDefault("SITE_NAME", "BIGFAT AI")

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "")
	v.SetDefault("POSTGRES_DB", "chatbot")
	v.SetDefault("POSTGRES_MAX_OPEN_CONNS", 10)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PASSWORD", "")

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("CACHE_TTL_SECONDS", 3600)

	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_REQUESTS", 20)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)

	v.SetDefault("MAX_CONVERSATION_HISTORY", 10)
	v.SetDefault("MAX_TOKENS", 4000)
	v.SetDefault("TEMPERATURE", 0.7)

	v.SetDefault("KNOWLEDGEBASE_PATH", "data/knowledgebase.txt")
	v.SetDefault("KNOWLEDGEBASE_VERSION", "1.0")

	v.SetDefault("REQUEST_TIMEOUT", 30)
}

// NewConfig loads configuration from the environment, falling back to the
// given .env file when present. A missing file is not an error.
func NewConfig(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !strings.Contains(err.Error(), "no such file") {
				return nil, err
			}
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
