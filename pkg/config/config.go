package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	LLM      LLMConfig
	Search   SearchConfig
	Research ResearchConfig
	Cache    CacheConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	AllowedOrigins     []string
	Development        bool
	RateLimitPerMinute int
	MaxQueryLength     int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled    bool
	Host       string
	Port       int
	Password   string
	DB         int
	TTLMinutes int
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLMinutes) * time.Minute
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type SearchConfig struct {
	Provider       string
	TavilyAPIKey   string
	SerpAPIKey     string
	MaxResults     int
	TimeoutSec     int
	ScrapeMaxWords int
}

type ResearchConfig struct {
	MaxSubQueries    int
	MaxSources       int
	FanoutTimeoutSec int
	SourceWordLimit  int
	HistoryWindow    int
	HistoryCharLimit int
}

func (r ResearchConfig) FanoutTimeout() time.Duration {
	return time.Duration(r.FanoutTimeoutSec) * time.Second
}

type CacheConfig struct {
	Enabled bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/vettan")

	v.SetEnvPrefix("VETTAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Search.Provider {
	case "tavily", "serpapi":
	default:
		return fmt.Errorf("unsupported search provider %q", c.Search.Provider)
	}
	if c.Research.MaxSubQueries < 1 {
		return fmt.Errorf("research.maxSubQueries must be positive, got %d", c.Research.MaxSubQueries)
	}
	if c.Research.MaxSources < 1 {
		return fmt.Errorf("research.maxSources must be positive, got %d", c.Research.MaxSources)
	}
	if c.Research.FanoutTimeoutSec < 1 {
		return fmt.Errorf("research.fanoutTimeoutSec must be positive, got %d", c.Research.FanoutTimeoutSec)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 90)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:3000", "https://vettan.ai"})
	v.SetDefault("server.development", false)
	v.SetDefault("server.rateLimitPerMinute", 30)
	v.SetDefault("server.maxQueryLength", 2000)

	v.SetDefault("sqlite.path", "./data/vettan.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlMinutes", 1440)

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.maxTokens", 1500)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.tavilyAPIKey", "")
	v.SetDefault("search.serpAPIKey", "")
	v.SetDefault("search.maxResults", 5)
	v.SetDefault("search.timeoutSec", 10)
	v.SetDefault("search.scrapeMaxWords", 800)

	v.SetDefault("research.maxSubQueries", 4)
	v.SetDefault("research.maxSources", 5)
	v.SetDefault("research.fanoutTimeoutSec", 10)
	v.SetDefault("research.sourceWordLimit", 400)
	v.SetDefault("research.historyWindow", 6)
	v.SetDefault("research.historyCharLimit", 3000)

	v.SetDefault("cache.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
