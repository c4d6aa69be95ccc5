package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Models     []ModelConfig
	Reflection ReflectionConfig
	Evaluation EvaluationConfig
	RateLimit  RateLimitConfig
	Validation ValidationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins []string
	RequestLog     bool
}

type SQLiteConfig struct {
	Path   string
	Driver string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type LLMConfig struct {
	TimeoutSec        int
	MaxAttempts       int
	StrictSampling    bool
	BreakerFailures   int
	BreakerTimeoutSec int
}

// ModelConfig is one entry of the static model table. APIKeyEnv names an
// environment variable read at load time when APIKey is empty.
type ModelConfig struct {
	Name             string      `mapstructure:"name"`
	Provider         string      `mapstructure:"provider"`
	ModelID          string      `mapstructure:"model_id"`
	Endpoint         string      `mapstructure:"endpoint"`
	Location         string      `mapstructure:"location"`
	Project          string      `mapstructure:"project"`
	APIKey           string      `mapstructure:"api_key"`
	APIKeyEnv        string      `mapstructure:"api_key_env"`
	APIVersion       string      `mapstructure:"api_version"`
	TemperatureRange RangeConfig `mapstructure:"temperature_range"`
	TopPRange        RangeConfig `mapstructure:"top_p_range"`
}

type RangeConfig struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// IsZero reports whether the range was left out of the config.
func (r RangeConfig) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

type ReflectionConfig struct {
	AbortOnError     bool
	ParallelBaseline bool
	SystemPrompt     string
	CoTPrompt        string
	Temperature      float64
	TopP             float64
}

type EvaluationConfig struct {
	JudgeModel  string
	Persist     bool
	Temperature float64
	TopP        float64
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type ValidationConfig struct {
	MaxPromptLength   int
	MaxDocumentLength int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads configuration from path, or from config.yaml in the usual
// search locations when path is empty. Environment variables prefixed with
// COT_REFLECT override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cot-reflect")
	}

	v.SetEnvPrefix("COT_REFLECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range config.Models {
		m := &config.Models[i]
		if m.APIKey == "" && m.APIKeyEnv != "" {
			m.APIKey = os.Getenv(m.APIKeyEnv)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 300)
	v.SetDefault("server.bodyLimit", 20971520)
	v.SetDefault("server.requestLog", true)

	v.SetDefault("sqlite.path", "./data/prompts_snapshots.db")
	v.SetDefault("sqlite.driver", "sqlite3")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlSec", 3600)

	v.SetDefault("llm.timeoutSec", 120)
	v.SetDefault("llm.maxAttempts", 3)
	v.SetDefault("llm.strictSampling", false)
	v.SetDefault("llm.breakerFailures", 5)
	v.SetDefault("llm.breakerTimeoutSec", 30)

	v.SetDefault("models", defaultModels())

	v.SetDefault("reflection.abortOnError", false)
	v.SetDefault("reflection.parallelBaseline", true)
	v.SetDefault("reflection.temperature", 0.7)
	v.SetDefault("reflection.topP", 0.95)

	v.SetDefault("evaluation.judgeModel", "OpenAI gpt-4o")
	v.SetDefault("evaluation.persist", true)
	v.SetDefault("evaluation.temperature", 0.2)
	v.SetDefault("evaluation.topP", 0.9)

	v.SetDefault("rateLimit.requestsPerMinute", 30)

	v.SetDefault("validation.maxPromptLength", 20000)
	v.SetDefault("validation.maxDocumentLength", 2000000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

func defaultModels() []map[string]any {
	tempRange := map[string]any{"min": 0.0, "max": 2.0}
	topPRange := map[string]any{"min": 0.0, "max": 1.0}

	return []map[string]any{
		{
			"name":              "Gemini 2.0 Flash",
			"provider":          "vertex_ai",
			"model_id":          "gemini-2.0-flash-exp",
			"location":          "us-central1",
			"temperature_range": tempRange,
			"top_p_range":       topPRange,
		},
		{
			"name":              "Llama 3.1 70B",
			"provider":          "azure_ai",
			"model_id":          "llama-3-1-70b-instruct",
			"endpoint":          "https://api-llama-3-1-70b-instruct.swedencentral.models.ai.azure.com/",
			"api_key_env":       "AZURE_LLAMA_31_70B_KEY",
			"temperature_range": map[string]any{"min": 0.0, "max": 1.0},
			"top_p_range":       topPRange,
		},
		{
			"name":              "Llama 3.3 70B",
			"provider":          "azure_ai",
			"model_id":          "llama-3-3-70b-instruct",
			"endpoint":          "https://api-llama-3-3-70b-instruct.eastus.models.ai.azure.com/",
			"api_key_env":       "AZURE_LLAMA_33_70B_KEY",
			"temperature_range": map[string]any{"min": 0.0, "max": 1.0},
			"top_p_range":       topPRange,
		},
		{
			"name":              "OpenAI gpt-4o",
			"provider":          "azure_openai",
			"model_id":          "gpt-4o",
			"endpoint":          "https://swedencentral.api.cognitive.microsoft.com/",
			"api_version":       "2024-08-01-preview",
			"api_key_env":       "AZURE_OPENAI_API_KEY",
			"temperature_range": tempRange,
			"top_p_range":       topPRange,
		},
	}
}
