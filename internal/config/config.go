package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

// Provider names accepted in ProviderConfig.Name.
const (
	ProviderVertex     = "vertex"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderGroq       = "groq"
	ProviderChatAPI    = "chatapi" // another evolve-chat server's /api/chat
)

type Config struct {
	Mode    Mode `yaml:"mode"`
	UseMock bool `yaml:"use_mock"` // true = mock capabilities even in cloud mode

	Server    ServerConfig    `yaml:"server"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Inference InferenceConfig `yaml:"inference"`
	Media     MediaConfig     `yaml:"media"`
	Research  ResearchConfig  `yaml:"research"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr or a file path
}

type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

type ProviderConfig struct {
	Name     string        `yaml:"name"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Project  string        `yaml:"project"`
	Location string        `yaml:"location"`
	Timeout  time.Duration `yaml:"timeout"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// BudgetConfig caps how often the primary provider is used before the
// fallback takes over. Zero means unlimited.
type BudgetConfig struct {
	PerMinute int `yaml:"per_minute"`
	PerDay    int `yaml:"per_day"`
}

type InferenceConfig struct {
	Stream   bool           `yaml:"stream"`
	Primary  ProviderConfig `yaml:"primary"`
	Fallback ProviderConfig `yaml:"fallback"`
	Budget   BudgetConfig   `yaml:"budget"`
	Breaker  BreakerConfig  `yaml:"breaker"`
}

type MediaConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ResearchConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxResults int           `yaml:"max_results"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Mode:    ModeLocal,
		UseMock: true,
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
			RateLimit:       5,
			RateBurst:       10,
		},
		Logger: LoggerConfig{Level: "info", Format: "json", Output: "stdout"},
		Tracer: TracerConfig{Exporter: "noop"},
		Inference: InferenceConfig{
			Stream: true,
			Primary: ProviderConfig{
				Name:    ProviderGroq,
				Model:   "llama-3.1-8b-instant",
				BaseURL: "https://api.groq.com/openai/v1",
				Timeout: 60 * time.Second,
			},
			Fallback: ProviderConfig{
				Name:     ProviderGemini,
				Model:    "gemini-2.5-flash-lite",
				Location: "us-central1",
				Timeout:  60 * time.Second,
			},
			Budget: BudgetConfig{PerMinute: 1000, PerDay: 15000},
		},
		Media: MediaConfig{
			BaseURL: "http://localhost:3000",
			Timeout: 30 * time.Second,
		},
		Research: ResearchConfig{
			BaseURL:    "http://localhost:8000",
			Timeout:    5 * time.Minute,
			MaxResults: 10,
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

// Load builds the config: defaults, then the YAML file named by
// EVOLVE_CONFIG (if any), then EVOLVE_* env vars. A .env file in the working
// directory is loaded first and never overrides variables already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path := os.Getenv("EVOLVE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps EVOLVE_* env vars onto cfg.
func ApplyEnvOverrides(cfg *Config) {
	switch getEnv("EVOLVE_MODE", string(cfg.Mode)) {
	case string(ModeCloud):
		cfg.Mode = ModeCloud
	default:
		cfg.Mode = ModeLocal
	}
	cfg.UseMock = getBoolEnv("EVOLVE_USE_MOCK", cfg.UseMock && cfg.Mode == ModeLocal)

	cfg.Server.Port = getEnv("PORT", getEnv("EVOLVE_PORT", cfg.Server.Port))
	cfg.Server.RateLimit = getFloatEnv("EVOLVE_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.RateBurst = getIntEnv("EVOLVE_RATE_BURST", cfg.Server.RateBurst)
	if v := os.Getenv("EVOLVE_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	cfg.Logger.Level = getEnv("EVOLVE_LOG_LEVEL", cfg.Logger.Level)
	cfg.Logger.Format = getEnv("EVOLVE_LOG_FORMAT", cfg.Logger.Format)
	cfg.Logger.Output = getEnv("EVOLVE_LOG_OUTPUT", cfg.Logger.Output)

	cfg.Tracer.Enabled = getBoolEnv("EVOLVE_TRACER_ENABLED", cfg.Tracer.Enabled)
	cfg.Tracer.Exporter = getEnv("EVOLVE_TRACER_EXPORTER", cfg.Tracer.Exporter)

	cfg.Inference.Stream = getBoolEnv("EVOLVE_STREAM", cfg.Inference.Stream)
	applyProviderEnv("EVOLVE_PRIMARY", &cfg.Inference.Primary)
	applyProviderEnv("EVOLVE_FALLBACK", &cfg.Inference.Fallback)
	cfg.Inference.Budget.PerMinute = getIntEnv("EVOLVE_PRIMARY_PER_MINUTE", cfg.Inference.Budget.PerMinute)
	cfg.Inference.Budget.PerDay = getIntEnv("EVOLVE_PRIMARY_PER_DAY", cfg.Inference.Budget.PerDay)

	// Conventional provider keys are honoured when no prefixed key is set.
	if cfg.Inference.Primary.APIKey == "" && cfg.Inference.Primary.Name == ProviderGroq {
		cfg.Inference.Primary.APIKey = os.Getenv("GROQ_API_KEY")
	}
	if cfg.Inference.Fallback.APIKey == "" && cfg.Inference.Fallback.Name == ProviderGemini {
		cfg.Inference.Fallback.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	cfg.Media.BaseURL = getEnv("EVOLVE_MEDIA_URL", cfg.Media.BaseURL)
	cfg.Media.Timeout = getDurationEnv("EVOLVE_MEDIA_TIMEOUT", cfg.Media.Timeout)
	cfg.Research.BaseURL = getEnv("EVOLVE_RESEARCH_URL", cfg.Research.BaseURL)
	cfg.Research.Timeout = getDurationEnv("EVOLVE_RESEARCH_TIMEOUT", cfg.Research.Timeout)
	cfg.Research.MaxResults = getIntEnv("EVOLVE_RESEARCH_MAX_RESULTS", cfg.Research.MaxResults)
}

func applyProviderEnv(prefix string, p *ProviderConfig) {
	p.Name = getEnv(prefix+"_PROVIDER", p.Name)
	p.Model = getEnv(prefix+"_MODEL", p.Model)
	p.APIKey = getEnv(prefix+"_API_KEY", p.APIKey)
	p.BaseURL = getEnv(prefix+"_BASE_URL", p.BaseURL)
	p.Project = getEnv(prefix+"_PROJECT", p.Project)
	p.Location = getEnv(prefix+"_LOCATION", p.Location)
	p.Timeout = getDurationEnv(prefix+"_TIMEOUT", p.Timeout)
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *Config) error {
	if cfg.Research.MaxResults < 1 || cfg.Research.MaxResults > 20 {
		return fmt.Errorf("research.max_results must be between 1 and 20, got %d", cfg.Research.MaxResults)
	}
	if cfg.UseMock {
		return nil
	}
	if cfg.Inference.Primary.Name == "" {
		return errors.New("inference.primary.name must be set")
	}
	for _, p := range []ProviderConfig{cfg.Inference.Primary, cfg.Inference.Fallback} {
		if p.Name == ProviderVertex && p.Project == "" {
			return fmt.Errorf("provider %q requires a project", p.Name)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
