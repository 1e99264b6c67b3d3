package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"salescoach-server/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	Database  DatabaseConfig  `json:"database"`
	AI        AIConfig        `json:"ai"`
	STT       STTConfig       `json:"stt"`
	Messaging MessagingConfig `json:"messaging"`
	Search    SearchConfig    `json:"search"`
	Auth      AuthConfig      `json:"auth"`
	Session   SessionConfig   `json:"session"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	EnableMetrics   bool          `json:"enable_metrics"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json or text
}

// DatabaseConfig holds MySQL persistence configuration
type DatabaseConfig struct {
	Enabled         bool          `json:"enabled"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"-"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	QueryTimeout    time.Duration `json:"query_timeout"`
}

// AIConfig holds reasoning service configuration
type AIConfig struct {
	APIKey         string        `json:"-"`
	BaseURL        string        `json:"base_url"`
	Model          string        `json:"model"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
}

// STTConfig holds speech-to-text provider configuration
type STTConfig struct {
	DefaultProvider       string   `json:"default_provider"` // deepgram, google, mock
	Language              string   `json:"language"`
	DeepgramAPIKey        string   `json:"-"`
	GoogleAPIKey          string   `json:"-"`
	GoogleCredentialsFile string   `json:"google_credentials_file"`
	SampleRate            int      `json:"sample_rate"`
	SupportedCodecs       []string `json:"supported_codecs"`
}

// MessagingConfig holds AMQP event publishing configuration
type MessagingConfig struct {
	AMQPUrl      string `json:"-"`
	QueueName    string `json:"queue_name"`
	ExchangeName string `json:"exchange_name"`
	RoutingKey   string `json:"routing_key"`
}

// Enabled reports whether AMQP publishing is configured.
func (m MessagingConfig) Enabled() bool {
	return m.AMQPUrl != "" && m.QueueName != ""
}

// SearchConfig holds knowledge store (Elasticsearch) configuration
type SearchConfig struct {
	Enabled        bool          `json:"enabled"`
	Addresses      []string      `json:"addresses"`
	Username       string        `json:"username"`
	Password       string        `json:"-"`
	Timeout        time.Duration `json:"timeout"`
	ProductIndex   string        `json:"product_index"`
	ObjectionIndex string        `json:"objection_index"`
}

// AuthConfig holds JWT authentication configuration
type AuthConfig struct {
	Enabled     bool          `json:"enabled"`
	JWTSecret   string        `json:"-"`
	Issuer      string        `json:"issuer"`
	TokenExpiry time.Duration `json:"token_expiry"`
}

// SessionConfig holds live call session tuning
type SessionConfig struct {
	EventQueueSize      int           `json:"event_queue_size"`
	SuggestionTimeout   time.Duration `json:"suggestion_timeout"`
	SentimentTimeout    time.Duration `json:"sentiment_timeout"`
	SummaryTimeout      time.Duration `json:"summary_timeout"`
	EndDrainTimeout     time.Duration `json:"end_drain_timeout"`
	RegistryShardCount  int           `json:"registry_shard_count"`
	MaxDiscoveryResults int           `json:"max_discovery_results"`
}

// Load reads configuration from the environment, loading a .env file first if present.
func Load(logger *logrus.Logger) (*Config, error) {
	loadDotEnv(logger)

	config := &Config{}

	if err := loadHTTPConfig(&config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}
	loadLoggingConfig(&config.Logging)
	loadDatabaseConfig(&config.Database)
	loadAIConfig(logger, &config.AI)
	loadSTTConfig(logger, &config.STT)
	loadMessagingConfig(logger, &config.Messaging)
	loadSearchConfig(&config.Search)
	loadAuthConfig(logger, &config.Auth)
	loadSessionConfig(&config.Session)

	return config, nil
}

func loadDotEnv(logger *logrus.Logger) {
	wd, _ := os.Getwd()

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			if err := godotenv.Load(envFile); err == nil {
				absPath, _ := filepath.Abs(envFile)
				logger.WithField("path", absPath).Info("Loaded .env file")
				return
			}
		}
	}

	logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
}

func loadHTTPConfig(cfg *HTTPConfig) error {
	cfg.Port = getEnvInt("HTTP_PORT", 8080)
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.NewInvalidInput("HTTP_PORT out of range", map[string]interface{}{"port": cfg.Port})
	}
	cfg.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second)
	cfg.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
	cfg.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	return nil
}

func loadLoggingConfig(cfg *LoggingConfig) {
	cfg.Level = getEnv("LOG_LEVEL", "info")
	cfg.Format = getEnv("LOG_FORMAT", "json")
}

func loadDatabaseConfig(cfg *DatabaseConfig) {
	cfg.Enabled = getEnvBool("DATABASE_ENABLED", true)
	cfg.Host = getEnv("DATABASE_HOST", "localhost")
	cfg.Port = getEnvInt("DATABASE_PORT", 3306)
	cfg.Database = getEnv("DATABASE_NAME", "salescoach")
	cfg.Username = getEnv("DATABASE_USER", "salescoach")
	cfg.Password = getEnv("DATABASE_PASSWORD", "")
	cfg.MaxOpenConns = getEnvInt("DATABASE_MAX_OPEN_CONNS", 25)
	cfg.MaxIdleConns = getEnvInt("DATABASE_MAX_IDLE_CONNS", 5)
	cfg.ConnMaxLifetime = getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.QueryTimeout = getEnvDuration("DATABASE_QUERY_TIMEOUT", 10*time.Second)
}

func loadAIConfig(logger *logrus.Logger, cfg *AIConfig) {
	cfg.APIKey = getEnv("OPENAI_API_KEY", "")
	cfg.BaseURL = getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.Model = getEnv("OPENAI_MODEL", "gpt-4o")
	cfg.RequestTimeout = getEnvDuration("AI_REQUEST_TIMEOUT", 15*time.Second)
	cfg.MaxTokens = getEnvInt("AI_MAX_TOKENS", 300)
	cfg.Temperature = getEnvFloat("AI_TEMPERATURE", 0.7)

	if cfg.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, reasoning capability will use fallback responses")
	}
}

func loadSTTConfig(logger *logrus.Logger, cfg *STTConfig) {
	cfg.DefaultProvider = strings.ToLower(getEnv("STT_DEFAULT_PROVIDER", "mock"))
	cfg.Language = getEnv("STT_LANGUAGE", "en")
	cfg.DeepgramAPIKey = getEnv("DEEPGRAM_API_KEY", "")
	cfg.GoogleAPIKey = getEnv("GOOGLE_STT_API_KEY", "")
	cfg.GoogleCredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")
	cfg.SampleRate = getEnvInt("STT_SAMPLE_RATE", 16000)
	cfg.SupportedCodecs = strings.Split(getEnv("STT_SUPPORTED_CODECS", "linear16,mulaw"), ",")

	if cfg.DefaultProvider == "deepgram" && cfg.DeepgramAPIKey == "" {
		logger.Warn("STT_DEFAULT_PROVIDER is deepgram but DEEPGRAM_API_KEY not set, falling back to mock")
		cfg.DefaultProvider = "mock"
	}
	if cfg.DefaultProvider == "google" && cfg.GoogleAPIKey == "" && cfg.GoogleCredentialsFile == "" {
		logger.Warn("STT_DEFAULT_PROVIDER is google but no Google credentials set, falling back to mock")
		cfg.DefaultProvider = "mock"
	}
}

func loadMessagingConfig(logger *logrus.Logger, cfg *MessagingConfig) {
	cfg.AMQPUrl = getEnv("AMQP_URL", "")
	cfg.QueueName = getEnv("AMQP_QUEUE_NAME", "")
	cfg.ExchangeName = getEnv("AMQP_EXCHANGE_NAME", "")
	cfg.RoutingKey = getEnv("AMQP_ROUTING_KEY", cfg.QueueName)

	if !cfg.Enabled() {
		logger.Debug("AMQP_URL or AMQP_QUEUE_NAME not set, call event publishing disabled")
	}
}

func loadSearchConfig(cfg *SearchConfig) {
	cfg.Enabled = getEnvBool("SEARCH_ENABLED", false)
	cfg.Addresses = splitAndTrim(getEnv("SEARCH_ADDRESSES", "http://localhost:9200"))
	cfg.Username = getEnv("SEARCH_USERNAME", "")
	cfg.Password = getEnv("SEARCH_PASSWORD", "")
	cfg.Timeout = getEnvDuration("SEARCH_TIMEOUT", 5*time.Second)
	cfg.ProductIndex = getEnv("SEARCH_PRODUCT_INDEX", "products")
	cfg.ObjectionIndex = getEnv("SEARCH_OBJECTION_INDEX", "objections")
}

func loadAuthConfig(logger *logrus.Logger, cfg *AuthConfig) {
	cfg.Enabled = getEnvBool("AUTH_ENABLED", true)
	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.Issuer = getEnv("JWT_ISSUER", "salescoach-server")
	cfg.TokenExpiry = getEnvDuration("JWT_TOKEN_EXPIRY", 24*time.Hour)

	if cfg.Enabled && cfg.JWTSecret == "" {
		logger.Warn("AUTH_ENABLED is true but JWT_SECRET not set, authentication disabled")
		cfg.Enabled = false
	}
}

func loadSessionConfig(cfg *SessionConfig) {
	cfg.EventQueueSize = getEnvInt("SESSION_EVENT_QUEUE_SIZE", 256)
	cfg.SuggestionTimeout = getEnvDuration("SESSION_SUGGESTION_TIMEOUT", 15*time.Second)
	cfg.SentimentTimeout = getEnvDuration("SESSION_SENTIMENT_TIMEOUT", 10*time.Second)
	cfg.SummaryTimeout = getEnvDuration("SESSION_SUMMARY_TIMEOUT", 30*time.Second)
	cfg.EndDrainTimeout = getEnvDuration("SESSION_END_DRAIN_TIMEOUT", 5*time.Second)
	cfg.RegistryShardCount = getEnvInt("SESSION_REGISTRY_SHARDS", 16)
	cfg.MaxDiscoveryResults = getEnvInt("SESSION_MAX_DISCOVERY_RESULTS", 3)
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
