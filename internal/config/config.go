package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SessionBackendCookie = "cookie"
	SessionBackendRedis  = "redis"

	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderGemini = "gemini"

	VectorBackendPinecone = "pinecone"
	VectorBackendMemory   = "memory"
)

// Config is built once at startup and handed to each component by pointer.
// Nothing in the service reads the environment after Load returns.
type Config struct {
	Env      string
	HTTPPort string
	LogLevel string

	DatabaseURL string

	SecretKey          string
	SecretKeyFallbacks []string
	SecretKeyGenerated bool
	SessionTTL         time.Duration
	SessionBackend     string
	CookieSecure       bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EmbeddingProvider string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIEmbedModel  string
	GeminiAPIKey      string
	GeminiEmbedModel  string

	VectorBackend       string
	PineconeAPIKey      string
	PineconeEnvironment string
	PineconeCloud       string
	PineconeIndexName   string
	PineconeIndexHost   string
	PineconeNamespace   string

	ProviderTimeout time.Duration

	CORSAllowedOrigins []string
}

// Production reports whether the service runs with production cookie and log settings.
func (c *Config) Production() bool {
	return c != nil && c.Env == "production"
}

// Load reads an optional .env file and then the process environment.
// The returned bool reports whether a .env file was found.
func Load() (*Config, bool, error) {
	foundDotEnv := godotenv.Load() == nil

	env := strings.ToLower(getEnv("APP_ENV", getEnv("FLASK_ENV", "development")))

	cfg := &Config{
		Env:      env,
		HTTPPort: getEnv("HTTP_PORT", "5000"),
		LogLevel: strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),

		DatabaseURL: normalizeDatabaseURL(getEnv("DATABASE_URL", "leetcode_assistant.db")),

		SecretKey:          getEnv("SECRET_KEY", ""),
		SecretKeyFallbacks: parseFallbacks(getEnv("SECRET_KEY_FALLBACKS", "")),
		SessionTTL:         getEnvAsDuration("SESSION_TTL", 7*24*time.Hour),
		SessionBackend:     strings.ToLower(getEnv("SESSION_BACKEND", SessionBackendCookie)),
		CookieSecure:       env == "production",

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		EmbeddingProvider: strings.ToLower(getEnv("EMBEDDING_PROVIDER", EmbeddingProviderOpenAI)),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIEmbedModel:  getEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiEmbedModel:  getEnv("GEMINI_EMBED_MODEL", "text-embedding-004"),

		VectorBackend:       strings.ToLower(getEnv("VECTOR_BACKEND", VectorBackendPinecone)),
		PineconeAPIKey:      getEnv("PINECONE_API_KEY", ""),
		PineconeEnvironment: getEnv("PINECONE_ENVIRONMENT", "us-east-1"),
		PineconeCloud:       getEnv("PINECONE_CLOUD", "aws"),
		PineconeIndexName:   getEnv("PINECONE_INDEX_NAME", "sjsunlp"),
		PineconeIndexHost:   getEnv("PINECONE_INDEX_HOST", ""),
		PineconeNamespace:   getEnv("PINECONE_NAMESPACE", ""),

		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 20*time.Second),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}

	if cfg.SecretKey == "" {
		key, err := randomHex(32)
		if err != nil {
			return nil, foundDotEnv, fmt.Errorf("failed to generate secret key: %w", err)
		}
		cfg.SecretKey = key
		cfg.SecretKeyGenerated = true
	}

	if err := cfg.validate(); err != nil {
		return nil, foundDotEnv, err
	}
	return cfg, foundDotEnv, nil
}

func (c *Config) validate() error {
	switch c.SessionBackend {
	case SessionBackendCookie:
	case SessionBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}

	switch c.EmbeddingProvider {
	case EmbeddingProviderOpenAI, EmbeddingProviderGemini:
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}

	switch c.VectorBackend {
	case VectorBackendPinecone, VectorBackendMemory:
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	return nil
}

// normalizeDatabaseURL accepts the SQLAlchemy style "sqlite:///path" form.
func normalizeDatabaseURL(raw string) string {
	for _, prefix := range []string{"sqlite:///", "sqlite://", "sqlite3://"} {
		if strings.HasPrefix(raw, prefix) {
			return strings.TrimPrefix(raw, prefix)
		}
	}
	return raw
}

// parseFallbacks accepts either a JSON string/list or a comma separated list.
func parseFallbacks(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return compact(list)
	}
	var single string
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		return compact([]string{single})
	}
	return splitList(raw)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return compact(strings.Split(raw, ","))
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("20s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
