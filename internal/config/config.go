package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"

	AttachmentDriverLocal = "local"
	AttachmentDriverGCS   = "gcs"
)

var (
	ErrDatabaseURLRequired = errors.New("DATABASE_URL is required for the postgres store")
	ErrUnknownStoreDriver  = errors.New("unknown STORE_DRIVER")
	ErrGCSBucketRequired   = errors.New("GCS_BUCKET is required for the gcs attachment driver")
	ErrUnknownAttachment   = errors.New("unknown ATTACHMENT_DRIVER")
	ErrDefaultModelBlocked = errors.New("LLM_MODEL must be part of LLM_ALLOWED_MODELS")
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"chat.db"`

	LLMAPIKey        string        `env:"LLM_API_KEY,required"`
	LLMBaseURL       string        `env:"LLM_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	LLMModel         string        `env:"LLM_MODEL" envDefault:"openai/gpt-4o-mini"`
	LLMAllowedModels []string      `env:"LLM_ALLOWED_MODELS" envSeparator:"," envDefault:"openai/gpt-4o-mini,openai/gpt-4o,anthropic/claude-3.5-sonnet,google/gemini-flash-1.5"`
	LLMSystemPrompt  string        `env:"LLM_SYSTEM_PROMPT" envDefault:"You are ElixirTechne HelpDesk chatbot. Analyze images if provided and reply clearly."`
	LLMTemperature   float32       `env:"LLM_TEMPERATURE" envDefault:"0.2"`
	LLMMaxTokens     int           `env:"LLM_MAX_TOKENS" envDefault:"600"`
	LLMTimeout       time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
	LLMStreamBuffer  int           `env:"LLM_STREAM_BUFFER" envDefault:"16"`

	ChatRateLimit      int           `env:"CHAT_RATE_LIMIT" envDefault:"10"`
	ChatRateWindow     time.Duration `env:"CHAT_RATE_WINDOW" envDefault:"24h"`
	ChatHistoryLimit   int           `env:"CHAT_HISTORY_LIMIT" envDefault:"20"`
	ChatMaxUploadBytes int64         `env:"CHAT_MAX_UPLOAD_BYTES" envDefault:"2097152"`
	RateCacheTTL       time.Duration `env:"RATE_CACHE_TTL" envDefault:"30s"`
	SessionBindingTTL  time.Duration `env:"SESSION_BINDING_TTL" envDefault:"336h"`
	PersistTimeout     time.Duration `env:"PERSIST_TIMEOUT" envDefault:"10s"`

	GuardrailMinLength int      `env:"GUARDRAIL_MIN_LENGTH" envDefault:"4"`
	GuardrailFailOpen  bool     `env:"GUARDRAIL_FAIL_OPEN" envDefault:"false"`
	GuardrailDenylist  []string `env:"GUARDRAIL_DENYLIST" envSeparator:","`

	AttachmentDriver  string `env:"ATTACHMENT_DRIVER" envDefault:"local"`
	AttachmentDir     string `env:"ATTACHMENT_DIR" envDefault:"uploads"`
	AttachmentBaseURL string `env:"ATTACHMENT_BASE_URL" envDefault:"/media"`
	GCSBucket         string `env:"GCS_BUCKET"`
	GCSCredentials    string `env:"GCS_CREDENTIALS_FILE"`

	JWTSecret    string `env:"JWT_SECRET"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate revisa reglas que dependen de más de una variable.
func (c *Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return ErrDatabaseURLRequired
		}
	case StoreDriverSQLite:
	default:
		return ErrUnknownStoreDriver
	}

	c.AttachmentDriver = strings.ToLower(strings.TrimSpace(c.AttachmentDriver))
	switch c.AttachmentDriver {
	case AttachmentDriverLocal:
	case AttachmentDriverGCS:
		if strings.TrimSpace(c.GCSBucket) == "" {
			return ErrGCSBucketRequired
		}
	default:
		return ErrUnknownAttachment
	}

	allowed := c.LLMAllowedModels[:0]
	defaultAllowed := false
	for _, m := range c.LLMAllowedModels {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if m == c.LLMModel {
			defaultAllowed = true
		}
		allowed = append(allowed, m)
	}
	c.LLMAllowedModels = allowed
	if !defaultAllowed {
		return ErrDefaultModelBlocked
	}
	return nil
}
