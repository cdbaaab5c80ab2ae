package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"storyteller/internal/utils"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Бэкенды хранилища историй
const (
	StoreFirestore = "firestore"
	StoreRedis     = "redis"
	StoreMemory    = "memory"
)

// Бэкенды сервиса генерации
const (
	GenerationHTTP   = "http"
	GenerationOpenAI = "openai"
	GenerationOllama = "ollama"
	GenerationStub   = "stub"
)

// Config содержит конфигурацию клиента
type Config struct {
	// Идентификатор развёртывания (appId в путях коллекций)
	ScopeID string `envconfig:"APP_SCOPE_ID" required:"true"`

	// Настройки логирования
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"console"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	// Настройки Firebase
	FirebaseProjectID       string `envconfig:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsPath string `envconfig:"FIREBASE_CREDENTIALS_PATH"`
	IdentityToolkitURL      string `envconfig:"IDENTITY_TOOLKIT_URL" default:"https://identitytoolkit.googleapis.com/v1"`
	SecureTokenURL          string `envconfig:"SECURE_TOKEN_URL" default:"https://securetoken.googleapis.com/v1"`

	IdentityTimeout time.Duration `envconfig:"IDENTITY_TIMEOUT" default:"15s"`

	// Хранилище
	StoreBackend    string `envconfig:"STORE_BACKEND" default:"firestore"`
	RedisURL        string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	CredentialCache string `envconfig:"CREDENTIAL_CACHE" default:"memory"`

	// Сервис генерации
	GenerationBackend string        `envconfig:"GENERATION_BACKEND" default:"http"`
	GenerationURL     string        `envconfig:"GENERATION_URL" default:"https://asia-south1-storyteller-5a897.cloudfunctions.net/generate_story_function"`
	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"90s"`
	AIBaseURL         string        `envconfig:"AI_BASE_URL" default:"https://openrouter.ai/api/v1"`
	AIModel           string        `envconfig:"AI_MODEL" default:"deepseek/deepseek-chat"`
	StubDelay         time.Duration `envconfig:"STUB_DELAY" default:"1s"`

	SecretsDir string `envconfig:"SECRETS_DIR" default:"/run/secrets"`

	// Секретные поля БЕЗ envconfig тега, читаются из env или Docker Secrets
	InitialAuthToken string
	FirebaseAPIKey   string
	AIAPIKey         string
}

// Load загружает конфигурацию: .env (если есть), переменные окружения, затем секреты.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("ошибка загрузки env файла: %w", err)
		}
	} else {
		// .env необязателен
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	secrets := []struct {
		dst  *string
		name string
		env  string
	}{
		{&cfg.InitialAuthToken, "initial_auth_token", "INITIAL_AUTH_TOKEN"},
		{&cfg.FirebaseAPIKey, "firebase_api_key", "FIREBASE_API_KEY"},
		{&cfg.AIAPIKey, "ai_api_key", "AI_API_KEY"},
	}
	for _, s := range secrets {
		v, err := utils.OptionalSecret(cfg.SecretsDir, s.name, lookupEnv(s.env))
		if err != nil {
			return nil, err
		}
		*s.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	var errs []error

	c.StoreBackend = strings.ToLower(c.StoreBackend)
	switch c.StoreBackend {
	case StoreFirestore:
		if c.FirebaseProjectID == "" && c.FirebaseCredentialsPath == "" {
			errs = append(errs, errors.New("firestore backend requires FIREBASE_PROJECT_ID or FIREBASE_CREDENTIALS_PATH"))
		}
	case StoreRedis, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND '%s'", c.StoreBackend))
	}

	c.GenerationBackend = strings.ToLower(c.GenerationBackend)
	switch c.GenerationBackend {
	case GenerationHTTP:
		if c.GenerationURL == "" {
			errs = append(errs, errors.New("http generation backend requires GENERATION_URL"))
		}
	case GenerationOpenAI:
		if c.AIAPIKey == "" {
			errs = append(errs, errors.New("openai generation backend requires AI_API_KEY"))
		}
	case GenerationOllama, GenerationStub:
	default:
		errs = append(errs, fmt.Errorf("unknown GENERATION_BACKEND '%s'", c.GenerationBackend))
	}

	c.CredentialCache = strings.ToLower(c.CredentialCache)
	if c.CredentialCache != StoreRedis && c.CredentialCache != StoreMemory {
		errs = append(errs, fmt.Errorf("unknown CREDENTIAL_CACHE '%s'", c.CredentialCache))
	}

	if c.GenerationTimeout <= 0 {
		errs = append(errs, errors.New("GENERATION_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// LogFields возвращает поля для логирования конфигурации (без секретов).
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("scope_id", c.ScopeID),
		zap.String("store_backend", c.StoreBackend),
		zap.String("generation_backend", c.GenerationBackend),
		zap.String("generation_url", c.GenerationURL),
		zap.Duration("generation_timeout", c.GenerationTimeout),
		zap.String("credential_cache", c.CredentialCache),
		zap.Bool("initial_auth_token", c.InitialAuthToken != ""),
		zap.Bool("firebase_api_key", c.FirebaseAPIKey != ""),
	}
}

func lookupEnv(key string) string {
	return os.Getenv(key)
}
