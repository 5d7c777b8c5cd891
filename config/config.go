package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort  int    `env:"PORT" envDefault:"5000"`
	Env         string `env:"ENV"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:8080"`
	// FailureRedirect is where the OAuth callback sends the browser when the
	// provider handshake does not complete.
	FailureRedirect string   `env:"OAUTH_FAILURE_REDIRECT" envDefault:"/login"`
	CORSOrigins     []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	JWT      JWTConfig
	Database DatabaseConfig
	Google   GoogleConfig
	Profiles ProfilesConfig
	Minio    MinioConfig
	GCS      GCSConfig
	MQ       MQConfig
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
	Limits   RateLimitConfig
	Client   ClientConfig
}

// JWTConfig holds the signing secret. Token lifetime is fixed by the token
// package.
type JWTConfig struct {
	Secret string `env:"JWT_SECRET"`
}

type DatabaseConfig struct {
	// URL, when set, takes precedence over the discrete Postgres fields.
	URL         string `env:"DATABASE_URL"`
	Driver      string `env:"DB_DRIVER" envDefault:"postgres"`
	Host        string `env:"DB_HOST" envDefault:"localhost"`
	Port        int    `env:"DB_PORT" envDefault:"5432"`
	User        string `env:"DB_USER" envDefault:"healwise"`
	Password    string `env:"DB_PASSWORD" envDefault:"password"`
	DBName      string `env:"DB_NAME" envDefault:"healwise_db"`
	UseSSL      bool   `env:"DB_SSL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"healwise.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE"`
}

type GoogleConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	CallbackURL  string `env:"GOOGLE_CALLBACK_URL" envDefault:"http://localhost:5000/api/auth/google/callback"`
}

// Enabled reports whether enough credentials are present to run the OAuth flow.
func (g GoogleConfig) Enabled() bool {
	return strings.TrimSpace(g.ClientID) != "" && strings.TrimSpace(g.ClientSecret) != ""
}

type ProfilesConfig struct {
	// Source is one of "file", "minio", "gcs" or empty for an empty dataset.
	Source    string `env:"PROFILES_SOURCE"`
	Path      string `env:"PROFILES_PATH" envDefault:"profiles.json"`
	ObjectKey string `env:"PROFILES_OBJECT_KEY" envDefault:"profiles/profiles.json"`
}

type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET" envDefault:"healwise"`
	UseSSL    bool   `env:"MINIO_USE_SSL"`
}

type GCSConfig struct {
	Bucket          string `env:"GCS_BUCKET"`
	ProjectID       string `env:"GCS_PROJECT_ID"`
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
}

type MQConfig struct {
	// Backend is one of "rabbitmq", "pubsub" or empty to drop account events.
	Backend string `env:"MQ_BACKEND"`
	Channel string `env:"EVENTS_CHANNEL" envDefault:"healwise.accounts"`
}

type RabbitMQConfig struct {
	URL             string `env:"RABBITMQ_URL"`
	QueueDurable    bool   `env:"RABBITMQ_QUEUE_DURABLE" envDefault:"true"`
	QueueAutoDelete bool   `env:"RABBITMQ_QUEUE_AUTO_DELETE"`
	PrefetchCount   int    `env:"RABBITMQ_PREFETCH" envDefault:"10"`
}

type PubSubConfig struct {
	ProjectID          string `env:"PUBSUB_PROJECT_ID"`
	CredentialsFile    string `env:"PUBSUB_CREDENTIALS_FILE"`
	SubscriptionSuffix string `env:"PUBSUB_SUBSCRIPTION_SUFFIX" envDefault:"-sub"`
}

// RateLimitConfig caps register and login attempts per client address.
// Counters live in Redis when RedisURL is set, otherwise in process memory.
// A zero Attempts disables the limit.
type RateLimitConfig struct {
	RedisURL string        `env:"REDIS_URL"`
	Attempts int           `env:"AUTH_RATE_LIMIT" envDefault:"20"`
	Window   time.Duration `env:"AUTH_RATE_WINDOW" envDefault:"1m"`
	// TrustProxy keys the limit on X-Forwarded-For/X-Real-IP. Enable it only
	// behind a proxy that overwrites those headers.
	TrustProxy bool `env:"AUTH_RATE_TRUST_PROXY"`
}

// ClientConfig configures the command-line session client.
type ClientConfig struct {
	APIURL      string `env:"HEALWISE_API_URL" envDefault:"http://localhost:5000"`
	SessionFile string `env:"HEALWISE_SESSION_FILE"`
}

// LoadConfig reads configuration from the environment. In dev mode a local
// .env file is loaded first.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.JWT.Secret = strings.TrimSpace(cfg.JWT.Secret)
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.FrontendURL = strings.TrimSpace(cfg.FrontendURL)
	return cfg, nil
}
