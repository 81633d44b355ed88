package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config is read from the environment; see LoadConfig.
type Config struct {
	Env            string   `env:"APP_ENV" envDefault:"dev"`
	Port           string   `env:"PORT" envDefault:"8090"`
	JWTSecret      string   `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTTTLMinutes  int      `env:"JWT_TTL_MINUTES" envDefault:"1440"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	UserID    string `env:"CHAT_USER_ID,required,notEmpty"`
	AuthToken string `env:"CHAT_AUTH_TOKEN"`

	BackendEndpoints     []string      `env:"BACKEND_ENDPOINTS" envSeparator:"," envDefault:"http://localhost:8080"`
	BackendTimeout       time.Duration `env:"BACKEND_HTTP_TIMEOUT" envDefault:"5s"`
	BackendFailThreshold int           `env:"BACKEND_FAIL_THRESHOLD" envDefault:"3"`
	BackendCooldown      time.Duration `env:"BACKEND_COOLDOWN" envDefault:"10s"`

	RealtimeURL        string        `env:"REALTIME_URL" envDefault:"ws://localhost:8080/ws"`
	ReconnectBackoff   time.Duration `env:"REALTIME_RECONNECT_BACKOFF" envDefault:"1s"`
	TypingTTL          time.Duration `env:"TYPING_TTL" envDefault:"5s"`
	MessagePageSize    int           `env:"MESSAGE_PAGE_SIZE" envDefault:"50"`
	ConnectOnStartup   bool          `env:"CONNECT_ON_STARTUP" envDefault:"true"`
	StartupPingTimeout time.Duration `env:"STARTUP_PING_TIMEOUT" envDefault:"10s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LavinMQURL    string `env:"LAVINMQ_URL"`
	PushAutoGrant bool   `env:"PUSH_AUTO_GRANT" envDefault:"true"`

	MinIOEndpoint  string `env:"MINIO_ENDPOINT"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
	MinIOBucket    string `env:"MINIO_BUCKET" envDefault:"chat-attachments"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"26214400"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func (c Config) MQEnabled() bool {
	return c.LavinMQURL != ""
}

func (c Config) ObjectStorageEnabled() bool {
	return c.MinIOEndpoint != ""
}
