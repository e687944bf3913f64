package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Database DatabaseConfig `envPrefix:"DATABASE_"`
	Storage  StorageConfig  `envPrefix:"STORAGE_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	Socket   SocketConfig   `envPrefix:"SOCKET_"`
	Auth     AuthConfig     `envPrefix:"AUTH_"`
	Log      LogConfig      `envPrefix:"LOG_"`
	Chat     ChatConfig     `envPrefix:"CHAT_"`
}

type ServerConfig struct {
	Addr          string        `env:"ADDR" envDefault:":8080"`
	CORSOrigins   string        `env:"CORS_ORIGINS" envDefault:"^https?://localhost(:[0-9]+)?$"`
	Pprof         bool          `env:"PPROF" envDefault:"false"`
	UnreadTimeout time.Duration `env:"UNREAD_TIMEOUT" envDefault:"5s"`
}

type DatabaseConfig struct {
	Hosts    []string `env:"HOSTS" envSeparator:"," envDefault:"localhost:27017"`
	Direct   bool     `env:"DIRECT" envDefault:"true"`
	Username string   `env:"USERNAME"`
	Password string   `env:"PASSWORD"`
	AuthDB   string   `env:"AUTH_DB" envDefault:"admin"`
	Database string   `env:"DATABASE" envDefault:"equipment"`
}

type StorageConfig struct {
	Enabled       bool   `env:"ENABLED" envDefault:"false"`
	Endpoint      string `env:"ENDPOINT" envDefault:"localhost:9000"`
	UseSSL        bool   `env:"USE_SSL" envDefault:"false"`
	Region        string `env:"REGION" envDefault:"us-east-1"`
	AccessKey     string `env:"ACCESS_KEY"`
	SecretKey     string `env:"SECRET_KEY"`
	Bucket        string `env:"BUCKET" envDefault:"chat-attachments"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
}

type KafkaConfig struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"TOPIC" envDefault:"request-chat.events"`
	GroupID string   `env:"GROUP_ID" envDefault:"request-chat-notifier"`
	Workers int      `env:"WORKERS" envDefault:"4"`
}

type SocketConfig struct {
	Enabled       bool          `env:"ENABLED" envDefault:"false"`
	BaseURL       string        `env:"BASE_URL" envDefault:"http://localhost:3000"`
	StaffAudience string        `env:"STAFF_AUDIENCE" envDefault:"group:staff"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
	Retries       int           `env:"RETRIES" envDefault:"3"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`
	Issuer    string `env:"ISSUER"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

type ChatConfig struct {
	MaxAttachmentSize int64 `env:"MAX_ATTACHMENT_SIZE" envDefault:"10485760"`
}

func Load() (*Config, error) {
	// a missing .env is fine, real environments set variables directly
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}
	return cfg
}
