package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// APIServerConfig 保存 API 服务器特有的配置。
type APIServerConfig struct {
	Host string     `mapstructure:"HOST"`
	Port string     `mapstructure:"PORT"`
	CORS CORSConfig `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr        string        `mapstructure:"ADDR"`
	Password    string        `mapstructure:"PASSWORD"`
	DB          int           `mapstructure:"DB"`
	PresenceTTL time.Duration `mapstructure:"PRESENCE_TTL"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string           `mapstructure:"APP_NAME"`
	AppVersion string           `mapstructure:"APP_VERSION"`
	LogLevel   string           `mapstructure:"LOG_LEVEL"`
	LogFormat  string           `mapstructure:"LOG_FORMAT"`
	Server     ServerConfig     `mapstructure:"SERVER"`     // ChatServer
	APIServer  APIServerConfig  `mapstructure:"API_SERVER"` // APIServer
	Kafka      KafkaConfig      `mapstructure:"KAFKA"`
	Database   DatabaseConfig   `mapstructure:"DATABASE"`
	Auth       AuthConfig       `mapstructure:"AUTH"`
	Security   SecurityConfig   `mapstructure:"SECURITY"`
	WebSocket  WebSocketConfig  `mapstructure:"WEBSOCKET"`
	Redis      RedisConfig      `mapstructure:"REDIS"`
	Pagination PaginationConfig `mapstructure:"PAGINATION"`
}

// ServerConfig holds configuration for the chat (websocket) HTTP server.
type ServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT"`
	WebSocketPath  string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Enabled                bool     `mapstructure:"ENABLED"`
	Brokers                []string `mapstructure:"BROKERS"`
	ClientID               string   `mapstructure:"CLIENT_ID"`
	Protocol               string   `mapstructure:"PROTOCOL"`
	FriendRequestTopic     string   `mapstructure:"FRIEND_REQUEST_TOPIC"`
	WebSocketOutgoingTopic string   `mapstructure:"WEBSOCKET_OUTGOING_TOPIC"` // 服务端推向客户端的实时事件
	ConsumerGroup          string   `mapstructure:"CONSUMER_GROUP"`
	OutgoingConsumerGroup  string   `mapstructure:"OUTGOING_CONSUMER_GROUP"`

	// 处理失败时原地重试的次数和初始退避，之后回退 offset 重新投递
	HandlerRetries int           `mapstructure:"HANDLER_RETRIES"`
	HandlerBackoff time.Duration `mapstructure:"HANDLER_BACKOFF"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type       string        `mapstructure:"TYPE"` // postgres | sqlite
	Host       string        `mapstructure:"HOST"`
	Port       int           `mapstructure:"PORT"`
	User       string        `mapstructure:"USER"`
	Password   string        `mapstructure:"PASSWORD"`
	DBName     string        `mapstructure:"DB_NAME"`
	SSLMode    string        `mapstructure:"SSL_MODE"`
	SQLitePath string        `mapstructure:"SQLITE_PATH"`
	LogLevel   string        `mapstructure:"LOG_LEVEL"`
	OpTimeout  time.Duration `mapstructure:"OP_TIMEOUT"`
}

// AuthConfig holds configuration for authentication (JWT and login lockout).
type AuthConfig struct {
	JWTSecretKey    string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry       time.Duration `mapstructure:"JWT_EXPIRY"`
	RefreshExpiry   time.Duration `mapstructure:"REFRESH_EXPIRY"`
	MaxFailedLogins int           `mapstructure:"MAX_FAILED_LOGINS"`
	LockoutDuration time.Duration `mapstructure:"LOCKOUT_DURATION"`
	TokenIssuer     string        `mapstructure:"TOKEN_ISSUER"`
}

// SecurityConfig holds the message-at-rest encryption settings.
// MessageEncryptionKey is either 64 hex characters (a raw AES-256 key) or a
// passphrase that is stretched with HKDF.
type SecurityConfig struct {
	MessageEncryptionKey string `mapstructure:"MESSAGE_ENCRYPTION_KEY"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	SendBuffer          int `mapstructure:"SEND_BUFFER"`
}

// PaginationConfig holds list defaults.
type PaginationConfig struct {
	ConversationPageSize int `mapstructure:"CONVERSATION_PAGE_SIZE"`
	MessagePageSize      int `mapstructure:"MESSAGE_PAGE_SIZE"`
	MaxPageSize          int `mapstructure:"MAX_PAGE_SIZE"`
}

// LoadConfig reads configuration from file or environment variables.
// A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (config Config, err error) {
	if err = godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("加载 .env 文件失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// SERVER_PORT overrides Server.Port, SERVER_WEBSOCKET_PATH overrides Server.WebSocketPath.
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, err
		}
		// 配置文件不存在时使用默认值
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "IM-Chat")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SERVER.HOST", "0.0.0.0")
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.WEBSOCKET_PATH", "/ws/chat")
	v.SetDefault("SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.MAX_HEADER_BYTES", 1<<20)

	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8081")
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length", "Retry-After"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300)

	v.SetDefault("KAFKA.ENABLED", true)
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "im-chat")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")
	v.SetDefault("KAFKA.FRIEND_REQUEST_TOPIC", "im-friend-request")
	v.SetDefault("KAFKA.WEBSOCKET_OUTGOING_TOPIC", "im-websocket-outgoing")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "im-api-server-group")
	v.SetDefault("KAFKA.OUTGOING_CONSUMER_GROUP", "im-chat-server-group")
	v.SetDefault("KAFKA.HANDLER_RETRIES", 3)
	v.SetDefault("KAFKA.HANDLER_BACKOFF", 200*time.Millisecond)

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "im_chat_db")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.SQLITE_PATH", "im_chat.db")
	v.SetDefault("DATABASE.LOG_LEVEL", "warn")
	v.SetDefault("DATABASE.OP_TIMEOUT", 5*time.Second)

	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 24*time.Hour)
	v.SetDefault("AUTH.REFRESH_EXPIRY", 30*24*time.Hour)
	v.SetDefault("AUTH.MAX_FAILED_LOGINS", 5)
	v.SetDefault("AUTH.LOCKOUT_DURATION", 15*time.Minute)
	v.SetDefault("AUTH.TOKEN_ISSUER", "im-chat")

	v.SetDefault("SECURITY.MESSAGE_ENCRYPTION_KEY", "")

	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.PRESENCE_TTL", 2*time.Minute)

	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 8192)
	v.SetDefault("WEBSOCKET.SEND_BUFFER", 256)

	v.SetDefault("PAGINATION.CONVERSATION_PAGE_SIZE", 20)
	v.SetDefault("PAGINATION.MESSAGE_PAGE_SIZE", 50)
	v.SetDefault("PAGINATION.MAX_PAGE_SIZE", 100)
}

// Validate 检查启动所必需的配置项。
func (c Config) Validate() error {
	if c.Security.MessageEncryptionKey == "" {
		return errors.New("SECURITY.MESSAGE_ENCRYPTION_KEY 未配置")
	}
	if c.Auth.JWTSecretKey == "" {
		return errors.New("AUTH.JWT_SECRET_KEY 未配置")
	}
	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	return nil
}

// PageSize clamps a requested page size to the configured bounds, falling back to def.
func (p PaginationConfig) PageSize(requested, def int) int {
	if requested <= 0 {
		return def
	}
	if p.MaxPageSize > 0 && requested > p.MaxPageSize {
		return p.MaxPageSize
	}
	return requested
}
