package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 SYNCSPHERE_HUB_PORT
const EnvPrefix = "SYNCSPHERE"

// Config 进程启动时加载，运行期不再变更
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Hub      HubConfig      `mapstructure:"hub"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Wire     WireConfig     `mapstructure:"wire"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode" validate:"oneof=debug release test"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN      string `mapstructure:"dsn" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=silent error warn info"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig FriendTTL 为 0 时不缓存好友列表
type CacheConfig struct {
	FriendTTL time.Duration `mapstructure:"friend_ttl" validate:"min=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

// HubConfig central broadcaster
type HubConfig struct {
	BindHost         string        `mapstructure:"bind_host"`
	Port             int           `mapstructure:"port" validate:"min=1,max=65535"`
	CertFile         string        `mapstructure:"cert_file" validate:"required_with=KeyFile"`
	KeyFile          string        `mapstructure:"key_file" validate:"required_with=CertFile"`
	SyncInterval     time.Duration `mapstructure:"sync_interval" validate:"gt=0"`
	HistorySize      int           `mapstructure:"history_size" validate:"min=0"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	AcceptRate       float64       `mapstructure:"accept_rate" validate:"min=0"`
}

// ListenAddr host:port the hub binds to.
func (c HubConfig) ListenAddr() string {
	return net.JoinHostPort(c.BindHost, strconv.Itoa(c.Port))
}

// TLSEnabled reports whether a certificate pair is configured.
func (c HubConfig) TLSEnabled() bool { return c.CertFile != "" && c.KeyFile != "" }

// AgentConfig regional agent
type AgentConfig struct {
	Region             string          `mapstructure:"region" validate:"required"`
	HubHost            string          `mapstructure:"hub_host" validate:"required"`
	HubPort            int             `mapstructure:"hub_port" validate:"min=1,max=65535"`
	ServerName         string          `mapstructure:"server_name"`
	CAFile             string          `mapstructure:"ca_file"`
	InsecureSkipVerify bool            `mapstructure:"insecure_skip_verify"`
	Plaintext          bool            `mapstructure:"plaintext"`
	DialTimeout        time.Duration   `mapstructure:"dial_timeout" validate:"gt=0"`
	WriteTimeout       time.Duration   `mapstructure:"write_timeout" validate:"gt=0"`
	UploadDir          string          `mapstructure:"upload_dir" validate:"required"`
	Queue              string          `mapstructure:"queue" validate:"oneof=memory redis outbox"`
	Reconnect          ReconnectConfig `mapstructure:"reconnect"`
}

// HubAddr host:port of the hub.
func (c AgentConfig) HubAddr() string {
	return net.JoinHostPort(c.HubHost, strconv.Itoa(c.HubPort))
}

// ReconnectConfig MaxAttempts 为 0 时不重连
type ReconnectConfig struct {
	MaxAttempts     uint          `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type WireConfig struct {
	MaxFrameBytes int `mapstructure:"max_frame_bytes" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "database.db")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.friend_ttl", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", 24*time.Hour)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "syncsphere")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("hub.bind_host", "0.0.0.0")
	v.SetDefault("hub.port", 9000)
	v.SetDefault("hub.cert_file", "")
	v.SetDefault("hub.key_file", "")
	v.SetDefault("hub.sync_interval", 30*time.Second)
	v.SetDefault("hub.history_size", 50)
	v.SetDefault("hub.handshake_timeout", 10*time.Second)
	v.SetDefault("hub.write_timeout", 10*time.Second)
	v.SetDefault("hub.accept_rate", 0)

	v.SetDefault("agent.region", "local")
	v.SetDefault("agent.hub_host", "localhost")
	v.SetDefault("agent.hub_port", 9000)
	v.SetDefault("agent.server_name", "")
	v.SetDefault("agent.ca_file", "")
	v.SetDefault("agent.insecure_skip_verify", false)
	v.SetDefault("agent.plaintext", false)
	v.SetDefault("agent.dial_timeout", 10*time.Second)
	v.SetDefault("agent.write_timeout", 30*time.Second)
	v.SetDefault("agent.upload_dir", "uploads")
	v.SetDefault("agent.queue", "memory")
	v.SetDefault("agent.reconnect.max_attempts", 0)
	v.SetDefault("agent.reconnect.initial_interval", time.Second)
	v.SetDefault("agent.reconnect.max_interval", 30*time.Second)

	v.SetDefault("wire.max_frame_bytes", 64<<20)
}

// Load 读取 config.yaml（当前目录或 ./config），环境变量覆盖
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvPrefix + "_CONFIG"))
}

// LoadFile reads the given YAML file; an empty path searches the default
// locations and tolerates a missing file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
