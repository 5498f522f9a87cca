// Package config 提供配置加载功能
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qiminjie89/chatsys/pkg/logger"
)

// 分帧模式
const (
	FramingReassemble = "reassemble"
	FramingSingleRead = "single_read"
)

// 环境变量
const (
	EnvAPIPort      = "CHAT_API_PORT"
	EnvDBWriteURL   = "CHAT_DB_WRITE_URL"
	EnvDBReadURL    = "CHAT_DB_READ_URL"
	EnvRedisURL     = "REDIS_URL"
	EnvSignSecret   = "CHAT_SIGN_SECRET"
	EnvAdminSecret  = "CHAT_ADMIN_JWT_SECRET"
	EnvKafkaBrokers = "CHAT_KAFKA_BROKERS"
)

// Config 聊天服务配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Router    RouterConfig    `yaml:"router"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Push      PushConfig      `yaml:"push"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       logger.Config   `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig 服务器基础配置
type ServerConfig struct {
	ID             string        `yaml:"id"`
	Addr           string        `yaml:"addr"`
	WebSocketAddr  string        `yaml:"websocket_addr"`
	HealthAddr     string        `yaml:"health_addr"`
	GRPCAddr       string        `yaml:"grpc_addr"`
	Framing        string        `yaml:"framing"`
	MaxFrameSize   int           `yaml:"max_frame_size"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// AuthConfig 帧签名与管理接口认证
type AuthConfig struct {
	Secret         string        `yaml:"secret"`
	Algorithm      string        `yaml:"algorithm"` // city64, xxhash64
	MaxClockSkew   time.Duration `yaml:"max_clock_skew"`
	AdminJWTSecret string        `yaml:"admin_jwt_secret"`
}

// RouterConfig 路由配置
type RouterConfig struct {
	AliasUnknown bool `yaml:"alias_unknown"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	WriteDSN        string        `yaml:"write_dsn"`
	ReadDSN         string        `yaml:"read_dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig 缓存配置，URL 为空时使用进程内缓存
type RedisConfig struct {
	URL        string        `yaml:"url"`
	MessageTTL time.Duration `yaml:"message_ttl"`
}

// KafkaConfig Kafka 配置，Brokers 为空时使用进程内事件总线
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// PushConfig 推送分发配置
type PushConfig struct {
	Shards    int `yaml:"shards"`
	QueueSize int `yaml:"queue_size"`
}

// RateLimitConfig 单连接限流，MessagesPerSecond 为 0 时关闭
type RateLimitConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	// Enabled 在运维端口暴露 /metrics
	Enabled bool `yaml:"enabled"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ID:             "chat-1",
			Addr:           ":8080",
			HealthAddr:     ":8081",
			Framing:        FramingReassemble,
			MaxFrameSize:   65535,
			ReadTimeout:    5 * time.Minute,
			WriteTimeout:   10 * time.Second,
			HandlerTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Algorithm: "city64",
		},
		Database: DatabaseConfig{
			WriteDSN:     "chat.db",
			MaxOpenConns: 8,
			MaxIdleConns: 4,
		},
		Redis: RedisConfig{
			MessageTTL: 48 * time.Hour,
		},
		Kafka: KafkaConfig{
			Topic:        "chat-events",
			GroupID:      "chat-push",
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
		},
		Push: PushConfig{
			Shards:    16,
			QueueSize: 4096,
		},
		Log: logger.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load 读取 YAML 配置，再应用环境变量并校验；path 为空时只用默认值和环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvAPIPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("%s: invalid port %q", EnvAPIPort, v)
		}
		host, _, err := net.SplitHostPort(c.Server.Addr)
		if err != nil {
			host = ""
		}
		c.Server.Addr = net.JoinHostPort(host, v)
	}
	if v := getenv(EnvDBWriteURL); v != "" {
		c.Database.WriteDSN = v
	}
	if v := getenv(EnvDBReadURL); v != "" {
		c.Database.ReadDSN = v
	}
	if v := getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
	}
	if v := getenv(EnvSignSecret); v != "" {
		c.Auth.Secret = v
	}
	if v := getenv(EnvAdminSecret); v != "" {
		c.Auth.AdminJWTSecret = v
	}
	if v := getenv(EnvKafkaBrokers); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Server.Framing {
	case FramingReassemble, FramingSingleRead:
	default:
		errs = append(errs, fmt.Errorf("server.framing: unknown mode %q", c.Server.Framing))
	}
	if c.Server.MaxFrameSize <= 0 || c.Server.MaxFrameSize > 65535 {
		errs = append(errs, fmt.Errorf("server.max_frame_size: %d out of range", c.Server.MaxFrameSize))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, fmt.Errorf("auth.secret is required (or %s)", EnvSignSecret))
	}
	switch c.Auth.Algorithm {
	case "", "city64", "xxhash64":
	default:
		errs = append(errs, fmt.Errorf("auth.algorithm: unknown %q", c.Auth.Algorithm))
	}
	if c.Database.WriteDSN == "" {
		errs = append(errs, fmt.Errorf("database.write_dsn is required (or %s)", EnvDBWriteURL))
	}
	if c.Push.Shards <= 0 || c.Push.QueueSize <= 0 {
		errs = append(errs, errors.New("push.shards and push.queue_size must be positive"))
	}
	if c.RateLimit.MessagesPerSecond < 0 {
		errs = append(errs, errors.New("rate_limit.messages_per_second must not be negative"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}
