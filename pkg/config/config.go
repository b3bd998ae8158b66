// Package config 提供 TOML 配置加载、.env 与环境变量覆盖、默认值与校验
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

// Config 服务配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`

	HTTP      HTTPConfig      `mapstructure:"http"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Push      PushConfig      `mapstructure:"push"`
	Email     EmailConfig     `mapstructure:"email"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// GRPCConfig gRPC 服务配置（仅健康检查与反射）
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres, sqlite
	Driver             string `mapstructure:"driver"`
	DSN                string `mapstructure:"dsn"`
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    int    `mapstructure:"conn_max_lifetime"`
	LogEnabled         bool   `mapstructure:"log_enabled"`
	SlowQueryThreshold int    `mapstructure:"slow_query_threshold"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	MaxRetries   int      `mapstructure:"max_retries"`
	RetryBackoff int      `mapstructure:"retry_backoff"`
	// 告警已发送事件 Topic
	AlertTopic string `mapstructure:"alert_topic"`
	// 客户端交互埋点 Topic
	InteractionTopic string `mapstructure:"interaction_topic"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig 接口限流配置
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps"`
	Burst   int  `mapstructure:"burst"`
	// 交互埋点接口单独限流
	InteractionQPS   int `mapstructure:"interaction_qps"`
	InteractionBurst int `mapstructure:"interaction_burst"`
}

// AlertsConfig 房源提醒调度配置
type AlertsConfig struct {
	// 调度间隔
	Interval time.Duration `mapstructure:"interval"`
	// 并发处理订阅的 worker 数
	Workers int `mapstructure:"workers"`
	// 每个订阅每轮最多匹配的新房源数
	MaxMatches int `mapstructure:"max_matches"`
	// 降价扫描的分页大小，所有候选都会被扫描
	PriceScanBatch int `mapstructure:"price_scan_batch"`
	// 每个订阅每轮最多发出的降价提醒数
	MaxPriceDrops int `mapstructure:"max_price_drops"`
	// 幂等键“自然日”所用时区
	Timezone string `mapstructure:"timezone"`
	// 降价提醒阈值（百分比）
	PriceDropThreshold float64 `mapstructure:"price_drop_threshold"`
	// 无基线价格时的估算加价比例
	HeuristicMargin float64 `mapstructure:"heuristic_margin"`
	// 无基线且无 max_price 时是否使用估算基线
	HeuristicFallback bool `mapstructure:"heuristic_fallback"`
	// 站点地址，用于拼接深链
	BaseURL string `mapstructure:"base_url"`
	// 邮件与金额格式的语言，如 id, en
	Locale string `mapstructure:"locale"`
	// 是否在台账前加 Redis SetNX 快速去重
	LedgerRedisGuard bool `mapstructure:"ledger_redis_guard"`
}

// PushConfig Web Push 配置
type PushConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subscriber      string `mapstructure:"subscriber"`
	TTL             int    `mapstructure:"ttl"`
	Timeout         int    `mapstructure:"timeout"`
}

// EmailConfig 邮件发送配置
type EmailConfig struct {
	// 发送方式：smtp, kafka, log
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	Topic    string `mapstructure:"topic"`
}

// Load 从 TOML 文件加载配置，支持 .env 与 APP_ 前缀环境变量覆盖
func Load(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Enabled && (c.GRPC.Port <= 0 || c.GRPC.Port > 65535) {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if c.Database.DSN == "" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
	}
	if c.Alerts.Workers <= 0 {
		return fmt.Errorf("alerts.workers must be positive, got %d", c.Alerts.Workers)
	}
	if c.Alerts.Interval <= 0 {
		return fmt.Errorf("alerts.interval must be positive")
	}
	if c.Alerts.PriceDropThreshold <= 0 || c.Alerts.PriceDropThreshold >= 100 {
		return fmt.Errorf("alerts.price_drop_threshold out of range: %v", c.Alerts.PriceDropThreshold)
	}
	if _, err := time.LoadLocation(c.Alerts.Timezone); err != nil {
		return fmt.Errorf("invalid alerts.timezone %q: %w", c.Alerts.Timezone, err)
	}
	if c.Alerts.LedgerRedisGuard && !c.Redis.Enabled {
		return fmt.Errorf("alerts.ledger_redis_guard requires redis.enabled")
	}
	switch c.Email.Driver {
	case "smtp":
		if c.Email.Host == "" || c.Email.From == "" {
			return fmt.Errorf("email.host and email.from are required for smtp driver")
		}
	case "kafka":
		if !c.Kafka.Enabled || c.Email.Topic == "" {
			return fmt.Errorf("email kafka driver requires kafka.enabled and email.topic")
		}
	case "log":
	default:
		return fmt.Errorf("unsupported email driver: %s", c.Email.Driver)
	}
	if c.Push.Enabled && (c.Push.VAPIDPublicKey == "" || c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("push.vapid_public_key and push.vapid_private_key are required when push is enabled")
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "propertyalert")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)
	v.SetDefault("kafka.alert_topic", "property-alerts.dispatched")
	v.SetDefault("kafka.interaction_topic", "property-alerts.interactions")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/propertyalert.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.qps", 50)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("rate_limit.interaction_qps", 200)
	v.SetDefault("rate_limit.interaction_burst", 400)

	v.SetDefault("alerts.interval", "15m")
	v.SetDefault("alerts.workers", 5)
	v.SetDefault("alerts.max_matches", 10)
	v.SetDefault("alerts.price_scan_batch", 200)
	v.SetDefault("alerts.max_price_drops", 10)
	v.SetDefault("alerts.timezone", "Asia/Jakarta")
	v.SetDefault("alerts.price_drop_threshold", 10.0)
	v.SetDefault("alerts.heuristic_margin", 0.15)
	v.SetDefault("alerts.heuristic_fallback", true)
	v.SetDefault("alerts.base_url", "http://localhost:3000")
	v.SetDefault("alerts.locale", "id")
	v.SetDefault("alerts.ledger_redis_guard", false)

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.ttl", 86400)
	v.SetDefault("push.timeout", 10)

	v.SetDefault("email.driver", "log")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.topic", "property-alerts.email")
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
