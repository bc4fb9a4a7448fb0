package config

import (
	"fmt"
	"strings"

	"github.com/stackspay/gateway/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Stacks   StacksConfig   `mapstructure:"stacks"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// StacksConfig Stacks 链访问配置
type StacksConfig struct {
	Network                 string `mapstructure:"network"`      // mainnet / testnet
	APIBaseURL              string `mapstructure:"api_base_url"` // Hiro API 地址
	RequestTimeoutMS        int    `mapstructure:"request_timeout_ms"`
	FallbackTransferFee     int64  `mapstructure:"fallback_transfer_fee"` // 费率估算失败时的默认转账费（microSTX）
	WebhookDeliverTimeoutMS int    `mapstructure:"webhook_deliver_timeout_ms"`
}

// PaymentConfig 支付核心配置
type PaymentConfig struct {
	MinAmountMicroStx          int64 `mapstructure:"min_amount_micro_stx"`
	DefaultExpireMinutes       int   `mapstructure:"default_expire_minutes"`
	MaxExpireMinutes           int   `mapstructure:"max_expire_minutes"`
	DefaultFeeRateBasisPoints  int   `mapstructure:"default_fee_rate_basis_points"`
	SettleMaxAttempts          int   `mapstructure:"settle_max_attempts"`
	SettleBackoffBaseSeconds   int   `mapstructure:"settle_backoff_base_seconds"`
	ConfirmPollMaxAttempts     int   `mapstructure:"confirm_poll_max_attempts"`
	ConfirmPollIntervalSeconds int   `mapstructure:"confirm_poll_interval_seconds"`
	SweepIntervalSeconds       int   `mapstructure:"sweep_interval_seconds"`
	StaleSettlingSeconds       int   `mapstructure:"stale_settling_seconds"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	KeyEncryptionSecret string          `mapstructure:"key_encryption_secret"` // 一次性地址私钥加密密钥
	ChainhookSecret     string          `mapstructure:"chainhook_secret"`      // Chainhook 推送鉴权令牌
	APIRateLimit        RateLimitConfig `mapstructure:"api_rate_limit"`
	RegisterRateLimit   RateLimitConfig `mapstructure:"register_rate_limit"`
}

// Load 从 config.yml 加载配置
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")     // 从当前目录查找
	viper.AddConfigPath("../")   // 如果从 cmd/server 运行
	viper.AddConfigPath("./etc") // etc 文件夹

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("log.dir", "")
	viper.SetDefault("log.filename", "gateway.log")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.max_age_days", 30)
	viper.SetDefault("log.compress", true)
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "./db/gateway.db")
	viper.SetDefault("database.pool.max_open_conns", 1)
	viper.SetDefault("database.pool.max_idle_conns", 1)
	viper.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	viper.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "127.0.0.1")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.prefix", "sp")
	viper.SetDefault("queue.enabled", true)
	viper.SetDefault("queue.host", "127.0.0.1")
	viper.SetDefault("queue.port", 6379)
	viper.SetDefault("queue.password", "")
	viper.SetDefault("queue.db", 1)
	viper.SetDefault("queue.concurrency", 10)
	viper.SetDefault("queue.queues", map[string]int{
		"default":    10,
		"settlement": 5,
	})
	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"X-Requested-With",
	})
	viper.SetDefault("cors.allow_credentials", true)
	viper.SetDefault("cors.max_age", 600)
	viper.SetDefault("stacks.network", "testnet")
	viper.SetDefault("stacks.api_base_url", "https://api.testnet.hiro.so")
	viper.SetDefault("stacks.request_timeout_ms", 10000)
	viper.SetDefault("stacks.fallback_transfer_fee", 3000)
	viper.SetDefault("stacks.webhook_deliver_timeout_ms", 10000)
	viper.SetDefault("payment.min_amount_micro_stx", 1000)
	viper.SetDefault("payment.default_expire_minutes", 15)
	viper.SetDefault("payment.max_expire_minutes", 1440)
	viper.SetDefault("payment.default_fee_rate_basis_points", 100)
	viper.SetDefault("payment.settle_max_attempts", 5)
	viper.SetDefault("payment.settle_backoff_base_seconds", 30)
	viper.SetDefault("payment.confirm_poll_max_attempts", 30)
	viper.SetDefault("payment.confirm_poll_interval_seconds", 30)
	viper.SetDefault("payment.sweep_interval_seconds", 60)
	viper.SetDefault("payment.stale_settling_seconds", 600)
	viper.SetDefault("security.key_encryption_secret", "change-me-in-production")
	viper.SetDefault("security.chainhook_secret", "")
	viper.SetDefault("security.api_rate_limit.window_seconds", 1)
	viper.SetDefault("security.api_rate_limit.max_requests", 50)
	viper.SetDefault("security.register_rate_limit.window_seconds", 3600)
	viper.SetDefault("security.register_rate_limit.max_requests", 10)

	// 环境变量支持
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}

	return &cfg
}
