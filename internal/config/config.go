package config

import (
	"fmt"
	"strings"

	"github.com/affiliflow/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	OperatorAuth OperatorAuthConfig `mapstructure:"operator_auth"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Queue        QueueConfig        `mapstructure:"queue"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Security     SecurityConfig     `mapstructure:"security"`
	Email        EmailConfig        `mapstructure:"email"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Payout       PayoutConfig       `mapstructure:"payout"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
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
		Level:      c.Level,
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
	Driver   string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN      string             `mapstructure:"dsn"`    // 数据库连接串
	LogLevel string             `mapstructure:"log_level"`
	Pool     DatabasePoolConfig `mapstructure:"pool"`
}

// OperatorAuthConfig 运营令牌校验配置（令牌由外部认证服务签发）
type OperatorAuthConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
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

// EmailConfig 邮件服务配置
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	UseTLS   bool   `mapstructure:"use_tls"`
	UseSSL   bool   `mapstructure:"use_ssl"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	ClickRateLimit RateLimitConfig `mapstructure:"click_rate_limit"`
}

// RateLimitConfig 入口限流配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
	BlockSeconds  int `mapstructure:"block_seconds"`
}

// PipelineConfig 转化流水线配置
type PipelineConfig struct {
	HoldDays                 int     `mapstructure:"hold_days"`
	FallbackCommissionPct    float64 `mapstructure:"fallback_commission_pct"`
	ConversionVelocityLimit  int     `mapstructure:"conversion_velocity_limit"`
	ConversionVelocityWindow int     `mapstructure:"conversion_velocity_window_seconds"`
	ClickVelocityLimit       int     `mapstructure:"click_velocity_limit"`
	ClickVelocityWindow      int     `mapstructure:"click_velocity_window_seconds"`
}

// WebhookConfig Webhook 投递配置
type WebhookConfig struct {
	TimeoutSeconds            int `mapstructure:"timeout_seconds"`
	MaxAutoAttempts           int `mapstructure:"max_auto_attempts"`
	RetrySweepIntervalSeconds int `mapstructure:"retry_sweep_interval_seconds"`
	RetryBatchSize            int `mapstructure:"retry_batch_size"`
	SweepConcurrency          int `mapstructure:"sweep_concurrency"`
}

// PayoutConfig 结算策略配置
type PayoutConfig struct {
	AutoApprove                bool `mapstructure:"auto_approve"`
	AutoApproveIntervalSeconds int  `mapstructure:"auto_approve_interval_seconds"`
	AutoApproveBatchSize       int  `mapstructure:"auto_approve_batch_size"`
}

// SetDefaults 注册默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.level", "")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "affiliflow.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/affiliflow.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("operator_auth.secret", "change-me-in-production")
	v.SetDefault("operator_auth.issuer", "")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "af")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Authorization",
		"X-Request-ID",
	})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.click_rate_limit.window_seconds", 60)
	v.SetDefault("security.click_rate_limit.max_requests", 120)
	v.SetDefault("security.click_rate_limit.block_seconds", 60)
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.from_name", "")
	v.SetDefault("email.use_tls", true)
	v.SetDefault("email.use_ssl", false)
	v.SetDefault("pipeline.hold_days", 7)
	v.SetDefault("pipeline.fallback_commission_pct", 0)
	v.SetDefault("pipeline.conversion_velocity_limit", 20)
	v.SetDefault("pipeline.conversion_velocity_window_seconds", 3600)
	v.SetDefault("pipeline.click_velocity_limit", 60)
	v.SetDefault("pipeline.click_velocity_window_seconds", 60)
	v.SetDefault("webhook.timeout_seconds", 10)
	v.SetDefault("webhook.max_auto_attempts", 8)
	v.SetDefault("webhook.retry_sweep_interval_seconds", 30)
	v.SetDefault("webhook.retry_batch_size", 100)
	v.SetDefault("webhook.sweep_concurrency", 4)
	v.SetDefault("payout.auto_approve", false)
	v.SetDefault("payout.auto_approve_interval_seconds", 300)
	v.SetDefault("payout.auto_approve_batch_size", 200)
}

// Load 从 config.yml 加载配置
func Load() *Config {
	v := viper.GetViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")     // 从当前目录查找
	v.AddConfigPath("../")   // 如果从 cmd/server 运行
	v.AddConfigPath("./etc") // etc 文件夹

	SetDefaults(v)

	// 环境变量支持（例如 webhook.timeout_seconds -> WEBHOOK_TIMEOUT_SECONDS）
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	cfg, err := Decode(v)
	if err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return cfg
}

// Decode 解析 viper 实例为配置结构
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
