package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 各项配置的默认值与上限
const (
	DefaultRozetkaBaseURL = "https://api-seller.rozetka.com.ua/"
	DefaultKeycrmBaseURL  = "https://openapi.keycrm.app/v1/"

	DefaultRozetkaLimit = 20
	MaxRozetkaLimit     = 100
	DefaultKeycrmLimit  = 20
	MaxKeycrmLimit      = 50

	DefaultSearchPerPage     = 100
	DefaultSearchMaxPages    = 5
	DefaultDirectMaxAttempts = 5

	DefaultLinkFieldUUID = "OR_1002"
)

// Config 全局配置
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Rozetka RozetkaConfig `mapstructure:"rozetka"`
	Keycrm  KeycrmConfig  `mapstructure:"keycrm"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	ErrLog  ErrLogConfig  `mapstructure:"errlog"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port      string `mapstructure:"port"`
	PublicDir string `mapstructure:"public_dir"`
}

// RozetkaConfig Rozetka 平台配置
type RozetkaConfig struct {
	Token          string        `mapstructure:"token"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	OrderLimit     int           `mapstructure:"order_limit"`
	OrderPage      int           `mapstructure:"order_page"`
	Expand         string        `mapstructure:"expand"`
	SkipTokenCheck bool          `mapstructure:"skip_token_check"`
	SearchPerPage  int           `mapstructure:"search_per_page"`
	SearchMaxPages int           `mapstructure:"search_max_pages"`
}

// KeycrmConfig KeyCRM 平台配置
type KeycrmConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	OrderLimit        int           `mapstructure:"order_limit"`
	Include           string        `mapstructure:"include"`
	SearchMaxAttempts int           `mapstructure:"search_max_attempts"`
	LinkFieldUUID     string        `mapstructure:"link_field_uuid"`
}

// WebhookConfig Webhook 入口与队列配置
type WebhookConfig struct {
	Secret string      `mapstructure:"secret"`
	Queue  QueueConfig `mapstructure:"queue"`
}

// QueueConfig 队列配置
type QueueConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	HistoryLimit   int           `mapstructure:"history_limit"`
	PayloadPreview int           `mapstructure:"payload_preview"`
}

// ErrLogConfig 错误日志存储配置
type ErrLogConfig struct {
	Path       string `mapstructure:"path"`
	CacheLimit int    `mapstructure:"cache_limit"`
}

// RedisConfig Redis 配置（addr 为空则关闭事件发布）
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Load 加载配置文件（环境变量可覆盖，前缀 LINKSYNC_）
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("LINKSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults 填充默认值并收敛到上限
func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Port == "" {
		c.Server.Port = "3000"
	}
	if c.Server.PublicDir == "" {
		c.Server.PublicDir = "./public"
	}

	if c.Rozetka.BaseURL == "" {
		c.Rozetka.BaseURL = DefaultRozetkaBaseURL
	}
	if c.Rozetka.Timeout <= 0 {
		c.Rozetka.Timeout = 10 * time.Second
	}
	c.Rozetka.OrderLimit = clampPositive(c.Rozetka.OrderLimit, DefaultRozetkaLimit, MaxRozetkaLimit)
	if c.Rozetka.OrderPage <= 0 {
		c.Rozetka.OrderPage = 1
	}
	if c.Rozetka.Expand == "" {
		c.Rozetka.Expand = "user,delivery,purchases"
	}
	c.Rozetka.SearchPerPage = clampPositive(c.Rozetka.SearchPerPage, DefaultSearchPerPage, MaxRozetkaLimit)
	if c.Rozetka.SearchMaxPages <= 0 {
		c.Rozetka.SearchMaxPages = DefaultSearchMaxPages
	}

	if c.Keycrm.BaseURL == "" {
		c.Keycrm.BaseURL = DefaultKeycrmBaseURL
	}
	if c.Keycrm.Timeout <= 0 {
		c.Keycrm.Timeout = 10 * time.Second
	}
	c.Keycrm.OrderLimit = clampPositive(c.Keycrm.OrderLimit, DefaultKeycrmLimit, MaxKeycrmLimit)
	if c.Keycrm.SearchMaxAttempts <= 0 {
		c.Keycrm.SearchMaxAttempts = DefaultDirectMaxAttempts
	}
	if strings.TrimSpace(c.Keycrm.LinkFieldUUID) == "" {
		c.Keycrm.LinkFieldUUID = DefaultLinkFieldUUID
	}

	if c.Webhook.Queue.Concurrency <= 0 {
		c.Webhook.Queue.Concurrency = 3
	}
	// 负数表示关闭重试，0 视为未配置
	if c.Webhook.Queue.MaxRetries < 0 {
		c.Webhook.Queue.MaxRetries = 0
	} else if c.Webhook.Queue.MaxRetries == 0 {
		c.Webhook.Queue.MaxRetries = 3
	}
	if c.Webhook.Queue.RetryDelay <= 0 {
		c.Webhook.Queue.RetryDelay = 1500 * time.Millisecond
	}
	if c.Webhook.Queue.HistoryLimit <= 0 {
		c.Webhook.Queue.HistoryLimit = 25
	}
	if c.Webhook.Queue.PayloadPreview <= 0 {
		c.Webhook.Queue.PayloadPreview = 1000
	}

	if c.ErrLog.Path == "" {
		c.ErrLog.Path = "./logs/error-log.db"
	}
	if c.ErrLog.CacheLimit <= 0 {
		c.ErrLog.CacheLimit = 200
	}

	if c.Redis.Channel == "" {
		c.Redis.Channel = "webhook_job_events"
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.Rozetka.Token == "" {
		return fmt.Errorf("rozetka.token is required")
	}
	if c.Keycrm.APIKey == "" {
		return fmt.Errorf("keycrm.api_key is required")
	}
	return nil
}

// clampPositive 正整数约束：非正取默认值，超限取上限
func clampPositive(value, fallback, max int) int {
	if value <= 0 {
		return fallback
	}
	if max > 0 && value > max {
		return max
	}
	return value
}
