package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App     AppConfig     `json:"app"`
	MySQL   MySQLConfig   `json:"mysql"`
	Redis   RedisConfig   `json:"redis"`
	Browser BrowserConfig `json:"browser"`
	Email   EmailConfig   `json:"email"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env      string `json:"env"`       // 运行环境: local / prod
	LogLevel string `json:"log_level"` // 日志级别: debug / info / warn / error
	HTTPAddr string `json:"http_addr"` // 查询 API 监听地址

	// Redis Streams item 队列配置
	ItemQueueStream string `json:"item_queue_stream"` // Stream 名称
	ItemQueueGroup  string `json:"item_queue_group"`  // Consumer Group 名称
	ConsumerID      string `json:"consumer_id"`       // 消费者标识（为空时自动生成）
	MaxRetry        int    `json:"max_retry"`         // item 消费失败最大重试次数
	QueueBatchSize  int    `json:"queue_batch_size"`  // 每次读取的消息数量

	// 公告补抓配置
	EnableEnrich   bool          `json:"enable_enrich"`    // 是否启用公告补抓
	EnrichInterval time.Duration `json:"enrich_interval"`  // 补抓扫描间隔（如 "10m"）
	EnrichBatch    int           `json:"enrich_batch"`     // 每轮补抓的项目数
	WorkerPoolSize int           `json:"worker_pool_size"` // 补抓 worker 数量
	QueueCapacity  int           `json:"queue_capacity"`   // 补抓任务队列容量
	RateLimit      float64       `json:"rate_limit"`       // 对站点的限流速率（token/s）
	RateBurst      float64       `json:"rate_burst"`       // 限流桶容量
	DedupWindow    int           `json:"dedup_window"`     // 公告 URL 去重窗口（秒）

	NotifyEmail string `json:"notify_email"` // 抓取汇总接收邮箱（为空不发送）
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// BrowserConfig 公告渲染浏览器配置。
type BrowserConfig struct {
	BinPath      string        `json:"bin_path"`      // 浏览器可执行文件路径
	ProxyURL     string        `json:"proxy_url"`     // 代理服务器 URL
	Headless     bool          `json:"headless"`      // 是否使用无头模式
	PageTimeout  time.Duration `json:"page_timeout"`  // 单页渲染超时
	WaitAfterNav time.Duration `json:"wait_after_nav"` // 页面加载后的等待时间
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// Load 从 JSON 文件加载配置。
//
// 文件不存在时使用默认值，环境变量始终优先覆盖。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，失败时返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:      "local",
			LogLevel: "info",
			HTTPAddr: ":8081",

			ItemQueueStream: "tbbid:item:queue",
			ItemQueueGroup:  "ingest_group",
			MaxRetry:        3,
			QueueBatchSize:  10,

			EnableEnrich:   false,
			EnrichInterval: 10 * time.Minute,
			EnrichBatch:    50,
			WorkerPoolSize: 4,
			QueueCapacity:  200,
			RateLimit:      2,
			RateBurst:      4,
			DedupWindow:    86400,

			NotifyEmail: "",
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/tbbid?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Browser: BrowserConfig{
			BinPath:      "",
			ProxyURL:     "",
			Headless:     true,
			PageTimeout:  30 * time.Second,
			WaitAfterNav: 2 * time.Second,
		},
		Email: EmailConfig{
			SMTPHost:  "",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.ItemQueueStream == "" {
		cfg.App.ItemQueueStream = defaults.App.ItemQueueStream
	}
	if cfg.App.ItemQueueGroup == "" {
		cfg.App.ItemQueueGroup = defaults.App.ItemQueueGroup
	}
	if cfg.App.MaxRetry == 0 {
		cfg.App.MaxRetry = defaults.App.MaxRetry
	}
	if cfg.App.QueueBatchSize == 0 {
		cfg.App.QueueBatchSize = defaults.App.QueueBatchSize
	}
	if cfg.App.EnrichInterval == 0 {
		cfg.App.EnrichInterval = defaults.App.EnrichInterval
	}
	if cfg.App.EnrichBatch == 0 {
		cfg.App.EnrichBatch = defaults.App.EnrichBatch
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.DedupWindow == 0 {
		cfg.App.DedupWindow = defaults.App.DedupWindow
	}
	if cfg.Browser.PageTimeout == 0 {
		cfg.Browser.PageTimeout = defaults.Browser.PageTimeout
	}
	if cfg.Browser.WaitAfterNav == 0 {
		cfg.Browser.WaitAfterNav = defaults.Browser.WaitAfterNav
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_ITEM_QUEUE_STREAM"); v != "" {
		cfg.App.ItemQueueStream = v
	}
	if v := os.Getenv("APP_ITEM_QUEUE_GROUP"); v != "" {
		cfg.App.ItemQueueGroup = v
	}
	if v := os.Getenv("APP_CONSUMER_ID"); v != "" {
		cfg.App.ConsumerID = v
	}
	if v := os.Getenv("APP_MAX_RETRY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxRetry = i
		}
	}
	if v := os.Getenv("APP_QUEUE_BATCH_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueBatchSize = i
		}
	}
	if v := os.Getenv("APP_ENABLE_ENRICH"); v != "" {
		cfg.App.EnableEnrich = v == "true" || v == "1"
	}
	if v := os.Getenv("APP_ENRICH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.EnrichInterval = d
		}
	}
	if v := os.Getenv("APP_ENRICH_BATCH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.EnrichBatch = i
		}
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if v := os.Getenv("APP_DEDUP_WINDOW"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.DedupWindow = i
		}
	}
	if v := os.Getenv("APP_NOTIFY_EMAIL"); v != "" {
		cfg.App.NotifyEmail = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			host := v
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = host + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("HTTP_PROXY"); v != "" {
		cfg.Browser.ProxyURL = v
	} else if v := os.Getenv("BROWSER_PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSER_PAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.PageTimeout = d
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "tbbid",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		EnrichInterval string `json:"enrich_interval"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.EnrichInterval != "" {
		duration, err := time.ParseDuration(aux.EnrichInterval)
		if err != nil {
			return fmt.Errorf("invalid enrich_interval format: %w", err)
		}
		a.EnrichInterval = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		EnrichInterval string `json:"enrich_interval"`
		*Alias
	}{
		EnrichInterval: a.EnrichInterval.String(),
		Alias:          (*Alias)(&a),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (b *BrowserConfig) UnmarshalJSON(data []byte) error {
	type Alias BrowserConfig
	aux := &struct {
		PageTimeout  string `json:"page_timeout"`
		WaitAfterNav string `json:"wait_after_nav"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.PageTimeout != "" {
		duration, err := time.ParseDuration(aux.PageTimeout)
		if err != nil {
			return fmt.Errorf("invalid page_timeout format: %w", err)
		}
		b.PageTimeout = duration
	}
	if aux.WaitAfterNav != "" {
		duration, err := time.ParseDuration(aux.WaitAfterNav)
		if err != nil {
			return fmt.Errorf("invalid wait_after_nav format: %w", err)
		}
		b.WaitAfterNav = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (b BrowserConfig) MarshalJSON() ([]byte, error) {
	type Alias BrowserConfig
	return json.Marshal(&struct {
		PageTimeout  string `json:"page_timeout"`
		WaitAfterNav string `json:"wait_after_nav"`
		*Alias
	}{
		PageTimeout:  b.PageTimeout.String(),
		WaitAfterNav: b.WaitAfterNav.String(),
		Alias:        (*Alias)(&b),
	})
}
