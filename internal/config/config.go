package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig HTTP 管理接口监听配置
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// SMTPConfig 入站 SMTP 服务配置
type SMTPConfig struct {
	BindAddr        string        // 监听地址，默认 ":25"
	Domain          string        // HELO/EHLO 使用的主机名，同时用于转发时的 EHLO
	MaxMessageBytes int64         // 单封邮件大小上限
	MaxRecipients   int           // 单封邮件收件人上限
	MaxConnections  int           // 同时保持的连接数上限
	ConnRate        float64       // 每秒允许新建的连接数
	ConnBurst       int           // 连接突发上限
	ReadTimeout     time.Duration // 读超时
	WriteTimeout    time.Duration // 写超时
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string // "*" 表示允许所有来源
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string // debug, info, warn, error
	Development bool   // 控制台格式输出
	File        string // 日志文件路径，留空只输出到标准输出
	MaxSize     int    // 单个文件大小（MB）
	MaxBackups  int
	MaxAge      int // 保留天数
}

// DatabaseConfig 持久化配置
type DatabaseConfig struct {
	Type            string // "memory"、"postgres" 或 "mysql"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig 域名/路由缓存与撤回集合
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	CacheTTL time.Duration // 路由缓存有效期
}

// RoutingConfig 路由与处置策略
type RoutingConfig struct {
	ReturnPathDomain string // 退信地址域名，<server-id>@<domain> 投递到服务器的退信路由
	NoRoutePolicy    string // "reject" 或 "hold"
}

// SpamConfig 垃圾邮件判定
type SpamConfig struct {
	DefaultThreshold float64 // 服务器未设置阈值时使用
	FailureThreshold float64 // 达到该分数直接拒收，0 表示不启用
}

// DispatchConfig 端点投递配置
type DispatchConfig struct {
	SMTPTimeout    time.Duration // SMTP 端点单次投递超时
	AddressTimeout time.Duration // 地址端点单次重投超时
	Concurrency    int           // 单封邮件同时投递的端点数
	Workers        int           // 异步投递协程数
	QueueSize      int           // 异步投递队列长度
	RetryMin       time.Duration // 临时失败建议的最短重试间隔
	RetryMax       time.Duration
	MaxHops        int // 地址端点最大重投次数
}

// InspectionConfig 邮件检查配置
type InspectionConfig struct {
	MaxMessageBytes int     // 超过该大小的邮件不做内容检查
	KeywordWeight   float64 // 每个垃圾关键词的分值
}

// Config 根配置
type Config struct {
	Server     ServerConfig
	SMTP       SMTPConfig
	CORS       CORSConfig
	Log        LogConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Routing    RoutingConfig
	Spam       SpamConfig
	Dispatch   DispatchConfig
	Inspection InspectionConfig
}

// Load 从环境变量和 .env 文件加载配置
//
// 优先级：系统环境变量 > .env 文件 > 默认值。
// 环境变量前缀 MAILROUTE_，例如 MAILROUTE_SMTP_BIND_ADDR。
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("mailroute")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("smtp.bind_addr", ":25")
	viper.SetDefault("smtp.domain", "mailroute.local")
	viper.SetDefault("smtp.max_message_bytes", 25*1024*1024)
	viper.SetDefault("smtp.max_recipients", 100)
	viper.SetDefault("smtp.max_connections", 200)
	viper.SetDefault("smtp.conn_rate", 20.0)
	viper.SetDefault("smtp.conn_burst", 40)
	viper.SetDefault("smtp.read_timeout", "60s")
	viper.SetDefault("smtp.write_timeout", "60s")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("database.type", "memory")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.cache_ttl", "1m")
	viper.SetDefault("routing.return_path_domain", "rp.mailroute.local")
	viper.SetDefault("routing.no_route_policy", "reject")
	viper.SetDefault("spam.default_threshold", 5.0)
	viper.SetDefault("spam.failure_threshold", 20.0)
	viper.SetDefault("dispatch.smtp_timeout", "60s")
	viper.SetDefault("dispatch.address_timeout", "30s")
	viper.SetDefault("dispatch.concurrency", 8)
	viper.SetDefault("dispatch.workers", 16)
	viper.SetDefault("dispatch.queue_size", 1024)
	viper.SetDefault("dispatch.retry_min", "1m")
	viper.SetDefault("dispatch.retry_max", "6h")
	viper.SetDefault("dispatch.max_hops", 5)
	viper.SetDefault("inspection.max_message_bytes", 10*1024*1024)
	viper.SetDefault("inspection.keyword_weight", 1.0)

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"smtp.read_timeout", "smtp.write_timeout", "database.conn_max_lifetime", "redis.cache_ttl",
		"dispatch.smtp_timeout", "dispatch.address_timeout", "dispatch.retry_min", "dispatch.retry_max",
	} {
		d, err := time.ParseDuration(viper.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = d
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		SMTP: SMTPConfig{
			BindAddr:        viper.GetString("smtp.bind_addr"),
			Domain:          strings.ToLower(viper.GetString("smtp.domain")),
			MaxMessageBytes: viper.GetInt64("smtp.max_message_bytes"),
			MaxRecipients:   viper.GetInt("smtp.max_recipients"),
			MaxConnections:  viper.GetInt("smtp.max_connections"),
			ConnRate:        viper.GetFloat64("smtp.conn_rate"),
			ConnBurst:       viper.GetInt("smtp.conn_burst"),
			ReadTimeout:     durations["smtp.read_timeout"],
			WriteTimeout:    durations["smtp.write_timeout"],
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
			MaxSize:     viper.GetInt("log.max_size"),
			MaxBackups:  viper.GetInt("log.max_backups"),
			MaxAge:      viper.GetInt("log.max_age"),
		},
		Database: DatabaseConfig{
			Type:            strings.ToLower(viper.GetString("database.type")),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durations["database.conn_max_lifetime"],
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			CacheTTL: durations["redis.cache_ttl"],
		},
		Routing: RoutingConfig{
			ReturnPathDomain: strings.ToLower(viper.GetString("routing.return_path_domain")),
			NoRoutePolicy:    strings.ToLower(viper.GetString("routing.no_route_policy")),
		},
		Spam: SpamConfig{
			DefaultThreshold: viper.GetFloat64("spam.default_threshold"),
			FailureThreshold: viper.GetFloat64("spam.failure_threshold"),
		},
		Dispatch: DispatchConfig{
			SMTPTimeout:    durations["dispatch.smtp_timeout"],
			AddressTimeout: durations["dispatch.address_timeout"],
			Concurrency:    viper.GetInt("dispatch.concurrency"),
			Workers:        viper.GetInt("dispatch.workers"),
			QueueSize:      viper.GetInt("dispatch.queue_size"),
			RetryMin:       durations["dispatch.retry_min"],
			RetryMax:       durations["dispatch.retry_max"],
			MaxHops:        viper.GetInt("dispatch.max_hops"),
		},
		Inspection: InspectionConfig{
			MaxMessageBytes: viper.GetInt("inspection.max_message_bytes"),
			KeywordWeight:   viper.GetFloat64("inspection.keyword_weight"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case "memory":
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for %s", c.Database.Type)
		}
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if c.Routing.NoRoutePolicy != "reject" && c.Routing.NoRoutePolicy != "hold" {
		return fmt.Errorf("routing.no_route_policy must be reject or hold, got %q", c.Routing.NoRoutePolicy)
	}
	if c.Spam.DefaultThreshold <= 0 {
		return fmt.Errorf("spam.default_threshold must be positive")
	}
	if f := c.Spam.FailureThreshold; f < 0 || (f > 0 && f < c.Spam.DefaultThreshold) {
		return fmt.Errorf("spam.failure_threshold must be 0 or not below spam.default_threshold")
	}
	if c.Dispatch.Workers <= 0 || c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("dispatch.workers and dispatch.queue_size must be positive")
	}
	if c.Dispatch.RetryMax < c.Dispatch.RetryMin {
		return fmt.Errorf("dispatch.retry_max must not be less than dispatch.retry_min")
	}
	return nil
}

// HTTPAddr HTTP 监听地址
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载当前目录或父目录的 .env，文件不存在时静默跳过
//
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
