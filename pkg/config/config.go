package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"veloxcache/pkg/scheduler"
)

// Config 服务端主配置
type Config struct {
	// HTTP 服务配置
	Server ServerConfig `mapstructure:"server" json:"server"`

	// 日志配置
	Log LogConfig `mapstructure:"log" json:"log"`

	// 缓存配置
	Cache CacheConfig `mapstructure:"cache" json:"cache"`

	// 存储后端配置
	Storage StorageConfig `mapstructure:"storage" json:"storage"`

	// 指标导出配置
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`

	// NATS 事件转发配置
	Relay RelayConfig `mapstructure:"relay" json:"relay"`

	// 维护任务调度配置
	Scheduler SchedulerConfig `mapstructure:"scheduler" json:"scheduler"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" json:"addr"`                         // 监听地址 (":8080")
	Mode            string        `mapstructure:"mode" json:"mode"`                         // gin 运行模式 (debug, release, test)
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"` // 优雅退出超时时间
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // 日志级别 (debug, info, warn, error)
	Format string `mapstructure:"format" json:"format"` // 日志格式 (text, json)
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Name            string        `mapstructure:"name" json:"name"`                         // 缓存实例名称
	Mode            string        `mapstructure:"mode" json:"mode"`                         // 缓存模式 (memory, writethrough, tiered)
	MaxSize         int           `mapstructure:"max_size" json:"max_size"`                 // 最大条目数
	DefaultTTL      time.Duration `mapstructure:"default_ttl" json:"default_ttl"`           // 默认过期时间 (0 = 不过期)
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval"` // 后台清理间隔 (0 = 关闭)
	EventBuffer     int           `mapstructure:"event_buffer" json:"event_buffer"`         // 事件通道缓冲区大小
	L2TTL           time.Duration `mapstructure:"l2_ttl" json:"l2_ttl"`                     // tiered 模式下二级缓存 TTL
	StoragePrefix   string        `mapstructure:"storage_prefix" json:"storage_prefix"`     // 存储键前缀
}

// StorageConfig 存储后端配置
type StorageConfig struct {
	Type  string      `mapstructure:"type" json:"type"`   // 存储类型 (memory, disk, redis)
	Dir   string      `mapstructure:"dir" json:"dir"`     // disk 类型的数据目录
	Redis RedisConfig `mapstructure:"redis" json:"redis"` // redis 类型的连接配置
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr      string `mapstructure:"addr" json:"addr"`
	Password  string `mapstructure:"password" json:"password"`
	DB        int    `mapstructure:"db" json:"db"`
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix"`
}

// MetricsConfig 指标导出配置
type MetricsConfig struct {
	Prometheus bool         `mapstructure:"prometheus" json:"prometheus"` // 是否开启 /metrics 端点
	Influx     InfluxConfig `mapstructure:"influx" json:"influx"`
}

// InfluxConfig InfluxDB 统计上报配置
type InfluxConfig struct {
	Enabled  bool          `mapstructure:"enabled" json:"enabled"`
	URL      string        `mapstructure:"url" json:"url"`
	Token    string        `mapstructure:"token" json:"token"`
	Org      string        `mapstructure:"org" json:"org"`
	Bucket   string        `mapstructure:"bucket" json:"bucket"`
	Interval time.Duration `mapstructure:"interval" json:"interval"` // 上报间隔
}

// RelayConfig NATS 事件转发配置
type RelayConfig struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled"`
	URL           string `mapstructure:"url" json:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix"`
	Source        string `mapstructure:"source" json:"source"`
}

// SchedulerConfig 维护任务调度配置
type SchedulerConfig struct {
	Enabled bool                  `mapstructure:"enabled" json:"enabled"`
	Jobs    []scheduler.JobConfig `mapstructure:"jobs" json:"jobs"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Mode:            "release",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Cache: CacheConfig{
			Name:            "velox",
			Mode:            "memory",
			MaxSize:         10000,
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: time.Minute,
			EventBuffer:     64,
			L2TTL:           30 * time.Minute,
			StoragePrefix:   "velox:",
		},
		Storage: StorageConfig{
			Type: "memory",
			Dir:  "data/cache",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				Password:  "",
				DB:        0,
				KeyPrefix: "velox:",
			},
		},
		Metrics: MetricsConfig{
			Prometheus: true,
			Influx: InfluxConfig{
				Enabled:  false,
				URL:      "http://localhost:8086",
				Org:      "velox",
				Bucket:   "cache_stats",
				Interval: 15 * time.Second,
			},
		},
		Relay: RelayConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "velox.events",
			Source:        "velox-server",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Jobs: []scheduler.JobConfig{
				{
					Name:     "sweep-expired",
					Enabled:  true,
					Schedule: "0 * * * * *",
					Action:   scheduler.ActionSweep,
				},
				{
					Name:     "stats-report",
					Enabled:  true,
					Schedule: "0 */5 * * * *",
					Action:   scheduler.ActionStatsReport,
				},
			},
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server addr cannot be empty")
	}

	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return errors.New("server mode must be one of debug, release, test")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log level must be one of debug, info, warn, error")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New("log format must be one of text, json")
	}

	switch c.Cache.Mode {
	case "memory", "writethrough", "tiered":
	default:
		return errors.New("cache mode must be one of memory, writethrough, tiered")
	}

	if c.Cache.MaxSize <= 0 {
		return errors.New("cache max_size must be positive")
	}

	if c.Cache.DefaultTTL < 0 {
		return errors.New("cache default_ttl cannot be negative")
	}

	if c.Cache.CleanupInterval < 0 {
		return errors.New("cache cleanup_interval cannot be negative")
	}

	if c.Cache.EventBuffer <= 0 {
		return errors.New("cache event_buffer must be positive")
	}

	// 非纯内存模式需要一个可用的存储后端
	if c.Cache.Mode != "memory" {
		switch c.Storage.Type {
		case "memory":
		case "disk":
			if c.Storage.Dir == "" {
				return errors.New("storage dir cannot be empty for disk storage")
			}
		case "redis":
			if c.Storage.Redis.Addr == "" {
				return errors.New("storage redis addr cannot be empty")
			}
		default:
			return errors.New("storage type must be one of memory, disk, redis")
		}
	}

	if c.Metrics.Influx.Enabled {
		if c.Metrics.Influx.URL == "" {
			return errors.New("influx url cannot be empty when influx reporting is enabled")
		}
		if c.Metrics.Influx.Bucket == "" {
			return errors.New("influx bucket cannot be empty when influx reporting is enabled")
		}
	}

	if c.Relay.Enabled && c.Relay.URL == "" {
		return errors.New("relay url cannot be empty when relay is enabled")
	}

	return nil
}

// Load 从配置文件加载配置，path 为空时按默认位置查找。
// 未找到配置文件时返回默认值，环境变量 (VELOX_ 前缀) 可覆盖任意键。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("velox_server")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	// 环境变量覆盖
	v.SetEnvPrefix("VELOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// setDefaults 将默认配置注册到 viper，保证未配置的键有合理取值
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.mode", def.Server.Mode)
	v.SetDefault("server.shutdown_timeout", def.Server.ShutdownTimeout)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	v.SetDefault("cache.name", def.Cache.Name)
	v.SetDefault("cache.mode", def.Cache.Mode)
	v.SetDefault("cache.max_size", def.Cache.MaxSize)
	v.SetDefault("cache.default_ttl", def.Cache.DefaultTTL)
	v.SetDefault("cache.cleanup_interval", def.Cache.CleanupInterval)
	v.SetDefault("cache.event_buffer", def.Cache.EventBuffer)
	v.SetDefault("cache.l2_ttl", def.Cache.L2TTL)
	v.SetDefault("cache.storage_prefix", def.Cache.StoragePrefix)

	v.SetDefault("storage.type", def.Storage.Type)
	v.SetDefault("storage.dir", def.Storage.Dir)
	v.SetDefault("storage.redis.addr", def.Storage.Redis.Addr)
	v.SetDefault("storage.redis.password", def.Storage.Redis.Password)
	v.SetDefault("storage.redis.db", def.Storage.Redis.DB)
	v.SetDefault("storage.redis.key_prefix", def.Storage.Redis.KeyPrefix)

	v.SetDefault("metrics.prometheus", def.Metrics.Prometheus)
	v.SetDefault("metrics.influx.enabled", def.Metrics.Influx.Enabled)
	v.SetDefault("metrics.influx.url", def.Metrics.Influx.URL)
	v.SetDefault("metrics.influx.token", def.Metrics.Influx.Token)
	v.SetDefault("metrics.influx.org", def.Metrics.Influx.Org)
	v.SetDefault("metrics.influx.bucket", def.Metrics.Influx.Bucket)
	v.SetDefault("metrics.influx.interval", def.Metrics.Influx.Interval)

	v.SetDefault("relay.enabled", def.Relay.Enabled)
	v.SetDefault("relay.url", def.Relay.URL)
	v.SetDefault("relay.subject_prefix", def.Relay.SubjectPrefix)
	v.SetDefault("relay.source", def.Relay.Source)

	v.SetDefault("scheduler.enabled", def.Scheduler.Enabled)

	jobs := make([]map[string]interface{}, 0, len(def.Scheduler.Jobs))
	for _, job := range def.Scheduler.Jobs {
		jobs = append(jobs, map[string]interface{}{
			"name":     job.Name,
			"enabled":  job.Enabled,
			"schedule": job.Schedule,
			"action":   string(job.Action),
			"target":   job.Target,
		})
	}
	v.SetDefault("scheduler.jobs", jobs)
}

// SetAddr 设置监听地址
func (c *Config) SetAddr(addr string) *Config {
	c.Server.Addr = addr
	return c
}

// SetLogLevel 设置日志级别
func (c *Config) SetLogLevel(level string) *Config {
	c.Log.Level = level
	return c
}

// SetCacheMode 设置缓存模式
func (c *Config) SetCacheMode(mode string) *Config {
	c.Cache.Mode = mode
	return c
}

// SetMaxSize 设置缓存最大条目数
func (c *Config) SetMaxSize(size int) *Config {
	c.Cache.MaxSize = size
	return c
}

// SetDefaultTTL 设置默认过期时间
func (c *Config) SetDefaultTTL(ttl time.Duration) *Config {
	c.Cache.DefaultTTL = ttl
	return c
}

// SetRedisAddr 设置 Redis 地址
func (c *Config) SetRedisAddr(addr string) *Config {
	c.Storage.Redis.Addr = addr
	return c
}
