package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veloxcache/pkg/scheduler"
)

// TestDefault 测试默认配置是否正确
func TestDefault(t *testing.T) {
	cfg := Default()

	// 验证默认配置值
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	assert.Equal(t, "velox", cfg.Cache.Name)
	assert.Equal(t, "memory", cfg.Cache.Mode)
	assert.Equal(t, 10000, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, time.Minute, cfg.Cache.CleanupInterval)
	assert.Equal(t, 64, cfg.Cache.EventBuffer)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "velox:", cfg.Storage.Redis.KeyPrefix)

	assert.True(t, cfg.Metrics.Prometheus)
	assert.False(t, cfg.Metrics.Influx.Enabled)
	assert.Equal(t, "http://localhost:8086", cfg.Metrics.Influx.URL)

	assert.False(t, cfg.Relay.Enabled)
	assert.Equal(t, "nats://localhost:4222", cfg.Relay.URL)
	assert.Equal(t, "velox.events", cfg.Relay.SubjectPrefix)

	assert.True(t, cfg.Scheduler.Enabled)
	assert.Len(t, cfg.Scheduler.Jobs, 2)
	assert.Equal(t, scheduler.ActionSweep, cfg.Scheduler.Jobs[0].Action)
}

// TestValidate 测试配置验证功能
func TestValidate(t *testing.T) {
	// 测试有效的默认配置
	cfg := Default()
	assert.NoError(t, cfg.Validate(), "默认配置应该是有效的")

	// 测试监听地址为空的情况
	cfg = Default()
	cfg.Server.Addr = ""
	assert.Error(t, cfg.Validate(), "监听地址为空时应该返回错误")

	// 测试无效的运行模式
	cfg = Default()
	cfg.Server.Mode = "production"
	assert.Error(t, cfg.Validate(), "无效的运行模式应该返回错误")

	// 测试无效的日志级别
	cfg = Default()
	cfg.Log.Level = "verbose"
	assert.Error(t, cfg.Validate(), "无效的日志级别应该返回错误")

	// 测试无效的日志格式
	cfg = Default()
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate(), "无效的日志格式应该返回错误")

	// 测试无效的缓存模式
	cfg = Default()
	cfg.Cache.Mode = "hybrid"
	assert.Error(t, cfg.Validate(), "无效的缓存模式应该返回错误")

	// 测试缓存容量小于等于0的情况
	cfg = Default()
	cfg.Cache.MaxSize = 0
	assert.Error(t, cfg.Validate(), "缓存容量小于等于0时应该返回错误")

	cfg.Cache.MaxSize = -1
	assert.Error(t, cfg.Validate(), "缓存容量为负数时应该返回错误")

	// 测试默认过期时间为负数的情况
	cfg = Default()
	cfg.Cache.DefaultTTL = -1 * time.Second
	assert.Error(t, cfg.Validate(), "默认过期时间为负数时应该返回错误")

	// 测试事件缓冲区小于等于0的情况
	cfg = Default()
	cfg.Cache.EventBuffer = 0
	assert.Error(t, cfg.Validate(), "事件缓冲区小于等于0时应该返回错误")

	// 纯内存模式不检查存储配置
	cfg = Default()
	cfg.Cache.Mode = "memory"
	cfg.Storage.Type = "unknown"
	assert.NoError(t, cfg.Validate(), "纯内存模式不应该检查存储配置")

	// 测试无效的存储类型
	cfg = Default()
	cfg.Cache.Mode = "writethrough"
	cfg.Storage.Type = "unknown"
	assert.Error(t, cfg.Validate(), "无效的存储类型应该返回错误")

	// 测试 disk 存储缺少目录
	cfg = Default()
	cfg.Cache.Mode = "tiered"
	cfg.Storage.Type = "disk"
	cfg.Storage.Dir = ""
	assert.Error(t, cfg.Validate(), "disk 存储缺少目录时应该返回错误")

	// 测试 redis 存储缺少地址
	cfg = Default()
	cfg.Cache.Mode = "tiered"
	cfg.Storage.Type = "redis"
	cfg.Storage.Redis.Addr = ""
	assert.Error(t, cfg.Validate(), "redis 存储缺少地址时应该返回错误")

	// 测试启用 influx 上报但缺少 URL
	cfg = Default()
	cfg.Metrics.Influx.Enabled = true
	cfg.Metrics.Influx.URL = ""
	assert.Error(t, cfg.Validate(), "启用 influx 上报但缺少 URL 时应该返回错误")

	// 测试启用 relay 但缺少 URL
	cfg = Default()
	cfg.Relay.Enabled = true
	cfg.Relay.URL = ""
	assert.Error(t, cfg.Validate(), "启用 relay 但缺少 URL 时应该返回错误")
}

// TestLoad 测试从配置文件加载配置
func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "velox_server.yaml")

	configYAML := `
server:
  addr: ":9090"
  mode: "debug"
cache:
  name: "api-cache"
  mode: "tiered"
  max_size: 500
  default_ttl: "30s"
  l2_ttl: "10m"
storage:
  type: "redis"
  redis:
    addr: "redis.internal:6379"
    db: 3
relay:
  enabled: true
  url: "nats://nats.internal:4222"
scheduler:
  jobs:
    - name: "hourly-sweep"
      enabled: true
      schedule: "0 0 * * * *"
      action: "sweep"
`

	err := os.WriteFile(configPath, []byte(configYAML), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// 文件中的值覆盖默认值
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "api-cache", cfg.Cache.Name)
	assert.Equal(t, "tiered", cfg.Cache.Mode)
	assert.Equal(t, 500, cfg.Cache.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.L2TTL)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 3, cfg.Storage.Redis.DB)
	assert.True(t, cfg.Relay.Enabled)

	// 未配置的键保留默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 64, cfg.Cache.EventBuffer)
	assert.Equal(t, "velox.events", cfg.Relay.SubjectPrefix)

	// 配置文件中的任务覆盖默认任务
	require.Len(t, cfg.Scheduler.Jobs, 1)
	assert.Equal(t, "hourly-sweep", cfg.Scheduler.Jobs[0].Name)
	assert.Equal(t, scheduler.ActionSweep, cfg.Scheduler.Jobs[0].Action)

	// 加载结果应该通过验证
	assert.NoError(t, cfg.Validate())
}

// TestLoad_MissingFile 测试配置文件不存在的情况
func TestLoad_MissingFile(t *testing.T) {
	// 显式指定的配置文件不存在时返回错误
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Error(t, err)
}

// TestLoad_EnvOverride 测试环境变量覆盖
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("VELOX_CACHE_MAX_SIZE", "42")
	t.Setenv("VELOX_LOG_LEVEL", "debug")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "velox_server.yaml")
	err := os.WriteFile(configPath, []byte("server:\n  addr: \":7070\"\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Cache.MaxSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

// TestSetters 测试链式设置方法
func TestSetters(t *testing.T) {
	cfg := Default()

	result := cfg.SetAddr(":9000").
		SetLogLevel("debug").
		SetCacheMode("writethrough").
		SetMaxSize(2000).
		SetDefaultTTL(time.Minute).
		SetRedisAddr("10.0.0.1:6379")

	// 验证返回的是同一个对象（支持链式调用）
	assert.Equal(t, cfg, result, "应该返回同一个配置对象以支持链式调用")

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "writethrough", cfg.Cache.Mode)
	assert.Equal(t, 2000, cfg.Cache.MaxSize)
	assert.Equal(t, time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, "10.0.0.1:6379", cfg.Storage.Redis.Addr)
}
