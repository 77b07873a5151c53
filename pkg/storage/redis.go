package storage

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"veloxcache/pkg/core"
	"veloxcache/pkg/logger"
)

// RedisConfig Redis 存储配置
type RedisConfig struct {
	Addr        string        `yaml:"addr" mapstructure:"addr" json:"addr"`
	Password    string        `yaml:"password" mapstructure:"password" json:"password"`
	DB          int           `yaml:"db" mapstructure:"db" json:"db"`
	KeyPrefix   string        `yaml:"key_prefix" mapstructure:"key_prefix" json:"key_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout" json:"dial_timeout"`
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		DB:          0,
		KeyPrefix:   "velox:",
		DialTimeout: 5 * time.Second,
	}
}

// RedisStorage 基于 Redis 的存储实现。
// 所有键写入时加 KeyPrefix，Keys 和 Clear 只作用于该前缀下的键，
// 同一个 Redis 实例可以被多套缓存安全共用。
type RedisStorage struct {
	client *redis.Client
	prefix string
	log    *logrus.Entry

	mu     sync.Mutex
	closed bool
}

var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage 创建 Redis 存储并立即 Ping 验证连接
func NewRedisStorage(config RedisConfig) (*RedisStorage, error) {
	if config.Addr == "" {
		return nil, core.NewVeloxError(core.ErrConfigInvalid, "redis addr is required")
	}
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, core.WrapError(core.ErrStorageIO, "failed to connect to redis", err).WithContext("addr", config.Addr)
	}

	s := &RedisStorage{
		client: client,
		prefix: config.KeyPrefix,
		log:    logger.WithComponent("redis-storage"),
	}
	s.log.Infof("connected to redis at %s (db %d, prefix %q)", config.Addr, config.DB, config.KeyPrefix)
	return s, nil
}

// Read 读取键对应的值
func (s *RedisStorage) Read(ctx context.Context, key string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return "", core.NewVeloxError(core.ErrStorageMiss, "key not found").WithContext("key", key)
	}
	if err != nil {
		return "", core.WrapError(core.ErrStorageIO, "redis get failed", err).WithContext("key", key)
	}
	return value, nil
}

// Write 写入键值。过期语义由上层缓存的信封数据承载，这里不设置 Redis TTL。
func (s *RedisStorage) Write(ctx context.Context, key string, value string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return core.WrapError(core.ErrStorageIO, "redis set failed", err).WithContext("key", key)
	}
	return nil
}

// Remove 移除键，键不存在时返回 nil
func (s *RedisStorage) Remove(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return core.WrapError(core.ErrStorageIO, "redis del failed", err).WithContext("key", key)
	}
	return nil
}

// Keys 返回前缀下的全部键（已去掉前缀），使用 SCAN 避免阻塞 Redis
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	raw, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k[len(s.prefix):])
	}
	return keys, nil
}

// Clear 清空前缀下的全部键值
func (s *RedisStorage) Clear(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	raw, err := s.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, raw...).Err(); err != nil {
		return core.WrapError(core.ErrStorageIO, "redis del failed", err)
	}
	return nil
}

// ContainsKey 判断键是否存在
func (s *RedisStorage) ContainsKey(ctx context.Context, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, core.WrapError(core.ErrStorageIO, "redis exists failed", err).WithContext("key", key)
	}
	return n > 0, nil
}

// Close 关闭 Redis 连接，幂等
func (s *RedisStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Ping 探测 Redis 连接是否可用
func (s *RedisStorage) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return core.WrapError(core.ErrStorageIO, "redis ping failed", err)
	}
	return nil
}

func (s *RedisStorage) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.NewVeloxError(core.ErrResourceClosed, "redis storage is closed")
	}
	return nil
}

func (s *RedisStorage) scanKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, core.WrapError(core.ErrStorageIO, "redis scan failed", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
