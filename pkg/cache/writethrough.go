package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"veloxcache/pkg/core"
	"veloxcache/pkg/logger"
	"veloxcache/pkg/storage"
)

// WriteThroughConfig 写透缓存配置
type WriteThroughConfig[V any] struct {
	// MaxSize 内存层容量上限
	MaxSize int
	// DefaultTTL 未显式指定 TTL 时的默认存活时间，0 表示永不过期
	DefaultTTL time.Duration
	// StoragePrefix 持久层键前缀，Clear 只影响该前缀下的键
	StoragePrefix string
	// Serialize 值的序列化函数，必填
	Serialize func(V) (string, error)
	// Deserialize 值的反序列化函数，必填
	Deserialize func(string) (V, error)
	// Name 缓存实例名
	Name string
}

// WriteThroughCache 写透缓存：内存层之下挂一个持久层。
// 每次写入先进内存再同步写入持久层；读取时内存未命中则回源持久层，
// 持久层命中的条目带着剩余 TTL 提升回内存层。
// 持久层中损坏或已过期的记录一律按未命中处理并顺手清理，绝不向调用方抛解码错误。
type WriteThroughCache[V any] struct {
	memory *VeloxCache[V]
	store  storage.Storage
	config WriteThroughConfig[V]
	log    *logrus.Entry
}

// NewWriteThroughCache 创建写透缓存。持久层实例由调用方提供并负责其生命周期。
func NewWriteThroughCache[V any](config WriteThroughConfig[V], store storage.Storage) (*WriteThroughCache[V], error) {
	if store == nil {
		return nil, core.NewVeloxError(core.ErrConfigInvalid, "storage is required")
	}
	if config.Serialize == nil || config.Deserialize == nil {
		return nil, core.NewVeloxError(core.ErrConfigInvalid, "serialize and deserialize functions are required")
	}
	if config.Name == "" {
		config.Name = "writethrough"
	}

	memory := NewVeloxCache[V](Config{
		MaxSize:    config.MaxSize,
		DefaultTTL: config.DefaultTTL,
		Name:       config.Name,
	})
	return &WriteThroughCache[V]{
		memory: memory,
		store:  store,
		config: config,
		log:    logger.WithCache(config.Name),
	}, nil
}

// Put 写入键值：先写内存层，再同步写入持久层。
// 持久层写入失败时错误向上传播，此时内存层已经更新。
func (c *WriteThroughCache[V]) Put(ctx context.Context, key string, value V, opts ...PutOption) error {
	o := applyPutOptions(opts)
	now := time.Now()

	c.memory.Put(key, value, opts...)

	serialized, err := c.config.Serialize(value)
	if err != nil {
		return core.WrapError(core.ErrSerializeFailed, "failed to serialize value", err).WithContext("key", key)
	}
	raw, err := encodeEnvelope(serialized, resolveExpiry(now, c.config.DefaultTTL, o))
	if err != nil {
		return err
	}
	return c.store.Write(ctx, c.storageKey(key), raw)
}

// Get 读取键值。内存命中直接返回；未命中时回源持久层，
// 命中的记录带剩余 TTL 提升回内存层。两层都未命中时返回
// 携带 CACHE_MISS 代码的错误。
func (c *WriteThroughCache[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V

	if v, ok := c.memory.Get(key); ok {
		return v, nil
	}

	raw, err := c.store.Read(ctx, c.storageKey(key))
	if err != nil {
		if core.IsCode(err, core.ErrStorageMiss) {
			return zero, c.missError(key, err)
		}
		return zero, err
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		c.log.WithError(err).Warnf("dropping corrupt storage record for key %s", key)
		c.removeStorageRecord(ctx, key)
		return zero, c.missError(key, nil)
	}
	if env.isExpired(time.Now()) {
		c.removeStorageRecord(ctx, key)
		return zero, c.missError(key, nil)
	}

	value, err := c.config.Deserialize(env.Value)
	if err != nil {
		c.log.WithError(err).Warnf("dropping undeserializable storage record for key %s", key)
		c.removeStorageRecord(ctx, key)
		return zero, c.missError(key, nil)
	}

	// 带着持久层记录的剩余寿命提升回内存层
	if env.ExpiresAt == nil {
		c.memory.Put(key, value)
	} else {
		c.memory.Put(key, value, WithTTL(time.Until(env.expiresAtTime())))
	}
	return value, nil
}

// ContainsKey 判断键是否存在于任一层且未过期，不触发提升
func (c *WriteThroughCache[V]) ContainsKey(ctx context.Context, key string) (bool, error) {
	if c.memory.ContainsKey(key) {
		return true, nil
	}

	raw, err := c.store.Read(ctx, c.storageKey(key))
	if err != nil {
		if core.IsCode(err, core.ErrStorageMiss) {
			return false, nil
		}
		return false, err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return false, nil
	}
	return !env.isExpired(time.Now()), nil
}

// Remove 同时从内存层和持久层移除键
func (c *WriteThroughCache[V]) Remove(ctx context.Context, key string) error {
	c.memory.Remove(key)
	return c.store.Remove(ctx, c.storageKey(key))
}

// Clear 清空内存层并移除持久层中本缓存前缀下的全部键。
// 同一存储上其他前缀的键不受影响。
func (c *WriteThroughCache[V]) Clear(ctx context.Context) error {
	c.memory.Clear()

	keys, err := c.store.Keys(ctx)
	if err != nil {
		return err
	}
	for _, storageKey := range keys {
		if !strings.HasPrefix(storageKey, c.config.StoragePrefix) {
			continue
		}
		if err := c.store.Remove(ctx, storageKey); err != nil {
			return err
		}
	}
	return nil
}

// Stats 返回内存层的统计快照
func (c *WriteThroughCache[V]) Stats() Stats {
	return c.memory.Stats()
}

// ResetStats 重置内存层统计
func (c *WriteThroughCache[V]) ResetStats() {
	c.memory.ResetStats()
}

// Size 返回内存层当前条目数
func (c *WriteThroughCache[V]) Size() int {
	return c.memory.Size()
}

// RemoveExpired 清扫内存层中的过期条目，返回移除数量。
// 持久层记录的过期在读取时惰性回收。
func (c *WriteThroughCache[V]) RemoveExpired() int {
	return c.memory.RemoveExpired()
}

// Name 返回缓存实例名
func (c *WriteThroughCache[V]) Name() string {
	return c.config.Name
}

// Subscribe 订阅内存层的缓存事件
func (c *WriteThroughCache[V]) Subscribe() (<-chan Event[V], func()) {
	return c.memory.Subscribe()
}

// Close 释放内存层。持久层由调用方创建，也由调用方负责关闭。
func (c *WriteThroughCache[V]) Close() error {
	return c.memory.Close()
}

func (c *WriteThroughCache[V]) storageKey(key string) string {
	return c.config.StoragePrefix + key
}

func (c *WriteThroughCache[V]) missError(key string, cause error) error {
	if cause != nil {
		return core.WrapError(core.ErrCacheMiss, "cache miss", cause).WithContext("key", key)
	}
	return core.NewVeloxError(core.ErrCacheMiss, "cache miss").WithContext("key", key)
}

func (c *WriteThroughCache[V]) removeStorageRecord(ctx context.Context, key string) {
	if err := c.store.Remove(ctx, c.storageKey(key)); err != nil {
		c.log.WithError(err).Warnf("failed to remove storage record for key %s", key)
	}
}

// JSONSerialize 基于 encoding/json 的通用序列化函数，可直接用作 Serialize
func JSONSerialize[V any](value V) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// JSONDeserialize 基于 encoding/json 的通用反序列化函数，可直接用作 Deserialize
func JSONDeserialize[V any](raw string) (V, error) {
	var value V
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		var zero V
		return zero, err
	}
	return value, nil
}
