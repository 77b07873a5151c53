package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"veloxcache/pkg/core"
	"veloxcache/pkg/logger"
	"veloxcache/pkg/storage"
)

// MultiLevelConfig 两级缓存配置
type MultiLevelConfig[V any] struct {
	// L1MaxSize L1 内存层容量上限
	L1MaxSize int
	// L1TTL L1 条目存活时间，提升进 L1 的条目同样适用，0 表示永不过期
	L1TTL time.Duration
	// L2TTL L2 持久层条目存活时间，0 表示永不过期
	L2TTL time.Duration
	// StoragePrefix 持久层键前缀
	StoragePrefix string
	// Serialize 值的序列化函数，必填
	Serialize func(V) (string, error)
	// Deserialize 值的反序列化函数，必填
	Deserialize func(string) (V, error)
	// Name 缓存实例名
	Name string
}

// MultiLevelCache 两级缓存：小而快的 L1 内存层加大而慢的 L2 持久层，
// 两层 TTL 独立。读取先查 L1，未命中穿透到 L2，L2 命中的条目提升进 L1。
// 两层各自维护独立的统计：L1 未命中永远被记录，即使随后 L2 命中。
type MultiLevelCache[V any] struct {
	l1     *VeloxCache[V]
	store  storage.Storage
	config MultiLevelConfig[V]
	log    *logrus.Entry

	mu      sync.Mutex
	l2Stats Stats
}

// NewMultiLevelCache 创建两级缓存。持久层实例由调用方提供并负责其生命周期。
func NewMultiLevelCache[V any](config MultiLevelConfig[V], store storage.Storage) (*MultiLevelCache[V], error) {
	if store == nil {
		return nil, core.NewVeloxError(core.ErrConfigInvalid, "storage is required")
	}
	if config.Serialize == nil || config.Deserialize == nil {
		return nil, core.NewVeloxError(core.ErrConfigInvalid, "serialize and deserialize functions are required")
	}
	if config.Name == "" {
		config.Name = "multilevel"
	}

	l1 := NewVeloxCache[V](Config{
		MaxSize:    config.L1MaxSize,
		DefaultTTL: config.L1TTL,
		Name:       config.Name,
	})
	return &MultiLevelCache[V]{
		l1:     l1,
		store:  store,
		config: config,
		log:    logger.WithCache(config.Name),
	}, nil
}

// Put 同时写入两层：L1 使用 L1TTL，L2 信封携带 L2TTL 过期时间
func (c *MultiLevelCache[V]) Put(ctx context.Context, key string, value V) error {
	c.l1.Put(key, value)

	serialized, err := c.config.Serialize(value)
	if err != nil {
		return core.WrapError(core.ErrSerializeFailed, "failed to serialize value", err).WithContext("key", key)
	}
	var expiresAt time.Time
	if c.config.L2TTL > 0 {
		expiresAt = time.Now().Add(c.config.L2TTL)
	}
	raw, err := encodeEnvelope(serialized, expiresAt)
	if err != nil {
		return err
	}
	if err := c.store.Write(ctx, c.storageKey(key), raw); err != nil {
		return err
	}

	c.mu.Lock()
	c.l2Stats.Writes++
	c.mu.Unlock()
	return nil
}

// Get 读取键值。L1 未命中（总会被 L1 统计记录）时穿透到 L2，
// L2 命中的条目以 L1TTL 提升进 L1（计一次 L1 写入）。
// 两层都未命中时返回携带 CACHE_MISS 代码的错误。
func (c *MultiLevelCache[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V

	if v, ok := c.l1.Get(key); ok {
		return v, nil
	}

	raw, err := c.store.Read(ctx, c.storageKey(key))
	if err != nil {
		if core.IsCode(err, core.ErrStorageMiss) {
			c.countL2(func(s *Stats) { s.Misses++ })
			return zero, c.missError(key, err)
		}
		return zero, err
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		c.log.WithError(err).Warnf("dropping corrupt L2 record for key %s", key)
		c.removeL2Record(ctx, key)
		c.countL2(func(s *Stats) { s.Misses++ })
		return zero, c.missError(key, nil)
	}
	if env.isExpired(time.Now()) {
		c.removeL2Record(ctx, key)
		c.countL2(func(s *Stats) {
			s.Expirations++
			s.Misses++
		})
		return zero, c.missError(key, nil)
	}

	value, err := c.config.Deserialize(env.Value)
	if err != nil {
		c.log.WithError(err).Warnf("dropping undeserializable L2 record for key %s", key)
		c.removeL2Record(ctx, key)
		c.countL2(func(s *Stats) { s.Misses++ })
		return zero, c.missError(key, nil)
	}

	c.countL2(func(s *Stats) { s.Hits++ })
	// L2 命中提升进 L1，使用 L1 自身的 TTL
	c.l1.Put(key, value)
	return value, nil
}

// ContainsKey 判断键是否存在于任一层且未过期，不触发提升
func (c *MultiLevelCache[V]) ContainsKey(ctx context.Context, key string) (bool, error) {
	if c.l1.ContainsKey(key) {
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

// Remove 同时从两层移除键
func (c *MultiLevelCache[V]) Remove(ctx context.Context, key string) error {
	c.l1.Remove(key)
	return c.store.Remove(ctx, c.storageKey(key))
}

// Clear 清空 L1 并移除 L2 中本缓存前缀下的全部键
func (c *MultiLevelCache[V]) Clear(ctx context.Context) error {
	c.l1.Clear()

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

// ClearL1 只清空 L1 内存层，L2 保持不动。
// 之后的读取会逐个回源 L2 并重新填充 L1。
func (c *MultiLevelCache[V]) ClearL1() {
	c.l1.Clear()
}

// L1Size 返回 L1 当前条目数
func (c *MultiLevelCache[V]) L1Size() int {
	return c.l1.Size()
}

// Size 返回 L1 当前条目数，等价于 L1Size
func (c *MultiLevelCache[V]) Size() int {
	return c.l1.Size()
}

// Stats 返回 L1 层的统计快照，等价于 L1Stats。
// 持久层侧的统计见 L2Stats。
func (c *MultiLevelCache[V]) Stats() Stats {
	return c.l1.Stats()
}

// RemoveExpired 清扫 L1 中的过期条目，返回移除数量。
// L2 记录的过期在读取时惰性回收。
func (c *MultiLevelCache[V]) RemoveExpired() int {
	return c.l1.RemoveExpired()
}

// L1Stats 返回 L1 层的统计快照
func (c *MultiLevelCache[V]) L1Stats() Stats {
	return c.l1.Stats()
}

// L2Stats 返回 L2 层的统计快照
func (c *MultiLevelCache[V]) L2Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.l2Stats
}

// ResetStats 重置两层的统计计数
func (c *MultiLevelCache[V]) ResetStats() {
	c.l1.ResetStats()
	c.mu.Lock()
	c.l2Stats = Stats{}
	c.mu.Unlock()
}

// Name 返回缓存实例名
func (c *MultiLevelCache[V]) Name() string {
	return c.config.Name
}

// Subscribe 订阅 L1 层的缓存事件
func (c *MultiLevelCache[V]) Subscribe() (<-chan Event[V], func()) {
	return c.l1.Subscribe()
}

// Close 释放 L1。持久层由调用方创建，也由调用方负责关闭。
func (c *MultiLevelCache[V]) Close() error {
	return c.l1.Close()
}

func (c *MultiLevelCache[V]) storageKey(key string) string {
	return c.config.StoragePrefix + key
}

func (c *MultiLevelCache[V]) missError(key string, cause error) error {
	if cause != nil {
		return core.WrapError(core.ErrCacheMiss, "cache miss", cause).WithContext("key", key)
	}
	return core.NewVeloxError(core.ErrCacheMiss, "cache miss").WithContext("key", key)
}

func (c *MultiLevelCache[V]) removeL2Record(ctx context.Context, key string) {
	if err := c.store.Remove(ctx, c.storageKey(key)); err != nil {
		c.log.WithError(err).Warnf("failed to remove L2 record for key %s", key)
	}
}

func (c *MultiLevelCache[V]) countL2(update func(*Stats)) {
	c.mu.Lock()
	update(&c.l2Stats)
	c.mu.Unlock()
}
