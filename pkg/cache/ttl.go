package cache

import (
	"sync"
	"time"
)

// TTLCacheConfig TTL 缓存配置
type TTLCacheConfig struct {
	// DefaultTTL 未显式指定 TTL 时使用的默认存活时间，0 表示永不过期
	DefaultTTL time.Duration `yaml:"default_ttl" mapstructure:"default_ttl" json:"default_ttl"`
	// CleanupInterval 后台清扫间隔，0 表示不启动清扫协程，只做惰性过期
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval" json:"cleanup_interval"`
}

// TTLCache 无容量上限的过期缓存。
// 过期条目惰性回收：被读到时当场移除；配置了 CleanupInterval 时由后台协程定期清扫。
type TTLCache[V any] struct {
	mu      sync.Mutex
	config  TTLCacheConfig
	entries map[string]*Entry[V]

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closed        bool
}

// NewTTLCache 创建 TTL 缓存，CleanupInterval 大于 0 时启动后台清扫协程
func NewTTLCache[V any](config TTLCacheConfig) *TTLCache[V] {
	c := &TTLCache[V]{
		config:  config,
		entries: make(map[string]*Entry[V]),
	}
	if config.CleanupInterval > 0 {
		c.cleanupTicker = time.NewTicker(config.CleanupInterval)
		c.stopCleanup = make(chan struct{})
		go c.cleanupLoop()
	}
	return c
}

// Put 写入键值。未指定 TTL 时使用默认 TTL；
// 显式指定零或负 TTL 的条目写入即过期。
func (c *TTLCache[V]) Put(key string, value V, opts ...PutOption) {
	o := applyPutOptions(opts)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.entries[key] = newEntry(key, value, now, resolveExpiry(now, c.config.DefaultTTL, o), o.Tags)
}

// Get 读取键值。已过期的条目当场移除并按不存在处理。
func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return zero, false
	}
	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if entry.IsExpired() {
		delete(c.entries, key)
		return zero, false
	}
	entry.Touch()
	return entry.Value, true
}

// GetOrPut 读取键值；不存在或已过期时调用 compute 计算并写入
func (c *TTLCache[V]) GetOrPut(key string, compute func() V, opts ...PutOption) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		var zero V
		return zero
	}
	if entry, ok := c.entries[key]; ok && !entry.IsExpired() {
		entry.Touch()
		return entry.Value
	}

	o := applyPutOptions(opts)
	now := time.Now()
	value := compute()
	c.entries[key] = newEntry(key, value, now, resolveExpiry(now, c.config.DefaultTTL, o), o.Tags)
	return value
}

// Remove 移除键，返回被移除的值。已过期条目同样被移除但按不存在处理。
func (c *TTLCache[V]) Remove(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return zero, false
	}
	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	delete(c.entries, key)
	if entry.IsExpired() {
		return zero, false
	}
	return entry.Value, true
}

// ContainsKey 判断键是否存在且未过期，已过期的条目当场移除
func (c *TTLCache[V]) ContainsKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	if entry.IsExpired() {
		delete(c.entries, key)
		return false
	}
	return true
}

// RemoveExpired 立即清扫全部过期条目，返回移除数量
func (c *TTLCache[V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0
	}
	removed := 0
	for key, entry := range c.entries {
		if entry.IsExpired() {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Keys 返回全部未过期的键，顺序不定
func (c *TTLCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for key, entry := range c.entries {
		if !entry.IsExpired() {
			keys = append(keys, key)
		}
	}
	return keys
}

// Clear 清空全部条目
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.entries = make(map[string]*Entry[V])
}

// Size 返回当前条目数，可能包含尚未回收的过期条目
func (c *TTLCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close 停止后台清扫协程并清空缓存，幂等，之后的操作均为空操作
func (c *TTLCache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.cleanupTicker != nil {
		c.cleanupTicker.Stop()
		close(c.stopCleanup)
	}
	c.entries = make(map[string]*Entry[V])
}

func (c *TTLCache[V]) cleanupLoop() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.RemoveExpired()
		case <-c.stopCleanup:
			return
		}
	}
}
