// Package cache 提供了 veloxcache 的内存缓存引擎。
// 包含三种独立的缓存核心（LRU、LFU、TTL），以及把容量淘汰、过期、
// 标签失效、统计、事件广播和防击穿加载整合在一起的 VeloxCache 门面，
// 并在其上提供写透缓存和两级缓存两种持久化组合。
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"veloxcache/pkg/logger"
)

// Config VeloxCache 配置
type Config struct {
	// MaxSize 容量上限，超出时按 LRU 淘汰，默认 1000
	MaxSize int `yaml:"max_size" mapstructure:"max_size" json:"max_size"`
	// DefaultTTL 未显式指定 TTL 时的默认存活时间，0 表示永不过期
	DefaultTTL time.Duration `yaml:"default_ttl" mapstructure:"default_ttl" json:"default_ttl"`
	// EventBuffer 每个订阅者的事件通道缓冲大小，默认 64
	EventBuffer int `yaml:"event_buffer" mapstructure:"event_buffer" json:"event_buffer"`
	// CleanupInterval 后台过期清扫间隔，0 表示不启动清扫协程
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval" json:"cleanup_interval"`
	// Name 缓存实例名，出现在日志、监控指标和事件主题中
	Name string `yaml:"name" mapstructure:"name" json:"name"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxSize:     1000,
		DefaultTTL:  0,
		EventBuffer: defaultEventBuffer,
		Name:        "velox",
	}
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.Name == "" {
		c.Name = "velox"
	}
	return c
}

// VeloxCache 统一缓存门面。
// 在一把锁下组合 LRU 容量淘汰、TTL 过期、标签索引和统计计数，
// 事件广播给订阅者，加载类操作通过 singleflight 保证同键并发只执行一次。
// 加载函数和刷新函数永远不会在持锁状态下执行。
type VeloxCache[V any] struct {
	mu       sync.Mutex
	config   Config
	order    *list.List // 队首为最近使用，元素为 *Entry[V]
	index    map[string]*list.Element
	tagIndex map[string]map[string]struct{} // 标签 -> 键集合
	stats    Stats
	disposed bool

	events    *eventBus[V]
	loads     flightGroup[V]
	refreshes flightGroup[V]
	log       *logrus.Entry

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewVeloxCache 创建统一缓存，配置了 CleanupInterval 时启动后台清扫协程
func NewVeloxCache[V any](config Config) *VeloxCache[V] {
	config = config.withDefaults()
	c := &VeloxCache[V]{
		config:   config,
		order:    list.New(),
		index:    make(map[string]*list.Element),
		tagIndex: make(map[string]map[string]struct{}),
		events:   newEventBus[V](config.EventBuffer),
		log:      logger.WithCache(config.Name),
	}
	if config.CleanupInterval > 0 {
		c.cleanupTicker = time.NewTicker(config.CleanupInterval)
		c.stopCleanup = make(chan struct{})
		go c.cleanupLoop()
	}
	return c
}

// Name 返回缓存实例名
func (c *VeloxCache[V]) Name() string {
	return c.config.Name
}

// Put 写入键值。覆盖已有键时整体替换条目元数据（CreatedAt 重置、旧标签解除）；
// 新键写入且容量已满时先淘汰最久未使用的条目。
func (c *VeloxCache[V]) Put(key string, value V, opts ...PutOption) {
	o := applyPutOptions(opts)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}

	entry := newEntry(key, value, now, resolveExpiry(now, c.config.DefaultTTL, o), o.Tags)
	if elem, ok := c.index[key]; ok {
		old := elem.Value.(*Entry[V])
		c.removeTagsLocked(old)
		elem.Value = entry
		c.order.MoveToFront(elem)
	} else {
		if c.order.Len() >= c.config.MaxSize {
			c.evictLocked()
		}
		c.index[key] = c.order.PushFront(entry)
	}
	c.addTagsLocked(entry)
	c.stats.Writes++
	c.events.publish(EventPut, key, value, true)
}

// Get 读取键值。命中时更新访问元数据并提升为最近使用；
// 读到过期条目时当场移除，按未命中处理并同时记一次过期。
func (c *VeloxCache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return zero, false
	}

	elem, ok := c.index[key]
	if !ok {
		c.stats.Misses++
		c.events.publish(EventMiss, key, zero, false)
		return zero, false
	}

	entry := elem.Value.(*Entry[V])
	if entry.IsExpired() {
		c.removeElementLocked(elem)
		c.stats.Expirations++
		c.stats.Misses++
		c.events.publish(EventExpired, key, entry.Value, true)
		c.events.publish(EventMiss, key, zero, false)
		return zero, false
	}

	entry.Touch()
	c.order.MoveToFront(elem)
	c.stats.Hits++
	c.events.publish(EventHit, key, entry.Value, true)
	return entry.Value, true
}

// GetOrPut 读取键值；不存在或已过期时调用 compute 计算并写入。
// 同一键上的并发未命中只会执行一次 compute，其余调用共享其结果。
func (c *VeloxCache[V]) GetOrPut(key string, compute func() V, opts ...PutOption) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v, _ := c.loads.do(key, func() (V, error) {
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		value := compute()
		c.Put(key, value, opts...)
		return value, nil
	})
	return v
}

// GetOrLoad 读取键值；不存在或已过期时调用 loader 加载并写入。
// 同一键上的并发未命中只会执行一次 loader，其余调用共享其结果或错误。
// loader 返回错误时不缓存任何内容，错误原样传给所有等待方。
func (c *VeloxCache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error), opts ...PutOption) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	return c.loads.do(key, func() (V, error) {
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		value, err := load(ctx)
		if err != nil {
			var zero V
			return zero, err
		}
		c.Put(key, value, opts...)
		return value, nil
	})
}

// GetStale 陈旧读取。条目新鲜时等同于 Get；
// 条目已过期但仍处于 WithStaleTolerance 指定的宽限窗口内时，
// 立即返回旧值（记一次命中并发出 stale 事件），同时在后台异步刷新，
// 同一键最多只有一个刷新在途。刷新失败只记日志，不影响任何调用方。
// 条目不存在或超出宽限窗口时按未命中处理，不触发刷新。
func (c *VeloxCache[V]) GetStale(ctx context.Context, key string, refresh func(context.Context) (V, error), opts ...StaleOption) (V, bool) {
	o := applyStaleOptions(opts)
	var zero V

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return zero, false
	}

	elem, ok := c.index[key]
	if !ok {
		c.stats.Misses++
		c.events.publish(EventMiss, key, zero, false)
		c.mu.Unlock()
		return zero, false
	}

	entry := elem.Value.(*Entry[V])
	if !entry.IsExpired() {
		entry.Touch()
		c.order.MoveToFront(elem)
		c.stats.Hits++
		c.events.publish(EventHit, key, entry.Value, true)
		c.mu.Unlock()
		return entry.Value, true
	}

	if o.Tolerance > 0 && time.Since(entry.ExpiresAt) <= o.Tolerance {
		entry.Touch()
		c.order.MoveToFront(elem)
		c.stats.Hits++
		value := entry.Value
		tags := append([]string(nil), entry.Tags...)
		c.events.publish(EventStale, key, value, true)
		c.mu.Unlock()

		go c.refreshStale(context.WithoutCancel(ctx), key, refresh, tags, o)
		return value, true
	}

	c.removeElementLocked(elem)
	c.stats.Expirations++
	c.stats.Misses++
	c.events.publish(EventExpired, key, entry.Value, true)
	c.events.publish(EventMiss, key, zero, false)
	c.mu.Unlock()
	return zero, false
}

// refreshStale 后台刷新一个被陈旧返回的键，同键并发刷新合并为一次执行
func (c *VeloxCache[V]) refreshStale(ctx context.Context, key string, refresh func(context.Context) (V, error), tags []string, o StaleOptions) {
	_, err := c.refreshes.do(key, func() (V, error) {
		value, err := refresh(ctx)
		if err != nil {
			var zero V
			return zero, err
		}
		putOpts := []PutOption{WithTags(tags...)}
		if o.HasRefreshTTL {
			putOpts = append(putOpts, WithTTL(o.RefreshTTL))
		}
		c.Put(key, value, putOpts...)
		return value, nil
	})
	if err != nil {
		c.log.WithError(err).Warnf("stale refresh failed for key %s", key)
	}
}

// peek 无副作用地探测一个键：不计统计、不发事件、不改变使用顺序
func (c *VeloxCache[V]) peek(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return zero, false
	}
	elem, ok := c.index[key]
	if !ok {
		return zero, false
	}
	entry := elem.Value.(*Entry[V])
	if entry.IsExpired() {
		return zero, false
	}
	return entry.Value, true
}

// Entry 返回键对应条目的快照（含元数据），不计统计也不影响使用顺序
func (c *VeloxCache[V]) Entry(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return Entry[V]{}, false
	}
	elem, ok := c.index[key]
	if !ok {
		return Entry[V]{}, false
	}
	entry := elem.Value.(*Entry[V])
	if entry.IsExpired() {
		return Entry[V]{}, false
	}
	return entry.snapshot(), true
}

// ContainsKey 判断键是否存在且未过期，不计统计也不影响使用顺序
func (c *VeloxCache[V]) ContainsKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return false
	}
	elem, ok := c.index[key]
	if !ok {
		return false
	}
	return !elem.Value.(*Entry[V]).IsExpired()
}

// Remove 移除键并发出 removed 事件，返回被移除的值。不影响统计计数。
func (c *VeloxCache[V]) Remove(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return zero, false
	}
	elem, ok := c.index[key]
	if !ok {
		return zero, false
	}
	entry := c.removeElementLocked(elem)
	c.events.publish(EventRemoved, key, entry.Value, true)
	if entry.IsExpired() {
		return zero, false
	}
	return entry.Value, true
}

// PutAll 批量写入，等价于对每个键执行一次 Put
func (c *VeloxCache[V]) PutAll(values map[string]V, opts ...PutOption) {
	for key, value := range values {
		c.Put(key, value, opts...)
	}
}

// GetAll 批量读取，只包含命中的键。每个键独立计入统计。
func (c *VeloxCache[V]) GetAll(keys []string) map[string]V {
	result := make(map[string]V, len(keys))
	for _, key := range keys {
		if v, ok := c.Get(key); ok {
			result[key] = v
		}
	}
	return result
}

// RemoveAll 批量移除，返回被移除的键值对（只含实际存在的键）
func (c *VeloxCache[V]) RemoveAll(keys []string) map[string]V {
	removed := make(map[string]V, len(keys))
	for _, key := range keys {
		if v, ok := c.Remove(key); ok {
			removed[key] = v
		}
	}
	return removed
}

// Keys 返回全部键，按最近使用到最久未使用排序
func (c *VeloxCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*Entry[V]).Key)
	}
	return keys
}

// KeysByTag 返回携带指定标签的全部键，不考虑过期状态
func (c *VeloxCache[V]) KeysByTag(tag string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.tagIndex[tag]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	return keys
}

// InvalidateByTag 移除携带指定标签的全部条目，返回移除数量
func (c *VeloxCache[V]) InvalidateByTag(tag string) int {
	return c.InvalidateByTags(tag)
}

// InvalidateByTags 移除携带任一指定标签的全部条目，返回移除数量。
// 每个条目发出一次 removed 事件，不计入淘汰统计。
func (c *VeloxCache[V]) InvalidateByTags(tags ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return 0
	}

	victims := make(map[string]struct{})
	for _, tag := range tags {
		for key := range c.tagIndex[tag] {
			victims[key] = struct{}{}
		}
	}

	for key := range victims {
		if elem, ok := c.index[key]; ok {
			entry := c.removeElementLocked(elem)
			c.events.publish(EventRemoved, key, entry.Value, true)
		}
	}
	return len(victims)
}

// RemoveExpired 立即清扫全部过期条目，返回移除数量。
// 每个条目计一次过期并发出 expired 事件。
func (c *VeloxCache[V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return 0
	}

	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*Entry[V])
		if entry.IsExpired() {
			c.removeElementLocked(elem)
			c.stats.Expirations++
			c.events.publish(EventExpired, entry.Key, entry.Value, true)
			removed++
		}
		elem = next
	}
	return removed
}

// Clear 清空全部条目并发出一次 cleared 事件，统计计数保留
func (c *VeloxCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}
	c.order.Init()
	c.index = make(map[string]*list.Element)
	c.tagIndex = make(map[string]map[string]struct{})
	var zero V
	c.events.publish(EventCleared, "", zero, false)
}

// Size 返回当前条目数，可能包含尚未清扫的过期条目
func (c *VeloxCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// IsEmpty 判断缓存是否为空
func (c *VeloxCache[V]) IsEmpty() bool {
	return c.Size() == 0
}

// IsFull 判断缓存是否已达到容量上限
func (c *VeloxCache[V]) IsFull() bool {
	return c.Size() >= c.config.MaxSize
}

// Stats 返回统计快照
func (c *VeloxCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ResetStats 重置全部统计计数
func (c *VeloxCache[V]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}

// Subscribe 订阅缓存事件，返回事件通道和取消函数。
// 缓存释放后订阅返回一个已关闭的通道。
func (c *VeloxCache[V]) Subscribe() (<-chan Event[V], func()) {
	return c.events.subscribe()
}

// Dispose 释放缓存：停止清扫协程、清空条目并关闭全部事件订阅。
// 幂等，可与在途的后台刷新并发调用；释放后读操作一律返回不存在，写操作被忽略。
func (c *VeloxCache[V]) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}
	c.disposed = true
	if c.cleanupTicker != nil {
		c.cleanupTicker.Stop()
		close(c.stopCleanup)
	}
	c.order.Init()
	c.index = make(map[string]*list.Element)
	c.tagIndex = make(map[string]map[string]struct{})
	c.events.close()
	c.log.Debug("cache disposed")
}

// Close 释放缓存，等价于 Dispose，满足 io.Closer
func (c *VeloxCache[V]) Close() error {
	c.Dispose()
	return nil
}

func (c *VeloxCache[V]) cleanupLoop() {
	for {
		select {
		case <-c.cleanupTicker.C:
			if n := c.RemoveExpired(); n > 0 {
				c.log.Debugf("cleanup removed %d expired entries", n)
			}
		case <-c.stopCleanup:
			return
		}
	}
}

// evictLocked 淘汰最久未使用的条目，计一次淘汰并发出 evicted 事件
func (c *VeloxCache[V]) evictLocked() {
	tail := c.order.Back()
	if tail == nil {
		return
	}
	entry := c.removeElementLocked(tail)
	c.stats.Evictions++
	c.events.publish(EventEvicted, entry.Key, entry.Value, true)
}

// removeElementLocked 把条目从链表、键索引和标签索引中摘除
func (c *VeloxCache[V]) removeElementLocked(elem *list.Element) *Entry[V] {
	entry := elem.Value.(*Entry[V])
	c.order.Remove(elem)
	delete(c.index, entry.Key)
	c.removeTagsLocked(entry)
	return entry
}

func (c *VeloxCache[V]) addTagsLocked(entry *Entry[V]) {
	for _, tag := range entry.Tags {
		set, ok := c.tagIndex[tag]
		if !ok {
			set = make(map[string]struct{})
			c.tagIndex[tag] = set
		}
		set[entry.Key] = struct{}{}
	}
}

func (c *VeloxCache[V]) removeTagsLocked(entry *Entry[V]) {
	for _, tag := range entry.Tags {
		if set, ok := c.tagIndex[tag]; ok {
			delete(set, entry.Key)
			if len(set) == 0 {
				delete(c.tagIndex, tag)
			}
		}
	}
}
