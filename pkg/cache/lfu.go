package cache

import (
	"sort"
	"sync"
)

// lfuItem 带访问计数的条目
type lfuItem[V any] struct {
	value V
	count int64  // 访问次数，新插入为 0
	seq   uint64 // 插入序号，频率相同时按先进先出淘汰
}

// LFUCache 固定容量的 LFU（最不经常使用）缓存。
// 容量满时淘汰访问次数最少的条目，次数相同时淘汰最早插入的。
// 淘汰采用线性扫描，容量规模下开销可以接受。
type LFUCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*lfuItem[V]
	nextSeq uint64
}

// NewLFUCache 创建指定容量的 LFU 缓存，maxSize 小于 1 时按 1 处理
func NewLFUCache[V any](maxSize int) *LFUCache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LFUCache[V]{
		maxSize: maxSize,
		entries: make(map[string]*lfuItem[V]),
	}
}

// Put 写入键值。覆盖已有键时保留其访问计数和插入序号；
// 新键写入且容量已满时先按最低频率淘汰。
func (c *LFUCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.entries[key]; ok {
		item.value = value
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[key] = &lfuItem[V]{value: value, seq: c.nextSeq}
	c.nextSeq++
}

// Get 读取键值并将访问计数加一
func (c *LFUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	item.count++
	return item.value, true
}

// GetOrPut 读取键值；命中时计数加一，不存在时调用 compute 计算并以计数 0 写入
func (c *LFUCache[V]) GetOrPut(key string, compute func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.entries[key]; ok {
		item.count++
		return item.value
	}

	value := compute()
	if len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[key] = &lfuItem[V]{value: value, seq: c.nextSeq}
	c.nextSeq++
	return value
}

// Remove 移除键，返回被移除的值
func (c *LFUCache[V]) Remove(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(c.entries, key)
	return item.value, true
}

// ContainsKey 判断键是否存在，不影响访问计数
func (c *LFUCache[V]) ContainsKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	return ok
}

// AccessCount 返回键的访问计数
func (c *LFUCache[V]) AccessCount(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return item.count, true
}

// Clear 清空全部条目
func (c *LFUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*lfuItem[V])
}

// Size 返回当前条目数
func (c *LFUCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// IsEmpty 判断缓存是否为空
func (c *LFUCache[V]) IsEmpty() bool {
	return c.Size() == 0
}

// IsFull 判断缓存是否已达容量上限
func (c *LFUCache[V]) IsFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries) >= c.maxSize
}

// MaxSize 返回容量上限
func (c *LFUCache[V]) MaxSize() int {
	return c.maxSize
}

// Keys 返回全部键，按访问次数从高到低排序，次数相同时先插入的在前
func (c *LFUCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		return a.seq < b.seq
	})
	return keys
}

// evictLocked 淘汰访问次数最少的条目，频率并列时选插入最早的，调用方必须持有锁
func (c *LFUCache[V]) evictLocked() {
	var victim string
	found := false
	for key, item := range c.entries {
		if !found {
			victim = key
			found = true
			continue
		}
		cur := c.entries[victim]
		if item.count < cur.count || (item.count == cur.count && item.seq < cur.seq) {
			victim = key
		}
	}
	if found {
		delete(c.entries, victim)
	}
}
