package cache

import (
	"container/list"
	"sync"
)

// lruItem 链表节点负载
type lruItem[V any] struct {
	key   string
	value V
}

// LRUCache 固定容量的 LRU（最近最少使用）缓存。
// 读写均视为一次使用；容量满时插入新键会淘汰最久未使用的条目。
// 基于双向链表加哈希索引实现，Get/Put 均为 O(1)。
type LRUCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List // 队首为最近使用
	index   map[string]*list.Element
}

// NewLRUCache 创建指定容量的 LRU 缓存，maxSize 小于 1 时按 1 处理
func NewLRUCache[V any](maxSize int) *LRUCache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LRUCache[V]{
		maxSize: maxSize,
		order:   list.New(),
		index:   make(map[string]*list.Element),
	}
}

// Put 写入键值。键已存在时覆盖值并提升为最近使用；
// 新键写入且容量已满时先淘汰最久未使用的条目。
func (c *LRUCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		elem.Value.(*lruItem[V]).value = value
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxSize {
		c.evictLocked()
	}
	c.index[key] = c.order.PushFront(&lruItem[V]{key: key, value: value})
}

// Get 读取键值并提升为最近使用
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*lruItem[V]).value, true
}

// GetOrPut 读取键值；键不存在时调用 compute 计算并写入。
// 命中与写入路径都会把键提升为最近使用。
func (c *LRUCache[V]) GetOrPut(key string, compute func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*lruItem[V]).value
	}

	value := compute()
	if c.order.Len() >= c.maxSize {
		c.evictLocked()
	}
	c.index[key] = c.order.PushFront(&lruItem[V]{key: key, value: value})
	return value
}

// Remove 移除键，返回被移除的值
func (c *LRUCache[V]) Remove(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.Remove(elem)
	delete(c.index, key)
	return elem.Value.(*lruItem[V]).value, true
}

// ContainsKey 判断键是否存在，不影响使用顺序
func (c *LRUCache[V]) ContainsKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.index[key]
	return ok
}

// Clear 清空全部条目
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.index = make(map[string]*list.Element)
}

// Size 返回当前条目数
func (c *LRUCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// IsEmpty 判断缓存是否为空
func (c *LRUCache[V]) IsEmpty() bool {
	return c.Size() == 0
}

// IsFull 判断缓存是否已达容量上限
func (c *LRUCache[V]) IsFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len() >= c.maxSize
}

// MaxSize 返回容量上限
func (c *LRUCache[V]) MaxSize() int {
	return c.maxSize
}

// Keys 返回全部键，按最近使用到最久未使用排序
func (c *LRUCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruItem[V]).key)
	}
	return keys
}

// evictLocked 淘汰最久未使用的条目，调用方必须持有锁
func (c *LRUCache[V]) evictLocked() {
	tail := c.order.Back()
	if tail == nil {
		return
	}
	c.order.Remove(tail)
	delete(c.index, tail.Value.(*lruItem[V]).key)
}
