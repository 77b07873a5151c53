package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType 缓存事件类型
type EventType string

const (
	// EventPut 写入事件
	EventPut EventType = "put"
	// EventHit 命中事件
	EventHit EventType = "hit"
	// EventMiss 未命中事件
	EventMiss EventType = "miss"
	// EventRemoved 显式移除事件
	EventRemoved EventType = "removed"
	// EventEvicted 容量淘汰事件
	EventEvicted EventType = "evicted"
	// EventExpired 过期移除事件
	EventExpired EventType = "expired"
	// EventCleared 清空事件
	EventCleared EventType = "cleared"
	// EventStale 过期值被陈旧读取返回的事件
	EventStale EventType = "stale"
)

// Event 缓存变更事件。HasValue 为 false 时 Value 为零值，不应被使用。
type Event[V any] struct {
	Type      EventType `json:"type"`
	Key       string    `json:"key,omitempty"`
	Value     V         `json:"value,omitempty"`
	HasValue  bool      `json:"has_value"`
	Timestamp time.Time `json:"timestamp"`
}

// defaultEventBuffer 订阅通道的默认缓冲大小
const defaultEventBuffer = 64

// eventBus 缓存事件广播器。
// 投递是非阻塞的：订阅者通道已满时该事件对其直接丢弃，慢消费者不会拖住缓存操作。
type eventBus[V any] struct {
	mu     sync.RWMutex
	subs   map[string]chan Event[V]
	buffer int
	closed bool
}

func newEventBus[V any](buffer int) *eventBus[V] {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &eventBus[V]{
		subs:   make(map[string]chan Event[V]),
		buffer: buffer,
	}
}

// subscribe 注册一个订阅者，返回事件通道和取消函数。
// 广播器已关闭时返回一个已关闭的通道和空操作取消函数。
func (b *eventBus[V]) subscribe() (<-chan Event[V], func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event[V], b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := uuid.New().String()
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *eventBus[V]) publish(evType EventType, key string, value V, hasValue bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed || len(b.subs) == 0 {
		return
	}

	ev := Event[V]{
		Type:      evType,
		Key:       key,
		Value:     value,
		HasValue:  hasValue,
		Timestamp: time.Now(),
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// 订阅者跟不上就丢弃
		}
	}
}

// close 关闭广播器并关闭所有订阅通道，幂等
func (b *eventBus[V]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
