package cache

import "time"

// Entry 缓存条目，记录值本身及其生命周期元数据。
// ExpiresAt 为零值表示永不过期。
type Entry[V any] struct {
	Key            string    `json:"key"`
	Value          V         `json:"value"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
	Tags           []string  `json:"tags,omitempty"`
}

func newEntry[V any](key string, value V, now, expiresAt time.Time, tags []string) *Entry[V] {
	e := &Entry[V]{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		LastAccessedAt: now,
	}
	if len(tags) > 0 {
		e.Tags = append([]string(nil), tags...)
	}
	return e
}

// IsExpired 判断条目是否已过期。恰好处于过期时刻的条目视为已过期。
func (e *Entry[V]) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return !e.ExpiresAt.After(time.Now())
}

// IsValid 判断条目是否仍然有效，等价于未过期
func (e *Entry[V]) IsValid() bool {
	return !e.IsExpired()
}

// HasExpiry 判断条目是否设置了过期时间
func (e *Entry[V]) HasExpiry() bool {
	return !e.ExpiresAt.IsZero()
}

// TTL 返回条目的剩余存活时间。永不过期或已过期时返回 0。
func (e *Entry[V]) TTL() time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	remaining := time.Until(e.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Touch 更新访问元数据
func (e *Entry[V]) Touch() {
	e.LastAccessedAt = time.Now()
	e.AccessCount++
}

// snapshot 返回条目的独立副本，Tags 切片做深拷贝
func (e *Entry[V]) snapshot() Entry[V] {
	copied := *e
	if len(e.Tags) > 0 {
		copied.Tags = append([]string(nil), e.Tags...)
	}
	return copied
}
