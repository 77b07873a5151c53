package storage

import (
	"context"
	"sync"

	"veloxcache/pkg/core"
)

// MemoryStorage 基于内存 map 的存储实现，主要用于测试和单机场景
type MemoryStorage struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage 创建内存存储
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string]string),
	}
}

// Read 读取键对应的值
func (s *MemoryStorage) Read(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", core.NewVeloxError(core.ErrResourceClosed, "memory storage is closed")
	}
	value, ok := s.data[key]
	if !ok {
		return "", core.NewVeloxError(core.ErrStorageMiss, "key not found").WithContext("key", key)
	}
	return value, nil
}

// Write 写入键值
func (s *MemoryStorage) Write(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewVeloxError(core.ErrResourceClosed, "memory storage is closed")
	}
	s.data[key] = value
	return nil
}

// Remove 移除键，键不存在时返回 nil
func (s *MemoryStorage) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewVeloxError(core.ErrResourceClosed, "memory storage is closed")
	}
	delete(s.data, key)
	return nil
}

// Keys 返回全部键，顺序不定
func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.NewVeloxError(core.ErrResourceClosed, "memory storage is closed")
	}
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	return keys, nil
}

// Clear 清空全部键值
func (s *MemoryStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewVeloxError(core.ErrResourceClosed, "memory storage is closed")
	}
	s.data = make(map[string]string)
	return nil
}

// ContainsKey 判断键是否存在
func (s *MemoryStorage) ContainsKey(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, core.NewVeloxError(core.ErrResourceClosed, "memory storage is closed")
	}
	_, ok := s.data[key]
	return ok, nil
}

// Close 关闭存储，幂等
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.data = nil
	return nil
}

// Size 返回当前键数量，测试辅助用
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
