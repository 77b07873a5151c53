//go:build integration

package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veloxcache/pkg/cache"
	"veloxcache/pkg/core"
	"veloxcache/pkg/storage"
)

// newTestRedisStorage 连接本地 Redis 测试库，连接失败时跳过测试
func newTestRedisStorage(t *testing.T, prefix string) *storage.RedisStorage {
	t.Helper()

	cfg := storage.DefaultRedisConfig()
	cfg.DB = 1 // 使用测试库
	cfg.KeyPrefix = prefix
	cfg.DialTimeout = 2 * time.Second

	s, err := storage.NewRedisStorage(cfg)
	if err != nil {
		t.Skipf("跳过 Redis 集成测试：%v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Clear(ctx)
		_ = s.Close()
	})
	return s
}

// TestRedisStorage_ReadWrite_Integration 测试 Redis 存储的基本读写
func TestRedisStorage_ReadWrite_Integration(t *testing.T) {
	s := newTestRedisStorage(t, "veloxtest:rw:")
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "profile", `{"name":"alice"}`))

	value, err := s.Read(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"alice"}`, value)

	// 覆盖写入
	require.NoError(t, s.Write(ctx, "profile", `{"name":"bob"}`))
	value, err = s.Read(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"bob"}`, value)

	// 未知键返回存储未命中
	_, err = s.Read(ctx, "unknown")
	assert.True(t, core.IsCode(err, core.ErrStorageMiss), "未知键应返回 STORAGE_MISS")

	ok, err := s.ContainsKey(ctx, "profile")
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestRedisStorage_PrefixIsolation_Integration 验证不同前缀的存储实例互不干扰
func TestRedisStorage_PrefixIsolation_Integration(t *testing.T) {
	a := newTestRedisStorage(t, "veloxtest:iso-a:")
	b := newTestRedisStorage(t, "veloxtest:iso-b:")
	ctx := context.Background()

	require.NoError(t, a.Write(ctx, "shared", "from-a"))
	require.NoError(t, b.Write(ctx, "shared", "from-b"))
	require.NoError(t, b.Write(ctx, "only-b", "value"))

	value, err := a.Read(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "from-a", value)

	keysA, err := a.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"shared"}, keysA, "Keys 应只返回自己前缀下的键")

	// 清空 a 不影响 b
	require.NoError(t, a.Clear(ctx))
	keysB, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"shared", "only-b"}, keysB)
}

// TestRedisStorage_RemoveAndClear_Integration 测试删除与清空
func TestRedisStorage_RemoveAndClear_Integration(t *testing.T) {
	s := newTestRedisStorage(t, "veloxtest:rm:")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Write(ctx, fmt.Sprintf("k%d", i), "v"))
	}

	require.NoError(t, s.Remove(ctx, "k0"))
	ok, err := s.ContainsKey(ctx, "k0")
	require.NoError(t, err)
	assert.False(t, ok)

	// 删除不存在的键不报错
	assert.NoError(t, s.Remove(ctx, "k0"))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 4)

	require.NoError(t, s.Clear(ctx))
	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	// 空存储再次清空不报错
	assert.NoError(t, s.Clear(ctx))
}

// TestRedisStorage_Closed_Integration 测试关闭后所有操作返回资源已关闭错误
func TestRedisStorage_Closed_Integration(t *testing.T) {
	cfg := storage.DefaultRedisConfig()
	cfg.DB = 1
	cfg.KeyPrefix = "veloxtest:closed:"
	cfg.DialTimeout = 2 * time.Second

	s, err := storage.NewRedisStorage(cfg)
	if err != nil {
		t.Skipf("跳过 Redis 集成测试：%v", err)
	}

	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "重复关闭应返回 nil")

	_, err = s.Read(ctx, "k")
	assert.True(t, core.IsCode(err, core.ErrResourceClosed))
	assert.True(t, core.IsCode(s.Write(ctx, "k", "v"), core.ErrResourceClosed))
	assert.True(t, core.IsCode(s.Ping(ctx), core.ErrResourceClosed))
}

// TestNewRedisStorage_BadAddr_Integration 连接失败时构造函数应返回存储 IO 错误
func TestNewRedisStorage_BadAddr_Integration(t *testing.T) {
	cfg := storage.RedisConfig{
		Addr:        "127.0.0.1:1",
		DialTimeout: 500 * time.Millisecond,
	}
	_, err := storage.NewRedisStorage(cfg)
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrStorageIO))
}

// TestRedisStorage_WithWriteThroughCache_Integration 验证写透缓存以 Redis 为持久层的端到端行为
func TestRedisStorage_WithWriteThroughCache_Integration(t *testing.T) {
	s := newTestRedisStorage(t, "veloxtest:wt:")
	ctx := context.Background()

	cfg := cache.WriteThroughConfig[string]{
		Name:          "redis-wt",
		MaxSize:       16,
		StoragePrefix: "entry:",
		Serialize:     cache.JSONSerialize[string],
		Deserialize:   cache.JSONDeserialize[string],
	}

	c1, err := cache.NewWriteThroughCache[string](cfg, s)
	require.NoError(t, err)
	defer c1.Close()

	require.NoError(t, c1.Put(ctx, "greeting", "你好"))

	// 第二个实例共享同一个 Redis，可直接回源读取
	c2, err := cache.NewWriteThroughCache[string](cfg, s)
	require.NoError(t, err)
	defer c2.Close()

	value, err := c2.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "你好", value)
	assert.Equal(t, 1, c2.Size(), "回源命中的条目应提升到内存层")
}
