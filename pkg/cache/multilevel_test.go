package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veloxcache/pkg/core"
	"veloxcache/pkg/storage"
)

func newTestMultiLevel(t *testing.T, store storage.Storage, config MultiLevelConfig[string]) *MultiLevelCache[string] {
	t.Helper()
	if config.Serialize == nil {
		config.Serialize = JSONSerialize[string]
	}
	if config.Deserialize == nil {
		config.Deserialize = JSONDeserialize[string]
	}
	c, err := NewMultiLevelCache[string](config, store)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewMultiLevelCache_Validation(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()

	_, err := NewMultiLevelCache[string](MultiLevelConfig[string]{
		Serialize:   JSONSerialize[string],
		Deserialize: JSONDeserialize[string],
	}, nil)
	assert.True(t, core.IsCode(err, core.ErrConfigInvalid))

	_, err = NewMultiLevelCache[string](MultiLevelConfig[string]{}, store)
	assert.True(t, core.IsCode(err, core.ErrConfigInvalid))

	c, err := NewMultiLevelCache[string](MultiLevelConfig[string]{
		Serialize:   JSONSerialize[string],
		Deserialize: JSONDeserialize[string],
	}, store)
	require.NoError(t, err)
	assert.Equal(t, "multilevel", c.Name())
	c.Close()
}

func TestMultiLevelCache_PutGet(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	c := newTestMultiLevel(t, store, MultiLevelConfig[string]{L1MaxSize: 10, StoragePrefix: "ml:"})

	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", "v"))
	assert.Equal(t, 1, c.L1Size())

	// L2 同步写入
	ok, err := store.ContainsKey(ctx, "ml:k")
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = c.Get(ctx, "absent")
	assert.True(t, core.IsCode(err, core.ErrCacheMiss))
}

func TestMultiLevelCache_L2Promotion(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	c := newTestMultiLevel(t, store, MultiLevelConfig[string]{L1MaxSize: 10, StoragePrefix: "ml:"})

	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", "v"))

	// 清空 L1 模拟冷启动
	c.ClearL1()
	assert.Equal(t, 0, c.L1Size())

	// L1 未命中穿透 L2，命中后提升回 L1
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, c.L1Size())

	// 提升后的读取直接命中 L1，L2 统计不再变化
	l2Before := c.L2Stats()
	_, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, l2Before, c.L2Stats())
}

func TestMultiLevelCache_IndependentTTLs(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	c := newTestMultiLevel(t, store, MultiLevelConfig[string]{
		L1MaxSize:     10,
		L1TTL:         20 * time.Millisecond,
		L2TTL:         time.Hour,
		StoragePrefix: "ml:",
	})

	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", "v"))

	// L1 条目过期后 L2 仍然有效，读取自动回源
	time.Sleep(40 * time.Millisecond)

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, int64(1), c.L2Stats().Hits)
}

func TestMultiLevelCache_L2Expiry(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	c := newTestMultiLevel(t, store, MultiLevelConfig[string]{
		L1MaxSize:     10,
		L2TTL:         20 * time.Millisecond,
		StoragePrefix: "ml:",
	})

	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", "v"))

	c.ClearL1()
	time.Sleep(40 * time.Millisecond)

	// L2 记录过期：按未命中处理，记录被清理
	_, err := c.Get(ctx, "k")
	assert.True(t, core.IsCode(err, core.ErrCacheMiss))

	ok, _ := store.ContainsKey(ctx, "ml:k")
	assert.False(t, ok)

	l2 := c.L2Stats()
	assert.Equal(t, int64(1), l2.Expirations)
	assert.Equal(t, int64(1), l2.Misses)
}

func TestMultiLevelCache_LayeredStats(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	c := newTestMultiLevel(t, store, MultiLevelConfig[string]{L1MaxSize: 10, StoragePrefix: "ml:"})

	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", "v"))

	// L1 命中
	_, _ = c.Get(ctx, "k")
	// L1 未命中 + L2 命中
	c.ClearL1()
	_, _ = c.Get(ctx, "k")
	// 两层都未命中
	_, _ = c.Get(ctx, "absent")

	// L2 回源命中直接返回，不额外计 L1 命中；提升写入计一次 L1 写入
	l1 := c.L1Stats()
	assert.Equal(t, int64(1), l1.Hits)
	assert.Equal(t, int64(2), l1.Misses)
	assert.Equal(t, int64(2), l1.Writes)

	l2 := c.L2Stats()
	assert.Equal(t, int64(1), l2.Hits)
	assert.Equal(t, int64(1), l2.Misses)
	assert.Equal(t, int64(1), l2.Writes)

	// Stats 与 Size 暴露 L1 视图
	assert.Equal(t, l1, c.Stats())
	assert.Equal(t, c.L1Size(), c.Size())

	c.ResetStats()
	assert.Equal(t, int64(0), c.L1Stats().Hits)
	assert.Equal(t, int64(0), c.L2Stats().Hits)
}

func TestMultiLevelCache_RemoveAndClear(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	c := newTestMultiLevel(t, store, MultiLevelConfig[string]{L1MaxSize: 10, StoragePrefix: "ml:"})

	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "a", "1"))
	require.NoError(t, c.Put(ctx, "b", "2"))
	require.NoError(t, store.Write(ctx, "other:keep", "data"))

	// Remove 同时作用于两层
	require.NoError(t, c.Remove(ctx, "a"))
	ok, _ := store.ContainsKey(ctx, "ml:a")
	assert.False(t, ok)

	// Clear 只清理本缓存前缀下的键
	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.L1Size())
	ok, _ = store.ContainsKey(ctx, "ml:b")
	assert.False(t, ok)
	ok, _ = store.ContainsKey(ctx, "other:keep")
	assert.True(t, ok)
}

func TestMultiLevelCache_ContainsKey(t *testing.T) {
	store := storage.NewMemoryStorage()
	defer store.Close()
	c := newTestMultiLevel(t, store, MultiLevelConfig[string]{L1MaxSize: 10, StoragePrefix: "ml:"})

	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", "v"))

	ok, err := c.ContainsKey(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	// 仅存在于 L2 的键也算存在，且不触发提升
	c.ClearL1()
	ok, err = c.ContainsKey(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, c.L1Size())

	ok, err = c.ContainsKey(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}
