// Package loader 提供了缓存回源加载器的抽象，以及重试和熔断两种装饰器。
// 装饰后的加载器通过 Bind 绑定具体的键后，可直接交给缓存的 GetOrLoad 使用。
package loader

import "context"

// Loader 数据加载器接口，缓存未命中时负责从源头取回数据
type Loader[V any] interface {
	// Load 加载指定键的数据
	Load(ctx context.Context, key string) (V, error)
}

// LoaderFunc 函数式加载器适配
type LoaderFunc[V any] func(ctx context.Context, key string) (V, error)

// Load 实现 Loader 接口
func (f LoaderFunc[V]) Load(ctx context.Context, key string) (V, error) {
	return f(ctx, key)
}

// Bind 把加载器绑定到具体的键，返回可直接传给缓存 GetOrLoad 的加载函数
func Bind[V any](l Loader[V], key string) func(context.Context) (V, error) {
	return func(ctx context.Context) (V, error) {
		return l.Load(ctx, key)
	}
}
