// Package storage 提供了 veloxcache 分层缓存使用的持久层抽象，
// 以及内存、磁盘和 Redis 三种实现。持久层只负责字符串键值的存取，
// 值的序列化和过期语义由上层缓存负责。
package storage

import "context"

// Storage 持久层统一接口。
// 所有实现必须是并发安全的；键不存在时 Read 返回携带
// STORAGE_MISS 代码的错误，Remove 对不存在的键幂等返回 nil。
type Storage interface {
	// Read 读取键对应的值
	Read(ctx context.Context, key string) (string, error)

	// Write 写入键值，已存在时覆盖
	Write(ctx context.Context, key string, value string) error

	// Remove 移除键，键不存在时返回 nil
	Remove(ctx context.Context, key string) error

	// Keys 返回全部键
	Keys(ctx context.Context) ([]string, error)

	// Clear 清空全部键值
	Clear(ctx context.Context) error

	// ContainsKey 判断键是否存在
	ContainsKey(ctx context.Context, key string) (bool, error)

	// Close 关闭存储并释放资源
	Close() error
}
