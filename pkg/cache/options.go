package cache

import "time"

// PutOptions 写入选项
type PutOptions struct {
	// TTL 本次写入的存活时间。显式给定 0 或负值表示写入即过期。
	TTL time.Duration
	// HasTTL 区分"未指定 TTL"与"显式指定了零/负 TTL"
	HasTTL bool
	// Tags 绑定到条目的标签，用于按标签批量失效
	Tags []string
}

// PutOption 写入选项设置函数
type PutOption func(*PutOptions)

// WithTTL 为本次写入指定存活时间，覆盖缓存的默认 TTL
func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
		o.HasTTL = true
	}
}

// WithTags 为条目绑定标签
func WithTags(tags ...string) PutOption {
	return func(o *PutOptions) {
		o.Tags = append(o.Tags, tags...)
	}
}

func applyPutOptions(opts []PutOption) PutOptions {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// resolveExpiry 根据写入选项和缓存默认 TTL 计算绝对过期时间。
// 未指定且默认 TTL 为 0 时返回零值，表示永不过期。
func resolveExpiry(now time.Time, defaultTTL time.Duration, o PutOptions) time.Time {
	if o.HasTTL {
		return now.Add(o.TTL)
	}
	if defaultTTL > 0 {
		return now.Add(defaultTTL)
	}
	return time.Time{}
}

// StaleOptions 陈旧读取选项
type StaleOptions struct {
	// Tolerance 过期后仍可被陈旧返回的时间窗口，0 表示从不返回陈旧值
	Tolerance time.Duration
	// RefreshTTL 后台刷新成功后新值的 TTL
	RefreshTTL time.Duration
	// HasRefreshTTL 区分"未指定"与"显式指定"
	HasRefreshTTL bool
}

// StaleOption 陈旧读取选项设置函数
type StaleOption func(*StaleOptions)

// WithStaleTolerance 指定过期后仍可陈旧返回的宽限窗口
func WithStaleTolerance(d time.Duration) StaleOption {
	return func(o *StaleOptions) {
		o.Tolerance = d
	}
}

// WithRefreshTTL 指定后台刷新写回时使用的 TTL
func WithRefreshTTL(ttl time.Duration) StaleOption {
	return func(o *StaleOptions) {
		o.RefreshTTL = ttl
		o.HasRefreshTTL = true
	}
}

func applyStaleOptions(opts []StaleOption) StaleOptions {
	var o StaleOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
