package cache

import "golang.org/x/sync/singleflight"

// flightGroup 对 singleflight.Group 的泛型封装。
// 同一 key 上的并发调用只执行一次 fn，其余调用共享同一结果。
type flightGroup[V any] struct {
	group singleflight.Group
}

func (g *flightGroup[V]) do(key string, fn func() (V, error)) (V, error) {
	v, err, _ := g.group.Do(key, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}
