package cache

// Stats 缓存运行统计。所有计数自缓存创建或上次重置起累计。
type Stats struct {
	Hits        int64 `json:"hits"`        // 命中次数
	Misses      int64 `json:"misses"`      // 未命中次数（含过期未命中）
	Evictions   int64 `json:"evictions"`   // 容量淘汰次数
	Expirations int64 `json:"expirations"` // 过期移除次数
	Writes      int64 `json:"writes"`      // 写入次数（含覆盖）
}

// Lookups 返回总查找次数
func (s Stats) Lookups() int64 {
	return s.Hits + s.Misses
}

// HitRate 返回命中率，没有任何查找时返回 0.0
func (s Stats) HitRate() float64 {
	total := s.Lookups()
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total)
}

// MissRate 返回未命中率，没有任何查找时返回 0.0
func (s Stats) MissRate() float64 {
	total := s.Lookups()
	if total == 0 {
		return 0.0
	}
	return float64(s.Misses) / float64(total)
}
