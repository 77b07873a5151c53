// Package metrics 提供了缓存统计的两条导出通道：
// Prometheus 拉模式指标端点，以及按固定间隔推送到 InfluxDB 的上报器。
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veloxcache/pkg/cache"
)

// Observable 可被指标导出器观察的缓存
type Observable[V any] interface {
	Name() string
	Subscribe() (<-chan cache.Event[V], func())
	Stats() cache.Stats
	Size() int
}

// PrometheusExporter 把缓存事件流转换为 Prometheus 指标。
// 使用独立的 Registry，不污染全局默认注册表；
// 所有指标携带 cache 标签，同一个导出器可以观察多个缓存实例。
type PrometheusExporter struct {
	registry *prometheus.Registry

	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	expirations *prometheus.CounterVec
	writes      *prometheus.CounterVec
	stales      *prometheus.CounterVec

	entries *prometheus.GaugeVec
	hitRate *prometheus.GaugeVec

	mu    sync.Mutex
	stops []func()
}

// NewPrometheusExporter 创建指标导出器
func NewPrometheusExporter() *PrometheusExporter {
	e := &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velox_cache_hits_total",
			Help: "Total number of cache hits.",
		}, []string{"cache"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velox_cache_misses_total",
			Help: "Total number of cache misses.",
		}, []string{"cache"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velox_cache_evictions_total",
			Help: "Total number of entries evicted by capacity pressure.",
		}, []string{"cache"}),
		expirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velox_cache_expirations_total",
			Help: "Total number of entries removed because they expired.",
		}, []string{"cache"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velox_cache_writes_total",
			Help: "Total number of cache writes.",
		}, []string{"cache"}),
		stales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velox_cache_stale_serves_total",
			Help: "Total number of reads answered with a stale value.",
		}, []string{"cache"}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "velox_cache_entries",
			Help: "Current number of entries in the cache.",
		}, []string{"cache"}),
		hitRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "velox_cache_hit_rate",
			Help: "Hit rate since the cache was created or stats were reset.",
		}, []string{"cache"}),
	}
	e.registry.MustRegister(
		e.hits, e.misses, e.evictions, e.expirations, e.writes, e.stales,
		e.entries, e.hitRate,
	)
	return e
}

// Handler 返回可挂载到任意 HTTP 路由的指标端点处理器
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层注册表，便于挂接额外指标
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Close 停止全部观察协程
func (e *PrometheusExporter) Close() {
	e.mu.Lock()
	stops := e.stops
	e.stops = nil
	e.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

func (e *PrometheusExporter) trackStop(stop func()) {
	e.mu.Lock()
	e.stops = append(e.stops, stop)
	e.mu.Unlock()
}

// Observe 订阅缓存的事件流并开始计数，返回停止观察的函数。
// 缓存被释放时事件通道关闭，观察协程自行退出。
func Observe[V any](e *PrometheusExporter, c Observable[V]) func() {
	events, cancel := c.Subscribe()
	done := make(chan struct{})
	name := c.Name()

	go func() {
		defer close(done)
		for ev := range events {
			e.record(name, ev.Type)
			e.entries.WithLabelValues(name).Set(float64(c.Size()))
			e.hitRate.WithLabelValues(name).Set(c.Stats().HitRate())
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	e.trackStop(stop)
	return stop
}

// record 把一个事件计入对应的计数器。
// 陈旧读取在统计口径上是一次命中，同时计入专门的 stale 计数。
func (e *PrometheusExporter) record(cacheName string, evType cache.EventType) {
	switch evType {
	case cache.EventHit:
		e.hits.WithLabelValues(cacheName).Inc()
	case cache.EventMiss:
		e.misses.WithLabelValues(cacheName).Inc()
	case cache.EventEvicted:
		e.evictions.WithLabelValues(cacheName).Inc()
	case cache.EventExpired:
		e.expirations.WithLabelValues(cacheName).Inc()
	case cache.EventPut:
		e.writes.WithLabelValues(cacheName).Inc()
	case cache.EventStale:
		e.hits.WithLabelValues(cacheName).Inc()
		e.stales.WithLabelValues(cacheName).Inc()
	}
}
