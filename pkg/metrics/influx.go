package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"veloxcache/pkg/cache"
	"veloxcache/pkg/logger"
)

// statsMeasurement InfluxDB 中缓存统计的 measurement 名
const statsMeasurement = "velox_cache_stats"

// StatsSource 统计上报的数据来源
type StatsSource interface {
	Name() string
	Stats() cache.Stats
	Size() int
}

// funcSource 用函数组装的统计来源
type funcSource struct {
	name  string
	stats func() cache.Stats
	size  func() int
}

func (s funcSource) Name() string       { return s.name }
func (s funcSource) Stats() cache.Stats { return s.stats() }
func (s funcSource) Size() int          { return s.size() }

// NewSource 把任意一组取值函数组装成统计来源，
// 用于上报没有直接实现 StatsSource 的统计视图（比如两级缓存的 L2 侧）
func NewSource(name string, stats func() cache.Stats, size func() int) StatsSource {
	if size == nil {
		size = func() int { return 0 }
	}
	return funcSource{name: name, stats: stats, size: size}
}

// InfluxConfig InfluxDB 上报配置
type InfluxConfig struct {
	URL      string        `yaml:"url" mapstructure:"url" json:"url"`
	Token    string        `yaml:"token" mapstructure:"token" json:"token"`
	Org      string        `yaml:"org" mapstructure:"org" json:"org"`
	Bucket   string        `yaml:"bucket" mapstructure:"bucket" json:"bucket"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval" json:"interval"` // 上报间隔，默认 15 秒
}

// InfluxReporter 按固定间隔把注册的缓存统计写入 InfluxDB。
// 写入走非阻塞的 WriteAPI，后台批量发送，写失败只记日志。
type InfluxReporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	interval time.Duration
	log      *logrus.Entry

	mu      sync.RWMutex
	sources map[string]StatsSource
	started bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewInfluxReporter 创建上报器并验证 InfluxDB 连接
func NewInfluxReporter(config InfluxConfig) (*InfluxReporter, error) {
	client := influxdb2.NewClient(config.URL, config.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB at %s: %w", config.URL, err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	interval := config.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	r := &InfluxReporter{
		client:   client,
		writeAPI: client.WriteAPI(config.Org, config.Bucket),
		interval: interval,
		log:      logger.WithComponent("influx-reporter"),
		sources:  make(map[string]StatsSource),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.handleWriteErrors()
	return r, nil
}

// Register 注册一个统计来源，同名来源后注册的覆盖先注册的
func (r *InfluxReporter) Register(src StatsSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[src.Name()] = src
}

// Start 启动周期上报协程，重复调用无效果
func (r *InfluxReporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.reportLoop()
	r.log.Infof("influx reporter started, interval %s", r.interval)
}

func (r *InfluxReporter) reportLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.report()
		case <-r.stop:
			return
		}
	}
}

// report 为每个注册的来源写入一个数据点
func (r *InfluxReporter) report() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	for _, src := range r.sources {
		r.writeAPI.WritePoint(statsPoint(src.Name(), src.Stats(), src.Size(), now))
	}
}

// statsPoint 把一份统计快照转换为 InfluxDB 数据点
func statsPoint(cacheName string, s cache.Stats, size int, ts time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement(statsMeasurement).
		AddTag("cache", cacheName).
		AddField("hits", s.Hits).
		AddField("misses", s.Misses).
		AddField("evictions", s.Evictions).
		AddField("expirations", s.Expirations).
		AddField("writes", s.Writes).
		AddField("hit_rate", s.HitRate()).
		AddField("entries", size).
		SetTime(ts)
}

func (r *InfluxReporter) handleWriteErrors() {
	errorsCh := r.writeAPI.Errors()
	for {
		select {
		case <-r.stop:
			return
		case err := <-errorsCh:
			r.log.WithError(err).Error("InfluxDB write error")
		}
	}
}

// Flush 冲刷已缓冲但尚未发送的数据点
func (r *InfluxReporter) Flush() {
	r.writeAPI.Flush()
}

// Close 停止上报、冲刷缓冲并关闭客户端，幂等
func (r *InfluxReporter) Close() {
	r.closeOnce.Do(func() {
		close(r.stop)
		r.mu.RLock()
		started := r.started
		r.mu.RUnlock()
		if started {
			<-r.done
		}
		r.writeAPI.Flush()
		r.client.Close()
		r.log.Info("influx reporter stopped")
	})
}
