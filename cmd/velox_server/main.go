package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"veloxcache/pkg/cache"
	"veloxcache/pkg/config"
	"veloxcache/pkg/core"
	"veloxcache/pkg/logger"
	"veloxcache/pkg/metrics"
	"veloxcache/pkg/relay"
	"veloxcache/pkg/scheduler"
	"veloxcache/pkg/storage"
)

var (
	configPath = flag.String("config", "", "配置文件路径 (例如 /app/config/velox_server.yaml)")
	logLevel   = flag.String("log-level", "", "日志级别，覆盖配置文件 (debug, info, warn, error)")
	logFormat  = flag.String("log-format", "", "日志格式，覆盖配置文件 (json or text)")
	listenAddr = flag.String("addr", "", "HTTP 监听地址，覆盖配置文件 (例如 :8080)")
	redisAddr  = flag.String("redis", "", "Redis 地址，覆盖配置文件，格式 host:port")
)

// cacheBackend 三种缓存模式暴露给 HTTP 层的统一操作集合。
// tiered 模式的过期时间由层级配置决定，按键 TTL 与标签会被忽略。
type cacheBackend interface {
	Put(ctx context.Context, key, value string, ttl time.Duration, tags []string) error
	Get(ctx context.Context, key string) (string, error)
	ContainsKey(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error

	Name() string
	Size() int
	Stats() cache.Stats
	ResetStats()
	RemoveExpired() int
	Subscribe() (<-chan cache.Event[string], func())
	Close() error
}

// taggedBackend 支持标签与条目元数据的缓存模式（纯内存模式）
type taggedBackend interface {
	Keys() []string
	KeysByTag(tag string) []string
	InvalidateByTags(tags ...string) int
	Entry(key string) (cache.Entry[string], bool)
}

// tieredBackend 两级缓存模式额外暴露的分层统计视图
type tieredBackend interface {
	L1Stats() cache.Stats
	L2Stats() cache.Stats
	L1Size() int
}

// memoryBackend 纯内存模式适配
type memoryBackend struct {
	*cache.VeloxCache[string]
}

func (b memoryBackend) Put(ctx context.Context, key, value string, ttl time.Duration, tags []string) error {
	b.VeloxCache.Put(key, value, putOptions(ttl, tags)...)
	return nil
}

func (b memoryBackend) Get(ctx context.Context, key string) (string, error) {
	value, ok := b.VeloxCache.Get(key)
	if !ok {
		return "", core.ErrMiss
	}
	return value, nil
}

func (b memoryBackend) ContainsKey(ctx context.Context, key string) (bool, error) {
	return b.VeloxCache.ContainsKey(key), nil
}

func (b memoryBackend) Remove(ctx context.Context, key string) (bool, error) {
	_, ok := b.VeloxCache.Remove(key)
	return ok, nil
}

func (b memoryBackend) Clear(ctx context.Context) error {
	b.VeloxCache.Clear()
	return nil
}

// writeThroughBackend 写透模式适配
type writeThroughBackend struct {
	*cache.WriteThroughCache[string]
}

func (b writeThroughBackend) Put(ctx context.Context, key, value string, ttl time.Duration, tags []string) error {
	return b.WriteThroughCache.Put(ctx, key, value, putOptions(ttl, tags)...)
}

func (b writeThroughBackend) Remove(ctx context.Context, key string) (bool, error) {
	found, err := b.WriteThroughCache.ContainsKey(ctx, key)
	if err != nil {
		return false, err
	}
	if err := b.WriteThroughCache.Remove(ctx, key); err != nil {
		return false, err
	}
	return found, nil
}

// multiLevelBackend 两级模式适配
type multiLevelBackend struct {
	*cache.MultiLevelCache[string]
}

func (b multiLevelBackend) Put(ctx context.Context, key, value string, ttl time.Duration, tags []string) error {
	// 两级模式的过期时间由 L1TTL/L2TTL 配置决定
	return b.MultiLevelCache.Put(ctx, key, value)
}

func (b multiLevelBackend) Remove(ctx context.Context, key string) (bool, error) {
	found, err := b.MultiLevelCache.ContainsKey(ctx, key)
	if err != nil {
		return false, err
	}
	if err := b.MultiLevelCache.Remove(ctx, key); err != nil {
		return false, err
	}
	return found, nil
}

// putOptions 把 HTTP 查询参数转换成缓存写入选项
func putOptions(ttl time.Duration, tags []string) []cache.PutOption {
	var opts []cache.PutOption
	if ttl > 0 {
		opts = append(opts, cache.WithTTL(ttl))
	}
	if len(tags) > 0 {
		opts = append(opts, cache.WithTags(tags...))
	}
	return opts
}

// CacheServer 缓存 HTTP 服务
type CacheServer struct {
	config    *config.Config
	logger    *logrus.Entry
	server    *http.Server
	startTime time.Time

	backend cacheBackend
	store   storage.Storage

	exporter   *metrics.PrometheusExporter
	stopExport func()
	reporter   *metrics.InfluxReporter
	relay      *relay.Relay[string]
	scheduler  *scheduler.DefaultJobScheduler
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// 命令行参数覆盖（仅在提供时生效）
	if *listenAddr != "" {
		cfg.Server.Addr = *listenAddr
	}
	if *redisAddr != "" {
		cfg.Storage.Redis.Addr = *redisAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	// Create cache server
	srv, err := NewCacheServer(cfg)
	if err != nil {
		logger.WithComponent("server").WithError(err).Fatal("Failed to create velox server")
	}
	defer srv.Close()

	// Start server
	if err := srv.Start(); err != nil {
		srv.logger.WithError(err).Fatal("Failed to start velox server")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	srv.logger.Info("Shutting down velox server...")
	srv.Stop()
}

func NewCacheServer(cfg *config.Config) (*CacheServer, error) {
	srv := &CacheServer{
		config:    cfg,
		logger:    logger.WithComponent("server"),
		startTime: time.Now(),
	}

	// 按配置构建缓存后端
	if err := srv.buildBackend(); err != nil {
		return nil, err
	}

	// Prometheus 指标
	if cfg.Metrics.Prometheus {
		srv.exporter = metrics.NewPrometheusExporter()
		srv.stopExport = metrics.Observe[string](srv.exporter, srv.backend)
		srv.logger.Info("Prometheus metrics enabled")
	}

	// InfluxDB 统计上报
	if cfg.Metrics.Influx.Enabled {
		reporter, err := metrics.NewInfluxReporter(metrics.InfluxConfig{
			URL:      cfg.Metrics.Influx.URL,
			Token:    cfg.Metrics.Influx.Token,
			Org:      cfg.Metrics.Influx.Org,
			Bucket:   cfg.Metrics.Influx.Bucket,
			Interval: cfg.Metrics.Influx.Interval,
		})
		if err != nil {
			srv.Close()
			return nil, fmt.Errorf("failed to create influx reporter: %w", err)
		}
		reporter.Register(srv.backend)
		if tb, ok := srv.backend.(tieredBackend); ok {
			reporter.Register(metrics.NewSource(cfg.Cache.Name+"_l2", tb.L2Stats, nil))
		}
		reporter.Start()
		srv.reporter = reporter
		srv.logger.Info("InfluxDB stats reporting enabled")
	}

	// NATS 事件转发
	if cfg.Relay.Enabled {
		rl, err := relay.NewRelay[string](relay.Config{
			URL:           cfg.Relay.URL,
			SubjectPrefix: cfg.Relay.SubjectPrefix,
			Source:        cfg.Relay.Source,
		}, srv.backend)
		if err != nil {
			srv.Close()
			return nil, fmt.Errorf("failed to create event relay: %w", err)
		}
		srv.relay = rl
	}

	// 维护任务调度
	if cfg.Scheduler.Enabled && len(cfg.Scheduler.Jobs) > 0 {
		executor := scheduler.NewMaintenanceExecutor()
		executor.RegisterTarget(srv.backend)

		sched := scheduler.NewJobScheduler()
		sched.SetExecutor(executor)
		for _, job := range cfg.Scheduler.Jobs {
			if err := sched.AddJob(job); err != nil {
				srv.logger.WithError(err).Warnf("Skipping maintenance job %s", job.Name)
			}
		}
		if err := sched.Start(); err != nil {
			srv.Close()
			return nil, fmt.Errorf("failed to start scheduler: %w", err)
		}
		srv.scheduler = sched
	}

	return srv, nil
}

// buildBackend 按 cache.mode 构建缓存后端，非纯内存模式先构建存储层
func (s *CacheServer) buildBackend() error {
	cfg := s.config

	if cfg.Cache.Mode == "memory" {
		c := cache.NewVeloxCache[string](cache.Config{
			Name:            cfg.Cache.Name,
			MaxSize:         cfg.Cache.MaxSize,
			DefaultTTL:      cfg.Cache.DefaultTTL,
			CleanupInterval: cfg.Cache.CleanupInterval,
			EventBuffer:     cfg.Cache.EventBuffer,
		})
		s.backend = memoryBackend{c}
		s.logger.WithField("max_size", cfg.Cache.MaxSize).Info("Memory cache enabled")
		return nil
	}

	store, err := s.buildStorage()
	if err != nil {
		return err
	}
	s.store = store

	switch cfg.Cache.Mode {
	case "writethrough":
		wt, err := cache.NewWriteThroughCache[string](cache.WriteThroughConfig[string]{
			Name:          cfg.Cache.Name,
			MaxSize:       cfg.Cache.MaxSize,
			DefaultTTL:    cfg.Cache.DefaultTTL,
			StoragePrefix: cfg.Cache.StoragePrefix,
			Serialize:     cache.JSONSerialize[string],
			Deserialize:   cache.JSONDeserialize[string],
		}, store)
		if err != nil {
			return fmt.Errorf("failed to create writethrough cache: %w", err)
		}
		s.backend = writeThroughBackend{wt}
		s.logger.WithField("storage", cfg.Storage.Type).Info("Write-through cache enabled")

	case "tiered":
		ml, err := cache.NewMultiLevelCache[string](cache.MultiLevelConfig[string]{
			Name:          cfg.Cache.Name,
			L1MaxSize:     cfg.Cache.MaxSize,
			L1TTL:         cfg.Cache.DefaultTTL,
			L2TTL:         cfg.Cache.L2TTL,
			StoragePrefix: cfg.Cache.StoragePrefix,
			Serialize:     cache.JSONSerialize[string],
			Deserialize:   cache.JSONDeserialize[string],
		}, store)
		if err != nil {
			return fmt.Errorf("failed to create tiered cache: %w", err)
		}
		s.backend = multiLevelBackend{ml}
		s.logger.WithField("storage", cfg.Storage.Type).Info("Tiered cache enabled")

	default:
		return fmt.Errorf("unsupported cache mode: %s", cfg.Cache.Mode)
	}

	return nil
}

func (s *CacheServer) buildStorage() (storage.Storage, error) {
	cfg := s.config

	switch cfg.Storage.Type {
	case "memory":
		return storage.NewMemoryStorage(), nil

	case "disk":
		store, err := storage.NewDiskStorage(storage.DiskConfig{Dir: cfg.Storage.Dir})
		if err != nil {
			return nil, fmt.Errorf("failed to create disk storage: %w", err)
		}
		return store, nil

	case "redis":
		store, err := storage.NewRedisStorage(storage.RedisConfig{
			Addr:      cfg.Storage.Redis.Addr,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

func (s *CacheServer) buildRouter() *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	// Health check
	router.GET("/health", s.health)

	// Prometheus metrics
	if s.exporter != nil {
		router.GET("/metrics", gin.WrapH(s.exporter.Handler()))
	}

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/cache/:key", s.getKey)
		v1.PUT("/cache/:key", s.putKey)
		v1.DELETE("/cache/:key", s.deleteKey)
		v1.GET("/cache/:key/entry", s.getEntry)

		v1.GET("/keys", s.getKeys)
		v1.POST("/invalidate", s.invalidate)
		v1.POST("/clear", s.clear)

		v1.GET("/stats", s.getStats)
		v1.POST("/stats/reset", s.resetStats)
	}

	return router
}

func (s *CacheServer) Start() error {
	// Create HTTP server
	s.server = &http.Server{
		Addr:    s.config.Server.Addr,
		Handler: s.buildRouter(),
	}

	s.logger.WithField("addr", s.config.Server.Addr).Info("Starting velox server...")

	// Start server in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	return nil
}

func (s *CacheServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to gracefully shutdown server")
	}
}

func (s *CacheServer) Close() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.relay != nil {
		s.relay.Close()
	}
	if s.reporter != nil {
		s.reporter.Close()
	}
	if s.stopExport != nil {
		s.stopExport()
	}
	if s.exporter != nil {
		s.exporter.Close()
	}
	if s.backend != nil {
		s.backend.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// requestLogger 记录每个请求的方法、路径、状态码和耗时
func (s *CacheServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request handled")
	}
}

func (s *CacheServer) health(c *gin.Context) {
	c.JSON(200, map[string]interface{}{
		"status":  "ok",
		"cache":   s.backend.Name(),
		"mode":    s.config.Cache.Mode,
		"entries": s.backend.Size(),
		"uptime":  time.Since(s.startTime).String(),
	})
}

func (s *CacheServer) getKey(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Key is required"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	value, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrMiss) {
			c.JSON(404, ErrorResponse{Error: "not_found", Message: "cache miss"})
			return
		}
		s.logger.WithError(err).WithField("key", key).Error("Failed to get value")
		c.JSON(500, ErrorResponse{Error: "internal_error", Message: "Failed to retrieve value"})
		return
	}

	c.JSON(200, map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func (s *CacheServer) putKey(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Key is required"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Failed to read request body"})
		return
	}
	if len(body) == 0 {
		c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Request body is required"})
		return
	}

	var ttl time.Duration
	if ttlStr := c.Query("ttl"); ttlStr != "" {
		ttl, err = time.ParseDuration(ttlStr)
		if err != nil || ttl <= 0 {
			c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Invalid ttl, use a positive duration like 30s"})
			return
		}
	}

	var tags []string
	if tagsStr := c.Query("tags"); tagsStr != "" {
		for _, tag := range strings.Split(tagsStr, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.backend.Put(ctx, key, string(body), ttl, tags); err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to store value")
		c.JSON(500, ErrorResponse{Error: "internal_error", Message: "Failed to store value"})
		return
	}

	c.Status(204)
}

func (s *CacheServer) deleteKey(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Key is required"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	found, err := s.backend.Remove(ctx, key)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to remove key")
		c.JSON(500, ErrorResponse{Error: "internal_error", Message: "Failed to remove key"})
		return
	}
	if !found {
		c.JSON(404, ErrorResponse{Error: "not_found", Message: "Key not found"})
		return
	}

	c.Status(204)
}

func (s *CacheServer) getEntry(c *gin.Context) {
	key := c.Param("key")

	tb, ok := s.backend.(taggedBackend)
	if !ok {
		c.JSON(400, ErrorResponse{Error: "unsupported", Message: "Entry metadata is only available in memory cache mode"})
		return
	}

	entry, found := tb.Entry(key)
	if !found {
		c.JSON(404, ErrorResponse{Error: "not_found", Message: "Key not found"})
		return
	}

	c.JSON(200, entry)
}

func (s *CacheServer) getKeys(c *gin.Context) {
	tb, ok := s.backend.(taggedBackend)
	if !ok {
		c.JSON(400, ErrorResponse{Error: "unsupported", Message: "Key listing is only available in memory cache mode"})
		return
	}

	var keys []string
	if tag := c.Query("tag"); tag != "" {
		keys = tb.KeysByTag(tag)
	} else {
		keys = tb.Keys()
	}
	if keys == nil {
		keys = []string{}
	}

	c.JSON(200, map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
	})
}

func (s *CacheServer) invalidate(c *gin.Context) {
	tb, ok := s.backend.(taggedBackend)
	if !ok {
		c.JSON(400, ErrorResponse{Error: "unsupported", Message: "Tag invalidation is only available in memory cache mode"})
		return
	}

	var req struct {
		Tags []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Invalid request body"})
		return
	}
	if len(req.Tags) == 0 {
		c.JSON(400, ErrorResponse{Error: "bad_request", Message: "tags is required"})
		return
	}

	removed := tb.InvalidateByTags(req.Tags...)

	c.JSON(200, map[string]interface{}{
		"removed": removed,
	})
}

func (s *CacheServer) clear(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.backend.Clear(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to clear cache")
		c.JSON(500, ErrorResponse{Error: "internal_error", Message: "Failed to clear cache"})
		return
	}

	c.Status(204)
}

func (s *CacheServer) getStats(c *gin.Context) {
	stats := map[string]interface{}{
		"cache":   s.backend.Name(),
		"mode":    s.config.Cache.Mode,
		"entries": s.backend.Size(),
		"stats":   s.backend.Stats(),
	}

	if tb, ok := s.backend.(tieredBackend); ok {
		stats["l1_entries"] = tb.L1Size()
		stats["l1_stats"] = tb.L1Stats()
		stats["l2_stats"] = tb.L2Stats()
	}

	c.JSON(200, stats)
}

func (s *CacheServer) resetStats(c *gin.Context) {
	s.backend.ResetStats()
	c.Status(204)
}
