package loader

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"veloxcache/pkg/core"
	"veloxcache/pkg/logger"
)

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Name        string        `yaml:"name" mapstructure:"name"`                   // 熔断器名称
	MaxRequests uint32        `yaml:"max_requests" mapstructure:"max_requests"`   // 半开状态下允许的最大请求数
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`           // 闭合状态下计数器的清零周期
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`             // 打开状态持续时间，之后进入半开
	ReadyToTrip uint32        `yaml:"ready_to_trip" mapstructure:"ready_to_trip"` // 触发熔断的连续失败次数阈值
}

// DefaultBreakerConfig 默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:        "loader",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: 5,
	}
}

// BreakerLoader 带熔断器的加载器装饰器。
// 连续失败达到阈值后熔断器打开，后续请求不再触达内层加载器，
// 而是直接返回携带 CIRCUIT_OPEN 代码的错误，直到超时进入半开状态试探恢复。
type BreakerLoader[V any] struct {
	inner  Loader[V]
	cb     *gobreaker.CircuitBreaker
	config BreakerConfig
	log    *logrus.Entry
}

var _ Loader[string] = (*BreakerLoader[string])(nil)

// NewBreakerLoader 创建熔断加载器
func NewBreakerLoader[V any](inner Loader[V], config BreakerConfig) *BreakerLoader[V] {
	if config.Name == "" {
		config.Name = "loader"
	}
	if config.ReadyToTrip == 0 {
		config.ReadyToTrip = 5
	}
	log := logger.WithComponent("breaker-loader")

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ReadyToTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("circuit breaker %s state changed: %v -> %v", name, from, to)
		},
	}

	return &BreakerLoader[V]{
		inner:  inner,
		cb:     gobreaker.NewCircuitBreaker(settings),
		config: config,
		log:    log,
	}
}

// Load 通过熔断器加载数据。熔断器打开或半开请求数已满时返回
// 携带 CIRCUIT_OPEN 代码的错误，内层加载器不会被调用。
func (l *BreakerLoader[V]) Load(ctx context.Context, key string) (V, error) {
	var zero V

	result, err := l.cb.Execute(func() (interface{}, error) {
		return l.inner.Load(ctx, key)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, core.WrapError(core.ErrCircuitOpen, "circuit breaker open", err).WithContext("key", key)
		}
		return zero, err
	}
	return result.(V), nil
}

// State 返回熔断器当前状态
func (l *BreakerLoader[V]) State() gobreaker.State {
	return l.cb.State()
}

// Counts 返回熔断器当前计数
func (l *BreakerLoader[V]) Counts() gobreaker.Counts {
	return l.cb.Counts()
}
