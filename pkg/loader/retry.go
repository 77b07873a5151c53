package loader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"veloxcache/pkg/core"
	"veloxcache/pkg/logger"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts    int              `yaml:"max_attempts" mapstructure:"max_attempts" json:"max_attempts"`           // 最大尝试次数（含首次）
	InitialDelay   time.Duration    `yaml:"initial_delay" mapstructure:"initial_delay" json:"initial_delay"`        // 首次重试前的等待时间
	MaxDelay       time.Duration    `yaml:"max_delay" mapstructure:"max_delay" json:"max_delay"`                    // 重试等待时间上限
	BackoffFactor  float64          `yaml:"backoff_factor" mapstructure:"backoff_factor" json:"backoff_factor"`     // 退避倍率
	Jitter         float64          `yaml:"jitter" mapstructure:"jitter" json:"jitter"`                             // 抖动比例，0~1
	RetryableCodes []core.ErrorCode `yaml:"retryable_codes" mapstructure:"retryable_codes" json:"retryable_codes"` // 允许重试的错误代码
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.1,
		RetryableCodes: []core.ErrorCode{
			core.ErrStorageIO,
			core.ErrLoaderFailed,
		},
	}
}

// CalculateRetryDelay 计算第 attempt 次失败后的重试等待时间。
// 按退避倍率指数增长并截断到上限，再叠加正负 Jitter 比例内的随机抖动。
func CalculateRetryDelay(config RetryConfig, attempt int) time.Duration {
	delay := config.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if delay >= config.MaxDelay {
			delay = config.MaxDelay
			break
		}
	}
	if config.Jitter > 0 {
		offset := (rand.Float64()*2 - 1) * config.Jitter * float64(delay)
		delay += time.Duration(offset)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// IsRetryable 判断错误是否允许重试。
// 上下文取消和超时永远不重试；其余错误按错误代码匹配 RetryableCodes。
func IsRetryable(err error, config RetryConfig) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	code, ok := core.GetErrorCode(err)
	if !ok {
		return false
	}
	for _, retryable := range config.RetryableCodes {
		if code == retryable {
			return true
		}
	}
	return false
}

// RetryLoader 带指数退避重试的加载器装饰器。
// 只重试 RetryableCodes 中列出的错误代码，等待期间尊重上下文取消。
type RetryLoader[V any] struct {
	inner  Loader[V]
	config RetryConfig
	log    *logrus.Entry
}

var _ Loader[string] = (*RetryLoader[string])(nil)

// NewRetryLoader 创建重试加载器
func NewRetryLoader[V any](inner Loader[V], config RetryConfig) *RetryLoader[V] {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &RetryLoader[V]{
		inner:  inner,
		config: config,
		log:    logger.WithComponent("retry-loader"),
	}
}

// Load 加载数据，可重试的失败按退避策略自动重试。
// 重试耗尽后返回携带 LOADER_FAILED 代码、包装最后一次错误的错误。
func (l *RetryLoader[V]) Load(ctx context.Context, key string) (V, error) {
	var (
		zero    V
		lastErr error
	)

	for attempt := 1; attempt <= l.config.MaxAttempts; attempt++ {
		value, err := l.inner.Load(ctx, key)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !IsRetryable(err, l.config) {
			return zero, err
		}
		if attempt == l.config.MaxAttempts {
			break
		}

		delay := CalculateRetryDelay(l.config, attempt)
		l.log.WithError(err).Debugf("load attempt %d/%d failed for key %s, retrying in %s",
			attempt, l.config.MaxAttempts, key, delay)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, core.WrapError(core.ErrLoaderFailed,
		fmt.Sprintf("all %d load attempts failed", l.config.MaxAttempts), lastErr).WithContext("key", key)
}
