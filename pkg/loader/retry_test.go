package loader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veloxcache/pkg/core"
)

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       10 * time.Millisecond,
		BackoffFactor:  2.0,
		RetryableCodes: []core.ErrorCode{core.ErrLoaderFailed, core.ErrStorageIO},
	}
}

// TestDefaultRetryConfig 测试默认重试配置
func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.BackoffFactor)
	assert.Contains(t, cfg.RetryableCodes, core.ErrLoaderFailed)
	assert.Contains(t, cfg.RetryableCodes, core.ErrStorageIO)
}

// TestCalculateRetryDelay 测试指数退避的等待时间计算
func TestCalculateRetryDelay(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		Jitter:        0, // 关闭抖动以便断言确定值
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // 触顶截断
		{6, time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateRetryDelay(cfg, tt.attempt))
		})
	}
}

// TestCalculateRetryDelay_Jitter 测试抖动把等待时间打散在正负比例区间内
func TestCalculateRetryDelay_Jitter(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.5,
	}

	for i := 0; i < 50; i++ {
		delay := CalculateRetryDelay(cfg, 1)
		assert.GreaterOrEqual(t, delay, 50*time.Millisecond)
		assert.LessOrEqual(t, delay, 150*time.Millisecond)
	}
}

// TestIsRetryable 测试错误是否允许重试的判定规则
func TestIsRetryable(t *testing.T) {
	cfg := testRetryConfig()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "可重试代码",
			err:  core.NewVeloxError(core.ErrLoaderFailed, "backend down"),
			want: true,
		},
		{
			name: "列表中的第二个代码",
			err:  core.NewVeloxError(core.ErrStorageIO, "disk failure"),
			want: true,
		},
		{
			name: "未列出的代码",
			err:  core.NewVeloxError(core.ErrConfigInvalid, "bad config"),
			want: false,
		},
		{
			name: "外层包装过的可重试错误",
			err:  fmt.Errorf("load user: %w", core.NewVeloxError(core.ErrLoaderFailed, "boom")),
			want: true,
		},
		{
			name: "普通错误",
			err:  errors.New("plain failure"),
			want: false,
		},
		{
			name: "上下文取消",
			err:  context.Canceled,
			want: false,
		},
		{
			name: "上下文超时",
			err:  context.DeadlineExceeded,
			want: false,
		},
		{
			name: "可重试代码包装了上下文取消时同样不重试",
			err:  core.WrapError(core.ErrLoaderFailed, "load aborted", context.Canceled),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err, cfg))
		})
	}
}

// TestRetryLoader_SucceedsAfterRetries 测试可重试的失败在若干次后成功
func TestRetryLoader_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	flaky := LoaderFunc[string](func(ctx context.Context, key string) (string, error) {
		attempts++
		if attempts < 3 {
			return "", core.NewVeloxError(core.ErrLoaderFailed, "temporary failure")
		}
		return "value-" + key, nil
	})

	l := NewRetryLoader[string](flaky, testRetryConfig())
	value, err := l.Load(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "value-orders", value)
	assert.Equal(t, 3, attempts)
}

// TestRetryLoader_NonRetryableFailsFast 测试不可重试的错误立即原样返回
func TestRetryLoader_NonRetryableFailsFast(t *testing.T) {
	attempts := 0
	l := NewRetryLoader[string](LoaderFunc[string](func(ctx context.Context, key string) (string, error) {
		attempts++
		return "", core.NewVeloxError(core.ErrConfigInvalid, "bad request")
	}), testRetryConfig())

	_, err := l.Load(context.Background(), "orders")
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrConfigInvalid), "不可重试错误应原样返回而非包装")
	assert.Equal(t, 1, attempts)
}

// TestRetryLoader_PlainErrorNotRetried 测试普通错误不重试
func TestRetryLoader_PlainErrorNotRetried(t *testing.T) {
	sentinel := errors.New("unexpected failure")
	attempts := 0
	l := NewRetryLoader[string](LoaderFunc[string](func(ctx context.Context, key string) (string, error) {
		attempts++
		return "", sentinel
	}), testRetryConfig())

	_, err := l.Load(context.Background(), "orders")
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

// TestRetryLoader_ExhaustsAttempts 测试重试耗尽后返回包装过的加载失败错误
func TestRetryLoader_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	l := NewRetryLoader[string](LoaderFunc[string](func(ctx context.Context, key string) (string, error) {
		attempts++
		return "", core.NewVeloxError(core.ErrLoaderFailed, "backend down")
	}), testRetryConfig())

	_, err := l.Load(context.Background(), "orders")
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.ErrLoaderFailed))
	assert.Contains(t, err.Error(), "all 3 load attempts failed")
	assert.Equal(t, 3, attempts)
}

// TestRetryLoader_ContextCanceledAbortsWait 测试等待重试期间上下文取消立即中止
func TestRetryLoader_ContextCanceledAbortsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	l := NewRetryLoader[string](LoaderFunc[string](func(ctx context.Context, key string) (string, error) {
		attempts++
		cancel()
		return "", core.NewVeloxError(core.ErrLoaderFailed, "backend down")
	}), RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   10 * time.Second, // 等待必须被取消打断而不是真的睡满
		MaxDelay:       10 * time.Second,
		BackoffFactor:  2.0,
		RetryableCodes: []core.ErrorCode{core.ErrLoaderFailed},
	})

	start := time.Now()
	_, err := l.Load(ctx, "orders")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}

// TestNewRetryLoader_ClampsAttempts 测试非法的最大尝试次数被修正为 1
func TestNewRetryLoader_ClampsAttempts(t *testing.T) {
	cfg := testRetryConfig()
	cfg.MaxAttempts = 0

	attempts := 0
	l := NewRetryLoader[int](LoaderFunc[int](func(ctx context.Context, key string) (int, error) {
		attempts++
		return 0, core.NewVeloxError(core.ErrLoaderFailed, "boom")
	}), cfg)

	_, err := l.Load(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 1 load attempts failed")
	assert.Equal(t, 1, attempts)
}
