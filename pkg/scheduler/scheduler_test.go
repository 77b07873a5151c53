package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veloxcache/pkg/cache"
)

// MockJobExecutor 模拟任务执行器
type MockJobExecutor struct {
	mu           sync.Mutex
	executedJobs []string
	err          error
}

func (m *MockJobExecutor) Execute(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executedJobs = append(m.executedJobs, job.Config.Name)
	return m.err
}

func (m *MockJobExecutor) executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.executedJobs...)
}

func TestNewJobScheduler(t *testing.T) {
	scheduler := NewJobScheduler()

	assert.NotNil(t, scheduler)
	assert.NotNil(t, scheduler.cron)
	assert.NotNil(t, scheduler.jobs)
	assert.NotNil(t, scheduler.logger)
	assert.NotNil(t, scheduler.ctx)
}

func TestJobScheduler_LoadConfig(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		expectJobs  int
	}{
		{
			name: "有效配置",
			configYAML: `
jobs:
  - name: "sweep-all"
    enabled: true
    schedule: "*/5 * * * * *"
    action: "sweep"
  - name: "report-velox"
    enabled: false
    schedule: "0 * * * * *"
    action: "stats_report"
    target: "velox"
    timeout: "10s"
`,
			expectError: false,
			expectJobs:  2,
		},
		{
			name: "无效的 cron 表达式",
			configYAML: `
jobs:
  - name: "invalid-job"
    enabled: true
    schedule: "invalid-cron"
    action: "sweep"
`,
			expectError: false, // 无效任务会被跳过，不会导致整体失败
			expectJobs:  0,
		},
		{
			name: "未知的维护动作",
			configYAML: `
jobs:
  - name: "mystery-job"
    enabled: true
    schedule: "*/5 * * * * *"
    action: "defragment"
`,
			expectError: false, // 无效任务会被跳过
			expectJobs:  0,
		},
		{
			name: "缺少必要字段",
			configYAML: `
jobs:
  - name: ""
    enabled: true
    schedule: "*/5 * * * * *"
    action: "sweep"
`,
			expectError: false, // 无效任务会被跳过
			expectJobs:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 创建临时配置文件
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "test-config.yaml")

			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			require.NoError(t, err)

			// 创建调度器并加载配置
			scheduler := NewJobScheduler()
			err = scheduler.LoadConfig(configPath)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Len(t, scheduler.jobs, tt.expectJobs)
			}
		})
	}
}

func TestJobScheduler_AddJob(t *testing.T) {
	scheduler := NewJobScheduler()

	validJob := JobConfig{
		Name:     "test-job",
		Enabled:  true,
		Schedule: "*/5 * * * * *",
		Action:   ActionSweep,
	}

	// 测试添加有效任务
	err := scheduler.AddJob(validJob)
	assert.NoError(t, err)

	// 验证任务已添加
	job, err := scheduler.GetJob("test-job")
	assert.NoError(t, err)
	assert.Equal(t, "test-job", job.Config.Name)
	assert.Equal(t, JobStatusPending, job.Status)

	// 测试添加重复任务
	err = scheduler.AddJob(validJob)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "任务已存在")

	// 测试添加无效任务
	invalidJob := JobConfig{
		Name:     "invalid-job",
		Enabled:  true,
		Schedule: "invalid-cron",
		Action:   ActionSweep,
	}

	err = scheduler.AddJob(invalidJob)
	assert.Error(t, err)
}

func TestJobScheduler_RemoveJob(t *testing.T) {
	scheduler := NewJobScheduler()

	// 添加测试任务
	job := JobConfig{
		Name:     "test-job",
		Enabled:  true,
		Schedule: "*/5 * * * * *",
		Action:   ActionSweep,
	}

	err := scheduler.AddJob(job)
	require.NoError(t, err)

	// 测试移除存在的任务
	err = scheduler.RemoveJob("test-job")
	assert.NoError(t, err)

	// 验证任务已移除
	_, err = scheduler.GetJob("test-job")
	assert.Error(t, err)

	// 测试移除不存在的任务
	err = scheduler.RemoveJob("non-existent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "任务不存在")
}

func TestJobScheduler_GetAllJobs(t *testing.T) {
	scheduler := NewJobScheduler()

	// 初始状态应该没有任务
	jobs := scheduler.GetAllJobs()
	assert.Len(t, jobs, 0)

	// 添加几个任务
	for i := 0; i < 3; i++ {
		job := JobConfig{
			Name:     fmt.Sprintf("test-job-%d", i),
			Enabled:  true,
			Schedule: "*/5 * * * * *",
			Action:   ActionSweep,
		}
		err := scheduler.AddJob(job)
		require.NoError(t, err)
	}

	// 验证返回所有任务
	jobs = scheduler.GetAllJobs()
	assert.Len(t, jobs, 3)

	// 验证返回的是副本，不会影响原始数据
	jobs[0].Status = JobStatusError
	originalJob, err := scheduler.GetJob("test-job-0")
	require.NoError(t, err)
	assert.NotEqual(t, JobStatusError, originalJob.Status)
}

func TestJobScheduler_RunJob(t *testing.T) {
	scheduler := NewJobScheduler()
	executor := &MockJobExecutor{}
	scheduler.SetExecutor(executor)

	// 添加测试任务
	job := JobConfig{
		Name:     "test-job",
		Enabled:  true,
		Schedule: "*/5 * * * * *",
		Action:   ActionSweep,
	}

	err := scheduler.AddJob(job)
	require.NoError(t, err)

	// 测试手动执行任务
	err = scheduler.RunJob("test-job")
	assert.NoError(t, err)

	// 等待任务执行完成
	assert.Eventually(t, func() bool {
		return len(executor.executed()) > 0
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, executor.executed(), "test-job")

	// 测试执行不存在的任务
	err = scheduler.RunJob("non-existent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "任务不存在")

	// 测试执行禁用的任务
	disabledJob := JobConfig{
		Name:     "disabled-job",
		Enabled:  false,
		Schedule: "*/5 * * * * *",
		Action:   ActionSweep,
	}

	err = scheduler.AddJob(disabledJob)
	require.NoError(t, err)

	err = scheduler.RunJob("disabled-job")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "任务已禁用")
}

func TestJobScheduler_StartStop(t *testing.T) {
	scheduler := NewJobScheduler()
	executor := &MockJobExecutor{}
	scheduler.SetExecutor(executor)

	// 测试启动调度器
	err := scheduler.Start()
	assert.NoError(t, err)

	// 测试停止调度器
	err = scheduler.Stop()
	assert.NoError(t, err)

	// 测试没有执行器时启动
	scheduler2 := NewJobScheduler()
	err = scheduler2.Start()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "任务执行器未设置")
}

func TestJobScheduler_validateJobConfig(t *testing.T) {
	scheduler := NewJobScheduler()

	tests := []struct {
		name        string
		config      JobConfig
		expectError bool
	}{
		{
			name: "有效配置",
			config: JobConfig{
				Name:     "valid-job",
				Schedule: "*/5 * * * * *",
				Action:   ActionSweep,
			},
			expectError: false,
		},
		{
			name: "缺少任务名称",
			config: JobConfig{
				Name:     "",
				Schedule: "*/5 * * * * *",
				Action:   ActionSweep,
			},
			expectError: true,
		},
		{
			name: "缺少调度表达式",
			config: JobConfig{
				Name:     "test-job",
				Schedule: "",
				Action:   ActionSweep,
			},
			expectError: true,
		},
		{
			name: "无效的调度表达式",
			config: JobConfig{
				Name:     "test-job",
				Schedule: "invalid-cron",
				Action:   ActionSweep,
			},
			expectError: true,
		},
		{
			name: "缺少维护动作",
			config: JobConfig{
				Name:     "test-job",
				Schedule: "*/5 * * * * *",
				Action:   "",
			},
			expectError: true,
		},
		{
			name: "未知的维护动作",
			config: JobConfig{
				Name:     "test-job",
				Schedule: "*/5 * * * * *",
				Action:   "defragment",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := scheduler.validateJobConfig(tt.config)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaintenanceExecutor_Sweep(t *testing.T) {
	c := cache.NewVeloxCache[string](cache.Config{Name: "sweep-test", MaxSize: 100})
	defer c.Dispose()

	c.Put("fresh", "stays")
	c.Put("short-1", "gone", cache.WithTTL(10*time.Millisecond))
	c.Put("short-2", "gone", cache.WithTTL(10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	executor := NewMaintenanceExecutor()
	executor.RegisterTarget(c)

	job := &Job{Config: JobConfig{Name: "sweep", Action: ActionSweep}}
	err := executor.Execute(context.Background(), job)
	require.NoError(t, err)

	// 过期条目被清除，未过期条目保留
	assert.Equal(t, 1, c.Size())
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestMaintenanceExecutor_ResetStats(t *testing.T) {
	c := cache.NewVeloxCache[string](cache.Config{Name: "reset-test", MaxSize: 100})
	defer c.Dispose()

	c.Put("k", "v")
	c.Get("k")
	c.Get("missing")
	require.Equal(t, int64(1), c.Stats().Hits)

	executor := NewMaintenanceExecutor()
	executor.RegisterTarget(c)

	// 指定目标执行重置
	job := &Job{Config: JobConfig{Name: "reset", Action: ActionResetStats, Target: "reset-test"}}
	err := executor.Execute(context.Background(), job)
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
}

func TestMaintenanceExecutor_StatsReport(t *testing.T) {
	c := cache.NewVeloxCache[string](cache.Config{Name: "report-test", MaxSize: 100})
	defer c.Dispose()

	c.Put("k", "v")
	c.Get("k")

	executor := NewMaintenanceExecutor()
	executor.RegisterTarget(c)

	job := &Job{Config: JobConfig{Name: "report", Action: ActionStatsReport}}
	err := executor.Execute(context.Background(), job)
	assert.NoError(t, err)
}

func TestMaintenanceExecutor_TargetResolution(t *testing.T) {
	executor := NewMaintenanceExecutor()

	// 没有注册任何目标
	job := &Job{Config: JobConfig{Name: "sweep", Action: ActionSweep}}
	err := executor.Execute(context.Background(), job)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "没有已注册的维护目标")

	c := cache.NewVeloxCache[string](cache.Config{Name: "velox", MaxSize: 10})
	defer c.Dispose()
	executor.RegisterTarget(c)

	// 指定了未注册的目标
	job = &Job{Config: JobConfig{Name: "sweep", Action: ActionSweep, Target: "unknown"}}
	err = executor.Execute(context.Background(), job)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "维护目标未注册")

	// 注销后再次执行
	assert.Equal(t, []string{"velox"}, executor.TargetNames())
	executor.UnregisterTarget("velox")
	assert.Empty(t, executor.TargetNames())
}

func TestJobScheduler_Integration(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "integration-test.yaml")

	configYAML := `
jobs:
  - name: "integration-sweep"
    enabled: true
    schedule: "*/1 * * * * *"  # 每秒执行一次
    action: "sweep"
`

	err := os.WriteFile(configPath, []byte(configYAML), 0644)
	require.NoError(t, err)

	// 创建调度器和执行器
	scheduler := NewJobScheduler()
	executor := &MockJobExecutor{}
	scheduler.SetExecutor(executor)

	// 加载配置
	err = scheduler.LoadConfig(configPath)
	require.NoError(t, err)

	// 验证任务已加载
	jobs := scheduler.GetAllJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "integration-sweep", jobs[0].Config.Name)
	assert.True(t, jobs[0].Config.Enabled)

	// 启动调度器
	err = scheduler.Start()
	require.NoError(t, err)

	// 等待任务执行几次
	time.Sleep(2500 * time.Millisecond)

	// 停止调度器
	err = scheduler.Stop()
	require.NoError(t, err)

	// 验证任务已执行
	executed := executor.executed()
	assert.True(t, len(executed) >= 2, "任务应该至少执行2次")

	for _, executedJob := range executed {
		assert.Equal(t, "integration-sweep", executedJob)
	}

	// 验证任务状态
	job, err := scheduler.GetJob("integration-sweep")
	require.NoError(t, err)
	assert.True(t, job.RunCount >= 2, "运行次数应该至少为2")
	assert.NotNil(t, job.LastRun)
}
