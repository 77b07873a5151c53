package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"veloxcache/pkg/cache"
)

// Action 维护动作类型
type Action string

const (
	// ActionSweep 清除所有已过期的缓存条目
	ActionSweep Action = "sweep"
	// ActionStatsReport 输出缓存统计日志
	ActionStatsReport Action = "stats_report"
	// ActionResetStats 重置缓存统计计数
	ActionResetStats Action = "reset_stats"
)

// MaintenanceTarget 可被调度器维护的缓存实例
type MaintenanceTarget interface {
	// Name 返回缓存名称
	Name() string

	// RemoveExpired 清除已过期条目并返回清除数量
	RemoveExpired() int

	// Stats 返回统计快照
	Stats() cache.Stats

	// ResetStats 重置统计计数
	ResetStats()

	// Size 返回当前条目数
	Size() int
}

// JobConfig 定义单个维护任务的配置
type JobConfig struct {
	Name     string        `yaml:"name" json:"name"`
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Schedule string        `yaml:"schedule" json:"schedule"`
	Action   Action        `yaml:"action" json:"action"`
	Target   string        `yaml:"target,omitempty" json:"target,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// JobsConfig 定义整个任务配置文件结构
type JobsConfig struct {
	Jobs []JobConfig `yaml:"jobs" json:"jobs"`
}

// Job 表示一个运行中的任务
type Job struct {
	ID         string
	Config     JobConfig
	EntryID    cron.EntryID
	Status     JobStatus
	LastRun    *time.Time
	NextRun    *time.Time
	RunCount   int64
	ErrorCount int64
	LastError  error
}

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusStopped  JobStatus = "stopped"
	JobStatusError    JobStatus = "error"
	JobStatusDisabled JobStatus = "disabled"
)

// JobExecutor 任务执行器接口
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// JobScheduler 任务调度器接口
type JobScheduler interface {
	// 加载配置
	LoadConfig(configPath string) error

	// 启动调度器
	Start() error

	// 停止调度器
	Stop() error

	// 添加任务
	AddJob(config JobConfig) error

	// 移除任务
	RemoveJob(jobName string) error

	// 获取任务状态
	GetJob(jobName string) (*Job, error)

	// 获取所有任务
	GetAllJobs() []*Job

	// 手动执行任务
	RunJob(jobName string) error

	// 设置任务执行器
	SetExecutor(executor JobExecutor)
}
