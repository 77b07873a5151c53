package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"veloxcache/pkg/logger"
)

// MaintenanceExecutor 维护任务执行器，将维护动作分发到已注册的缓存
type MaintenanceExecutor struct {
	mu      sync.RWMutex
	targets map[string]MaintenanceTarget
	log     *logrus.Entry
}

var _ JobExecutor = (*MaintenanceExecutor)(nil)

// NewMaintenanceExecutor 创建维护任务执行器
func NewMaintenanceExecutor() *MaintenanceExecutor {
	return &MaintenanceExecutor{
		targets: make(map[string]MaintenanceTarget),
		log:     logger.WithComponent("maintenance"),
	}
}

// RegisterTarget 注册缓存实例，同名注册会覆盖旧实例
func (e *MaintenanceExecutor) RegisterTarget(target MaintenanceTarget) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.targets[target.Name()] = target
}

// UnregisterTarget 注销缓存实例
func (e *MaintenanceExecutor) UnregisterTarget(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.targets, name)
}

// TargetNames 返回所有已注册的缓存名称
func (e *MaintenanceExecutor) TargetNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.targets))
	for name := range e.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute 执行任务配置的维护动作
func (e *MaintenanceExecutor) Execute(ctx context.Context, job *Job) error {
	targets, err := e.resolveTargets(job.Config.Target)
	if err != nil {
		return err
	}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.runAction(job.Config.Action, target); err != nil {
			return err
		}
	}

	return nil
}

// resolveTargets 根据任务配置解析目标缓存，为空则作用于全部
func (e *MaintenanceExecutor) resolveTargets(name string) ([]MaintenanceTarget, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if name != "" {
		target, ok := e.targets[name]
		if !ok {
			return nil, fmt.Errorf("维护目标未注册: %s", name)
		}
		return []MaintenanceTarget{target}, nil
	}

	if len(e.targets) == 0 {
		return nil, fmt.Errorf("没有已注册的维护目标")
	}

	targets := make([]MaintenanceTarget, 0, len(e.targets))
	for _, target := range e.targets {
		targets = append(targets, target)
	}
	return targets, nil
}

// runAction 对单个缓存执行维护动作
func (e *MaintenanceExecutor) runAction(action Action, target MaintenanceTarget) error {
	switch action {
	case ActionSweep:
		removed := target.RemoveExpired()
		if removed > 0 {
			e.log.Infof("swept %d expired entries from cache %s", removed, target.Name())
		}

	case ActionStatsReport:
		stats := target.Stats()
		e.log.WithFields(logrus.Fields{
			"cache":       target.Name(),
			"entries":     target.Size(),
			"hits":        stats.Hits,
			"misses":      stats.Misses,
			"evictions":   stats.Evictions,
			"expirations": stats.Expirations,
			"writes":      stats.Writes,
			"hit_rate":    fmt.Sprintf("%.4f", stats.HitRate()),
		}).Info("cache stats report")

	case ActionResetStats:
		target.ResetStats()
		e.log.Infof("reset stats for cache %s", target.Name())

	default:
		return fmt.Errorf("未知的维护动作: %s", action)
	}

	return nil
}
