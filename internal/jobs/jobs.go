package jobs

import (
	"context"
	"time"

	"paper_test_backend/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// 已交卷会话保留多久供学生查看结果
	finishedSessionRetention = 30 * time.Minute
	// 超过该时长的孤立暂存目录视为崩溃遗留
	stagingMaxAge = 6 * time.Hour

	sessionCleanupSpec = "@every 10m"
	limiterSweepSpec   = "@every 5m"
)

type TaskSweeper interface {
	CompleteOverdue(ctx context.Context) (int64, error)
}

type SessionJanitor interface {
	Prune(retention time.Duration) int
	CleanStaging(maxAge time.Duration) (int, error)
}

type LimiterSweeper interface {
	Sweep() int
}

// Scheduler 定时任务：逾期任务归档、会话清理、限流表清理
type Scheduler struct {
	cron     *cron.Cron
	tasks    TaskSweeper
	sessions SessionJanitor
	limiter  LimiterSweeper
}

func New(taskSweepSpec string, tasks TaskSweeper, sessions SessionJanitor, limiter LimiterSweeper) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		tasks:    tasks,
		sessions: sessions,
		limiter:  limiter,
	}

	jobs := []struct {
		spec string
		fn   func()
	}{
		{taskSweepSpec, s.SweepOverdueTasks},
		{sessionCleanupSpec, s.CleanSessions},
		{limiterSweepSpec, s.SweepLimiter},
	}
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, job.fn); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Log.Info("cron jobs scheduled", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		logger.Log.Warn("cron jobs still running at shutdown")
	}
}

func (s *Scheduler) SweepOverdueTasks() {
	if s.tasks == nil {
		return
	}
	n, err := s.tasks.CompleteOverdue(context.Background())
	if err != nil {
		logger.Log.Error("overdue task sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Log.Info("overdue tasks completed", zap.Int64("count", n))
	}
}

func (s *Scheduler) CleanSessions() {
	if s.sessions == nil {
		return
	}
	pruned := s.sessions.Prune(finishedSessionRetention)
	removed, err := s.sessions.CleanStaging(stagingMaxAge)
	if err != nil {
		logger.Log.Error("staging cleanup failed", zap.Error(err))
	}
	if pruned > 0 || removed > 0 {
		logger.Log.Info("session cleanup", zap.Int("prunedSessions", pruned), zap.Int("removedStaging", removed))
	}
}

func (s *Scheduler) SweepLimiter() {
	if s.limiter == nil {
		return
	}
	if n := s.limiter.Sweep(); n > 0 {
		logger.Log.Debug("rate limiter entries swept", zap.Int("count", n))
	}
}
