package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"virtual-attendance/config"
	"virtual-attendance/internal/dto"
	"virtual-attendance/internal/service"
)

// runTimeout 单次审计的最长执行时间
const runTimeout = 10 * time.Minute

// AuditJob 定时一致性审计
// auto_repair 关闭时只统计重复键并告警，不修改数据
type AuditJob struct {
	audit      service.AuditService
	schedule   string
	autoRepair bool
	cron       *cron.Cron
	logger     *zap.Logger

	mu      sync.Mutex
	lastRun *dto.RepairSummary
}

// NewAuditJob 创建审计任务；同一时刻只允许一次审计在跑
func NewAuditJob(cfg *config.AuditorConfig, audit service.AuditService, logger *zap.Logger) *AuditJob {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &AuditJob{
		audit:      audit,
		schedule:   cfg.Cron,
		autoRepair: cfg.AutoRepair,
		cron:       cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger))),
		logger:     logger,
	}
}

// Start 注册调度并启动
func (j *AuditJob) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error("定时审计失败", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("注册审计任务失败: %w", err)
	}
	j.cron.Start()
	j.logger.Info("一致性审计任务已启动",
		zap.String("cron", j.schedule),
		zap.Bool("auto_repair", j.autoRepair),
	)
	return nil
}

// Stop 停止调度，返回的 ctx 在进行中的审计结束后关闭
func (j *AuditJob) Stop() context.Context {
	return j.cron.Stop()
}

// RunOnce 执行一次审计
func (j *AuditJob) RunOnce(ctx context.Context) (*dto.RepairSummary, error) {
	var (
		summary *dto.RepairSummary
		err     error
	)
	if j.autoRepair {
		summary, err = j.audit.RepairAll(ctx)
	} else {
		summary, err = j.count(ctx)
	}
	if err != nil {
		return summary, err
	}

	if summary.Violations > 0 && !j.autoRepair {
		j.logger.Warn("发现重复签到记录，未开启自动修复", zap.Int("violations", summary.Violations))
	}

	j.mu.Lock()
	j.lastRun = summary
	j.mu.Unlock()
	return summary, nil
}

// LastRun 最近一次成功审计的结果，尚未执行时为 nil
func (j *AuditJob) LastRun() *dto.RepairSummary {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}

func (j *AuditJob) count(ctx context.Context) (*dto.RepairSummary, error) {
	summary := &dto.RepairSummary{}
	for _, err := range j.audit.FindViolations(ctx, nil) {
		if err != nil {
			return summary, err
		}
		summary.Violations++
	}
	return summary, nil
}
