package service

import (
	"go.uber.org/zap"

	"virtual-attendance/config"
	"virtual-attendance/internal/repository"
	"virtual-attendance/pkg/metrics"
	"virtual-attendance/pkg/redis"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Session    SessionService
	Token      TokenService
	Attendance AttendanceService
	Audit      AuditService
}

// NewService 创建 Service 聚合；rdb 为 nil 时会话快照只走数据库
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	rdb *redis.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	sessions := NewSessionService(cfg, repo, rdb, m, logger)
	tokens := NewTokenService(cfg, sessions, logger)
	return &Service{
		Session:    sessions,
		Token:      tokens,
		Attendance: NewAttendanceService(cfg, repo, sessions, tokens, m, logger),
		Audit:      NewAuditService(cfg, repo, rdb, m, logger),
	}
}
