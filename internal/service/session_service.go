package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"virtual-attendance/config"
	"virtual-attendance/internal/dto"
	"virtual-attendance/internal/model"
	"virtual-attendance/internal/repository"
	pkgerrors "virtual-attendance/pkg/errors"
	"virtual-attendance/pkg/metrics"
	"virtual-attendance/pkg/redis"
)

// ── 课程会话模块业务错误 ──

var (
	ErrSessionNotFound      = pkgerrors.Wrap(pkgerrors.ErrNotFound, "课程会话不存在")
	ErrSessionAlreadyClosed = pkgerrors.Wrap(pkgerrors.ErrState, "课程会话已关闭")
	ErrCourseNotFound       = pkgerrors.Wrap(pkgerrors.ErrValidation, "课程不存在")
	ErrInvalidSchedule      = pkgerrors.Wrap(pkgerrors.ErrValidation, "日期或时间格式无效")
	ErrInvalidBroadcast     = pkgerrors.Wrap(pkgerrors.ErrValidation, "二维码有效时长必须大于 0")
	ErrInvalidMaxCount      = pkgerrors.Wrap(pkgerrors.ErrValidation, "最大轮次超出允许范围")
)

// sessionMutationAttempts 会话乐观锁更新的最大尝试次数
const sessionMutationAttempts = 3

// secretBytes 会话密钥熵（256 bit）
const secretBytes = 32

// SecretRotation 密钥轮换结果
type SecretRotation struct {
	SessionID string
	Secret    string
	Round     int
	MaxCount  int
	ExpiresAt time.Time
}

// SessionService 课程会话业务接口
//
// 状态机：created → open(r, s) → open(r+1, s') → … → closed（终态）
//   - RotateSecret 在 current_round=0 时同时开启第 1 轮
//   - AdvanceRound 递增轮次并在同一次条件更新中轮换密钥
//   - 所有变更按 version 做 CAS，冲突时重新读取并重放
type SessionService interface {
	Open(ctx context.Context, req *dto.OpenSessionRequest, callerID string) (*dto.SessionResponse, error)
	Get(ctx context.Context, id string) (*dto.SessionResponse, error)
	RotateSecret(ctx context.Context, id string, callerID string) (*SecretRotation, error)
	Close(ctx context.Context, id string, callerID string) error
	AdvanceRound(ctx context.Context, id string, callerID string) (*SecretRotation, error)
	CurrentRound(ctx context.Context, id string) (int, error)
	// Snapshot 扫码热路径读取的会话快照，优先 Redis
	Snapshot(ctx context.Context, id string) (*model.SessionSnapshot, error)
}

type sessionService struct {
	repo    *repository.Repository
	cfg     *config.AttendanceConfig
	cache   *snapshotCache
	metrics *metrics.Metrics
	loc     *time.Location
	pepper  []byte
	now     Clock
	logger  *zap.Logger
}

// NewSessionService 创建 SessionService 实例
func NewSessionService(
	cfg *config.Config,
	repo *repository.Repository,
	rdb *redis.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) SessionService {
	return &sessionService{
		repo:    repo,
		cfg:     &cfg.Attendance,
		cache:   newSnapshotCache(rdb, cfg.Attendance.SnapshotTTL, logger),
		metrics: m,
		loc:     loadLocation(cfg.Database.Timezone, logger),
		pepper:  []byte(cfg.Auth.QRSigningKey),
		now:     time.Now,
		logger:  logger,
	}
}

func loadLocation(name string, logger *zap.Logger) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("时区无效，使用 UTC", zap.String("timezone", name), zap.Error(err))
		return time.UTC
	}
	return loc
}

// ────────────────────── Open ──────────────────────

func (s *sessionService) Open(ctx context.Context, req *dto.OpenSessionRequest, callerID string) (*dto.SessionResponse, error) {
	date, err := time.ParseInLocation(model.DateLayout, req.Date, time.UTC)
	if err != nil {
		return nil, ErrInvalidSchedule
	}
	if len(req.ScheduledTime) != len(model.TimeLayout) {
		return nil, ErrInvalidSchedule
	}
	if _, err := time.Parse(model.TimeLayout, req.ScheduledTime); err != nil {
		return nil, ErrInvalidSchedule
	}

	broadcast := s.cfg.DefaultBroadcastDuration
	if req.BroadcastDuration != nil {
		broadcast = *req.BroadcastDuration
	}
	if broadcast <= 0 {
		return nil, ErrInvalidBroadcast
	}
	maxCount := s.cfg.DefaultMaxCount
	if req.MaxCount != nil {
		maxCount = *req.MaxCount
	}
	if maxCount < 1 || maxCount > s.cfg.MaxCountLimit {
		return nil, ErrInvalidMaxCount
	}

	sctx, cancel := withStorageTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	if _, err := s.repo.Course.GetByID(sctx, req.CourseID); err != nil {
		if isNotFound(err) {
			return nil, ErrCourseNotFound
		}
		s.logger.Error("查询课程失败", zap.String("course_id", req.CourseID), zap.Error(err))
		return nil, storageError(err)
	}

	session := &model.ClassSession{
		CourseID:          req.CourseID,
		SessionDate:       date,
		ScheduledTime:     req.ScheduledTime,
		Topic:             req.Topic,
		Status:            model.SessionCreated,
		BroadcastDuration: broadcast,
		MaxCount:          maxCount,
		Version:           1,
	}
	session.CreatedBy = &callerID
	session.UpdatedBy = &callerID

	if err := s.repo.Session.Create(sctx, session); err != nil {
		s.logger.Error("创建课程会话失败", zap.String("course_id", req.CourseID), zap.Error(err))
		return nil, storageError(err)
	}

	s.logger.Info("课程会话已创建",
		zap.String("session_id", session.SessionID),
		zap.String("course_id", session.CourseID),
		zap.Int("max_count", session.MaxCount),
	)
	return s.toSessionResponse(session), nil
}

// ────────────────────── Get ──────────────────────

func (s *sessionService) Get(ctx context.Context, id string) (*dto.SessionResponse, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.toSessionResponse(session), nil
}

// ────────────────────── RotateSecret ──────────────────────

func (s *sessionService) RotateSecret(ctx context.Context, id string, callerID string) (*SecretRotation, error) {
	session, err := s.mutate(ctx, id, callerID, func(session *model.ClassSession, now time.Time) error {
		if session.Status == model.SessionClosed {
			return ErrSessionAlreadyClosed
		}
		if session.CurrentRound == 0 {
			session.CurrentRound = 1
		}
		return s.applyNewSecret(session, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncRotation()
	s.logger.Info("会话密钥已轮换", zap.String("session_id", id), zap.Int("round", session.CurrentRound))
	return toRotation(session), nil
}

// ────────────────────── Close ──────────────────────

func (s *sessionService) Close(ctx context.Context, id string, callerID string) error {
	_, err := s.mutate(ctx, id, callerID, func(session *model.ClassSession, now time.Time) error {
		if session.Status == model.SessionClosed {
			return errNoChange
		}
		session.Status = model.SessionClosed
		session.CurrentSecret = ""
		session.PreviousSecret = ""
		session.SecretExpiresAt = nil
		session.ClosedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("课程会话已关闭", zap.String("session_id", id))
	return nil
}

// ────────────────────── AdvanceRound ──────────────────────

func (s *sessionService) AdvanceRound(ctx context.Context, id string, callerID string) (*SecretRotation, error) {
	session, err := s.mutate(ctx, id, callerID, func(session *model.ClassSession, now time.Time) error {
		if session.Status == model.SessionClosed {
			return ErrSessionAlreadyClosed
		}
		if session.CurrentRound >= session.MaxCount {
			return pkgerrors.ErrRoundLimitReached
		}
		session.CurrentRound++
		return s.applyNewSecret(session, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncRotation()
	s.logger.Info("已推进到新轮次",
		zap.String("session_id", id),
		zap.Int("round", session.CurrentRound),
		zap.Int("max_count", session.MaxCount),
	)
	return toRotation(session), nil
}

// ────────────────────── CurrentRound / Snapshot ──────────────────────

func (s *sessionService) CurrentRound(ctx context.Context, id string) (int, error) {
	snap, err := s.Snapshot(ctx, id)
	if err != nil {
		return 0, err
	}
	return snap.CurrentRound, nil
}

func (s *sessionService) Snapshot(ctx context.Context, id string) (*model.SessionSnapshot, error) {
	if !validID(id) {
		return nil, ErrSessionNotFound
	}
	if snap, ok := s.cache.get(ctx, id); ok {
		return snap, nil
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := session.Snapshot(s.loc, s.pepper)
	s.cache.put(ctx, snap)
	return snap, nil
}

// ── 内部实现 ──

// errNoChange mutate 回调返回时跳过写入且不视为错误
var errNoChange = errors.New("no change")

func (s *sessionService) load(ctx context.Context, id string) (*model.ClassSession, error) {
	if !validID(id) {
		return nil, ErrSessionNotFound
	}
	sctx, cancel := withStorageTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	session, err := s.repo.Session.GetByID(sctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSessionNotFound
		}
		s.logger.Error("查询课程会话失败", zap.String("session_id", id), zap.Error(err))
		return nil, storageError(err)
	}
	return session, nil
}

// mutate 读取 → 应用 fn → 按 version 条件写回；版本冲突时重新读取重放，最多 sessionMutationAttempts 次
func (s *sessionService) mutate(
	ctx context.Context,
	id, callerID string,
	fn func(session *model.ClassSession, now time.Time) error,
) (*model.ClassSession, error) {
	var lastErr error
	for attempt := 1; attempt <= sessionMutationAttempts; attempt++ {
		session, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(session, s.now()); err != nil {
			if errors.Is(err, errNoChange) {
				return session, nil
			}
			return nil, err
		}
		session.UpdatedBy = &callerID

		sctx, cancel := withStorageTimeout(ctx, s.cfg.StorageTimeout)
		err = s.repo.Session.Update(sctx, session)
		cancel()
		if err == nil {
			s.cache.put(ctx, session.Snapshot(s.loc, s.pepper))
			return session, nil
		}

		lastErr = storageError(err)
		if !errors.Is(lastErr, pkgerrors.ErrStorageConflict) {
			s.logger.Error("更新课程会话失败", zap.String("session_id", id), zap.Error(err))
			return nil, lastErr
		}
		s.logger.Debug("会话版本冲突，重试", zap.String("session_id", id), zap.Int("attempt", attempt))
	}

	s.logger.Warn("会话更新冲突重试耗尽", zap.String("session_id", id), zap.Error(lastErr))
	return nil, exhausted(lastErr)
}

func (s *sessionService) applyNewSecret(session *model.ClassSession, now time.Time) error {
	secret, err := newSecret()
	if err != nil {
		s.logger.Error("生成会话密钥失败", zap.Error(err))
		return err
	}
	expires := now.Add(time.Duration(session.BroadcastDuration) * time.Second)
	// 跨轮次时保留上一轮密钥；同轮次轮换只替换当前密钥
	if session.CurrentSecret != "" && session.SecretRound != session.CurrentRound {
		session.PreviousSecret = session.CurrentSecret
	}
	session.Status = model.SessionOpen
	session.CurrentSecret = secret
	session.SecretRound = session.CurrentRound
	session.SecretExpiresAt = &expires
	return nil
}

// newSecret 生成 256 bit 随机密钥（base64url）
func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("读取随机数失败: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func toRotation(session *model.ClassSession) *SecretRotation {
	r := &SecretRotation{
		SessionID: session.SessionID,
		Secret:    session.CurrentSecret,
		Round:     session.CurrentRound,
		MaxCount:  session.MaxCount,
	}
	if session.SecretExpiresAt != nil {
		r.ExpiresAt = *session.SecretExpiresAt
	}
	return r
}

func (s *sessionService) toSessionResponse(session *model.ClassSession) *dto.SessionResponse {
	resp := &dto.SessionResponse{
		ID:                session.SessionID,
		CourseID:          session.CourseID,
		Date:              session.SessionDate.Format(model.DateLayout),
		ScheduledTime:     session.ScheduledTime,
		Topic:             session.Topic,
		Status:            string(session.Status),
		CurrentRound:      session.CurrentRound,
		MaxCount:          session.MaxCount,
		BroadcastDuration: session.BroadcastDuration,
		CreatedAt:         session.CreatedAt.Format(time.RFC3339),
	}
	if session.SecretExpiresAt != nil {
		resp.SecretExpiresAt = session.SecretExpiresAt.Format(time.RFC3339)
	}
	if session.ClosedAt != nil {
		resp.ClosedAt = session.ClosedAt.Format(time.RFC3339)
	}
	return resp
}
