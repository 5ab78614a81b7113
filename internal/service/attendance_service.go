package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"virtual-attendance/config"
	"virtual-attendance/internal/dto"
	"virtual-attendance/internal/model"
	"virtual-attendance/internal/repository"
	pkgerrors "virtual-attendance/pkg/errors"
	"virtual-attendance/pkg/geo"
	"virtual-attendance/pkg/metrics"
)

// ── 签到模块业务错误 ──

var (
	ErrStudentNotFound  = pkgerrors.Wrap(pkgerrors.ErrNotFound, "学生不存在")
	ErrInvalidStatus    = pkgerrors.Wrap(pkgerrors.ErrValidation, "出勤状态无效")
	ErrLocationRequired = pkgerrors.Wrap(pkgerrors.ErrValidation, "该课程签到需要提交定位")
	ErrInvalidLocation  = pkgerrors.Wrap(pkgerrors.ErrValidation, "定位坐标无效")
)

// upsertAttempts 存储冲突时的最大尝试次数（首次 + 重试一次）
const upsertAttempts = 2

// RecordInput 签到写入参数，扫码与手动登记共用
type RecordInput struct {
	SessionID  string
	StudentID  string
	Round      int
	Status     model.AttendanceStatus
	Location   *geo.Point
	Source     model.RecordSource
	RecordedBy *string
}

// AttendanceService 签到记录业务接口
//
// 所有写入经 Record 汇入同一条 upsert：
//   - 唯一键 (session_id, student_id, round_no) 由存储层约束
//   - 重复提交走更新路径，不视为错误
//   - 存储冲突重试一次，仍失败返回 ErrStorageTimeout
type AttendanceService interface {
	Record(ctx context.Context, in *RecordInput) (*model.AttendanceRecord, error)
	Scan(ctx context.Context, req *dto.ScanRequest, studentID string) (*dto.AttendanceResponse, error)
	ManualRecord(ctx context.Context, req *dto.ManualRecordRequest, instructorID string) (*dto.AttendanceResponse, error)
	ListBySession(ctx context.Context, sessionID string, req *dto.AttendanceListRequest) ([]dto.AttendanceResponse, error)
}

type attendanceService struct {
	repo     *repository.Repository
	sessions SessionService
	tokens   TokenService
	cfg      *config.AttendanceConfig
	metrics  *metrics.Metrics
	now      Clock
	logger   *zap.Logger
}

// NewAttendanceService 创建 AttendanceService 实例
func NewAttendanceService(
	cfg *config.Config,
	repo *repository.Repository,
	sessions SessionService,
	tokens TokenService,
	m *metrics.Metrics,
	logger *zap.Logger,
) AttendanceService {
	return &attendanceService{
		repo:     repo,
		sessions: sessions,
		tokens:   tokens,
		cfg:      &cfg.Attendance,
		metrics:  m,
		now:      time.Now,
		logger:   logger,
	}
}

// ────────────────────── Record ──────────────────────

func (s *attendanceService) Record(ctx context.Context, in *RecordInput) (*model.AttendanceRecord, error) {
	if !in.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if in.Location != nil && !in.Location.Valid() {
		return nil, ErrInvalidLocation
	}

	snap, err := s.sessions.Snapshot(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureStudent(ctx, in.StudentID); err != nil {
		return nil, err
	}
	if in.Round < 1 || in.Round > snap.MaxCount {
		return nil, pkgerrors.ErrInvalidRound
	}

	if in.Source != model.SourceManual {
		if err := s.checkGeofence(ctx, snap.CourseID, in.Location); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		record, err := s.upsertOnce(ctx, in)
		if err == nil {
			return record, nil
		}

		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		lastErr = storageError(err)
		if !errors.Is(lastErr, pkgerrors.ErrStorageConflict) {
			s.logger.Error("写入签到记录失败",
				zap.String("session_id", in.SessionID),
				zap.String("student_id", in.StudentID),
				zap.Int("round", in.Round),
				zap.Error(err),
			)
			return nil, lastErr
		}
		if attempt < upsertAttempts {
			s.metrics.IncUpsertRetry()
			s.logger.Debug("签到写入冲突，重试", zap.String("session_id", in.SessionID), zap.Int("attempt", attempt))
		}
	}

	s.logger.Warn("签到写入冲突重试耗尽", zap.String("session_id", in.SessionID), zap.Error(lastErr))
	return nil, exhausted(lastErr)
}

// upsertOnce 在同一事务内执行 upsert 并按键读回最终行
func (s *attendanceService) upsertOnce(ctx context.Context, in *RecordInput) (*model.AttendanceRecord, error) {
	sctx, cancel := withStorageTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	record := &model.AttendanceRecord{
		SessionID:  in.SessionID,
		StudentID:  in.StudentID,
		RoundNo:    in.Round,
		Status:     in.Status,
		ScanCount:  1,
		RecordedAt: s.now(),
		Source:     in.Source,
		RecordedBy: in.RecordedBy,
	}
	if in.Location != nil {
		lat, lng := in.Location.Lat, in.Location.Lng
		record.Latitude, record.Longitude = &lat, &lng
	}

	start := time.Now()
	var canonical *model.AttendanceRecord
	err := s.repo.Transaction(sctx, func(tx *repository.Repository) error {
		if err := tx.Attendance.Upsert(sctx, record); err != nil {
			return err
		}
		got, err := tx.Attendance.GetByKey(sctx, record.Key())
		if err != nil {
			return err
		}
		canonical = got
		return nil
	})
	s.metrics.ObserveUpsert(time.Since(start))
	if err != nil {
		return nil, err
	}
	return canonical, nil
}

func (s *attendanceService) ensureStudent(ctx context.Context, studentID string) error {
	if !validID(studentID) {
		return ErrStudentNotFound
	}
	sctx, cancel := withStorageTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	user, err := s.repo.User.GetByID(sctx, studentID)
	if err != nil {
		if isNotFound(err) {
			return ErrStudentNotFound
		}
		s.logger.Error("查询学生失败", zap.String("student_id", studentID), zap.Error(err))
		return storageError(err)
	}
	if user.Role != model.RoleStudent {
		return ErrStudentNotFound
	}
	return nil
}

func (s *attendanceService) checkGeofence(ctx context.Context, courseID string, loc *geo.Point) error {
	sctx, cancel := withStorageTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	course, err := s.repo.Course.GetByID(sctx, courseID)
	if err != nil {
		if isNotFound(err) {
			return ErrCourseNotFound
		}
		s.logger.Error("查询课程失败", zap.String("course_id", courseID), zap.Error(err))
		return storageError(err)
	}

	center, radius, ok := course.Geofence(s.cfg.GeofenceRadiusM)
	if !ok {
		return nil
	}
	if loc == nil {
		return ErrLocationRequired
	}
	if d := geo.DistanceM(center, *loc); d > radius {
		return fmt.Errorf("%w: 距离教室 %.0f 米，允许范围 %.0f 米", pkgerrors.ErrOutOfRange, d, radius)
	}
	return nil
}

// ────────────────────── Scan ──────────────────────

func (s *attendanceService) Scan(ctx context.Context, req *dto.ScanRequest, studentID string) (*dto.AttendanceResponse, error) {
	now := s.now()

	token, err := s.tokens.Validate(ctx, req.Token, now)
	if err != nil {
		s.metrics.ObserveScan(scanResult(err))
		return nil, err
	}

	status := model.StatusAttended
	if s.cfg.LateAfter > 0 {
		snap, err := s.sessions.Snapshot(ctx, token.SessionID)
		if err != nil {
			s.metrics.ObserveScan(scanResult(err))
			return nil, err
		}
		if now.After(snap.StartsAt.Add(s.cfg.LateAfter)) {
			status = model.StatusLate
		}
	}

	var loc *geo.Point
	if req.Latitude != nil && req.Longitude != nil {
		loc = &geo.Point{Lat: *req.Latitude, Lng: *req.Longitude}
	}

	record, err := s.Record(ctx, &RecordInput{
		SessionID: token.SessionID,
		StudentID: studentID,
		Round:     token.Round,
		Status:    status,
		Location:  loc,
		Source:    model.SourceScan,
	})
	s.metrics.ObserveScan(scanResult(err))
	if err != nil {
		return nil, err
	}

	s.logger.Info("扫码签到成功",
		zap.String("session_id", record.SessionID),
		zap.String("student_id", record.StudentID),
		zap.Int("round", record.RoundNo),
		zap.Int("count", record.ScanCount),
	)
	return toAttendanceResponse(record), nil
}

// ────────────────────── ManualRecord ──────────────────────

func (s *attendanceService) ManualRecord(ctx context.Context, req *dto.ManualRecordRequest, instructorID string) (*dto.AttendanceResponse, error) {
	record, err := s.Record(ctx, &RecordInput{
		SessionID:  req.SessionID,
		StudentID:  req.StudentID,
		Round:      req.Round,
		Status:     model.AttendanceStatus(req.Status),
		Source:     model.SourceManual,
		RecordedBy: &instructorID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("手动登记出勤",
		zap.String("session_id", record.SessionID),
		zap.String("student_id", record.StudentID),
		zap.Int("round", record.RoundNo),
		zap.String("status", string(record.Status)),
		zap.String("instructor_id", instructorID),
	)
	return toAttendanceResponse(record), nil
}

// ────────────────────── ListBySession ──────────────────────

func (s *attendanceService) ListBySession(ctx context.Context, sessionID string, req *dto.AttendanceListRequest) ([]dto.AttendanceResponse, error) {
	if _, err := s.sessions.Snapshot(ctx, sessionID); err != nil {
		return nil, err
	}

	sctx, cancel := withStorageTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	records, err := s.repo.Attendance.List(sctx, repository.AttendanceFilter{
		SessionID: sessionID,
		StudentID: req.StudentID,
		Round:     req.Round,
	})
	if err != nil {
		s.logger.Error("查询签到记录失败", zap.String("session_id", sessionID), zap.Error(err))
		return nil, storageError(err)
	}

	result := make([]dto.AttendanceResponse, 0, len(records))
	for i := range records {
		result = append(result, *toAttendanceResponse(&records[i]))
	}
	return result, nil
}

// ── 辅助函数 ──

func scanResult(err error) string {
	switch {
	case err == nil:
		return metrics.ScanAccepted
	case errors.Is(err, pkgerrors.ErrForged):
		return metrics.ScanForged
	case errors.Is(err, pkgerrors.ErrExpired):
		return metrics.ScanExpired
	case errors.Is(err, pkgerrors.ErrSessionClosed):
		return metrics.ScanClosed
	case errors.Is(err, pkgerrors.ErrStaleRound):
		return metrics.ScanStaleRound
	case errors.Is(err, pkgerrors.ErrOutOfRange):
		return metrics.ScanOutOfRange
	case errors.Is(err, pkgerrors.ErrInvalidRound):
		return metrics.ScanInvalidRound
	default:
		return metrics.ScanError
	}
}

func toAttendanceResponse(r *model.AttendanceRecord) *dto.AttendanceResponse {
	return &dto.AttendanceResponse{
		ID:         r.RecordID,
		SessionID:  r.SessionID,
		StudentID:  r.StudentID,
		Round:      r.RoundNo,
		Status:     string(r.Status),
		Count:      r.ScanCount,
		RecordedAt: r.RecordedAt.Format(time.RFC3339),
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		Source:     string(r.Source),
		RecordedBy: r.RecordedBy,
	}
}
