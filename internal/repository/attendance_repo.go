package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"virtual-attendance/internal/model"
)

// AttendanceFilter 签到记录查询条件，零值字段不参与过滤
type AttendanceFilter struct {
	SessionID string
	StudentID string
	Round     int
}

// AttendanceRepository 签到记录数据访问接口
type AttendanceRepository interface {
	// Upsert 单条 INSERT ... ON CONFLICT (session_id, student_id, round_no) DO UPDATE
	Upsert(ctx context.Context, record *model.AttendanceRecord) error
	GetByKey(ctx context.Context, key model.AttendanceKey) (*model.AttendanceRecord, error)
	List(ctx context.Context, filter AttendanceFilter) ([]model.AttendanceRecord, error)
	// FindDuplicateKeys 返回 after 之后（不含）存在多行的唯一键，按键升序，最多 limit 个
	FindDuplicateKeys(ctx context.Context, after *model.AttendanceKey, limit int) ([]model.Violation, error)
	// ListByKey 按审计保留顺序返回同键全部行：scan_count 降序、recorded_at 降序、record_id 升序
	ListByKey(ctx context.Context, key model.AttendanceKey) ([]model.AttendanceRecord, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

type attendanceRepo struct {
	db *gorm.DB
}

func NewAttendanceRepo(db *gorm.DB) AttendanceRepository {
	return &attendanceRepo{db: db}
}

var attendanceKeyColumns = []clause.Column{
	{Name: "session_id"},
	{Name: "student_id"},
	{Name: "round_no"},
}

func (r *attendanceRepo) Upsert(ctx context.Context, record *model.AttendanceRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: attendanceKeyColumns,
			DoUpdates: clause.Assignments(map[string]interface{}{
				"status":      gorm.Expr("excluded.status"),
				"recorded_at": gorm.Expr("excluded.recorded_at"),
				"source":      gorm.Expr("excluded.source"),
				"recorded_by": gorm.Expr("excluded.recorded_by"),
				"latitude":    gorm.Expr("COALESCE(excluded.latitude, attendance_records.latitude)"),
				"longitude":   gorm.Expr("COALESCE(excluded.longitude, attendance_records.longitude)"),
				"scan_count":  gorm.Expr("attendance_records.scan_count + 1"),
			}),
		}).
		Create(record).Error
}

func (r *attendanceRepo) GetByKey(ctx context.Context, key model.AttendanceKey) (*model.AttendanceRecord, error) {
	var record model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND student_id = ? AND round_no = ?", key.SessionID, key.StudentID, key.Round).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *attendanceRepo) List(ctx context.Context, filter AttendanceFilter) ([]model.AttendanceRecord, error) {
	query := r.db.WithContext(ctx).Model(&model.AttendanceRecord{})
	if filter.SessionID != "" {
		query = query.Where("session_id = ?", filter.SessionID)
	}
	if filter.StudentID != "" {
		query = query.Where("student_id = ?", filter.StudentID)
	}
	if filter.Round > 0 {
		query = query.Where("round_no = ?", filter.Round)
	}

	var records []model.AttendanceRecord
	err := query.Order("student_id ASC, round_no ASC, record_id ASC").Find(&records).Error
	return records, err
}

type duplicateRow struct {
	SessionID string
	StudentID string
	RoundNo   int
	RowCount  int
}

func (r *attendanceRepo) FindDuplicateKeys(ctx context.Context, after *model.AttendanceKey, limit int) ([]model.Violation, error) {
	query := r.db.WithContext(ctx).
		Model(&model.AttendanceRecord{}).
		Select("session_id, student_id, round_no, COUNT(*) AS row_count")
	if after != nil {
		query = query.Where("(session_id, student_id, round_no) > (?, ?, ?)", after.SessionID, after.StudentID, after.Round)
	}

	var rows []duplicateRow
	err := query.
		Group("session_id, student_id, round_no").
		Having("COUNT(*) > 1").
		Order("session_id ASC, student_id ASC, round_no ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	violations := make([]model.Violation, 0, len(rows))
	for _, row := range rows {
		violations = append(violations, model.Violation{
			AttendanceKey: model.AttendanceKey{SessionID: row.SessionID, StudentID: row.StudentID, Round: row.RoundNo},
			Rows:          row.RowCount,
		})
	}
	return violations, nil
}

func (r *attendanceRepo) ListByKey(ctx context.Context, key model.AttendanceKey) ([]model.AttendanceRecord, error) {
	var records []model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND student_id = ? AND round_no = ?", key.SessionID, key.StudentID, key.Round).
		Order("scan_count DESC, recorded_at DESC, record_id ASC").
		Find(&records).Error
	return records, err
}

func (r *attendanceRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Where("record_id IN ?", ids).
		Delete(&model.AttendanceRecord{})
	return result.RowsAffected, result.Error
}
