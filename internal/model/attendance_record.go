package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AttendanceStatus 出勤状态
type AttendanceStatus string

const (
	StatusAttended AttendanceStatus = "attended"
	StatusAbsent   AttendanceStatus = "absent"
	StatusLate     AttendanceStatus = "late"
	StatusExcused  AttendanceStatus = "excused"
)

// Valid 是否为已知状态
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusAttended, StatusAbsent, StatusLate, StatusExcused:
		return true
	}
	return false
}

// RecordSource 记录来源
type RecordSource string

const (
	SourceScan   RecordSource = "scan"
	SourceManual RecordSource = "manual"
)

// AttendanceRecord 签到记录表 — 对应 attendance_records
// (session_id, student_id, round_no) 唯一
type AttendanceRecord struct {
	RecordID   string           `gorm:"type:uuid;primaryKey"                                         json:"record_id"`
	SessionID  string           `gorm:"type:uuid;not null;uniqueIndex:idx_attendance_key,priority:1" json:"session_id"`
	StudentID  string           `gorm:"type:uuid;not null;uniqueIndex:idx_attendance_key,priority:2" json:"student_id"`
	RoundNo    int              `gorm:"not null;uniqueIndex:idx_attendance_key,priority:3"           json:"round"`
	Status     AttendanceStatus `gorm:"type:varchar(20);not null"                                    json:"status"`
	ScanCount  int              `gorm:"not null;default:1"                                           json:"count"`
	RecordedAt time.Time        `gorm:"not null"                                                     json:"recorded_at"`
	Latitude   *float64         `gorm:"type:double precision"                                        json:"latitude,omitempty"`
	Longitude  *float64         `gorm:"type:double precision"                                        json:"longitude,omitempty"`
	Source     RecordSource     `gorm:"type:varchar(10);not null;default:'scan'"                     json:"source"`
	RecordedBy *string          `gorm:"type:uuid"                                                    json:"recorded_by,omitempty"`
	CreatedAt  time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"                           json:"created_at"`
}

// TableName 指定表名
func (AttendanceRecord) TableName() string { return "attendance_records" }

// BeforeCreate 在应用侧生成主键
func (r *AttendanceRecord) BeforeCreate(_ *gorm.DB) error {
	if r.RecordID == "" {
		r.RecordID = uuid.NewString()
	}
	return nil
}

// Key 记录的唯一键
func (r *AttendanceRecord) Key() AttendanceKey {
	return AttendanceKey{SessionID: r.SessionID, StudentID: r.StudentID, Round: r.RoundNo}
}

// AttendanceKey (session, student, round) 唯一键
type AttendanceKey struct {
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
	Round     int    `json:"round"`
}

// Less 按 (session_id, student_id, round) 字典序比较，用于审计分页
func (k AttendanceKey) Less(o AttendanceKey) bool {
	if k.SessionID != o.SessionID {
		return k.SessionID < o.SessionID
	}
	if k.StudentID != o.StudentID {
		return k.StudentID < o.StudentID
	}
	return k.Round < o.Round
}

// Violation 同一唯一键下存在多条记录
type Violation struct {
	AttendanceKey
	Rows int `json:"rows"`
}
