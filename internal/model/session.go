package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"virtual-attendance/pkg/qrtoken"
)

// SessionStatus 课程会话状态
type SessionStatus string

const (
	SessionCreated SessionStatus = "created"
	SessionOpen    SessionStatus = "open"
	SessionClosed  SessionStatus = "closed"
)

// 日期与时间格式
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ClassSession 课程会话表 — 对应 class_sessions
// CurrentSecret 仅在 status=open 时非空；CurrentRound 取值 0..MaxCount
// PreviousSecret 为上一轮的密钥，仅用于把上一轮的真实令牌识别为过时轮次
type ClassSession struct {
	SessionID         string        `gorm:"type:uuid;primaryKey"                        json:"session_id"`
	CourseID          string        `gorm:"type:uuid;not null;index"                    json:"course_id"`
	SessionDate       time.Time     `gorm:"type:date;not null"                          json:"session_date"`
	ScheduledTime     string        `gorm:"type:varchar(5);not null"                    json:"scheduled_time"`
	Topic             string        `gorm:"type:varchar(255);not null;default:''"       json:"topic"`
	Status            SessionStatus `gorm:"type:varchar(20);not null;default:'created'" json:"status"`
	CurrentSecret     string        `gorm:"type:varchar(128);not null;default:''"       json:"-"`
	SecretRound       int           `gorm:"not null;default:0"                          json:"-"`
	PreviousSecret    string        `gorm:"type:varchar(128);not null;default:''"       json:"-"`
	SecretExpiresAt   *time.Time    `                                                   json:"secret_expires_at,omitempty"`
	CurrentRound      int           `gorm:"not null;default:0"                          json:"current_round"`
	BroadcastDuration int           `gorm:"not null"                                    json:"broadcast_duration"`
	MaxCount          int           `gorm:"not null"                                    json:"max_count"`
	ClosedAt          *time.Time    `                                                   json:"closed_at,omitempty"`
	Version           int           `gorm:"not null;default:1"                          json:"version"`
	BaseModel
}

// TableName 指定表名
func (ClassSession) TableName() string { return "class_sessions" }

// BeforeCreate 在应用侧生成主键
func (s *ClassSession) BeforeCreate(_ *gorm.DB) error {
	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}
	return nil
}

// StartsAt 会话计划开始时间（session_date + scheduled_time，按 loc 解释）
func (s *ClassSession) StartsAt(loc *time.Location) time.Time {
	t, err := time.Parse(TimeLayout, s.ScheduledTime)
	if err != nil {
		return time.Time{}
	}
	y, m, d := s.SessionDate.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
}

// Snapshot 生成令牌校验所需的只读快照
// 快照只携带由 pepper 派生的签名密钥，不含会话密钥原文
func (s *ClassSession) Snapshot(loc *time.Location, pepper []byte) *SessionSnapshot {
	snap := &SessionSnapshot{
		SessionID:         s.SessionID,
		CourseID:          s.CourseID,
		Status:            s.Status,
		SecretRound:       s.SecretRound,
		SecretExpiresAt:   s.SecretExpiresAt,
		CurrentRound:      s.CurrentRound,
		BroadcastDuration: s.BroadcastDuration,
		MaxCount:          s.MaxCount,
		StartsAt:          s.StartsAt(loc),
		Version:           s.Version,
	}
	if s.CurrentSecret != "" {
		snap.SigningKey = qrtoken.DeriveKey(pepper, s.CurrentSecret)
	}
	if s.PreviousSecret != "" {
		snap.PreviousSigningKey = qrtoken.DeriveKey(pepper, s.PreviousSecret)
	}
	return snap
}

// SessionSnapshot 会话只读快照，缓存于 Redis，供扫码热路径读取
type SessionSnapshot struct {
	SessionID          string        `json:"session_id"`
	CourseID           string        `json:"course_id"`
	Status             SessionStatus `json:"status"`
	SigningKey         []byte        `json:"signing_key,omitempty"`
	PreviousSigningKey []byte        `json:"previous_signing_key,omitempty"`
	SecretRound        int           `json:"secret_round"`
	SecretExpiresAt    *time.Time    `json:"secret_expires_at,omitempty"`
	CurrentRound       int           `json:"current_round"`
	BroadcastDuration  int           `json:"broadcast_duration"`
	MaxCount           int           `json:"max_count"`
	StartsAt           time.Time     `json:"starts_at"`
	Version            int           `json:"version"`
}

// BroadcastWindow 单个令牌的有效时长
func (s *SessionSnapshot) BroadcastWindow() time.Duration {
	return time.Duration(s.BroadcastDuration) * time.Second
}
