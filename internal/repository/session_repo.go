package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"virtual-attendance/internal/model"
	pkgerrors "virtual-attendance/pkg/errors"
)

// SessionRepository 课程会话数据访问接口
type SessionRepository interface {
	Create(ctx context.Context, session *model.ClassSession) error
	GetByID(ctx context.Context, id string) (*model.ClassSession, error)
	// Update 按 version 条件更新可变字段，version 不匹配时返回 ErrOptimisticLock
	Update(ctx context.Context, session *model.ClassSession) error
	// RaiseRound 仅当 current_round 小于 round 时提升轮次，返回是否发生更新
	RaiseRound(ctx context.Context, id string, round int) (bool, error)
}

type sessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, session *model.ClassSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*model.ClassSession, error) {
	var session model.ClassSession
	err := r.db.WithContext(ctx).
		Where("session_id = ?", id).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) Update(ctx context.Context, session *model.ClassSession) error {
	oldVersion := session.Version
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.ClassSession{}).
		Where("session_id = ? AND version = ?", session.SessionID, oldVersion).
		Updates(map[string]interface{}{
			"status":            session.Status,
			"current_secret":    session.CurrentSecret,
			"secret_round":      session.SecretRound,
			"previous_secret":   session.PreviousSecret,
			"secret_expires_at": session.SecretExpiresAt,
			"current_round":     session.CurrentRound,
			"closed_at":         session.ClosedAt,
			"updated_by":        session.UpdatedBy,
			"updated_at":        now,
			"version":           oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	session.Version = oldVersion + 1
	session.UpdatedAt = now
	return nil
}

func (r *sessionRepo) RaiseRound(ctx context.Context, id string, round int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.ClassSession{}).
		Where("session_id = ? AND current_round < ?", id, round).
		Updates(map[string]interface{}{
			"current_round": round,
			"updated_at":    time.Now(),
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
