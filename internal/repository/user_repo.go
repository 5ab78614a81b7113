package repository

import (
	"context"

	"gorm.io/gorm"

	"virtual-attendance/internal/model"
)

// UserRepository 用户只读访问接口（用户由 CRUD 层维护）
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type userRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Where("user_id = ?", id).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}
