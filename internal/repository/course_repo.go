package repository

import (
	"context"

	"gorm.io/gorm"

	"virtual-attendance/internal/model"
)

// CourseRepository 课程只读访问接口（课程由 CRUD 层维护）
type CourseRepository interface {
	GetByID(ctx context.Context, id string) (*model.Course, error)
}

type courseRepo struct {
	db *gorm.DB
}

func NewCourseRepo(db *gorm.DB) CourseRepository {
	return &courseRepo{db: db}
}

func (r *courseRepo) GetByID(ctx context.Context, id string) (*model.Course, error) {
	var course model.Course
	err := r.db.WithContext(ctx).
		Where("course_id = ?", id).
		First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}
