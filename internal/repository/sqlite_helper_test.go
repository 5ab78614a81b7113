package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"virtual-attendance/internal/model"
)

// openSQLite 为每个测试创建独立的内存库
// 单连接：SQLite 写锁是库级别的，多连接并发写会返回 database is locked
func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开 SQLite 失败: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取 sql.DB 失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&model.Course{},
		&model.User{},
		&model.ClassSession{},
		&model.AttendanceRecord{},
	); err != nil {
		t.Fatalf("AutoMigrate 失败: %v", err)
	}
	return db
}

// dropUniqueKey 去掉唯一索引，模拟约束上线前的历史数据
func dropUniqueKey(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec("DROP INDEX IF EXISTS idx_attendance_key").Error; err != nil {
		t.Fatalf("删除唯一索引失败: %v", err)
	}
}

func seedSession(t *testing.T, db *gorm.DB, maxCount int) (*model.ClassSession, *model.User) {
	t.Helper()
	ctx := context.Background()

	course := &model.Course{CourseID: uuid.NewString(), Code: "BIL101", Name: "Programlamaya Giriş"}
	if err := db.WithContext(ctx).Create(course).Error; err != nil {
		t.Fatalf("创建课程失败: %v", err)
	}
	student := &model.User{UserID: uuid.NewString(), FullName: "Ayşe Yılmaz", Role: model.RoleStudent}
	if err := db.WithContext(ctx).Create(student).Error; err != nil {
		t.Fatalf("创建学生失败: %v", err)
	}
	session := &model.ClassSession{
		CourseID:          course.CourseID,
		SessionDate:       time.Date(2024, 10, 7, 0, 0, 0, 0, time.UTC),
		ScheduledTime:     "09:30",
		Status:            model.SessionCreated,
		BroadcastDuration: 15,
		MaxCount:          maxCount,
	}
	if err := db.WithContext(ctx).Create(session).Error; err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	return session, student
}
