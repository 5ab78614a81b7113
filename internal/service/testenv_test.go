package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"virtual-attendance/config"
	"virtual-attendance/internal/dto"
	"virtual-attendance/internal/model"
	"virtual-attendance/internal/repository"
	"virtual-attendance/pkg/metrics"
	"virtual-attendance/pkg/redis"
)

// ── 测试辅助 ──

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// 2024-10-07 09:35:00 UTC，整秒
var testEpoch = time.Date(2024, 10, 7, 9, 35, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, BaseURL: "https://yoklama.example.edu"},
		Database: config.DatabaseConfig{Timezone: "Europe/Istanbul"},
		Auth: config.AuthConfig{
			JWTSecret:      "test-jwt-secret-0123456789",
			AccessTokenTTL: 15 * time.Minute,
			QRSigningKey:   "test-qr-signing-pepper-0123",
		},
		Attendance: config.AttendanceConfig{
			GeofenceRadiusM:          150,
			DefaultBroadcastDuration: 15,
			DefaultMaxCount:          1,
			MaxCountLimit:            10,
			StorageTimeout:           10 * time.Second,
			SnapshotTTL:              time.Minute,
			ScanRateLimit:            20,
			ScanRateWindow:           time.Minute,
		},
		Auditor: config.AuditorConfig{Cron: "0 3 * * *", PageSize: 2},
	}
}

// openTestDB 每个测试独立的内存 SQLite，单连接避免写锁竞争
func openTestDB(t *testing.T) *gorm.DB {
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
	// 单连接：SQLite 内存库的写入在这里是串行的，并发测试只覆盖服务层的幂等与重试逻辑；
	// 数据库层面的真实竞争见 repository 包的 TestUpsert_ConcurrentSameKey（integration 标签，PostgreSQL）
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&model.Course{}, &model.User{}, &model.ClassSession{}, &model.AttendanceRecord{}); err != nil {
		t.Fatalf("AutoMigrate 失败: %v", err)
	}
	return db
}

// testEnv 基于 SQLite 的完整服务组合
type testEnv struct {
	db         *gorm.DB
	repo       *repository.Repository
	cfg        *config.Config
	clock      *fakeClock
	metrics    *metrics.Metrics
	sessions   *sessionService
	tokens     *tokenService
	attendance *attendanceService
	audit      *auditService
	course     *model.Course
	instructor *model.User
	students   []*model.User
}

func newTestEnv(t *testing.T, rdb *redis.Client, tweak ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, fn := range tweak {
		fn(cfg)
	}

	db := openTestDB(t)
	repo := repository.NewRepository(db)
	log := zap.NewNop()
	m := metrics.New()
	clock := newFakeClock(testEpoch)

	sessions := NewSessionService(cfg, repo, rdb, m, log).(*sessionService)
	sessions.now = clock.Now
	tokens := NewTokenService(cfg, sessions, log).(*tokenService)
	tokens.now = clock.Now
	attendance := NewAttendanceService(cfg, repo, sessions, tokens, m, log).(*attendanceService)
	attendance.now = clock.Now
	audit := NewAuditService(cfg, repo, rdb, m, log).(*auditService)

	env := &testEnv{
		db: db, repo: repo, cfg: cfg, clock: clock, metrics: m,
		sessions: sessions, tokens: tokens, attendance: attendance, audit: audit,
	}
	env.seed(t)
	return env
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	lat, lng := 39.8914, 32.7848
	e.course = &model.Course{
		CourseID: uuid.NewString(), Code: "BIL101", Name: "Programlamaya Giriş",
		Latitude: &lat, Longitude: &lng,
	}
	e.instructor = &model.User{UserID: uuid.NewString(), FullName: "Dr. Elif Demir", Role: model.RoleInstructor}
	if err := e.db.Create(e.course).Error; err != nil {
		t.Fatalf("创建课程失败: %v", err)
	}
	if err := e.db.Create(e.instructor).Error; err != nil {
		t.Fatalf("创建教师失败: %v", err)
	}
	for i := 0; i < 3; i++ {
		no := fmt.Sprintf("2024%04d", i+1)
		s := &model.User{UserID: uuid.NewString(), FullName: fmt.Sprintf("Öğrenci %d", i+1), StudentNo: &no, Role: model.RoleStudent}
		if err := e.db.Create(s).Error; err != nil {
			t.Fatalf("创建学生失败: %v", err)
		}
		e.students = append(e.students, s)
	}
}

// enableGeofence 为测试课程开启地理围栏
func (e *testEnv) enableGeofence(t *testing.T, radius float64) {
	t.Helper()
	err := e.db.Model(&model.Course{}).Where("course_id = ?", e.course.CourseID).
		Updates(map[string]interface{}{"geofence_enabled": true, "geofence_radius_m": radius}).Error
	if err != nil {
		t.Fatalf("开启地理围栏失败: %v", err)
	}
}

func (e *testEnv) openSession(t *testing.T, maxCount int) string {
	t.Helper()
	resp, err := e.sessions.Open(context.Background(), &dto.OpenSessionRequest{
		CourseID:      e.course.CourseID,
		Date:          "2024-10-07",
		ScheduledTime: "12:30",
		Topic:         "Döngüler",
		MaxCount:      &maxCount,
	}, e.instructor.UserID)
	if err != nil {
		t.Fatalf("Open 应成功: %v", err)
	}
	return resp.ID
}

func (e *testEnv) countRecords(t *testing.T, sessionID string) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&model.AttendanceRecord{}).Where("session_id = ?", sessionID).Count(&n).Error; err != nil {
		t.Fatalf("统计记录失败: %v", err)
	}
	return n
}
