package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoad_DefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "0123456789abcdef0123"
  qr_signing_key: "fedcba9876543210fedc"
attendance:
  default_max_count: 3
  late_after: 10m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 应成功: %v", err)
	}
	if cfg.Attendance.DefaultMaxCount != 3 {
		t.Errorf("期望 default_max_count=3，实际=%d", cfg.Attendance.DefaultMaxCount)
	}
	if cfg.Attendance.LateAfter != 10*time.Minute {
		t.Errorf("期望 late_after=10m，实际=%s", cfg.Attendance.LateAfter)
	}
	if cfg.Attendance.DefaultBroadcastDuration != 15 {
		t.Errorf("期望默认 broadcast_duration=15，实际=%d", cfg.Attendance.DefaultBroadcastDuration)
	}
	if cfg.Attendance.StorageTimeout != 3*time.Second {
		t.Errorf("期望默认 storage_timeout=3s，实际=%s", cfg.Attendance.StorageTimeout)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "0123456789abcdef0123"
  qr_signing_key: "fedcba9876543210fedc"
`)
	t.Setenv("ATTEND_ATTENDANCE_GEOFENCE_RADIUS_M", "75")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 应成功: %v", err)
	}
	if cfg.Attendance.GeofenceRadiusM != 75 {
		t.Errorf("期望环境变量覆盖 geofence_radius_m=75，实际=%v", cfg.Attendance.GeofenceRadiusM)
	}
}

func TestLoad_MissingSecrets(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "short"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("缺少密钥时应返回错误")
	}
}

func TestValidate_MaxCountOverLimit(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Auth: AuthConfig{
			JWTSecret:    "0123456789abcdef0123",
			QRSigningKey: "fedcba9876543210fedc",
		},
		Attendance: AttendanceConfig{
			GeofenceRadiusM:          100,
			DefaultBroadcastDuration: 10,
			DefaultMaxCount:          5,
			MaxCountLimit:            3,
			StorageTimeout:           time.Second,
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("default_max_count 超过上限时应返回错误")
	}
}
