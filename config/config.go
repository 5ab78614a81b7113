package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Attendance AttendanceConfig `mapstructure:"attendance"`
	Auditor    AuditorConfig    `mapstructure:"auditor"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port    int        `mapstructure:"port"`
	BaseURL string     `mapstructure:"base_url"` // 二维码中扫码页面的前缀
	CORS    CORSConfig `mapstructure:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig PostgreSQL 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 连接最大生命周期（分钟）
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 空闲连接最大存活时间（分钟）
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 缓存配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 认证配置
// JWTSecret 用于校验调用方身份（签发由外部认证服务完成）
// QRSigningKey 与会话密钥一起派生二维码令牌的 HMAC 密钥
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	QRSigningKey   string        `mapstructure:"qr_signing_key"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AttendanceConfig 签到核心配置
type AttendanceConfig struct {
	GeofenceRadiusM          float64       `mapstructure:"geofence_radius_m"`          // 课程未设置半径时的默认值（米）
	DefaultBroadcastDuration int           `mapstructure:"default_broadcast_duration"` // 秒
	DefaultMaxCount          int           `mapstructure:"default_max_count"`
	MaxCountLimit            int           `mapstructure:"max_count_limit"`
	LateAfter                time.Duration `mapstructure:"late_after"` // 0 表示不区分迟到
	StorageTimeout           time.Duration `mapstructure:"storage_timeout"`
	SnapshotTTL              time.Duration `mapstructure:"snapshot_ttl"` // Redis 会话快照缓存有效期
	ScanRateLimit            int           `mapstructure:"scan_rate_limit"`
	ScanRateWindow           time.Duration `mapstructure:"scan_rate_window"`
}

// AuditorConfig 一致性审计任务配置
type AuditorConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Cron       string `mapstructure:"cron"`
	AutoRepair bool   `mapstructure:"auto_repair"`
	PageSize   int    `mapstructure:"page_size"`
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	v := viper.New()

	// ── 默认值 ──
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:5173")
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "virtual_attendance")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "Europe/Istanbul")
	v.SetDefault("db.max_open_conns", 50)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)  // 60分钟
	v.SetDefault("db.conn_max_idle_time", 30) // 30分钟

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.qr_signing_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("attendance.geofence_radius_m", 150.0)
	v.SetDefault("attendance.default_broadcast_duration", 15)
	v.SetDefault("attendance.default_max_count", 1)
	v.SetDefault("attendance.max_count_limit", 10)
	v.SetDefault("attendance.late_after", "0s")
	v.SetDefault("attendance.storage_timeout", "3s")
	v.SetDefault("attendance.snapshot_ttl", "5m")
	v.SetDefault("attendance.scan_rate_limit", 20)
	v.SetDefault("attendance.scan_rate_window", "1m")

	v.SetDefault("auditor.enabled", false)
	v.SetDefault("auditor.cron", "0 3 * * *")
	v.SetDefault("auditor.auto_repair", false)
	v.SetDefault("auditor.page_size", 200)

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("ATTEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// ── 关键配置校验 ──
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if len(c.Auth.QRSigningKey) < 16 {
		return fmt.Errorf("配置校验失败: auth.qr_signing_key 长度不能少于 16 字符")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	a := c.Attendance
	if a.DefaultBroadcastDuration <= 0 {
		return fmt.Errorf("配置校验失败: attendance.default_broadcast_duration 必须大于 0")
	}
	if a.MaxCountLimit <= 0 || a.DefaultMaxCount <= 0 || a.DefaultMaxCount > a.MaxCountLimit {
		return fmt.Errorf("配置校验失败: attendance.default_max_count 必须在 1-%d 之间", a.MaxCountLimit)
	}
	if a.GeofenceRadiusM <= 0 {
		return fmt.Errorf("配置校验失败: attendance.geofence_radius_m 必须大于 0")
	}
	if a.StorageTimeout <= 0 {
		return fmt.Errorf("配置校验失败: attendance.storage_timeout 必须大于 0")
	}
	return nil
}
