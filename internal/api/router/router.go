package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"virtual-attendance/config"
	"virtual-attendance/internal/api/handler"
	"virtual-attendance/internal/api/middleware"
	"virtual-attendance/pkg/jwt"
	"virtual-attendance/pkg/metrics"
	"virtual-attendance/pkg/redis"
)

const (
	maxBodyBytes  = 1 << 20
	scanBodyBytes = 4 << 10 // 令牌 + 坐标，正常请求远小于此
)

// Setup 初始化并返回 Gin 路由引擎
func Setup(
	cfg *config.Config,
	h *handler.Handler,
	jwtMgr *jwt.Manager,
	rdb *redis.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodyLimit(maxBodyBytes))

	// ── 健康检查 / 指标 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	staff := middleware.RoleAuth(jwt.RoleInstructor, jwt.RoleAdmin)

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtMgr))
	{
		// 课程会话模块
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", staff, h.Session.OpenSession)
			sessions.GET("/:id", h.Session.GetSession)
			sessions.POST("/:id/rotate", staff, h.Session.RotateSecret)
			sessions.POST("/:id/close", staff, h.Session.CloseSession)
			sessions.POST("/:id/rounds/advance", staff, h.Session.AdvanceRound)
			sessions.GET("/:id/rounds/current", h.Session.CurrentRound)
			sessions.POST("/:id/tokens", staff, h.Session.IssueToken)
			sessions.GET("/:id/qr.png", staff, h.QR.QRImage)
			sessions.GET("/:id/qr/stream", staff, h.QR.Stream)
			sessions.GET("/:id/attendance", h.Attendance.ListBySession) // 学生仅本人（Handler 层限定）
		}

		// 签到模块
		attendance := v1.Group("/attendance")
		{
			attendance.POST("/scan",
				middleware.RoleAuth(jwt.RoleStudent),
				middleware.BodyLimit(scanBodyBytes),
				middleware.RateLimit(rdb, cfg.Attendance.ScanRateLimit, cfg.Attendance.ScanRateWindow, logger),
				h.Attendance.Scan,
			)
			attendance.PUT("/manual", staff, h.Attendance.ManualRecord)
		}

		// 一致性审计模块
		audit := v1.Group("/audit")
		audit.Use(middleware.RoleAuth(jwt.RoleAdmin))
		{
			audit.GET("/violations", h.Audit.ListViolations)
			audit.GET("/violations/export", h.Audit.ExportViolations)
			audit.POST("/repair", h.Audit.Repair)
			audit.POST("/repair-all", h.Audit.RepairAll)
		}
	}

	return r
}
