package handler

import (
	"go.uber.org/zap"

	"virtual-attendance/config"
	"virtual-attendance/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Session    *SessionHandler
	QR         *QRHandler
	Attendance *AttendanceHandler
	Audit      *AuditHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(cfg *config.Config, svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{
		Session:    NewSessionHandler(svc.Session, svc.Token),
		QR:         NewQRHandler(svc.Session, svc.Token, cfg.Server.CORS.AllowOrigins, logger),
		Attendance: NewAttendanceHandler(svc.Attendance),
		Audit:      NewAuditHandler(svc.Audit),
	}
}
