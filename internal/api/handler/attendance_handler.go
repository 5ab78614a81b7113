package handler

import (
	"github.com/gin-gonic/gin"

	"virtual-attendance/internal/dto"
	"virtual-attendance/internal/service"
	"virtual-attendance/pkg/jwt"
	"virtual-attendance/pkg/response"
)

// AttendanceHandler 签到模块 HTTP 处理器
type AttendanceHandler struct {
	attendanceSvc service.AttendanceService
}

// NewAttendanceHandler 创建 AttendanceHandler
func NewAttendanceHandler(attendanceSvc service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendanceSvc: attendanceSvc}
}

// Scan 学生扫码签到
// POST /api/v1/attendance/scan
func (h *AttendanceHandler) Scan(c *gin.Context) {
	var req dto.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	studentID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	record, err := h.attendanceSvc.Scan(c.Request.Context(), &req, studentID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, record)
}

// ManualRecord 教师手动登记出勤
// PUT /api/v1/attendance/manual
func (h *AttendanceHandler) ManualRecord(c *gin.Context) {
	var req dto.ManualRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	record, err := h.attendanceSvc.ManualRecord(c.Request.Context(), &req, callerID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, record)
}

// ListBySession 查询会话的签到记录
// GET /api/v1/sessions/:id/attendance
// 学生只能查看自己的记录
func (h *AttendanceHandler) ListBySession(c *gin.Context) {
	id, ok := MustGetSessionID(c)
	if !ok {
		return
	}

	var req dto.AttendanceListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	role, ok := MustGetRole(c)
	if !ok {
		return
	}
	if role == jwt.RoleStudent {
		userID, ok := MustGetUserID(c)
		if !ok {
			return
		}
		req.StudentID = userID
	}

	list, err := h.attendanceSvc.ListBySession(c.Request.Context(), id, &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, gin.H{"list": list})
}
