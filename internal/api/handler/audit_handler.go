package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"virtual-attendance/internal/dto"
	"virtual-attendance/internal/model"
	"virtual-attendance/internal/service"
	"virtual-attendance/pkg/response"
)

const defaultViolationLimit = 100

// AuditHandler 一致性审计 HTTP 处理器
type AuditHandler struct {
	auditSvc service.AuditService
}

// NewAuditHandler 创建 AuditHandler
func NewAuditHandler(auditSvc service.AuditService) *AuditHandler {
	return &AuditHandler{auditSvc: auditSvc}
}

// ListViolations 分页列出重复键
// GET /api/v1/audit/violations?after_session_id=&after_student_id=&after_round=&limit=
// 下一页以本页最后一项作为 after_* 参数
func (h *AuditHandler) ListViolations(c *gin.Context) {
	var req dto.ViolationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}
	if (req.AfterSessionID == "") != (req.AfterStudentID == "") {
		response.BadRequest(c, 10001, "after_session_id 与 after_student_id 必须同时提供")
		return
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultViolationLimit
	}
	var after *model.AttendanceKey
	if req.AfterSessionID != "" {
		after = &model.AttendanceKey{SessionID: req.AfterSessionID, StudentID: req.AfterStudentID, Round: req.AfterRound}
	}

	list := make([]dto.ViolationResponse, 0)
	for v, err := range h.auditSvc.FindViolations(c.Request.Context(), after) {
		if err != nil {
			handleServiceError(c, err)
			return
		}
		list = append(list, dto.ViolationResponse{
			SessionID: v.SessionID,
			StudentID: v.StudentID,
			Round:     v.Round,
			Rows:      v.Rows,
		})
		if len(list) == limit {
			break
		}
	}

	response.OK(c, gin.H{"list": list})
}

// Repair 修复单个重复键
// POST /api/v1/audit/repair
func (h *AuditHandler) Repair(c *gin.Context) {
	var req dto.RepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	result, err := h.auditSvc.Repair(c.Request.Context(), model.AttendanceKey{
		SessionID: req.SessionID,
		StudentID: req.StudentID,
		Round:     req.Round,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, gin.H{
		"survivor":     result.Survivor,
		"deleted_rows": result.DeletedRows,
		"round_raised": result.RoundRaised,
	})
}

// RepairAll 修复全部重复键
// POST /api/v1/audit/repair-all
func (h *AuditHandler) RepairAll(c *gin.Context) {
	summary, err := h.auditSvc.RepairAll(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, summary)
}

// ExportViolations 导出重复键报表
// GET /api/v1/audit/violations/export
func (h *AuditHandler) ExportViolations(c *gin.Context) {
	buf, filename, err := h.auditSvc.ExportViolations(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}

	encodedFilename := url.QueryEscape(filename)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+encodedFilename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
