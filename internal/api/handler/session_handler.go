package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"virtual-attendance/internal/dto"
	"virtual-attendance/internal/service"
	"virtual-attendance/pkg/response"
)

// SessionHandler 课程会话模块 HTTP 处理器
type SessionHandler struct {
	sessionSvc service.SessionService
	tokenSvc   service.TokenService
}

// NewSessionHandler 创建 SessionHandler
func NewSessionHandler(sessionSvc service.SessionService, tokenSvc service.TokenService) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc, tokenSvc: tokenSvc}
}

// OpenSession 创建课程会话
// POST /api/v1/sessions
func (h *SessionHandler) OpenSession(c *gin.Context) {
	var req dto.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	session, err := h.sessionSvc.Open(c.Request.Context(), &req, callerID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Created(c, session)
}

// GetSession 获取课程会话详情
// GET /api/v1/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := MustGetSessionID(c)
	if !ok {
		return
	}

	session, err := h.sessionSvc.Get(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, session)
}

// RotateSecret 轮换会话密钥（首次调用开放签到）
// POST /api/v1/sessions/:id/rotate
func (h *SessionHandler) RotateSecret(c *gin.Context) {
	id, ok := MustGetSessionID(c)
	if !ok {
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	rot, err := h.sessionSvc.RotateSecret(c.Request.Context(), id, callerID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, toRoundResponse(rot))
}

// CloseSession 关闭课程会话
// POST /api/v1/sessions/:id/close
func (h *SessionHandler) CloseSession(c *gin.Context) {
	id, ok := MustGetSessionID(c)
	if !ok {
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	if err := h.sessionSvc.Close(c.Request.Context(), id, callerID); err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, nil)
}

// AdvanceRound 推进到下一轮
// POST /api/v1/sessions/:id/rounds/advance
func (h *SessionHandler) AdvanceRound(c *gin.Context) {
	id, ok := MustGetSessionID(c)
	if !ok {
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	rot, err := h.sessionSvc.AdvanceRound(c.Request.Context(), id, callerID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, toRoundResponse(rot))
}

// CurrentRound 查询当前轮次
// GET /api/v1/sessions/:id/rounds/current
func (h *SessionHandler) CurrentRound(c *gin.Context) {
	id, ok := MustGetSessionID(c)
	if !ok {
		return
	}
	snap, err := h.sessionSvc.Snapshot(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, dto.RoundResponse{SessionID: id, Round: snap.CurrentRound, MaxCount: snap.MaxCount})
}

// IssueToken 签发二维码令牌
// POST /api/v1/sessions/:id/tokens
func (h *SessionHandler) IssueToken(c *gin.Context) {
	id, ok := MustGetSessionID(c)
	if !ok {
		return
	}

	var req dto.IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	tok, err := h.tokenSvc.Issue(c.Request.Context(), id, req.Round)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.Created(c, toQRTokenResponse(tok))
}

func toRoundResponse(rot *service.SecretRotation) dto.RoundResponse {
	return dto.RoundResponse{
		SessionID: rot.SessionID,
		Round:     rot.Round,
		MaxCount:  rot.MaxCount,
		ExpiresAt: rot.ExpiresAt.Format(time.RFC3339),
	}
}

func toQRTokenResponse(tok *service.IssuedToken) dto.QRTokenResponse {
	return dto.QRTokenResponse{
		Token:     tok.Token,
		SessionID: tok.SessionID,
		Round:     tok.Round,
		IssuedAt:  tok.IssuedAt.Format(time.RFC3339),
		ExpiresAt: tok.ExpiresAt.Format(time.RFC3339),
		ScanURL:   tok.ScanURL,
	}
}
