package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"virtual-attendance/internal/service"
	pkgerrors "virtual-attendance/pkg/errors"
	"virtual-attendance/pkg/response"
)

// 业务错误码
//
//	20xxx 课程会话   21xxx 二维码令牌   22xxx 签到记录
//	23xxx 存储       24xxx 一致性审计
const (
	CodeSessionNotFound   = 20001
	CodeSessionState      = 20002
	CodeCourseNotFound    = 20003
	CodeRoundLimitReached = 20004

	CodeTokenForged       = 21001
	CodeTokenExpired      = 21002
	CodeTokenSessionClose = 21003
	CodeTokenStaleRound   = 21004

	CodeOutOfRange      = 22001
	CodeInvalidRound    = 22002
	CodeStudentNotFound = 22003

	CodeStorageTimeout  = 23001
	CodeStorageConflict = 23002

	CodeRecordsNotFound = 24001
)

type errorMapping struct {
	target error
	status int
	code   int
}

// errorMappings 按顺序匹配，具体错误在其类别之前
var errorMappings = []errorMapping{
	{pkgerrors.ErrExpired, http.StatusUnprocessableEntity, CodeTokenExpired},
	{pkgerrors.ErrStaleRound, http.StatusUnprocessableEntity, CodeTokenStaleRound},
	{pkgerrors.ErrSessionClosed, http.StatusUnprocessableEntity, CodeTokenSessionClose},
	{pkgerrors.ErrForged, http.StatusUnprocessableEntity, CodeTokenForged},
	{pkgerrors.ErrOutOfRange, http.StatusUnprocessableEntity, CodeOutOfRange},
	{pkgerrors.ErrInvalidRound, http.StatusBadRequest, CodeInvalidRound},
	{pkgerrors.ErrRoundLimitReached, http.StatusConflict, CodeRoundLimitReached},
	{service.ErrCourseNotFound, http.StatusBadRequest, CodeCourseNotFound},
	{pkgerrors.ErrValidation, http.StatusBadRequest, 10001},
	{service.ErrSessionNotFound, http.StatusNotFound, CodeSessionNotFound},
	{service.ErrStudentNotFound, http.StatusNotFound, CodeStudentNotFound},
	{service.ErrRecordsNotFound, http.StatusNotFound, CodeRecordsNotFound},
	{pkgerrors.ErrNotFound, http.StatusNotFound, 10006},
	{pkgerrors.ErrState, http.StatusConflict, CodeSessionState},
}

// handleServiceError 将 service 层错误映射为统一响应
func handleServiceError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			response.Error(c, m.status, m.code, err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, pkgerrors.ErrStorageTimeout):
		response.GatewayTimeout(c, CodeStorageTimeout, "存储繁忙，请稍后重试")
	case errors.Is(err, pkgerrors.ErrStorageConflict):
		response.Conflict(c, CodeStorageConflict, "数据已被其他操作修改，请稍后重试")
	default:
		_ = c.Error(err)
		response.InternalError(c)
	}
}
