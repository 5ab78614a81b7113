package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"virtual-attendance/internal/model"
	"virtual-attendance/internal/service"
	"virtual-attendance/pkg/response"
)

const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024

	wsWriteWait = 10 * time.Second
	// minFrameInterval 推送间隔下限，防止密钥过期时间异常时空转
	minFrameInterval = time.Second
)

// QRHandler 二维码渲染与投屏推送
type QRHandler struct {
	sessionSvc service.SessionService
	tokenSvc   service.TokenService
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewQRHandler 创建 QRHandler；allowOrigins 为允许建立 WebSocket 的来源
func NewQRHandler(sessionSvc service.SessionService, tokenSvc service.TokenService, allowOrigins []string, logger *zap.Logger) *QRHandler {
	origins := make(map[string]bool, len(allowOrigins))
	for _, o := range allowOrigins {
		origins[strings.TrimRight(o, "/")] = true
	}
	return &QRHandler{
		sessionSvc: sessionSvc,
		tokenSvc:   tokenSvc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins[origin]
			},
		},
		logger: logger,
	}
}

// QRImage 渲染当前轮次令牌的二维码
// GET /api/v1/sessions/:id/qr.png?size=256
func (h *QRHandler) QRImage(c *gin.Context) {
	id, ok := MustGetSessionID(c)
	if !ok {
		return
	}
	size := defaultQRSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minQRSize || n > maxQRSize {
			response.BadRequest(c, 10001, "size 必须在 128 到 1024 之间")
			return
		}
		size = n
	}

	round, err := h.sessionSvc.CurrentRound(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	tok, err := h.tokenSvc.Issue(c.Request.Context(), id, round)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	png, err := qrcode.Encode(tok.ScanURL, qrcode.Medium, size)
	if err != nil {
		h.logger.Error("生成二维码失败", zap.String("session_id", id), zap.Error(err))
		response.InternalError(c)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("X-QR-Round", strconv.Itoa(tok.Round))
	c.Header("X-QR-Expires-At", tok.ExpiresAt.Format(time.RFC3339))
	c.Data(http.StatusOK, "image/png", png)
}

// Stream 教室投屏：每个 broadcast_duration 轮换一次密钥并推送新令牌
// GET /api/v1/sessions/:id/qr/stream (WebSocket)
// 会话关闭或客户端断开时结束
func (h *QRHandler) Stream(c *gin.Context) {
	id, ok := MustGetSessionID(c)
	if !ok {
		return
	}
	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	snap, err := h.sessionSvc.Snapshot(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	if snap.Status == model.SessionClosed {
		handleServiceError(c, service.ErrSessionAlreadyClosed)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 读循环只用于感知客户端断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Info("二维码投屏开始", zap.String("session_id", id), zap.String("caller_id", callerID))
	for {
		frame, err := h.nextFrame(ctx, id, callerID)
		if err != nil {
			h.closeStream(conn, id, err)
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(toQRTokenResponse(frame)); err != nil {
			h.logger.Info("投屏客户端已断开", zap.String("session_id", id), zap.Error(err))
			return
		}

		wait := time.Until(frame.ExpiresAt)
		if wait < minFrameInterval {
			wait = minFrameInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// nextFrame 轮换密钥并签发当前轮次令牌
func (h *QRHandler) nextFrame(ctx context.Context, id, callerID string) (*service.IssuedToken, error) {
	rot, err := h.sessionSvc.RotateSecret(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	return h.tokenSvc.Issue(ctx, id, rot.Round)
}

func (h *QRHandler) closeStream(conn *websocket.Conn, id string, err error) {
	code, reason := websocket.CloseInternalServerErr, "服务器内部错误"
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, service.ErrSessionAlreadyClosed):
		code, reason = websocket.CloseNormalClosure, "课程会话已关闭"
	default:
		h.logger.Error("二维码投屏失败", zap.String("session_id", id), zap.Error(err))
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
