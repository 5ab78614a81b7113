package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"virtual-attendance/config"
	"virtual-attendance/internal/model"
	pkgerrors "virtual-attendance/pkg/errors"
	"virtual-attendance/pkg/qrtoken"
)

// ── 二维码令牌模块业务错误 ──

var (
	ErrSessionNotOpen = pkgerrors.Wrap(pkgerrors.ErrState, "课程会话未开放签到")
	ErrRoundNotActive = pkgerrors.Wrap(pkgerrors.ErrState, "该轮次不是当前轮次或密钥尚未轮换")
	ErrSecretExpired  = pkgerrors.Wrap(pkgerrors.ErrState, "会话密钥已过期，请先轮换")
)

// IssuedToken 签发的二维码令牌
type IssuedToken struct {
	Token     string
	SessionID string
	Round     int
	IssuedAt  time.Time
	ExpiresAt time.Time
	ScanURL   string
}

// ValidatedToken 校验通过的令牌内容
type ValidatedToken struct {
	SessionID string
	Round     int
	IssuedAt  time.Time
}

// TokenService 二维码令牌签发与校验
type TokenService interface {
	Issue(ctx context.Context, sessionID string, round int) (*IssuedToken, error)
	// Validate 依次检查：格式/会话存在 → 会话关闭 → 签名（上一轮真实令牌为过时轮次）→ 轮次 → 有效期
	Validate(ctx context.Context, token string, now time.Time) (*ValidatedToken, error)
}

type tokenService struct {
	sessions SessionService
	baseURL  string
	now      Clock
	logger   *zap.Logger
}

// NewTokenService 创建 TokenService 实例
func NewTokenService(cfg *config.Config, sessions SessionService, logger *zap.Logger) TokenService {
	return &tokenService{
		sessions: sessions,
		baseURL:  cfg.Server.BaseURL,
		now:      time.Now,
		logger:   logger,
	}
}

// ────────────────────── Issue ──────────────────────

func (s *tokenService) Issue(ctx context.Context, sessionID string, round int) (*IssuedToken, error) {
	snap, err := s.sessions.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if round < 1 || round > snap.MaxCount {
		return nil, pkgerrors.ErrInvalidRound
	}
	if snap.Status != model.SessionOpen || len(snap.SigningKey) == 0 {
		return nil, ErrSessionNotOpen
	}
	if round != snap.CurrentRound || snap.SecretRound != round {
		return nil, ErrRoundNotActive
	}
	now := s.now()
	if snap.SecretExpiresAt != nil && now.After(*snap.SecretExpiresAt) {
		return nil, ErrSecretExpired
	}

	raw, claims, err := qrtoken.Sign(snap.SessionID, round, now, snap.SigningKey)
	if err != nil {
		s.logger.Error("签发二维码令牌失败", zap.String("session_id", sessionID), zap.Error(err))
		return nil, err
	}

	issuedAt := claims.IssuedAtTime()
	return &IssuedToken{
		Token:     raw,
		SessionID: snap.SessionID,
		Round:     round,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(snap.BroadcastWindow()),
		ScanURL:   scanURL(s.baseURL, raw),
	}, nil
}

// ────────────────────── Validate ──────────────────────

func (s *tokenService) Validate(ctx context.Context, token string, now time.Time) (*ValidatedToken, error) {
	claims, err := qrtoken.Peek(token)
	if err != nil {
		return nil, pkgerrors.ErrForged
	}

	snap, err := s.sessions.Snapshot(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, pkgerrors.ErrForged
		}
		return nil, err
	}

	return VerifyToken(token, snap, now)
}

// VerifyToken 纯函数：仅依赖令牌、会话快照与当前时间
// 签名先于轮次校验；只有能用上一轮密钥验签的令牌才报告为过时轮次
func VerifyToken(token string, snap *model.SessionSnapshot, now time.Time) (*ValidatedToken, error) {
	claims, err := qrtoken.Peek(token)
	if err != nil || snap == nil || claims.SessionID != snap.SessionID {
		return nil, pkgerrors.ErrForged
	}
	if snap.Status == model.SessionClosed {
		return nil, pkgerrors.ErrSessionClosed
	}
	if snap.Status != model.SessionOpen || len(snap.SigningKey) == 0 {
		return nil, pkgerrors.ErrForged
	}
	if _, err := qrtoken.Verify(token, snap.SigningKey); err != nil {
		if claims.Round != snap.CurrentRound && len(snap.PreviousSigningKey) > 0 {
			if _, perr := qrtoken.Verify(token, snap.PreviousSigningKey); perr == nil {
				return nil, pkgerrors.ErrStaleRound
			}
		}
		return nil, pkgerrors.ErrForged
	}
	if claims.Round != snap.CurrentRound {
		return nil, pkgerrors.ErrStaleRound
	}

	issuedAt := claims.IssuedAtTime()
	if now.After(issuedAt.Add(snap.BroadcastWindow())) {
		return nil, pkgerrors.ErrExpired
	}

	return &ValidatedToken{
		SessionID: claims.SessionID,
		Round:     claims.Round,
		IssuedAt:  issuedAt,
	}, nil
}

// scanURL 学生端扫码落地页地址
func scanURL(baseURL, token string) string {
	return fmt.Sprintf("%s/scan?t=%s", baseURL, url.QueryEscape(token))
}
