// Package qrtoken 二维码令牌编解码
//
// 令牌格式为 HS256 紧凑 JWS，载荷 {sid, rnd, iat, jti}。
// HMAC 密钥 = HMAC-SHA256(服务端 pepper, 会话当前密钥)，会话密钥轮换后旧令牌签名即失效。
package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMalformed = errors.New("令牌格式无效")
	ErrSignature = errors.New("令牌签名无效")
)

// Claims 二维码令牌载荷
type Claims struct {
	SessionID string `json:"sid"`
	Round     int    `json:"rnd"`
	jwtv5.RegisteredClaims
}

// IssuedAtTime 返回签发时间（秒级精度）
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// wellFormed 会话 ID 必须是 UUID，否则不会用它去查库
func (c *Claims) wellFormed() bool {
	return c.IssuedAt != nil && uuid.Validate(c.SessionID) == nil
}

// DeriveKey 由 pepper 与会话密钥派生签名密钥
func DeriveKey(pepper []byte, sessionSecret string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(sessionSecret))
	return mac.Sum(nil)
}

// Sign 签发令牌，issuedAt 截断到秒
func Sign(sessionID string, round int, issuedAt time.Time, key []byte) (string, *Claims, error) {
	claims := &Claims{
		SessionID: sessionID,
		Round:     round,
		RegisteredClaims: jwtv5.RegisteredClaims{
			ID:       uuid.New().String(),
			IssuedAt: jwtv5.NewNumericDate(issuedAt),
		},
	}
	raw, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", nil, err
	}
	return raw, claims, nil
}

// Peek 解析载荷但不校验签名，仅用于定位会话
func Peek(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, ErrMalformed
	}
	if !claims.wellFormed() {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Verify 用派生密钥校验签名并返回载荷
// 时间窗口由调用方按会话的 broadcast_duration 判断
func Verify(raw string, key []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwtv5.ParseWithClaims(raw, claims, func(t *jwtv5.Token) (interface{}, error) {
		return key, nil
	}, jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}), jwtv5.WithoutClaimsValidation())
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenSignatureInvalid) {
			return nil, ErrSignature
		}
		return nil, ErrMalformed
	}
	if !claims.wellFormed() {
		return nil, ErrMalformed
	}
	return claims, nil
}
