package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"virtual-attendance/internal/model"
	pkgerrors "virtual-attendance/pkg/errors"
	"virtual-attendance/pkg/qrtoken"
)

// ── 测试辅助 ──

func setupTestTokenService(t *testing.T, maxCount int) (*tokenService, *sessionService, *fakeClock, string) {
	t.Helper()
	sessions, _, clock := setupTestSessionService(nil)
	tokens := NewTokenService(testConfig(), sessions, zap.NewNop()).(*tokenService)
	tokens.now = clock.Now

	s, err := sessions.Open(context.Background(), openReq(maxCount), "inst-001")
	if err != nil {
		t.Fatalf("Open 应成功: %v", err)
	}
	return tokens, sessions, clock, s.ID
}

// ── Issue 测试 ──

func TestTokenService_Issue_Success(t *testing.T) {
	tokens, sessions, clock, id := setupTestTokenService(t, 2)
	ctx := context.Background()
	_, _ = sessions.RotateSecret(ctx, id, "inst-001")

	tok, err := tokens.Issue(ctx, id, 1)
	if err != nil {
		t.Fatalf("Issue 应成功: %v", err)
	}
	if tok.Round != 1 || tok.SessionID != id {
		t.Errorf("令牌内容不符: %+v", tok)
	}
	if !tok.IssuedAt.Equal(clock.Now()) {
		t.Errorf("签发时间应为当前时间，实际=%s", tok.IssuedAt)
	}
	if !tok.ExpiresAt.Equal(tok.IssuedAt.Add(15 * time.Second)) {
		t.Errorf("过期时间应为签发时间+15s，实际=%s", tok.ExpiresAt)
	}
	if !strings.HasPrefix(tok.ScanURL, "https://yoklama.example.edu/scan?t=") {
		t.Errorf("扫码地址不符: %s", tok.ScanURL)
	}
	if strings.Count(tok.Token, ".") != 2 {
		t.Error("令牌应为紧凑 JWS 格式")
	}
}

func TestTokenService_Issue_Errors(t *testing.T) {
	tokens, sessions, clock, id := setupTestTokenService(t, 2)
	ctx := context.Background()

	if _, err := tokens.Issue(ctx, id, 1); !errors.Is(err, ErrSessionNotOpen) {
		t.Errorf("未轮换密钥时应返回 ErrSessionNotOpen，实际: %v", err)
	}

	_, _ = sessions.RotateSecret(ctx, id, "inst-001")

	for _, round := range []int{0, 3} {
		_, err := tokens.Issue(ctx, id, round)
		if !errors.Is(err, pkgerrors.ErrInvalidRound) || !errors.Is(err, pkgerrors.ErrValidation) {
			t.Errorf("round=%d 应返回 ErrInvalidRound，实际: %v", round, err)
		}
	}

	if _, err := tokens.Issue(ctx, id, 2); !errors.Is(err, ErrRoundNotActive) {
		t.Errorf("非当前轮次应返回 ErrRoundNotActive，实际: %v", err)
	}

	clock.Advance(16 * time.Second)
	if _, err := tokens.Issue(ctx, id, 1); !errors.Is(err, ErrSecretExpired) {
		t.Errorf("密钥过期后应返回 ErrSecretExpired，实际: %v", err)
	}

	_ = sessions.Close(ctx, id, "inst-001")
	if _, err := tokens.Issue(ctx, id, 1); !errors.Is(err, ErrSessionNotOpen) || !errors.Is(err, pkgerrors.ErrState) {
		t.Errorf("已关闭会话应返回 StateError，实际: %v", err)
	}
}

// ── Validate 测试 ──

func TestTokenService_Validate_ExpiryBoundary(t *testing.T) {
	tokens, sessions, clock, id := setupTestTokenService(t, 1)
	ctx := context.Background()
	_, _ = sessions.RotateSecret(ctx, id, "inst-001")
	tok, _ := tokens.Issue(ctx, id, 1)

	window := 15 * time.Second
	accepted := []time.Duration{0, window - time.Second, window}
	for _, d := range accepted {
		got, err := tokens.Validate(ctx, tok.Token, tok.IssuedAt.Add(d))
		if err != nil {
			t.Errorf("iat+%s 应通过，实际: %v", d, err)
			continue
		}
		if got.SessionID != id || got.Round != 1 || !got.IssuedAt.Equal(clock.Now()) {
			t.Errorf("校验结果不符: %+v", got)
		}
	}

	_, err := tokens.Validate(ctx, tok.Token, tok.IssuedAt.Add(window+time.Second))
	if !errors.Is(err, pkgerrors.ErrExpired) || !errors.Is(err, pkgerrors.ErrToken) {
		t.Errorf("iat+d+1s 应返回 ErrExpired，实际: %v", err)
	}
}

func TestTokenService_Validate_RotationInvalidates(t *testing.T) {
	tokens, sessions, clock, id := setupTestTokenService(t, 2)
	ctx := context.Background()
	_, _ = sessions.RotateSecret(ctx, id, "inst-001")
	old, _ := tokens.Issue(ctx, id, 1)

	// 同轮次轮换：签名不再匹配
	_, _ = sessions.RotateSecret(ctx, id, "inst-001")
	if _, err := tokens.Validate(ctx, old.Token, clock.Now()); !errors.Is(err, pkgerrors.ErrForged) {
		t.Errorf("轮换后旧令牌应返回 ErrForged，实际: %v", err)
	}

	fresh, err := tokens.Issue(ctx, id, 1)
	if err != nil {
		t.Fatalf("轮换后 Issue 应成功: %v", err)
	}
	if _, err := tokens.Validate(ctx, fresh.Token, clock.Now()); err != nil {
		t.Fatalf("新令牌应通过: %v", err)
	}

	// 推进轮次：旧轮次令牌过时
	_, _ = sessions.AdvanceRound(ctx, id, "inst-001")
	if _, err := tokens.Validate(ctx, fresh.Token, clock.Now()); !errors.Is(err, pkgerrors.ErrStaleRound) {
		t.Errorf("推进轮次后旧令牌应返回 ErrStaleRound，实际: %v", err)
	}
}

func TestTokenService_Validate_ClosedAndForged(t *testing.T) {
	tokens, sessions, clock, id := setupTestTokenService(t, 1)
	ctx := context.Background()
	_, _ = sessions.RotateSecret(ctx, id, "inst-001")
	tok, _ := tokens.Issue(ctx, id, 1)

	if _, err := tokens.Validate(ctx, "not-a-token", clock.Now()); !errors.Is(err, pkgerrors.ErrForged) {
		t.Errorf("乱码应返回 ErrForged，实际: %v", err)
	}

	// 未知会话
	unknown, _, _ := qrtoken.Sign("00000000-0000-0000-0000-000000000000", 1, clock.Now(), []byte("k"))
	if _, err := tokens.Validate(ctx, unknown, clock.Now()); !errors.Is(err, pkgerrors.ErrForged) {
		t.Errorf("未知会话应返回 ErrForged，实际: %v", err)
	}

	// 非 UUID 会话 ID：不查库，直接视为伪造
	for _, sid := range []string{"x", "abc", "1; DROP TABLE class_sessions"} {
		bad, _, _ := qrtoken.Sign(sid, 1, clock.Now(), []byte("k"))
		if _, err := tokens.Validate(ctx, bad, clock.Now()); !errors.Is(err, pkgerrors.ErrForged) {
			t.Errorf("sid=%q 应返回 ErrForged，实际: %v", sid, err)
		}
	}

	// 已知会话、错误密钥
	wrongKey, _, _ := qrtoken.Sign(id, 1, clock.Now(), qrtoken.DeriveKey([]byte("other-pepper"), "guess"))
	if _, err := tokens.Validate(ctx, wrongKey, clock.Now()); !errors.Is(err, pkgerrors.ErrForged) {
		t.Errorf("错误密钥签名应返回 ErrForged，实际: %v", err)
	}

	_ = sessions.Close(ctx, id, "inst-001")
	if _, err := tokens.Validate(ctx, tok.Token, clock.Now()); !errors.Is(err, pkgerrors.ErrSessionClosed) {
		t.Errorf("会话关闭后应返回 ErrSessionClosed，实际: %v", err)
	}
}

// ── VerifyToken 纯函数 ──

func TestVerifyToken_CheckOrder(t *testing.T) {
	const sid = "5e0c2b9a-7d41-4f3e-9a6b-2c8d1e0f3a47"
	key1 := qrtoken.DeriveKey([]byte("pepper-for-verify-test"), "secret-1")
	key2 := qrtoken.DeriveKey([]byte("pepper-for-verify-test"), "secret-2")
	iat := testEpoch
	snap := &model.SessionSnapshot{
		SessionID:         sid,
		Status:            model.SessionOpen,
		SigningKey:        key1,
		SecretRound:       2,
		CurrentRound:      2,
		BroadcastDuration: 10,
		MaxCount:          3,
	}
	tok, _, err := qrtoken.Sign(sid, 2, iat, key1)
	if err != nil {
		t.Fatalf("Sign 应成功: %v", err)
	}
	// 未签名（错误密钥）且猜测了其他轮次的令牌
	guess, _, _ := qrtoken.Sign(sid, 1, iat, qrtoken.DeriveKey([]byte("attacker"), "guess"))

	cases := []struct {
		name   string
		token  string
		mutate func(s *model.SessionSnapshot)
		now    time.Time
		want   error
	}{
		{"通过", tok, func(s *model.SessionSnapshot) {}, iat.Add(5 * time.Second), nil},
		{"快照缺失会话", tok, func(s *model.SessionSnapshot) { s.SessionID = "other" }, iat, pkgerrors.ErrForged},
		// 关闭优先于签名、轮次与过期
		{"关闭", tok, func(s *model.SessionSnapshot) {
			s.Status = model.SessionClosed
			s.SigningKey = nil
			s.CurrentRound = 3
		}, iat.Add(time.Hour), pkgerrors.ErrSessionClosed},
		// 上一轮的真实令牌：过时轮次
		{"轮次过时", tok, func(s *model.SessionSnapshot) {
			s.CurrentRound = 3
			s.SigningKey = key2
			s.PreviousSigningKey = key1
		}, iat, pkgerrors.ErrStaleRound},
		// 密钥未换但轮次被提升
		{"轮次提升", tok, func(s *model.SessionSnapshot) { s.CurrentRound = 3 }, iat, pkgerrors.ErrStaleRound},
		// 签名优先于轮次：伪造令牌不泄露当前轮次
		{"伪造且轮次不符", guess, func(s *model.SessionSnapshot) { s.PreviousSigningKey = key2 }, iat, pkgerrors.ErrForged},
		{"伪造且轮次相同", guess, func(s *model.SessionSnapshot) { s.CurrentRound = 1 }, iat, pkgerrors.ErrForged},
		// 签名优先于过期
		{"签名不匹配", tok, func(s *model.SessionSnapshot) { s.SigningKey = key2 }, iat.Add(time.Hour), pkgerrors.ErrForged},
		{"过期", tok, func(s *model.SessionSnapshot) {}, iat.Add(11 * time.Second), pkgerrors.ErrExpired},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := *snap
			c.mutate(&s)
			got, err := VerifyToken(c.token, &s, c.now)
			if c.want == nil {
				if err != nil || got.Round != 2 {
					t.Errorf("期望通过，实际: %v", err)
				}
				return
			}
			if !errors.Is(err, c.want) {
				t.Errorf("期望 %v，实际: %v", c.want, err)
			}
		})
	}

	if _, err := VerifyToken(tok, nil, iat); !errors.Is(err, pkgerrors.ErrForged) {
		t.Errorf("快照为 nil 应返回 ErrForged，实际: %v", err)
	}
}
