package jwt

import (
	"errors"
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager("test-secret-key-for-unit-testing-2026", 15*time.Minute)
}

func TestGenerateAndParseAccessToken(t *testing.T) {
	m := newTestManager()

	token, err := m.GenerateAccessToken("tutor1", "admin")
	if err != nil {
		t.Fatalf("GenerateAccessToken 失败: %v", err)
	}

	claims, err := m.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken 失败: %v", err)
	}

	if claims.Username != "tutor1" {
		t.Errorf("期望 Username=tutor1，实际=%s", claims.Username)
	}
	if claims.Role != "admin" {
		t.Errorf("期望 Role=admin，实际=%s", claims.Role)
	}
	if claims.Issuer != "timetable-hub" {
		t.Errorf("期望 Issuer=timetable-hub，实际=%s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Error("JTI 不应为空")
	}
}

func TestParseToken_InvalidToken(t *testing.T) {
	m := newTestManager()

	if _, err := m.ParseToken("invalid.token.string"); err == nil {
		t.Error("期望解析无效 token 返回错误")
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	m1 := newTestManager()
	m2 := NewManager("different-secret-key", 15*time.Minute)

	token, _ := m1.GenerateAccessToken("tutor1", "admin")
	if _, err := m2.ParseToken(token); err == nil {
		t.Error("不同密钥签名的 token 不应通过验证")
	}
}

func TestParseToken_ExpiredToken(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)

	token, _ := m.GenerateAccessToken("tutor1", "admin")
	_, err := m.ParseToken(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("期望 ErrTokenExpired，实际: %v", err)
	}
}

func TestInspect(t *testing.T) {
	m := newTestManager()
	valid, _ := m.GenerateAccessToken("tutor1", "admin")
	expired, _ := NewManager("test-secret", -time.Minute).GenerateAccessToken("tutor1", "admin")

	t.Run("空 token 视为匿名", func(t *testing.T) {
		claims, err := Inspect("", time.Now())
		if err != nil || claims != nil {
			t.Errorf("期望 (nil, nil)，实际 (%v, %v)", claims, err)
		}
	})

	t.Run("有效 token 无需密钥即可读取声明", func(t *testing.T) {
		claims, err := Inspect(valid, time.Now())
		if err != nil {
			t.Fatalf("Inspect 失败: %v", err)
		}
		if claims.Username != "tutor1" {
			t.Errorf("期望 Username=tutor1，实际=%s", claims.Username)
		}
	})

	t.Run("过期 token", func(t *testing.T) {
		claims, err := Inspect(expired, time.Now())
		if !errors.Is(err, ErrTokenExpired) {
			t.Errorf("期望 ErrTokenExpired，实际: %v", err)
		}
		if claims == nil {
			t.Error("过期 token 仍应返回声明以便记录日志")
		}
	})

	t.Run("格式错误", func(t *testing.T) {
		if _, err := Inspect("not-a-jwt", time.Now()); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("期望 ErrTokenInvalid，实际: %v", err)
		}
	})
}
