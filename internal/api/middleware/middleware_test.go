package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gerges15/minia-it-department-sub001/pkg/jwt"
)

const testSecret = "gateway-test-secret-0123456789"

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ── JWTAuth ──

func TestJWTAuth(t *testing.T) {
	mgr := jwt.NewManager(testSecret, time.Hour)
	valid, _ := mgr.GenerateAccessToken("tutor1", "tutor")
	expired, _ := jwt.NewManager(testSecret, -time.Minute).GenerateAccessToken("tutor1", "tutor")
	foreign, _ := jwt.NewManager("another-secret-0123456789", time.Hour).GenerateAccessToken("tutor1", "tutor")

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"缺少认证头", "", http.StatusUnauthorized},
		{"格式无效", "Token " + valid, http.StatusUnauthorized},
		{"已过期", "Bearer " + expired, http.StatusUnauthorized},
		{"签名不匹配", "Bearer " + foreign, http.StatusUnauthorized},
		{"有效令牌", "Bearer " + valid, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			var gotUser string
			r.GET("/p", JWTAuth(mgr), func(c *gin.Context) {
				gotUser = Username(c)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest("GET", "/p", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := perform(r, req)

			if w.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantCode == http.StatusOK && gotUser != "tutor1" {
				t.Errorf("应注入用户名 tutor1，实际 %q", gotUser)
			}
		})
	}
}

func TestJWTAuth_NilManagerPassesThrough(t *testing.T) {
	r := gin.New()
	r.GET("/p", JWTAuth(nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := perform(r, httptest.NewRequest("GET", "/p", nil)); w.Code != http.StatusOK {
		t.Errorf("未配置密钥时应放行，实际 %d", w.Code)
	}
}

// ── RateLimit ──

func TestRateLimit_PerIP(t *testing.T) {
	r := gin.New()
	r.GET("/p", RateLimit(1, 2), func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(ip string) int {
		req := httptest.NewRequest("GET", "/p", nil)
		req.RemoteAddr = ip + ":40000"
		return perform(r, req).Code
	}

	// 桶容量 2：前两次放行，第三次被拒
	for i := 0; i < 2; i++ {
		if code := send("10.0.0.1"); code != http.StatusOK {
			t.Fatalf("第 %d 次请求应放行，实际 %d", i+1, code)
		}
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("超出桶容量应返回 429，实际 %d", code)
	}
	// 其他 IP 不受影响
	if code := send("10.0.0.2"); code != http.StatusOK {
		t.Errorf("不同 IP 应独立限流，实际 %d", code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	r := gin.New()
	r.GET("/p", RateLimit(0, 0), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 20; i++ {
		if w := perform(r, httptest.NewRequest("GET", "/p", nil)); w.Code != http.StatusOK {
			t.Fatalf("rps<=0 时不应限流，实际 %d", w.Code)
		}
	}
}

// ── RequireReady ──

func TestRequireReady(t *testing.T) {
	ready := false
	r := gin.New()
	r.POST("/cmd", RequireReady(func() bool { return ready }), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	if w := perform(r, httptest.NewRequest("POST", "/cmd", nil)); w.Code != http.StatusServiceUnavailable {
		t.Errorf("未就绪时应返回 503，实际 %d", w.Code)
	}

	ready = true
	if w := perform(r, httptest.NewRequest("POST", "/cmd", nil)); w.Code != http.StatusAccepted {
		t.Errorf("就绪后应放行，实际 %d", w.Code)
	}
}

// ── RequestID ──

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.GET("/p", RequestID(), func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	req := httptest.NewRequest("GET", "/p", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := perform(r, req)
	if w.Header().Get("X-Request-ID") != "abc-123" || w.Body.String() != "abc-123" {
		t.Errorf("应沿用传入的 Request-ID，实际 %q", w.Header().Get("X-Request-ID"))
	}

	w = perform(r, httptest.NewRequest("GET", "/p", nil))
	if len(w.Header().Get("X-Request-ID")) != 36 {
		t.Errorf("缺省时应生成 UUID，实际 %q", w.Header().Get("X-Request-ID"))
	}
}

func TestRequestID_RejectsUnprintable(t *testing.T) {
	r := gin.New()
	r.GET("/p", RequestID(), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/p", nil)
	req.Header.Set("X-Request-ID", "bad id\tinjected")
	w := perform(r, req)
	if w.Header().Get("X-Request-ID") == "bad id\tinjected" {
		t.Error("含空白字符的 Request-ID 应被替换")
	}
}

// ── CORS ──

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:5173/"}))
	r.GET("/p", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/p", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := perform(r, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("允许的来源应回显，实际 %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if w.Header().Get("Access-Control-Expose-Headers") == "" {
		t.Error("应暴露 Content-Disposition 等响应头")
	}

	req = httptest.NewRequest("GET", "/p", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = perform(r, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("未允许的来源不应设置 CORS 头")
	}

	req = httptest.NewRequest("OPTIONS", "/p", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	if w = perform(r, req); w.Code != http.StatusNoContent {
		t.Errorf("预检请求应返回 204，实际 %d", w.Code)
	}
}

func TestCORS_Wildcard(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"*"}))
	r.GET("/p", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/p", nil)
	req.Header.Set("Origin", "http://any.example")
	w := perform(r, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("通配时应返回 *，实际 %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("通配来源不应允许凭据")
	}
}
