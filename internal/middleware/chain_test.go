package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type countingMetrics struct {
	statuses []int
}

func (c *countingMetrics) RecordLogin(string)                          {}
func (c *countingMetrics) RecordUserCreated()                          {}
func (c *countingMetrics) RecordProviderLatency(string, time.Duration) {}
func (c *countingMetrics) RecordHTTPStatus(code int)                   { c.statuses = append(c.statuses, code) }

// newTestRouter はアプリと同じ順序でミドルウェアを積んだルーターを返す。
func newTestRouter(resolver UserResolver, logger *slog.Logger, mc *countingMetrics) chi.Router {
	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(logger))
	r.Use(NewSecurityHeadersMiddleware())
	r.Use(NewMetricsMiddleware(mc))
	r.Use(NewSessionMiddleware(resolver))
	r.Use(NewLoggingMiddleware(logger))

	r.Get("/public", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	r.With(RequireUser("/auth/login")).Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		json.NewEncoder(w).Encode(map[string]string{"user_id": user.ID})
	})
	return r
}

// TestMiddlewareChain_ProtectedRoute は保護ルートが認証状態に応じて振る舞うことを検証する。
func TestMiddlewareChain_ProtectedRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mc := &countingMetrics{}
	r := newTestRouter(knownUserResolver(), logger, mc)

	// 匿名
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/auth/login" {
		t.Errorf("anonymous: status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}

	// 認証済み
	buf.Reset()
	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "Bearer good-token"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated: status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body["user_id"] != "user-1" {
		t.Errorf("user_id = %q, want %q", body["user_id"], "user-1")
	}

	// ロギングはセッションの内側なのでuser_idが記録される
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v\nraw: %s", err, buf.String())
	}
	if entry["user_id"] != "user-1" {
		t.Errorf("log user_id = %v, want user-1", entry["user_id"])
	}

	if len(mc.statuses) != 2 || mc.statuses[0] != http.StatusFound || mc.statuses[1] != http.StatusOK {
		t.Errorf("recorded statuses = %v, want [302 200]", mc.statuses)
	}
}

// TestMiddlewareChain_SecurityHeaders はセキュリティヘッダーが付与されることを検証する。
func TestMiddlewareChain_SecurityHeaders(t *testing.T) {
	r := newTestRouter(knownUserResolver(), slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), &countingMetrics{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/public", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "img-src 'self' https:") {
		t.Errorf("Content-Security-Policy = %q", csp)
	}
}

// TestMiddlewareChain_PanicRecovered はpanicが500の統一エラーになることを検証する。
func TestMiddlewareChain_PanicRecovered(t *testing.T) {
	mc := &countingMetrics{}
	var logBuf bytes.Buffer
	r := newTestRouter(knownUserResolver(), slog.New(slog.NewJSONHandler(&logBuf, nil)), mc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if !strings.Contains(logBuf.String(), `"msg":"panic recovered"`) {
		t.Errorf("panic should be logged, got: %s", logBuf.String())
	}

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
}

// TestMetricsMiddleware_ImplicitOK はWriteHeaderなしの応答が200として記録されることを検証する。
func TestMetricsMiddleware_ImplicitOK(t *testing.T) {
	mc := &countingMetrics{}
	h := NewMetricsMiddleware(mc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(mc.statuses) != 1 || mc.statuses[0] != http.StatusOK {
		t.Errorf("recorded statuses = %v, want [200]", mc.statuses)
	}
}
