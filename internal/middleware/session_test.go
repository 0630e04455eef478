package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/authskeleton/internal/auth"
	"github.com/hitoshi/authskeleton/internal/model"
)

// --- モック定義 ---

type mockResolver struct {
	currentUserFn func(ctx context.Context, token string) (*model.User, error)
	calls         int
	lastToken     string
}

func (m *mockResolver) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	m.calls++
	m.lastToken = token
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, token)
	}
	return nil, auth.ErrInvalidToken
}

var _ UserResolver = (*mockResolver)(nil)

// stubUserRepo はIDでユーザーを返すだけのリポジトリ。
type stubUserRepo struct {
	users map[string]*model.User
}

func (s *stubUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return s.users[id], nil
}
func (s *stubUserRepo) FindByEmail(context.Context, string) (*model.User, error) { return nil, nil }
func (s *stubUserRepo) Create(_ context.Context, u *model.User) (*model.User, error) {
	return u, nil
}
func (s *stubUserRepo) Update(context.Context, string, model.UserChanges) (*model.User, error) {
	return nil, model.ErrUserNotFound
}
func (s *stubUserRepo) DeleteByID(context.Context, string) error { return nil }

// captureHandler はコンテキストのユーザーを記録するハンドラー。
type captureHandler struct {
	called bool
	user   *model.User
	ok     bool
}

func (c *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.called = true
	c.user, c.ok = UserFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func knownUserResolver() *mockResolver {
	return &mockResolver{
		currentUserFn: func(_ context.Context, token string) (*model.User, error) {
			if token == "good-token" {
				return &model.User{ID: "user-1", Email: "a@x.com"}, nil
			}
			return nil, auth.ErrInvalidToken
		},
	}
}

// --- テスト ---

func TestSessionMiddleware_NoToken_AnonymousWithoutResolve(t *testing.T) {
	resolver := knownUserResolver()
	next := &captureHandler{}

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	w := httptest.NewRecorder()
	NewSessionMiddleware(resolver)(next).ServeHTTP(w, req)

	if !next.called {
		t.Fatal("next handler should always be called")
	}
	if next.ok {
		t.Errorf("expected anonymous, got %+v", next.user)
	}
	if resolver.calls != 0 {
		t.Errorf("resolver calls = %d, want 0", resolver.calls)
	}
}

func TestSessionMiddleware_TokenSources(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(r *http.Request)
		wantToken string
	}{
		{
			name:      "Authorizationヘッダー",
			setup:     func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-token") },
			wantToken: "good-token",
		},
		{
			name: "Bearer付きCookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "Bearer good-token"})
			},
			wantToken: "good-token",
		},
		{
			name: "接頭辞なしCookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "good-token"})
			},
			wantToken: "good-token",
		},
		{
			name: "ヘッダーがCookieより優先",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer good-token")
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "Bearer other-token"})
			},
			wantToken: "good-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := knownUserResolver()
			next := &captureHandler{}

			req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
			tt.setup(req)
			NewSessionMiddleware(resolver)(next).ServeHTTP(httptest.NewRecorder(), req)

			if resolver.lastToken != tt.wantToken {
				t.Errorf("token = %q, want %q", resolver.lastToken, tt.wantToken)
			}
			if !next.ok || next.user.ID != "user-1" {
				t.Errorf("expected user-1 in context, got %+v (ok=%v)", next.user, next.ok)
			}
		})
	}
}

func TestSessionMiddleware_ResolveFailures_Anonymous(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"不正なトークン", auth.ErrInvalidToken},
		{"ユーザー不在", model.ErrUserNotFound},
		{"ストア障害", errors.New("dynamodb: connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &mockResolver{
				currentUserFn: func(context.Context, string) (*model.User, error) { return nil, tt.err },
			}
			next := &captureHandler{}

			req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
			req.Header.Set("Authorization", "Bearer whatever")
			w := httptest.NewRecorder()
			NewSessionMiddleware(resolver)(next).ServeHTTP(w, req)

			if !next.called {
				t.Fatal("next handler should be called even when resolution fails")
			}
			if next.ok {
				t.Error("expected anonymous request")
			}
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d (the gate never rejects)", w.Code, http.StatusOK)
			}
		})
	}
}

// TestSessionMiddleware_ExpiredCookie_SameAsNoCookie は期限切れCookieが
// Cookieなしと同じ扱いになることを、実際のトークン発行・検証で確認する。
func TestSessionMiddleware_ExpiredCookie_SameAsNoCookie(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tokens := auth.NewTokenIssuer(auth.TokenConfig{Secret: []byte("secret"), TTL: 30 * time.Minute, Now: clock})
	repo := &stubUserRepo{users: map[string]*model.User{"user-1": {ID: "user-1", Email: "a@x.com"}}}
	svc := auth.NewService(nil, repo, tokens, nil, auth.ServiceConfig{Now: clock})

	token, err := tokens.Issue("user-1", "a@x.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// 発行直後は認証済み
	fresh := &captureHandler{}
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "Bearer " + token})
	NewSessionMiddleware(svc)(fresh).ServeHTTP(httptest.NewRecorder(), req)
	if !fresh.ok {
		t.Fatal("fresh token should resolve to a user")
	}

	// 期限切れ後
	now = now.Add(31 * time.Minute)
	expired := &captureHandler{}
	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "Bearer " + token})
	NewSessionMiddleware(svc)(expired).ServeHTTP(httptest.NewRecorder(), req)

	none := &captureHandler{}
	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	NewSessionMiddleware(svc)(none).ServeHTTP(httptest.NewRecorder(), req)

	if expired.ok != none.ok || expired.user != none.user {
		t.Errorf("expired cookie = (%v, %v), no cookie = (%v, %v)", expired.user, expired.ok, none.user, none.ok)
	}
	if expired.ok {
		t.Error("expired token must resolve to anonymous")
	}
}

func TestRequireUser(t *testing.T) {
	t.Run("匿名はリダイレクト", func(t *testing.T) {
		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		w := httptest.NewRecorder()

		RequireUser("/auth/login")(next).ServeHTTP(w, req)

		if w.Code != http.StatusFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusFound)
		}
		if loc := w.Header().Get("Location"); loc != "/auth/login" {
			t.Errorf("Location = %q, want %q", loc, "/auth/login")
		}
		if next.called {
			t.Error("next handler should not be called for anonymous requests")
		}
	})

	t.Run("認証済みは通過", func(t *testing.T) {
		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req = req.WithContext(ContextWithUser(req.Context(), &model.User{ID: "user-1"}))
		w := httptest.NewRecorder()

		RequireUser("/auth/login")(next).ServeHTTP(w, req)

		if !next.called || next.user.ID != "user-1" {
			t.Errorf("next handler should see user-1, got %+v", next.user)
		}
	})
}

func TestUserFromContext(t *testing.T) {
	if _, ok := UserFromContext(context.Background()); ok {
		t.Error("empty context should not have a user")
	}
	if _, ok := UserFromContext(ContextWithUser(context.Background(), nil)); ok {
		t.Error("nil user should be reported as absent")
	}
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("UserIDFromContext should fail without a user")
	}

	ctx := ContextWithUser(context.Background(), &model.User{ID: "user-1"})
	id, err := UserIDFromContext(ctx)
	if err != nil || id != "user-1" {
		t.Errorf("UserIDFromContext() = %q, %v", id, err)
	}
}
