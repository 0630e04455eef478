// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/authskeleton/internal/auth"
	"github.com/hitoshi/authskeleton/internal/model"
)

const (
	// SessionCookieName はセッショントークンを保持するCookie名。
	SessionCookieName = "access_token"
	bearerPrefix      = "Bearer "
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストにユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// UserResolver はセッショントークンからユーザーを解決するインターフェース。
// auth.Serviceが実装する。
type UserResolver interface {
	CurrentUser(ctx context.Context, token string) (*model.User, error)
}

// NewSessionMiddleware はAuthorizationヘッダーまたはCookieからセッショントークンを読み取り、
// 解決できたユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// 検証に失敗しても拒否はせず、匿名リクエストとして次のハンドラーに渡す。
func NewSessionMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := resolver.CurrentUser(r.Context(), token)
			if err != nil {
				logResolveFailure(r, err)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// logResolveFailure はトークン不正とユーザー不在をDEBUG、それ以外（ストア障害）をWARNで記録する。
func logResolveFailure(r *http.Request, err error) {
	level := slog.LevelWarn
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, model.ErrUserNotFound) {
		level = slog.LevelDebug
	}
	slog.Log(r.Context(), level, "session resolved as anonymous",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}

// TokenFromRequest はAuthorizationヘッダー、次にCookieの順でトークンを取り出す。
// Cookieの値は "Bearer <token>" 形式で、接頭辞がなければ値をそのまま使う。
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
			return strings.TrimSpace(h[len(bearerPrefix):])
		}
	}

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(cookie.Value, bearerPrefix))
}

// RequireUser は匿名リクエストをredirectToへ302でリダイレクトするミドルウェアを返す。
// NewSessionMiddlewareの内側で使う。
func RequireUser(redirectTo string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UserFromContext(r.Context()); !ok {
				http.Redirect(w, r, redirectTo, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext はリクエストコンテキストからユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}
