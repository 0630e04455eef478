// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/authskeleton/internal/auth"
	"github.com/hitoshi/authskeleton/internal/middleware"
	"github.com/hitoshi/authskeleton/internal/model"
)

const (
	loginPath     = "/auth/login"
	dashboardPath = "/dashboard"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(redirectURL string) string
	HandleCallback(ctx context.Context, code, redirectURL string) (*auth.LoginResult, error)
	TokenTTL() time.Duration
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
	pages   *Pages
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, pages *Pages, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
		pages:   pages,
	}
}

// LoginPage はGoogleログインボタンのあるページを表示する。
// GET /auth/login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, http.StatusOK, "login.html", nil)
}

// GoogleLogin はGoogleの同意画面へリダイレクトする。
// GET /auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.service.GetLoginURL(auth.CallbackURL(r)), http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/?code=xxx
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingAuthCodeError())
		return
	}

	// 2. 認証処理（コード交換 → ユーザー作成/更新 → トークン発行）
	result, err := h.service.HandleCallback(r.Context(), code, auth.CallbackURL(r))
	if err != nil {
		writeCallbackError(w, err)
		return
	}

	// 3. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "Bearer " + result.Token,
		Path:     "/",
		MaxAge:   int(h.service.TokenTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, dashboardPath, http.StatusFound)
}

// writeCallbackError はコールバックのエラーをステータスコードに対応付けて書き込む。
// プロバイダー起因と入力不正は400、それ以外（ストア障害など）は500。
func writeCallbackError(w http.ResponseWriter, err error) {
	var pe *auth.ProviderError
	if errors.As(err, &pe) {
		var apiErr *model.APIError
		switch {
		case errors.Is(pe, auth.ErrEmailMissing):
			apiErr = model.NewProviderEmailMissingError()
		case pe.Step == auth.StepToken:
			apiErr = model.NewProviderTokenError(pe.Body)
		default:
			apiErr = model.NewProviderUserInfoError(pe.Body)
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	// 入力不正（APIError）は400、それ以外は500
	middleware.WriteError(w, http.StatusBadRequest, err)
}

// Logout はセッションCookieを削除する。
// トークンはステートレスなのでサーバー側で失効させる手段はない。
// GET /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, loginPath, http.StatusFound)
}
