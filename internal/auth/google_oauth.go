package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/hitoshi/authskeleton/internal/metrics"
	"github.com/hitoshi/authskeleton/internal/model"
)

const (
	defaultGoogleIssuerURL   = "https://accounts.google.com"
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultProviderTimeout   = 10 * time.Second

	// CallbackPath はプロバイダーからのリダイレクトを受けるパス。
	CallbackPath = "/auth"
)

// プロバイダー呼び出しのステップ名。ProviderError.Step とメトリクスのラベルに使う。
const (
	StepToken    = "token"
	StepUserInfo = "userinfo"
)

// ErrEmailMissing はユーザー情報にメールアドレスが含まれていないことを表す。
var ErrEmailMissing = errors.New("email not provided by provider")

// ProviderError はIDプロバイダーとのやり取りの失敗を表す。
// Body にはプロバイダーが返したエラーテキストをそのまま保持する。
type ProviderError struct {
	Step string
	Body string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s step failed: %s", e.Step, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// Timeout はプロバイダーへの各HTTP呼び出しのタイムアウト。
	Timeout time.Duration
}

// GoogleOAuthProvider はGoogle OAuth 2.0による認証を提供する。
// 認可URL生成とコード交換はx/oauth2、ユーザー情報取得はgo-oidcで行う。
type GoogleOAuthProvider struct {
	oauth2Config oauth2.Config
	oidcProvider *oidc.Provider
	client       *http.Client
	metrics      metrics.MetricsCollector
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
// mcがnilの場合はメトリクスを記録しない。
func NewGoogleOAuthProvider(config GoogleOAuthConfig, mc metrics.MetricsCollector) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultProviderTimeout
	}
	if mc == nil {
		mc = metrics.Nop{}
	}

	client := &http.Client{Timeout: config.Timeout}

	// ディスカバリは行わず、エンドポイントを明示的に指定する
	providerConfig := &oidc.ProviderConfig{
		IssuerURL:   defaultGoogleIssuerURL,
		AuthURL:     config.AuthURL,
		TokenURL:    config.TokenURL,
		UserInfoURL: config.UserInfoURL,
	}

	return &GoogleOAuthProvider{
		oauth2Config: oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{oidc.ScopeOpenID, "email", "profile"},
		},
		oidcProvider: providerConfig.NewProvider(oidc.ClientContext(context.Background(), client)),
		client:       client,
		metrics:      mc,
	}
}

// configFor はredirect_uriを設定したoauth2.Configのコピーを返す。
func (p *GoogleOAuthProvider) configFor(redirectURL string) *oauth2.Config {
	c := p.oauth2Config
	c.RedirectURL = redirectURL
	return &c
}

// GetLoginURL はGoogle OAuthの認証URLを生成する。
// stateパラメータは付与しない。
func (p *GoogleOAuthProvider) GetLoginURL(redirectURL string) string {
	return p.configFor(redirectURL).AuthCodeURL("",
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// googleProfileClaims はユーザー情報レスポンスのうち、go-oidcのUserInfoが持たない項目。
type googleProfileClaims struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
// redirectURLはGetLoginURLに渡したものと同一でなければならない。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code, redirectURL string) (*model.ProviderProfile, error) {
	ctx = oidc.ClientContext(ctx, p.client)

	// 1. 認可コードをアクセストークンに交換
	start := time.Now()
	token, err := p.configFor(redirectURL).Exchange(ctx, code)
	p.metrics.RecordProviderLatency(StepToken, time.Since(start))
	if err != nil {
		return nil, &ProviderError{Step: StepToken, Body: retrieveErrorBody(err), Err: err}
	}

	// 2. アクセストークンでユーザー情報を取得
	start = time.Now()
	info, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	p.metrics.RecordProviderLatency(StepUserInfo, time.Since(start))
	if err != nil {
		return nil, &ProviderError{Step: StepUserInfo, Body: err.Error(), Err: err}
	}

	if info.Email == "" {
		return nil, &ProviderError{Step: StepUserInfo, Body: ErrEmailMissing.Error(), Err: ErrEmailMissing}
	}

	var profile googleProfileClaims
	if err := info.Claims(&profile); err != nil {
		return nil, &ProviderError{Step: StepUserInfo, Body: err.Error(), Err: err}
	}

	return &model.ProviderProfile{
		Email:   info.Email,
		Name:    profile.Name,
		Picture: profile.Picture,
	}, nil
}

// retrieveErrorBody はトークンエンドポイントのエラー本文を取り出す。
func retrieveErrorBody(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && len(re.Body) > 0 {
		return string(re.Body)
	}
	return err.Error()
}

// CallbackURL はリクエストのスキームとホストからコールバックURLを組み立てる。
// 認可URL生成とコード交換の両方でこの値を使う。
func CallbackURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host + CallbackPath
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
