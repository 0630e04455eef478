// Package auth はOAuth認証フロー、セッショントークンの発行と検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hitoshi/authskeleton/internal/metrics"
	"github.com/hitoshi/authskeleton/internal/model"
	"github.com/hitoshi/authskeleton/internal/repository"
	"github.com/hitoshi/authskeleton/internal/security"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(redirectURL string) string
	// ExchangeCode は認可コードをトークンに交換し、プロフィールを取得する。
	ExchangeCode(ctx context.Context, code, redirectURL string) (*model.ProviderProfile, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// Now は現在時刻を返す。nilの場合はtime.Nowを使う。
	Now func() time.Time
	// NewID は新規ユーザーIDを生成する。nilの場合はUUIDv4を使う。
	NewID func() string
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	User    *model.User
	Token   string
	Created bool
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth    OAuthProvider
	userRepo repository.UserRepository
	tokens   *TokenIssuer
	metrics  metrics.MetricsCollector
	validate *validator.Validate
	sanitize security.ProfileSanitizerService
	now      func() time.Time
	newID    func() string
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	tokens *TokenIssuer,
	mc metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	newID := config.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	return &Service{
		oauth:    oauth,
		userRepo: userRepo,
		tokens:   tokens,
		metrics:  mc,
		validate: validator.New(),
		sanitize: security.NewProfileSanitizer(),
		now:      now,
		newID:    newID,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(redirectURL string) string {
	return s.oauth.GetLoginURL(redirectURL)
}

// TokenTTL はセッショントークンの有効期間を返す。
func (s *Service) TokenTTL() time.Duration {
	return s.tokens.TTL()
}

// HandleCallback はOAuthコールバックを処理し、セッショントークンを発行する。
// 未登録のメールアドレスならユーザーを作成し、登録済みならlast_loginのみ更新する。
// いずれかの段階で失敗した場合はトークンを発行しない。
func (s *Service) HandleCallback(ctx context.Context, code, redirectURL string) (*LoginResult, error) {
	if code == "" {
		return nil, model.NewMissingAuthCodeError()
	}

	// 1. 認可コードをトークンに交換し、プロフィールを取得
	profile, err := s.oauth.ExchangeCode(ctx, code, redirectURL)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginResultProviderError)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. 境界での検証と無害化
	clean, err := s.cleanProfile(profile)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginResultProviderError)
		return nil, err
	}

	// 3. ユーザーの作成または更新
	user, created, err := s.upsertUser(ctx, clean)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginResultStoreError)
		return nil, err
	}

	// 4. セッショントークンを発行
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginResultTokenError)
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.metrics.RecordLogin(metrics.LoginResultSuccess)
	return &LoginResult{User: user, Token: token, Created: created}, nil
}

// upsertUser はメールアドレスでユーザーを検索し、なければ作成、あればlast_loginを更新する。
func (s *Service) upsertUser(ctx context.Context, profile *model.ProviderProfile) (*model.User, bool, error) {
	existing, err := s.userRepo.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user by email: %w", err)
	}

	now := s.now().UTC()

	if existing == nil {
		newUser := &model.User{
			ID:        s.newID(),
			Email:     profile.Email,
			Name:      profile.Name,
			Picture:   profile.Picture,
			CreatedAt: now,
			LastLogin: now,
		}
		created, err := s.userRepo.Create(ctx, newUser)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create user: %w", err)
		}
		s.metrics.RecordUserCreated()
		slog.Info("new user created",
			slog.String("user_id", created.ID),
			slog.String("email", created.Email),
		)
		return created, true, nil
	}

	updated, err := s.userRepo.Update(ctx, existing.ID, model.UserChanges{LastLogin: &now})
	if err != nil {
		return nil, false, fmt.Errorf("failed to update last login: %w", err)
	}
	slog.Info("existing user logged in",
		slog.String("user_id", updated.ID),
	)
	return updated, false, nil
}

// cleanProfile はプロバイダーから受け取ったプロフィールを検証・無害化する。
// emailは形式が不正ならエラー、nameはマークアップを除去、pictureはhttp(s)の絶対URL以外を捨てる。
func (s *Service) cleanProfile(profile *model.ProviderProfile) (*model.ProviderProfile, error) {
	if profile == nil {
		return nil, model.NewProviderEmailMissingError()
	}
	if err := s.validate.Var(profile.Email, "required,email"); err != nil {
		return nil, model.NewInvalidEmailError(profile.Email)
	}

	return &model.ProviderProfile{
		Email:   profile.Email,
		Name:    s.sanitize.Name(profile.Name),
		Picture: s.sanitize.PictureURL(profile.Picture),
	}, nil
}

// CurrentUser はセッショントークンからユーザーを解決する。
// トークンが無効ならErrInvalidToken、ユーザーが存在しなければmodel.ErrUserNotFoundを返す。
func (s *Service) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrUserNotFound
	}
	return user, nil
}

// IsProviderError はエラーがプロバイダー起因（クライアントに400で返すべきもの）かを判定する。
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
