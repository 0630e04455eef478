package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authskeleton/internal/model"
)

// ErrInvalidToken はトークン検証に失敗したことを表す。
// 署名不一致・期限切れ・形式不正などの原因はラップして保持する。
var ErrInvalidToken = errors.New("invalid token")

// TokenConfig はセッショントークンの設定。
type TokenConfig struct {
	Secret []byte
	TTL    time.Duration
	// Now は現在時刻を返す。nilの場合はtime.Nowを使う。
	Now func() time.Time
}

// TokenIssuer はHS256署名のJWTを発行・検証する。
// 状態を持たないため、失効はTTL経過かSecretの変更によってのみ起こる。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// sessionClaims はJWTペイロード。
type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(cfg TokenConfig) *TokenIssuer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: cfg.Secret, ttl: cfg.TTL, now: now}
}

// TTL はトークンの有効期間を返す。Cookieの Max-Age に使う。
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue はsubject（ユーザーID）とemailを含むトークンを発行する。
func (i *TokenIssuer) Issue(subject, email string) (string, error) {
	now := i.now()
	claims := sessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名・アルゴリズム・有効期限を検証し、クレームを返す。
// exp以降の時刻では無効となる（猶予なし）。
func (i *TokenIssuer) Verify(token string) (*model.Claims, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &model.Claims{
		Subject:   claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
