// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/authskeleton/internal/model"
	"github.com/hitoshi/authskeleton/internal/repository"
)

// Service はユーザー管理のサービス層。
// 管理者によるユーザー削除を提供する。ログインフローからは使われない。
type Service struct {
	userRepo repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo}
}

// DeleteByEmail はメールアドレスで検索したユーザーを削除する。
// 該当ユーザーがいない場合はmodel.ErrUserNotFoundをラップしたエラーを返す。
// セッショントークンはステートレスなので、削除前に発行済みのトークンは
// 有効期限まで署名検証を通るが、ユーザー解決に失敗するため匿名扱いになる。
func (s *Service) DeleteByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("no user with email %q: %w", email, model.ErrUserNotFound)
	}

	slog.Info("deleting user",
		slog.String("user_id", user.ID),
	)

	if err := s.userRepo.DeleteByID(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}

	slog.Info("user deleted",
		slog.String("user_id", user.ID),
	)

	return user, nil
}
