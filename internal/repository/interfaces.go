// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/authskeleton/internal/model"
)

// UserRepository はユーザーディレクトリの永続化インターフェース。
// すべての操作はリモートストアへの呼び出しで、キャッシュやリトライは行わない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はセカンダリインデックスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスの一意性は検証しないため、呼び出し側がFindByEmailで事前に確認すること。
	Create(ctx context.Context, user *model.User) (*model.User, error)

	// Update は指定された属性のみを更新し、更新後のユーザーを返す。
	// 変更内容が空の場合は書き込みを行わない。
	// 対象が存在しない場合はmodel.ErrUserNotFoundを返す。
	Update(ctx context.Context, id string, changes model.UserChanges) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。管理操作用。
	DeleteByID(ctx context.Context, id string) error
}

// HealthChecker はストアの疎通確認インターフェース。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// UserStore はヘルスチェック可能なユーザーディレクトリ。
type UserStore interface {
	UserRepository
	HealthChecker
}
