// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"time"
)

// 永続化属性名。ストアアダプタはこの名前で列・属性を解決する。
const (
	AttrID        = "id"
	AttrEmail     = "email"
	AttrName      = "name"
	AttrPicture   = "picture"
	AttrCreatedAt = "created_at"
	AttrLastLogin = "last_login"
)

// ErrUserNotFound は更新・削除対象のユーザーが存在しない場合のエラー。
var ErrUserNotFound = errors.New("user not found")

// User はサービス利用ユーザーを表す。
// IDは作成後に変更されない。Emailはセカンダリインデックスで一意に扱う。
type User struct {
	ID        string
	Email     string
	Name      string
	Picture   string
	CreatedAt time.Time
	LastLogin time.Time
}

// UserChanges はユーザーの部分更新内容を表す。
// nilのフィールドは更新しない。IDは更新対象に含められない。
type UserChanges struct {
	Name      *string
	Picture   *string
	LastLogin *time.Time
}

// IsEmpty は更新対象の属性が1つもない場合にtrueを返す。
func (c UserChanges) IsEmpty() bool {
	return c.Name == nil && c.Picture == nil && c.LastLogin == nil
}

// Attributes は更新対象の属性を永続化属性名をキーとするマップで返す。
func (c UserChanges) Attributes() map[string]any {
	attrs := make(map[string]any, 3)
	if c.Name != nil {
		attrs[AttrName] = *c.Name
	}
	if c.Picture != nil {
		attrs[AttrPicture] = *c.Picture
	}
	if c.LastLogin != nil {
		attrs[AttrLastLogin] = c.LastLogin.UTC()
	}
	return attrs
}

// Apply は変更内容をユーザーのコピーに適用して返す。
func (c UserChanges) Apply(u User) User {
	if c.Name != nil {
		u.Name = *c.Name
	}
	if c.Picture != nil {
		u.Picture = *c.Picture
	}
	if c.LastLogin != nil {
		u.LastLogin = c.LastLogin.UTC()
	}
	return u
}

// ProviderProfile はIdPのuserinfoエンドポイントから取得したプロフィール。
// 永続化はされない。Emailのみ必須。
type ProviderProfile struct {
	Email   string
	Name    string
	Picture string
}

// Claims は検証済みセッショントークンの内容。
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}
