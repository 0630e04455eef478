// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizerService はIdPから受け取ったプロフィール項目を保存前に無害化する。
// 表示名はbluemondayのstrictポリシーでマークアップをすべて除去し、
// 画像URLはhttp(s)の絶対URLだけを通す。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizerService はプロフィール項目の無害化機能のインターフェースを定義する。
type ProfileSanitizerService interface {
	// Name は表示名からタグを除去したプレーンテキストを返す。
	// script, styleなどの要素は中身ごと除去する。
	// エンティティは元の文字に戻す（テンプレート側で再度エスケープされる）。
	Name(raw string) string

	// PictureURL はhttpまたはhttpsの絶対URLならそのまま返し、それ以外は空文字列を返す。
	PictureURL(raw string) string
}

// profileSanitizer はProfileSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので共有してよい。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Name は表示名を無害化する。
func (s *profileSanitizer) Name(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// PictureURL は画像URLを検証する。
func (s *profileSanitizer) PictureURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
