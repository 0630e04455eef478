package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authskeleton/internal/middleware"
)

//go:embed templates/*.html
var templateFS embed.FS

// Pages は埋め込みHTMLテンプレートの描画を担う。
type Pages struct {
	templates *template.Template
}

// NewPages は埋め込みテンプレートをパースしてPagesを生成する。
func NewPages() (*Pages, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.UTC().Format("2006-01-02 15:04:05 UTC")
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Pages{templates: tmpl}, nil
}

// Render はテンプレートをバッファに描画してから書き込む。
// 描画に失敗した場合は途中までのHTMLを返さず500を返す。
func (p *Pages) Render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := p.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// Home はセッションの有無に応じてダッシュボードかログイン画面へリダイレクトする。
// GET /
func (p *Pages) Home(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserFromContext(r.Context()); ok {
		http.Redirect(w, r, dashboardPath, http.StatusFound)
		return
	}
	http.Redirect(w, r, loginPath, http.StatusFound)
}

// Dashboard はログイン中のユーザー情報を表示する。
// RequireUserの内側に置くこと。
// GET /dashboard
func (p *Pages) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, loginPath, http.StatusFound)
		return
	}
	p.Render(w, http.StatusOK, "dashboard.html", map[string]any{"User": user})
}
