package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/authskeleton/internal/model"
)

// Dialect はSQLバックエンドの方言を表す。
type Dialect string

const (
	// DialectPostgres はPostgreSQL（lib/pq）を表す。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite はSQLite（modernc.org/sqlite）を表す。
	DialectSQLite Dialect = "sqlite"
)

// placeholder はn番目（1始まり）のバインドパラメータ表記を返す。
func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// userColumns は更新可能な属性名と列名の対応。ここにない属性は更新できない。
var userColumns = map[string]string{
	model.AttrName:      "name",
	model.AttrPicture:   "picture",
	model.AttrLastLogin: "last_login",
}

const userSelectColumns = `id, email, name, picture, created_at, last_login`

// SQLUserRepo はdatabase/sqlを使用したユーザーリポジトリ。
// PostgreSQLとSQLiteの両方で動作する。
type SQLUserRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLUserRepo はSQLUserRepoを生成する。
func NewSQLUserRepo(db *sql.DB, dialect Dialect) *SQLUserRepo {
	return &SQLUserRepo{db: db, dialect: dialect}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userSelectColumns+` FROM users WHERE id = `+r.dialect.placeholder(1),
		id,
	)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はusers_email_idxを使ってユーザーを検索する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userSelectColumns+` FROM users WHERE email = `+r.dialect.placeholder(1)+` LIMIT 1`,
		email,
	)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *SQLUserRepo) Create(ctx context.Context, user *model.User) (*model.User, error) {
	ph := make([]string, 6)
	for i := range ph {
		ph[i] = r.dialect.placeholder(i + 1)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userSelectColumns+`)
		 VALUES (`+strings.Join(ph, ", ")+`)`,
		user.ID, user.Email, user.Name, user.Picture,
		formatTime(user.CreatedAt), formatTime(user.LastLogin),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// Update は指定された属性のみをUPDATEし、更新後の行を返す。
// 変更内容が空の場合はUPDATEを発行せず、現在の行を読み出して返す。
func (r *SQLUserRepo) Update(ctx context.Context, id string, changes model.UserChanges) (*model.User, error) {
	attrs := changes.Attributes()
	if len(attrs) == 0 {
		user, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, model.ErrUserNotFound
		}
		return user, nil
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+1)
	for _, name := range names {
		col, ok := userColumns[name]
		if !ok {
			return nil, fmt.Errorf("attribute %q is not updatable", name)
		}
		args = append(args, sqlValue(attrs[name]))
		sets = append(sets, col+" = "+r.dialect.placeholder(len(args)))
	}
	args = append(args, id)

	query := `UPDATE users SET ` + strings.Join(sets, ", ") +
		` WHERE id = ` + r.dialect.placeholder(len(args)) +
		` RETURNING ` + userSelectColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *SQLUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = `+r.dialect.placeholder(1),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// Ping はデータベースへの疎通を確認する。
func (r *SQLUserRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// scanUser は1行をmodel.Userに読み込む。
// 時刻列はドライバ差異を吸収するため文字列で受け取りRFC 3339としてパースする。
func scanUser(row *sql.Row) (*model.User, error) {
	var (
		user                 model.User
		createdAt, lastLogin string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Picture, &createdAt, &lastLogin); err != nil {
		return nil, err
	}

	var err error
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if user.LastLogin, err = parseTime(lastLogin); err != nil {
		return nil, fmt.Errorf("invalid last_login: %w", err)
	}
	return &user, nil
}

func sqlValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatTime(t)
	}
	return v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// compile-time interface check
var _ UserStore = (*SQLUserRepo)(nil)
