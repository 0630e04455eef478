package user

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/authskeleton/internal/model"
)

// --- モック ---

type mockUserRepo struct {
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	deleteByIDFn  func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}
func (m *mockUserRepo) Create(ctx context.Context, user *model.User) (*model.User, error) {
	return user, nil
}
func (m *mockUserRepo) Update(ctx context.Context, id string, changes model.UserChanges) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

// --- テスト ---

// TestService_DeleteByEmail はメールアドレスで見つけたユーザーがIDで削除されることを検証する。
func TestService_DeleteByEmail(t *testing.T) {
	var deletedID string
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			if email != "test@example.com" {
				t.Errorf("email = %q, want %q", email, "test@example.com")
			}
			return &model.User{ID: "user-1", Email: email}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			deletedID = id
			return nil
		},
	}

	svc := NewService(userRepo)

	user, err := svc.DeleteByEmail(context.Background(), "test@example.com")
	if err != nil {
		t.Fatalf("DeleteByEmail returned error: %v", err)
	}
	if user.ID != "user-1" {
		t.Errorf("returned user ID = %q, want %q", user.ID, "user-1")
	}
	if deletedID != "user-1" {
		t.Errorf("DeleteByID called with %q, want %q", deletedID, "user-1")
	}
}

// TestService_DeleteByEmail_UserNotFound は存在しないユーザーの削除がErrUserNotFoundになることを検証する。
func TestService_DeleteByEmail_UserNotFound(t *testing.T) {
	deleteCalled := false
	userRepo := &mockUserRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deleteCalled = true
			return nil
		},
	}

	svc := NewService(userRepo)

	_, err := svc.DeleteByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, model.ErrUserNotFound) {
		t.Fatalf("error = %v, want ErrUserNotFound", err)
	}
	if deleteCalled {
		t.Error("DeleteByID should not be called when the user does not exist")
	}
}

// TestService_DeleteByEmail_StoreErrors はストア障害がラップされて返ることを検証する。
func TestService_DeleteByEmail_StoreErrors(t *testing.T) {
	storeErr := errors.New("connection refused")

	tests := []struct {
		name string
		repo *mockUserRepo
	}{
		{
			name: "検索失敗",
			repo: &mockUserRepo{
				findByEmailFn: func(context.Context, string) (*model.User, error) { return nil, storeErr },
			},
		},
		{
			name: "削除失敗",
			repo: &mockUserRepo{
				findByEmailFn: func(_ context.Context, email string) (*model.User, error) {
					return &model.User{ID: "user-1", Email: email}, nil
				},
				deleteByIDFn: func(context.Context, string) error { return storeErr },
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.repo).DeleteByEmail(context.Background(), "test@example.com")
			if !errors.Is(err, storeErr) {
				t.Errorf("error = %v, want wrapped %v", err, storeErr)
			}
		})
	}
}
